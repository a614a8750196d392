package keystore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "keystore.yaml")
	content := `wallets:
  hot-1:
    path: keys/hot-1.json
    passphrase_env: HOT1_PASSPHRASE
  cold-1:
    path: /secure/cold-1.json
    passphrase_env: COLD1_PASSPHRASE
`
	if err := os.WriteFile(manifest, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	entries, err := LoadManifest(manifest)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries["hot-1"].Path != filepath.Join(dir, "keys/hot-1.json") {
		t.Fatalf("relative path not resolved against manifest dir: %s", entries["hot-1"].Path)
	}
	if entries["cold-1"].Path != "/secure/cold-1.json" {
		t.Fatalf("absolute path must be kept as-is: %s", entries["cold-1"].Path)
	}
	if entries["hot-1"].PassphraseEnv != "HOT1_PASSPHRASE" {
		t.Fatalf("unexpected passphrase env: %s", entries["hot-1"].PassphraseEnv)
	}
}

func TestLoadManifestRejectsIncompleteEntries(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing-path":       "wallets:\n  hot-1:\n    passphrase_env: X\n",
		"missing-passphrase": "wallets:\n  hot-1:\n    path: keys/hot-1.json\n",
	}
	for name, content := range cases {
		manifest := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(manifest, []byte(content), 0o600); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
		if _, err := LoadManifest(manifest); err == nil {
			t.Fatalf("%s: incomplete entry must be rejected", name)
		}
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	if _, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing manifest must be an error")
	}
}
