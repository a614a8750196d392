package keystore

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type manifestFile struct {
	Wallets map[string]manifestEntry `yaml:"wallets"`
}

type manifestEntry struct {
	Path          string `yaml:"path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// LoadManifest parses a YAML manifest mapping wallet IDs to encrypted
// keystore files. Relative key paths resolve against the manifest's
// own directory.
func LoadManifest(path string) (map[string]FileEntry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore manifest: %w", err)
	}
	var m manifestFile
	if err := yaml.Unmarshal(content, &m); err != nil {
		return nil, fmt.Errorf("parse keystore manifest: %w", err)
	}

	baseDir := filepath.Dir(path)
	entries := make(map[string]FileEntry, len(m.Wallets))
	for walletID, entry := range m.Wallets {
		if entry.Path == "" {
			return nil, fmt.Errorf("keystore manifest: wallet %q has no path", walletID)
		}
		if entry.PassphraseEnv == "" {
			return nil, fmt.Errorf("keystore manifest: wallet %q has no passphrase_env", walletID)
		}
		keyPath := entry.Path
		if !filepath.IsAbs(keyPath) {
			keyPath = filepath.Join(baseDir, keyPath)
		}
		entries[walletID] = FileEntry{Path: keyPath, PassphraseEnv: entry.PassphraseEnv}
	}
	return entries, nil
}
