package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentguard.json", `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected default address: %s", cfg.Server.Address)
	}
	if cfg.Storage.ExecutionStore.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected default drivers: %+v", cfg)
	}
	if cfg.Pipeline.Workers != 4 || cfg.Pipeline.MaxRetries != 3 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Files.Policies != filepath.Join(dir, "policies.yaml") {
		t.Fatalf("policy path must resolve against the config dir: %s", cfg.Files.Policies)
	}
}

func TestLoadResolvesRelativeFilePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentguard.json", `{
		"files": {"chains": "sub/chains.yaml", "wallets": "/abs/wallets.yaml"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Files.Chains != filepath.Join(dir, "sub/chains.yaml") {
		t.Fatalf("relative path not resolved: %s", cfg.Files.Chains)
	}
	if cfg.Files.Wallets != "/abs/wallets.yaml" {
		t.Fatalf("absolute path must be kept: %s", cfg.Files.Wallets)
	}
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agentguard.json", `{broken`)
	if _, err := Load(path); err == nil {
		t.Fatal("broken json must be rejected")
	}
	if _, err := Load(filepath.Join(dir, "absent.json")); err == nil {
		t.Fatal("missing file must be rejected")
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", `
spend_limit:
  enabled: true
  max: "1000000000000000000"
  window: 1h
rate_limit:
  enabled: true
  max_per_minute: 10
whitelist:
  enabled: true
  targets:
    - native_transfer
    - "0xTOKEN"
`)

	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}

	max, err := policies.SpendLimitMax()
	if err != nil {
		t.Fatalf("limit max: %v", err)
	}
	if max.String() != "1000000000000000000" {
		t.Fatalf("unexpected max: %s", max)
	}

	window, err := policies.SpendLimitWindow()
	if err != nil {
		t.Fatalf("limit window: %v", err)
	}
	if window != time.Hour {
		t.Fatalf("unexpected window: %s", window)
	}

	if !policies.RateLimit.Enabled || policies.RateLimit.MaxPerMinute != 10 {
		t.Fatalf("unexpected rate limit: %+v", policies.RateLimit)
	}
	if len(policies.Whitelist.Targets) != 2 {
		t.Fatalf("unexpected whitelist: %+v", policies.Whitelist)
	}
}

func TestLoadPoliciesDefaultsWindow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "policies.yaml", `
spend_limit:
  enabled: true
  max: "100"
`)
	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load policies: %v", err)
	}
	window, err := policies.SpendLimitWindow()
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if window != 24*time.Hour {
		t.Fatalf("expected 24h default, got %s", window)
	}
}

func TestLoadPoliciesValidation(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"float max":    "spend_limit:\n  enabled: true\n  max: \"1.5\"\n",
		"zero max":     "spend_limit:\n  enabled: true\n  max: \"0\"\n",
		"bad window":   "spend_limit:\n  enabled: true\n  max: \"10\"\n  window: yesterday\n",
		"bad ratelimit": "rate_limit:\n  enabled: true\n  max_per_minute: 0\n",
	}
	for name, content := range cases {
		path := writeFile(t, dir, "p.yaml", content)
		if _, err := LoadPolicies(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
