package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validConfig = `
env: dev
general:
  minProfit: 0.01
  maxStake: 1000
  hodlTarget: 0.5
  maxStray: [0.8, 1.2]
  scanIntervalMs: 10000
bitcoinde:
  apiKey: bde-key
  apiSecret: bde-secret
kraken:
  apiKey: kr-key
  apiSecret: kr-secret
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Bitcoinde.APIKey != "bde-key" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	// Defaults survive a file that does not mention them.
	if cfg.Bitcoinde.FeeLessPrice != 0.004 || cfg.Kraken.Fee != 0.002 {
		t.Fatalf("fee defaults not applied: %+v", cfg)
	}
	if cfg.Kraken.Risk != 1 || cfg.Bitcoinde.Risk != 5 {
		t.Fatalf("risk defaults not applied: %+v", cfg)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validConfig)
	t.Setenv("MP_BITCOINDE_API_KEY", "env-key")
	t.Setenv("MP_KRAKEN_API_SECRET", "env-secret")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bitcoinde.APIKey != "env-key" {
		t.Fatalf("bitcoinde override not applied: %+v", cfg.Bitcoinde)
	}
	if cfg.Kraken.APISecret != "env-secret" {
		t.Fatalf("kraken override not applied: %+v", cfg.Kraken)
	}
	if cfg.Kraken.APIKey != "kr-key" {
		t.Fatalf("unset env var must not clobber file value: %+v", cfg.Kraken)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}

	cfg := Default()
	cfg.General.DryRun = true // no credentials needed
	if err := Validate(cfg); err != nil {
		t.Fatalf("dry-run defaults should validate: %v", err)
	}

	cfg.General.HodlTarget = 1
	cfg.General.MaxStray = [2]float64{1.2, 0.8}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for inverted maxStray bounds")
	}

	cfg = Default()
	cfg.General.DryRun = true
	cfg.Telegram.Token = "token-without-chat"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for telegram token without chat id")
	}
}

func TestLoadRejectsMissingCredentials(t *testing.T) {
	path := writeTempConfig(t, `
env: prod
general:
  minProfit: 0.01
  maxStake: 1000
  scanIntervalMs: 10000
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for live config without credentials")
	}
}
