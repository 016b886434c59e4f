package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_REDIS_URL", "redis://cache:6379/1")

	path := writeConfig(t, `{
		"server": {"port": 9090},
		"database": {"redis": {"url": "${TEST_REDIS_URL}"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Redis.URL != "redis://cache:6379/1" {
		t.Errorf("redis url = %q", cfg.Database.Redis.URL)
	}
}

func TestLoadEnvDefault(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"log_level": "${UNSET_LOG_LEVEL:debug}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("log level = %q, want default", cfg.Server.LogLevel)
	}
}

func TestLoadProviderModel(t *testing.T) {
	path := writeConfig(t, `{
		"providers": [{
			"id": "main",
			"type": "openai",
			"api_key": "k",
			"model": "${UNSET_MODEL:gpt-4o-mini}"
		}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers) != 1 {
		t.Fatalf("providers = %d, want 1", len(cfg.Providers))
	}
	if got := cfg.Providers[0].Model; got != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}
