package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != DefaultPort {
		t.Errorf("Port: got %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if cfg.Server.Addr() != "0.0.0.0:8000" {
		t.Errorf("Addr: got %q", cfg.Server.Addr())
	}
	if cfg.Budget.DailyGoogle != 10.0 {
		t.Errorf("DailyGoogle: got %g, want 10", cfg.Budget.DailyGoogle)
	}
	if cfg.Budget.DailyOpenAI != 5.0 {
		t.Errorf("DailyOpenAI: got %g, want 5", cfg.Budget.DailyOpenAI)
	}
	if cfg.Database.CacheExpireDays != 90 {
		t.Errorf("CacheExpireDays: got %d, want 90", cfg.Database.CacheExpireDays)
	}
	if cfg.Providers.OpenAITranslationModel != "gpt-4o-mini" {
		t.Errorf("OpenAITranslationModel: got %q", cfg.Providers.OpenAITranslationModel)
	}

	if err := validate(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEEPL_API_KEY", "test-deepl-key")
	t.Setenv("API_PORT", "9100")
	t.Setenv("DAILY_BUDGET_GOOGLE", "2.5")
	t.Setenv("SQLITE_DB_PATH", "/tmp/test.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.DeepLAPIKey != "test-deepl-key" {
		t.Errorf("DeepLAPIKey: got %q", cfg.Providers.DeepLAPIKey)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Port: got %d, want 9100", cfg.Server.Port)
	}
	if cfg.Budget.DailyGoogle != 2.5 {
		t.Errorf("DailyGoogle: got %g, want 2.5", cfg.Budget.DailyGoogle)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path: got %q", cfg.Database.Path)
	}

	// The loaded config is published globally.
	if Get().Server.Port != 9100 {
		t.Errorf("Get().Server.Port: got %d", Get().Server.Port)
	}
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lingoproxy.toml")
	content := `
[server]
port = 9200
log_level = "debug"

[budget]
daily_openai = 1.25
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("Port: got %d, want 9200", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q", cfg.Server.LogLevel)
	}
	if cfg.Budget.DailyOpenAI != 1.25 {
		t.Errorf("DailyOpenAI: got %g", cfg.Budget.DailyOpenAI)
	}
	// Unset keys keep their defaults.
	if cfg.Budget.DailyGoogle != DefaultDailyBudgetGoogle {
		t.Errorf("DailyGoogle: got %g, want default", cfg.Budget.DailyGoogle)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lingoproxy.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 9200\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("API_PORT", "9300")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9300 {
		t.Errorf("env should beat file: got %d, want 9300", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"negative expire days", func(c *Config) { c.Database.CacheExpireDays = -1 }},
		{"negative budget", func(c *Config) { c.Budget.DailyOpenAI = -1 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(cfg)
			if err := validate(cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestExportConfig(t *testing.T) {
	set(DefaultConfig())
	path := filepath.Join(t.TempDir(), "export.toml")
	if err := ExportConfig(path); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}
