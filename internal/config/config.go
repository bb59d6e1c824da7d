package config

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for the proxy.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	Database  DatabaseConfig  `mapstructure:"database"  toml:"database"`
	Providers ProvidersConfig `mapstructure:"providers" toml:"providers"`
	Budget    BudgetConfig    `mapstructure:"budget"    toml:"budget"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"          toml:"host"`
	Port         int    `mapstructure:"port"          toml:"port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds the SQLite store settings.
type DatabaseConfig struct {
	Path            string `mapstructure:"path"              toml:"path"`
	CacheMaxEntries int    `mapstructure:"cache_max_entries" toml:"cache_max_entries"`
	CacheExpireDays int    `mapstructure:"cache_expire_days" toml:"cache_expire_days"`
}

// ProvidersConfig holds the per-backend credentials and model settings.
type ProvidersConfig struct {
	DeepLAPIKey string `mapstructure:"deepl_api_key" toml:"deepl_api_key"`

	OpenAIAPIKey           string  `mapstructure:"openai_api_key"           toml:"openai_api_key"`
	OpenAITranslationModel string  `mapstructure:"openai_translation_model" toml:"openai_translation_model"`
	OpenAIRefinementModel  string  `mapstructure:"openai_refinement_model"  toml:"openai_refinement_model"`
	OpenAIPriceInput       float64 `mapstructure:"openai_price_input"       toml:"openai_price_input"`
	OpenAIPriceOutput      float64 `mapstructure:"openai_price_output"      toml:"openai_price_output"`

	GoogleCredentials     string  `mapstructure:"google_credentials"             toml:"google_credentials"`
	GoogleProject         string  `mapstructure:"google_project"                 toml:"google_project"`
	GooglePricePerMillion float64 `mapstructure:"google_price_per_million_chars" toml:"google_price_per_million_chars"`

	Timeout int `mapstructure:"timeout" toml:"timeout"` // seconds, per translate call
}

// TimeoutDuration returns the per-backend call timeout as a time.Duration.
func (p ProvidersConfig) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return time.Duration(DefaultProviderTimeout) * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// BudgetConfig holds the daily USD spending limits.
type BudgetConfig struct {
	DailyGoogle float64 `mapstructure:"daily_google" toml:"daily_google"`
	DailyOpenAI float64 `mapstructure:"daily_openai" toml:"daily_openai"`
}

// envBindings maps viper keys to the environment variables the proxy
// documents. These names predate the config file, so they do not follow
// a common prefix.
var envBindings = map[string]string{
	"server.host":                  "API_HOST",
	"server.port":                  "API_PORT",
	"server.log_level":             "LOG_LEVEL",
	"database.path":                "SQLITE_DB_PATH",
	"providers.deepl_api_key":      "DEEPL_API_KEY",
	"providers.openai_api_key":     "OPENAI_API_KEY",
	"providers.google_credentials": "GOOGLE_APPLICATION_CREDENTIALS",
	"providers.google_project":     "GOOGLE_CLOUD_PROJECT",
	"budget.daily_google":          "DAILY_BUDGET_GOOGLE",
	"budget.daily_openai":          "DAILY_BUDGET_OPENAI",
}

// Load reads configuration with the following precedence:
//  1. Environment variables (including any loaded from .env)
//  2. The TOML file at explicitPath if non-empty, else ./lingoproxy.toml
//  3. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	// A .env file in the working directory supplies environment
	// variables without exporting them. Absence is not an error.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("toml")

	setViperDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("lingoproxy")
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file is fine: defaults + env carry the day.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if explicitPath != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var
// binding works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.cache_max_entries", d.Database.CacheMaxEntries)
	v.SetDefault("database.cache_expire_days", d.Database.CacheExpireDays)

	v.SetDefault("providers.deepl_api_key", d.Providers.DeepLAPIKey)
	v.SetDefault("providers.openai_api_key", d.Providers.OpenAIAPIKey)
	v.SetDefault("providers.openai_translation_model", d.Providers.OpenAITranslationModel)
	v.SetDefault("providers.openai_refinement_model", d.Providers.OpenAIRefinementModel)
	v.SetDefault("providers.openai_price_input", d.Providers.OpenAIPriceInput)
	v.SetDefault("providers.openai_price_output", d.Providers.OpenAIPriceOutput)
	v.SetDefault("providers.google_credentials", d.Providers.GoogleCredentials)
	v.SetDefault("providers.google_project", d.Providers.GoogleProject)
	v.SetDefault("providers.google_price_per_million_chars", d.Providers.GooglePricePerMillion)
	v.SetDefault("providers.timeout", d.Providers.Timeout)

	v.SetDefault("budget.daily_google", d.Budget.DailyGoogle)
	v.SetDefault("budget.daily_openai", d.Budget.DailyOpenAI)
}

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// validate rejects configurations that cannot work.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", cfg.Server.Port)
	}

	level := strings.ToLower(cfg.Server.LogLevel)
	valid := false
	for _, l := range ValidLogLevels {
		if level == l {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("config: invalid log level %q", cfg.Server.LogLevel)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("config: database path must not be empty")
	}
	if cfg.Database.CacheExpireDays < 0 {
		return fmt.Errorf("config: cache expire days must be non-negative")
	}
	if cfg.Budget.DailyGoogle < 0 || cfg.Budget.DailyOpenAI < 0 {
		return fmt.Errorf("config: daily budgets must be non-negative")
	}
	return nil
}
