package config

// DefaultHost is the default bind address.
const DefaultHost = "0.0.0.0"

// DefaultPort is the default API port.
const DefaultPort = 8000

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDBPath is the default SQLite database path.
const DefaultDBPath = "./data/lingoproxy.db"

// DefaultCacheExpireDays is the age after which unused cache rows are
// swept.
const DefaultCacheExpireDays = 90

// DefaultCacheMaxEntries is the in-memory cache tier size.
const DefaultCacheMaxEntries = 1024

// DefaultDailyBudgetGoogle is the Google daily budget in USD.
const DefaultDailyBudgetGoogle = 10.0

// DefaultDailyBudgetOpenAI is the combined OpenAI daily budget in USD.
const DefaultDailyBudgetOpenAI = 5.0

// DefaultProviderTimeout is the per-backend call timeout in seconds.
const DefaultProviderTimeout = 30

// DefaultReadTimeout is the HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the HTTP server write timeout in seconds. High
// enough to cover a slow LLM round trip plus refinement.
const DefaultWriteTimeout = 120

// DefaultIdleTimeout is the HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			LogLevel:     DefaultLogLevel,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			CacheMaxEntries: DefaultCacheMaxEntries,
			CacheExpireDays: DefaultCacheExpireDays,
		},
		Providers: ProvidersConfig{
			OpenAITranslationModel: "gpt-4o-mini",
			OpenAIRefinementModel:  "gpt-4o-mini",
			OpenAIPriceInput:       0.15,
			OpenAIPriceOutput:      0.60,
			GooglePricePerMillion:  20.0,
			Timeout:                DefaultProviderTimeout,
		},
		Budget: BudgetConfig{
			DailyGoogle: DefaultDailyBudgetGoogle,
			DailyOpenAI: DefaultDailyBudgetOpenAI,
		},
	}
}
