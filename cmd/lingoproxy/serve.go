package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/lingoproxy/internal/api"
	"github.com/allaspectsdev/lingoproxy/internal/backend"
	"github.com/allaspectsdev/lingoproxy/internal/cache"
	"github.com/allaspectsdev/lingoproxy/internal/config"
	"github.com/allaspectsdev/lingoproxy/internal/costctl"
	"github.com/allaspectsdev/lingoproxy/internal/extdata"
	"github.com/allaspectsdev/lingoproxy/internal/pipeline"
	"github.com/allaspectsdev/lingoproxy/internal/store"
	"github.com/allaspectsdev/lingoproxy/internal/version"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args) //nolint:errcheck

	if err := runServe(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "lingoproxy: %v\n", err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	setupLogger(cfg.Server.LogLevel)
	log.Info().
		Str("version", version.Version).
		Str("db", cfg.Database.Path).
		Msg("lingoproxy starting")

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	translationCache, err := cache.New(st, cfg.Database.CacheMaxEntries)
	if err != nil {
		return err
	}

	cost := costctl.New(st, costctl.Budgets{
		Google: cfg.Budget.DailyGoogle,
		OpenAI: cfg.Budget.DailyOpenAI,
	})

	timeout := cfg.Providers.TimeoutDuration()
	deepl := backend.NewDeepL(cfg.Providers.DeepLAPIKey, "", timeout)
	openai := backend.NewOpenAI(backend.OpenAIConfig{
		APIKey:           cfg.Providers.OpenAIAPIKey,
		TranslationModel: cfg.Providers.OpenAITranslationModel,
		RefinementModel:  cfg.Providers.OpenAIRefinementModel,
		PriceInput:       cfg.Providers.OpenAIPriceInput,
		PriceOutput:      cfg.Providers.OpenAIPriceOutput,
		Timeout:          timeout,
	})
	google := backend.NewGoogle(backend.GoogleConfig{
		CredentialsPath: cfg.Providers.GoogleCredentials,
		ProjectID:       cfg.Providers.GoogleProject,
		PricePerMillion: cfg.Providers.GooglePricePerMillion,
		Timeout:         timeout,
	})
	cost.SetGooglePricePerMillion(cfg.Providers.GooglePricePerMillion)

	translator := pipeline.New(translationCache, cost, deepl, openai, google)

	// External data refresh runs off the request path.
	external := extdata.NewService(st, "")
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	go func() {
		external.Initialize(rootCtx)
		pricing := external.Pricing()
		cost.SetGooglePricePerMillion(pricing.GooglePricePerMillionChars)
		google.SetPricePerMillion(pricing.GooglePricePerMillionChars)
	}()

	// Hot-reload budget limits when the config file changes.
	if cf := config.ConfigFilePath(); cf != "" {
		watcher, err := config.Watch(cf)
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, new *config.Config) {
				cost.SetBudgets(costctl.Budgets{
					Google: new.Budget.DailyGoogle,
					OpenAI: new.Budget.DailyOpenAI,
				})
			})
		}
	}

	handlers := api.NewHandlers(translator, cost, st)
	server := api.NewServer(handlers, cfg.Server.Addr(),
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		time.Duration(cfg.Server.IdleTimeout)*time.Second,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	rootCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info().Msg("lingoproxy stopped")
	return nil
}

// setupLogger configures the global zerolog logger for console output.
func setupLogger(level string) {
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}).With().Timestamp().Str("service", "lingoproxy").Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
