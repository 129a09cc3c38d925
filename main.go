package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/propdash/propdash/config"
	"github.com/propdash/propdash/internal/bot"
	"github.com/propdash/propdash/internal/download"
	"github.com/propdash/propdash/internal/httpapi"
	"github.com/propdash/propdash/internal/llm"
	"github.com/propdash/propdash/internal/rehab"
	"github.com/propdash/propdash/internal/relay"
	"github.com/propdash/propdash/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	logFileName     = "propdash.log"
	shutdownTimeout = 15 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	closeLog := setupLogging()
	defer closeLog()

	if missing := config.CheckRequired(); len(missing) > 0 {
		log.Fatal().Strs("missing", missing).Msg("missing required config")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
		closeLog()
		os.Exit(1)
	}
	log.Info().Msg("shutdown complete")
}

// setupLogging logs to stderr, and also to a file unless running under
// systemd. The returned function closes the log file.
func setupLogging() func() {
	// JOURNAL_STREAM is set by systemd when running as a service.
	// journald keeps the logs, and ProtectSystem=strict makes the working
	// directory read-only.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return func() {}
	}

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open log file")
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	log.Info().Str("logFile", logFileName).Msg("logging to file")

	var once sync.Once
	return func() { once.Do(func() { logFile.Close() }) }
}

func run(ctx context.Context, cfg *config.Config) error {
	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		return err
	}
	log.Info().Str("model", gemini.Model()).Msg("gemini client initialized")

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	tolerance := rehab.NewTolerance(cfg.ReconcileTolerance, rehab.DefaultAbsoluteTolerance)

	var client rehab.ModelClient = gemini
	if cfg.CacheEnabled {
		pruned, err := store.PruneEstimateCache(time.Now().Add(-llm.DefaultCacheTTL))
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune estimate cache")
		} else if pruned > 0 {
			log.Info().Int64("count", pruned).Msg("pruned expired estimates")
		}
		client = llm.NewCachedClient(gemini, store, tolerance)
		log.Info().Msg("estimate caching enabled")
	}

	opts := []rehab.Option{rehab.WithTolerance(tolerance)}
	if cfg.RetryAttempts > 0 {
		opts = append(opts, rehab.WithRetry(cfg.RetryAttempts, time.Second, 30*time.Second))
	}
	if cfg.RepairAttempt {
		opts = append(opts, rehab.WithRepairAttempt())
	}
	service := rehab.NewService(client, opts...)
	downloader := download.NewImageDownloader()

	var tg *tgbotapi.BotAPI
	if cfg.TelegramBotToken != "" {
		tg, err = tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			return err
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")
	}

	deps := httpapi.Deps{
		Logger:             log.Logger,
		Estimator:          service,
		Downloader:         downloader,
		History:            store,
		EstimateTimeout:    cfg.EstimateTimeout,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}
	// Leave Notifier nil otherwise; the API answers with "not configured".
	if cfg.TelegramConfigured() {
		deps.Notifier = relay.New(tg, cfg.TelegramChatID, store)
		log.Info().Int64("chatId", cfg.TelegramChatID).Msg("notification relay enabled")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.TelegramEstimateBot {
		b := bot.NewBot(tg, service, downloader, cfg.TelegramChatID).WithTimeout(cfg.EstimateTimeout)
		// Registration failure is logged and non-fatal
		_ = bot.RegisterCommands(tg)
		g.Go(func() error {
			return runBot(ctx, tg, b)
		})
	}

	return g.Wait()
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup
	defer b.Shutdown()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
