package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Brownie44l1/xray-bot/internal/config"
	"github.com/Brownie44l1/xray-bot/internal/dispatch"
	"github.com/Brownie44l1/xray-bot/internal/feedback"
	"github.com/Brownie44l1/xray-bot/internal/handlers"
	"github.com/Brownie44l1/xray-bot/internal/imaging"
	"github.com/Brownie44l1/xray-bot/internal/model"
	"github.com/Brownie44l1/xray-bot/internal/session"
	"github.com/Brownie44l1/xray-bot/internal/telegram"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bot terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & Logger
	cfg, err := config.Load()
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Model
	classifier, err := model.NewClassifier(log, model.Options{
		ModelPath:     cfg.ModelPath,
		MetadataPath:  cfg.ModelMetadataPath,
		SharedLibrary: cfg.OnnxRuntimeLib,
	})
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to load classifier: %w", err)
	}
	defer classifier.Close()
	normalizer := imaging.NewNormalizer(classifier.Metadata.ImageSize)

	// 3. Stores
	sessions, closeSessions, err := openSessions(ctx, log, cfg)
	if err != nil {
		return exitRuntime, err
	}
	defer closeSessions()

	feedbackLog, closeFeedback, err := openFeedback(log, cfg)
	if err != nil {
		return exitRuntime, err
	}
	defer closeFeedback()

	// 4. Transport & conversation
	api := telegram.NewAPI(&http.Client{Timeout: cfg.TelegramPollTimeout + 30*time.Second},
		cfg.TelegramBaseURL, cfg.TelegramToken)
	gateway := telegram.NewGateway(api, log, cfg.MaxFileBytes)
	handler := handlers.NewHandler(log, gateway, sessions, normalizer, classifier, feedbackLog, cfg.AnalysisTimeout)

	dispatcher := dispatch.New(ctx, log, cfg.WorkerQueueSize, cfg.WorkerIdleTimeout)
	poller := telegram.NewPoller(api, log, dispatcher, handler, cfg.TelegramPollTimeout)

	errChan := make(chan error, 1)
	go func() {
		log.Info("Bot started",
			"session_backend", cfg.SessionBackend,
			"feedback_backend", cfg.FeedbackBackend,
			"analysis_timeout", cfg.AnalysisTimeout)
		if err := poller.Run(ctx); err != nil {
			errChan <- fmt.Errorf("poller error: %w", err)
		}
	}()

	// 5. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		dispatcher.Stop()
		return exitRuntime, err
	}

	dispatcher.Stop()
	log.Info("Bot stopped cleanly")
	return exitOK, nil
}

func openSessions(ctx context.Context, log *slog.Logger, cfg config.Config) (session.Store, func(), error) {
	switch cfg.SessionBackend {
	case config.BackendBadger:
		db, err := session.OpenBadger(cfg.SessionBadgerPath)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			log.Info("Closing session database...")
			_ = db.Close()
		}
		return session.NewBadgerStore(db, log, cfg.SessionTTL), closeDB, nil
	default:
		store := session.NewMemoryStore(log, cfg.SessionTTL)
		go func() { _ = store.Run(ctx, cfg.SessionSweepInterval) }()
		return store, func() {}, nil
	}
}

func openFeedback(log *slog.Logger, cfg config.Config) (feedback.Log, func(), error) {
	switch cfg.FeedbackBackend {
	case config.BackendBadger:
		db, err := badger.Open(badger.DefaultOptions(cfg.FeedbackBadgerPath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open feedback database: %w", err)
		}
		closeDB := func() {
			log.Info("Closing feedback database...")
			_ = db.Close()
		}
		return feedback.NewBadgerLog(db), closeDB, nil
	default:
		return feedback.NewFileLog(cfg.FeedbackPath), func() {}, nil
	}
}
