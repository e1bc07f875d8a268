package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/callbot/callbot/internal/api"
	"github.com/callbot/callbot/internal/calling"
	"github.com/callbot/callbot/internal/client"
	"github.com/callbot/callbot/internal/config"
	"github.com/callbot/callbot/internal/contracts"
	"github.com/callbot/callbot/internal/history"
	"github.com/callbot/callbot/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	if cfg.PublicURL == "" {
		slog.Error("public-url is required: the platform must be able to reach the webhook endpoints")
		os.Exit(1)
	}

	slog.Info("starting callbot",
		"http_port", cfg.HTTPPort,
		"public_url", cfg.PublicURL,
		"data_dir", cfg.DataDir,
	)

	// Open the call history store and run migrations.
	var store *history.Store
	if cfg.HistoryDSN != "" {
		store, err = history.OpenPostgres(cfg.HistoryDSN)
	} else {
		store, err = history.Open(cfg.DataDir)
	}
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	secret, err := cfg.SigningSecretBytes()
	if err != nil {
		slog.Error("failed to decode signing secret", "error", err)
		os.Exit(1)
	}

	bot := calling.NewBotService(calling.Settings{
		CallbackURL:     cfg.CallbackURL(),
		NotificationURL: cfg.NotificationURL(),
		JoinURL:         cfg.JoinURL(),
		AnswerTimeout:   cfg.AnswerTimeout,
	}, autoAnswerHandlers(logger), client.New(secret, logger), store, logger)

	prometheus.MustRegister(metrics.NewCollector(bot, store, time.Now()))

	handler := api.NewServer(bot, logger)
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callbot stopped")
}

// defaultMediaConfiguration is the app-hosted media blob handed to the
// platform on answer. A production bot replaces this with the settings of
// its actual media stack.
var defaultMediaConfiguration = json.RawMessage(`{"audioSocket":{"host":"127.0.0.1","port":5600}}`)

// autoAnswerHandlers returns a callback table that answers every incoming
// call with app-hosted audio and logs the call lifecycle. It serves as the
// default behavior for the standalone binary; library consumers supply
// their own table.
func autoAnswerHandlers(logger *slog.Logger) calling.Handlers {
	return calling.Handlers{
		IncomingCall: func(ctx context.Context, ev *calling.IncomingCallEvent) error {
			logger.Info("incoming call",
				"call_leg_id", ev.Conversation.ID,
				"participants", len(ev.Conversation.Participants),
			)
			ev.Answer(defaultMediaConfiguration)
			return nil
		},
		AnswerCompleted: func(ctx context.Context, ev *calling.OutcomeEvent) (*contracts.Workflow, error) {
			if ev.Result.OperationOutcome.Succeeded() {
				logger.Info("call answered", "call_leg_id", ev.Result.ID)
			} else {
				logger.Warn("answer failed",
					"call_leg_id", ev.Result.ID,
					"reason", ev.Result.OperationOutcome.FailureReason,
				)
			}
			return ev.Workflow, nil
		},
		JoinCompleted: func(ctx context.Context, ev *calling.OutcomeEvent) (*contracts.Workflow, error) {
			if ev.Result.OperationOutcome.Succeeded() {
				logger.Info("call joined", "call_leg_id", ev.Result.ID)
			} else {
				logger.Warn("join failed",
					"call_leg_id", ev.Result.ID,
					"reason", ev.Result.OperationOutcome.FailureReason,
				)
			}
			return ev.Workflow, nil
		},
		WorkflowValidationFailed: func(ctx context.Context, ev *calling.OutcomeEvent) (*contracts.Workflow, error) {
			logger.Error("platform rejected workflow",
				"call_leg_id", ev.Result.ID,
				"reason", ev.Result.OperationOutcome.FailureReason,
			)
			return ev.Workflow, nil
		},
		CallStateChanged: func(ctx context.Context, n *contracts.CallStateChangeNotification) error {
			logger.Info("call state changed",
				"call_leg_id", n.CallID(),
				"state", n.CurrentState,
			)
			return nil
		},
		Cleanup: func(ctx context.Context) error {
			// The default bot holds no per-call media resources.
			return nil
		},
	}
}
