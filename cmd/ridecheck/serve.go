package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ent0n29/ridecheck/internal/analysis"
	"github.com/ent0n29/ridecheck/internal/config"
	"github.com/ent0n29/ridecheck/internal/httpapi"
	"github.com/ent0n29/ridecheck/internal/inspection"
	"github.com/ent0n29/ridecheck/internal/inspector"
	"github.com/ent0n29/ridecheck/internal/live"
	"github.com/ent0n29/ridecheck/internal/logging"
	"github.com/ent0n29/ridecheck/internal/observability"
	"github.com/ent0n29/ridecheck/internal/reliability"
	"github.com/ent0n29/ridecheck/internal/session"
	"github.com/ent0n29/ridecheck/internal/storage"
	"github.com/ent0n29/ridecheck/internal/transcribe"
	"github.com/ent0n29/ridecheck/internal/transcripts"
)

const janitorInterval = 5 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP and websocket gateway",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files loaded before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.New(cfg.LogLevel, os.Stderr)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	tree, err := inspection.LoadTree(cfg.ChecklistFile)
	if err != nil {
		return err
	}
	guide, err := inspection.LoadGuide(cfg.InstructionsFile)
	if err != nil {
		return err
	}
	labels := inspection.ParseLabels(cfg.CaptureLabels)

	media, err := storage.New(ctx, storage.Options{
		Provider: cfg.StorageProvider,
		S3: storage.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			UsePathStyle:  cfg.S3PathStyle,
			PublicBaseURL: cfg.S3PublicBaseURL,
		},
	})
	if err != nil {
		return fmt.Errorf("storage init failed: %w", err)
	}
	logger.Info("media storage ready", zap.String("provider", media.Name()))

	transcriptStore, err := transcripts.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("transcript store init failed: %w", err)
	}
	defer transcriptStore.Close()

	transcriber, err := transcribe.New(ctx, transcribe.Options{
		Provider:     cfg.TranscribeProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiTranscribeModel,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.OpenAITranscribeModel,
	})
	if err != nil {
		return fmt.Errorf("transcription gateway init failed: %w", err)
	}
	logger.Info("transcription gateway ready", zap.String("provider", transcriber.Name()))

	var analyzer httpapi.Analyzer
	if cfg.GeminiAPIKey != "" {
		a, err := analysis.New(ctx, cfg.GeminiAPIKey, media, analysis.Config{
			AnalysisModel: cfg.GeminiAnalysisModel,
			Labels:        labels,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("analysis init failed: %w", err)
		}
		analyzer = a
	} else {
		logger.Warn("GEMINI_API_KEY is not set; live inspections and analysis are unavailable")
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvent("expired")
		logger.Info("inspection expired", zap.String("session_id", s.ID), zap.String("vehicle_id", s.VehicleID))
	})
	sessions.StartJanitor(ctx, janitorInterval)

	checkpoints := tree.Flatten()
	orchestrator := inspector.New(inspector.Config{
		Live: live.Config{
			APIKey:         cfg.GeminiAPIKey,
			URL:            cfg.GeminiLiveURL,
			Model:          cfg.GeminiLiveModel,
			ConnectTimeout: cfg.LiveConnectTimeout,
			TurnTimeout:    cfg.LiveTurnTimeout,
			Retry: reliability.RetryPolicy{
				BaseDelay:   cfg.LiveReconnectBase,
				Multiplier:  2,
				MaxDelay:    cfg.LiveReconnectMax,
				MaxAttempts: cfg.LiveReconnectMaxAttempts,
			},
		},
		Checkpoints: checkpoints,
		Guide:       guide,
		Labels:      labels,
		Transcriber: transcriber,
		Media:       media,
		Transcripts: transcriptStore,
		Sessions:    sessions,
		Metrics:     metrics,
		Logger:      logger,
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Checkpoints:  checkpoints,
		Labels:       labels,
		Media:        media,
		Transcripts:  transcriptStore,
		Analyzer:     analyzer,
		Logger:       logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.BindAddr),
			zap.Int("checkpoints", len(checkpoints)),
			zap.Int("capture_labels", len(labels)),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}
