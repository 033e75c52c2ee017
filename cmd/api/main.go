package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/rollcall/internal/api"
	"github.com/your-org/rollcall/internal/api/ws"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/notify"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
	"github.com/your-org/rollcall/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting rollcall API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	photos, err := storage.NewPhotoStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := photos.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Detector client; image-based face registration stays 503 until it
	// reports ready.
	det := detector.NewClient(detector.Config{
		BaseURL:      cfg.Detector.BaseURL,
		Timeout:      cfg.Detector.Timeout,
		ReadyTimeout: cfg.Detector.ReadyTimeout,
	})
	if det.Enabled() {
		go func() {
			if err := det.EnsureReady(ctx); err != nil {
				slog.Warn("face detector not ready, image registration unavailable", "error", err)
			}
		}()
	}

	// WebSocket hub and waiting-request notifier
	hub := ws.NewHub()
	go hub.Run()
	notifier := notify.NewNotifier()

	// Consume analysis results: resolve waiters, broadcast via WebSocket
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create result consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeResults(ctx, "api-results", func(ctx context.Context, msg jetstream.Msg) error {
		var result models.AnalysisResult
		if err := json.Unmarshal(msg.Data(), &result); err != nil {
			return err
		}

		notifier.Resolve(&result)

		evtType := "attendance_completed"
		if result.Status == models.SessionStatusFailed {
			evtType = "attendance_failed"
		}
		hub.BroadcastEvent(&dto.WSEvent{
			Type:    evtType,
			ClassID: result.ClassID,
			Data: dto.WaitResponse{
				SessionID:    result.SessionID,
				Status:       string(result.Status),
				RecordID:     result.RecordID,
				PresentCount: result.PresentCount,
				AbsentCount:  result.AbsentCount,
				UnknownCount: result.UnknownCount,
				ErrorMessage: result.ErrorMessage,
			},
		})

		return nil
	})
	if err != nil {
		slog.Warn("start result consumer", "error", err)
	}

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		Photos:       photos,
		Producer:     producer,
		Notifier:     notifier,
		Hub:          hub,
		Detector:     det,
		EmbeddingDim: cfg.Matching.EmbeddingDim,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Must outlive the longest allowed /wait block (2m).
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
