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
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/rollcall/internal/analysis"
	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/detector"
	"github.com/your-org/rollcall/internal/match"
	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/observability"
	"github.com/your-org/rollcall/internal/queue"
	"github.com/your-org/rollcall/internal/storage"
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

	slog.Info("starting rollcall analysis worker",
		"workers", cfg.Matching.Workers,
		"threshold", cfg.Matching.Threshold,
		"cpu_cores", runtime.NumCPU(),
	)

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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Detector client. A worker with a configured detector must not
	// consume photo tasks before the remote model is loaded.
	det := detector.NewClient(detector.Config{
		BaseURL:      cfg.Detector.BaseURL,
		Timeout:      cfg.Detector.Timeout,
		ReadyTimeout: cfg.Detector.ReadyTimeout,
	})
	if det.Enabled() {
		slog.Info("waiting for face detector", "url", cfg.Detector.BaseURL)
		if err := det.EnsureReady(context.Background()); err != nil {
			slog.Error("face detector not ready", "error", err)
			os.Exit(1)
		}
		slog.Info("face detector ready")
	} else {
		slog.Info("no face detector configured, descriptor submissions only")
	}

	policy, err := match.ParseDuplicatePolicy(cfg.Matching.DuplicatePolicy)
	if err != nil {
		slog.Error("parse duplicate policy", "error", err)
		os.Exit(1)
	}
	matcher := match.NewMatcher(cfg.Matching.Threshold, policy, cfg.Matching.Workers)

	pipeline := analysis.NewPipeline(db, photos, det, matcher, producer)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming analysis tasks
	err = consumer.ConsumeTasks(ctx, "attendance-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.AnalysisTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal analysis task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := pipeline.ProcessTask(ctx, task); err != nil {
			return fmt.Errorf("process session %s: %w", task.SessionID, err)
		}

		return nil
	}, cfg.Matching.Workers)
	if err != nil {
		slog.Error("start task consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
