/**
 * Configuration Extraction Worker - Main Entry Point
 *
 * Go worker that reads configuration settings out of screenshots and screen
 * recordings.
 *
 * Architecture:
 * - Redis list or asynq consumer for the job queue
 * - Frame sampling via ffmpeg, one frame every few seconds
 * - Binarization + Tesseract OCR per frame
 * - Option/value pair extraction into an ordered mapping
 * - Optional PostgreSQL persistence of results
 * - Prometheus metrics on METRICS_ADDR
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/config"
	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/metrics"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/adverant/nexus/configextract-worker/internal/queue"
	"github.com/adverant/nexus/configextract-worker/internal/recognizer"
	"github.com/adverant/nexus/configextract-worker/internal/report"
	"github.com/adverant/nexus/configextract-worker/internal/sampler"
	"github.com/adverant/nexus/configextract-worker/internal/storage"
)

// consumer is the part of both queue backends main needs.
type consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats(ctx context.Context) (map[string]int64, error)
}

// redisConsumer adapts RedisConsumer's context-free lifecycle.
type redisConsumer struct{ *queue.RedisConsumer }

func (r redisConsumer) Start(context.Context) error { return r.RedisConsumer.Start() }
func (r redisConsumer) Stop(context.Context) error  { return r.RedisConsumer.Stop() }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New("worker", logging.Options{Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Configuration extraction worker starting",
		"queue", cfg.QueueName,
		"backend", cfg.QueueBackend,
		"workers", cfg.WorkerConcurrency,
		"interval", cfg.SampleIntervalSeconds,
		"threshold", cfg.BinarizeThreshold)

	// Optional PostgreSQL persistence
	var (
		pg    *storage.PostgresClient
		store storage.Store
	)
	if cfg.DatabaseURL != "" {
		pg, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer pg.Close()

		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pg.Migrate(migrateCtx)
		cancel()
		if err != nil {
			return err
		}
		store = pg
		logger.Info("PostgreSQL storage enabled")
	} else {
		logger.Warn("DATABASE_URL not set, results are kept in Redis only")
	}

	m := metrics.NewMetrics(nil)

	engine := recognizer.NewTesseractEngine(&recognizer.TesseractConfig{
		PreserveInterwordSpaces: cfg.PreserveInterword,
	})
	rec := recognizer.New(engine, recognizer.Options{
		Threshold: uint8(cfg.BinarizeThreshold),
		Logger:    logger.Named("recognizer"),
	})

	format, err := report.ParseFormat(cfg.ReportFormat)
	if err != nil {
		return err
	}

	proc, err := processor.NewExtractionProcessor(&processor.ProcessorConfig{
		Recognizer: rec,
		Sampler: sampler.New(sampler.Options{
			Interval:        cfg.SampleIntervalSeconds,
			SkipSimilar:     cfg.SkipSimilarFrames,
			MaxHashDistance: cfg.SimilarFrameDistance,
			Logger:          logger.Named("sampler"),
		}),
		FFmpeg:         sampler.FFmpegOptions{FFmpegPath: cfg.FFmpegPath},
		TempDir:        cfg.TempDir,
		MaxFileSize:    cfg.MaxFileSize,
		ReportFormat:   format,
		StorageManager: storage.NewStorageManager(store),
		Metrics:        m,
		Logger:         logger.Named("processor"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	if err := proc.CheckEngine(checkCtx); err != nil {
		logger.Warn("OCR engine check failed, every image will yield empty text", "error", err)
	} else {
		logger.Info("OCR engine ready", "engine", engine.Name(), "version", engine.Version())
	}
	cancelCheck()

	timeout := time.Duration(cfg.ProcessingTimeout) * time.Millisecond
	var qc consumer
	switch cfg.QueueBackend {
	case "asynq":
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			MaxRetries:        cfg.MaxRetries,
			Processor:         proc,
			ProcessingTimeout: timeout,
			Logger:            logger.Named("queue"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
		qc = c
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			MaxRetries:        cfg.MaxRetries,
			Processor:         proc,
			ProcessingTimeout: timeout,
			Logger:            logger.Named("queue"),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
		qc = redisConsumer{c}
	}

	srv := newHTTPServer(cfg.MetricsAddr, m, pg, qc)
	go func() {
		logger.Info("Serving metrics", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "error", err)
		}
	}()

	if err := qc.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	logger.Info("Worker ready, waiting for jobs")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
	defer cancel()

	if err := qc.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping metrics server", "error", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

func newHTTPServer(addr string, m *metrics.Metrics, db *storage.PostgresClient, qc consumer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := healthCheck(r.Context(), db); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := workerStats(r.Context(), qc, db)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// workerStats combines queue counters with the database pool state.
func workerStats(ctx context.Context, qc consumer, db *storage.PostgresClient) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	queueStats, err := qc.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{"queue": queueStats}
	if db != nil {
		pool := db.GetStats()
		stats["database"] = map[string]interface{}{
			"open":    pool.OpenConnections,
			"in_use":  pool.InUse,
			"idle":    pool.Idle,
			"wait":    pool.WaitCount,
			"wait_ms": pool.WaitDuration.Milliseconds(),
		}
	}
	return stats, nil
}

// healthCheck pings the database when one is configured.
func healthCheck(ctx context.Context, db *storage.PostgresClient) error {
	if db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
