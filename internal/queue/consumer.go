/**
 * Asynq Queue Consumer for the configuration extraction worker
 *
 * Alternative to RedisConsumer for deployments that submit work through
 * asynq. Handles the extract-config task type.
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Consumer handles job consumption from an asynq queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	processor processor.ExtractionProcessorInterface
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.ExtractionProcessorInterface
	ProcessingTimeout time.Duration
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := asynq.NewClient(redisOpt)
	logger := cfg.Logger

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger: &asynqLogger{logger: logger.Named("asynq")},
		},
	)

	mux := asynq.NewServeMux()

	consumer := &Consumer{
		client:    client,
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		mux:       mux,
		processor: cfg.Processor,
		config:    cfg,
		logger:    logger,
	}

	mux.HandleFunc(TaskTypeExtractConfig, consumer.handleExtractConfig)

	return consumer, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting asynq consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping asynq consumer")

	c.server.Shutdown()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}
	if err := c.inspector.Close(); err != nil {
		return fmt.Errorf("failed to close inspector: %w", err)
	}

	c.logger.Info("Asynq consumer stopped")
	return nil
}

// Enqueue submits an extraction task to the consumer's queue.
func (c *Consumer) Enqueue(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := NewExtractTask(payload,
		asynq.Queue(c.config.QueueName),
		asynq.MaxRetry(c.config.MaxRetries))
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	c.logger.Debug("Task enqueued", "job", payload.JobID, "task", info.ID, "queue", info.Queue)
	return payload.JobID, nil
}

// handleExtractConfig processes one extraction task
func (c *Consumer) handleExtractConfig(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid job payload: %w: %w", err, asynq.SkipRetry)
	}

	log := c.logger.With("job", payload.JobID)
	log.Info("Processing extraction task",
		"filename", payload.Filename,
		"bytes", len(payload.FileBuffer))

	if err := c.processor.MarkProcessing(ctx, payload.Request()); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	_, err := runJob(ctx, c.processor, &payload, c.config.ProcessingTimeout, log)
	if err == nil {
		return nil
	}

	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	final := !retryable(err) || retryCount >= maxRetry
	if final {
		if ferr := c.processor.FailJob(ctx, payload.JobID, err); ferr != nil {
			log.Warn("Failed to update status to failed", "error", ferr)
		}
	}
	if !retryable(err) {
		return fmt.Errorf("extraction failed: %w: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("extraction failed: %w", err)
}

// Stats reports task counts for the consumer's queue, using the same keys
// as RedisConsumer.Stats where the two backends overlap
func (c *Consumer) Stats(ctx context.Context) (map[string]int64, error) {
	info, err := c.inspector.GetQueueInfo(c.config.QueueName)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		// nothing has been enqueued yet
		return map[string]int64{"waiting": 0, "processing": 0, "retrying": 0, "failed": 0}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return map[string]int64{
		"waiting":    int64(info.Pending + info.Scheduled),
		"processing": int64(info.Active),
		"retrying":   int64(info.Retry),
		"failed":     int64(info.Archived),
		"processed":  int64(info.ProcessedTotal),
	}, nil
}

// retryDelay backs off 5s, 10s, 20s, 40s, then stays at 60s
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	if n >= 4 {
		return 60 * time.Second
	}
	return time.Duration(5<<n) * time.Second
}

// asynqLogger routes asynq's internal logs through the worker logger.
type asynqLogger struct {
	logger *logging.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
	l.logger.Sync()
	os.Exit(1)
}
