/**
 * Direct Redis Queue Consumer for the configuration extraction worker
 *
 * Compatible with the TypeScript RedisQueue implementation.
 * Uses simple Redis LIST operations for perfect compatibility.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/redis/go-redis/v9"
)

var errNoJobs = fmt.Errorf("no jobs available")

// Keys names the Redis keys of one queue.
type Keys struct {
	Queue      string
	Data       string
	Processing string
	Completed  string
	Failed     string
	Results    string
	Errors     string
	Events     string
}

// KeysFor derives the key set from the queue name.
func KeysFor(queueName string) Keys {
	return Keys{
		Queue:      queueName,
		Data:       queueName + ":data",
		Processing: queueName + ":processing",
		Completed:  queueName + ":completed",
		Failed:     queueName + ":failed",
		Results:    queueName + ":results",
		Errors:     queueName + ":errors",
		Events:     queueName + ":events",
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client    *redis.Client
	processor processor.ExtractionProcessorInterface
	config    *RedisConsumerConfig
	keys      Keys
	logger    *logging.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	Client            *redis.Client // used instead of RedisURL when set
	QueueName         string
	Concurrency       int
	MaxRetries        int
	Processor         processor.ExtractionProcessorInterface
	ProcessingTimeout time.Duration
	Logger            *logging.Logger
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" && cfg.Client == nil {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "configextract:jobs"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	client := cfg.Client
	if client == nil {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client = redis.NewClient(opt)
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:    client,
		processor: cfg.Processor,
		config:    cfg,
		keys:      KeysFor(cfg.QueueName),
		logger:    cfg.Logger,
		ctx:       consumerCtx,
		cancel:    cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	c.logger.Info("Queue consumer started successfully")
	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// worker is a goroutine that processes jobs
func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
			if err := c.processNextJob(); err != nil {
				if err != errNoJobs && c.ctx.Err() == nil {
					log.Error("Worker error", "error", err)
					time.Sleep(1 * time.Second)
				}
			}
		}
	}
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	// Block for up to 5 seconds waiting for a job
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.keys.Queue).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}

	return c.handleJob(result[1])
}

// handleJob processes the job stored under id.
func (c *RedisConsumer) handleJob(id string) error {
	jobData, err := c.client.HGet(c.ctx, c.keys.Data, id).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.markFailed(id, fmt.Errorf("invalid job data: %w", err), 0)
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}
	// the list element is the job's key; older producers omit the id field
	if job.ID == "" {
		job.ID = id
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		c.markFailed(job.Payload.JobID, err, job.Attempts)
		return fmt.Errorf("invalid job payload: %w", err)
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = c.config.MaxRetries
	}

	log := c.logger.With("job", job.Payload.JobID)

	// Idempotent upsert so the row exists even if the producer never wrote it
	if err := c.processor.MarkProcessing(c.ctx, job.Payload.Request()); err != nil {
		log.Warn("Could not record processing status", "error", err)
	}
	c.client.SAdd(c.ctx, c.keys.Processing, job.Payload.JobID)
	c.publish(job.Payload.JobID, "processing")

	log.Info("Processing job", "filename", job.Payload.Filename)

	extraction, err := runJob(c.ctx, c.processor, &job.Payload, c.config.ProcessingTimeout, log)
	if err != nil {
		job.Attempts++
		if retryable(err) && job.Attempts < job.MaxRetries && c.ctx.Err() == nil {
			updatedData, _ := json.Marshal(job)
			c.client.HSet(c.ctx, c.keys.Data, id, updatedData)
			c.client.SRem(c.ctx, c.keys.Processing, job.Payload.JobID)
			c.client.LPush(c.ctx, c.keys.Queue, id)
			log.Warn("Job re-queued for retry", "attempt", job.Attempts, "maxRetries", job.MaxRetries, "error", err)
			return nil
		}

		if ferr := c.processor.FailJob(c.ctx, job.Payload.JobID, err); ferr != nil {
			log.Warn("Failed to record failure", "error", ferr)
		}
		c.markFailed(job.Payload.JobID, err, job.Attempts)
		return nil
	}

	c.markCompleted(job.Payload.JobID, extraction)
	return nil
}

func (c *RedisConsumer) markCompleted(jobID string, result *processor.ExtractionResult) {
	c.client.SRem(c.ctx, c.keys.Processing, jobID)
	c.client.SAdd(c.ctx, c.keys.Completed, jobID)
	if resultData, err := json.Marshal(result); err == nil {
		c.client.HSet(c.ctx, c.keys.Results, jobID, resultData)
	}
	c.publish(jobID, "completed")
}

func (c *RedisConsumer) markFailed(jobID string, cause error, attempts int) {
	c.client.SRem(c.ctx, c.keys.Processing, jobID)
	c.client.SAdd(c.ctx, c.keys.Failed, jobID)
	if errorData, err := json.Marshal(failureDetails(cause, attempts)); err == nil {
		c.client.HSet(c.ctx, c.keys.Errors, jobID, errorData)
	}
	c.publish(jobID, "failed")
}

// publish emits a job event for WebSocket streaming
func (c *RedisConsumer) publish(jobID, status string) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	c.client.Publish(c.ctx, c.keys.Events, eventData)
}

// Stats returns queue statistics
func (c *RedisConsumer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys Keys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.Queue)
	processing := pipe.SCard(ctx, keys.Processing)
	completed := pipe.SCard(ctx, keys.Completed)
	failed := pipe.SCard(ctx, keys.Failed)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
