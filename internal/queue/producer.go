package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Producer submits extraction jobs in the Redis list protocol that
// RedisConsumer reads.
type Producer struct {
	client     *redis.Client
	keys       Keys
	maxRetries int
}

// NewProducer creates a producer over an existing client.
func NewProducer(client *redis.Client, queueName string, maxRetries int) *Producer {
	if queueName == "" {
		queueName = "configextract:jobs"
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Producer{client: client, keys: KeysFor(queueName), maxRetries: maxRetries}
}

// Enqueue stores the payload and pushes its ID. A missing JobID is filled
// with a new UUID, which is returned.
func (p *Producer) Enqueue(ctx context.Context, payload JobPayload) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	job := RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeExtractConfig,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: p.maxRetries,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.HSet(ctx, p.keys.Data, job.ID, data)
	pipe.LPush(ctx, p.keys.Queue, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Result returns the stored result JSON of a completed job, or the error
// JSON of a failed one. Both are empty while the job is pending.
func (p *Producer) Result(ctx context.Context, jobID string) (result, failure []byte, err error) {
	result, err = p.client.HGet(ctx, p.keys.Results, jobID).Bytes()
	if err != nil && err != redis.Nil {
		return nil, nil, err
	}
	failure, err = p.client.HGet(ctx, p.keys.Errors, jobID).Bytes()
	if err != nil && err != redis.Nil {
		return nil, nil, err
	}
	return result, failure, nil
}

// Stats returns queue counters.
func (p *Producer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// NewExtractTask builds the asynq task Consumer handles.
func NewExtractTask(payload JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeExtractConfig, data, opts...), nil
}
