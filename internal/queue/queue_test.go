package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/errors"
	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/adverant/nexus/configextract-worker/internal/report"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	process func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error)
	marked  []string
	failed  map[string]error
}

func (f *fakeProcessor) ProcessExtraction(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
	return f.process(ctx, req)
}

func (f *fakeProcessor) MarkProcessing(_ context.Context, req *processor.ProcessRequest) error {
	f.marked = append(f.marked, req.JobID)
	return nil
}

func (f *fakeProcessor) FailJob(_ context.Context, jobID string, cause error) error {
	if f.failed == nil {
		f.failed = make(map[string]error)
	}
	f.failed[jobID] = cause
	return nil
}

func okResult(req *processor.ProcessRequest) *processor.ExtractionResult {
	return &processor.ExtractionResult{
		JobID:      req.JobID,
		SourceKind: processor.SourceImage,
		Settings:   extract.ExtractPairs("Mode  Auto"),
	}
}

func TestJobPayloadBase64Buffer(t *testing.T) {
	var p JobPayload
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"j1","filename":"a.png","fileBuffer":"aGVsbG8="}`), &p))
	assert.Equal(t, "j1", p.JobID)
	assert.Equal(t, "a.png", p.Filename)
	assert.Equal(t, []byte("hello"), p.FileBuffer)
}

func TestJobPayloadNodeBuffer(t *testing.T) {
	var p JobPayload
	require.NoError(t, json.Unmarshal([]byte(`{"jobId":"j2","fileBuffer":{"type":"Buffer","data":[104,105]}}`), &p))
	assert.Equal(t, []byte("hi"), p.FileBuffer)
}

func TestJobPayloadRejectsBadBuffers(t *testing.T) {
	cases := map[string]string{
		"bad base64":    `{"jobId":"j","fileBuffer":"%%%"}`,
		"wrong type":    `{"jobId":"j","fileBuffer":{"type":"Blob","data":[1]}}`,
		"missing data":  `{"jobId":"j","fileBuffer":{"type":"Buffer"}}`,
		"out of range":  `{"jobId":"j","fileBuffer":{"type":"Buffer","data":[300]}}`,
		"number buffer": `{"jobId":"j","fileBuffer":42}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var p JobPayload
			assert.Error(t, json.Unmarshal([]byte(raw), &p))
		})
	}
}

func TestJobPayloadMarshalRoundTrip(t *testing.T) {
	in := JobPayload{JobID: "j3", Filename: "clip.mp4", MimeType: "video/mp4", Format: "json", FileBuffer: []byte{0, 1, 2, 255}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"fileBuffer":"AAEC/w=="`)

	var out JobPayload
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestJobPayloadValidateAndRequest(t *testing.T) {
	assert.Error(t, (&JobPayload{FilePath: "/x"}).Validate())
	assert.Error(t, (&JobPayload{JobID: "j"}).Validate())
	assert.Error(t, (&JobPayload{JobID: "j", FilePath: "/x", Format: "docx"}).Validate())
	assert.NoError(t, (&JobPayload{JobID: "j", FilePath: "/x", Format: "yml"}).Validate())

	req := (&JobPayload{JobID: "j", FilePath: "/x", Format: "html"}).Request()
	assert.Equal(t, report.FormatHTML, req.Format)
	assert.Equal(t, "/x", req.FilePath)

	req = (&JobPayload{JobID: "j", FilePath: "/x"}).Request()
	assert.Equal(t, report.Format(""), req.Format)
}

func TestRunJobSuccess(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return okResult(req), nil
	}}

	result, err := runJob(context.Background(), proc, &JobPayload{JobID: "j"}, time.Second, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Settings.Len())
}

func TestRunJobTimeout(t *testing.T) {
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	_, err := runJob(context.Background(), proc, &JobPayload{JobID: "slow"}, 20*time.Millisecond, logging.Nop())
	require.Error(t, err)
	code, ok := errors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorProcessingTimeout, code)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.True(t, retryable(err))
}

func TestRunJobPassesThroughErrors(t *testing.T) {
	want := errors.NewUnsupportedFormatError("j", "text/plain")
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
		return nil, want
	}}

	_, err := runJob(context.Background(), proc, &JobPayload{JobID: "j"}, time.Second, logging.Nop())
	assert.Same(t, want, err)
	assert.False(t, retryable(err))

	details := failureDetails(err, 2)
	assert.Equal(t, "UNSUPPORTED_FORMAT", details["code"])
	assert.Equal(t, 2, details["attempts"])
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(stderrors.New("redis: connection reset")))
	assert.True(t, retryable(errors.NewStorageFailedError("j", nil)))
	assert.False(t, retryable(errors.NewDecodeFailedError("j", "a.png", nil)))
	assert.False(t, retryable(errors.NewFileTooLargeError("j", 10, 5)))
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryDelay(0, nil, nil))
	assert.Equal(t, 20*time.Second, retryDelay(2, nil, nil))
	assert.Equal(t, 40*time.Second, retryDelay(3, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(10, nil, nil))
	assert.Equal(t, 60*time.Second, retryDelay(80, nil, nil))
}

func TestKeysFor(t *testing.T) {
	k := KeysFor("cfg:jobs")
	assert.Equal(t, "cfg:jobs", k.Queue)
	assert.Equal(t, "cfg:jobs:data", k.Data)
	assert.Equal(t, "cfg:jobs:processing", k.Processing)
	assert.Equal(t, "cfg:jobs:results", k.Results)
	assert.Equal(t, "cfg:jobs:events", k.Events)
}

func TestNewExtractTask(t *testing.T) {
	task, err := NewExtractTask(JobPayload{FilePath: "/videos/a.mp4"})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeExtractConfig, task.Type())

	var p JobPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.NotEmpty(t, p.JobID)
	assert.Equal(t, "/videos/a.mp4", p.FilePath)

	_, err = NewExtractTask(JobPayload{})
	assert.Error(t, err)
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	return redis.NewClient(opt)
}

func TestRedisConsumerRoundTrip(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	queueName := "configextract:test:" + time.Now().Format("150405.000000")
	keys := KeysFor(queueName)
	t.Cleanup(func() {
		client.Del(ctx, keys.Queue, keys.Data, keys.Processing, keys.Completed, keys.Failed, keys.Results, keys.Errors)
	})

	producer := NewProducer(client, queueName, 2)
	goodID, err := producer.Enqueue(ctx, JobPayload{Filename: "a.png", FileBuffer: []byte("png")})
	require.NoError(t, err)
	badID, err := producer.Enqueue(ctx, JobPayload{Filename: "b.txt", FileBuffer: []byte("txt")})
	require.NoError(t, err)

	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
		if req.JobID == badID {
			return nil, errors.NewUnsupportedFormatError(req.JobID, "text/plain")
		}
		return okResult(req), nil
	}}

	consumer, err := NewRedisConsumer(&RedisConsumerConfig{
		Client:    client,
		QueueName: queueName,
		Processor: proc,
	})
	require.NoError(t, err)

	require.NoError(t, consumer.processNextJob())
	require.NoError(t, consumer.processNextJob())

	assert.ElementsMatch(t, []string{goodID, badID}, proc.marked)
	assert.Contains(t, proc.failed, badID)

	result, failure, err := producer.Result(ctx, goodID)
	require.NoError(t, err)
	assert.Empty(t, failure)
	assert.Contains(t, string(result), `"settings":{"Mode":"Auto"}`)

	_, failure, err = producer.Result(ctx, badID)
	require.NoError(t, err)
	assert.Contains(t, string(failure), "UNSUPPORTED_FORMAT")

	stats, err := producer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["completed"])
	assert.Equal(t, int64(1), stats["failed"])
	assert.Equal(t, int64(0), stats["waiting"])

	consumerStats, err := consumer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, consumerStats)
}

func TestRedisConsumerRetriesUnderListKey(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	queueName := "configextract:test:retry:" + time.Now().Format("150405.000000")
	keys := KeysFor(queueName)
	t.Cleanup(func() {
		client.Del(ctx, keys.Queue, keys.Data, keys.Processing, keys.Completed, keys.Failed, keys.Results, keys.Errors)
	})

	// stored without an "id" field, keyed only by the list element
	const key = "legacy-job-1"
	stored := `{"type":"extract-config","payload":{"filename":"a.png","fileBuffer":"cG5n"},"maxRetries":3}`
	require.NoError(t, client.HSet(ctx, keys.Data, key, stored).Err())
	require.NoError(t, client.LPush(ctx, keys.Queue, key).Err())

	calls := 0
	proc := &fakeProcessor{process: func(ctx context.Context, req *processor.ProcessRequest) (*processor.ExtractionResult, error) {
		calls++
		assert.Equal(t, key, req.JobID)
		if calls == 1 {
			return nil, stderrors.New("redis: connection reset")
		}
		return okResult(req), nil
	}}
	consumer, err := NewRedisConsumer(&RedisConsumerConfig{Client: client, QueueName: queueName, Processor: proc})
	require.NoError(t, err)

	require.NoError(t, consumer.processNextJob())
	queued, err := client.LRange(ctx, keys.Queue, 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{key}, queued)
	exists, err := client.HExists(ctx, keys.Data, "").Result()
	require.NoError(t, err)
	assert.False(t, exists)

	var job RedisJobData
	data, err := client.HGet(ctx, keys.Data, key).Result()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(data), &job))
	assert.Equal(t, 1, job.Attempts)

	require.NoError(t, consumer.processNextJob())
	assert.Equal(t, 2, calls)
	done, err := client.SIsMember(ctx, keys.Completed, key).Result()
	require.NoError(t, err)
	assert.True(t, done)
}
