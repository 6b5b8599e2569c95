package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/errors"
	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/adverant/nexus/configextract-worker/internal/report"
)

// TaskTypeExtractConfig is the asynq task type for extraction jobs.
const TaskTypeExtractConfig = "extract-config"

// DefaultProcessingTimeout bounds a single job.
const DefaultProcessingTimeout = 5 * time.Minute

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string `json:"jobId"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mimeType,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	Format     string `json:"format,omitempty"`
	FileBuffer []byte `json:"fileBuffer,omitempty"` // base64 on the wire
}

// UnmarshalJSON implements custom JSON unmarshaling for JobPayload to handle Buffer serialization
// Supports both base64 string format and Node.js Buffer object format
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		// {"type":"Buffer","data":[...]} as produced by Buffer.toJSON()
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the payload carries a job ID and a file source.
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.FileBuffer) == 0 && p.FilePath == "" {
		return fmt.Errorf("job %s has neither fileBuffer nor filePath", p.JobID)
	}
	if p.Format != "" {
		if _, err := report.ParseFormat(p.Format); err != nil {
			return err
		}
	}
	return nil
}

// Request converts the payload to processor format.
func (p *JobPayload) Request() *processor.ProcessRequest {
	req := &processor.ProcessRequest{
		JobID:      p.JobID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileBuffer: p.FileBuffer,
		FilePath:   p.FilePath,
	}
	if f, err := report.ParseFormat(p.Format); err == nil {
		req.Format = f
	}
	return req
}

// runJob processes one payload under a timeout. A deadline hit becomes a
// PROCESSING_TIMEOUT error.
func runJob(ctx context.Context, proc processor.ExtractionProcessorInterface, payload *JobPayload, timeout time.Duration, log *logging.Logger) (*processor.ExtractionResult, error) {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	log = log.With("job", payload.JobID)
	log.Debug("Processing timeout set", "timeout", timeout)

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	result, err := proc.ProcessExtraction(processCtx, payload.Request())
	duration := time.Since(startTime)

	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded {
			log.Warn("Processing timed out", "duration", duration, "timeout", timeout)
			return nil, errors.NewProcessingTimeoutError(payload.JobID, timeout, err)
		}
		log.Error("Processing failed", "duration", duration, "error", err)
		return nil, err
	}

	if result.Empty() {
		log.Info("Job completed, no key/value pairs found", "duration", duration)
	} else {
		log.Info("Job completed", "duration", duration, "settings", result.Settings.Len())
	}
	return result, nil
}

// failureDetails is what gets stored in the :errors hash.
func failureDetails(err error, attempts int) map[string]interface{} {
	details := map[string]interface{}{
		"error":    err.Error(),
		"attempts": attempts,
	}
	if code, ok := errors.CodeOf(err); ok {
		details["code"] = string(code)
	}
	return details
}

// retryable reports whether a failed job is worth re-queueing. Bad input
// fails the same way every time.
func retryable(err error) bool {
	return errors.IsRetryable(err)
}
