/**
 * Storage Manager for the configuration extraction worker
 *
 * Coordinates job status and extraction writes so a completed job always has
 * its extraction stored first.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	workerrors "github.com/adverant/nexus/configextract-worker/internal/errors"
	"github.com/adverant/nexus/configextract-worker/internal/extract"
)

// StorageManager wraps a Store. A nil *StorageManager or one without a
// Store is valid and persists nothing.
type StorageManager struct {
	store Store
}

// Completion describes a finished extraction job.
type Completion struct {
	JobID            string
	Filename         string
	MimeType         string
	FileSize         int64
	SourceKind       string
	Mapping          *extract.Mapping
	Diagnostics      extract.Diagnostics
	FramesProcessed  int
	ReportFormat     string
	Report           string
	ProcessingTimeMs int64
}

// NewStorageManager creates a manager over store, which may be nil.
func NewStorageManager(store Store) *StorageManager {
	return &StorageManager{store: store}
}

// Enabled reports whether writes reach a database.
func (sm *StorageManager) Enabled() bool {
	return sm != nil && sm.store != nil
}

// MarkProcessing records that a worker picked the job up.
func (sm *StorageManager) MarkProcessing(ctx context.Context, jobID, filename, mimeType string, size int64) error {
	if !sm.Enabled() {
		return nil
	}
	return sm.store.UpdateJobStatus(ctx, &JobUpdate{
		JobID:    jobID,
		Status:   "processing",
		Filename: filename,
		MimeType: mimeType,
		FileSize: size,
	})
}

// Complete stores the extraction and then marks the job completed. If the
// extraction cannot be stored the job is marked failed instead.
func (sm *StorageManager) Complete(ctx context.Context, c *Completion) (string, error) {
	if !sm.Enabled() {
		return "", nil
	}

	recordID, err := sm.store.StoreExtraction(ctx, &ExtractionRecord{
		JobID:           c.JobID,
		Pairs:           c.Mapping.Pairs(),
		Diagnostics:     c.Diagnostics,
		FramesProcessed: c.FramesProcessed,
		ReportFormat:    c.ReportFormat,
		Report:          c.Report,
	})
	if err != nil {
		storeErr := workerrors.NewStorageFailedError(c.JobID, err)
		if failErr := sm.Fail(ctx, c.JobID, storeErr); failErr != nil {
			return "", fmt.Errorf("%w (also failed to mark job failed: %v)", storeErr, failErr)
		}
		return "", storeErr
	}

	err = sm.store.UpdateJobStatus(ctx, &JobUpdate{
		JobID:            c.JobID,
		Status:           "completed",
		Filename:         c.Filename,
		MimeType:         c.MimeType,
		FileSize:         c.FileSize,
		SourceKind:       c.SourceKind,
		PairCount:        c.Mapping.Len(),
		ProcessingTimeMs: c.ProcessingTimeMs,
		Metadata: map[string]interface{}{
			"extractionId":    recordID,
			"framesProcessed": c.FramesProcessed,
			"linesDiscarded":  c.Diagnostics.TotalDiscarded(),
		},
	})
	if err != nil {
		return recordID, workerrors.NewStorageFailedError(c.JobID, err)
	}
	return recordID, nil
}

// Fail marks the job failed. ProcessingError details are kept in metadata.
func (sm *StorageManager) Fail(ctx context.Context, jobID string, cause error) error {
	if !sm.Enabled() {
		return nil
	}

	update := &JobUpdate{
		JobID:        jobID,
		Status:       "failed",
		ErrorMessage: cause.Error(),
	}
	if code, ok := workerrors.CodeOf(cause); ok {
		update.ErrorCode = string(code)
	}
	var perr *workerrors.ProcessingError
	if errors.As(cause, &perr) {
		update.Metadata = map[string]interface{}{"error": perr.ToMap()}
	}
	return sm.store.UpdateJobStatus(ctx, update)
}

// GetExtraction reads a stored extraction back.
func (sm *StorageManager) GetExtraction(ctx context.Context, jobID string) (*ExtractionRecord, error) {
	if !sm.Enabled() {
		return nil, fmt.Errorf("storage is disabled")
	}
	return sm.store.GetExtraction(ctx, jobID)
}

func encodeJSONB(v map[string]interface{}) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(sanitizeValue(v))
}

func encodeExtraction(rec *ExtractionRecord) (pairsJSON, diagJSON []byte, err error) {
	pairs := make([]extract.Pair, len(rec.Pairs))
	for i, p := range rec.Pairs {
		pairs[i] = extract.Pair{Option: sanitizeText(p.Option), Value: sanitizeText(p.Value)}
	}
	if pairsJSON, err = json.Marshal(pairs); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal pairs: %w", err)
	}
	if diagJSON, err = json.Marshal(rec.Diagnostics); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	return pairsJSON, diagJSON, nil
}

func decodeExtraction(rec *ExtractionRecord, pairsJSON, diagJSON []byte) error {
	if err := json.Unmarshal(pairsJSON, &rec.Pairs); err != nil {
		return fmt.Errorf("failed to unmarshal pairs: %w", err)
	}
	if len(diagJSON) > 0 {
		if err := json.Unmarshal(diagJSON, &rec.Diagnostics); err != nil {
			return fmt.Errorf("failed to unmarshal diagnostics: %w", err)
		}
	}
	return nil
}

// sanitizeText drops NUL, which neither TEXT nor JSONB can hold, and turns
// the other C0 control characters OCR sometimes emits into spaces. Tabs and
// line breaks are kept.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == 0:
			return -1
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20:
			return ' '
		}
		return r
	}, s)
}

// sanitizeValue applies sanitizeText to every string in a metadata tree
// before it is encoded.
func sanitizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return sanitizeText(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[sanitizeText(k)] = sanitizeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	}
	return v
}
