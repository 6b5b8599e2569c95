package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	workerrors "github.com/adverant/nexus/configextract-worker/internal/errors"
	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	updates  []JobUpdate
	records  []ExtractionRecord
	storeErr error
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, u *JobUpdate) error {
	f.updates = append(f.updates, *u)
	return nil
}

func (f *fakeStore) StoreExtraction(_ context.Context, rec *ExtractionRecord) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	rec.ID = uuid.NewString()
	f.records = append(f.records, *rec)
	return rec.ID, nil
}

func (f *fakeStore) GetExtraction(_ context.Context, jobID string) (*ExtractionRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		if f.records[i].JobID == jobID {
			rec := f.records[i]
			return &rec, nil
		}
	}
	return nil, errors.New("not found")
}

func completion(jobID string) *Completion {
	m, diag := extract.ExtractPairsWithDiagnostics("Hostname  r1\nnoise\nPort  22\n")
	return &Completion{
		JobID:        jobID,
		Filename:     "settings.png",
		MimeType:     "image/png",
		SourceKind:   "image",
		Mapping:      m,
		Diagnostics:  diag,
		ReportFormat: "markdown",
		Report:       "# Configuration Settings\n",
	}
}

func TestCompleteStoresExtractionThenStatus(t *testing.T) {
	store := &fakeStore{}
	sm := NewStorageManager(store)
	jobID := uuid.NewString()

	id, err := sm.Complete(context.Background(), completion(jobID))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, store.records, 1)
	assert.Equal(t, []extract.Pair{
		{Option: "Hostname", Value: "r1"},
		{Option: "Port", Value: "22"},
	}, store.records[0].Pairs)

	require.Len(t, store.updates, 1)
	u := store.updates[0]
	assert.Equal(t, "completed", u.Status)
	assert.Equal(t, 2, u.PairCount)
	assert.Equal(t, id, u.Metadata["extractionId"])
	assert.Equal(t, 1, u.Metadata["linesDiscarded"])

	rec, err := sm.GetExtraction(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "r1", func() string { v, _ := rec.Mapping().Get("Hostname"); return v }())
}

func TestCompleteMarksFailedOnStoreError(t *testing.T) {
	store := &fakeStore{storeErr: errors.New("disk full")}
	sm := NewStorageManager(store)

	_, err := sm.Complete(context.Background(), completion(uuid.NewString()))
	require.Error(t, err)

	code, ok := workerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, workerrors.ErrorStorageFailed, code)

	require.Len(t, store.updates, 1)
	assert.Equal(t, "failed", store.updates[0].Status)
	assert.Equal(t, "STORAGE_FAILED", store.updates[0].ErrorCode)
	assert.Contains(t, store.updates[0].Metadata, "error")
}

func TestDisabledManagerIsNoop(t *testing.T) {
	var nilManager *StorageManager
	assert.False(t, nilManager.Enabled())

	sm := NewStorageManager(nil)
	assert.False(t, sm.Enabled())
	assert.NoError(t, sm.MarkProcessing(context.Background(), "x", "a.png", "image/png", 1))
	id, err := sm.Complete(context.Background(), completion("x"))
	assert.NoError(t, err)
	assert.Empty(t, id)
	assert.NoError(t, sm.Fail(context.Background(), "x", errors.New("boom")))

	_, err = sm.GetExtraction(context.Background(), "x")
	assert.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "ab", sanitizeText("a\x00b"))
	assert.Equal(t, "p q", sanitizeText("p\x1bq"))
	assert.Equal(t, "a\tb\nc", sanitizeText("a\tb\nc"))
}

func TestEncodeExtractionKeepsBackslashesValid(t *testing.T) {
	rec := &ExtractionRecord{Pairs: []extract.Pair{
		{Option: "Path", Value: `C:\u0001dir`},
		{Option: "Nul", Value: `x\u0000y`},
		{Option: "Share", Value: `\\nas\backup`},
		{Option: "Ctrl", Value: "a\x00b\x01c"},
	}}
	pairsJSON, _, err := encodeExtraction(rec)
	require.NoError(t, err)
	require.True(t, json.Valid(pairsJSON), string(pairsJSON))

	var back ExtractionRecord
	require.NoError(t, decodeExtraction(&back, pairsJSON, nil))
	assert.Equal(t, `C:\u0001dir`, back.Pairs[0].Value)
	assert.Equal(t, `x\u0000y`, back.Pairs[1].Value)
	assert.Equal(t, `\\nas\backup`, back.Pairs[2].Value)
	assert.Equal(t, "ab c", back.Pairs[3].Value)
	assert.NotContains(t, string(pairsJSON), `\u0000`)
}

func TestEncodeJSONBSanitizesNestedStrings(t *testing.T) {
	b, err := encodeJSONB(map[string]interface{}{
		"error": map[string]interface{}{"message": "bad\x00 frame", "path": `D:\u0000x`},
		"lines": []interface{}{"a\x07b"},
	})
	require.NoError(t, err)
	require.True(t, json.Valid(b))

	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "bad frame", back["error"].(map[string]interface{})["message"])
	assert.Equal(t, `D:\u0000x`, back["error"].(map[string]interface{})["path"])
	assert.Equal(t, []interface{}{"a b"}, back["lines"])
}

func TestEncodeDecodeExtractionKeepsOrder(t *testing.T) {
	rec := &ExtractionRecord{
		Pairs: []extract.Pair{{Option: "Zeta", Value: "1"}, {Option: "Alpha", Value: "2"}},
		Diagnostics: extract.Diagnostics{
			Lines:     3,
			Accepted:  2,
			Discarded: map[extract.DiscardReason]int{extract.DiscardNoSeparator: 1},
		},
	}
	pairsJSON, diagJSON, err := encodeExtraction(rec)
	require.NoError(t, err)
	assert.Equal(t, `[{"option":"Zeta","value":"1"},{"option":"Alpha","value":"2"}]`, string(pairsJSON))

	var back ExtractionRecord
	require.NoError(t, decodeExtraction(&back, pairsJSON, diagJSON))
	assert.Equal(t, rec.Pairs, back.Pairs)
	assert.Equal(t, 1, back.Diagnostics.Discarded[extract.DiscardNoSeparator])

	empty, _, err := encodeExtraction(&ExtractionRecord{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestEncodeJSONBEmptyMetadata(t *testing.T) {
	b, err := encodeJSONB(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

func TestValidateJobUpdate(t *testing.T) {
	assert.Error(t, validateJobUpdate(nil))
	assert.Error(t, validateJobUpdate(&JobUpdate{JobID: uuid.NewString()}))
	assert.Error(t, validateJobUpdate(&JobUpdate{JobID: "job-1", Status: "processing"}))
	assert.NoError(t, validateJobUpdate(&JobUpdate{JobID: uuid.NewString(), Status: "processing"}))
}

func TestPostgresRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	client, err := NewPostgresClient(url)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Migrate(ctx))

	jobID := uuid.NewString()
	require.NoError(t, client.UpdateJobStatus(ctx, &JobUpdate{JobID: jobID, Status: "processing", Filename: "a.png"}))

	sm := NewStorageManager(client)
	_, err = sm.Complete(ctx, completion(jobID))
	require.NoError(t, err)

	rec, err := client.GetExtraction(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "Hostname", rec.Pairs[0].Option)
	assert.Equal(t, "Port", rec.Pairs[1].Option)

	job, err := client.GetJobByID(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, int64(2), job["pairCount"])
}
