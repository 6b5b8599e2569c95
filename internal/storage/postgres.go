/**
 * PostgreSQL Client for the configuration extraction worker
 *
 * Handles job status persistence and storage of extracted settings.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Store is the persistence surface the processor depends on.
type Store interface {
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	StoreExtraction(ctx context.Context, rec *ExtractionRecord) (string, error)
	GetExtraction(ctx context.Context, jobID string) (*ExtractionRecord, error)
}

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

var _ Store = (*PostgresClient)(nil)

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           string
	Filename         string
	MimeType         string
	FileSize         int64
	SourceKind       string
	PairCount        int
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// ExtractionRecord is one stored extraction result.
type ExtractionRecord struct {
	ID              string
	JobID           string
	Pairs           []extract.Pair
	Diagnostics     extract.Diagnostics
	FramesProcessed int
	ReportFormat    string
	Report          string
	CreatedAt       time.Time
}

// Mapping rebuilds the ordered mapping from the stored pairs.
func (r *ExtractionRecord) Mapping() *extract.Mapping {
	return extract.MappingFromPairs(r.Pairs)
}

// Schema creates the tables used by PostgresClient.
const Schema = `
CREATE SCHEMA IF NOT EXISTS configextract;

CREATE TABLE IF NOT EXISTS configextract.extraction_jobs (
	id                 UUID PRIMARY KEY,
	filename           TEXT NOT NULL DEFAULT 'unknown',
	mime_type          TEXT NOT NULL DEFAULT 'application/octet-stream',
	file_size          BIGINT NOT NULL DEFAULT 0,
	source_kind        TEXT,
	status             TEXT NOT NULL,
	pair_count         INTEGER,
	processing_time_ms BIGINT,
	error_code         TEXT,
	error_message      TEXT,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS configextract.extractions (
	id               UUID PRIMARY KEY,
	job_id           UUID NOT NULL REFERENCES configextract.extraction_jobs(id) ON DELETE CASCADE,
	pairs            JSONB NOT NULL,
	diagnostics      JSONB NOT NULL DEFAULT '{}'::jsonb,
	frames_processed INTEGER NOT NULL DEFAULT 0,
	report_format    TEXT NOT NULL,
	report           TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS extractions_job_id_idx ON configextract.extractions (job_id);
`

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// Migrate applies Schema.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpdateJobStatus upserts the job row so the worker can create it if the
// producer did not.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if err := validateJobUpdate(update); err != nil {
		return err
	}

	metadataJSON, err := encodeJSONB(update.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO configextract.extraction_jobs (
			id, filename, mime_type, file_size, source_kind,
			status, pair_count, processing_time_ms,
			error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1::uuid, COALESCE(NULLIF($2, ''), 'unknown'),
			COALESCE(NULLIF($3, ''), 'application/octet-stream'), $4,
			NULLIF($5, ''), $6, $7, NULLIF($8, 0),
			NULLIF($9, ''), NULLIF($10, ''),
			COALESCE($11::jsonb, '{}'::jsonb),
			NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filename = CASE WHEN $2 = '' THEN configextract.extraction_jobs.filename ELSE EXCLUDED.filename END,
			mime_type = CASE WHEN $3 = '' THEN configextract.extraction_jobs.mime_type ELSE EXCLUDED.mime_type END,
			file_size = COALESCE(NULLIF(EXCLUDED.file_size, 0), configextract.extraction_jobs.file_size),
			source_kind = COALESCE(EXCLUDED.source_kind, configextract.extraction_jobs.source_kind),
			pair_count = COALESCE(EXCLUDED.pair_count, configextract.extraction_jobs.pair_count),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, configextract.extraction_jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = configextract.extraction_jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var pairCount sql.NullInt32
	if update.Status == "completed" {
		pairCount = sql.NullInt32{Int32: int32(update.PairCount), Valid: true}
	}

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,            // $1
		update.Filename,         // $2
		update.MimeType,         // $3
		update.FileSize,         // $4
		update.SourceKind,       // $5
		update.Status,           // $6
		pairCount,               // $7
		update.ProcessingTimeMs, // $8
		update.ErrorCode,        // $9
		update.ErrorMessage,     // $10
		metadataJSON,            // $11
	).Scan(&returnedID)

	if err == sql.ErrNoRows {
		return fmt.Errorf("job not found: %s", update.JobID)
	}
	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s): %w",
			update.JobID, update.Status, err)
	}

	return nil
}

// StoreExtraction stores the ordered pairs, diagnostics and rendered report
// for a job and returns the new record ID.
func (p *PostgresClient) StoreExtraction(ctx context.Context, rec *ExtractionRecord) (string, error) {
	if rec == nil || rec.JobID == "" {
		return "", fmt.Errorf("job ID is required")
	}
	if _, err := uuid.Parse(rec.JobID); err != nil {
		return "", fmt.Errorf("job ID must be a UUID: %w", err)
	}

	pairsJSON, diagJSON, err := encodeExtraction(rec)
	if err != nil {
		return "", err
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO configextract.extractions (
			id, job_id, pairs, diagnostics,
			frames_processed, report_format, report, created_at
		) VALUES ($1::uuid, $2::uuid, $3::jsonb, $4::jsonb, $5, $6, $7, NOW())
		RETURNING id, created_at
	`

	var storedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		id,
		rec.JobID,
		pairsJSON,
		diagJSON,
		rec.FramesProcessed,
		rec.ReportFormat,
		sanitizeText(rec.Report),
	).Scan(&storedID, &rec.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to store extraction (job=%s): %w", rec.JobID, err)
	}

	rec.ID = storedID
	return storedID, nil
}

// GetExtraction returns the latest extraction stored for a job.
func (p *PostgresClient) GetExtraction(ctx context.Context, jobID string) (*ExtractionRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT id, job_id, pairs, diagnostics, frames_processed,
			report_format, report, created_at
		FROM configextract.extractions
		WHERE job_id = $1::uuid
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		rec       ExtractionRecord
		pairsJSON []byte
		diagJSON  []byte
	)
	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.ID, &rec.JobID, &pairsJSON, &diagJSON, &rec.FramesProcessed,
		&rec.ReportFormat, &rec.Report, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("extraction not found for job: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get extraction: %w", err)
	}

	if err := decodeExtraction(&rec, pairsJSON, diagJSON); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetJobByID retrieves a job row by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT id, filename, mime_type, file_size, source_kind, status,
			pair_count, processing_time_ms, error_code, error_message,
			metadata, created_at, updated_at
		FROM configextract.extraction_jobs
		WHERE id = $1::uuid
	`

	var (
		id, filename, mimeType, status string
		fileSize                       int64
		sourceKind                     sql.NullString
		pairCount                      sql.NullInt64
		processingTimeMs               sql.NullInt64
		errorCode, errorMessage        sql.NullString
		metadataJSON                   []byte
		createdAt, updatedAt           time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &filename, &mimeType, &fileSize, &sourceKind, &status,
		&pairCount, &processingTimeMs, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":        id,
		"filename":  filename,
		"mimeType":  mimeType,
		"fileSize":  fileSize,
		"status":    status,
		"createdAt": createdAt,
		"updatedAt": updatedAt,
		"metadata":  metadata,
	}
	if sourceKind.Valid {
		result["sourceKind"] = sourceKind.String
	}
	if pairCount.Valid {
		result["pairCount"] = pairCount.Int64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

func validateJobUpdate(update *JobUpdate) error {
	if update == nil || update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if update.Status == "" {
		return fmt.Errorf("status is required")
	}
	if _, err := uuid.Parse(update.JobID); err != nil {
		return fmt.Errorf("job ID must be a UUID: %w", err)
	}
	return nil
}
