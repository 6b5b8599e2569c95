/**
 * Extraction Processor for the configuration extraction worker
 *
 * Runs one job end to end:
 * - detects whether the upload is a still image or a video
 * - samples video frames at a fixed time interval
 * - binarizes and OCRs each image
 * - parses the text into an ordered option/value mapping
 * - renders the report and persists the result
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	workerrors "github.com/adverant/nexus/configextract-worker/internal/errors"
	"github.com/adverant/nexus/configextract-worker/internal/extract"
	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/metrics"
	"github.com/adverant/nexus/configextract-worker/internal/recognizer"
	"github.com/adverant/nexus/configextract-worker/internal/report"
	"github.com/adverant/nexus/configextract-worker/internal/sampler"
	"github.com/adverant/nexus/configextract-worker/internal/storage"
	"github.com/google/uuid"
)

// ExtractionProcessorInterface is what queue consumers depend on.
type ExtractionProcessorInterface interface {
	ProcessExtraction(ctx context.Context, req *ProcessRequest) (*ExtractionResult, error)
	MarkProcessing(ctx context.Context, req *ProcessRequest) error
	FailJob(ctx context.Context, jobID string, cause error) error
}

// VideoOpener opens a decodable video at path.
type VideoOpener func(ctx context.Context, path string) (sampler.VideoSource, error)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Recognizer     *recognizer.Recognizer
	Sampler        *sampler.Sampler
	OpenVideo      VideoOpener // defaults to ffmpeg with FFmpeg options
	FFmpeg         sampler.FFmpegOptions
	TempDir        string
	MaxFileSize    int64
	ReportFormat   report.Format
	StorageManager *storage.StorageManager
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
}

// ProcessRequest represents one extraction job. Either FileBuffer or
// FilePath must be set.
type ProcessRequest struct {
	JobID      string
	Filename   string
	MimeType   string
	FileBuffer []byte
	FilePath   string
	Format     report.Format // overrides ProcessorConfig.ReportFormat
}

// ExtractionResult represents the processing result
type ExtractionResult struct {
	JobID            string              `json:"jobId"`
	SourceKind       SourceKind          `json:"sourceKind"`
	MimeType         string              `json:"mimeType"`
	FramesDecoded    int                 `json:"framesDecoded,omitempty"`
	FramesProcessed  int                 `json:"framesProcessed"`
	FramesSkipped    int                 `json:"framesSkipped,omitempty"`
	DecodeError      string              `json:"decodeError,omitempty"`
	RawTextLength    int                 `json:"rawTextLength"`
	Settings         *extract.Mapping    `json:"settings"`
	Diagnostics      extract.Diagnostics `json:"diagnostics"`
	ReportFormat     report.Format       `json:"reportFormat"`
	Report           string              `json:"report"`
	ExtractionID     string              `json:"extractionId,omitempty"`
	ProcessingTimeMs int64               `json:"processingTimeMs"`
}

// Empty reports the "no pairs found" state.
func (r *ExtractionResult) Empty() bool {
	return r == nil || r.Settings.Len() == 0
}

// ExtractionProcessor handles extraction jobs
type ExtractionProcessor struct {
	config     *ProcessorConfig
	recognizer *recognizer.Recognizer
	sampler    *sampler.Sampler
	openVideo  VideoOpener
	storage    *storage.StorageManager
	metrics    *metrics.Metrics
	logger     *logging.Logger
}

var _ ExtractionProcessorInterface = (*ExtractionProcessor)(nil)

// NewExtractionProcessor creates a new extraction processor
func NewExtractionProcessor(cfg *ProcessorConfig) (*ExtractionProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	smp := cfg.Sampler
	if smp == nil {
		smp = sampler.New(sampler.Options{Logger: logger.Named("sampler")})
	}

	if cfg.ReportFormat == "" {
		cfg.ReportFormat = report.FormatMarkdown
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	open := cfg.OpenVideo
	if open == nil {
		ffmpeg := cfg.FFmpeg
		open = func(ctx context.Context, path string) (sampler.VideoSource, error) {
			return sampler.OpenFFmpeg(ctx, path, ffmpeg)
		}
	}

	return &ExtractionProcessor{
		config:     cfg,
		recognizer: cfg.Recognizer,
		sampler:    smp,
		openVideo:  open,
		storage:    cfg.StorageManager,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// CheckEngine verifies the OCR engine can run at all.
func (p *ExtractionProcessor) CheckEngine(ctx context.Context) error {
	if err := p.recognizer.Check(ctx); err != nil {
		return workerrors.NewOCRFailedError("", p.recognizer.Engine().Name(), err)
	}
	return nil
}

// ProcessExtraction runs the full pipeline for one job.
func (p *ExtractionProcessor) ProcessExtraction(ctx context.Context, req *ProcessRequest) (result *ExtractionResult, err error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	startTime := time.Now()
	log := p.logger.With("job", req.JobID)
	log.Info("Starting extraction", "filename", req.Filename, "declaredMime", req.MimeType)

	kind := SourceUnknown
	defer func() {
		status := "completed"
		if err != nil {
			status = "failed"
		}
		p.metrics.ObserveJob(string(kind), status, time.Since(startTime))
	}()

	// Step 1: Validate size and detect type
	size, err := inputSize(req)
	if err != nil {
		return nil, workerrors.NewDecodeFailedError(req.JobID, req.Filename, err)
	}
	if p.config.MaxFileSize > 0 && size > p.config.MaxFileSize {
		return nil, workerrors.NewFileTooLargeError(req.JobID, size, p.config.MaxFileSize)
	}

	kind, mimeType, err := detectSource(req)
	if err != nil {
		return nil, workerrors.NewDecodeFailedError(req.JobID, req.Filename, err)
	}
	log.Info("Detected input type", "kind", kind, "mime", mimeType, "bytes", size)

	result = &ExtractionResult{
		JobID:      req.JobID,
		SourceKind: kind,
		MimeType:   mimeType,
	}

	// Step 2: OCR
	var rawText string
	switch kind {
	case SourceImage:
		rawText, err = p.recognizeImage(ctx, req)
		if err != nil {
			return nil, err
		}
		result.FramesProcessed = 1
	case SourceVideo:
		rawText, err = p.recognizeVideo(ctx, req, result)
		if err != nil {
			return nil, err
		}
	default:
		return nil, workerrors.NewUnsupportedFormatError(req.JobID, mimeType)
	}
	result.RawTextLength = len(rawText)

	// Step 3: Parse pairs
	mapping, diag := extract.ExtractPairsWithDiagnostics(rawText)
	result.Settings = mapping
	result.Diagnostics = diag
	p.metrics.ObserveExtraction(mapping.Len(), diag)

	if mapping.Len() == 0 {
		log.Info("No key/value pairs found",
			"lines", diag.Lines,
			"discarded", diag.TotalDiscarded())
	} else {
		log.Info("Found settings",
			"count", mapping.Len(),
			"overwrites", diag.Overwrites,
			"discarded", diag.TotalDiscarded())
	}

	// Step 4: Render report
	format := req.Format
	if format == "" {
		format = p.config.ReportFormat
	}
	rendered, err := report.RenderString(format, mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	result.ReportFormat = format
	result.Report = rendered
	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	// Step 5: Persist
	extractionID, err := p.storage.Complete(ctx, &storage.Completion{
		JobID:            req.JobID,
		Filename:         req.Filename,
		MimeType:         mimeType,
		FileSize:         size,
		SourceKind:       string(kind),
		Mapping:          mapping,
		Diagnostics:      diag,
		FramesProcessed:  result.FramesProcessed,
		ReportFormat:     string(format),
		Report:           rendered,
		ProcessingTimeMs: result.ProcessingTimeMs,
	})
	if err != nil {
		return nil, err
	}
	result.ExtractionID = extractionID

	log.Info("Extraction completed",
		"duration", time.Since(startTime),
		"frames", result.FramesProcessed)
	return result, nil
}

// MarkProcessing records the job as picked up.
func (p *ExtractionProcessor) MarkProcessing(ctx context.Context, req *ProcessRequest) error {
	size, _ := inputSize(req)
	return p.storage.MarkProcessing(ctx, req.JobID, req.Filename, req.MimeType, size)
}

// FailJob records a failed job.
func (p *ExtractionProcessor) FailJob(ctx context.Context, jobID string, cause error) error {
	return p.storage.Fail(ctx, jobID, cause)
}

func (p *ExtractionProcessor) recognizeImage(ctx context.Context, req *ProcessRequest) (string, error) {
	var r io.Reader
	if len(req.FileBuffer) > 0 {
		r = bytes.NewReader(req.FileBuffer)
	} else {
		f, err := os.Open(req.FilePath)
		if err != nil {
			return "", workerrors.NewDecodeFailedError(req.JobID, req.Filename, err)
		}
		defer f.Close()
		r = f
	}

	img, err := recognizer.Decode(r)
	if err != nil {
		return "", workerrors.NewDecodeFailedError(req.JobID, req.Filename, err)
	}
	return p.recognizer.RecognizeImage(ctx, img), nil
}

// recognizeVideo OCRs sampled frames one at a time and joins their text with
// newlines. A video that cannot be opened yields no frames and no error.
func (p *ExtractionProcessor) recognizeVideo(ctx context.Context, req *ProcessRequest, result *ExtractionResult) (string, error) {
	log := p.logger.With("job", req.JobID)

	path, cleanup, err := p.stageVideo(req)
	if err != nil {
		return "", err
	}
	defer cleanup()

	src, err := p.openVideo(ctx, path)
	if err != nil {
		log.Warn("Video could not be opened, treating as empty", "error", err)
		result.DecodeError = err.Error()
		return "", nil
	}
	defer src.Close()

	pass := p.sampler.Pass(src)
	texts := make([]string, 0, 16)
	var interrupted error
	for frame := range pass.Frames() {
		if err := ctx.Err(); err != nil {
			interrupted = err
			break
		}
		texts = append(texts, p.recognizer.RecognizeImage(ctx, frame))
	}

	stats := pass.Stats()
	result.FramesDecoded = stats.Decoded
	result.FramesProcessed = len(texts)
	result.FramesSkipped = stats.Skipped
	if stats.Err != nil {
		result.DecodeError = stats.Err.Error()
	}
	p.metrics.ObserveFrames(len(texts), stats.Skipped)

	if interrupted != nil {
		return "", fmt.Errorf("extraction stopped after %d frames: %w", len(texts), interrupted)
	}

	log.Info("Sampled video",
		"step", stats.Step,
		"decoded", stats.Decoded,
		"processed", len(texts),
		"skipped", stats.Skipped)
	return strings.Join(texts, "\n"), nil
}

// stageVideo returns a path the decoder can open. Buffers are written to a
// temp file that cleanup removes.
func (p *ExtractionProcessor) stageVideo(req *ProcessRequest) (string, func(), error) {
	if len(req.FileBuffer) == 0 {
		return req.FilePath, func() {}, nil
	}

	if err := os.MkdirAll(p.config.TempDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	f, err := os.CreateTemp(p.config.TempDir, "video-*"+extensionOf(req.Filename))
	if err != nil {
		return "", nil, fmt.Errorf("failed to stage video: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := f.Write(req.FileBuffer); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to stage video: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage video: %w", err)
	}
	return f.Name(), cleanup, nil
}

func inputSize(req *ProcessRequest) (int64, error) {
	if len(req.FileBuffer) > 0 {
		return int64(len(req.FileBuffer)), nil
	}
	if req.FilePath == "" {
		return 0, fmt.Errorf("no file source provided (buffer or path)")
	}
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
