package sampler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FFmpegOptions locates the external decoder. ffprobe is looked up on PATH.
type FFmpegOptions struct {
	FFmpegPath string // default "ffmpeg"
}

// FFmpegSource decodes the first video stream of a file into RGB frames by
// piping rawvideo out of an ffmpeg process.
type FFmpegSource struct {
	fps    float64
	width  int
	height int

	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr *bytes.Buffer
	frame  []byte
	stop   func() bool

	// set once the process has been reaped; stderr is only read after that
	waited  bool
	waitErr error
	closed  bool
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

// OpenFFmpeg probes path and starts decoding it. Cancelling ctx kills the
// decoder.
func OpenFFmpeg(ctx context.Context, path string, opts FFmpegOptions) (*FFmpegSource, error) {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}

	probe, err := runProbe(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	stream := probe.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", stream.Width, stream.Height)
	}

	fps := parseRate(stream.AvgFrameRate)
	if fps <= 0 {
		fps = parseRate(stream.RFrameRate)
	}

	stderr := &bytes.Buffer{}
	cmd := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format":   "rawvideo",
			"pix_fmt":  "rgb24",
			"map":      "0:v:0",
			"vsync":    "0",
			"loglevel": "error",
			"nostdin":  "",
		}).
		SetFfmpegPath(opts.FFmpegPath).
		WithErrorOutput(stderr).
		Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frameSize := stream.Width * stream.Height * 3
	return &FFmpegSource{
		fps:    fps,
		width:  stream.Width,
		height: stream.Height,
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, frameSize),
		stderr: stderr,
		frame:  make([]byte, frameSize),
		stop: context.AfterFunc(ctx, func() {
			_ = cmd.Process.Kill()
		}),
	}, nil
}

// FPS returns the reported frame rate, or 0 when the container has none.
func (s *FFmpegSource) FPS() float64 { return s.fps }

// Size returns the frame dimensions.
func (s *FFmpegSource) Size() (int, int) { return s.width, s.height }

// ReadFrame decodes the next frame into a fresh image.
func (s *FFmpegSource) ReadFrame() (image.Image, error) {
	if err := s.next(); err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, s.width, s.height))
	for i, j := 0, 0; i < len(s.frame); i, j = i+3, j+4 {
		img.Pix[j] = s.frame[i]
		img.Pix[j+1] = s.frame[i+1]
		img.Pix[j+2] = s.frame[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// SkipFrame reads past the next frame without building an image.
func (s *FFmpegSource) SkipFrame() error {
	return s.next()
}

func (s *FFmpegSource) next() error {
	if s.closed || s.waited {
		return io.EOF
	}
	_, err := io.ReadFull(s.reader, s.frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return s.finish()
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.finish()
		return fmt.Errorf("truncated frame: %w", err)
	default:
		return fmt.Errorf("failed to read frame: %w", err)
	}
}

// finish reaps ffmpeg after its stdout closed. A clean end of stream is a
// zero exit with nothing on stderr.
func (s *FFmpegSource) finish() error {
	if !s.waited {
		s.waited = true
		s.waitErr = s.cmd.Wait()
		s.stop()
	}
	msg := strings.TrimSpace(s.stderr.String())
	switch {
	case s.waitErr != nil && msg != "":
		return fmt.Errorf("ffmpeg: %w: %s", s.waitErr, msg)
	case s.waitErr != nil:
		return fmt.Errorf("ffmpeg: %w", s.waitErr)
	case msg != "":
		return fmt.Errorf("ffmpeg: %s", msg)
	}
	return io.EOF
}

// Close stops the decoder and releases the pipe.
func (s *FFmpegSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.stop()
	if s.waited {
		return nil
	}
	s.stdout.Close()
	_ = s.cmd.Process.Kill()
	// exit status after a kill is expected
	_ = s.cmd.Wait()
	s.waited = true
	return nil
}

func runProbe(ctx context.Context, path string) (*probeOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	out, err := ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{"select_streams": "v:0"})
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal([]byte(out), &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &probe, nil
}

// parseRate reads ffprobe rationals such as "30000/1001" or "25/1".
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(strings.TrimSpace(rate), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
