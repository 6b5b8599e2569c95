// Package sampler selects frames from a decoded video stream at a fixed
// time interval.
package sampler

import (
	"errors"
	"image"
	"io"
	"iter"
	"math"

	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/corona10/goimagehash"
)

const (
	// DefaultInterval is the gap between sampled frames, in seconds.
	DefaultInterval = 3.0
	// FallbackFPS is assumed when the source reports no usable frame rate.
	FallbackFPS = 25.0
	// DefaultMaxHashDistance is the pHash Hamming distance at or under which
	// two frames count as the same screen.
	DefaultMaxHashDistance = 4
)

// VideoSource yields decoded frames in order. ReadFrame returns io.EOF at end
// of stream; any other error is a decode failure.
type VideoSource interface {
	FPS() float64
	ReadFrame() (image.Image, error)
	Close() error
}

// FrameSkipper is implemented by sources that can advance past a frame
// without materialising it.
type FrameSkipper interface {
	SkipFrame() error
}

// Step returns the frame-index stride for the given rate and interval.
func Step(fps, interval float64) int {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		fps = FallbackFPS
	}
	if interval <= 0 || math.IsNaN(interval) || math.IsInf(interval, 0) {
		interval = DefaultInterval
	}
	step := int(math.Round(fps * interval))
	if step < 1 {
		step = 1
	}
	return step
}

// Options configures a Sampler.
type Options struct {
	Interval float64 // seconds; <= 0 selects DefaultInterval

	// SkipSimilar drops a sampled frame whose perceptual hash is within
	// MaxHashDistance of the last frame that was kept. Off by default.
	// A distance of 0 only drops frames with identical hashes; a negative
	// distance selects DefaultMaxHashDistance.
	SkipSimilar     bool
	MaxHashDistance int

	Logger *logging.Logger
}

// Sampler holds sampling options. It keeps no per-pass state and can be
// shared.
type Sampler struct {
	opts Options
}

// New creates a Sampler.
func New(opts Options) *Sampler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxHashDistance < 0 {
		opts.MaxHashDistance = DefaultMaxHashDistance
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Sampler{opts: opts}
}

// Interval returns the sampling interval in seconds.
func (s *Sampler) Interval() float64 { return s.opts.Interval }

// Stats describes a finished (or stopped) pass.
type Stats struct {
	Step    int
	Decoded int   // frames read from the source
	Sampled int   // frames yielded
	Skipped int   // sampled frames dropped as near-duplicates
	Err     error // decode error that ended the pass early, if any
}

// Pass is a single traversal of one source.
type Pass struct {
	s        *Sampler
	src      VideoSource
	stats    Stats
	consumed bool
}

// Pass prepares a traversal of src. The source is not closed by the pass.
func (s *Sampler) Pass(src VideoSource) *Pass {
	return &Pass{s: s, src: src, stats: Stats{Step: Step(src.FPS(), s.opts.Interval)}}
}

// Stats returns the counters gathered so far.
func (p *Pass) Stats() Stats { return p.stats }

// Frames returns the lazy sequence of sampled frames. The sequence can be
// ranged over once; later calls yield nothing.
func (p *Pass) Frames() iter.Seq[image.Image] {
	return func(yield func(image.Image) bool) {
		if p.consumed {
			return
		}
		p.consumed = true

		log := p.s.opts.Logger
		skipper, canSkip := p.src.(FrameSkipper)
		var lastHash *goimagehash.ImageHash

		for index := 0; ; index++ {
			sampled := index%p.stats.Step == 0

			if !sampled && canSkip {
				if err := skipper.SkipFrame(); err != nil {
					p.finish(index, err)
					return
				}
				p.stats.Decoded++
				continue
			}

			frame, err := p.src.ReadFrame()
			if err != nil {
				p.finish(index, err)
				return
			}
			p.stats.Decoded++
			if !sampled {
				continue
			}

			if p.s.opts.SkipSimilar {
				hash, herr := goimagehash.PerceptionHash(frame)
				if herr == nil {
					if lastHash != nil {
						if dist, derr := lastHash.Distance(hash); derr == nil && dist <= p.s.opts.MaxHashDistance {
							p.stats.Skipped++
							log.Debug("skipping near-duplicate frame", "index", index, "distance", dist)
							continue
						}
					}
					lastHash = hash
				}
			}

			p.stats.Sampled++
			if !yield(frame) {
				return
			}
		}
	}
}

func (p *Pass) finish(index int, err error) {
	if errors.Is(err, io.EOF) {
		return
	}
	p.stats.Err = err
	p.s.opts.Logger.Warn("video decode stopped early",
		"frame", index,
		"sampled", p.stats.Sampled,
		"error", err)
}

// Sample is the plain form: every frame whose index is a multiple of
// round(fps × interval), ending at end of stream or the first decode error.
func Sample(src VideoSource, interval float64) iter.Seq[image.Image] {
	return New(Options{Interval: interval}).Pass(src).Frames()
}
