// Command configextract reads option/value settings out of a screenshot or a
// screen recording and prints them as a table.
//
//	configextract [flags] <image-or-video>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adverant/nexus/configextract-worker/internal/config"
	"github.com/adverant/nexus/configextract-worker/internal/logging"
	"github.com/adverant/nexus/configextract-worker/internal/processor"
	"github.com/adverant/nexus/configextract-worker/internal/recognizer"
	"github.com/adverant/nexus/configextract-worker/internal/report"
	"github.com/adverant/nexus/configextract-worker/internal/sampler"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("configextract", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		interval    = fs.Float64("interval", sampler.DefaultInterval, "seconds between sampled video frames")
		threshold   = fs.Int("threshold", int(recognizer.DefaultThreshold), "binarization threshold (1-255)")
		format      = fs.String("format", "markdown", "report format: markdown, html, json or yaml")
		output      = fs.String("o", "", "write the report to this file instead of stdout")
		skipSimilar = fs.Bool("skip-similar", false, "drop sampled frames that look like the previous one")
		distance    = fs.Int("similar-distance", sampler.DefaultMaxHashDistance, "max perceptual hash distance for -skip-similar (0 = identical only)")
		ffmpegPath  = fs.String("ffmpeg", "ffmpeg", "path to the ffmpeg binary (ffprobe is looked up on PATH)")
		verbose     = fs.Bool("v", false, "log pipeline progress to stderr")
	)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: configextract [flags] <image-or-video>\n\nflags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	if *threshold < 1 || *threshold > 255 {
		fmt.Fprintf(stderr, "configextract: -threshold must be between 1 and 255\n")
		return 2
	}
	if *interval <= 0 {
		fmt.Fprintf(stderr, "configextract: -interval must be positive\n")
		return 2
	}
	if *distance < 0 || *distance > 64 {
		fmt.Fprintf(stderr, "configextract: -similar-distance must be between 0 and 64\n")
		return 2
	}
	reportFormat, err := report.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(stderr, "configextract: %v\n", err)
		return 2
	}

	logger := logging.Nop()
	if *verbose {
		// .env is optional; only log settings are read from it here
		level := "info"
		cfg, cfgErr := config.LoadConfig(".env")
		if cfgErr != nil {
			fmt.Fprintf(stderr, "configextract: ignoring environment settings: %v\n", cfgErr)
		} else {
			level = cfg.LogLevel
		}
		if logger, err = logging.New("configextract", logging.Options{Level: level, Development: true}); err != nil {
			fmt.Fprintf(stderr, "configextract: %v\n", err)
			return 1
		}
		defer logger.Sync()
	}

	rec := recognizer.New(recognizer.NewTesseractEngine(nil), recognizer.Options{
		Threshold: uint8(*threshold),
		Logger:    logger.Named("recognizer"),
	})
	proc, err := processor.NewExtractionProcessor(&processor.ProcessorConfig{
		Recognizer: rec,
		Sampler: sampler.New(sampler.Options{
			Interval:        *interval,
			SkipSimilar:     *skipSimilar,
			MaxHashDistance: *distance,
			Logger:          logger.Named("sampler"),
		}),
		FFmpeg:       sampler.FFmpegOptions{FFmpegPath: *ffmpegPath},
		ReportFormat: reportFormat,
		Logger:       logger.Named("processor"),
	})
	if err != nil {
		fmt.Fprintf(stderr, "configextract: %v\n", err)
		return 1
	}

	path := fs.Arg(0)
	result, err := proc.ProcessExtraction(context.Background(), &processor.ProcessRequest{
		Filename: filepath.Base(path),
		FilePath: path,
	})
	if err != nil {
		fmt.Fprintf(stderr, "configextract: %v\n", err)
		return 1
	}

	if result.Empty() {
		fmt.Fprintln(stderr, "No key/value pairs found.")
	} else {
		fmt.Fprintf(stderr, "Found %d settings.\n", result.Settings.Len())
	}

	if *output == "" {
		io.WriteString(stdout, result.Report)
		return 0
	}
	if err := os.WriteFile(*output, []byte(result.Report), 0o644); err != nil {
		fmt.Fprintf(stderr, "configextract: %v\n", err)
		return 1
	}
	return 0
}
