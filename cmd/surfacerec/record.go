package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/config"
	"github.com/breeze-rmm/surfacerec/internal/ffmpeg"
	"github.com/breeze-rmm/surfacerec/internal/logging"
	"github.com/breeze-rmm/surfacerec/internal/sink"
	"github.com/breeze-rmm/surfacerec/internal/surface"
)

var (
	recordWidth    int
	recordHeight   int
	recordDuration time.Duration
	recordFormat   string
	recordPreset   string
	recordOut      string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record an animated test canvas and deliver it to the configured sink",
	Long: `Record draws a moving test pattern on an in-memory canvas, records it for
--duration (or until interrupted when the duration is 0), and delivers the
result to the configured sink.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()
		applyRecordFlags(cmd, cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRecord(ctx, cfg)
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List the formats this host can record",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closeLog, err := loadConfig()
		if err != nil {
			return err
		}
		defer closeLog()

		caps, err := ffmpeg.Probe(cmd.Context(), cfg.FFmpegPath)
		if err != nil {
			fmt.Printf("Encoder: unavailable (%v)\n", err)
		}
		fmt.Printf("Recording supported: %t\n", capture.IsSupported(caps))
		for _, f := range capture.SupportedFormats(caps) {
			marker := ""
			if f == capture.BaselineFormat {
				marker = " (baseline)"
			}
			fmt.Printf("  %-5s %s%s\n", f, f.MimeType(), marker)
		}
		return nil
	},
}

var surfacesCmd = &cobra.Command{
	Use:   "surfaces",
	Short: "List the surfaces a recording session would offer",
	Run: func(cmd *cobra.Command, args []string) {
		reg, _ := demoRegistry()
		for _, info := range reg.List() {
			fmt.Println(info.Label)
		}
	},
}

func init() {
	recordCmd.Flags().IntVar(&recordWidth, "width", 640, "canvas width in pixels")
	recordCmd.Flags().IntVar(&recordHeight, "height", 360, "canvas height in pixels")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "recording length; 0 uses the config, which may mean until interrupted")
	recordCmd.Flags().StringVar(&recordFormat, "format", "", "container format (webm or mp4)")
	recordCmd.Flags().StringVar(&recordPreset, "preset", "", "quality preset (performance or default)")
	recordCmd.Flags().StringVarP(&recordOut, "out", "o", "", "write to this directory instead of the configured sink")
}

func applyRecordFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("duration") {
		cfg.DurationMs = int(recordDuration.Milliseconds())
	}
	if recordFormat != "" {
		cfg.Format = recordFormat
	}
	if recordPreset != "" {
		cfg.Preset = recordPreset
	}
	if recordOut != "" {
		cfg.Sink = config.SinkConfig{Type: "local", Dir: recordOut}
	}
}

// demoRegistry holds the surfaces the CLI can record: one canvas for the
// test pattern.
func demoRegistry() (*surface.Registry, *surface.Canvas) {
	reg := surface.NewRegistry()
	c, err := reg.NewCanvas("", recordWidth, recordHeight)
	if err != nil {
		log.Warn("could not create canvas", logging.KeyError, err)
	}
	return reg, c
}

// newHost probes ffmpeg once and builds the capture host around it.
func newHost(ctx context.Context, cfg *config.Config, observer capture.Observer) (capture.Host, error) {
	caps, err := ffmpeg.Probe(ctx, cfg.FFmpegPath)
	if err != nil && !errors.Is(err, ffmpeg.ErrNotFound) {
		return capture.Host{}, fmt.Errorf("probe ffmpeg: %w", err)
	}
	if err != nil {
		log.Warn("ffmpeg not found, recording is unavailable", "path", cfg.FFmpegPath)
	}
	return capture.Host{
		Capabilities: caps,
		Encoders:     ffmpeg.NewFactory(cfg.FFmpegPath),
		Blobs:        capture.NewBlobStore(),
		Observer:     observer,
	}, nil
}

func recordOptions(cfg *config.Config) capture.Options {
	return capture.Options{
		Format:   capture.Format(cfg.Format),
		Preset:   cfg.Preset,
		Duration: time.Duration(cfg.DurationMs) * time.Millisecond,
		FPS:      cfg.FPS,
		Bitrate:  cfg.Bitrate,
	}
}

func runRecord(ctx context.Context, cfg *config.Config) error {
	host, err := newHost(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if !capture.IsSupported(host.Capabilities) {
		return fmt.Errorf("%w: install ffmpeg with libvpx-vp9 or set ffmpeg_path", capture.ErrUnsupported)
	}

	dest, err := sink.New(ctx, cfg.Sink)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer dest.Close()

	reg, canvas := demoRegistry()
	if canvas == nil {
		return errors.New("no canvas to record")
	}
	animCtx, stopAnim := context.WithCancel(ctx)
	defer stopAnim()
	go surface.Animate(animCtx, canvas, cfg.FPS)

	type outcome struct {
		res capture.Result
		err error
	}
	done := make(chan outcome, 1)

	opts := recordOptions(cfg)
	opts.Hooks = capture.Hooks{
		OnStart: func() {
			if opts.Duration > 0 {
				fmt.Fprintf(os.Stderr, "Recording for %s...\n", opts.Duration)
			} else {
				fmt.Fprintln(os.Stderr, "Recording... press Ctrl-C to stop")
			}
		},
		OnStop:     func() { fmt.Fprintln(os.Stderr, "Processing...") },
		OnComplete: func(r capture.Result) { done <- outcome{res: r} },
		OnError:    func(err error) { done <- outcome{err: err} },
	}

	rec, err := capture.NewFromID(canvas.ID(), reg, host, opts)
	if err != nil {
		return err
	}
	if err := rec.Start(); err != nil {
		return err
	}

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		rec.Stop()
		out = <-done
	}
	rec.WaitIdle()
	stopAnim()
	if out.err != nil {
		return out.err
	}
	defer host.Blobs.Revoke(out.res.Handle)

	// Delivery must finish even after an interrupt stopped the recording.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()
	loc, err := dest.Save(saveCtx, sink.FromResult(out.res, time.Now()))
	if err != nil {
		return fmt.Errorf("deliver %s: %w", out.res.Filename, err)
	}
	fmt.Printf("Saved %s (%d bytes, %.1fs)\n", loc, out.res.Size, out.res.Duration.Seconds())
	return nil
}
