package capture

import (
	"time"

	"github.com/breeze-rmm/surfacerec/internal/logging"
)

// Hooks are the lifecycle callbacks of a Recorder. They run one at a time,
// in order, on the recorder's dispatch goroutine, never under its lock, so
// a hook may call back into the Recorder.
type Hooks struct {
	OnStart    func()
	OnStop     func()
	OnComplete func(Result)
	OnError    func(error)
}

// Options are the caller-supplied settings. Zero values mean "not set":
// they fall through to the preset and format defaults.
type Options struct {
	Format   Format
	Preset   string
	Duration time.Duration // 0 = stop manually
	FPS      int
	Bitrate  int
	Hooks    Hooks
}

// Config is the resolved, immutable configuration of a Recorder.
type Config struct {
	Format   Format
	Preset   string
	FPS      int
	Bitrate  int
	Duration time.Duration
	Hooks    Hooks
}

// MimeType is the mime/codec pairing for the resolved format.
func (c Config) MimeType() string {
	return c.Format.MimeType()
}

// ResolveConfig layers format defaults, then the named preset, then explicit
// overrides. It does not consult host capabilities.
func ResolveConfig(opts Options) Config {
	preset := LookupPreset(opts.Preset)

	cfg := Config{
		Format:  BaselineFormat,
		Preset:  preset.Name,
		FPS:     preset.FPS,
		Bitrate: preset.Bitrate,
	}

	if opts.Format.Known() {
		cfg.Format = opts.Format
	}
	if opts.Duration > 0 {
		cfg.Duration = opts.Duration
	}
	if opts.FPS > 0 {
		cfg.FPS = opts.FPS
	}
	if opts.Bitrate > 0 {
		cfg.Bitrate = opts.Bitrate
	}

	cfg.Hooks = opts.Hooks
	if cfg.Hooks.OnStart == nil {
		cfg.Hooks.OnStart = func() {}
	}
	if cfg.Hooks.OnStop == nil {
		cfg.Hooks.OnStop = func() {}
	}
	if cfg.Hooks.OnComplete == nil {
		cfg.Hooks.OnComplete = func(Result) {}
	}
	if cfg.Hooks.OnError == nil {
		cfg.Hooks.OnError = func(err error) {
			log.Error("recording error", logging.KeyError, err)
		}
	}
	return cfg
}
