package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/breeze-rmm/surfacerec/internal/logging"
)

const (
	minFPS          = 1
	maxFPS          = 120
	minBitrate      = 100_000
	maxBitrate      = 50_000_000
	maxDurationMs   = 6 * 60 * 60 * 1000
	maxRevokeAfter  = 3600
	maxDeliveryPool = 64
	maxDeliveryQ    = 1024
	maxRetries      = 10
)

var knownFormats = map[string]bool{"webm": true, "mp4": true}

var knownPresets = map[string]bool{"performance": true, "default": true}

var knownSinks = map[string]bool{
	"local": true,
	"s3":    true,
	"gcs":   true,
	"azure": true,
	"b2":    true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates problems that prevent startup from ones that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// ValidateTiered checks the config. Out-of-range numbers are clamped and
// reported as warnings; values that cannot be repaired are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.Format != "" && !knownFormats[strings.ToLower(c.Format)] {
		r.fatal("format %q is not valid (use webm or mp4)", c.Format)
	}

	// Unknown presets fall back to "default" at resolution time.
	if c.Preset != "" && !knownPresets[strings.ToLower(c.Preset)] {
		r.warn("preset %q is unknown, the default preset will be used", c.Preset)
	}

	if c.FPS != 0 {
		c.FPS = clamp(&r, "fps", c.FPS, minFPS, maxFPS)
	}
	if c.Bitrate != 0 {
		c.Bitrate = clamp(&r, "bitrate", c.Bitrate, minBitrate, maxBitrate)
	}
	if c.DurationMs < 0 {
		r.warn("duration_ms %d is negative, using 0 (manual stop)", c.DurationMs)
		c.DurationMs = 0
	} else if c.DurationMs > maxDurationMs {
		r.warn("duration_ms %d exceeds maximum %d, clamping", c.DurationMs, maxDurationMs)
		c.DurationMs = maxDurationMs
	}

	c.DeliveryWorkers = clamp(&r, "delivery_workers", c.DeliveryWorkers, 1, maxDeliveryPool)
	c.DeliveryQueueSize = clamp(&r, "delivery_queue_size", c.DeliveryQueueSize, 1, maxDeliveryQ)
	c.Panel.RevokeAfterSeconds = clamp(&r, "panel.revoke_after_seconds", c.Panel.RevokeAfterSeconds, 1, maxRevokeAfter)
	c.Sink.Retries = clamp(&r, "sink.retries", c.Sink.Retries, 0, maxRetries)

	if c.Panel.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Panel.Listen); err != nil {
			r.fatal("panel.listen %q is not a host:port address: %w", c.Panel.Listen, err)
		}
	}

	if strings.TrimSpace(c.FFmpegPath) == "" {
		r.fatal("ffmpeg_path must not be empty")
	}

	c.validateSink(&r)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", logging.KeyError, err)
	}
	return r
}

func (c *Config) validateSink(r *ValidationResult) {
	s := &c.Sink
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Type == "" {
		s.Type = "local"
	}
	if !knownSinks[s.Type] {
		r.fatal("sink.type %q is not valid (use local, s3, gcs, azure, b2)", s.Type)
		return
	}

	switch s.Type {
	case "local":
		if s.Dir == "" {
			r.fatal("sink.dir is required for the local sink")
		}
	case "s3", "gcs", "b2":
		if s.Bucket == "" {
			r.fatal("sink.bucket is required for the %s sink", s.Type)
		}
	case "azure":
		if s.ConnectionString == "" || s.Container == "" {
			r.fatal("sink.connection_string and sink.container are required for the azure sink")
		}
	}
	if s.Type == "b2" && (s.AccountID == "" || s.ApplicationKey == "") {
		r.fatal("sink.account_id and sink.application_key are required for the b2 sink")
	}
}

func clamp(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.warn("%s %d is below minimum %d, clamping", key, v, lo)
		return lo
	}
	if v > hi {
		r.warn("%s %d exceeds maximum %d, clamping", key, v, hi)
		return hi
	}
	return v
}
