package capture

import (
	"strings"
	"time"
)

// Format is an output container.
type Format string

const (
	FormatWebM Format = "webm"
	FormatMP4  Format = "mp4"

	// BaselineFormat is what every supported host must be able to produce;
	// unsupported formats are downgraded to it.
	BaselineFormat = FormatWebM
)

// FlushInterval is how often the encode facility delivers segments,
// independent of the configured frame rate.
const FlushInterval = 100 * time.Millisecond

// formatOrder is the preference order used for capability listings.
var formatOrder = []Format{FormatWebM, FormatMP4}

// Formats returns all known formats in preference order.
func Formats() []Format {
	return append([]Format(nil), formatOrder...)
}

// ParseFormat accepts a container name or the "baseline"/"alternate" aliases.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "webm", "baseline":
		return FormatWebM, true
	case "mp4", "alternate":
		return FormatMP4, true
	default:
		return "", false
	}
}

// MimeType is the container/codec pairing handed to the encoder.
func (f Format) MimeType() string {
	if f == FormatMP4 {
		return "video/mp4;codecs=h264"
	}
	return "video/webm;codecs=vp9"
}

// Extension is the file extension used for suggested filenames.
func (f Format) Extension() string {
	if f == FormatMP4 {
		return "mp4"
	}
	return "webm"
}

// Known reports whether f is one of the supported containers.
func (f Format) Known() bool {
	return f == FormatWebM || f == FormatMP4
}

// Preset is a named frame-rate/bitrate bundle.
type Preset struct {
	Name    string
	FPS     int
	Bitrate int
}

const (
	PresetPerformance = "performance"
	PresetDefault     = "default"
)

var presets = map[string]Preset{
	PresetPerformance: {Name: PresetPerformance, FPS: 30, Bitrate: 1_000_000},
	PresetDefault:     {Name: PresetDefault, FPS: 60, Bitrate: 2_500_000},
}

// LookupPreset returns the named preset, falling back to the default preset
// for empty or unrecognized names.
func LookupPreset(name string) Preset {
	if p, ok := presets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return presets[PresetDefault]
}

// Filename derives the suggested artifact name from the completion instant:
// capture-YYYY-MM-DDTHH-MM-SS.<ext>, in UTC so names sort chronologically.
func Filename(at time.Time, f Format) string {
	return "capture-" + at.UTC().Format("2006-01-02T15-04-05") + "." + f.Extension()
}
