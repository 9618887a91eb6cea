package capture

import "strings"

// Capabilities describes what the host can do. It is resolved once (see
// ffmpeg.Probe) and injected into every Recorder, so tests can supply a
// fixed set.
type Capabilities struct {
	// StreamCapture reports whether surfaces can produce live streams.
	StreamCapture bool
	// Encoding reports whether an encode facility is available.
	Encoding bool
	// MimeTypes lists the container/codec pairings the encoder accepts,
	// e.g. "video/webm;codecs=vp9".
	MimeTypes []string
}

// FullCapabilities is a capability set supporting every known format.
func FullCapabilities() Capabilities {
	caps := Capabilities{StreamCapture: true, Encoding: true}
	for _, f := range formatOrder {
		caps.MimeTypes = append(caps.MimeTypes, f.MimeType())
	}
	return caps
}

// Supports reports whether mime is usable. A bare container type such as
// "video/webm" matches any listed pairing for that container.
func (c Capabilities) Supports(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		return false
	}
	bare := !strings.Contains(mime, ";")
	for _, m := range c.MimeTypes {
		m = strings.ToLower(m)
		if m == mime {
			return true
		}
		if bare {
			if base, _, _ := strings.Cut(m, ";"); base == mime {
				return true
			}
		}
	}
	return false
}

// IsSupported reports whether recording is possible at all: stream capture,
// an encode facility, and the baseline container.
func IsSupported(c Capabilities) bool {
	return c.StreamCapture && c.Encoding && c.Supports("video/webm")
}

// SupportedFormats returns the formats whose pairing is usable, baseline
// first.
func SupportedFormats(c Capabilities) []Format {
	var out []Format
	for _, f := range formatOrder {
		if c.Supports(f.MimeType()) {
			out = append(out, f)
		}
	}
	return out
}
