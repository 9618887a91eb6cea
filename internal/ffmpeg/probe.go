// Package ffmpeg is the encode facility: it feeds raw RGBA frames from a
// surface stream into an ffmpeg subprocess and hands the muxed container
// back in segments.
package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var log = logging.L("ffmpeg")

var (
	// ErrNotFound is returned when the ffmpeg binary cannot be located.
	ErrNotFound = errors.New("ffmpeg binary not found")
	// ErrUnsupportedFormat is returned for a format with no known codec.
	ErrUnsupportedFormat = errors.New("no ffmpeg codec for format")
	// ErrNoVideoTrack is returned when the stream has nothing to encode.
	ErrNoVideoTrack = errors.New("stream has no video track")
	// ErrInvalidState is returned for a call the encoder cannot honor in
	// its current state.
	ErrInvalidState = errors.New("invalid encoder state")
)

const probeTimeout = 10 * time.Second

// codec is how one capture format maps onto ffmpeg.
type codec struct {
	encoder string
	muxer   string
}

var codecs = map[capture.Format]codec{
	capture.FormatWebM: {encoder: "libvpx-vp9", muxer: "webm"},
	capture.FormatMP4:  {encoder: "libx264", muxer: "mp4"},
}

// Probe locates binary and reports which formats it can encode. Surfaces
// are in-process, so stream capture is always available; Encoding is set
// only when at least one codec is present.
func Probe(ctx context.Context, binary string) (capture.Capabilities, error) {
	caps := capture.Capabilities{StreamCapture: true}

	path, err := exec.LookPath(binary)
	if err != nil {
		return caps, fmt.Errorf("%w: %s: %w", ErrNotFound, binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return caps, fmt.Errorf("listing ffmpeg encoders: %w", err)
	}

	caps = capabilitiesFrom(ParseEncoders(string(out)))
	log.Debug("probed ffmpeg", "path", path, "mimeTypes", caps.MimeTypes)
	return caps, nil
}

func capabilitiesFrom(encoders map[string]bool) capture.Capabilities {
	caps := capture.Capabilities{StreamCapture: true}
	for _, f := range capture.Formats() {
		if encoders[codecs[f].encoder] {
			caps.MimeTypes = append(caps.MimeTypes, f.MimeType())
		}
	}
	caps.Encoding = len(caps.MimeTypes) > 0
	return caps
}

// ParseEncoders extracts video encoder names from `ffmpeg -encoders`
// output. Listing lines look like " V....D libx264  libx264 H.264 ...".
func ParseEncoders(out string) map[string]bool {
	found := make(map[string]bool)
	inList := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inList {
			// The legend ends with a dashed separator.
			inList = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		found[fields[1]] = true
	}
	return found
}
