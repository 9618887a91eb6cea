package capture

import "errors"

// Error kinds reported by a Recorder. Returned errors wrap one of these, so
// callers should match with errors.Is.
var (
	// ErrInvalidSurface is returned when the target is missing, cannot be
	// resolved, or cannot produce a capture stream.
	ErrInvalidSurface = errors.New("invalid surface")

	// ErrUnsupported is returned when the host lacks stream capture or an
	// encode facility, or supports none of the known formats.
	ErrUnsupported = errors.New("recording not supported")

	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("already recording")

	// ErrStreamCapture is returned when the surface yields no video track.
	ErrStreamCapture = errors.New("failed to capture surface stream")

	// ErrEncoder wraps failures surfaced by the encode facility.
	ErrEncoder = errors.New("encoder error")

	// ErrNoData is reported when a session stopped without any segments.
	ErrNoData = errors.New("no data recorded")

	// ErrAssembly is reported when the final artifact could not be built.
	ErrAssembly = errors.New("artifact assembly failed")
)
