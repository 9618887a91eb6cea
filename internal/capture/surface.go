package capture

import (
	"image"
	"time"
)

// Element is anything a Resolver can hand back by ID. Only elements that
// also implement Surface can be recorded.
type Element interface {
	ID() string
}

// Resolver looks up elements by identifier.
type Resolver interface {
	Lookup(id string) (Element, bool)
}

// Surface is a rendering target that can produce a live stream of its
// output.
type Surface interface {
	Element
	// Size returns the current drawable dimensions.
	Size() (width, height int)
	// CaptureStream starts a live stream sampled at fps frames per second.
	CaptureStream(fps int) (Stream, error)
}

// TrackKind distinguishes media tracks within a stream.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Frame is one sampled image from a video track.
type Frame struct {
	Image *image.RGBA
	// PTS is the offset from the start of the stream.
	PTS time.Duration
}

// Track is one media track of a live stream.
type Track interface {
	ID() string
	Kind() TrackKind
	// Frames delivers sampled frames; it is closed once the track stops.
	Frames() <-chan Frame
	// Stop ends the track and releases its resources. Idempotent.
	Stop()
}

// Stream is a live stream produced by a Surface.
type Stream interface {
	Tracks() []Track
}

// VideoTracks returns the video tracks of s.
func VideoTracks(s Stream) []Track {
	if s == nil {
		return nil
	}
	var out []Track
	for _, t := range s.Tracks() {
		if t.Kind() == TrackVideo {
			out = append(out, t)
		}
	}
	return out
}
