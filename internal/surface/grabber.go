package surface

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

// FrameGrabber is a source of full frames, such as a screen capturer.
type FrameGrabber interface {
	// Grab returns the current frame.
	Grab() (*image.RGBA, error)
	// Bounds returns the frame dimensions.
	Bounds() (width, height int, err error)
	// Close releases the grabber.
	Close() error
}

// ErrGrabberClosed is returned by a closed Grabber surface.
var ErrGrabberClosed = errors.New("frame grabber closed")

// Grabber exposes a FrameGrabber as a recordable surface.
type Grabber struct {
	id string
	g  FrameGrabber

	mu     sync.Mutex
	closed bool
}

// NewGrabber wraps g. An empty id is assigned by the Registry.
func NewGrabber(id string, g FrameGrabber) *Grabber {
	return &Grabber{id: id, g: g}
}

func (s *Grabber) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Grabber) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// Size returns the grabber bounds, or 0x0 if they cannot be read.
func (s *Grabber) Size() (int, int) {
	w, h, err := s.g.Bounds()
	if err != nil {
		return 0, 0
	}
	return w, h
}

func (s *Grabber) CaptureStream(fps int) (capture.Stream, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrGrabberClosed
	}
	if _, _, err := s.g.Bounds(); err != nil {
		return nil, fmt.Errorf("grabber bounds: %w", err)
	}

	id := s.ID()
	t := startVideoTrack(id+"-video", fps, s.g.Grab)
	log.Debug("grabber stream started", logging.KeySurface, id, "fps", fps)
	return &stream{tracks: []capture.Track{t}}, nil
}

// Close closes the underlying grabber. Streams already running end on their
// next failed grab.
func (s *Grabber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.g.Close()
}
