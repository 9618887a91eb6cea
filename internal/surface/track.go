package surface

import (
	"image"
	"sync"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

// SnapshotFunc returns the current contents of a surface. Returning an
// error ends the track.
type SnapshotFunc func() (*image.RGBA, error)

// DefaultFPS is the sampling rate used when a caller asks for fps <= 0.
const DefaultFPS = 30

// videoTrack samples a SnapshotFunc on a ticker. Frames are dropped, not
// queued, when the consumer falls behind.
type videoTrack struct {
	id     string
	frames chan capture.Frame
	done   chan struct{}
	once   sync.Once
	exited chan struct{}
}

func startVideoTrack(id string, fps int, snap SnapshotFunc) *videoTrack {
	if fps <= 0 {
		fps = DefaultFPS
	}
	t := &videoTrack{
		id:     id,
		frames: make(chan capture.Frame, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go t.run(time.Second/time.Duration(fps), snap)
	return t
}

func (t *videoTrack) run(interval time.Duration, snap SnapshotFunc) {
	defer close(t.exited)
	defer close(t.frames)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	dropped := 0

	for {
		select {
		case <-t.done:
			if dropped > 0 {
				log.Debug("track stopped", "track", t.id, "droppedFrames", dropped)
			}
			return
		case now := <-ticker.C:
			img, err := snap()
			if err != nil {
				log.Warn("snapshot failed, ending track", "track", t.id, logging.KeyError, err)
				return
			}
			select {
			case t.frames <- capture.Frame{Image: img, PTS: now.Sub(start)}:
			case <-t.done:
				return
			default:
				dropped++
			}
		}
	}
}

func (t *videoTrack) ID() string { return t.id }
func (t *videoTrack) Kind() capture.TrackKind { return capture.TrackVideo }
func (t *videoTrack) Frames() <-chan capture.Frame { return t.frames }

// Stop ends sampling and waits for the sampler to exit.
func (t *videoTrack) Stop() {
	t.once.Do(func() { close(t.done) })
	<-t.exited
}

// stream is a single-track live stream.
type stream struct {
	tracks []capture.Track
}

func (s *stream) Tracks() []capture.Track { return s.tracks }
