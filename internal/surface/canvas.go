// Package surface provides recordable rendering surfaces: an in-memory
// drawable Canvas, an adapter for external frame grabbers, and a Registry
// that enumerates them by ID.
package surface

import (
	"fmt"
	"image"
	"sync"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var log = logging.L("surface")

// Canvas is a drawable RGBA surface.
type Canvas struct {
	id string

	mu  sync.RWMutex
	img *image.RGBA
	seq int
}

// NewCanvas allocates a width x height canvas. An empty id is assigned by
// the Registry the canvas is added to.
func NewCanvas(id string, width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	return &Canvas{id: id, img: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

func (c *Canvas) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

func (c *Canvas) setID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// Size returns the drawable dimensions.
func (c *Canvas) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Draw runs fn with exclusive access to the backing image.
func (c *Canvas) Draw(fn func(img *image.RGBA)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.img)
	c.seq++
}

// Resize replaces the backing image with a blank one of the new size.
func (c *Canvas) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	c.mu.Lock()
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.seq++
	c.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current contents.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// CaptureStream samples the canvas fps times per second into a single
// video track.
func (c *Canvas) CaptureStream(fps int) (capture.Stream, error) {
	id := c.ID()
	t := startVideoTrack(id+"-video", fps, func() (*image.RGBA, error) {
		return c.Snapshot(), nil
	})
	log.Debug("canvas stream started", logging.KeySurface, id, "fps", fps)
	return &stream{tracks: []capture.Track{t}}, nil
}
