package ffmpeg

import (
	"errors"
	"image"
	"io"
	"strings"
	"sync"
)

var errFrameSize = errors.New("frame size does not match encoder")

// writeFrame writes img as tightly packed RGBA rows. Frames whose size no
// longer matches the encoder (the surface was resized) are rejected.
func writeFrame(w io.Writer, img *image.RGBA, width, height int) error {
	if img == nil {
		return errFrameSize
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return errFrameSize
	}
	rowLen := width * 4
	if img.Stride == rowLen {
		start := img.PixOffset(b.Min.X, b.Min.Y)
		_, err := w.Write(img.Pix[start : start+rowLen*height])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[start : start+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// tailBuffer keeps the last max bytes written to it, for error reports.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
