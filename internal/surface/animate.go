package surface

import (
	"context"
	"image"
	"image/color"
	"time"
)

// Animate draws a moving test pattern on c at fps until ctx is done. It is
// what the CLI records when no other renderer is attached.
func Animate(ctx context.Context, c *Canvas, fps int) {
	if fps <= 0 {
		fps = DefaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	frame := 0
	for {
		c.Draw(func(img *image.RGBA) { drawTestPattern(img, frame) })
		frame++
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drawTestPattern paints a diagonal gradient with a bar that sweeps one
// column per frame.
func drawTestPattern(img *image.RGBA, frame int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return
	}
	bar := frame % w
	barWidth := max(w/16, 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((frame * 4) % 256),
				A: 0xff,
			}
			if x >= bar && x < bar+barWidth {
				c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			img.SetRGBA(b.Min.X+x, b.Min.Y+y, c)
		}
	}
}
