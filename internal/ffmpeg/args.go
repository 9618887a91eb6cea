package ffmpeg

import (
	"fmt"
	"strconv"

	"github.com/breeze-rmm/surfacerec/internal/capture"
)

// BuildArgs returns the ffmpeg command line that reads width x height RGBA
// frames from stdin and writes the container to stdout.
func BuildArgs(opts capture.EncoderOptions) ([]string, error) {
	c, ok := codecs[opts.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	fps := opts.FPS
	if fps <= 0 {
		fps = 30
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
		// yuv420p needs even dimensions
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-pix_fmt", "yuv420p",
		"-c:v", c.encoder,
	}
	if opts.Bitrate > 0 {
		args = append(args, "-b:v", strconv.Itoa(opts.Bitrate))
	}

	switch opts.Format {
	case capture.FormatWebM:
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	case capture.FormatMP4:
		args = append(args,
			"-preset", "veryfast",
			"-tune", "zerolatency",
			// stdout is not seekable, so the moov atom must come first
			"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		)
	}

	return append(args, "-f", c.muxer, "pipe:1"), nil
}
