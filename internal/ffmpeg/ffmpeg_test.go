package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/surface"
)

const sampleEncoders = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoders(t *testing.T) {
	got := ParseEncoders(sampleEncoders)
	for _, name := range []string{"libx264", "libvpx-vp9"} {
		if !got[name] {
			t.Errorf("missing %s", name)
		}
	}
	if got["aac"] {
		t.Error("audio encoder listed as video")
	}
	if got["="] || got["Video"] {
		t.Error("legend lines parsed as encoders")
	}
}

func TestCapabilitiesFrom(t *testing.T) {
	full := capabilitiesFrom(map[string]bool{"libx264": true, "libvpx-vp9": true})
	if !capture.IsSupported(full) || len(capture.SupportedFormats(full)) != 2 {
		t.Fatalf("full caps = %+v", full)
	}

	mp4Only := capabilitiesFrom(map[string]bool{"libx264": true})
	if capture.IsSupported(mp4Only) {
		t.Fatal("host without vp9 must not report baseline support")
	}
	if !mp4Only.Encoding || !mp4Only.Supports("video/mp4") {
		t.Fatalf("mp4-only caps = %+v", mp4Only)
	}

	none := capabilitiesFrom(nil)
	if none.Encoding || !none.StreamCapture {
		t.Fatalf("empty caps = %+v", none)
	}
}

func TestProbeMissingBinary(t *testing.T) {
	caps, err := Probe(context.Background(), "surfacerec-no-such-ffmpeg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if caps.Encoding {
		t.Fatal("missing binary must not report encoding")
	}
}

func TestBuildArgs(t *testing.T) {
	webm, err := BuildArgs(capture.EncoderOptions{Format: capture.FormatWebM, Width: 640, Height: 360, FPS: 60, Bitrate: 2_500_000})
	if err != nil {
		t.Fatal(err)
	}
	line := strings.Join(webm, " ")
	for _, want := range []string{"-f rawvideo", "-pix_fmt rgba", "-s 640x360", "-r 60", "-i pipe:0", "-c:v libvpx-vp9", "-b:v 2500000", "-f webm pipe:1"} {
		if !strings.Contains(line, want) {
			t.Errorf("webm args missing %q: %s", want, line)
		}
	}

	mp4, err := BuildArgs(capture.EncoderOptions{Format: capture.FormatMP4, Width: 2, Height: 2})
	if err != nil {
		t.Fatal(err)
	}
	line = strings.Join(mp4, " ")
	for _, want := range []string{"-c:v libx264", "-movflags frag_keyframe+empty_moov", "-r 30", "-f mp4 pipe:1"} {
		if !strings.Contains(line, want) {
			t.Errorf("mp4 args missing %q: %s", want, line)
		}
	}
	if strings.Contains(line, "-b:v") {
		t.Error("zero bitrate should leave the codec default")
	}

	if _, err := BuildArgs(capture.EncoderOptions{Format: "avi", Width: 1, Height: 1}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("avi err = %v", err)
	}
	if _, err := BuildArgs(capture.EncoderOptions{Format: capture.FormatWebM}); err == nil {
		t.Error("zero size accepted")
	}
}

func TestWriteFrame(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}
	var buf bytes.Buffer
	if err := writeFrame(&buf, img, 2, 2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), img.Pix) {
		t.Fatal("packed frame mismatch")
	}

	// A sub-image has a stride wider than its rows.
	big := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for i := range big.Pix {
		big.Pix[i] = byte(i)
	}
	sub := big.SubImage(image.Rect(1, 0, 3, 2)).(*image.RGBA)
	buf.Reset()
	if err := writeFrame(&buf, sub, 2, 2); err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte{}, big.Pix[4:12]...), big.Pix[20:28]...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("strided frame = %v, want %v", buf.Bytes(), want)
	}

	if err := writeFrame(&buf, img, 4, 4); !errors.Is(err, errFrameSize) {
		t.Fatalf("mismatched size err = %v", err)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{max: 5}
	tb.Write([]byte("hello "))
	tb.Write([]byte("world"))
	if got := tb.String(); got != "world" {
		t.Fatalf("tail = %q", got)
	}
}

func TestEncoderStateTransitions(t *testing.T) {
	c, _ := surface.NewCanvas("c", 4, 4)
	s, _ := c.CaptureStream(30)
	defer s.Tracks()[0].Stop()

	enc, err := NewFactory("").NewEncoder(s, capture.EncoderOptions{Format: capture.FormatWebM, Width: 4, Height: 4}, capture.Reactions{})
	if err != nil {
		t.Fatal(err)
	}
	if enc.State() != capture.EncoderInactive {
		t.Fatalf("initial state = %v", enc.State())
	}
	if err := enc.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Stop before Start err = %v", err)
	}
	if err := enc.Pause(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Pause before Start err = %v", err)
	}
}

func TestStopAfterSelfFinishIsNoop(t *testing.T) {
	c, _ := surface.NewCanvas("c", 4, 4)
	s, _ := c.CaptureStream(30)
	defer s.Tracks()[0].Stop()

	e, err := NewFactory("").NewEncoder(s, capture.EncoderOptions{Format: capture.FormatWebM, Width: 4, Height: 4}, capture.Reactions{})
	if err != nil {
		t.Fatal(err)
	}
	enc := e.(*Encoder)
	enc.mu.Lock()
	enc.started = true
	enc.state = capture.EncoderInactive
	enc.mu.Unlock()

	if err := enc.Stop(); err != nil {
		t.Fatalf("Stop after self-finish err = %v", err)
	}
}

func TestNewEncoderRequiresVideo(t *testing.T) {
	_, err := NewFactory("ffmpeg").NewEncoder(emptyStream{}, capture.EncoderOptions{Format: capture.FormatWebM, Width: 2, Height: 2}, capture.Reactions{})
	if !errors.Is(err, ErrNoVideoTrack) {
		t.Fatalf("err = %v", err)
	}
}

type emptyStream struct{}

func (emptyStream) Tracks() []capture.Track { return nil }

func TestRecordCanvasWithFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	caps, err := Probe(context.Background(), "ffmpeg")
	if err != nil || !capture.IsSupported(caps) {
		t.Skipf("ffmpeg cannot encode webm: %v", err)
	}

	canvas, _ := surface.NewCanvas("demo", 64, 48)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go surface.Animate(ctx, canvas, 30)

	var (
		mu     sync.Mutex
		result capture.Result
	)
	done := make(chan error, 1)
	rec, err := capture.New(canvas, capture.Host{
		Capabilities: caps,
		Encoders:     NewFactory("ffmpeg"),
		Blobs:        capture.NewBlobStore(),
	}, capture.Options{
		Preset:   capture.PresetPerformance,
		Duration: 500 * time.Millisecond,
		Hooks: capture.Hooks{
			OnComplete: func(r capture.Result) {
				mu.Lock()
				result = r
				mu.Unlock()
				done <- nil
			},
			OnError: func(err error) { done <- err },
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("recording failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("recording did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	// WebM files start with the EBML magic.
	if len(result.Artifact) < 4 || !bytes.Equal(result.Artifact[:4], []byte{0x1a, 0x45, 0xdf, 0xa3}) {
		t.Fatalf("artifact is not webm (%d bytes)", len(result.Artifact))
	}
}
