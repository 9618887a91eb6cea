package ffmpeg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

// KillTimeout bounds how long ffmpeg may take to finish after its input
// is closed.
const KillTimeout = 10 * time.Second

// Factory creates ffmpeg-backed encoders. It implements
// capture.EncoderFactory.
type Factory struct {
	Binary string
}

func NewFactory(binary string) *Factory {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Factory{Binary: binary}
}

// NewEncoder validates the stream and options. The subprocess is launched
// by Start.
func (f *Factory) NewEncoder(stream capture.Stream, opts capture.EncoderOptions, r capture.Reactions) (capture.Encoder, error) {
	tracks := capture.VideoTracks(stream)
	if len(tracks) == 0 {
		return nil, ErrNoVideoTrack
	}
	args, err := BuildArgs(opts)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		binary:    f.Binary,
		args:      args,
		opts:      opts,
		track:     tracks[0],
		reactions: r,
		stderr:    &tailBuffer{max: 4096},
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		logger:    log.With(logging.KeyFormat, string(opts.Format)),
	}, nil
}

// Encoder runs one ffmpeg process. Frames are written from a writer
// goroutine; stdout is buffered and delivered one segment per flush
// interval from a single delivery goroutine, so reactions never overlap.
type Encoder struct {
	binary    string
	args      []string
	opts      capture.EncoderOptions
	track     capture.Track
	reactions capture.Reactions
	stderr    *tailBuffer
	logger    *slog.Logger

	mu      sync.Mutex
	state   capture.EncoderState
	started bool
	cmd     *exec.Cmd

	stopCh   chan struct{}
	stopOnce sync.Once

	outMu sync.Mutex
	out   bytes.Buffer

	exited chan struct{}

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// Start launches ffmpeg.
func (e *Encoder) Start(flush time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	if flush <= 0 {
		flush = capture.FlushInterval
	}

	cmd := exec.Command(e.binary, e.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = e.stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	e.cmd = cmd
	e.started = true
	e.state = capture.EncoderRecording
	e.logger.Debug("ffmpeg started", "pid", cmd.Process.Pid, "args", strings.Join(e.args, " "))

	readDone := make(chan struct{})
	go e.writeFrames(stdin)
	go e.readOutput(stdout, readDone)
	go e.deliver(flush, readDone)
	return nil
}

// Stop closes ffmpeg's input. The tail segment and OnStop follow from the
// delivery goroutine once the process exits. Stopping an encoder that
// already finished on its own is a no-op.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return fmt.Errorf("%w: not running", ErrInvalidState)
	}
	if e.state == capture.EncoderInactive {
		return nil
	}
	e.state = capture.EncoderInactive
	e.stopOnce.Do(func() { close(e.stopCh) })
	return nil
}

// Pause drops incoming frames until Resume.
func (e *Encoder) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != capture.EncoderRecording {
		return fmt.Errorf("%w: pause while %s", ErrInvalidState, e.state)
	}
	e.state = capture.EncoderPaused
	return nil
}

func (e *Encoder) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != capture.EncoderPaused {
		return fmt.Errorf("%w: resume while %s", ErrInvalidState, e.state)
	}
	e.state = capture.EncoderRecording
	return nil
}

func (e *Encoder) State() capture.EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Encoder) writeFrames(stdin io.WriteCloser) {
	defer func() {
		stdin.Close()
		go e.killAfterTimeout()
	}()

	for {
		select {
		case <-e.stopCh:
			return
		case f, ok := <-e.track.Frames():
			if !ok {
				e.logger.Debug("stream ended, finishing encode")
				return
			}
			if e.State() != capture.EncoderRecording {
				continue
			}
			if err := writeFrame(stdin, f.Image, e.opts.Width, e.opts.Height); err != nil {
				if errors.Is(err, errFrameSize) {
					e.dropped.Add(1)
					continue
				}
				e.logger.Warn("writing frame to ffmpeg failed", logging.KeyError, err)
				return
			}
			e.frames.Add(1)
		}
	}
}

// killAfterTimeout kills ffmpeg if it has not exited KillTimeout after its
// input closed.
func (e *Encoder) killAfterTimeout() {
	timer := time.NewTimer(KillTimeout)
	defer timer.Stop()
	select {
	case <-e.exited:
	case <-timer.C:
		e.logger.Warn("ffmpeg did not exit after input closed, killing")
		e.cmd.Process.Kill()
	}
}

func (e *Encoder) readOutput(stdout io.Reader, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			e.outMu.Lock()
			e.out.Write(buf[:n])
			e.outMu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// takeSegment removes and returns everything buffered so far.
func (e *Encoder) takeSegment() []byte {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if e.out.Len() == 0 {
		return nil
	}
	seg := bytes.Clone(e.out.Bytes())
	e.out.Reset()
	return seg
}

func (e *Encoder) deliver(flush time.Duration, readDone <-chan struct{}) {
	ticker := time.NewTicker(flush)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if seg := e.takeSegment(); seg != nil {
				e.reactions.OnData(seg)
			}
		case <-readDone:
			err := e.cmd.Wait()
			close(e.exited)

			if seg := e.takeSegment(); seg != nil {
				e.reactions.OnData(seg)
			}
			e.mu.Lock()
			e.state = capture.EncoderInactive
			e.mu.Unlock()

			if err != nil {
				e.logger.Error("ffmpeg failed", logging.KeyError, err, "stderr", e.stderr.String())
				e.reactions.OnError(fmt.Errorf("ffmpeg: %w: %s", err, e.stderr.String()))
				return
			}
			e.logger.Debug("ffmpeg finished", "frames", e.frames.Load(), "droppedFrames", e.dropped.Load())
			e.reactions.OnStop()
			return
		}
	}
}
