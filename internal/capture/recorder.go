// Package capture records a rendering surface into a single video artifact
// by driving a host-provided encode facility. It owns only the session state
// machine (idle → recording → stopping → assembled) and configuration
// resolution; frame capture and encoding belong to the Surface and the
// EncoderFactory.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/surfacerec/internal/logging"
)

// Version of the recorder library.
const Version = "1.0.0"

var log = logging.L("capture")

// Host bundles what the environment provides to a Recorder.
type Host struct {
	Capabilities Capabilities
	Encoders     EncoderFactory

	// Blobs receives assembled artifacts. Nil means DefaultBlobs.
	Blobs *BlobStore

	// Observer, if set, sees every lifecycle event.
	Observer Observer

	// Announce, if set, is told the surface ID of each new Recorder so a
	// control panel can pre-select it.
	Announce func(surfaceID string)
}

// Result is the outcome of a completed session.
type Result struct {
	SessionID string
	SurfaceID string
	Artifact  []byte
	Handle    Handle
	Duration  time.Duration
	Size      int
	MimeType  string
	Format    Format
	Filename  string
	Segments  int
	Width     int
	Height    int
}

// State is a point-in-time view of a Recorder.
type State struct {
	IsRecording bool
	Duration    time.Duration
	Width       int
	Height      int
}

// Recorder captures one surface. A Recorder runs at most one session at a
// time and may be reused after a session completes or fails.
type Recorder struct {
	surface Surface
	cfg     Config
	host    Host
	blobs   *BlobStore

	now      func() time.Time
	memCheck func(size int) error

	dispatch *dispatcher
	subs     subscribers

	mu        sync.Mutex
	gen       uint64
	sessionID string
	stream    Stream
	encoder   Encoder
	segments  [][]byte
	recording bool
	startTime time.Time
	timer     *time.Timer
	metrics   *SessionMetrics
	logger    *slog.Logger
}

// New binds a Recorder to s. Construction errors are reported through
// OnError and returned.
func New(s Surface, host Host, opts Options) (*Recorder, error) {
	cfg := ResolveConfig(opts)
	if s == nil {
		return nil, reportConstruct(cfg, fmt.Errorf("%w: no surface given", ErrInvalidSurface))
	}
	return newRecorder(s, host, cfg)
}

// NewFromID resolves id through res and binds a Recorder to it. The element
// must implement Surface.
func NewFromID(id string, res Resolver, host Host, opts Options) (*Recorder, error) {
	cfg := ResolveConfig(opts)
	if res == nil {
		return nil, reportConstruct(cfg, fmt.Errorf("%w: no resolver for %q", ErrInvalidSurface, id))
	}
	el, ok := res.Lookup(id)
	if !ok || el == nil {
		return nil, reportConstruct(cfg, fmt.Errorf("%w: %q not found", ErrInvalidSurface, id))
	}
	s, ok := el.(Surface)
	if !ok {
		return nil, reportConstruct(cfg, fmt.Errorf("%w: %q cannot be captured", ErrInvalidSurface, id))
	}
	return newRecorder(s, host, cfg)
}

func newRecorder(s Surface, host Host, cfg Config) (*Recorder, error) {
	caps := host.Capabilities
	if !caps.StreamCapture || !caps.Encoding || host.Encoders == nil {
		return nil, reportConstruct(cfg, fmt.Errorf("%w: stream capture or encoding unavailable", ErrUnsupported))
	}
	if !caps.Supports(cfg.MimeType()) {
		log.Debug("format unsupported, using baseline", logging.KeyFormat, string(cfg.Format), logging.KeySurface, s.ID())
		cfg.Format = BaselineFormat
		if !caps.Supports(cfg.MimeType()) {
			return nil, reportConstruct(cfg, fmt.Errorf("%w: baseline %s unavailable", ErrUnsupported, cfg.MimeType()))
		}
	}

	blobs := host.Blobs
	if blobs == nil {
		blobs = DefaultBlobs
	}

	r := &Recorder{
		surface:  s,
		cfg:      cfg,
		host:     host,
		blobs:    blobs,
		now:      time.Now,
		memCheck: checkAvailableMemory,
		dispatch: newDispatcher(),
		logger:   log,
	}

	if host.Announce != nil {
		id := s.ID()
		r.dispatch.post(func() { host.Announce(id) })
	}
	return r, nil
}

func reportConstruct(cfg Config, err error) error {
	safeRun(func() { cfg.Hooks.OnError(err) })
	return err
}

// Config returns the resolved configuration.
func (r *Recorder) Config() Config {
	return r.cfg
}

// Surface returns the bound surface.
func (r *Recorder) Surface() Surface {
	return r.surface
}

// Subscribe returns a channel of lifecycle events and a func that cancels
// the subscription. Delivery never blocks: when the buffer is full the event
// is dropped.
func (r *Recorder) Subscribe(buffer int) (<-chan Event, func()) {
	return r.subs.add(buffer)
}

// WaitIdle blocks until every pending hook and event has been delivered.
// It must not be called from inside a hook.
func (r *Recorder) WaitIdle() {
	r.dispatch.wait()
}

// Start begins a new session. It returns ErrAlreadyRecording while a
// session is recording or still being finalized; any other failure has
// already been reported through OnError and cleaned up.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	if r.encoder != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: previous session is still finalizing", ErrAlreadyRecording)
	}

	if err := r.startLocked(); err != nil {
		r.cleanupLocked()
		r.emitLocked(Event{Kind: EventFailed, Err: err})
		r.mu.Unlock()
		return err
	}

	r.emitLocked(Event{Kind: EventStarted})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) startLocked() error {
	r.gen++
	gen := r.gen
	r.sessionID = uuid.NewString()
	r.segments = nil
	r.logger = logging.WithSession(log, r.sessionID, r.surface.ID())

	stream, err := r.surface.CaptureStream(r.cfg.FPS)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStreamCapture, err)
	}
	r.stream = stream
	if len(VideoTracks(stream)) == 0 {
		return fmt.Errorf("%w: surface %q produced no video track", ErrStreamCapture, r.surface.ID())
	}

	w, h := r.surface.Size()
	enc, err := r.host.Encoders.NewEncoder(stream, EncoderOptions{
		Format:   r.cfg.Format,
		MimeType: r.cfg.MimeType(),
		Bitrate:  r.cfg.Bitrate,
		FPS:      r.cfg.FPS,
		Width:    w,
		Height:   h,
	}, Reactions{
		OnData:  func(seg []byte) { r.onData(gen, seg) },
		OnStop:  func() { r.complete(gen) },
		OnError: func(err error) { r.onEncoderError(gen, err) },
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoder, err)
	}
	r.encoder = enc

	if err := enc.Start(FlushInterval); err != nil {
		return fmt.Errorf("%w: %w", ErrEncoder, err)
	}

	r.recording = true
	r.startTime = r.now()
	r.metrics = newSessionMetrics(r.startTime)

	if r.cfg.Duration > 0 {
		r.timer = time.AfterFunc(r.cfg.Duration, func() { r.stopSession(gen) })
	}

	r.logger.Info("recording started",
		logging.KeyFormat, string(r.cfg.Format),
		"fps", r.cfg.FPS,
		"bitrate", r.cfg.Bitrate,
		logging.KeyDurationMs, r.cfg.Duration.Milliseconds(),
		"width", w,
		"height", h,
	)
	return nil
}

// Stop ends the active session. It is a no-op when nothing is recording.
// The artifact follows asynchronously through OnComplete or OnError.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.stopLocked()
	}
}

// stopSession is the auto-stop timer path; it only stops the session that
// armed it.
func (r *Recorder) stopSession(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.gen && r.recording {
		r.logger.Debug("duration reached, stopping")
		r.stopLocked()
	}
}

func (r *Recorder) stopLocked() {
	enc := r.encoder
	r.recording = false
	r.cancelTimerLocked()

	if err := enc.Stop(); err != nil {
		r.cleanupLocked()
		r.emitLocked(Event{Kind: EventFailed, Err: fmt.Errorf("%w: stop: %w", ErrEncoder, err)})
		return
	}
	r.emitLocked(Event{Kind: EventStopped})
}

// Pause suspends encoding. No-op unless recording and the encoder is
// running.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.encoder.State() != EncoderRecording {
		return
	}
	if err := r.encoder.Pause(); err != nil {
		r.logger.Warn("pause failed", logging.KeyError, err)
		return
	}
	r.metrics.recordPause()
}

// Resume continues a paused session. No-op unless recording and paused.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.encoder.State() != EncoderPaused {
		return
	}
	if err := r.encoder.Resume(); err != nil {
		r.logger.Warn("resume failed", logging.KeyError, err)
		return
	}
	r.metrics.recordResume()
}

// State reports whether a session is active and for how long.
func (r *Recorder) State() State {
	w, h := r.surface.Size()

	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{IsRecording: r.recording, Width: w, Height: h}
	if r.recording {
		st.Duration = r.now().Sub(r.startTime)
	}
	return st
}

func (r *Recorder) onData(gen uint64, seg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.encoder == nil {
		return
	}
	r.metrics.recordSegment(len(seg))
	if len(seg) > 0 {
		r.segments = append(r.segments, seg)
	}
}

func (r *Recorder) onEncoderError(gen uint64, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.encoder == nil {
		return
	}
	r.logger.Error("encoder failed", logging.KeyError, cause)
	r.segments = nil
	r.cleanupLocked()
	r.emitLocked(Event{Kind: EventFailed, Err: fmt.Errorf("%w: %w", ErrEncoder, cause)})
}

// complete runs when the encoder has flushed its last segment.
func (r *Recorder) complete(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.gen || r.encoder == nil {
		return
	}

	// The facility stopped on its own, e.g. the stream ended.
	if r.recording {
		r.recording = false
		r.cancelTimerLocked()
		r.emitLocked(Event{Kind: EventStopped})
	}

	segments := r.segments
	r.segments = nil
	if len(segments) == 0 {
		r.cleanupLocked()
		r.emitLocked(Event{Kind: EventFailed, Err: ErrNoData})
		return
	}

	result, err := r.assembleLocked(segments)
	snap := r.metrics.Snapshot(r.now())
	r.cleanupLocked()
	if err != nil {
		r.emitLocked(Event{Kind: EventFailed, Err: err})
		return
	}

	r.logger.Info("recording complete",
		"filename", result.Filename,
		logging.KeyBytes, result.Size,
		logging.KeyDurationMs, result.Duration.Milliseconds(),
		"segments", snap.Segments,
		"emptySegments", snap.EmptySegments,
		"pauses", snap.Pauses,
	)
	r.emitLocked(Event{Kind: EventCompleted, Result: &result})
}

func (r *Recorder) assembleLocked(segments [][]byte) (result Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrAssembly, p)
		}
	}()

	total := 0
	for _, seg := range segments {
		total += len(seg)
	}
	if err := r.memCheck(total); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrAssembly, err)
	}

	artifact := make([]byte, 0, total)
	for _, seg := range segments {
		artifact = append(artifact, seg...)
	}

	mime := r.cfg.MimeType()
	handle := r.blobs.Put(artifact, mime)
	now := r.now()
	var elapsed time.Duration
	if !r.startTime.IsZero() {
		elapsed = now.Sub(r.startTime)
	}
	w, h := r.surface.Size()

	return Result{
		SessionID: r.sessionID,
		SurfaceID: r.surface.ID(),
		Artifact:  artifact,
		Handle:    handle,
		Duration:  elapsed,
		Size:      len(artifact),
		MimeType:  mime,
		Format:    r.cfg.Format,
		Filename:  Filename(now, r.cfg.Format),
		Segments:  len(segments),
		Width:     w,
		Height:    h,
	}, nil
}

// cleanup releases every session resource. Idempotent.
func (r *Recorder) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupLocked()
}

func (r *Recorder) cleanupLocked() {
	if r.stream != nil {
		for _, t := range r.stream.Tracks() {
			t.Stop()
		}
		r.stream = nil
	}
	r.cancelTimerLocked()
	r.encoder = nil
	r.recording = false
	r.startTime = time.Time{}
}

func (r *Recorder) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// emitLocked queues the hook and event for e. Hooks run in queue order, so
// OnStop always precedes the OnComplete/OnError of the same session.
func (r *Recorder) emitLocked(e Event) {
	e.SessionID = r.sessionID
	e.SurfaceID = r.surface.ID()
	e.Format = r.cfg.Format
	e.Time = r.now()

	hooks := r.cfg.Hooks
	observer := r.host.Observer
	r.dispatch.post(func() {
		switch e.Kind {
		case EventStarted:
			hooks.OnStart()
		case EventStopped:
			hooks.OnStop()
		case EventCompleted:
			hooks.OnComplete(*e.Result)
		case EventFailed:
			hooks.OnError(e.Err)
		}
		if observer != nil {
			observer.Observe(e)
		}
		r.subs.publish(e)
	})
}

func checkAvailableMemory(size int) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil // headroom unknown, assume it fits
	}
	if uint64(size) > vm.Available {
		return fmt.Errorf("artifact of %d bytes exceeds available memory (%d bytes)", size, vm.Available)
	}
	return nil
}
