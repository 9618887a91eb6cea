package capture

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTrack struct {
	id     string
	kind   TrackKind
	frames chan Frame

	mu    sync.Mutex
	stops int
}

func newFakeTrack(id string, kind TrackKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, frames: make(chan Frame)}
}

func (t *fakeTrack) ID() string { return t.id }
func (t *fakeTrack) Kind() TrackKind { return t.kind }
func (t *fakeTrack) Frames() <-chan Frame { return t.frames }
func (t *fakeTrack) Stop() { t.mu.Lock(); t.stops++; t.mu.Unlock() }
func (t *fakeTrack) stopCount() int { t.mu.Lock(); defer t.mu.Unlock(); return t.stops }
func (t *fakeTrack) stopped() bool { return t.stopCount() > 0 }

type fakeStream struct{ tracks []Track }

func (s *fakeStream) Tracks() []Track { return s.tracks }

type fakeSurface struct {
	id         string
	w, h       int
	noVideo    bool
	captureErr error

	mu      sync.Mutex
	tracks  []*fakeTrack
	lastFPS int
}

func newFakeSurface(id string) *fakeSurface {
	return &fakeSurface{id: id, w: 640, h: 360}
}

func (s *fakeSurface) ID() string { return s.id }
func (s *fakeSurface) Size() (int, int) { return s.w, s.h }

func (s *fakeSurface) CaptureStream(fps int) (Stream, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFPS = fps
	kind := TrackVideo
	if s.noVideo {
		kind = TrackAudio
	}
	t := newFakeTrack(s.id+"-track", kind)
	s.tracks = append(s.tracks, t)
	return &fakeStream{tracks: []Track{t}}, nil
}

func (s *fakeSurface) track(i int) *fakeTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks[i]
}

// fakeEncoder is driven by the test: emit/finish/fail deliver reactions
// from the calling goroutine, never from inside Start/Stop.
type fakeEncoder struct {
	opts      EncoderOptions
	reactions Reactions

	mu         sync.Mutex
	state      EncoderState
	started    bool
	flush      time.Duration
	startErr   error
	stopErr    error
	autoFinish bool
	pending    [][]byte
	stopCalls  int
	pauseCalls int
	resumes    int
}

func (e *fakeEncoder) Start(flush time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return e.startErr
	}
	e.flush = flush
	e.started = true
	e.state = EncoderRecording
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCalls++
	if e.stopErr != nil {
		return e.stopErr
	}
	if e.started && e.state == EncoderInactive {
		return nil
	}
	e.state = EncoderInactive
	if e.autoFinish {
		pending := e.pending
		go func() {
			for _, seg := range pending {
				e.reactions.OnData(seg)
			}
			e.reactions.OnStop()
		}()
	}
	return nil
}

func (e *fakeEncoder) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseCalls++
	e.state = EncoderPaused
	return nil
}

func (e *fakeEncoder) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumes++
	e.state = EncoderRecording
	return nil
}

func (e *fakeEncoder) State() EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEncoder) emit(seg []byte) { e.reactions.OnData(seg) }

// selfFinish marks the encoder inactive the way a facility does right
// before it reports OnStop for a stream that ended by itself.
func (e *fakeEncoder) selfFinish() {
	e.mu.Lock()
	e.state = EncoderInactive
	e.mu.Unlock()
}

func (e *fakeEncoder) finish() { e.reactions.OnStop() }
func (e *fakeEncoder) fail(err error) { e.reactions.OnError(err) }

func (e *fakeEncoder) counts() (stops, pauses, resumes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls, e.pauseCalls, e.resumes
}

type fakeFactory struct {
	newErr error
	setup  func(*fakeEncoder)

	mu       sync.Mutex
	encoders []*fakeEncoder
}

func (f *fakeFactory) NewEncoder(_ Stream, opts EncoderOptions, r Reactions) (Encoder, error) {
	if f.newErr != nil {
		return nil, f.newErr
	}
	e := &fakeEncoder{opts: opts, reactions: r}
	if f.setup != nil {
		f.setup(e)
	}
	f.mu.Lock()
	f.encoders = append(f.encoders, e)
	f.mu.Unlock()
	return e, nil
}

func (f *fakeFactory) last() *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoders[len(f.encoders)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.encoders)
}

// hookLog records hook invocations in order.
type hookLog struct {
	mu       sync.Mutex
	calls    []string
	results  []Result
	errs     []error
	terminal chan struct{}
}

func newHookLog() *hookLog {
	return &hookLog{terminal: make(chan struct{}, 16)}
}

func (h *hookLog) hooks() Hooks {
	return Hooks{
		OnStart: func() { h.add("start") },
		OnStop:  func() { h.add("stop") },
		OnComplete: func(r Result) {
			h.mu.Lock()
			h.results = append(h.results, r)
			h.mu.Unlock()
			h.add("complete")
			h.terminal <- struct{}{}
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
			h.add("error")
			h.terminal <- struct{}{}
		},
	}
}

func (h *hookLog) add(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *hookLog) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *hookLog) count(call string) int {
	n := 0
	for _, c := range h.snapshot() {
		if c == call {
			n++
		}
	}
	return n
}

func (h *hookLog) lastErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) == 0 {
		return nil
	}
	return h.errs[len(h.errs)-1]
}

func (h *hookLog) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-h.terminal:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for OnComplete/OnError; calls so far: %v", h.snapshot())
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeResolver map[string]Element

func (r fakeResolver) Lookup(id string) (Element, bool) {
	el, ok := r[id]
	return el, ok
}

type plainElement string

func (p plainElement) ID() string { return string(p) }

var errBoom = errors.New("boom")

func testHost(f *fakeFactory) Host {
	return Host{
		Capabilities: FullCapabilities(),
		Encoders:     f,
		Blobs:        NewBlobStore(),
	}
}
