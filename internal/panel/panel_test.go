package panel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/sink"
	"github.com/breeze-rmm/surfacerec/internal/surface"
)

// clipEncoder emits a single segment when stopped.
type clipEncoder struct {
	r capture.Reactions

	mu    sync.Mutex
	state capture.EncoderState
}

func (e *clipEncoder) Start(time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = capture.EncoderRecording
	return nil
}

func (e *clipEncoder) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = capture.EncoderInactive
	go func() {
		e.r.OnData([]byte("clip"))
		e.r.OnStop()
	}()
	return nil
}

func (e *clipEncoder) Pause() error { return nil }
func (e *clipEncoder) Resume() error { return nil }

func (e *clipEncoder) State() capture.EncoderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

var clipFactory = capture.EncoderFactoryFunc(func(_ capture.Stream, _ capture.EncoderOptions, r capture.Reactions) (capture.Encoder, error) {
	return &clipEncoder{r: r}, nil
})

type memSink struct {
	mu    sync.Mutex
	saved []sink.Artifact
	err   error
}

func (s *memSink) Save(_ context.Context, a sink.Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, a)
	return "mem://" + a.Filename, nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type deliveryLog struct {
	mu   sync.Mutex
	errs []error
	sink []string
}

func (d *deliveryLog) ObserveDelivery(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = append(d.sink, name)
	d.errs = append(d.errs, err)
}

func newTestPanel(t *testing.T, mutate func(*Options)) (*Panel, *surface.Registry) {
	t.Helper()
	reg := surface.NewRegistry()
	if _, err := reg.NewCanvas("", 32, 16); err != nil {
		t.Fatal(err)
	}
	opts := Options{
		Surfaces: reg,
		Host: capture.Host{
			Capabilities: capture.FullCapabilities(),
			Encoders:     clipFactory,
			Blobs:        capture.NewBlobStore(),
		},
		RevokeAfter: time.Minute,
		StatusClear: time.Minute,
	}
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Close(ctx)
	})
	return p, reg
}

func waitStatus(t *testing.T, p *Panel, match func(Status) bool) Status {
	t.Helper()
	ch, cancel := p.Watch()
	defer cancel()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("status watch closed")
			}
			if match(st) {
				return st
			}
		case <-deadline:
			t.Fatalf("status never matched, last %+v", p.Status())
		}
	}
}

func kindIs(k StatusKind) func(Status) bool {
	return func(st Status) bool { return st.Kind == k }
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAutoStartHidden(t *testing.T) {
	p, err := AutoStart(Options{Hidden: true})
	if p != nil || err != nil {
		t.Fatalf("AutoStart(hidden) = %v, %v", p, err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without registry accepted")
	}
	_, err := New(Options{Surfaces: surface.NewRegistry()})
	if !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("New without encoders err = %v", err)
	}
}

func TestNewSelectsFirstSurface(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	if p.Selected() != "surface-0" {
		t.Fatalf("selected = %q", p.Selected())
	}
	id, d, q := p.Settings()
	if id != "surface-0" || d != DefaultDuration || q != capture.PresetDefault {
		t.Fatalf("settings = %q %v %q", id, d, q)
	}
	if st := p.Status(); st.Kind != StatusIdle || st.Surface != "surface-0" {
		t.Fatalf("initial status = %+v", st)
	}
}

func TestNewReportsUnsupportedHost(t *testing.T) {
	p, _ := newTestPanel(t, func(o *Options) {
		o.Host.Capabilities = capture.Capabilities{StreamCapture: true}
	})
	st := p.Status()
	if st.Kind != StatusError || !strings.Contains(st.Message, "not supported") {
		t.Fatalf("status = %+v", st)
	}
	if err := p.Toggle(); !errors.Is(err, capture.ErrUnsupported) {
		t.Fatalf("Toggle err = %v", err)
	}
}

func TestToggleManualRecording(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	if err := p.SetDuration(0); err != nil {
		t.Fatal(err)
	}

	if err := p.Toggle(); err != nil {
		t.Fatal(err)
	}
	st := waitStatus(t, p, kindIs(StatusRecording))
	if st.Message != "Recording..." || !st.Recording {
		t.Fatalf("recording status = %+v", st)
	}
	if p.Recorder() == nil {
		t.Fatal("no active recorder")
	}

	if err := p.Toggle(); err != nil {
		t.Fatal(err)
	}
	st = waitStatus(t, p, kindIs(StatusSuccess))
	if !strings.HasPrefix(st.Message, "Ready: capture-") || !strings.HasSuffix(st.Message, ".webm") {
		t.Fatalf("success status = %+v", st)
	}
	if st.Recording {
		t.Fatal("still marked recording")
	}
	h, ok := capture.ParseHandle(st.Artifact)
	if !ok {
		t.Fatalf("artifact handle = %q", st.Artifact)
	}
	data, mime, ok := p.Host().Blobs.Open(h)
	if !ok || string(data) != "clip" || mime != "video/webm;codecs=vp9" {
		t.Fatalf("blob = %q %q %v", data, mime, ok)
	}
	eventually(t, "recorder reset", func() bool { return p.Recorder() == nil })
}

func TestTimedRecordingStopsItself(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	if err := p.SetDuration(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := p.Toggle(); err != nil {
		t.Fatal(err)
	}
	st := waitStatus(t, p, kindIs(StatusRecording))
	if st.Message != "Recording for 1s..." {
		t.Fatalf("message = %q", st.Message)
	}
	waitStatus(t, p, kindIs(StatusSuccess))
}

func TestHandleRevokedAfterGrace(t *testing.T) {
	p, _ := newTestPanel(t, func(o *Options) { o.RevokeAfter = 20 * time.Millisecond })
	p.SetDuration(0)
	p.Toggle()
	waitStatus(t, p, kindIs(StatusRecording))
	p.Toggle()
	waitStatus(t, p, kindIs(StatusSuccess))

	blobs := p.Host().Blobs
	eventually(t, "handle revoked", func() bool { return blobs.Len() == 0 })
	if p.Status().Artifact != "" {
		t.Fatal("status still names a revoked artifact")
	}
}

func TestStatusClearsAfterDelay(t *testing.T) {
	p, _ := newTestPanel(t, func(o *Options) { o.StatusClear = 20 * time.Millisecond })
	p.SetDuration(0)
	p.Toggle()
	waitStatus(t, p, kindIs(StatusRecording))
	p.Toggle()
	waitStatus(t, p, kindIs(StatusSuccess))
	waitStatus(t, p, func(st Status) bool { return st.Kind == StatusIdle && st.Message == "" })
}

func TestStatusClearUnderRapidUpdates(t *testing.T) {
	p, _ := newTestPanel(t, func(o *Options) { o.StatusClear = time.Nanosecond })
	for i := 0; i < 200; i++ {
		p.setStatus(StatusError, "Error: flaky")
	}
	eventually(t, "status cleared", func() bool {
		st := p.Status()
		return st.Kind == StatusIdle && st.Message == ""
	})
}

func TestStaleClearKeepsNewerStatus(t *testing.T) {
	p, _ := newTestPanel(t, func(o *Options) { o.StatusClear = 20 * time.Millisecond })
	p.setStatus(StatusError, "Error: old")
	p.setStatus(StatusInfo, "later")
	time.Sleep(80 * time.Millisecond)
	if st := p.Status(); st.Message != "later" {
		t.Fatalf("status = %+v", st)
	}
}

func TestDeliveryToSink(t *testing.T) {
	store := &memSink{}
	deliveries := &deliveryLog{}
	p, _ := newTestPanel(t, func(o *Options) {
		o.Sink = store
		o.SinkName = "mem"
		o.Deliveries = deliveries
	})
	p.SetDuration(0)
	p.Toggle()
	waitStatus(t, p, kindIs(StatusRecording))
	p.Toggle()

	st := waitStatus(t, p, kindIs(StatusSuccess))
	if !strings.HasPrefix(st.Message, "Saved capture-") {
		t.Fatalf("status = %+v", st)
	}
	if store.count() != 1 || string(store.saved[0].Data) != "clip" || store.saved[0].SurfaceID != "surface-0" {
		t.Fatalf("saved = %+v", store.saved)
	}
	deliveries.mu.Lock()
	defer deliveries.mu.Unlock()
	if len(deliveries.errs) != 1 || deliveries.errs[0] != nil || deliveries.sink[0] != "mem" {
		t.Fatalf("deliveries = %v %v", deliveries.sink, deliveries.errs)
	}
}

func TestDeliveryFailureShowsError(t *testing.T) {
	store := &memSink{err: errors.New("bucket gone")}
	deliveries := &deliveryLog{}
	p, _ := newTestPanel(t, func(o *Options) {
		o.Sink = store
		o.Deliveries = deliveries
	})
	p.SetDuration(0)
	p.Toggle()
	waitStatus(t, p, kindIs(StatusRecording))
	p.Toggle()

	st := waitStatus(t, p, kindIs(StatusError))
	if st.Message != "Error: bucket gone" {
		t.Fatalf("status = %+v", st)
	}
	deliveries.mu.Lock()
	defer deliveries.mu.Unlock()
	if len(deliveries.errs) != 1 || deliveries.errs[0] == nil || deliveries.sink[0] != "sink" {
		t.Fatalf("deliveries = %v %v", deliveries.sink, deliveries.errs)
	}
}

func TestToggleWithoutSurface(t *testing.T) {
	p, reg := newTestPanel(t, nil)
	reg.Remove("surface-0")
	p.Surfaces()

	if err := p.Toggle(); !errors.Is(err, ErrNoSurface) {
		t.Fatalf("err = %v", err)
	}
	if st := p.Status(); st.Kind != StatusError {
		t.Fatalf("status = %+v", st)
	}
}

func TestSurfacesFallsBackWhenSelectionDisappears(t *testing.T) {
	p, reg := newTestPanel(t, nil)
	reg.NewCanvas("second", 8, 8)
	if err := p.Select("second"); err != nil {
		t.Fatal(err)
	}
	reg.Remove("second")
	list := p.Surfaces()
	if len(list) != 1 || p.Selected() != "surface-0" {
		t.Fatalf("list = %+v, selected = %q", list, p.Selected())
	}
}

func TestChoicesAreValidated(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	if err := p.SetDuration(7 * time.Second); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("SetDuration err = %v", err)
	}
	if err := p.SetQuality("ultra"); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("SetQuality err = %v", err)
	}
	if err := p.SetQuality(capture.PresetPerformance); err != nil {
		t.Fatal(err)
	}
	if err := p.Select("missing"); !errors.Is(err, ErrUnknownSurface) {
		t.Fatalf("Select err = %v", err)
	}
	if _, _, q := p.Settings(); q != capture.PresetPerformance {
		t.Fatalf("quality = %q", q)
	}
}

func TestAnnouncedSurfaceIsPreselected(t *testing.T) {
	p, reg := newTestPanel(t, nil)
	reg.NewCanvas("external", 8, 8)

	if _, err := capture.NewFromID("external", reg, p.Host(), capture.Options{}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "announce", func() bool { return p.Selected() == "external" })
}

func TestCloseStopsRecordingAndRevokes(t *testing.T) {
	p, _ := newTestPanel(t, nil)
	p.SetDuration(0)
	p.Toggle()
	waitStatus(t, p, kindIs(StatusRecording))
	updates, cancel := p.Watch()
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := p.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if p.Recorder() != nil {
		t.Fatal("recorder still active after Close")
	}
	if n := p.Host().Blobs.Len(); n != 0 {
		t.Fatalf("%d handles left after Close", n)
	}
	for range updates {
	}
	if err := p.Toggle(); err == nil {
		t.Fatal("Toggle after Close accepted")
	}
	if err := p.Close(ctx); err != nil {
		t.Fatal(err)
	}
}
