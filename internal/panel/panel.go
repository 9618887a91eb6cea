// Package panel is the control panel: a headless controller that lets a
// user pick a surface, a duration, and a quality, toggle recording, and
// see status, plus an HTTP/WebSocket front for it.
package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
	"github.com/breeze-rmm/surfacerec/internal/sink"
	"github.com/breeze-rmm/surfacerec/internal/surface"
	"github.com/breeze-rmm/surfacerec/internal/workerpool"
)

var log = logging.L("panel")

var (
	// ErrNoSurface is returned by Toggle when nothing is selected.
	ErrNoSurface = errors.New("no surface selected")
	// ErrUnknownSurface is returned by Select for an unregistered ID.
	ErrUnknownSurface = errors.New("unknown surface")
	// ErrInvalidChoice is returned for a duration or quality outside the
	// offered choices.
	ErrInvalidChoice = errors.New("invalid choice")
)

const (
	DefaultRevokeAfter = 5 * time.Second
	DefaultStatusClear = 3 * time.Second
	DefaultDuration    = 5 * time.Second
)

// Choice is one entry of a selector.
type Choice struct {
	Label    string        `json:"label"`
	Duration time.Duration `json:"-"`
	Millis   int64         `json:"durationMs"`
}

func durationChoice(label string, d time.Duration) Choice {
	return Choice{Label: label, Duration: d, Millis: d.Milliseconds()}
}

// DurationChoices are the offered recording lengths; 0 is manual stop.
var DurationChoices = []Choice{
	durationChoice("1s", 1*time.Second),
	durationChoice("2s", 2*time.Second),
	durationChoice("5s", 5*time.Second),
	durationChoice("15s", 15*time.Second),
	durationChoice("30s", 30*time.Second),
	durationChoice("60s", 60*time.Second),
	durationChoice("Manual", 0),
}

// QualityChoices are the offered presets.
var QualityChoices = []string{capture.PresetPerformance, capture.PresetDefault}

// Lister enumerates and resolves surfaces.
type Lister interface {
	capture.Resolver
	List() []surface.Info
}

// DeliveryObserver is told the outcome of every sink delivery.
type DeliveryObserver interface {
	ObserveDelivery(sink string, err error)
}

// Options configure a Panel.
type Options struct {
	Surfaces Lister
	Host     capture.Host

	// Sink receives finished recordings; nil keeps them only as handles.
	Sink     sink.Sink
	SinkName string
	// Pool runs deliveries; nil creates a private single-worker pool.
	Pool       *workerpool.Pool
	Deliveries DeliveryObserver

	// Hidden suppresses the panel entirely. It is read once, by AutoStart.
	Hidden bool

	RevokeAfter time.Duration
	StatusClear time.Duration
}

// Panel is the recording control panel. It owns at most one Recorder at a
// time and replaces it after each completed or failed session.
type Panel struct {
	opts     Options
	host     capture.Host
	pool     *workerpool.Pool
	ownsPool bool
	now      func() time.Time

	mu         sync.Mutex
	selected   string
	duration   time.Duration
	quality    string
	recorder   *capture.Recorder
	done       chan struct{}
	starting   bool
	recording  bool
	status     Status
	clearTimer *time.Timer
	clearSeq   uint64
	revokes    map[capture.Handle]*time.Timer
	lastHandle capture.Handle
	closed     bool

	watchers statusWatchers
}

// AutoStart builds a panel unless opts.Hidden is set, in which case it
// returns nil and no error.
func AutoStart(opts Options) (*Panel, error) {
	if opts.Hidden {
		log.Info("control panel hidden by configuration")
		return nil, nil
	}
	return New(opts)
}

func New(opts Options) (*Panel, error) {
	if opts.Surfaces == nil {
		return nil, errors.New("panel needs a surface registry")
	}
	if opts.Host.Encoders == nil {
		return nil, fmt.Errorf("%w: no encode facility", capture.ErrUnsupported)
	}
	if opts.RevokeAfter <= 0 {
		opts.RevokeAfter = DefaultRevokeAfter
	}
	if opts.StatusClear <= 0 {
		opts.StatusClear = DefaultStatusClear
	}
	if opts.Host.Blobs == nil {
		opts.Host.Blobs = capture.DefaultBlobs
	}
	if opts.SinkName == "" && opts.Sink != nil {
		opts.SinkName = "sink"
	}

	p := &Panel{
		opts:     opts,
		pool:     opts.Pool,
		now:      time.Now,
		duration: DefaultDuration,
		quality:  capture.PresetDefault,
		revokes:  make(map[capture.Handle]*time.Timer),
	}
	if p.pool == nil {
		p.pool = workerpool.New(1, 4)
		p.ownsPool = true
	}

	p.host = opts.Host
	upstream := opts.Host.Announce
	p.host.Announce = func(id string) {
		p.announce(id)
		if upstream != nil {
			upstream(id)
		}
	}

	if list := opts.Surfaces.List(); len(list) > 0 {
		p.selected = list[0].ID
	}
	if !capture.IsSupported(opts.Host.Capabilities) {
		p.setStatus(StatusError, "Recording is not supported on this host")
	}
	return p, nil
}

// Host returns the capture host wired to this panel: Recorders built with
// it announce their surface so the panel pre-selects it.
func (p *Panel) Host() capture.Host {
	return p.host
}

func (p *Panel) announce(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.opts.Surfaces.Lookup(id); ok {
		p.selected = id
	}
}

// Surfaces re-enumerates the registry. A selection that disappeared falls
// back to the first surface.
func (p *Panel) Surfaces() []surface.Info {
	list := p.opts.Surfaces.List()

	p.mu.Lock()
	defer p.mu.Unlock()
	found := false
	for _, s := range list {
		if s.ID == p.selected {
			found = true
			break
		}
	}
	if !found {
		p.selected = ""
		if len(list) > 0 {
			p.selected = list[0].ID
		}
	}
	return list
}

// Select chooses the surface to record.
func (p *Panel) Select(id string) error {
	if _, ok := p.opts.Surfaces.Lookup(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSurface, id)
	}
	p.mu.Lock()
	p.selected = id
	p.mu.Unlock()
	return nil
}

// Selected returns the selected surface ID.
func (p *Panel) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// SetDuration picks one of DurationChoices.
func (p *Panel) SetDuration(d time.Duration) error {
	if err := checkDuration(d); err != nil {
		return err
	}
	p.mu.Lock()
	p.duration = d
	p.mu.Unlock()
	return nil
}

// SetQuality picks one of QualityChoices.
func (p *Panel) SetQuality(preset string) error {
	if err := checkQuality(preset); err != nil {
		return err
	}
	p.mu.Lock()
	p.quality = preset
	p.mu.Unlock()
	return nil
}

func checkDuration(d time.Duration) error {
	for _, c := range DurationChoices {
		if c.Duration == d {
			return nil
		}
	}
	return fmt.Errorf("%w: duration %v", ErrInvalidChoice, d)
}

func checkQuality(preset string) error {
	for _, q := range QualityChoices {
		if q == preset {
			return nil
		}
	}
	return fmt.Errorf("%w: quality %q", ErrInvalidChoice, preset)
}

// Settings returns the current selection, duration, and quality.
func (p *Panel) Settings() (surfaceID string, duration time.Duration, quality string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected, p.duration, p.quality
}

// Toggle stops the active recording, or starts a new one on the selected
// surface.
func (p *Panel) Toggle() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("panel closed")
	}
	if rec := p.recorder; rec != nil && rec.State().IsRecording {
		p.mu.Unlock()
		rec.Stop()
		return nil
	}
	if p.recorder != nil || p.starting {
		p.mu.Unlock()
		return fmt.Errorf("%w: previous recording is still processing", capture.ErrAlreadyRecording)
	}
	id, duration, quality := p.selected, p.duration, p.quality
	if id == "" {
		p.mu.Unlock()
		p.setStatus(StatusError, "Error: "+ErrNoSurface.Error())
		return ErrNoSurface
	}
	p.starting = true
	p.mu.Unlock()

	// Construction reports errors through OnError synchronously, so the
	// lock must not be held here.
	rec, err := capture.NewFromID(id, p.opts.Surfaces, p.host, capture.Options{
		Format:   capture.BaselineFormat,
		Preset:   quality,
		Duration: duration,
		Hooks:    p.hooks(duration),
	})
	if err != nil {
		p.mu.Lock()
		p.starting = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.starting = false
	p.recorder = rec
	p.done = make(chan struct{})
	p.mu.Unlock()

	if err := rec.Start(); err != nil {
		// OnError already reset the panel.
		return err
	}
	return nil
}

// Recorder returns the active recorder, if any.
func (p *Panel) Recorder() *capture.Recorder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recorder
}

func (p *Panel) hooks(duration time.Duration) capture.Hooks {
	return capture.Hooks{
		OnStart: func() {
			p.mu.Lock()
			p.recording = true
			p.mu.Unlock()
			msg := "Recording..."
			if duration > 0 {
				msg = fmt.Sprintf("Recording for %ds...", int(duration.Seconds()))
			}
			p.setStatus(StatusRecording, msg)
		},
		OnStop: func() {
			p.mu.Lock()
			p.recording = false
			p.mu.Unlock()
			p.setStatus(StatusProcessing, "Processing...")
		},
		OnComplete: p.onComplete,
		OnError: func(err error) {
			p.reset()
			log.Warn("recording failed", logging.KeyError, err)
			p.setStatus(StatusError, "Error: "+err.Error())
		},
	}
}

func (p *Panel) onComplete(res capture.Result) {
	p.reset()

	if p.opts.Sink == nil {
		p.scheduleRevoke(res.Handle)
		p.setStatus(StatusSuccess, "Ready: "+res.Filename)
		return
	}

	artifact := sink.FromResult(res, p.now())
	ok := p.pool.Submit(func(ctx context.Context) {
		loc, err := p.opts.Sink.Save(ctx, artifact)
		if p.opts.Deliveries != nil {
			p.opts.Deliveries.ObserveDelivery(p.opts.SinkName, err)
		}
		p.scheduleRevoke(res.Handle)
		if err != nil {
			log.Error("delivery failed", "filename", res.Filename, logging.KeyError, err)
			p.setStatus(StatusError, "Error: "+err.Error())
			return
		}
		log.Info("recording delivered", "filename", res.Filename, "location", loc)
		p.setStatus(StatusSuccess, "Saved "+res.Filename)
	})
	if !ok {
		p.scheduleRevoke(res.Handle)
		p.setStatus(StatusError, "Error: delivery queue full, "+res.Filename+" not saved")
	}
}

// reset drops the finished recorder so the next Toggle builds a new one.
func (p *Panel) reset() {
	p.mu.Lock()
	p.recorder = nil
	p.recording = false
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.mu.Unlock()
}

// scheduleRevoke releases the artifact handle after the grace period, so
// the HTTP front can still serve it briefly.
func (p *Panel) scheduleRevoke(h capture.Handle) {
	if h == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.opts.Host.Blobs.Revoke(h)
		return
	}
	p.lastHandle = h
	p.revokes[h] = time.AfterFunc(p.opts.RevokeAfter, func() {
		p.opts.Host.Blobs.Revoke(h)
		p.mu.Lock()
		delete(p.revokes, h)
		if p.lastHandle == h {
			p.lastHandle = ""
		}
		p.mu.Unlock()
	})
}

// Close stops any active recording, waits for pending deliveries, and
// revokes every outstanding handle.
func (p *Panel) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	rec, done := p.recorder, p.done
	p.mu.Unlock()

	if rec != nil {
		rec.Stop()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if p.ownsPool {
		p.pool.Shutdown(ctx)
	}

	p.mu.Lock()
	p.closed = true
	for h, t := range p.revokes {
		t.Stop()
		p.opts.Host.Blobs.Revoke(h)
	}
	p.revokes = map[capture.Handle]*time.Timer{}
	p.lastHandle = ""
	if p.clearTimer != nil {
		p.clearTimer.Stop()
	}
	p.mu.Unlock()

	p.watchers.closeAll()
	return nil
}
