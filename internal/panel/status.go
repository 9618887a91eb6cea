package panel

import (
	"sync"
	"time"
)

// StatusKind classifies the status line.
type StatusKind string

const (
	StatusIdle       StatusKind = ""
	StatusRecording  StatusKind = "recording"
	StatusProcessing StatusKind = "processing"
	StatusSuccess    StatusKind = "success"
	StatusError      StatusKind = "error"
	StatusInfo       StatusKind = "info"
)

// Status is what the panel shows.
type Status struct {
	Message   string     `json:"message"`
	Kind      StatusKind `json:"kind"`
	Recording bool       `json:"recording"`
	Surface   string     `json:"surface,omitempty"`
	// Artifact is the handle of the latest recording until it is revoked.
	Artifact  string     `json:"artifact,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Status returns the current status.
func (p *Panel) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Panel) statusLocked() Status {
	st := p.status
	st.Recording = p.recording
	st.Surface = p.selected
	st.Artifact = string(p.lastHandle)
	return st
}

// setStatus updates the status line. Success and error messages clear
// themselves after StatusClear.
func (p *Panel) setStatus(kind StatusKind, msg string) {
	p.mu.Lock()
	p.status = Status{Message: msg, Kind: kind, UpdatedAt: p.now()}
	p.clearSeq++
	if p.clearTimer != nil {
		p.clearTimer.Stop()
		p.clearTimer = nil
	}
	if (kind == StatusSuccess || kind == StatusError) && !p.closed {
		seq := p.clearSeq
		p.clearTimer = time.AfterFunc(p.opts.StatusClear, func() { p.clearStatus(seq) })
	}
	st := p.statusLocked()
	p.mu.Unlock()

	log.Debug("status", "kind", string(kind), "message", msg)
	p.watchers.publish(st)
}

// clearStatus runs from the timer armed by setStatus; a later status
// bumps clearSeq and turns it into a no-op.
func (p *Panel) clearStatus(seq uint64) {
	p.mu.Lock()
	if p.clearSeq != seq || p.closed {
		p.mu.Unlock()
		return
	}
	p.clearTimer = nil
	p.status = Status{UpdatedAt: p.now()}
	st := p.statusLocked()
	p.mu.Unlock()
	p.watchers.publish(st)
}

// Watch returns a channel of status updates and a cancel func. A slow
// watcher misses intermediate updates but always sees the latest one.
func (p *Panel) Watch() (<-chan Status, func()) {
	return p.watchers.add(p.Status)
}

type statusWatchers struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Status
	closed bool
}

// add registers a watcher seeded with current(). Once closed, it returns
// an already-closed channel.
func (w *statusWatchers) add(current func() Status) (<-chan Status, func()) {
	ch := make(chan Status, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	ch <- current()
	if w.subs == nil {
		w.subs = make(map[int]chan Status)
	}
	id := w.next
	w.next++
	w.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if _, ok := w.subs[id]; ok {
				delete(w.subs, id)
				close(ch)
			}
		})
	}
}

// publish replaces any unread update with st.
func (w *statusWatchers) publish(st Status) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (w *statusWatchers) closeAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
}
