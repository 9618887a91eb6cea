package capture

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// EventKind tags a lifecycle Event.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventStopped
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is the channel form of the lifecycle hooks. Result is set only for
// EventCompleted and Err only for EventFailed.
type Event struct {
	Kind      EventKind
	SessionID string
	SurfaceID string
	Format    Format
	Time      time.Time
	Result    *Result
	Err       error
}

// Observer receives every event of every Recorder built with the same Host.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// dispatcher runs queued callbacks one at a time, in order, on a goroutine
// that exists only while the queue is non-empty.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
	idle    *sync.Cond
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	if !d.running {
		d.running = true
		go d.drain()
	}
	d.mu.Unlock()
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		safeRun(fn)
	}
}

// wait blocks until every queued callback has run.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for d.running {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("lifecycle callback panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// subscribers fans events out to channels without ever blocking the
// dispatcher.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (s *subscribers) add(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]chan Event)
	}
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			log.Warn("event subscriber full, event dropped", "event", e.Kind.String(), "session", e.SessionID)
		}
	}
}
