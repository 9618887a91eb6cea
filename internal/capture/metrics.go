package capture

import (
	"sync"
	"time"
)

// SessionMetrics counts what the encode facility delivered during one
// session.
type SessionMetrics struct {
	mu sync.Mutex

	segments      uint64
	emptySegments uint64
	bytes         uint64
	largest       int
	pauses        uint64
	resumes       uint64
	startTime     time.Time
}

func newSessionMetrics(start time.Time) *SessionMetrics {
	return &SessionMetrics{startTime: start}
}

func (m *SessionMetrics) recordSegment(size int) {
	m.mu.Lock()
	if size == 0 {
		m.emptySegments++
	} else {
		m.segments++
		m.bytes += uint64(size)
		if size > m.largest {
			m.largest = size
		}
	}
	m.mu.Unlock()
}

func (m *SessionMetrics) recordPause() {
	m.mu.Lock()
	m.pauses++
	m.mu.Unlock()
}

func (m *SessionMetrics) recordResume() {
	m.mu.Lock()
	m.resumes++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of SessionMetrics.
type MetricsSnapshot struct {
	Segments      uint64
	EmptySegments uint64
	Bytes         uint64
	LargestBytes  int
	Pauses        uint64
	Resumes       uint64
	Uptime        time.Duration
}

func (m *SessionMetrics) Snapshot(now time.Time) MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		Segments:      m.segments,
		EmptySegments: m.emptySegments,
		Bytes:         m.bytes,
		LargestBytes:  m.largest,
		Pauses:        m.pauses,
		Resumes:       m.resumes,
		Uptime:        now.Sub(m.startTime),
	}
}
