// Package health tracks the condition of the recorder's moving parts: the
// encode facility, the delivery sink, and recent sessions.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/surfacerec/internal/capture"
	"github.com/breeze-rmm/surfacerec/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Component names used by the observers below.
const (
	ComponentEncoder  = "encoder"
	ComponentRecorder = "recorder"
	componentSink     = "sink:"
)

// UnhealthyAfter is the number of consecutive delivery failures that mark a
// sink unhealthy. A single failure only degrades it.
const UnhealthyAfter = 3

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Monitor tracks health checks for multiple components.
type Monitor struct {
	mu       sync.RWMutex
	checks   map[string]Check
	failures map[string]int
	now      func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks:   make(map[string]Check),
		failures: make(map[string]int),
		now:      time.Now,
	}
}

// Update records the health status for a named component. An invalid
// status is stored as Unhealthy.
func (m *Monitor) Update(name string, status Status, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateLocked(name, status, message)
}

func (m *Monitor) updateLocked(name string, status Status, message string) {
	if !status.IsValid() {
		message = fmt.Sprintf("invalid status %q: %s", status, message)
		status = Unhealthy
	}
	prev, seen := m.checks[name]
	m.checks[name] = Check{
		Name:      name,
		Status:    status,
		Message:   message,
		UpdatedAt: m.now(),
	}

	if status != Healthy && (!seen || prev.Status != status) {
		log.Warn("health check degraded", "component", name, "status", string(status), "message", message)
	}
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all registered checks, or
// Unknown when nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if worse(c.Status, worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks, sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allLocked()
}

func (m *Monitor) allLocked() []Check {
	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Summary returns a JSON-friendly map of the overall status and every
// component, taken under one lock.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

// ObserveCapabilities records whether the host can record at all.
func (m *Monitor) ObserveCapabilities(caps capture.Capabilities) {
	switch {
	case capture.IsSupported(caps):
		var formats []string
		for _, f := range capture.SupportedFormats(caps) {
			formats = append(formats, string(f))
		}
		m.Update(ComponentEncoder, Healthy, fmt.Sprintf("formats: %v", formats))
	case caps.Encoding:
		m.Update(ComponentEncoder, Degraded, "baseline format unavailable")
	default:
		m.Update(ComponentEncoder, Unhealthy, "no encode facility")
	}
}

// Observe implements capture.Observer. A completed session marks the
// recorder healthy; a failure caused by the host degrades it.
func (m *Monitor) Observe(e capture.Event) {
	switch e.Kind {
	case capture.EventCompleted:
		m.Update(ComponentRecorder, Healthy, "")
	case capture.EventFailed:
		status := Degraded
		if errors.Is(e.Err, capture.ErrUnsupported) {
			status = Unhealthy
		}
		msg := "session failed"
		if e.Err != nil {
			msg = e.Err.Error()
		}
		m.Update(ComponentRecorder, status, msg)
	}
}

// ObserveDelivery tracks consecutive failures per sink.
func (m *Monitor) ObserveDelivery(sink string, err error) {
	name := componentSink + sink

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.failures[name] = 0
		m.updateLocked(name, Healthy, "")
		return
	}
	m.failures[name]++
	status := Degraded
	if m.failures[name] >= UnhealthyAfter {
		status = Unhealthy
	}
	m.updateLocked(name, status, fmt.Sprintf("%d consecutive failures, last: %v", m.failures[name], err))
}

type report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Handler serves the checks as JSON: 503 when unhealthy, 200 otherwise.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.RLock()
		r := report{Status: m.overallLocked(), Checks: m.allLocked()}
		m.mu.RUnlock()

		code := http.StatusOK
		if r.Status == Unhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(r)
	})
}

// worse returns true if a is worse than b.
func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

// Unknown ranks worst.
func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 0
	}
}
