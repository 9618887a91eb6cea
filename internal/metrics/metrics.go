// Package metrics exports recorder activity to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breeze-rmm/surfacerec/internal/capture"
)

const namespace = "surfacerec"

// Collector counts sessions and deliveries. It implements capture.Observer.
type Collector struct {
	registry *prometheus.Registry

	sessionsStarted   *prometheus.CounterVec
	sessionsCompleted *prometheus.CounterVec
	sessionsFailed    *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	artifactBytes     *prometheus.HistogramVec
	artifactDuration  *prometheus.HistogramVec
	deliveries        *prometheus.CounterVec

	mu     sync.Mutex
	active map[string]struct{}
}

// New registers the recorder metrics, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the recorder metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	c := &Collector{
		registry: reg,
		active:   make(map[string]struct{}),
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Recording sessions started.",
		}, []string{"format"}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Recording sessions that produced an artifact.",
		}, []string{"format"}),
		sessionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Recording sessions that ended in an error, by error kind.",
		}, []string{"format", "kind"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently recording.",
		}),
		artifactBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_bytes",
			Help:      "Size of assembled artifacts.",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}, []string{"format"}),
		artifactDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_duration_seconds",
			Help:      "Wall-clock length of completed sessions.",
			Buckets:   []float64{1, 2, 5, 15, 30, 60, 300, 900},
		}, []string{"format"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Artifact deliveries to a sink, by result.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(
		c.sessionsStarted,
		c.sessionsCompleted,
		c.sessionsFailed,
		c.sessionsActive,
		c.artifactBytes,
		c.artifactDuration,
		c.deliveries,
	)
	return c
}

// Observe implements capture.Observer.
func (c *Collector) Observe(e capture.Event) {
	format := string(e.Format)
	switch e.Kind {
	case capture.EventStarted:
		c.sessionsStarted.WithLabelValues(format).Inc()
		c.setActive(e.SessionID, true)
	case capture.EventStopped:
		c.setActive(e.SessionID, false)
	case capture.EventCompleted:
		c.setActive(e.SessionID, false)
		c.sessionsCompleted.WithLabelValues(format).Inc()
		if e.Result != nil {
			c.artifactBytes.WithLabelValues(format).Observe(float64(e.Result.Size))
			c.artifactDuration.WithLabelValues(format).Observe(e.Result.Duration.Seconds())
		}
	case capture.EventFailed:
		c.setActive(e.SessionID, false)
		c.sessionsFailed.WithLabelValues(format, ErrorKind(e.Err)).Inc()
	}
}

// ObserveDelivery records one sink delivery attempt.
func (c *Collector) ObserveDelivery(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	c.deliveries.WithLabelValues(sink, result).Inc()
}

// setActive tracks sessions by ID so a failure that skipped the stop
// event still releases the gauge.
func (c *Collector) setActive(sessionID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.active[sessionID] = struct{}{}
	} else {
		delete(c.active, sessionID)
	}
	c.sessionsActive.Set(float64(len(c.active)))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ErrorKind maps a recorder error to a short label value.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, capture.ErrInvalidSurface):
		return "invalid_surface"
	case errors.Is(err, capture.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, capture.ErrAlreadyRecording):
		return "already_recording"
	case errors.Is(err, capture.ErrStreamCapture):
		return "stream_capture"
	case errors.Is(err, capture.ErrEncoder):
		return "encoder"
	case errors.Is(err, capture.ErrNoData):
		return "no_data"
	case errors.Is(err, capture.ErrAssembly):
		return "assembly"
	default:
		return "other"
	}
}
