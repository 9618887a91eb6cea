package sink

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls how often a failed delivery is retried.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig suits uploads to object stores.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

type retrying struct {
	Sink
	cfg RetryConfig
}

// WithRetry retries failed saves with exponential backoff.
func WithRetry(s Sink, cfg RetryConfig) Sink {
	if cfg.MaxRetries <= 0 {
		return s
	}
	return &retrying{Sink: s, cfg: cfg}
}

func (r *retrying) Save(ctx context.Context, a Artifact) (string, error) {
	var lastErr error
	delay := r.cfg.InitialDelay

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := applyJitter(delay, r.cfg.JitterFrac)
			log.Debug("retrying delivery", "attempt", attempt, "delay", jittered, "filename", a.Filename)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(jittered):
			}

			delay = time.Duration(float64(delay) * r.cfg.BackoffFactor)
			if delay > r.cfg.MaxDelay {
				delay = r.cfg.MaxDelay
			}
		}

		loc, err := r.Sink.Save(ctx, a)
		if err == nil {
			return loc, nil
		}
		if validate(a) != nil {
			return "", err // not retryable
		}
		lastErr = err
	}

	log.Warn("all delivery retries exhausted",
		"filename", a.Filename,
		"attempts", r.cfg.MaxRetries+1,
		"error", lastErr,
	)
	return "", lastErr
}

// applyJitter adds ±frac random jitter to a duration.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
