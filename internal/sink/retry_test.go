package sink

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakySink struct {
	failures int
	calls    int
}

func (f *flakySink) Save(context.Context, Artifact) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient")
	}
	return "ok", nil
}

func (f *flakySink) Close() error { return nil }

func fastRetry(n int) RetryConfig {
	return RetryConfig{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestWithRetryRecovers(t *testing.T) {
	f := &flakySink{failures: 2}
	loc, err := WithRetry(f, fastRetry(3)).Save(context.Background(), testArtifact())
	if err != nil || loc != "ok" {
		t.Fatalf("Save = %q, %v", loc, err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	f := &flakySink{failures: 10}
	if _, err := WithRetry(f, fastRetry(2)).Save(context.Background(), testArtifact()); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d, want 3", f.calls)
	}
}

func TestWithRetrySkipsInvalidArtifacts(t *testing.T) {
	f := &flakySink{failures: 10}
	a := testArtifact()
	a.Data = nil
	if _, err := WithRetry(f, fastRetry(5)).Save(context.Background(), a); err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 1 {
		t.Fatalf("invalid artifact retried %d times", f.calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	f := &flakySink{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := fastRetry(5)
	cfg.InitialDelay = time.Hour
	if _, err := WithRetry(f, cfg).Save(ctx, testArtifact()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestWithRetryDisabled(t *testing.T) {
	f := &flakySink{}
	if s := WithRetry(f, RetryConfig{}); s != Sink(f) {
		t.Fatal("zero retries should return the sink unchanged")
	}
}

func TestApplyJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := applyJitter(time.Second, 0.3)
		if d < 700*time.Millisecond || d > 1300*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
	if applyJitter(time.Second, 0) != time.Second {
		t.Fatal("zero jitter changed the delay")
	}
}
