package backpressure

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/adapter"
)

func TestObserveTripsOnThrottleStatus(t *testing.T) {
	var tripped, recovered atomic.Bool
	var trippedFor time.Duration
	bp := New(Config{DefaultDelay: 10 * time.Millisecond}, func(d time.Duration) { tripped.Store(true); trippedFor = d }, func() { recovered.Store(true) })

	bp.Observe(&adapter.Response{Status: 429}, "")
	if !tripped.Load() {
		t.Fatal("expected onTrip to fire for a 429 response")
	}
	if trippedFor != 10*time.Millisecond {
		t.Fatalf("expected onTrip to receive the resolved delay, got %v", trippedFor)
	}
	if !bp.Stats().Pending {
		t.Fatal("expected a pending recovery timer after tripping")
	}

	time.Sleep(30 * time.Millisecond)
	if !recovered.Load() {
		t.Fatal("expected onRecover to fire after the delay elapses")
	}
	if bp.Stats().Pending {
		t.Fatal("expected no pending timer after recovery")
	}
}

func TestObserveIgnoresNonThrottleStatus(t *testing.T) {
	var tripped atomic.Bool
	bp := New(Config{}, func(time.Duration) { tripped.Store(true) }, nil)
	bp.Observe(&adapter.Response{Status: 200}, "")
	if tripped.Load() {
		t.Fatal("did not expect onTrip for a 200 response")
	}
}

func TestParseRetryAfterClampsToMax(t *testing.T) {
	bp := New(Config{MaxRetryAfter: 2 * time.Second}, nil, nil)
	d := bp.parseRetryAfter("3600")
	if d != 2*time.Second {
		t.Fatalf("expected retry-after to clamp to MaxRetryAfter, got %v", d)
	}
}

func TestParseRetryAfterDefaultsOnGarbage(t *testing.T) {
	bp := New(Config{DefaultDelay: time.Second}, nil, nil)
	if d := bp.parseRetryAfter("not-a-number"); d != time.Second {
		t.Fatalf("expected default delay for unparsable header, got %v", d)
	}
}

func TestCloseCancelsPendingTimer(t *testing.T) {
	var recovered atomic.Bool
	bp := New(Config{DefaultDelay: 20 * time.Millisecond}, nil, func() { recovered.Store(true) })
	bp.Observe(&adapter.Response{Status: 503}, "")
	bp.Close()
	time.Sleep(40 * time.Millisecond)
	if recovered.Load() {
		t.Fatal("expected Close to cancel the recovery timer before it fires")
	}
}
