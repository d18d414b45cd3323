package retry

import (
	"testing"
	"time"
)

func TestDelayFixed(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		if got := Delay(Fixed, 100*time.Millisecond, attempt); got != 100*time.Millisecond {
			t.Fatalf("attempt %d: got %v, want 100ms", attempt, got)
		}
	}
}

func TestDelayLinear(t *testing.T) {
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 300 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := Delay(Linear, 100*time.Millisecond, attempt); got != want {
			t.Fatalf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestDelayExponential(t *testing.T) {
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 800 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := Delay(Exponential, 100*time.Millisecond, attempt); got != want {
			t.Fatalf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestDelayClampsAttemptBelowOne(t *testing.T) {
	if got := Delay(Exponential, 100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Fatalf("got %v, want 100ms (attempt treated as 1)", got)
	}
}

func TestApplyJitterZeroIsNoOp(t *testing.T) {
	got := ApplyJitter(500*time.Millisecond, 0, 0)
	if got != 500*time.Millisecond {
		t.Fatalf("got %v, want 500ms unchanged", got)
	}
}

func TestApplyJitterBounded(t *testing.T) {
	base := 1000 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := ApplyJitter(base, 0.5, 0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay %v out of [500ms,1500ms]", got)
		}
	}
}

func TestApplyJitterNeverNegative(t *testing.T) {
	for i := 0; i < 200; i++ {
		got := ApplyJitter(10*time.Millisecond, 1, 0)
		if got < 0 {
			t.Fatalf("got negative delay %v", got)
		}
	}
}

func TestApplyJitterClampsToMaxAllowedWait(t *testing.T) {
	got := ApplyJitter(100*time.Second, 0, 500*time.Millisecond)
	if got != 500*time.Millisecond {
		t.Fatalf("got %v, want clamp to 500ms", got)
	}
}

func TestApplyJitterClampsToDefaultUpperBound(t *testing.T) {
	got := ApplyJitter(100*time.Hour, 0, 0)
	if got != DefaultUpperBoundMs*time.Millisecond {
		t.Fatalf("got %v, want clamp to default %dms", got, DefaultUpperBoundMs)
	}
}

// TestTotalSleepTimeMatchesSpecProperty1 checks spec §8 property 1: total
// sleep time across n attempts (all failing) equals sum of scheduler(S,w,k)
// for k=1..n-1, when jitter is disabled.
func TestTotalSleepTimeMatchesSpecProperty1(t *testing.T) {
	wait := 50 * time.Millisecond
	n := 4
	var total time.Duration
	for attempt := 1; attempt < n; attempt++ {
		total += NextDelay(Exponential, wait, attempt, 0, 0)
	}
	want := 50*time.Millisecond + 100*time.Millisecond + 200*time.Millisecond
	if total != want {
		t.Fatalf("total sleep %v, want %v", total, want)
	}
}
