// Package retry implements the pure retry-delay scheduler and transport
// error classifier described in spec §4.1 (components B and C).
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Strategy is one of the retry backoff strategies named in spec §3.
type Strategy string

const (
	Fixed       Strategy = "FIXED"
	Linear      Strategy = "LINEAR"
	Exponential Strategy = "EXPONENTIAL"
)

// DefaultUpperBoundMs is the per-call upper bound applied when no
// maxAllowedWait is configured (spec §4.1).
const DefaultUpperBoundMs = 60000

// Delay computes the base delay for the given strategy, wait, and
// 1-indexed currentAttempt, per spec §4.1:
//
//	FIXED       -> wait
//	LINEAR      -> currentAttempt * wait
//	EXPONENTIAL -> wait * 2^(currentAttempt-1)
func Delay(strategy Strategy, wait time.Duration, currentAttempt int) time.Duration {
	if currentAttempt < 1 {
		currentAttempt = 1
	}
	switch strategy {
	case Linear:
		return wait * time.Duration(currentAttempt)
	case Exponential:
		factor := math.Pow(2, float64(currentAttempt-1))
		return time.Duration(float64(wait) * factor)
	default: // Fixed
		return wait
	}
}

// ApplyJitter adds a symmetric jitter in [-jitter*delay, +jitter*delay] to
// delay, then clamps the result to [0, maxAllowedWait] and to the per-call
// 60000ms upper bound (or maxAllowedWait if it is smaller). jitter is a
// fraction in [0, 1].
func ApplyJitter(delay time.Duration, jitter float64, maxAllowedWait time.Duration) time.Duration {
	if jitter > 0 {
		spread := float64(delay) * jitter
		offset := (rand.Float64()*2 - 1) * spread
		delay = time.Duration(float64(delay) + offset)
	}
	if delay < 0 {
		delay = 0
	}

	upper := time.Duration(DefaultUpperBoundMs) * time.Millisecond
	if maxAllowedWait > 0 && maxAllowedWait < upper {
		upper = maxAllowedWait
	}
	if delay > upper {
		delay = upper
	}
	return delay
}

// NextDelay is the convenience composition of Delay + ApplyJitter used by
// the stable-request engine between attempts.
func NextDelay(strategy Strategy, wait time.Duration, currentAttempt int, jitter float64, maxAllowedWait time.Duration) time.Duration {
	return ApplyJitter(Delay(strategy, wait, currentAttempt), jitter, maxAllowedWait)
}
