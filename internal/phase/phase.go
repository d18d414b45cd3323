// Package phase implements the phase executor described in spec §4.7
// (component J): running one gateway batch with phase-level shaping
// (timeout racing, aggregated metrics, persistence transaction).
package phase

import (
	"context"
	"time"

	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/gateway"
	"github.com/wudi/stablegate/internal/stableerrors"
)

// Spec describes one phase (spec §3, Phase). Execute does not read
// MaxConcurrentRequests, RateLimit or CircuitBreaker: the phase's items run
// behind the resources in the gateway.Options passed to Execute.
type Spec struct {
	ID                  string
	Items               []gateway.GatewayItem
	ConcurrentExecution *bool
	StopOnFirstError    *bool
	MaxConcurrentRequests int
	RateLimit           *gateway.Options // not read by Execute
	CircuitBreaker      *gateway.Options
	CommonConfig        gateway.RequestOptions
	MaxTimeout          time.Duration
	SharedBuffer        *buffer.Buffer
	MetricsGuardrails   func(Result) error
}

// Result is the phase's outcome, per spec §4.7.
type Result struct {
	PhaseID   string
	StartedAt time.Time
	EndedAt   time.Time
	Responses []gateway.Response
	Succeeded int
	Failed    int
	TimedOut  bool
}

// Execute runs spec's items through the gateway batcher, honoring
// MaxTimeout by racing the whole phase against a timer.
func Execute(ctx context.Context, spec Spec, gatewayOpts gateway.Options) (Result, error) {
	gatewayOpts.Common = mergeCommon(gatewayOpts.Common, spec.CommonConfig)
	gatewayOpts.ConcurrentExecution = boolOr(spec.ConcurrentExecution, true)
	gatewayOpts.StopOnFirstError = boolOr(spec.StopOnFirstError, false)

	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.MaxTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.MaxTimeout)
		defer cancel()
	}

	type runOutcome struct {
		responses []gateway.Response
	}
	done := make(chan runOutcome, 1)
	go func() {
		done <- runOutcome{responses: gateway.Run(runCtx, spec.Items, gatewayOpts)}
	}()

	var result Result
	result.PhaseID = spec.ID
	result.StartedAt = start

	select {
	case out := <-done:
		result.Responses = out.responses
	case <-runCtx.Done():
		if spec.MaxTimeout > 0 {
			result.TimedOut = true
			result.EndedAt = time.Now()
			if spec.SharedBuffer != nil {
				recordCompletion(spec.SharedBuffer, result)
			}
			return result, stableerrors.New(stableerrors.KindTimeout, "phase exceeded maxTimeout")
		}
	}

	result.EndedAt = time.Now()
	for _, r := range result.Responses {
		if r.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if spec.SharedBuffer != nil {
		recordCompletion(spec.SharedBuffer, result)
	}

	if spec.MetricsGuardrails != nil {
		if err := spec.MetricsGuardrails(result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// recordCompletion transacts the phase's completion into the shared
// buffer, per spec §4.7's "handlePhaseCompletion under
// executeWithPersistence".
func recordCompletion(b *buffer.Buffer, result Result) {
	_, _ = b.Run(func(state map[string]any) (any, error) {
		phases, _ := state["phases"].(map[string]any)
		if phases == nil {
			phases = make(map[string]any)
			state["phases"] = phases
		}
		phases[result.PhaseID] = map[string]any{
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"timedOut":  result.TimedOut,
			"endedAt":   result.EndedAt,
		}
		return nil, nil
	})
}

func mergeCommon(base, override gateway.RequestOptions) gateway.RequestOptions {
	if override.Attempts != nil {
		base.Attempts = override.Attempts
	}
	if override.PerformAllAttempts != nil {
		base.PerformAllAttempts = override.PerformAllAttempts
	}
	if override.Wait != nil {
		base.Wait = override.Wait
	}
	if override.RetryStrategy != nil {
		base.RetryStrategy = override.RetryStrategy
	}
	if override.Jitter != nil {
		base.Jitter = override.Jitter
	}
	if override.MaxAllowedWait != nil {
		base.MaxAllowedWait = override.MaxAllowedWait
	}
	if override.ResReq != nil {
		base.ResReq = override.ResReq
	}
	if override.LogAllErrors != nil {
		base.LogAllErrors = override.LogAllErrors
	}
	if override.LogAllSuccessfulAttempts != nil {
		base.LogAllSuccessfulAttempts = override.LogAllSuccessfulAttempts
	}
	if override.ResponseAnalyzer != nil {
		base.ResponseAnalyzer = override.ResponseAnalyzer
	}
	if override.FinalErrorAnalyzer != nil {
		base.FinalErrorAnalyzer = override.FinalErrorAnalyzer
	}
	if override.HandleErrors != nil {
		base.HandleErrors = override.HandleErrors
	}
	if override.HandleSuccessfulAttemptData != nil {
		base.HandleSuccessfulAttemptData = override.HandleSuccessfulAttemptData
	}
	return base
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}
