package stablereq

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wudi/stablegate/internal/adapter"
	"github.com/wudi/stablegate/internal/logging"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/stableerrors"
)

var tracer = otel.Tracer("stablegate/stablereq")

// Outcome is the result of Execute: exactly one of the three union members
// described in spec §3's invariants holds.
//   - Err != nil: the call failed and was not suppressed by FinalErrorAnalyzer.
//   - Err == nil, Suppressed == true: handled failure ("return false").
//   - Err == nil, Suppressed == false: success ("return data or true").
type Outcome struct {
	Data       []byte
	Suppressed bool

	// LastResponse is the adapter response from the final attempt, when one
	// was received (nil if every attempt failed before a response came
	// back). Callers use it to read throttling signals such as a
	// Retry-After header after Execute returns, independent of which
	// union member above is populated.
	LastResponse *adapter.Response
}

// attemptOutcome is the per-attempt record built in step 3a of spec §4.1.
type attemptOutcome struct {
	ok            bool
	statusCode    int
	resp          *adapter.Response
	err           error
	isRetryable   bool
	timestamp     time.Time
	executionTime time.Duration
}

// Execute runs spec's retry loop to completion (spec §4.1).
func Execute(spec Spec) (Outcome, error) {
	if err := spec.TrialMode.Validate(); err != nil {
		return Outcome{}, err
	}

	baseCtx := spec.Request.Context
	if baseCtx == nil {
		baseCtx = spec.normalizedRequestConfig().Context
	}
	ctx, span := tracer.Start(baseCtx, "stablereq.Execute",
		trace.WithAttributes(
			attribute.String("http.method", spec.Request.Method),
			attribute.String("http.path", spec.Request.Path),
		))
	defer span.End()
	spec.Request.Context = ctx

	analyzer := spec.ResponseAnalyzer
	if analyzer == nil {
		analyzer = func(Request, *adapter.Response, bool) bool { return true }
	}
	finalAnalyzer := spec.FinalErrorAnalyzer
	if finalAnalyzer == nil {
		finalAnalyzer = func(Request, error, bool) bool { return false }
	}

	transport := spec.Adapter
	if transport == nil {
		if spec.TrialMode.Enabled {
			transport = &adapter.TrialAdapter{Config: spec.TrialMode}
		} else {
			transport = adapter.NewHTTPAdapter()
		}
	}

	attempts := spec.Attempts
	if attempts < 1 {
		attempts = 1
	}

	cfg := spec.normalizedRequestConfig()
	cfg.Context = ctx

	var lastOutcome attemptOutcome
	var lastSuccessData []byte
	hadSuccess := false
	currentAttempt := 0

	if spec.RetryBudget != nil {
		spec.RetryBudget.RecordRequest()
	}

	for remaining := attempts; remaining > 0; remaining-- {
		currentAttempt++
		outcome := runAttempt(transport, cfg, analyzer, spec.Request, spec.TrialMode.Enabled)
		lastOutcome = outcome

		if outcome.ok {
			hadSuccess = true
			lastSuccessData = outcome.resp.Data
			if spec.LogAllSuccessfulAttempts && spec.HandleSuccessfulAttemptData != nil {
				entry := SuccessLogEntry{
					Attempt:       currentAttempt,
					StatusCode:    outcome.statusCode,
					Data:          outcome.resp.Data,
					Timestamp:     outcome.timestamp,
					ExecutionTime: outcome.executionTime,
				}
				logging.SafeCall("handleSuccessfulAttemptData", func() {
					spec.HandleSuccessfulAttemptData(entry)
				})
			}
			if spec.AttemptObserver != nil {
				spec.AttemptObserver.RecordAttemptSuccess()
			}
		} else {
			if spec.LogAllErrors && spec.HandleErrors != nil {
				entry := ErrorLogEntry{
					Attempt:       currentAttempt,
					StatusCode:    outcome.statusCode,
					Code:          errCode(outcome.err),
					Message:       outcome.err.Error(),
					Timestamp:     outcome.timestamp,
					ExecutionTime: outcome.executionTime,
				}
				logging.SafeCall("handleErrors", func() {
					spec.HandleErrors(entry)
				})
			}
			if spec.AttemptObserver != nil {
				spec.AttemptObserver.RecordAttemptFailure()
			}
		}

		more := remaining > 1
		if !outcome.ok {
			if !outcome.isRetryable && !spec.PerformAllAttempts {
				more = false
			}
			if spec.RetryBudget != nil && more && !spec.RetryBudget.AllowRetry() {
				more = false
			}
		} else if !spec.PerformAllAttempts {
			more = false
		}

		if !more {
			break
		}

		if spec.RetryBudget != nil {
			spec.RetryBudget.RecordRetry()
		}
		delay := retry.NextDelay(spec.RetryStrategy, spec.Wait, currentAttempt, spec.Jitter, spec.MaxAllowedWait)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				span.SetStatus(codes.Error, "canceled during retry delay")
				return Outcome{}, stableerrors.Wrap(stableerrors.KindCancellation, "canceled during retry delay", ctx.Err())
			}
		}
	}

	if hadSuccess {
		span.SetStatus(codes.Ok, "")
		if spec.ResReq {
			return Outcome{Data: lastSuccessData, LastResponse: lastOutcome.resp}, nil
		}
		return Outcome{LastResponse: lastOutcome.resp}, nil
	}

	finalErr := stableerrors.Wrap(stableerrors.KindTransport, "all attempts failed", lastOutcome.err).
		WithStatusCode(lastOutcome.statusCode).WithCode(errCode(lastOutcome.err))

	if finalAnalyzer(spec.Request, finalErr, spec.TrialMode.Enabled) {
		span.SetStatus(codes.Ok, "suppressed by finalErrorAnalyzer")
		return Outcome{Suppressed: true, LastResponse: lastOutcome.resp}, nil
	}

	span.SetStatus(codes.Error, finalErr.Error())
	return Outcome{LastResponse: lastOutcome.resp}, finalErr
}

// runAttempt performs step 3a/3b/3c of spec §4.1 for one attempt.
func runAttempt(transport adapter.Adapter, cfg adapter.RequestConfig, analyzer ResponseAnalyzer, req Request, trialMode bool) attemptOutcome {
	start := time.Now()
	resp, err := transport.Do(cfg)
	elapsed := time.Since(start)

	if err != nil {
		return attemptOutcome{
			ok:            false,
			statusCode:    errStatusCode(err),
			resp:          resp,
			err:           err,
			isRetryable:   retry.Classify(errStatusCode(err), errCode(err)),
			timestamp:     start,
			executionTime: elapsed,
		}
	}

	if !safeAnalyze(analyzer, req, resp, trialMode) {
		return attemptOutcome{
			ok:            false,
			statusCode:    resp.Status,
			resp:          resp,
			err:           stableerrors.New(stableerrors.KindInvalidContent, "response analyzer rejected response").WithStatusCode(resp.Status),
			isRetryable:   true, // analyzer-driven failures are always retryable per spec §4.1 step 3c
			timestamp:     start,
			executionTime: elapsed,
		}
	}

	return attemptOutcome{
		ok:            true,
		statusCode:    resp.Status,
		resp:          resp,
		timestamp:     start,
		executionTime: elapsed,
	}
}

// safeAnalyze invokes analyzer with panic recovery: a panicking analyzer is
// treated as rejecting the response (forces a retry), per the hooks-never-
// surface policy in spec §7.
func safeAnalyze(analyzer ResponseAnalyzer, req Request, resp *adapter.Response, trialMode bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return analyzer(req, resp, trialMode)
}

func errStatusCode(err error) int {
	if se, ok := err.(*stableerrors.StableError); ok {
		return se.StatusCode
	}
	return 0
}

func errCode(err error) string {
	if se, ok := err.(*stableerrors.StableError); ok {
		return se.Code
	}
	return ""
}
