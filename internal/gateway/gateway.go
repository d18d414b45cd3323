// Package gateway implements the gateway batcher described in spec §4.2
// (component I): running a batch of stableRequest items concurrently or
// sequentially, wrapped by a circuit breaker, rate limiter, concurrency
// limiter, and response cache, in that order.
//
// Option resolution (item-local > group-common > gateway-common > default)
// is deliberately hand-written rather than built on config.MergeNonZero's
// reflection-based merge: spec §9 calls this out as a case where the
// precedence chain has to hold even when a zero value ("" wait, jitter=0)
// is a meaningful override, which a generic "non-zero wins" merge cannot
// express. See DESIGN.md.
package gateway

import (
	"context"

	"github.com/wudi/stablegate/internal/backpressure"
	"github.com/wudi/stablegate/internal/byroute"
	"github.com/wudi/stablegate/internal/cache"
	"github.com/wudi/stablegate/internal/circuitbreaker"
	"github.com/wudi/stablegate/internal/concurrency"
	"github.com/wudi/stablegate/internal/ratelimiter"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/retrybudget"
	"github.com/wudi/stablegate/internal/stableerrors"
	"github.com/wudi/stablegate/internal/stablereq"
)

// ItemType tags a GatewayItem's kind.
type ItemType string

const (
	ItemRequest  ItemType = "REQUEST"
	ItemFunction ItemType = "FUNCTION"
)

// GatewayFunction is an arbitrary unit of work batched alongside HTTP
// requests.
type GatewayFunction func(ctx context.Context) ([]byte, error)

// RequestOptions is the per-item override of StableRequestSpec fields a
// caller may leave unset to inherit group/gateway/default values. Pointer
// fields distinguish "unset" from the zero value, which is what makes the
// item>group>common>default precedence chain correct even for fields
// whose meaningful override is itself zero (e.g. Wait=0, Jitter=0).
type RequestOptions struct {
	Attempts           *int
	PerformAllAttempts *bool
	Wait               *int64 // milliseconds
	RetryStrategy      *retry.Strategy
	Jitter             *float64
	MaxAllowedWait     *int64 // milliseconds
	ResReq             *bool
	LogAllErrors       *bool
	LogAllSuccessfulAttempts *bool

	ResponseAnalyzer   stablereq.ResponseAnalyzer
	FinalErrorAnalyzer stablereq.FinalErrorAnalyzer
	HandleErrors       func(stablereq.ErrorLogEntry)
	HandleSuccessfulAttemptData func(stablereq.SuccessLogEntry)

	TrialMode *adapterTrialMode
}

// adapterTrialMode mirrors adapter.TrialModeConfig's fields for option
// resolution's pointer wrapping.
type adapterTrialMode struct {
	Enabled                 bool
	ReqFailureProbability   float64
	RetryFailureProbability float64
}

// GatewayRequest is one REQUEST-type batch item.
type GatewayRequest struct {
	ID      string
	GroupID string
	Request stablereq.Request
	Options RequestOptions
}

// GatewayItem is the tagged union of REQUEST/FUNCTION batch items.
type GatewayItem struct {
	Type     ItemType
	Request  *GatewayRequest
	Function *GatewayFunctionItem
}

// GatewayFunctionItem is one FUNCTION-type batch item.
type GatewayFunctionItem struct {
	ID   string
	Fn   GatewayFunction
	Opts RequestOptions
}

// RequestGroup names a set of items sharing commonConfig overrides.
type RequestGroup struct {
	ID           string
	CommonConfig RequestOptions
}

// Options is the gateway-wide configuration (spec §3, GatewayOptions).
type Options struct {
	Common              RequestOptions
	RequestGroups       []RequestGroup
	ConcurrentExecution bool // zero value false runs items sequentially; phase.Execute sets true unless the phase overrides it
	StopOnFirstError    bool

	CircuitBreaker *circuitbreaker.Breaker
	RateLimiter    *ratelimiter.Limiter
	Concurrency    *concurrency.Limiter
	Cache          *cache.Cache
	RetryBudget    *retrybudget.Budget

	// CircuitBreakers/RateLimiters/Backpressures key per-request-group
	// overrides of the shared fields above by RequestGroup.ID. A group
	// with no entry falls back to the gateway-wide CircuitBreaker/
	// RateLimiter; backpressure has no gateway-wide equivalent so a group
	// with no entry simply observes nothing.
	CircuitBreakers *circuitbreaker.ByRoute
	RateLimiters    *ratelimiter.ByRoute
	Backpressures   *backpressure.ByRoute

	Default RequestOptions // library-wide defaults, lowest precedence
}

// breakerFor resolves the circuit breaker guarding groupID: a per-group
// override from CircuitBreakers if one was registered, else the gateway-
// wide CircuitBreaker.
func breakerFor(opts Options, groupID string) *circuitbreaker.Breaker {
	if opts.CircuitBreakers != nil && groupID != "" {
		if b, ok := opts.CircuitBreakers.Get(groupID); ok {
			return b
		}
	}
	return opts.CircuitBreaker
}

// limiterFor resolves the rate limiter guarding groupID, mirroring
// breakerFor's fallback rule.
func limiterFor(opts Options, groupID string) *ratelimiter.Limiter {
	if opts.RateLimiters != nil && groupID != "" {
		if l, ok := opts.RateLimiters.Get(groupID); ok {
			return l
		}
	}
	return opts.RateLimiter
}

// backpressureFor resolves the backpressure handler observing groupID's
// responses, if one was registered for that group.
func backpressureFor(opts Options, groupID string) *backpressure.Backpressure {
	if opts.Backpressures == nil || groupID == "" {
		return nil
	}
	bp, _ := opts.Backpressures.Get(groupID)
	return bp
}

// Response is one item's result (spec §3, GatewayResponse).
type Response struct {
	RequestID string
	GroupID   string
	Success   bool
	Data      []byte
	Error     error
	Type      ItemType
}

// groupOptions resolves groupID's CommonConfig through a byroute.Manager
// built from opts.RequestGroups, the same per-key registry abstraction
// internal/circuitbreaker, internal/ratelimiter and internal/backpressure
// use for their own per-group overrides (see Options.CircuitBreakers et
// al. above), rather than a hand-duplicated map/slice scan.
func groupOptions(opts Options, groupID string) (RequestOptions, bool) {
	if groupID == "" {
		return RequestOptions{}, false
	}
	mgr := byroute.New[RequestOptions]()
	for _, g := range opts.RequestGroups {
		mgr.Add(g.ID, g.CommonConfig)
	}
	return mgr.Get(groupID)
}

// resolve merges item-local > group-common > gateway-common > default.
func resolve(opts Options, groupID string, local RequestOptions) RequestOptions {
	group, _ := groupOptions(opts, groupID)
	layers := []RequestOptions{opts.Default, opts.Common, group, local}

	var r RequestOptions
	for _, l := range layers {
		if l.Attempts != nil {
			r.Attempts = l.Attempts
		}
		if l.PerformAllAttempts != nil {
			r.PerformAllAttempts = l.PerformAllAttempts
		}
		if l.Wait != nil {
			r.Wait = l.Wait
		}
		if l.RetryStrategy != nil {
			r.RetryStrategy = l.RetryStrategy
		}
		if l.Jitter != nil {
			r.Jitter = l.Jitter
		}
		if l.MaxAllowedWait != nil {
			r.MaxAllowedWait = l.MaxAllowedWait
		}
		if l.ResReq != nil {
			r.ResReq = l.ResReq
		}
		if l.LogAllErrors != nil {
			r.LogAllErrors = l.LogAllErrors
		}
		if l.LogAllSuccessfulAttempts != nil {
			r.LogAllSuccessfulAttempts = l.LogAllSuccessfulAttempts
		}
		if l.ResponseAnalyzer != nil {
			r.ResponseAnalyzer = l.ResponseAnalyzer
		}
		if l.FinalErrorAnalyzer != nil {
			r.FinalErrorAnalyzer = l.FinalErrorAnalyzer
		}
		if l.HandleErrors != nil {
			r.HandleErrors = l.HandleErrors
		}
		if l.HandleSuccessfulAttemptData != nil {
			r.HandleSuccessfulAttemptData = l.HandleSuccessfulAttemptData
		}
		if l.TrialMode != nil {
			r.TrialMode = l.TrialMode
		}
	}
	return r
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}
