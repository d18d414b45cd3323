package gateway

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wudi/stablegate/internal/adapter"
	"github.com/wudi/stablegate/internal/cache"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/stableerrors"
	"github.com/wudi/stablegate/internal/stablereq"
)

// Run executes a batch of items per the resolved Options, per spec §4.2.
// ConcurrentExecution defaults to true in the spec; callers building
// Options by hand must set it explicitly since Go's zero value is false.
func Run(ctx context.Context, items []GatewayItem, opts Options) []Response {
	if opts.ConcurrentExecution {
		return runConcurrent(ctx, items, opts)
	}
	return runSequential(ctx, items, opts)
}

func runConcurrent(ctx context.Context, items []GatewayItem, opts Options) []Response {
	results := make([]Response, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))
	for i, item := range items {
		go func(i int, item GatewayItem) {
			defer wg.Done()
			results[i] = runItem(ctx, item, opts)
		}(i, item)
	}
	wg.Wait()
	return results
}

func runSequential(ctx context.Context, items []GatewayItem, opts Options) []Response {
	results := make([]Response, 0, len(items))
	for _, item := range items {
		resp := runItem(ctx, item, opts)
		results = append(results, resp)
		if !resp.Success && opts.StopOnFirstError {
			break
		}
	}
	return results
}

// runItem wraps a single item's execution: circuit-breaker guard ->
// rate-limiter acquire -> concurrency-limiter acquire -> cache lookup ->
// stableRequest -> cache write, per spec §4.2.
func runItem(ctx context.Context, item GatewayItem, opts Options) Response {
	id, groupID, itemType := itemIdentity(item)

	breaker := breakerFor(opts, groupID)
	if breaker != nil && !breaker.CanExecute() {
		return Response{RequestID: id, GroupID: groupID, Type: itemType, Success: false, Error: stableerrors.ErrCircuitBreakerOpen}
	}

	if limiter := limiterFor(opts, groupID); limiter != nil {
		if err := limiter.Acquire(ctx); err != nil {
			return Response{RequestID: id, GroupID: groupID, Type: itemType, Success: false, Error: err}
		}
	}

	if opts.Concurrency != nil {
		if err := opts.Concurrency.Acquire(ctx); err != nil {
			return Response{RequestID: id, GroupID: groupID, Type: itemType, Success: false, Error: err}
		}
		defer opts.Concurrency.Release()
	}

	var cacheKey string
	if opts.Cache != nil && item.Type == ItemRequest {
		cacheKey = cache.Fingerprint(fingerprintOf(item.Request.Request))
		if entry, ok := opts.Cache.Get(cacheKey); ok {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return Response{RequestID: id, GroupID: groupID, Type: itemType, Success: true, Data: entry.Data}
		}
	}

	resp := executeItem(ctx, item, opts)

	if breaker != nil {
		if resp.Success {
			breaker.RecordSuccess()
		} else {
			breaker.RecordFailure()
		}
	}

	if opts.Cache != nil && cacheKey != "" && resp.Success {
		opts.Cache.Set(cacheKey, &cache.Entry{Data: resp.Data})
	}

	return resp
}

func itemIdentity(item GatewayItem) (id, groupID string, t ItemType) {
	if item.Type == ItemRequest && item.Request != nil {
		return item.Request.ID, item.Request.GroupID, ItemRequest
	}
	if item.Type == ItemFunction && item.Function != nil {
		return item.Function.ID, "", ItemFunction
	}
	return "", "", item.Type
}

func fingerprintOf(r stablereq.Request) cache.FingerprintInput {
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return cache.FingerprintInput{
		Method:     r.Method,
		Hostname:   r.Hostname,
		Port:       r.Port,
		Protocol:   r.Protocol,
		Path:       r.Path,
		Query:      r.Query,
		Headers:    r.Headers,
		HeaderKeys: keys,
		Body:       r.Body,
	}
}

func executeItem(ctx context.Context, item GatewayItem, opts Options) Response {
	switch item.Type {
	case ItemRequest:
		return executeRequest(ctx, item.Request, opts)
	case ItemFunction:
		return executeFunction(ctx, item.Function, opts)
	default:
		return Response{Success: false, Error: stableerrors.New(stableerrors.KindValidation, "unknown gateway item type")}
	}
}

func executeRequest(ctx context.Context, gr *GatewayRequest, opts Options) Response {
	ro := resolve(opts, gr.GroupID, gr.Options)

	req := gr.Request
	if req.Context == nil {
		req.Context = ctx
	}

	spec := stablereq.Spec{
		Request:                     req,
		Attempts:                    intOr(ro.Attempts, 1),
		PerformAllAttempts:          boolOr(ro.PerformAllAttempts, false),
		Wait:                        time.Duration(int64Or(ro.Wait, 0)) * time.Millisecond,
		RetryStrategy:               strategyOr(ro.RetryStrategy, retry.Fixed),
		Jitter:                      float64Or(ro.Jitter, 0),
		MaxAllowedWait:              time.Duration(int64Or(ro.MaxAllowedWait, 60000)) * time.Millisecond,
		ResReq:                      boolOr(ro.ResReq, true),
		ResponseAnalyzer:            ro.ResponseAnalyzer,
		FinalErrorAnalyzer:          ro.FinalErrorAnalyzer,
		HandleErrors:                ro.HandleErrors,
		HandleSuccessfulAttemptData: ro.HandleSuccessfulAttemptData,
		LogAllErrors:                boolOr(ro.LogAllErrors, false),
		LogAllSuccessfulAttempts:    boolOr(ro.LogAllSuccessfulAttempts, false),
		RetryBudget:                 opts.RetryBudget,
	}
	if ro.TrialMode != nil {
		spec.TrialMode = adapter.TrialModeConfig{
			Enabled:                 ro.TrialMode.Enabled,
			ReqFailureProbability:   ro.TrialMode.ReqFailureProbability,
			RetryFailureProbability: ro.TrialMode.RetryFailureProbability,
		}
	}

	outcome, err := stablereq.Execute(spec)

	if bp := backpressureFor(opts, gr.GroupID); bp != nil && outcome.LastResponse != nil {
		bp.Observe(outcome.LastResponse, outcome.LastResponse.Headers.Get("Retry-After"))
	}

	if err != nil {
		return Response{RequestID: gr.ID, GroupID: gr.GroupID, Type: ItemRequest, Success: false, Error: err}
	}
	if outcome.Suppressed {
		// spec §4.1 step 4: a finalErrorAnalyzer-suppressed failure "reports
		// handled-failure = success with no data", not a failure signal — see
		// DESIGN.md's Open Question decision on Suppressed outcomes.
		return Response{RequestID: gr.ID, GroupID: gr.GroupID, Type: ItemRequest, Success: true}
	}
	return Response{RequestID: gr.ID, GroupID: gr.GroupID, Type: ItemRequest, Success: true, Data: outcome.Data}
}

func executeFunction(ctx context.Context, gf *GatewayFunctionItem, opts Options) Response {
	data, err := gf.Fn(ctx)
	if err != nil {
		return Response{RequestID: gf.ID, Type: ItemFunction, Success: false, Error: err}
	}
	return Response{RequestID: gf.ID, Type: ItemFunction, Success: true, Data: data}
}

func int64Or(p *int64, def int64) int64 {
	if p != nil {
		return *p
	}
	return def
}

func float64Or(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}

func strategyOr(p *retry.Strategy, def retry.Strategy) retry.Strategy {
	if p != nil {
		return *p
	}
	return def
}
