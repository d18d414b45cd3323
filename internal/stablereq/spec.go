// Package stablereq implements the stableRequest engine (spec §4.1,
// component D): the per-call retry / response-analysis / failure
// classification state machine.
//
// The retry loop walks the stages named in spec §9 (Attempting ->
// AwaitingAnalyzer -> Delaying -> {Retrying|Done|Failed}) as one plain for
// loop over the attempts rather than recursion; there is no separate state
// type.
package stablereq

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/wudi/stablegate/internal/adapter"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/retrybudget"
)

// Request is the value type describing one HTTP call (spec §3, type R).
type Request struct {
	Hostname string
	Protocol string // "http" or "https"
	Port     int
	Method   string // GET, POST, PUT, PATCH, DELETE
	Path     string // must begin with "/"
	Headers  map[string]string
	Body     []byte
	Query    map[string]string
	Timeout  time.Duration // default 15000ms
	Context  context.Context
}

// ResponseAnalyzer inspects a successful transport response and decides
// whether to treat it as a real success. Any panic inside it is recovered
// and treated as "analyzer failed" (forces a retry), per spec §4.1 step 3b.
type ResponseAnalyzer func(req Request, resp *adapter.Response, trialMode bool) bool

// FinalErrorAnalyzer inspects the terminal error after attempts are
// exhausted and decides whether to suppress it into a "handled failure"
// (spec §4.1 step 4). Default: always false (surface the error).
type FinalErrorAnalyzer func(req Request, err error, trialMode bool) bool

// ErrorLogEntry is passed to HandleErrors for every failing attempt when
// LogAllErrors is set.
type ErrorLogEntry struct {
	Attempt       int
	StatusCode    int
	Code          string
	Message       string
	Timestamp     time.Time
	ExecutionTime time.Duration
}

// SuccessLogEntry is passed to HandleSuccessfulAttemptData for every
// successful attempt when LogAllSuccessfulAttempts is set.
type SuccessLogEntry struct {
	Attempt       int
	StatusCode    int
	Data          []byte
	Timestamp     time.Time
	ExecutionTime time.Duration
}

// AttemptObserver lets a circuit breaker configured with
// trackIndividualAttempts (spec §4.3) observe each retry attempt
// individually instead of only the call's final outcome.
type AttemptObserver interface {
	RecordAttemptSuccess()
	RecordAttemptFailure()
}

// Spec is a Request plus the per-call reliability policy (spec §3,
// StableRequestSpec).
type Spec struct {
	Request Request

	Attempts           int // >= 1
	PerformAllAttempts bool
	Wait               time.Duration // >= 0
	RetryStrategy      retry.Strategy
	Jitter             float64
	MaxAllowedWait     time.Duration

	ResReq bool // return body to caller

	ResponseAnalyzer   ResponseAnalyzer   // default: always true
	FinalErrorAnalyzer FinalErrorAnalyzer // default: always false

	HandleErrors                func(ErrorLogEntry)
	HandleSuccessfulAttemptData func(SuccessLogEntry)
	LogAllErrors                bool
	LogAllSuccessfulAttempts    bool

	MaxSerializableChars int // reserved for caller-side log truncation; Execute neither reads it nor applies a default

	TrialMode adapter.TrialModeConfig

	RetryBudget     *retrybudget.Budget // supplemented: see internal/retrybudget
	AttemptObserver AttemptObserver

	Adapter adapter.Adapter // nil => HTTPAdapter, or TrialAdapter when TrialMode.Enabled
}

// normalizedRequestConfig fills in defaults and returns the adapter-shape RequestConfig
// described in spec §4.1 step 2.
func (s *Spec) normalizedRequestConfig() adapter.RequestConfig {
	r := s.Request
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 15000 * time.Millisecond
	}
	protocol := r.Protocol
	if protocol == "" {
		protocol = "http"
	}
	hostname := r.Hostname // empty hostname is a validation warning, injected as "" per spec §9
	baseURL := protocol + "://" + hostname
	if r.Port != 0 {
		baseURL += ":" + strconv.Itoa(r.Port)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	ctx := r.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return adapter.RequestConfig{
		Method:  method,
		BaseURL: baseURL,
		URL:     r.Path,
		Headers: r.Headers,
		Params:  r.Query,
		Data:    r.Body,
		Timeout: timeout,
		Context: ctx,
	}
}
