package stablereq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/adapter"
	"github.com/wudi/stablegate/internal/retry"
	"github.com/wudi/stablegate/internal/stableerrors"
)

// scriptedAdapter returns one scripted outcome per call, in order, then
// repeats the last outcome if Do is called more times than scripted.
type scriptedAdapter struct {
	calls   int
	outcome []func() (*adapter.Response, error)
}

func (s *scriptedAdapter) Do(cfg adapter.RequestConfig) (*adapter.Response, error) {
	i := s.calls
	if i >= len(s.outcome) {
		i = len(s.outcome) - 1
	}
	s.calls++
	return s.outcome[i]()
}

func okResp(status int) func() (*adapter.Response, error) {
	return func() (*adapter.Response, error) { return &adapter.Response{Status: status, Data: []byte("ok")}, nil }
}

func failResp(status int) func() (*adapter.Response, error) {
	return func() (*adapter.Response, error) {
		return nil, stableerrors.New(stableerrors.KindTransport, "fail").WithStatusCode(status)
	}
}

func baseSpec() Spec {
	return Spec{
		Request: Request{Hostname: "example.com", Path: "/x", Method: "GET"},
		ResReq:  true,
	}
}

// TestRetryThenSucceedFixed implements spec §8 scenario S1.
func TestRetryThenSucceedFixed(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(500), failResp(500), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 3
	spec.Wait = 10 * time.Millisecond
	spec.RetryStrategy = retry.Fixed
	spec.Adapter = ad

	start := time.Now()
	outcome, err := Execute(spec)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(outcome.Data) != "ok" {
		t.Fatalf("got data %q, want ok", outcome.Data)
	}
	if elapsed < 18*time.Millisecond {
		t.Fatalf("elapsed %v too short for 2 fixed 10ms sleeps", elapsed)
	}
	if ad.calls != 3 {
		t.Fatalf("got %d adapter calls, want 3", ad.calls)
	}
}

func TestNonRetryableStopsImmediately(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(400)}}
	spec := baseSpec()
	spec.Attempts = 5
	spec.Wait = 10 * time.Millisecond
	spec.Adapter = ad

	_, err := Execute(spec)
	if err == nil {
		t.Fatal("expected error")
	}
	if ad.calls != 1 {
		t.Fatalf("got %d calls, want 1 (non-retryable should stop immediately)", ad.calls)
	}
}

func TestPerformAllAttemptsContinuesPastNonRetryable(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(400), failResp(400), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 3
	spec.PerformAllAttempts = true
	spec.Adapter = ad

	outcome, err := Execute(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ad.calls != 3 {
		t.Fatalf("got %d calls, want 3", ad.calls)
	}
	if string(outcome.Data) != "ok" {
		t.Fatalf("got %q, want ok (last successful data wins)", outcome.Data)
	}
}

func TestAnalyzerRejectionForcesRetry(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){okResp(200), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 2
	calls := 0
	spec.ResponseAnalyzer = func(Request, *adapter.Response, bool) bool {
		calls++
		return calls > 1
	}
	spec.Adapter = ad

	outcome, err := Execute(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ad.calls != 2 {
		t.Fatalf("got %d calls, want 2", ad.calls)
	}
	if string(outcome.Data) != "ok" {
		t.Fatalf("got %q", outcome.Data)
	}
}

func TestAnalyzerPanicTreatedAsRejection(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){okResp(200), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 2
	spec.ResponseAnalyzer = func(Request, *adapter.Response, bool) bool {
		panic("boom")
	}
	spec.Adapter = ad

	_, err := Execute(spec)
	if err == nil {
		t.Fatal("expected error since analyzer always rejects (via panic)")
	}
	if ad.calls != 2 {
		t.Fatalf("got %d calls, want 2 (attempts exhausted)", ad.calls)
	}
}

func TestFinalErrorAnalyzerSuppresses(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(400)}}
	spec := baseSpec()
	spec.Attempts = 1
	spec.FinalErrorAnalyzer = func(Request, error, bool) bool { return true }
	spec.Adapter = ad

	outcome, err := Execute(spec)
	if err != nil {
		t.Fatalf("expected suppressed failure, got error: %v", err)
	}
	if !outcome.Suppressed {
		t.Fatal("expected Suppressed=true")
	}
}

func TestFinalErrorAnalyzerDefaultSurfacesError(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(500)}}
	spec := baseSpec()
	spec.Attempts = 1
	spec.Adapter = ad

	_, err := Execute(spec)
	if err == nil {
		t.Fatal("expected error to surface by default")
	}
}

func TestLogAllErrorsInvokesHandleErrors(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(500), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 2
	spec.Wait = time.Millisecond
	spec.LogAllErrors = true
	var entries []ErrorLogEntry
	spec.HandleErrors = func(e ErrorLogEntry) { entries = append(entries, e) }
	spec.Adapter = ad

	if _, err := Execute(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d error log entries, want 1", len(entries))
	}
	if entries[0].StatusCode != 500 {
		t.Fatalf("got status %d, want 500", entries[0].StatusCode)
	}
}

func TestLogAllSuccessfulAttemptsInvokesHandler(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 1
	spec.LogAllSuccessfulAttempts = true
	var entries []SuccessLogEntry
	spec.HandleSuccessfulAttemptData = func(e SuccessLogEntry) { entries = append(entries, e) }
	spec.Adapter = ad

	if _, err := Execute(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d success log entries, want 1", len(entries))
	}
}

func TestResReqFalseReturnsNoData(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){okResp(200)}}
	spec := baseSpec()
	spec.ResReq = false
	spec.Attempts = 1
	spec.Adapter = ad

	outcome, err := Execute(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Data != nil {
		t.Fatalf("got data %q, want nil since ResReq=false", outcome.Data)
	}
}

func TestInvalidTrialModeProbabilityRejected(t *testing.T) {
	spec := baseSpec()
	spec.Attempts = 1
	spec.TrialMode.Enabled = true
	spec.TrialMode.ReqFailureProbability = 1.5

	_, err := Execute(spec)
	if err == nil {
		t.Fatal("expected validation error for out-of-range probability")
	}
	if !stableerrors.Is(err, stableerrors.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestCancellationDuringRetryDelayAborts(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){failResp(500), okResp(200)}}
	spec := baseSpec()
	spec.Attempts = 2
	spec.Wait = 200 * time.Millisecond
	spec.Adapter = ad

	ctx, cancel := context.WithCancel(context.Background())
	spec.Request.Context = ctx
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Execute(spec)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !stableerrors.Is(err, stableerrors.KindCancellation) {
		t.Fatalf("expected KindCancellation, got %v", err)
	}
}

func TestAttemptsDefaultsToOne(t *testing.T) {
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){okResp(200)}}
	spec := baseSpec()
	spec.Adapter = ad

	if _, err := Execute(spec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ad.calls != 1 {
		t.Fatalf("got %d calls, want 1", ad.calls)
	}
}

func TestOutcomeCarriesLastResponseOnClassifiedFailure(t *testing.T) {
	throttled := func() (*adapter.Response, error) {
		return &adapter.Response{Status: 429, Headers: map[string][]string{"Retry-After": {"2"}}},
			stableerrors.New(stableerrors.KindTransport, "throttled").WithStatusCode(429)
	}
	ad := &scriptedAdapter{outcome: []func() (*adapter.Response, error){throttled}}
	spec := baseSpec()
	spec.Attempts = 1
	spec.Adapter = ad

	outcome, err := Execute(spec)
	if err == nil {
		t.Fatal("expected the 429 to surface as an error")
	}
	if outcome.LastResponse == nil || outcome.LastResponse.Status != 429 {
		t.Fatalf("expected LastResponse to carry the 429 response, got %+v", outcome.LastResponse)
	}
	if got := outcome.LastResponse.Headers.Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After header to survive onto LastResponse, got %q", got)
	}
}

func TestErrCodeAndStatusCodeExtraction(t *testing.T) {
	err := stableerrors.New(stableerrors.KindTransport, "x").WithStatusCode(503).WithCode("ECONNRESET")
	if errStatusCode(err) != 503 {
		t.Fatalf("got %d, want 503", errStatusCode(err))
	}
	if errCode(err) != "ECONNRESET" {
		t.Fatalf("got %q, want ECONNRESET", errCode(err))
	}
	generic := errors.New("plain")
	if errStatusCode(generic) != 0 || errCode(generic) != "" {
		t.Fatal("non-StableError should yield zero values")
	}
}
