package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequestIncrementsCounters(t *testing.T) {
	r := New()
	r.RecordRequest("checkout", "success", 10*time.Millisecond)
	r.RecordRequest("checkout", "failure", 5*time.Millisecond)

	if got := testutil.ToFloat64(r.requestsTotal.WithLabelValues("checkout", "success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(r.requestFailures.WithLabelValues("checkout")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestRecordCacheHitMiss(t *testing.T) {
	r := New()
	r.RecordCacheHit("checkout")
	r.RecordCacheHit("checkout")
	r.RecordCacheMiss("checkout")

	if got := testutil.ToFloat64(r.cacheHits.WithLabelValues("checkout")); got != 2 {
		t.Fatalf("expected 2 cache hits, got %v", got)
	}
}

func TestSnapshotErrorRate(t *testing.T) {
	snap := Snapshot{Requests: 10, Failures: 2}
	if rate := snap.ErrorRate(); rate != 20 {
		t.Fatalf("expected error rate 20, got %v", rate)
	}
	if (Snapshot{}).ErrorRate() != 0 {
		t.Fatal("expected 0 error rate with no requests")
	}
}

func TestGuardrailsCheckFlagsErrorRateViolation(t *testing.T) {
	g := Guardrails{MaxErrorRatePercent: 10}
	err := g.Check(Snapshot{Requests: 10, Failures: 5})
	if err == nil {
		t.Fatal("expected a 50% error rate to violate a 10% guardrail")
	}
}

func TestGuardrailsCheckFlagsCacheHitRateViolation(t *testing.T) {
	g := Guardrails{MinCacheHitRatePercent: 90}
	err := g.Check(Snapshot{Requests: 10, CacheHits: 1, CacheMisses: 9})
	if err == nil {
		t.Fatal("expected a 10% hit rate to violate a 90% minimum guardrail")
	}
}

func TestGuardrailsCheckFlagsRetryRateViolation(t *testing.T) {
	g := Guardrails{MaxRetriesPerRequest: 1}
	err := g.Check(Snapshot{Requests: 10, Retries: 30})
	if err == nil {
		t.Fatal("expected 3 retries/request to violate a max of 1")
	}
}

func TestGuardrailsCheckPassesWithinThresholds(t *testing.T) {
	g := Guardrails{MaxErrorRatePercent: 50, MinCacheHitRatePercent: 10, MaxRetriesPerRequest: 5}
	if err := g.Check(Snapshot{Requests: 10, Failures: 1, CacheHits: 5, CacheMisses: 5, Retries: 2}); err != nil {
		t.Fatalf("expected no guardrail violation, got %v", err)
	}
}
