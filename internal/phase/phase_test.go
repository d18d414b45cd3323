package phase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/gateway"
)

func funcItem(id string, delay time.Duration, err error) gateway.GatewayItem {
	return gateway.GatewayItem{Type: gateway.ItemFunction, Function: &gateway.GatewayFunctionItem{
		ID: id,
		Fn: func(ctx context.Context) ([]byte, error) {
			if delay > 0 {
				time.Sleep(delay)
			}
			if err != nil {
				return nil, err
			}
			return []byte("ok"), nil
		},
	}}
}

func TestExecuteCountsSuccessAndFailure(t *testing.T) {
	items := []gateway.GatewayItem{
		funcItem("a", 0, nil),
		funcItem("b", 0, errors.New("boom")),
	}
	result, err := Execute(context.Background(), Spec{ID: "p1", Items: items}, gateway.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %+v", result)
	}
}

func TestExecuteTimesOutLongRunningPhase(t *testing.T) {
	items := []gateway.GatewayItem{funcItem("slow", 50*time.Millisecond, nil)}
	_, err := Execute(context.Background(), Spec{ID: "p1", Items: items, MaxTimeout: 5 * time.Millisecond}, gateway.Options{})
	if err == nil {
		t.Fatal("expected phase to time out")
	}
}

func TestExecuteRecordsCompletionInSharedBuffer(t *testing.T) {
	buf := buffer.New(time.Second)
	items := []gateway.GatewayItem{funcItem("a", 0, nil)}
	_, err := Execute(context.Background(), Spec{ID: "p1", Items: items, SharedBuffer: buf}, gateway.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := buf.Read()
	phases, ok := snap["phases"].(map[string]any)
	if !ok {
		t.Fatal("expected buffer to record a phases entry")
	}
	if _, ok := phases["p1"]; !ok {
		t.Fatal("expected phase p1's completion to be recorded")
	}
}

func TestExecuteEnforcesMetricsGuardrails(t *testing.T) {
	items := []gateway.GatewayItem{funcItem("a", 0, errors.New("boom"))}
	guardErr := errors.New("guardrail tripped")
	_, err := Execute(context.Background(), Spec{
		ID:    "p1",
		Items: items,
		MetricsGuardrails: func(r Result) error {
			if r.Failed > 0 {
				return guardErr
			}
			return nil
		},
	}, gateway.Options{})
	if err != guardErr {
		t.Fatalf("expected guardrail error to propagate, got %v", err)
	}
}
