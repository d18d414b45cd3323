package workflow

import (
	"context"
	"testing"

	"github.com/wudi/stablegate/internal/byroute"
	"github.com/wudi/stablegate/internal/circuitbreaker"
	"github.com/wudi/stablegate/internal/config"
	"github.com/wudi/stablegate/internal/gateway"
	"github.com/wudi/stablegate/internal/phase"
)

func okPhaseNode(id string) Node {
	return Node{ID: id, Type: NodePhase, Phase: &phase.Spec{
		ID: id,
		Items: []gateway.GatewayItem{{
			Type:     gateway.ItemFunction,
			Function: &gateway.GatewayFunctionItem{ID: id, Fn: func(ctx context.Context) ([]byte, error) { return []byte("ok"), nil }},
		}},
	}}
}

func TestExecuteTraversesLinearGraph(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{
			"start": okPhaseNode("start"),
			"end":   okPhaseNode("end"),
		},
		Edges:      map[string][]Edge{"start": {{To: "end"}}},
		EntryPoint: "start",
	}
	result, err := Execute(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.History) != 2 || result.History[0] != "start" || result.History[1] != "end" {
		t.Fatalf("expected history [start end], got %v", result.History)
	}
}

func TestExecuteRunsParallelGroupChildrenOnce(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{
			"fan": {ID: "fan", Type: NodeParallelGroup, ParallelNodes: []string{"a", "b"}},
			"a":   okPhaseNode("a"),
			"b":   okPhaseNode("b"),
		},
		EntryPoint: "fan",
	}
	result, err := Execute(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Results["a"]; !ok {
		t.Fatal("expected parallel child a to have run")
	}
	if _, ok := result.Results["b"]; !ok {
		t.Fatal("expected parallel child b to have run")
	}
}

func TestExecuteMergePointWaitsForAllDependencies(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{
			"fan":   {ID: "fan", Type: NodeParallelGroup, ParallelNodes: []string{"a", "b"}},
			"a":     okPhaseNode("a"),
			"b":     okPhaseNode("b"),
			"merge": {ID: "merge", Type: NodeMergePoint, WaitForNodes: []string{"a", "b"}},
		},
		Edges: map[string][]Edge{
			"a": {{To: "merge"}},
			"b": {{To: "merge"}},
		},
		EntryPoint: "fan",
	}
	result, err := Execute(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Results["merge"]; !ok {
		t.Fatal("expected merge node to run once both dependencies completed")
	}
}

func TestExecuteConditionalEdgeFollowsSuccessPath(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{
			"start": okPhaseNode("start"),
			"ok":    okPhaseNode("ok"),
			"fail":  okPhaseNode("fail"),
		},
		Edges: map[string][]Edge{
			"start": {
				{To: "ok", Condition: &Condition{Type: ConditionSuccess}},
				{To: "fail", Condition: &Condition{Type: ConditionFailure}},
			},
		},
		EntryPoint: "start",
	}
	result, err := Execute(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Results["ok"]; !ok {
		t.Fatal("expected the SUCCESS-conditioned edge to be followed")
	}
	if _, ok := result.Results["fail"]; ok {
		t.Fatal("did not expect the FAILURE-conditioned edge to be followed")
	}
}

func TestExecuteAppliesPerNodeCircuitBreakerOverride(t *testing.T) {
	openBreaker := circuitbreaker.New(config.CircuitBreakerConfig{FailureThresholdPercentage: 1, MinimumRequests: 1, RecoveryTimeout: 0})
	openBreaker.RecordFailure()

	overrides := byroute.New[NodeOverride]()
	overrides.Add("shaped", NodeOverride{CircuitBreaker: openBreaker})

	g := Graph{
		Nodes: map[string]Node{
			"unshaped": okPhaseNode("unshaped"),
			"shaped":   okPhaseNode("shaped"),
		},
		EntryPoint:    "unshaped",
		Edges:         map[string][]Edge{"unshaped": {{To: "shaped"}}},
		NodeOverrides: overrides,
	}

	result, err := Execute(context.Background(), g, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Results["unshaped"].Success {
		t.Fatal("expected the node with no override to run against the (nil) shared breaker and succeed")
	}
	if result.Results["shaped"].Success {
		t.Fatal("expected the overridden node to fail fast behind its forced-open breaker")
	}
}

func TestExecuteRejectsInvalidGraphUnlessSkipped(t *testing.T) {
	g := Graph{
		Nodes:      map[string]Node{"start": okPhaseNode("start")},
		Edges:      map[string][]Edge{"start": {{To: "missing"}}},
		EntryPoint: "start",
	}
	if _, err := Execute(context.Background(), g, Options{}); err == nil {
		t.Fatal("expected validation to reject an edge to a missing node")
	}
	if _, err := Execute(context.Background(), g, Options{SkipValidation: true}); err != nil {
		t.Fatalf("expected SkipValidation to bypass the check, got %v", err)
	}
}
