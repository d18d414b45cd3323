package workflow

import "testing"

func TestValidateCatchesMissingEntryPoint(t *testing.T) {
	issues := Validate(Graph{Nodes: map[string]Node{"a": okPhaseNode("a")}})
	if len(issues) == 0 {
		t.Fatal("expected a missing entryPoint to be flagged")
	}
}

func TestValidateCatchesUnknownEdgeTarget(t *testing.T) {
	g := Graph{
		Nodes:      map[string]Node{"a": okPhaseNode("a")},
		Edges:      map[string][]Edge{"a": {{To: "missing"}}},
		EntryPoint: "a",
	}
	issues := Validate(g)
	if len(issues) == 0 {
		t.Fatal("expected an edge to an unknown node to be flagged")
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	g := Graph{
		Nodes: map[string]Node{"a": okPhaseNode("a"), "b": okPhaseNode("b")},
		Edges: map[string][]Edge{
			"a": {{To: "b"}},
			"b": {{To: "a"}},
		},
		EntryPoint: "a",
	}
	issues := Validate(g)
	found := false
	for _, issue := range issues {
		if issue.Message != "" && issue.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the a->b->a cycle to be flagged")
	}
}

func TestValidateAcceptsWellFormedGraph(t *testing.T) {
	g := Graph{
		Nodes:      map[string]Node{"a": okPhaseNode("a"), "b": okPhaseNode("b")},
		Edges:      map[string][]Edge{"a": {{To: "b"}}},
		EntryPoint: "a",
		ExitPoints: []string{"b"},
	}
	if issues := Validate(g); len(issues) != 0 {
		t.Fatalf("expected no errors for a well-formed graph, got %+v", issues)
	}
}

func TestWarningsFlagsUnreachableNode(t *testing.T) {
	g := Graph{
		Nodes:      map[string]Node{"a": okPhaseNode("a"), "orphan": okPhaseNode("orphan")},
		EntryPoint: "a",
	}
	warnings := Warnings(g)
	found := false
	for _, w := range warnings {
		if w.NodeID == "orphan" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the disconnected node to be flagged as unreachable")
	}
}

func TestWarningsSkipsEntryAndExitPoints(t *testing.T) {
	g := Graph{
		Nodes:      map[string]Node{"a": okPhaseNode("a")},
		EntryPoint: "a",
		ExitPoints: []string{"a"},
	}
	for _, w := range Warnings(g) {
		if w.NodeID == "a" {
			t.Fatalf("did not expect the entry/exit node to be flagged as an orphan: %+v", w)
		}
	}
}
