package workflow

import "fmt"

// Severity distinguishes a hard validation error from a soft warning.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one problem found in a Graph.
type ValidationIssue struct {
	Severity Severity
	NodeID   string
	Message  string
}

// Validate runs the structural checks named in spec §4.10 and returns the
// hard errors. Call Warnings separately for the soft checks.
func Validate(g Graph) []ValidationIssue {
	var issues []ValidationIssue

	if g.EntryPoint == "" {
		issues = append(issues, ValidationIssue{SeverityError, "", "missing entryPoint"})
	} else if _, ok := g.Nodes[g.EntryPoint]; !ok {
		issues = append(issues, ValidationIssue{SeverityError, g.EntryPoint, "entryPoint references unknown node"})
	}

	for _, exit := range g.ExitPoints {
		if _, ok := g.Nodes[exit]; !ok {
			issues = append(issues, ValidationIssue{SeverityError, exit, "exitPoint references unknown node"})
		}
	}

	for from, edges := range g.Edges {
		if _, ok := g.Nodes[from]; !ok {
			issues = append(issues, ValidationIssue{SeverityError, from, "edge list references unknown source node"})
			continue
		}
		for _, e := range edges {
			if _, ok := g.Nodes[e.To]; !ok {
				issues = append(issues, ValidationIssue{SeverityError, from, fmt.Sprintf("edge target %q is unknown", e.To)})
			}
			if e.Condition != nil && e.Condition.Type == ConditionCustom && e.Condition.Evaluate == nil {
				issues = append(issues, ValidationIssue{SeverityError, from, fmt.Sprintf("CUSTOM edge to %q is missing evaluate", e.To)})
			}
		}
	}

	for id, node := range g.Nodes {
		switch node.Type {
		case NodePhase:
			if node.Phase == nil || len(node.Phase.Items) == 0 {
				issues = append(issues, ValidationIssue{SeverityError, id, "PHASE node has no requests"})
			}
		case NodeBranch:
			if len(node.Branches) == 0 {
				issues = append(issues, ValidationIssue{SeverityError, id, "BRANCH node has no phases"})
			}
		case NodeConditional:
			if node.Evaluate == nil {
				issues = append(issues, ValidationIssue{SeverityError, id, "CONDITIONAL node is missing evaluate"})
			}
		case NodeParallelGroup:
			for _, child := range node.ParallelNodes {
				if _, ok := g.Nodes[child]; !ok {
					issues = append(issues, ValidationIssue{SeverityError, id, fmt.Sprintf("PARALLEL_GROUP references unknown node %q", child)})
				}
			}
		case NodeMergePoint:
			for _, dep := range node.WaitForNodes {
				if _, ok := g.Nodes[dep]; !ok {
					issues = append(issues, ValidationIssue{SeverityError, id, fmt.Sprintf("MERGE_POINT references unknown node %q", dep)})
				}
			}
		}
	}

	if cyclePath := findCycle(g); cyclePath != nil {
		issues = append(issues, ValidationIssue{SeverityError, cyclePath[0], fmt.Sprintf("cycle detected: %v", cyclePath)})
	}

	return issues
}

// Warnings runs the soft checks named in spec §4.10: unreachable nodes
// (BFS from entry, also following parallelNodes/waitForNodes) and orphan
// nodes (no in/out edges and not entry/exit).
func Warnings(g Graph) []ValidationIssue {
	var issues []ValidationIssue

	reachable := reachableFrom(g, g.EntryPoint)
	for id := range g.Nodes {
		if !reachable[id] {
			issues = append(issues, ValidationIssue{SeverityWarning, id, "node is unreachable from entryPoint"})
		}
	}

	inDegree := make(map[string]int)
	outDegree := make(map[string]int)
	for from, edges := range g.Edges {
		outDegree[from] += len(edges)
		for _, e := range edges {
			inDegree[e.To]++
		}
	}
	for id, node := range g.Nodes {
		if id == g.EntryPoint || contains(g.ExitPoints, id) {
			continue
		}
		for _, child := range node.ParallelNodes {
			inDegree[child]++
		}
		for _, dep := range node.WaitForNodes {
			outDegree[dep]++
		}
	}
	for id := range g.Nodes {
		if id == g.EntryPoint || contains(g.ExitPoints, id) {
			continue
		}
		if inDegree[id] == 0 && outDegree[id] == 0 {
			issues = append(issues, ValidationIssue{SeverityWarning, id, "orphan node: no inbound or outbound edges"})
		}
	}

	return issues
}

func reachableFrom(g Graph, start string) map[string]bool {
	seen := make(map[string]bool)
	if start == "" {
		return seen
	}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, e := range g.Edges[id] {
			queue = append(queue, e.To)
		}
		if node, ok := g.Nodes[id]; ok {
			queue = append(queue, node.ParallelNodes...)
			queue = append(queue, node.WaitForNodes...)
			if node.Type == NodeConditional {
				// Evaluate's possible targets aren't statically known;
				// conditional fan-out isn't modeled in reachability.
			}
		}
	}
	return seen
}

// findCycle runs DFS with an explicit color map and recursion stack,
// returning the cycle path if one exists.
func findCycle(g Graph) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, e := range g.Edges[id] {
			switch color[e.To] {
			case white:
				if cyc := visit(e.To); cyc != nil {
					return cyc
				}
			case gray:
				idx := indexOf(stack, e.To)
				cyc := append([]string{}, stack[idx:]...)
				return append(cyc, e.To)
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return 0
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
