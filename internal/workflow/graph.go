// Package workflow implements the workflow graph executor and validator
// described in spec §4.9/§4.10 (components L/M): a DAG of
// phase/branch/conditional/parallel/merge nodes.
package workflow

import (
	"context"
	"sync"

	"github.com/wudi/stablegate/internal/branch"
	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/byroute"
	"github.com/wudi/stablegate/internal/circuitbreaker"
	"github.com/wudi/stablegate/internal/concurrency"
	"github.com/wudi/stablegate/internal/gateway"
	"github.com/wudi/stablegate/internal/phase"
	"github.com/wudi/stablegate/internal/ratelimiter"
	"github.com/wudi/stablegate/internal/stableerrors"
)

// NodeType is one of the node kinds named in spec §3.
type NodeType string

const (
	NodePhase         NodeType = "PHASE"
	NodeBranch        NodeType = "BRANCH"
	NodeConditional   NodeType = "CONDITIONAL"
	NodeParallelGroup NodeType = "PARALLEL_GROUP"
	NodeMergePoint    NodeType = "MERGE_POINT"
)

// ConditionType is an edge's traversal condition kind.
type ConditionType string

const (
	ConditionAlways  ConditionType = "ALWAYS"
	ConditionSuccess ConditionType = "SUCCESS"
	ConditionFailure ConditionType = "FAILURE"
	ConditionCustom  ConditionType = "CUSTOM"
)

// Condition gates whether an edge is followed.
type Condition struct {
	Type     ConditionType
	Evaluate func(NodeOutcome) bool // only consulted when Type == ConditionCustom
}

// Edge is a directed edge from one node to another.
type Edge struct {
	To        string
	Condition *Condition // nil == ALWAYS
}

// EvaluateContext is passed to a CONDITIONAL node's evaluator.
type EvaluateContext struct {
	Results         map[string]NodeOutcome
	SharedBuffer    *buffer.Buffer
	ExecutionHistory []string
	CurrentNodeID   string
}

// Node is one vertex of the workflow graph (spec §3, Node).
type Node struct {
	ID   string
	Type NodeType

	Phase *phase.Spec
	Branches []branch.Branch

	Evaluate func(EvaluateContext) string // CONDITIONAL

	ParallelNodes []string // PARALLEL_GROUP
	WaitForNodes  []string // MERGE_POINT
}

// NodeOutcome is the recorded result of having run one node.
type NodeOutcome struct {
	NodeID  string
	Success bool
	Phase   *phase.Result
	Branch  *branch.ExecutionResult
}

// Graph is the full workflow DAG (spec §3, WorkflowGraph).
type Graph struct {
	Nodes       map[string]Node
	Edges       map[string][]Edge
	EntryPoint  string
	ExitPoints  []string

	MaxWorkflowIterations int // default 10000, guards against runaway traversal

	// NodeOverrides shapes the shared gateway resources a single PHASE
	// node's items run behind, keyed by Node.ID. A node with no entry
	// inherits Options.Gateway unchanged. Built on the same byroute.Manager
	// registry internal/gateway uses for its per-request-group overrides.
	NodeOverrides *byroute.Manager[NodeOverride]
}

// NodeOverride replaces one or more of a PHASE node's effective gateway
// resources. Nil fields fall back to Options.Gateway's corresponding field.
type NodeOverride struct {
	CircuitBreaker *circuitbreaker.Breaker
	RateLimiter    *ratelimiter.Limiter
	Concurrency    *concurrency.Limiter
}

// Options carries the shared infrastructure threaded through every node.
type Options struct {
	Gateway               gateway.Options
	SharedBuffer          *buffer.Buffer
	StopOnFirstPhaseError bool
	SkipValidation        bool
}

// ExecutionResult is the whole graph run's outcome.
type ExecutionResult struct {
	Results         map[string]NodeOutcome
	History         []string
	StoppedEarly    bool
}

// Execute validates (unless disabled) and runs the graph via depth-first
// traversal from EntryPoint, per spec §4.9.
func Execute(ctx context.Context, g Graph, opts Options) (ExecutionResult, error) {
	if !opts.SkipValidation {
		if errs := Validate(g); len(errs) > 0 {
			return ExecutionResult{}, stableerrors.New(stableerrors.KindValidation, errs[0].Message)
		}
	}

	maxIter := g.MaxWorkflowIterations
	if maxIter <= 0 {
		maxIter = 10000
	}

	e := &executor{
		graph:   g,
		opts:    opts,
		visited: make(map[string]bool),
		results: make(map[string]NodeOutcome),
		maxIter: maxIter,
	}
	e.traverse(ctx, g.EntryPoint)

	return ExecutionResult{Results: e.results, History: e.history, StoppedEarly: e.stoppedEarly}, nil
}

type executor struct {
	graph   Graph
	opts    Options
	visited map[string]bool
	results map[string]NodeOutcome
	history []string
	iter    int
	maxIter int
	stoppedEarly bool
	mu      sync.Mutex
}

func (e *executor) traverse(ctx context.Context, nodeID string) {
	e.mu.Lock()
	if nodeID == "" || e.stoppedEarly {
		e.mu.Unlock()
		return
	}
	e.iter++
	if e.iter > e.maxIter {
		e.stoppedEarly = true
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	node, ok := e.graph.Nodes[nodeID]
	if !ok {
		return
	}

	if node.Type == NodeMergePoint {
		e.mu.Lock()
		for _, dep := range node.WaitForNodes {
			if !e.visited[dep] {
				e.mu.Unlock()
				return // re-entered later from the last dependency
			}
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	if e.visited[nodeID] {
		e.mu.Unlock()
		return
	}
	e.visited[nodeID] = true
	e.history = append(e.history, nodeID)
	e.mu.Unlock()

	outcome := e.runNode(ctx, node)

	e.mu.Lock()
	e.results[nodeID] = outcome
	e.mu.Unlock()

	if e.opts.StopOnFirstPhaseError && !outcome.Success {
		e.stoppedEarly = true
		return
	}

	if node.Type == NodeConditional {
		next := safeEvaluate(node.Evaluate, EvaluateContext{
			Results:          e.results,
			SharedBuffer:     e.opts.SharedBuffer,
			ExecutionHistory: e.history,
			CurrentNodeID:    nodeID,
		})
		e.traverse(ctx, next)
		return
	}

	for _, edge := range e.graph.Edges[nodeID] {
		if e.shouldFollow(edge, outcome) {
			e.traverse(ctx, edge.To)
		}
	}
}

func (e *executor) shouldFollow(edge Edge, outcome NodeOutcome) bool {
	if edge.Condition == nil {
		return true
	}
	switch edge.Condition.Type {
	case ConditionSuccess:
		return outcome.Success
	case ConditionFailure:
		return !outcome.Success
	case ConditionCustom:
		if edge.Condition.Evaluate == nil {
			return false
		}
		return edge.Condition.Evaluate(outcome)
	default: // ALWAYS
		return true
	}
}

func (e *executor) runNode(ctx context.Context, node Node) NodeOutcome {
	switch node.Type {
	case NodePhase:
		if node.Phase == nil {
			return NodeOutcome{NodeID: node.ID, Success: false}
		}
		spec := *node.Phase
		spec.SharedBuffer = e.opts.SharedBuffer
		gatewayOpts := e.gatewayOptsFor(node.ID)
		result, err := phase.Execute(ctx, spec, gatewayOpts)
		return NodeOutcome{NodeID: node.ID, Success: err == nil && result.Failed == 0, Phase: &result}

	case NodeBranch:
		result := branch.Execute(ctx, node.Branches, branch.Options{
			Gateway:               e.opts.Gateway,
			SharedBuffer:          e.opts.SharedBuffer,
			StopOnFirstPhaseError: e.opts.StopOnFirstPhaseError,
		})
		ok := !result.TerminatedEarly
		for _, br := range result.BranchResults {
			if br.HasError {
				ok = false
			}
		}
		return NodeOutcome{NodeID: node.ID, Success: ok, Branch: &result}

	case NodeParallelGroup:
		var wg sync.WaitGroup
		outcomes := make([]NodeOutcome, len(node.ParallelNodes))
		wg.Add(len(node.ParallelNodes))
		for i, childID := range node.ParallelNodes {
			go func(i int, childID string) {
				defer wg.Done()
				e.traverseChild(ctx, childID)
				e.mu.Lock()
				outcomes[i] = e.results[childID]
				e.mu.Unlock()
			}(i, childID)
		}
		wg.Wait()
		ok := true
		for _, o := range outcomes {
			if !o.Success {
				ok = false
			}
		}
		return NodeOutcome{NodeID: node.ID, Success: ok}

	case NodeMergePoint:
		return NodeOutcome{NodeID: node.ID, Success: true}

	default:
		return NodeOutcome{NodeID: node.ID, Success: false}
	}
}

// gatewayOptsFor returns the gateway.Options a PHASE node should run
// behind: e.opts.Gateway with any registered NodeOverride applied on top.
func (e *executor) gatewayOptsFor(nodeID string) gateway.Options {
	opts := e.opts.Gateway
	if e.graph.NodeOverrides == nil {
		return opts
	}
	override, ok := e.graph.NodeOverrides.Get(nodeID)
	if !ok {
		return opts
	}
	if override.CircuitBreaker != nil {
		opts.CircuitBreaker = override.CircuitBreaker
	}
	if override.RateLimiter != nil {
		opts.RateLimiter = override.RateLimiter
	}
	if override.Concurrency != nil {
		opts.Concurrency = override.Concurrency
	}
	return opts
}

// traverseChild runs a PARALLEL_GROUP child's own subgraph traversal,
// guarded by the shared visited set so a node reachable from two parallel
// branches still executes exactly once.
func (e *executor) traverseChild(ctx context.Context, nodeID string) {
	e.mu.Lock()
	already := e.visited[nodeID]
	e.mu.Unlock()
	if already {
		return
	}
	e.traverse(ctx, nodeID)
}

func safeEvaluate(fn func(EvaluateContext) string, ectx EvaluateContext) (next string) {
	defer func() {
		if r := recover(); r != nil {
			next = ""
		}
	}()
	if fn == nil {
		return ""
	}
	return fn(ectx)
}
