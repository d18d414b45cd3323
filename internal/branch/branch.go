// Package branch implements the branch executor described in spec §4.8
// (component K): an ordered/parallel sequence of phases with
// jump/terminate decisions made by a branchDecisionHook between branches.
package branch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/stablegate/internal/buffer"
	"github.com/wudi/stablegate/internal/gateway"
	"github.com/wudi/stablegate/internal/logging"
	"github.com/wudi/stablegate/internal/phase"
)

// Action is the branchDecisionHook's directive, per spec §4.8.
type Action string

const (
	ActionContinue  Action = "CONTINUE"
	ActionTerminate Action = "TERMINATE"
	ActionJump      Action = "JUMP"
)

// Decision is what a branchDecisionHook returns after one branch runs.
type Decision struct {
	Action         Action
	TargetBranchID string
	Metadata       map[string]any
}

// Branch is one node of the branch executor's ordered/parallel sequence
// (spec §3, Branch).
type Branch struct {
	ID                 string
	Phases             []phase.Spec
	ExecuteInParallel  bool
	BranchDecisionHook func(Result) Decision
}

// Result is one branch's outcome.
type Result struct {
	BranchID      string
	PhaseResults  []phase.Result
	HasError      bool
}

// ExecutionResult is the whole branch-executor run's outcome.
type ExecutionResult struct {
	BranchResults   []Result
	TerminatedEarly bool
}

// Options carries the shared infrastructure passed down to every phase.
type Options struct {
	Gateway               gateway.Options
	SharedBuffer          *buffer.Buffer
	StopOnFirstPhaseError bool
}

// Execute runs branches, partitioned into a parallel set (run concurrently,
// awaited together) and a serial set (iterated by index), per spec §4.8.
func Execute(ctx context.Context, branches []Branch, opts Options) ExecutionResult {
	var parallel, serial []Branch
	for _, b := range branches {
		if b.ExecuteInParallel {
			parallel = append(parallel, b)
		} else {
			serial = append(serial, b)
		}
	}

	var exec ExecutionResult

	if len(parallel) > 0 {
		var wg sync.WaitGroup
		results := make([]Result, len(parallel))
		wg.Add(len(parallel))
		for i, b := range parallel {
			go func(i int, b Branch) {
				defer wg.Done()
				results[i] = runBranch(ctx, b, opts)
			}(i, b)
		}
		wg.Wait()
		exec.BranchResults = append(exec.BranchResults, results...)
	}

	index := 0
	for index < len(serial) {
		b := serial[index]
		result := runBranch(ctx, b, opts)
		exec.BranchResults = append(exec.BranchResults, result)

		if opts.StopOnFirstPhaseError && result.HasError {
			exec.TerminatedEarly = true
			break
		}

		if b.BranchDecisionHook == nil {
			index++
			continue
		}

		decision := safeDecision(b.BranchDecisionHook, result)
		switch decision.Action {
		case ActionTerminate:
			exec.TerminatedEarly = true
			index = len(serial)
		case ActionJump:
			target := indexOfBranch(serial, decision.TargetBranchID)
			if target <= index {
				logging.Warn("branch_jump_illegal",
					zap.String("from", b.ID),
					zap.String("to", decision.TargetBranchID))
				index++
			} else {
				index = target
			}
		default:
			index++
		}
	}

	return exec
}

func runBranch(ctx context.Context, b Branch, opts Options) Result {
	result := Result{BranchID: b.ID}
	for _, p := range b.Phases {
		p.SharedBuffer = opts.SharedBuffer
		pr, err := phase.Execute(ctx, p, opts.Gateway)
		result.PhaseResults = append(result.PhaseResults, pr)
		if err != nil || pr.Failed > 0 {
			result.HasError = true
			if opts.StopOnFirstPhaseError {
				break
			}
		}
	}
	return result
}

func indexOfBranch(branches []Branch, id string) int {
	for i, b := range branches {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func safeDecision(hook func(Result) Decision, result Result) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = Decision{Action: ActionContinue}
		}
	}()
	return hook(result)
}
