// Package asyncmgr implements the async polling manager: a task registry
// atop a relational store, backed by a bounded worker pool rather than a
// goroutine per task (spec.md §4.6). Grounded on engine/engine.go and
// engine/context.go's Engine/WorkflowState machinery, generalized from a
// workflow DSL with activities and timers down to "run one
// orchestrator.MakeRequest, persist one Task row." The teacher's
// one-event-loop-per-task pattern (pollActivityResult/Sleep goroutines) is
// replaced with the bounded-pool dispatch model per spec.md §9.
package asyncmgr

import (
	"time"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
)

// Status is one of the Task entity's lifecycle states (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions enumerates the monotonic status graph (spec.md §3
// invariant): pending->running->{completed|failed}; pending->cancelled;
// running->cancelled.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// IsTerminal reports whether status is one of the call's final states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is one row of the async polling manager's store (spec.md §3 /
// §6 schema).
type Task struct {
	ID          string
	Status      Status
	Config      message.CallConfig
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *llm.Response
	Err         *gatewayerr.Error
	Progress    string
}

// View is the read-only projection returned by GetStatus/ListActive; it
// never exposes the mutable Task value callers could otherwise race on.
type View struct {
	ID          string
	Status      Status
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *llm.Response
	Err         *gatewayerr.Error
	Progress    string
}

func (t Task) view() View {
	return View{
		ID:          t.ID,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Result:      t.Result,
		Err:         t.Err,
		Progress:    t.Progress,
	}
}
