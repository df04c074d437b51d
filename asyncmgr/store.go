package asyncmgr

import "context"

// Mutator applies an in-place update to a Task before it is persisted.
// The bundled Store implementations read the current row, apply the
// Mutator to that copy, and then write the result with a conditional
// status update; no lock is held while it runs, and the write it prepared
// is dropped if the conditional update reports ErrStaleStatus.
type Mutator func(t *Task)

// Store is the relational persistence contract the manager depends on.
// Every status change goes through UpdateStatus, which implements the
// optimistic-concurrency "UPDATE ... WHERE status = ?" pattern from
// spec.md §6: it fails with ErrStaleStatus if the row's current status no
// longer matches expectedStatus.
type Store interface {
	Insert(ctx context.Context, t Task) error
	Get(ctx context.Context, id string) (Task, error)
	UpdateStatus(ctx context.Context, id string, expectedStatus Status, newStatus Status, mutate Mutator) error
	ListByStatus(ctx context.Context, statuses ...Status) ([]Task, error)
}

// ErrStaleStatus is returned by UpdateStatus when the row's status no
// longer matches the caller's expected prior status.
type ErrStaleStatus struct {
	ID       string
	Expected Status
	Actual   Status
}

func (e *ErrStaleStatus) Error() string {
	return "asyncmgr: task " + e.ID + " expected status " + string(e.Expected) + " but found " + string(e.Actual)
}

// ErrNotFound is returned by Get/UpdateStatus when no row matches id.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return "asyncmgr: task " + e.ID + " not found" }
