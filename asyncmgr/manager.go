package asyncmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/core/gatewayerr"
	"github.com/relaygate/core/llm"
	"github.com/relaygate/core/message"
	"github.com/relaygate/core/observability"
)

// pollInterval bounds how often Wait re-checks the store when it has no
// local completion notification for a task (spec.md §4.6 "polls the store
// at a bounded interval").
const pollInterval = 50 * time.Millisecond

// Executor runs one task's CallConfig to completion, exactly what
// orchestrator.MakeRequest would do synchronously.
type Executor func(ctx context.Context, cfg message.CallConfig) (*llm.Response, error)

// Manager is the async polling manager: single scheduling context, bounded
// worker pool for executor calls, all status changes funneled through the
// store's optimistic UpdateStatus (spec.md §4.6).
type Manager struct {
	store    Store
	pool     *pool
	executor Executor
	hooks    *observability.Hooks
	metrics  *observability.Metrics

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	waiters map[string][]chan struct{}
}

// NewManager constructs a Manager with a worker pool capped at
// concurrency (default 10 when <= 0) concurrently running task
// coroutines.
func NewManager(ctx context.Context, store Store, executor Executor, concurrency int, hooks *observability.Hooks, metrics *observability.Metrics) *Manager {
	return &Manager{
		store:    store,
		pool:     newPool(ctx, concurrency),
		executor: executor,
		hooks:    hooks,
		metrics:  metrics,
		cancels:  make(map[string]context.CancelFunc),
		waiters:  make(map[string][]chan struct{}),
	}
}

// Submit inserts a pending Task row and schedules its execution coroutine
// on the pool, returning immediately with the new task's ID.
func (m *Manager) Submit(ctx context.Context, cfg message.CallConfig) (string, error) {
	id := uuid.NewString()
	task := Task{ID: id, Status: StatusPending, Config: cfg, CreatedAt: time.Now()}
	if err := m.store.Insert(ctx, task); err != nil {
		return "", gatewayerr.Wrap(gatewayerr.KindInternal, "failed to persist task", err)
	}
	m.pool.submit(func(poolCtx context.Context) { m.run(poolCtx, id) })
	return id, nil
}

func (m *Manager) run(poolCtx context.Context, id string) {
	startedAt := time.Now()
	err := m.store.UpdateStatus(poolCtx, id, StatusPending, StatusRunning, func(t *Task) { t.StartedAt = &startedAt })
	if err != nil {
		// Another actor (e.g. Cancel) already moved it out of pending.
		return
	}
	m.hooks.SafeTaskStatusChange(poolCtx, id, string(StatusPending), string(StatusRunning))

	taskCtx, cancel := context.WithCancel(poolCtx)
	m.mu.Lock()
	m.cancels[id] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.mu.Unlock()
		cancel()
	}()

	task, getErr := m.store.Get(taskCtx, id)
	if getErr != nil {
		return
	}

	result, execErr := m.executor(taskCtx, task.Config)
	completedAt := time.Now()

	if taskCtx.Err() == context.Canceled {
		_ = m.store.UpdateStatus(poolCtx, id, StatusRunning, StatusCancelled, func(t *Task) { t.CompletedAt = &completedAt })
		m.hooks.SafeTaskStatusChange(poolCtx, id, string(StatusRunning), string(StatusCancelled))
		m.notifyWaiters(id)
			return
	}

	if execErr != nil {
		gerr, ok := gatewayerr.As(execErr)
		if !ok {
			gerr = gatewayerr.Wrap(gatewayerr.KindInternal, "task execution failed", execErr)
		}
		_ = m.store.UpdateStatus(poolCtx, id, StatusRunning, StatusFailed, func(t *Task) { t.CompletedAt = &completedAt; t.Err = gerr })
		m.hooks.SafeTaskStatusChange(poolCtx, id, string(StatusRunning), string(StatusFailed))
		m.notifyWaiters(id)
			return
	}

	_ = m.store.UpdateStatus(poolCtx, id, StatusRunning, StatusCompleted, func(t *Task) { t.CompletedAt = &completedAt; t.Result = result })
	m.hooks.SafeTaskStatusChange(poolCtx, id, string(StatusRunning), string(StatusCompleted))
	m.notifyWaiters(id)
}

// GetStatus returns a point-in-time view of the task.
func (m *Manager) GetStatus(ctx context.Context, id string) (View, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return View{}, gatewayerr.Wrap(gatewayerr.KindBadRequest, "task not found", err)
	}
	return t.view(), nil
}

// Wait suspends until id's status is terminal or timeout elapses (nil
// means wait indefinitely), returning the final view.
func (m *Manager) Wait(ctx context.Context, id string, timeout *time.Duration) (View, error) {
	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout != nil {
		waitCtx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	notify := m.registerWaiter(id)
	defer m.unregisterWaiter(id, notify)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		t, err := m.store.Get(waitCtx, id)
		if err != nil {
			return View{}, gatewayerr.Wrap(gatewayerr.KindBadRequest, "task not found", err)
		}
		if t.Status.IsTerminal() {
			return t.view(), nil
		}
		select {
		case <-waitCtx.Done():
			return t.view(), gatewayerr.New(gatewayerr.KindTimeout, "wait exceeded timeout")
		case <-notify:
			continue
		case <-ticker.C:
			continue
		}
	}
}

// Cancel transitions a pending task directly to cancelled, or requests
// cooperative cancellation of a running task's coroutine; it is a no-op on
// a terminal task (spec.md §4.6 "idempotent").
func (m *Manager) Cancel(ctx context.Context, id string) error {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindBadRequest, "task not found", err)
	}
	switch t.Status {
	case StatusPending:
		now := time.Now()
		if err := m.store.UpdateStatus(ctx, id, StatusPending, StatusCancelled, func(t *Task) { t.CompletedAt = &now }); err != nil {
			if _, stale := err.(*ErrStaleStatus); stale {
				return nil
			}
			return gatewayerr.Wrap(gatewayerr.KindInternal, "failed to cancel task", err)
		}
		m.hooks.SafeTaskStatusChange(ctx, id, string(StatusPending), string(StatusCancelled))
		m.notifyWaiters(id)
			return nil
	case StatusRunning:
		m.mu.Lock()
		cancel, ok := m.cancels[id]
		m.mu.Unlock()
		if ok {
			cancel()
		}
		return nil
	default:
		return nil
	}
}

// ListActive returns every task currently pending or running.
func (m *Manager) ListActive(ctx context.Context) ([]View, error) {
	tasks, err := m.store.ListByStatus(ctx, StatusPending, StatusRunning)
	if err != nil {
		return nil, gatewayerr.Wrap(gatewayerr.KindInternal, "failed to list active tasks", err)
	}
	views := make([]View, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, t.view())
	}
	return views, nil
}

// RecoverFromRestart scans for rows left in running from a prior process
// and fails them with an internal "lost across restart" error; it never
// re-executes them (spec.md §4.6 "Durability").
func (m *Manager) RecoverFromRestart(ctx context.Context) error {
	tasks, err := m.store.ListByStatus(ctx, StatusRunning)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.KindInternal, "failed to scan running tasks", err)
	}
	now := time.Now()
	for _, t := range tasks {
		lost := gatewayerr.New(gatewayerr.KindInternal, "lost across restart")
		_ = m.store.UpdateStatus(ctx, t.ID, StatusRunning, StatusFailed, func(task *Task) {
			task.CompletedAt = &now
			task.Err = lost
		})
		m.hooks.SafeTaskStatusChange(ctx, t.ID, string(StatusRunning), string(StatusFailed))
	}
	return nil
}

func (m *Manager) registerWaiter(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unregisterWaiter(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiters[id]
	for i, c := range list {
		if c == ch {
			m.waiters[id] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (m *Manager) notifyWaiters(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.waiters[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

