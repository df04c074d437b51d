package asyncmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_PendingToRunning(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusRunning))
}

func TestCanTransition_PendingToCancelled(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
}

func TestCanTransition_RunningToCompletedOrFailedOrCancelled(t *testing.T) {
	assert.True(t, CanTransition(StatusRunning, StatusCompleted))
	assert.True(t, CanTransition(StatusRunning, StatusFailed))
	assert.True(t, CanTransition(StatusRunning, StatusCancelled))
}

func TestCanTransition_TerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		assert.False(t, CanTransition(terminal, StatusRunning))
		assert.False(t, CanTransition(terminal, StatusPending))
	}
}

func TestCanTransition_PendingCannotSkipToCompleted(t *testing.T) {
	assert.False(t, CanTransition(StatusPending, StatusCompleted))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
}

func TestTaskView_ProjectsExpectedFields(t *testing.T) {
	task := Task{ID: "t1", Status: StatusCompleted, Progress: "done"}
	v := task.view()
	assert.Equal(t, "t1", v.ID)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.Equal(t, "done", v.Progress)
}
