package jobs

import (
	"errors"
	"testing"

	"audiodesk/internal/domain"
)

// TestManagerLifecycle verifies normal progression to a terminal state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	if err := m.Start("task-1", domain.TaskKindCapture); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}
	if err := m.Transition(domain.TaskStatusSucceeded); err != nil {
		t.Fatalf("transition: %v", err)
	}

	current := m.Current()
	if current.Status != domain.TaskStatusSucceeded || current.Kind != domain.TaskKindCapture || current.ID != "task-1" {
		t.Fatalf("current = %+v", current)
	}
	if current.StartedAt.IsZero() {
		t.Fatal("start time should be recorded")
	}

	// a finished manager accepts the next task
	if err := m.Start("task-2", domain.TaskKindSlice); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

// TestManagerRejectsSecondStart checks the single-flight guard.
func TestManagerRejectsSecondStart(t *testing.T) {
	m := NewManager()
	if err := m.Start("task-1", domain.TaskKindCapture); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start("task-2", domain.TaskKindTranscribe); !errors.Is(err, ErrTaskAlreadyRunning) {
		t.Fatalf("second start error = %v, want %v", err, ErrTaskAlreadyRunning)
	}
	if m.Current().ID != "task-1" {
		t.Fatalf("current task replaced: %+v", m.Current())
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Transition(domain.TaskStatusSucceeded); err == nil {
		t.Fatal("expected error without active task")
	}

	if err := m.Start("task-1", domain.TaskKindCapture); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Transition(domain.TaskStatusIdle); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if err := m.Transition(domain.TaskStatusCancelled); err != nil {
		t.Fatalf("cancel transition: %v", err)
	}
	if err := m.Transition(domain.TaskStatusSucceeded); err == nil {
		t.Fatal("terminal state must not move to another terminal state")
	}
}
