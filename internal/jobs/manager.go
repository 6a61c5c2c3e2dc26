package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"audiodesk/internal/domain"
)

// ErrTaskAlreadyRunning is returned when submitting while a task is in flight.
var ErrTaskAlreadyRunning = errors.New("task already running")

// ErrNoRunningTask is returned when cancel is requested while idle.
var ErrNoRunningTask = errors.New("no running task")

// Manager tracks the single allowed active task and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Task
	now     func() time.Time
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Task{Status: domain.TaskStatusIdle},
		now:     time.Now,
	}
}

// Start records a new task and moves it to running.
func (m *Manager) Start(id string, kind domain.TaskKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status == domain.TaskStatusRunning {
		return ErrTaskAlreadyRunning
	}

	m.current = domain.Task{
		ID:        id,
		Kind:      kind,
		Status:    domain.TaskStatusRunning,
		StartedAt: m.now().UTC(),
	}
	return nil
}

// Transition validates and applies a state change for the current task.
func (m *Manager) Transition(status domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.TaskStatusIdle {
		return fmt.Errorf("cannot transition without an active task")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Current returns a snapshot of the current task.
func (m *Manager) Current() domain.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether a task is in flight.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Status == domain.TaskStatusRunning
}

// isValidTransition enforces the allowed task state machine edges.
func isValidTransition(from, to domain.TaskStatus) bool {
	switch from {
	case domain.TaskStatusIdle:
		return to == domain.TaskStatusRunning
	case domain.TaskStatusRunning:
		return to == domain.TaskStatusSucceeded || to == domain.TaskStatusFailed || to == domain.TaskStatusCancelled
	case domain.TaskStatusSucceeded, domain.TaskStatusFailed, domain.TaskStatusCancelled:
		return to == domain.TaskStatusRunning || to == domain.TaskStatusIdle
	default:
		return false
	}
}
