package session

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process Store, suitable for tests and for a single-
// node deployment without a durable backend.
type MemStore struct {
	mu sync.RWMutex

	mcpSessions  map[string]MCPSession
	a2aSessions  map[string]A2ASession
	negotiations map[string]Negotiation
	tasks        map[string]TaskExecution
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		mcpSessions:  make(map[string]MCPSession),
		a2aSessions:  make(map[string]A2ASession),
		negotiations: make(map[string]Negotiation),
		tasks:        make(map[string]TaskExecution),
	}
}

func (m *MemStore) CreateMCPSession(ctx context.Context, s MCPSession) (MCPSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mcpSessions[s.ID] = s
	return s, nil
}

func (m *MemStore) GetMCPSession(ctx context.Context, id string) (MCPSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.mcpSessions[id]
	if !ok {
		return MCPSession{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) TouchMCPSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mcpSessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now()
	m.mcpSessions[id] = s
	return nil
}

func (m *MemStore) EndMCPSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mcpSessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	m.mcpSessions[id] = s
	return nil
}

func (m *MemStore) CreateA2ASession(ctx context.Context, s A2ASession) (A2ASession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.a2aSessions[s.ID] = s
	return s, nil
}

func (m *MemStore) GetA2ASession(ctx context.Context, id string) (A2ASession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.a2aSessions[id]
	if !ok {
		return A2ASession{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) TouchA2ASession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.a2aSessions[id]
	if !ok {
		return ErrNotFound
	}
	s.LastActivity = time.Now()
	m.a2aSessions[id] = s
	return nil
}

func (m *MemStore) SetA2AWebsocketBound(ctx context.Context, id string, bound bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.a2aSessions[id]
	if !ok {
		return ErrNotFound
	}
	s.WebsocketBound = bound
	m.a2aSessions[id] = s
	return nil
}

func (m *MemStore) EndA2ASession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.a2aSessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	m.a2aSessions[id] = s
	return nil
}

func (m *MemStore) CreateNegotiation(ctx context.Context, n Negotiation) (Negotiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negotiations[n.ID] = n
	return n, nil
}

func (m *MemStore) GetNegotiation(ctx context.Context, id string) (Negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.negotiations[id]
	if !ok {
		return Negotiation{}, ErrNotFound
	}
	return n, nil
}

func (m *MemStore) UpdateNegotiationStatus(ctx context.Context, id string, status NegotiationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.negotiations[id]
	if !ok {
		return ErrNotFound
	}
	n.Status = status
	if status == NegotiationCompleted || status == NegotiationRejected || status == NegotiationFailed {
		n.CompletedAt = time.Now()
	}
	m.negotiations[id] = n
	return nil
}

func (m *MemStore) CreateTaskExecution(ctx context.Context, t TaskExecution) (TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	m.tasks[t.ID] = t
	return t, nil
}

func (m *MemStore) GetTaskExecution(ctx context.Context, id string) (TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskExecution{}, ErrNotFound
	}
	return t, nil
}

// UpdateTaskExecutionProgress applies a last-writer-wins, monotone update
// (spec §5 "progress updates are last-writer-wins but monotone by
// invariant").
func (m *MemStore) UpdateTaskExecutionProgress(ctx context.Context, id string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if t.Status == TaskExecPending {
		t.Status = TaskExecRunning
	}
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *MemStore) CompleteTaskExecution(ctx context.Context, id string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskExecCancelled {
		return nil
	}
	t.Status = TaskExecCompleted
	t.Progress = 1
	t.Result = result
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *MemStore) FailTaskExecution(ctx context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskExecCancelled {
		return nil
	}
	t.Status = TaskExecFailed
	t.Error = errMsg
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return nil
}

func (m *MemStore) CancelTaskExecution(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskExecCompleted || t.Status == TaskExecFailed {
		return nil
	}
	t.Status = TaskExecCancelled
	t.CancelledAt = time.Now()
	t.CancelReason = reason
	t.UpdatedAt = t.CancelledAt
	m.tasks[id] = t
	return nil
}

func (m *MemStore) ListTaskExecutionsBySession(ctx context.Context, sessionID string) ([]TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskExecution, 0)
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *MemStore) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for id, s := range m.mcpSessions {
		if s.Active && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			s.Active = false
			m.mcpSessions[id] = s
			expired = append(expired, id)
		}
	}
	for id, s := range m.a2aSessions {
		if s.Active && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			s.Active = false
			m.a2aSessions[id] = s
			expired = append(expired, id)
		}
	}
	return expired, nil
}
