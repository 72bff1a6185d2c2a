package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors a Store implementation returns so callers can branch
// without depending on the storage backend.
var (
	ErrNotFound = errors.New("session: not found")
	ErrExpired  = errors.New("session: expired")
)

// Store persists MCP/A2A sessions, negotiations, and task-execution
// records (spec §4.9 "Public operations"). Both the in-memory and the
// MongoDB-backed implementations satisfy this interface so the rest of the
// core never depends on the storage backend.
type Store interface {
	// MCP sessions.
	CreateMCPSession(ctx context.Context, s MCPSession) (MCPSession, error)
	GetMCPSession(ctx context.Context, id string) (MCPSession, error)
	TouchMCPSession(ctx context.Context, id string) error
	EndMCPSession(ctx context.Context, id string) error

	// A2A sessions.
	CreateA2ASession(ctx context.Context, s A2ASession) (A2ASession, error)
	GetA2ASession(ctx context.Context, id string) (A2ASession, error)
	TouchA2ASession(ctx context.Context, id string) error
	SetA2AWebsocketBound(ctx context.Context, id string, bound bool) error
	EndA2ASession(ctx context.Context, id string) error

	// A2A negotiations.
	CreateNegotiation(ctx context.Context, n Negotiation) (Negotiation, error)
	GetNegotiation(ctx context.Context, id string) (Negotiation, error)
	UpdateNegotiationStatus(ctx context.Context, id string, status NegotiationStatus) error

	// Task executions (MCP and A2A share the same record shape).
	CreateTaskExecution(ctx context.Context, t TaskExecution) (TaskExecution, error)
	GetTaskExecution(ctx context.Context, id string) (TaskExecution, error)
	UpdateTaskExecutionProgress(ctx context.Context, id string, progress float64) error
	CompleteTaskExecution(ctx context.Context, id string, result map[string]any) error
	FailTaskExecution(ctx context.Context, id string, errMsg string) error
	CancelTaskExecution(ctx context.Context, id string, reason string) error
	ListTaskExecutionsBySession(ctx context.Context, sessionID string) ([]TaskExecution, error)

	// ExpireSessions marks every MCP/A2A session whose ExpiresAt is before
	// now inactive, returning the ids transitioned (spec §4.9 "a background
	// sweeper transitions sessions past expiry to inactive and cancels
	// their tasks").
	ExpireSessions(ctx context.Context, now time.Time) ([]string, error)
}
