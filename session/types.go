// Package session implements the Session Manager (spec §4.9): MCP and A2A
// session, negotiation, and task-execution records, backed by either an
// in-memory Store or a MongoDB-backed Store, plus a background expiry
// sweeper. Grounded on the teacher's features/session/mongo package
// (goa.design/goa-ai), whose Store-interface-over-a-swappable-client shape
// and Mongo Options/New/ensureIndexes pattern this reuses, generalized
// from a single session+run record pair to the richer MCP/A2A/negotiation/
// task-execution record set spec §3 and §4.9 define.
package session

import "time"

// MCPSession is an MCP session (spec §3 "MCP session").
type MCPSession struct {
	ID               string
	ProtocolVersion  string
	ClientName       string
	ClientVersion    string
	ClientCaps       map[string]any
	ServerCaps       map[string]any
	CreatedAt        time.Time
	LastActivity     time.Time
	ExpiresAt        time.Time
	Active           bool
	OriginIP         string
	OriginUserAgent  string
}

// A2ASession is an A2A session (spec §3 "A2A session").
type A2ASession struct {
	ID            string
	PeerAgentID   string
	PeerAgentName string
	PeerCaps      []string
	ProtocolVersion string
	CreatedAt     time.Time
	LastActivity  time.Time
	ExpiresAt     time.Time
	WebsocketBound bool
	Active        bool
	PeerPublicKey string
}

// NegotiationStatus is an A2A negotiation's lifecycle state.
type NegotiationStatus string

const (
	NegotiationPending   NegotiationStatus = "pending"
	NegotiationAccepted  NegotiationStatus = "accepted"
	NegotiationRejected  NegotiationStatus = "rejected"
	NegotiationCompleted NegotiationStatus = "completed"
	NegotiationFailed    NegotiationStatus = "failed"
)

// Negotiation is an A2A negotiation record (spec §3 "A2A negotiation").
type Negotiation struct {
	ID                  string
	SessionID           string
	RequestedSkills     []string
	AvailableSkills     []string
	TaskDescription     string
	Parameters          map[string]any
	Priority            int // 1-10
	ProposedWorkflow    []string
	EstimatedDurationS  int
	Status              NegotiationStatus
	CreatedAt           time.Time
	CompletedAt         time.Time
}

// TaskExecutionStatus is a task-execution record's lifecycle state.
type TaskExecutionStatus string

const (
	TaskExecPending   TaskExecutionStatus = "pending"
	TaskExecRunning   TaskExecutionStatus = "running"
	TaskExecCompleted TaskExecutionStatus = "completed"
	TaskExecFailed    TaskExecutionStatus = "failed"
	TaskExecCancelled TaskExecutionStatus = "cancelled"
)

// TaskExecution is an MCP/A2A joint task-execution record (spec §3 "Task
// execution record").
type TaskExecution struct {
	ID            string
	SessionID     string
	TaskType      string
	Parameters    map[string]any
	Status        TaskExecutionStatus
	Progress      float64
	CanCancel     bool
	Result        map[string]any
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CancelledAt   time.Time
	CancelReason  string
}
