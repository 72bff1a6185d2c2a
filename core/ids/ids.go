// Package ids generates stable identifiers for tasks, workflows, sessions,
// negotiations, and quantum tasks. Grounded on the teacher's pervasive use
// of github.com/google/uuid for identifiers throughout goa-ai.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier prefixed for the given entity kind
// (e.g. New("task") -> "task_6a1...").
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// NewTask generates a task id.
func NewTask() string { return New("task") }

// NewWorkflow generates a workflow id.
func NewWorkflow() string { return New("wf") }

// NewAgent generates an agent id.
func NewAgent() string { return New("agent") }

// NewSession generates an MCP/A2A session id.
func NewSession() string { return New("sess") }

// NewNegotiation generates an A2A negotiation id.
func NewNegotiation() string { return New("neg") }

// NewQuantumTask generates a quantum task id.
func NewQuantumTask() string { return New("qtask") }

// NewVariation generates a variation id.
func NewVariation() string { return New("var") }

// NewThread generates a thread-result id.
func NewThread() string { return New("thread") }

// NewConsentRequest generates a consent request id.
func NewConsentRequest() string { return New("consent") }
