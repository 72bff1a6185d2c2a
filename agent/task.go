package agent

import (
	"sync"
	"time"
)

// State is a task's lifecycle state (spec §3 "Task"). Transitions are
// monotone except retrying->in-progress; {completed, failed, cancelled}
// are sticky (spec §3 invariant).
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in-progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
	StateRetrying   State = "retrying"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Task is one node of a workflow DAG (spec §3 "Task").
type Task struct {
	mu sync.Mutex

	ID                  string
	Name                string
	Description         string
	AssignedAgentID     string // empty = auto-assign
	Dependencies        []string
	Input               map[string]any
	ExpectedOutputHint  string
	SuccessCriteria     []string

	// Variations, if non-empty, routes this task through the Quantum
	// Executor instead of a single agent.execute_task call (spec §4.8).
	VariationSpecs []VariationSpec

	state      State
	startedAt  time.Time
	endedAt    time.Time
	output     map[string]any
	errMsg     string
	retryCount int
	maxRetries int
	tokens     int
	costUSD    float64
	cancelled  bool

	TimeoutSeconds int
}

// VariationSpec is the minimal shape a Task carries to describe a quantum
// fan-out; the quantum package owns the full Variation type and converts.
type VariationSpec struct {
	Name          string
	AgentType     string
	ModelOverride string
	Weight        float64
}

// NewTask constructs a pending Task with default max retries of 3 (spec
// §4.6 step 5).
func NewTask(id, name string) *Task {
	return &Task{ID: id, Name: name, state: StatePending, maxRetries: 3, TimeoutSeconds: 120}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = s
}

// Cancel sets the task's private cancellation flag; it does not itself
// force a state transition (the running execution observes the flag).
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Task) RetryCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryCount
}

// MaxRetries returns the configured retry ceiling (spec §4.6 step 5:
// "default 3"); NewTask seeds it to 3, so 0 here means a caller explicitly
// disabled retries via SetMaxRetries.
func (t *Task) MaxRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxRetries
}

func (t *Task) SetMaxRetries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = n
}

func (t *Task) incrementRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	return t.retryCount
}

// Complete transitions the task to completed, recording output, tokens, and
// cost. It is a terminal, sticky transition.
func (t *Task) Complete(output map[string]any, tokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateCompleted
	t.output = output
	t.tokens = tokens
	t.costUSD = costUSD
	t.endedAt = time.Now()
}

// Fail transitions the task to failed, recording the error message.
func (t *Task) Fail(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateFailed
	t.errMsg = errMsg
	t.endedAt = time.Now()
}

// MarkCancelled transitions the task to cancelled (e.g. cascade from a
// failed dependency, or an orchestrator stop request).
func (t *Task) MarkCancelled(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateCancelled
	t.errMsg = reason
	t.endedAt = time.Now()
}

func (t *Task) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateInProgress
	t.startedAt = time.Now()
}

func (t *Task) Output() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

func (t *Task) Error() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

func (t *Task) Tokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

func (t *Task) CostUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.costUSD
}
