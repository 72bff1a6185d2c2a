// Package quantum implements the Quantum Executor (spec §4.8): K-variation
// fan-out of a single prompt under a semaphore, per-thread scoring, and
// collapse into one result via a pluggable strategy. Grounded on the
// teacher's parallel dispatch pattern in features/model/gateway (fan a
// request to several adapters, await the first/best), generalized from "one
// winner, N adapters" to the weighted multi-metric collapse spec §4.8
// defines; has no analogue in the teacher beyond that dispatch shape, since
// goa-ai never scores or blends multiple completions of the same prompt.
package quantum

import (
	"strings"
	"time"
)

// Strategy is a collapse strategy tag (spec §3 "Quantum task").
type Strategy string

const (
	StrategyFirstSuccess Strategy = "first_success"
	StrategyBestScore    Strategy = "best_score"
	StrategyConsensus    Strategy = "consensus"
	StrategyCombined     Strategy = "combined"
	StrategyWeighted     Strategy = "weighted"
)

// State is a quantum task or thread's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// MaxParallelExecutions is the hard cap spec §4.8 step 1 imposes regardless
// of a task's configured max.
const MaxParallelExecutions = 20

// MetricWeights weights the four per-thread metrics (spec §4.8 step 4).
// The zero value selects DefaultMetricWeights.
type MetricWeights struct {
	Success      float64
	Latency      float64
	Completeness float64
	Accuracy     float64
}

// DefaultMetricWeights is spec §4.8 step 4's default (0.3, 0.2, 0.3, 0.2).
func DefaultMetricWeights() MetricWeights {
	return MetricWeights{Success: 0.3, Latency: 0.2, Completeness: 0.3, Accuracy: 0.2}
}

// PromptMods describes how a Variation alters the base prompt (spec §3
// "Variation"): prefix/suffix prepend/append, a literal replacement map,
// and a style tag appended as a trailing instruction.
type PromptMods struct {
	Prefix       string
	Suffix       string
	Replacements map[string]string
	StyleTag     string
}

// Apply renders base through this Variation's prompt modifications (spec
// §4.8 step 2).
func (m PromptMods) Apply(base string) string {
	out := base
	for literal, replacement := range m.Replacements {
		out = strings.ReplaceAll(out, literal, replacement)
	}
	if m.Prefix != "" {
		out = m.Prefix + out
	}
	if m.Suffix != "" {
		out = out + m.Suffix
	}
	if m.StyleTag != "" {
		out = out + "\n\nStyle: " + m.StyleTag
	}
	return out
}

// Variation is one fan-out thread's configuration (spec §3 "Variation").
type Variation struct {
	ID                string
	ParentQuantumTaskID string
	DisplayName       string
	AgentTypeOverride string
	ModelOverride     string // "provider/model_id", empty = let the router decide
	Mods              PromptMods
	Temperature       float64
	MaxTokens         int
	Weight            float64
}

// ThreadResult is one variation's outcome (spec §3 "Thread result").
type ThreadResult struct {
	ID          string
	QuantumTaskID string
	VariationID string
	ThreadName  string
	State       State
	Raw         string
	Structured  map[string]any
	Scores      map[string]float64
	Total       float64
	WallTime    time.Duration
	Err         string
	ModelUsed   string
	completedAt time.Time
}

// Task is a quantum task (spec §3 "Quantum task").
type Task struct {
	ID          string
	OwnerUserID string
	Prompt      string
	Strategy    Strategy
	Weights     MetricWeights
	MaxParallel int // capped at MaxParallelExecutions
	TimeoutSeconds int

	State    State
	Progress float64

	CollapsedResult  map[string]any
	FinalMetrics     map[string]float64
	ExecutionSummary []ThreadResult
	TotalWallTime    time.Duration
}
