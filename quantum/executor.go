package quantum

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/router"
)

const latencyBaseline = 30 * time.Second

// AccuracyMetric scores a completed thread's accuracy from its raw content,
// wall time, and success flag (spec §4.8 open question: "the accuracy
// metric should be pluggable"). The default weighs only success, since
// accuracy against a gold answer is task-specific and out of this
// package's scope.
type AccuracyMetric func(content string, wall time.Duration, succeeded bool) float64

func defaultAccuracyMetric(_ string, _ time.Duration, succeeded bool) float64 {
	if succeeded {
		return 0.8
	}
	return 0
}

// Executor runs a quantum task's variations through a shared Router.
type Executor struct {
	rt       *router.Router
	policy   router.Policy
	log      telemetry.Logger
	metrics  telemetry.Metrics
	accuracy AccuracyMetric
}

// Option configures an Executor.
type Option func(*Executor)

// WithAccuracyMetric overrides the accuracy component of scoreThread's
// weighted sum, e.g. to grade against a reference answer instead of the
// default success-only heuristic.
func WithAccuracyMetric(m AccuracyMetric) Option { return func(e *Executor) { e.accuracy = m } }

// NewExecutor constructs an Executor. policy is used for every variation's
// routing decision unless a variation pins a ModelOverride, in which case
// the request's Model field takes precedence over the router's own
// scoring.
func NewExecutor(rt *router.Router, policy router.Policy, log telemetry.Logger, metrics telemetry.Metrics, opts ...Option) *Executor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	e := &Executor{rt: rt, policy: policy, log: log, metrics: metrics, accuracy: defaultAccuracyMetric}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run fans variations out under a semaphore, collects thread results, and
// collapses them per task.Strategy (spec §4.8). It mutates task in place
// and also returns it for convenience.
func (e *Executor) Run(ctx context.Context, task *Task, variations []Variation) (*Task, error) {
	k := len(variations)
	maxParallel := task.MaxParallel
	if maxParallel <= 0 || maxParallel > MaxParallelExecutions {
		maxParallel = MaxParallelExecutions
	}
	if k > MaxParallelExecutions {
		return task, coreerr.New(coreerr.Validation, "quantum_executor", "variation count exceeds max_parallel_executions cap of 20", false, nil)
	}

	task.State = StateRunning
	start := time.Now()

	deadline := time.Duration(task.TimeoutSeconds) * time.Second
	if deadline <= 0 {
		deadline = latencyBaseline * 2
	}
	fanCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sem := make(chan struct{}, maxParallel)
	results := make([]ThreadResult, k)
	var wg sync.WaitGroup
	var completedCount int32
	var mu sync.Mutex

	for i, v := range variations {
		wg.Add(1)
		go func(i int, v Variation) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-fanCtx.Done():
				results[i] = e.timeoutResult(task, v)
				return
			}
			results[i] = e.runOne(fanCtx, task, v)
			mu.Lock()
			completedCount++
			task.Progress = float64(completedCount) / float64(k)
			mu.Unlock()
		}(i, v)
	}
	wg.Wait()

	task.TotalWallTime = time.Since(start)
	task.ExecutionSummary = results
	task.Progress = 1

	collapsed, finalMetrics := collapse(task.Strategy, variations, results)
	task.CollapsedResult = collapsed
	task.FinalMetrics = finalMetrics
	task.State = StateCompleted
	e.metrics.RecordTimer("quantum.run.latency", task.TotalWallTime, "strategy", string(task.Strategy))
	return task, nil
}

func (e *Executor) timeoutResult(task *Task, v Variation) ThreadResult {
	return ThreadResult{
		ID: v.ID, QuantumTaskID: task.ID, VariationID: v.ID, ThreadName: v.DisplayName,
		State: StateCancelled, Err: "fan-out deadline exceeded", Scores: zeroScores(), Total: 0,
	}
}

// runOne executes a single variation: instantiate prompt modifications,
// call the router, and score the outcome (spec §4.8 steps 2, 4).
func (e *Executor) runOne(ctx context.Context, task *Task, v Variation) ThreadResult {
	start := time.Now()
	prompt := v.Mods.Apply(task.Prompt)

	req := providers.Request{
		Prompt:      prompt,
		Model:       v.ModelOverride,
		Temperature: v.Temperature,
		MaxTokens:   v.MaxTokens,
	}
	resp, _, err := e.rt.Route(ctx, req, e.policy)
	wall := time.Since(start)

	tr := ThreadResult{
		ID: v.ID, QuantumTaskID: task.ID, VariationID: v.ID, ThreadName: v.DisplayName,
		WallTime: wall, completedAt: time.Now(),
	}
	if err != nil {
		tr.State = StateFailed
		tr.Err = err.Error()
		tr.Scores = zeroScores()
		tr.Total = 0
		return tr
	}
	tr.State = StateCompleted
	tr.Raw = resp.Content
	tr.ModelUsed = resp.Model
	tr.Scores, tr.Total = scoreThread(resp.Content, wall, true, task.Weights, e.accuracy)
	return tr
}

func zeroScores() map[string]float64 {
	return map[string]float64{"success": 0, "latency_score": 0, "completeness": 0, "accuracy": 0}
}

// scoreThread implements spec §4.8 step 4's four metrics and their
// weighted sum. accuracy is pluggable (AccuracyMetric); the other three
// are fixed by spec §4.8.
func scoreThread(content string, wall time.Duration, succeeded bool, weights MetricWeights, accuracyMetric AccuracyMetric) (map[string]float64, float64) {
	success := 0.0
	if succeeded {
		success = 1
	}
	latencyScore := float64(latencyBaseline-wall) / float64(latencyBaseline)
	if latencyScore < 0 {
		latencyScore = 0
	}
	completeness := float64(len(content)) / 100.0
	if completeness > 1 {
		completeness = 1
	}
	if accuracyMetric == nil {
		accuracyMetric = defaultAccuracyMetric
	}
	accuracy := accuracyMetric(content, wall, succeeded)

	w := weights
	if w == (MetricWeights{}) {
		w = DefaultMetricWeights()
	}
	total := w.Success*success + w.Latency*latencyScore + w.Completeness*completeness + w.Accuracy*accuracy

	return map[string]float64{
		"success": success, "latency_score": latencyScore, "completeness": completeness, "accuracy": accuracy,
	}, total
}

// collapse implements spec §4.8 step 5's five strategies.
func collapse(strategy Strategy, variations []Variation, results []ThreadResult) (map[string]any, map[string]float64) {
	weightByVariation := make(map[string]float64, len(variations))
	for _, v := range variations {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		weightByVariation[v.ID] = w
	}

	successful := make([]ThreadResult, 0, len(results))
	for _, r := range results {
		if r.State == StateCompleted {
			successful = append(successful, r)
		}
	}

	switch strategy {
	case StrategyFirstSuccess:
		if len(successful) == 0 {
			return map[string]any{"error": "no successful variation"}, map[string]float64{"score": 0}
		}
		best := earliestByCompletion(successful)
		return map[string]any{"output": best.Raw, "source": best.ThreadName}, map[string]float64{"score": best.Total}

	case StrategyConsensus:
		if len(results) == 0 {
			return map[string]any{"error": "no variations"}, map[string]float64{"score": 0}
		}
		best := argMaxByTotal(results)
		return map[string]any{"output": best.Raw, "source": best.ThreadName},
			map[string]float64{"score": meanTotal(results), "confidence": minF(float64(len(results))/10, 1)}

	case StrategyCombined:
		responses := make([]map[string]any, 0, len(results))
		for _, r := range results {
			responses = append(responses, map[string]any{"source": r.ThreadName, "response": r.Raw, "score": r.Total})
		}
		return map[string]any{"combined_responses": responses, "summary": "combined " + strconv.Itoa(len(results)) + " variation outputs"},
			map[string]float64{"score": meanTotal(results)}

	case StrategyWeighted:
		if len(results) == 0 {
			return map[string]any{"error": "no variations"}, map[string]float64{"score": 0}
		}
		var weightedSum, weightTotal float64
		var bestKey string
		var bestWeighted float64
		first := true
		for _, r := range results {
			w := weightByVariation[r.VariationID]
			weightedSum += w * r.Total
			weightTotal += w
			wv := w * r.Total
			if first || wv > bestWeighted {
				bestWeighted = wv
				bestKey = r.ID
				first = false
			}
		}
		final := 0.0
		if weightTotal > 0 {
			final = weightedSum / weightTotal
		}
		best := byID(results, bestKey)
		return map[string]any{"output": best.Raw, "source": best.ThreadName}, map[string]float64{"score": final}

	default: // best_score
		if len(results) == 0 {
			return map[string]any{"error": "no variations"}, map[string]float64{"score": 0}
		}
		best := argMaxByTotal(results)
		return map[string]any{"output": best.Raw, "source": best.ThreadName}, map[string]float64{"score": best.Total}
	}
}

func earliestByCompletion(results []ThreadResult) ThreadResult {
	best := results[0]
	for _, r := range results[1:] {
		if r.completedAt.Before(best.completedAt) {
			best = r
		}
	}
	return best
}

// argMaxByTotal returns the highest-Total result, ties broken by earliest
// completion (spec §4.8 step 5 "best_score").
func argMaxByTotal(results []ThreadResult) ThreadResult {
	sorted := append([]ThreadResult{}, results...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Total != sorted[j].Total {
			return sorted[i].Total > sorted[j].Total
		}
		return sorted[i].completedAt.Before(sorted[j].completedAt)
	})
	return sorted[0]
}

func meanTotal(results []ThreadResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Total
	}
	return sum / float64(len(results))
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func byID(results []ThreadResult, id string) ThreadResult {
	for _, r := range results {
		if r.ID == id {
			return r
		}
	}
	return ThreadResult{}
}
