package workflow

import (
	"context"
	"sync"
	"time"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/agent"
	"github.com/arcanefly/workforce/prompt"
	"github.com/arcanefly/workforce/router"
)

const gracePeriod = 30 * time.Second

// Orchestrator drives the main loop of spec §4.7 over a Workflow.
type Orchestrator struct {
	rt      *router.Router
	lib     *prompt.Library
	log     telemetry.Logger
	metrics telemetry.Metrics

	runtimes map[string]*agent.Runtime // agent id -> runtime
	mu       sync.Mutex
}

// NewOrchestrator constructs an Orchestrator backed by rt and lib, shared
// across every agent in a workflow's pool.
func NewOrchestrator(rt *router.Router, lib *prompt.Library, log telemetry.Logger, metrics telemetry.Metrics) *Orchestrator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Orchestrator{rt: rt, lib: lib, log: log, metrics: metrics, runtimes: make(map[string]*agent.Runtime)}
}

func (o *Orchestrator) runtimeFor(a *agent.Agent) *agent.Runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runtimes[a.Def.ID]; ok {
		return r
	}
	r := agent.NewRuntime(a, o.rt, o.lib, o.log, o.metrics)
	o.runtimes[a.Def.ID] = r
	return r
}

type completion struct {
	taskID string
	err    error
}

// Run executes w's DAG to completion (spec §4.7 main loop). The returned
// Result's State is StateCompleted if no task failed or was cancelled and
// no stop was requested, else StatePartialFailure. Run returns an error
// only for a Deadlock.
func (o *Orchestrator) Run(ctx context.Context, w *Workflow) (*Result, error) {
	w.mu.Lock()
	w.startedAt = time.Now()
	w.state = StateRunning
	w.mu.Unlock()

	byName := make(map[string]*agent.Task, len(w.Tasks))
	for _, t := range w.Tasks {
		byName[t.Name] = t
	}

	running := make(map[string]context.CancelFunc)
	done := make(chan completion, len(w.Tasks))

	stopDeadline := time.Time{}

	for {
		// Step 1: ready selection + cascade cancellation.
		ready := o.selectReady(w, running)

		// Step 2: launch.
		for _, t := range ready {
			taskCtx, cancel := context.WithCancel(ctx)
			running[t.ID] = cancel
			go o.launch(taskCtx, w, t, done)
		}

		// Step 3: wait-any, with a 1-second tick.
		select {
		case c := <-done:
			delete(running, c.taskID)
			o.drainReady(done, running)
		case <-time.After(1 * time.Second):
		}

		// Step 4: budget check.
		if !w.stopping() && w.overBudget() {
			w.requestStop()
		}

		// Step 5: stop handling.
		if w.stopping() {
			if stopDeadline.IsZero() {
				stopDeadline = time.Now().Add(gracePeriod)
				w.setState(StateStopping)
				for _, t := range w.Tasks {
					if !t.State().Terminal() {
						t.Cancel()
					}
				}
			}
			if time.Now().After(stopDeadline) {
				for id, cancel := range running {
					cancel()
					delete(running, id)
				}
				for _, t := range w.Tasks {
					if !t.State().Terminal() {
						t.MarkCancelled("workflow stop grace period expired")
					}
				}
			}
		}

		pendingCount := 0
		for _, t := range w.Tasks {
			if t.State() == agent.StatePending {
				pendingCount++
			}
		}

		// Step 6: deadlock detection.
		if len(ready) == 0 && len(running) == 0 && pendingCount > 0 && !w.stopping() {
			w.setState(StateFailed)
			w.mu.Lock()
			w.endedAt = time.Now()
			w.mu.Unlock()
			return o.result(w, byName), coreerr.New(coreerr.Deadlock, "workflow_orchestrator", "ready and running are empty but pending tasks remain", false, nil)
		}

		// Step 7: loop until nothing pending or running.
		if pendingCount == 0 && len(running) == 0 {
			break
		}
	}

	w.mu.Lock()
	w.endedAt = time.Now()
	if len(w.failed) == 0 && len(w.cancelled) == 0 && !w.stopRequested {
		w.state = StateCompleted
	} else {
		w.state = StatePartialFailure
	}
	w.mu.Unlock()

	return o.result(w, byName), nil
}

// selectReady implements step 1: pending tasks whose dependencies are all
// completed move to ready; a task depending on a failed task cascades to
// cancelled instead.
func (o *Orchestrator) selectReady(w *Workflow, running map[string]context.CancelFunc) []*agent.Task {
	var ready []*agent.Task
	for _, t := range w.Tasks {
		if t.State() != agent.StatePending {
			continue
		}
		if _, isRunning := running[t.ID]; isRunning {
			continue
		}
		blocked := false
		dependsOnFailed := false
		for _, depID := range t.Dependencies {
			dep, ok := w.Tasks[depID]
			if !ok {
				continue
			}
			switch dep.State() {
			case agent.StateCompleted:
				// satisfied
			case agent.StateFailed, agent.StateCancelled:
				dependsOnFailed = true
			default:
				blocked = true
			}
		}
		if dependsOnFailed {
			t.MarkCancelled("dependency failed or was cancelled")
			w.mu.Lock()
			w.cancelled[t.ID] = struct{}{}
			w.mu.Unlock()
			continue
		}
		if blocked {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

// launch implements step 2: resolve an agent, execute, and record terminal
// state and usage.
func (o *Orchestrator) launch(ctx context.Context, w *Workflow, t *agent.Task, done chan<- completion) {
	a := o.resolveAgent(w, t)
	if a == nil {
		t.Fail("no agent available for task")
		w.mu.Lock()
		w.failed[t.ID] = struct{}{}
		w.mu.Unlock()
		done <- completion{taskID: t.ID}
		return
	}
	runtime := o.runtimeFor(a)
	_, err := runtime.ExecuteTask(ctx, t, w)

	w.mu.Lock()
	switch t.State() {
	case agent.StateCompleted:
		w.completed[t.ID] = struct{}{}
	case agent.StateFailed:
		w.failed[t.ID] = struct{}{}
	case agent.StateCancelled:
		w.cancelled[t.ID] = struct{}{}
	}
	w.mu.Unlock()

	done <- completion{taskID: t.ID, err: err}
}

func (o *Orchestrator) resolveAgent(w *Workflow, t *agent.Task) *agent.Agent {
	if t.AssignedAgentID != "" {
		for _, a := range w.Agents {
			if a.Def.ID == t.AssignedAgentID {
				return a
			}
		}
	}
	return agent.AutoAssign(w.Agents, t)
}

// drainReady opportunistically collects any further completions that are
// already buffered, so a burst of finishes in the same tick doesn't each
// cost a full 1-second wait.
func (o *Orchestrator) drainReady(done chan completion, running map[string]context.CancelFunc) {
	for {
		select {
		case c := <-done:
			delete(running, c.taskID)
		default:
			return
		}
	}
}

func (o *Orchestrator) result(w *Workflow, byName map[string]*agent.Task) *Result {
	outputs := make(map[string]map[string]any)
	var failedNames, cancelledNames []string
	for name, t := range byName {
		switch t.State() {
		case agent.StateCompleted:
			outputs[name] = t.Output()
		case agent.StateFailed:
			failedNames = append(failedNames, name)
		case agent.StateCancelled:
			cancelledNames = append(cancelledNames, name)
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return &Result{
		State:        w.state,
		Outputs:      outputs,
		TotalTokens:  w.totalTokens,
		TotalCostUSD: w.totalCost,
		Failed:       failedNames,
		Cancelled:    cancelledNames,
		Duration:     w.endedAt.Sub(w.startedAt),
	}
}
