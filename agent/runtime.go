// Package agent implements the Agent Runtime (spec §4.6): agent
// definitions, contextual memory, and the execute_task algorithm that
// synthesizes a prompt, routes it, retries on failure, and records the
// outcome. Grounded on the teacher's runtime/agent package (goa-ai), whose
// Runner.Run loop (build request -> call model -> parse -> record) this
// reuses the shape of, generalized to the retry/backoff/memory semantics
// spec §4.6 defines; the task DAG types the runtime operates on are new
// (spec §3 "Task"), not present in the teacher.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/prompt"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/router"
)

// WorkflowContext is the subset of workflow state the runtime needs in
// order to bound a task's deadline and report usage, kept as an interface
// so this package does not depend on the workflow package (spec §2 data
// flow: workflow -> agent runtime -> router, never the reverse).
type WorkflowContext interface {
	RemainingTime() time.Duration
	AddUsage(tokens int, costUSD float64)
}

// staticWorkflowContext is used when a task runs outside a workflow (e.g.
// ad hoc MCP execute_agent calls).
type staticWorkflowContext struct{ remaining time.Duration }

func (s staticWorkflowContext) RemainingTime() time.Duration { return s.remaining }
func (s staticWorkflowContext) AddUsage(int, float64)        {}

// StandaloneContext returns a WorkflowContext with a fixed remaining
// budget, for running a task outside any workflow.
func StandaloneContext(remaining time.Duration) WorkflowContext {
	return staticWorkflowContext{remaining: remaining}
}

const (
	retryBaseDelay = 200 * time.Millisecond
	retryCapDelay  = 10 * time.Second
)

// Runtime executes tasks on behalf of a fixed agent, against a shared
// Router and prompt Library.
type Runtime struct {
	agent   *Agent
	rt      *router.Router
	lib     *prompt.Library
	log     telemetry.Logger
	metrics telemetry.Metrics
	sleep   func(time.Duration) // overridable for tests
}

// NewRuntime constructs a Runtime for agent, backed by rt and lib.
func NewRuntime(a *Agent, rt *router.Router, lib *prompt.Library, log telemetry.Logger, metrics telemetry.Metrics) *Runtime {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runtime{agent: a, rt: rt, lib: lib, log: log, metrics: metrics, sleep: time.Sleep}
}

// ExecuteTask runs the execute_task algorithm of spec §4.6 against task,
// under wfCtx's remaining-time budget, and returns the parsed output map.
// It mutates task's state as a side effect (MarkStarted/Complete/Fail).
func (r *Runtime) ExecuteTask(ctx context.Context, task *Task, wfCtx WorkflowContext) (map[string]any, error) {
	task.MarkStarted()

	for {
		// Step 1: cancellation check.
		if task.Cancelled() {
			err := coreerr.New(coreerr.Cancelled, "agent_runtime", "task cancelled before execution", false, nil)
			task.MarkCancelled(err.Error())
			return nil, err
		}

		// Step 2: prompt synthesis.
		req, err := r.buildRequest(task)
		if err != nil {
			task.Fail(err.Error())
			return nil, err
		}

		// Step 3: deadline = min(task.timeout, workflow.remaining_time).
		deadline := time.Duration(task.TimeoutSeconds) * time.Second
		if rem := wfCtx.RemainingTime(); rem > 0 && rem < deadline {
			deadline = rem
		}
		callCtx, cancel := context.WithTimeout(ctx, deadline)

		policy := router.Policy{WeightCost: 0.34, WeightLatency: 0.33, WeightQuality: 0.33}
		if r.agent.Def.PolicyOverride != nil {
			policy = *r.agent.Def.PolicyOverride
		}

		resp, _, err := r.rt.Route(callCtx, req, policy)
		cancel()

		if err == nil {
			output, parseErr := parseOutput(resp.Content)
			if parseErr != nil {
				output = map[string]any{"output": resp.Content, "metadata": resp.Metadata}
			}
			task.Complete(output, resp.TotalTokens(), resp.CostUSD)
			wfCtx.AddUsage(resp.TotalTokens(), resp.CostUSD)
			r.agent.Mem.Record(Interaction{TaskID: task.ID, Input: task.Input, Output: output, Success: true})
			r.metrics.IncCounter("agent.execute_task.success", 1, "agent", r.agent.Def.ID)
			return output, nil
		}

		// Step 4: propagate cancellation without retrying.
		if coreerr.Is(err, coreerr.Cancelled) || callCtx.Err() == context.Canceled {
			task.MarkCancelled(err.Error())
			return nil, err
		}

		// Step 5: retry with exponential backoff + jitter, else fail.
		n := task.incrementRetry()
		if n > task.MaxRetries() {
			task.Fail(err.Error())
			r.agent.Mem.Record(Interaction{TaskID: task.ID, Input: task.Input, Success: false})
			r.metrics.IncCounter("agent.execute_task.failure", 1, "agent", r.agent.Def.ID)
			return nil, err
		}
		task.setState(StateRetrying)
		delay := backoff(n)
		r.log.Warn(ctx, "agent_runtime: retrying task", "task", task.ID, "attempt", n, "delay_ms", delay.Milliseconds(), "error", err.Error())
		r.sleep(delay)
		task.setState(StateInProgress)
	}
}

// backoff computes min(base*2^n, cap) with up to 20% jitter (spec §4.6
// step 5).
func backoff(attempt int) time.Duration {
	d := retryBaseDelay << attempt
	if d > retryCapDelay || d <= 0 {
		d = retryCapDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5 + 1))
	return d + jitter
}

// buildRequest implements step 2: role-appropriate RTF-structured prompt
// with variable substitution and model-family envelope wrapping.
func (r *Runtime) buildRequest(task *Task) (providers.Request, error) {
	tmpl, ok := r.lib.Get(string(r.agent.Def.Role))
	if !ok {
		tmpl, ok = r.lib.Get("executor")
		if !ok {
			return providers.Request{}, coreerr.New(coreerr.Validation, "agent_runtime", fmt.Sprintf("no prompt template for role %q", r.agent.Def.Role), false, nil)
		}
	}

	vars := map[string]string{
		"agent_name":  r.agent.Def.Name,
		"task_description": task.Description,
	}
	for k, v := range task.Input {
		vars[k] = fmt.Sprint(v)
	}

	body := tmpl.Render(vars)

	model := ""
	if len(r.agent.Def.PreferredModelIDs) > 0 {
		model = r.agent.Def.PreferredModelIDs[0]
	}
	family := prompt.FamilyForModel(model)
	body = prompt.Envelope(family, body)

	req := providers.Request{
		Prompt:      body,
		Model:       model,
		MaxTokens:   r.agent.Def.Defaults.MaxTokens,
		Temperature: r.agent.Def.Defaults.Temperature,
		Metadata:    map[string]any{"task_id": task.ID, "agent_id": r.agent.Def.ID},
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = 1024
	}
	return req, nil
}

// parseOutput implements step 6: if content starts with '{' attempt a
// structured parse, else wrap as {output, metadata}.
func parseOutput(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("not structured")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, err
	}
	return out, nil
}
