package agent_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/agent"
	"github.com/arcanefly/workforce/prompt"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/registry"
	"github.com/arcanefly/workforce/router"
)

type flakyAdapter struct {
	failures int
	calls    int
	models   []registry.Spec
}

func (f *flakyAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return providers.Response{}, providers.UpstreamError("stub", errors.New("boom"))
	}
	return providers.Response{Content: `{"ok":true}`, Model: req.Model}, nil
}
func (f *flakyAdapter) ListModels() []registry.Spec                      { return f.models }
func (f *flakyAdapter) Cost(in, out int, modelID string) float64 { return 0 }

func setup(t *testing.T, adapter providers.Adapter) *router.Router {
	t.Helper()
	reg := registry.New()
	spec := registry.Spec{Provider: "stub", ModelID: "m1", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), InputCostPerM: 1, ExpectedLatency: 100, Quality: 0.9}
	require.NoError(t, reg.Init([]registry.Spec{spec}, nil))
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", adapter)
	return rt
}

func newTestAgent() *agent.Agent {
	def := &agent.Definition{ID: "a1", Name: "Ada", Role: agent.RoleExecutor, TrustLevel: 0.8, Defaults: agent.GenerationDefaults{MaxTokens: 256}}
	return agent.NewAgent(def)
}

func TestExecuteTask_SucceedsOnFirstTry(t *testing.T) {
	adapter := &flakyAdapter{failures: 0}
	rt := setup(t, adapter)
	a := newTestAgent()
	runtime := agent.NewRuntime(a, rt, prompt.DefaultLibrary(), nil, nil)

	task := agent.NewTask("task_1", "do a thing")
	task.Description = "execute the step"
	out, err := runtime.ExecuteTask(context.Background(), task, agent.StandaloneContext(time.Minute))
	require.NoError(t, err)
	require.Equal(t, true, out["ok"])
	require.Equal(t, agent.StateCompleted, task.State())
}

func TestExecuteTask_RetriesThenSucceeds(t *testing.T) {
	adapter := &flakyAdapter{failures: 2}
	rt := setup(t, adapter)
	a := newTestAgent()
	runtime := agent.NewRuntime(a, rt, prompt.DefaultLibrary(), nil, nil)
	runtime2 := runtime // retain for clarity

	task := agent.NewTask("task_2", "do a thing")
	task.Description = "execute the step"
	out, err := runtime2.ExecuteTask(context.Background(), task, agent.StandaloneContext(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, 2, task.RetryCount())
}

func TestExecuteTask_FailsAfterMaxRetries(t *testing.T) {
	adapter := &flakyAdapter{failures: 100}
	rt := setup(t, adapter)
	a := newTestAgent()
	runtime := agent.NewRuntime(a, rt, prompt.DefaultLibrary(), nil, nil)

	task := agent.NewTask("task_3", "do a thing")
	task.Description = "execute the step"
	task.SetMaxRetries(1)
	_, err := runtime.ExecuteTask(context.Background(), task, agent.StandaloneContext(time.Minute))
	require.Error(t, err)
	require.Equal(t, agent.StateFailed, task.State())
}

func TestExecuteTask_AlreadyCancelled(t *testing.T) {
	adapter := &flakyAdapter{}
	rt := setup(t, adapter)
	a := newTestAgent()
	runtime := agent.NewRuntime(a, rt, prompt.DefaultLibrary(), nil, nil)

	task := agent.NewTask("task_4", "do a thing")
	task.Cancel()
	_, err := runtime.ExecuteTask(context.Background(), task, agent.StandaloneContext(time.Minute))
	require.Error(t, err)
	require.Equal(t, agent.StateCancelled, task.State())
}
