package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/agent"
	"github.com/arcanefly/workforce/prompt"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/registry"
	"github.com/arcanefly/workforce/router"
	"github.com/arcanefly/workforce/workflow"
)

type okAdapter struct{ models []registry.Spec }

func (o *okAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	return providers.Response{Content: `{"ok":true}`, Model: req.Model}, nil
}
func (o *okAdapter) ListModels() []registry.Spec              { return o.models }
func (o *okAdapter) Cost(in, out int, modelID string) float64 { return 0.001 }

// costlyAdapter reports a fixed CostUSD per call, for exercising the budget
// stop path (spec §8 scenario 5).
type costlyAdapter struct {
	models  []registry.Spec
	costUSD float64
}

func (c *costlyAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	return providers.Response{Content: `{"ok":true}`, Model: req.Model, CostUSD: c.costUSD}, nil
}
func (c *costlyAdapter) ListModels() []registry.Spec              { return c.models }
func (c *costlyAdapter) Cost(in, out int, modelID string) float64 { return c.costUSD }

func newRouter(t *testing.T) *router.Router {
	t.Helper()
	reg := registry.New()
	spec := registry.Spec{Provider: "stub", ModelID: "m1", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), InputCostPerM: 1, Quality: 0.9}
	require.NoError(t, reg.Init([]registry.Spec{spec}, nil))
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &okAdapter{})
	return rt
}

func TestOrchestrator_LinearDAGCompletes(t *testing.T) {
	rt := newRouter(t)
	orc := workflow.NewOrchestrator(rt, prompt.DefaultLibrary(), nil, nil)

	a := agent.NewAgent(&agent.Definition{ID: "a1", Name: "Ada", Role: agent.RoleExecutor, TrustLevel: 1})

	t1 := agent.NewTask("t1", "step-one")
	t2 := agent.NewTask("t2", "step-two")
	t2.Dependencies = []string{"t1"}

	w := workflow.New("wf1", "goal", []*agent.Agent{a}, map[string]*agent.Task{"t1": t1, "t2": t2}, workflow.Budget{MaxDuration: time.Minute})

	result, err := orc.Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, workflow.StateCompleted, result.State)
	require.Len(t, result.Outputs, 2)
}

func TestOrchestrator_CascadesCancelOnDependencyFailure(t *testing.T) {
	rt := router.New(registry.New(), nil, nil)
	orc := workflow.NewOrchestrator(rt, prompt.DefaultLibrary(), nil, nil)
	a := agent.NewAgent(&agent.Definition{ID: "a1", Name: "Ada", Role: agent.RoleExecutor, TrustLevel: 1})

	t1 := agent.NewTask("t1", "step-one")
	t1.SetMaxRetries(0)
	t2 := agent.NewTask("t2", "step-two")
	t2.Dependencies = []string{"t1"}

	w := workflow.New("wf2", "goal", []*agent.Agent{a}, map[string]*agent.Task{"t1": t1, "t2": t2}, workflow.Budget{})

	result, err := orc.Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, workflow.StatePartialFailure, result.State)
	require.Contains(t, result.Cancelled, "step-two")
}

// TestOrchestrator_CostCapStopYieldsPartialFailure reproduces spec §8
// scenario 5: the first task reports a cost over max_cost, the remaining
// task is cancelled by the budget stop, and no task ever fails — the run
// must still resolve to partial_failure, not completed.
func TestOrchestrator_CostCapStopYieldsPartialFailure(t *testing.T) {
	reg := registry.New()
	spec := registry.Spec{Provider: "stub", ModelID: "m1", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), InputCostPerM: 1, Quality: 0.9}
	require.NoError(t, reg.Init([]registry.Spec{spec}, nil))
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &costlyAdapter{costUSD: 1.0})

	orc := workflow.NewOrchestrator(rt, prompt.DefaultLibrary(), nil, nil)
	a := agent.NewAgent(&agent.Definition{ID: "a1", Name: "Ada", Role: agent.RoleExecutor, TrustLevel: 1})

	t1 := agent.NewTask("t1", "step-one")
	t2 := agent.NewTask("t2", "step-two")
	t2.Dependencies = []string{"t1"}

	w := workflow.New("wf3", "goal", []*agent.Agent{a}, map[string]*agent.Task{"t1": t1, "t2": t2}, workflow.Budget{MaxCostUSD: 0.5})

	result, err := orc.Run(context.Background(), w)
	require.NoError(t, err)
	require.Equal(t, workflow.StatePartialFailure, result.State)
	require.Empty(t, result.Failed)
	require.Contains(t, result.Cancelled, "step-two")
}
