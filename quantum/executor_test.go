package quantum_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/quantum"
	"github.com/arcanefly/workforce/registry"
	"github.com/arcanefly/workforce/router"
)

type fixedAdapter struct {
	content string
	models  []registry.Spec
}

func (f *fixedAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	return providers.Response{Content: f.content, Model: req.Model}, nil
}
func (f *fixedAdapter) ListModels() []registry.Spec                      { return f.models }
func (f *fixedAdapter) Cost(in, out int, modelID string) float64 { return 0 }

func newQuantumRouter(t *testing.T) *router.Router {
	t.Helper()
	reg := registry.New()
	spec := registry.Spec{Provider: "stub", ModelID: "m1", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), Quality: 0.9}
	require.NoError(t, reg.Init([]registry.Spec{spec}, nil))
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &fixedAdapter{content: "a fairly short answer that should not max out completeness"})
	return rt
}

func TestExecutor_BestScoreCollapse(t *testing.T) {
	rt := newQuantumRouter(t)
	ex := quantum.NewExecutor(rt, router.Policy{WeightQuality: 1, RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration)}, nil, nil)

	task := &quantum.Task{ID: "q1", Prompt: "summarize", Strategy: quantum.StrategyBestScore, MaxParallel: 5, TimeoutSeconds: 5}
	variations := []quantum.Variation{
		{ID: "v1", DisplayName: "v1", Weight: 1},
		{ID: "v2", DisplayName: "v2", Weight: 2},
	}
	out, err := ex.Run(context.Background(), task, variations)
	require.NoError(t, err)
	require.Equal(t, quantum.StateCompleted, out.State)
	require.Len(t, out.ExecutionSummary, 2)
	require.Contains(t, out.CollapsedResult, "output")
}

func TestExecutor_RejectsOverCap(t *testing.T) {
	rt := newQuantumRouter(t)
	ex := quantum.NewExecutor(rt, router.Policy{}, nil, nil)
	variations := make([]quantum.Variation, 21)
	for i := range variations {
		variations[i] = quantum.Variation{ID: "v", DisplayName: "v"}
	}
	task := &quantum.Task{ID: "q2", Strategy: quantum.StrategyBestScore}
	_, err := ex.Run(context.Background(), task, variations)
	require.Error(t, err)
}

func TestExecutor_WithAccuracyMetricOverridesScore(t *testing.T) {
	rt := newQuantumRouter(t)
	ex := quantum.NewExecutor(rt, router.Policy{WeightQuality: 1, RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration)}, nil, nil,
		quantum.WithAccuracyMetric(func(content string, wall time.Duration, succeeded bool) float64 {
			return 1 // perfect accuracy regardless of the default success-only heuristic
		}))

	task := &quantum.Task{
		ID: "q3", Prompt: "summarize", Strategy: quantum.StrategyBestScore, MaxParallel: 1, TimeoutSeconds: 5,
		Weights: quantum.MetricWeights{Accuracy: 1},
	}
	variations := []quantum.Variation{{ID: "v1", DisplayName: "v1", Weight: 1}}
	out, err := ex.Run(context.Background(), task, variations)
	require.NoError(t, err)
	require.Equal(t, 1.0, out.ExecutionSummary[0].Scores["accuracy"])
}

func TestPromptMods_Apply(t *testing.T) {
	mods := quantum.PromptMods{Prefix: "PRE-", Suffix: "-POST", Replacements: map[string]string{"foo": "bar"}, StyleTag: "terse"}
	out := mods.Apply("hello foo world")
	require.Equal(t, "PRE-hello bar world-POST\n\nStyle: terse", out)
}
