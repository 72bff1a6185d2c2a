package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/registry"
)

func sampleSpecs() []registry.Spec {
	return []registry.Spec{
		{
			Provider: "anthropic", ModelID: "claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet",
			Capabilities:   registry.NewCapabilitySet(registry.CapTextGeneration, registry.CapFunctionCalling, registry.CapReasoning),
			InputCostPerM:  3.0, OutputCostPerM: 15.0, ExpectedLatency: 1200, Quality: 0.92,
		},
		{
			Provider: "openai", ModelID: "gpt-4o-mini", DisplayName: "GPT-4o mini",
			Capabilities:  registry.NewCapabilitySet(registry.CapTextGeneration, registry.CapFunctionCalling, registry.CapVision),
			InputCostPerM: 0.15, OutputCostPerM: 0.6, ExpectedLatency: 600, Quality: 0.78,
		},
		{
			Provider: "bedrock", ModelID: "titan-embed", DisplayName: "Titan Embeddings",
			Capabilities: registry.NewCapabilitySet(registry.CapEmbeddings),
		},
	}
}

func TestInit_IntegrityCheck(t *testing.T) {
	r := registry.New()
	err := r.Init(sampleSpecs(), map[string][]string{
		"anthropic": {"claude-3-5-sonnet"},
		"openai":    {"gpt-4o-mini"},
	})
	require.NoError(t, err)

	err = r.Init(sampleSpecs(), map[string][]string{
		"anthropic": {"claude-4-opus"},
	})
	require.Error(t, err)
}

func TestInit_RejectsModelsMissingTextGeneration(t *testing.T) {
	r := registry.New()
	bad := []registry.Spec{{Provider: "p", ModelID: "broken", Capabilities: registry.NewCapabilitySet(registry.CapVision)}}
	err := r.Init(bad, nil)
	require.Error(t, err)
}

func TestQuery_FiltersByCapabilityAndCost(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Init(sampleSpecs(), nil))

	got := r.Query(context.Background(), registry.Filter{RequiredCaps: registry.NewCapabilitySet(registry.CapFunctionCalling)})
	require.Len(t, got, 2)

	got = r.Query(context.Background(), registry.Filter{MaxInputCostPerM: 1.0})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"bedrock/titan-embed", "openai/gpt-4o-mini"}, []string{got[0].Key(), got[1].Key()})

	got = r.Query(context.Background(), registry.Filter{RequireReasoning: true})
	require.Len(t, got, 1)
	assert.Equal(t, "anthropic/claude-3-5-sonnet", got[0].Key())
}

func TestGet(t *testing.T) {
	r := registry.New()
	require.NoError(t, r.Init(sampleSpecs(), nil))
	_, ok := r.Get("anthropic/claude-3-5-sonnet")
	assert.True(t, ok)
	_, ok = r.Get("missing/x")
	assert.False(t, ok)
}
