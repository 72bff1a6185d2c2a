package router_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/cache"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/ratelimit"
	"github.com/arcanefly/workforce/registry"
	"github.com/arcanefly/workforce/router"
)

type stubAdapter struct {
	models []registry.Spec
}

func (s *stubAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	return providers.Response{Content: "ok", Model: req.Model}, nil
}
func (s *stubAdapter) ListModels() []registry.Spec { return s.models }
func (s *stubAdapter) Cost(in, out int, modelID string) float64 { return 0 }

func setupRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	specs := []registry.Spec{
		{Provider: "stub", ModelID: "m1", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), InputCostPerM: 5, ExpectedLatency: 1000, Quality: 0.9},
		{Provider: "stub", ModelID: "m2", Capabilities: registry.NewCapabilitySet(registry.CapTextGeneration), InputCostPerM: 0.5, ExpectedLatency: 3000, Quality: 0.8},
	}
	require.NoError(t, r.Init(specs, nil))
	return r
}

func TestRoute_CostVsLatencyTradeoff(t *testing.T) {
	reg := setupRegistry(t)
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &stubAdapter{models: reg.All()})

	// Policy favoring cost should pick the cheaper, slower model (m2).
	_, key, err := rt.Route(context.Background(), providers.Request{Prompt: "hi"}, router.Policy{
		WeightCost: 0.8, WeightLatency: 0.1, WeightQuality: 0.1,
		RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration),
	})
	require.NoError(t, err)
	require.Equal(t, "stub/m2", key)

	// A fresh router, so the latency the first call recorded for m2 does not
	// replace m2's nominal latency in scoring.
	rt = router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &stubAdapter{models: reg.All()})

	// Policy favoring latency should pick the faster, pricier model (m1).
	_, key, err = rt.Route(context.Background(), providers.Request{Prompt: "hi"}, router.Policy{
		WeightCost: 0.1, WeightLatency: 0.8, WeightQuality: 0.1,
		RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration),
	})
	require.NoError(t, err)
	require.Equal(t, "stub/m1", key)
}

func TestRoute_NoCandidateWhenCapabilityUnmet(t *testing.T) {
	reg := setupRegistry(t)
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &stubAdapter{models: reg.All()})

	_, _, err := rt.Route(context.Background(), providers.Request{Prompt: "hi"}, router.Policy{
		WeightCost: 1, RequiredCapabilities: registry.NewCapabilitySet(registry.CapVision),
	})
	require.Error(t, err)
}

func TestRoute_ConstraintFallsBackWhenEmpty(t *testing.T) {
	reg := setupRegistry(t)
	rt := router.New(reg, nil, nil)
	rt.RegisterAdapter("stub", &stubAdapter{models: reg.All()})

	// A max cost so low no model qualifies triggers the documented soft
	// fallback to the full candidate set rather than NoCandidate.
	_, key, err := rt.Route(context.Background(), providers.Request{Prompt: "hi"}, router.Policy{
		WeightCost: 1, MaxCostUSD: 0.0000001,
		RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration),
	})
	require.NoError(t, err)
	require.NotEmpty(t, key)
}

// countingAdapter counts Generate calls so the cache-hit test can assert
// the second call never reaches the adapter.
type countingAdapter struct {
	stubAdapter
	calls int
}

func (c *countingAdapter) Generate(ctx context.Context, req providers.Request) (providers.Response, error) {
	c.calls++
	return c.stubAdapter.Generate(ctx, req)
}

func TestRoute_CacheHitSkipsAdapter(t *testing.T) {
	reg := setupRegistry(t)
	adapter := &countingAdapter{stubAdapter: stubAdapter{models: reg.All()}}
	rt := router.New(reg, nil, nil, router.WithCache(cache.New(time.Minute, 10)))
	rt.RegisterAdapter("stub", adapter)

	policy := router.Policy{WeightCost: 0.8, WeightLatency: 0.1, WeightQuality: 0.1,
		RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration), UseCache: true}
	req := providers.Request{Prompt: "hi"}

	_, _, err := rt.Route(context.Background(), req, policy)
	require.NoError(t, err)
	_, _, err = rt.Route(context.Background(), req, policy)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.calls)
}

func TestRoute_RateLimitDenies(t *testing.T) {
	reg := setupRegistry(t)
	limiter := ratelimit.New(func(provider, modelID string) ratelimit.Caps {
		return ratelimit.Caps{RequestsPerMinute: 1}
	})
	rt := router.New(reg, nil, nil, router.WithRateLimiter(limiter))
	rt.RegisterAdapter("stub", &stubAdapter{models: reg.All()})

	policy := router.Policy{WeightCost: 1, RequiredCapabilities: registry.NewCapabilitySet(registry.CapTextGeneration)}
	req := providers.Request{Prompt: "hi"}

	_, _, err := rt.Route(context.Background(), req, policy) // 1st request admitted
	require.NoError(t, err)
	_, _, err = rt.Route(context.Background(), req, policy) // 2nd exceeds the per-minute cap
	require.Error(t, err)
}
