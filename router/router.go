// Package router implements the Router (spec §4.3): policy-driven
// selection of a model/provider for a generic LLM request, backed by a
// per-model recent-latency ring buffer. Grounded on the teacher's routing
// concerns split across runtime/agent/model (request/response shape) and
// features/model/gateway (provider map + dispatch), generalized from a
// planner-message router to the cost/latency/quality scoring policy
// spec §4.3 defines.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcanefly/workforce/cache"
	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/providers"
	"github.com/arcanefly/workforce/ratelimit"
	"github.com/arcanefly/workforce/registry"
)

// Policy is the routing policy (spec §3 "Routing policy").
type Policy struct {
	WeightCost    float64
	WeightLatency float64
	WeightQuality float64

	PreferredProvider string

	MaxCostUSD  float64 // 0 = no cap
	MaxLatencyMS int    // 0 = no cap

	RequiredCapabilities registry.CapabilitySet

	// UseCache opts this call into the response cache (spec §4.4: "the
	// cache is consulted only when the caller opts in").
	UseCache bool
}

const ringSize = 100

// Router holds a map of "provider/model_id" -> (adapter, spec) and a
// per-model recent-latency ring buffer.
type Router struct {
	mu       sync.RWMutex
	adapters map[string]providers.Adapter // keyed by provider name
	reg      *registry.Registry
	latency  map[string]*ring // keyed by "provider/model_id"

	log     telemetry.Logger
	metrics telemetry.Metrics

	cache   *cache.Cache
	limiter *ratelimit.Limiter
}

// Option configures optional Router collaborators.
type Option func(*Router)

// WithCache attaches the response cache (spec §4.4), consulted only on
// calls whose Policy.UseCache is true.
func WithCache(c *cache.Cache) Option { return func(r *Router) { r.cache = c } }

// WithRateLimiter attaches the rate limiter (spec §4.5), consulted on
// every Route call that is not served from the cache.
func WithRateLimiter(l *ratelimit.Limiter) Option { return func(r *Router) { r.limiter = l } }

type ring struct {
	mu     sync.Mutex
	values [ringSize]int64
	next   int
	count  int
}

func (r *ring) push(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[r.next] = v
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

func (r *ring) average() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0, false
	}
	var sum int64
	for i := 0; i < r.count; i++ {
		sum += r.values[i]
	}
	return sum / int64(r.count), true
}

// New constructs a Router over the given registry. Register adapters with
// RegisterAdapter before calling Route.
func New(reg *registry.Registry, log telemetry.Logger, metrics telemetry.Metrics, opts ...Option) *Router {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	r := &Router{
		adapters: make(map[string]providers.Adapter),
		reg:      reg,
		latency:  make(map[string]*ring),
		log:      log,
		metrics:  metrics,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterAdapter associates a provider name with its Adapter.
func (r *Router) RegisterAdapter(provider string, adapter providers.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[provider] = adapter
}

// estimateTokens approximates input tokens as characters/4, per spec §4.3
// step 1.
func estimateTokens(prompt string) int {
	return len(prompt) / 4
}

// Route selects a model for req under policy, executes it via the chosen
// adapter, and records observed latency. On success it returns the
// response and the key ("provider/model_id") that was used.
func (r *Router) Route(ctx context.Context, req providers.Request, policy Policy) (providers.Response, string, error) {
	candidates, err := r.candidates(req, policy)
	if err != nil {
		return providers.Response{}, "", err
	}
	chosen := r.score(candidates, req, policy)
	if chosen == "" {
		return providers.Response{}, "", coreerr.New(coreerr.NoCandidate, "router", "no candidate model satisfies the request", false, nil)
	}

	spec, _ := r.reg.Get(chosen)
	r.mu.RLock()
	adapter, ok := r.adapters[spec.Provider]
	r.mu.RUnlock()
	if !ok {
		return providers.Response{}, "", coreerr.New(coreerr.NoCandidate, "router", "no adapter registered for provider "+spec.Provider, false, nil)
	}

	req.Model = chosen

	var cacheKey string
	if policy.UseCache && r.cache != nil {
		cacheKey = cache.Key(req.Prompt, chosen, req.Temperature, req.MaxTokens)
		if resp, ok := r.cache.Get(ctx, cacheKey); ok {
			r.metrics.IncCounter("router.route.cache_hit", 1, "model", chosen)
			return resp, chosen, nil
		}
	}

	if r.limiter != nil {
		estCost := providers.CostFromSpec(spec, estimateTokens(req.Prompt), req.MaxTokens)
		allowed, info := r.limiter.Check(ctx, spec.Provider, spec.ModelID, estCost)
		if !allowed {
			return providers.Response{}, chosen, coreerr.New(coreerr.RateLimited, "router",
				fmt.Sprintf("rate limit exceeded for %s: %s", chosen, info.Reason), true, nil)
		}
	}

	start := time.Now()
	resp, err := adapter.Generate(ctx, req)
	if err != nil {
		return providers.Response{}, chosen, err
	}
	observed := time.Since(start).Milliseconds()
	r.recordLatency(chosen, observed)
	r.metrics.IncCounter("router.route.total", 1, "model", chosen)
	r.metrics.RecordTimer("router.route.latency", time.Since(start), "model", chosen)

	if r.limiter != nil {
		r.limiter.RecordUsage(ctx, spec.Provider, spec.ModelID, resp.CostUSD, resp.TotalTokens())
	}
	if policy.UseCache && r.cache != nil {
		r.cache.Set(ctx, cacheKey, resp)
	}
	return resp, chosen, nil
}

// candidates implements spec §4.3 steps 1–2: capability filter, then
// constraint filter with a documented soft fallback to the full candidate
// set when the constrained set is empty.
func (r *Router) candidates(req providers.Request, policy Policy) ([]registry.Spec, error) {
	required := policy.RequiredCapabilities
	if required == nil {
		required = registry.CapabilitySet{}
	}
	if len(req.ToolSchemas) > 0 {
		required = required.Union(registry.NewCapabilitySet(registry.CapFunctionCalling))
	}
	if req.ResponseFormat == "json" {
		required = required.Union(registry.NewCapabilitySet(registry.CapStructuredOutput))
	}
	if estimateTokens(req.Prompt) > 16000 {
		required = required.Union(registry.NewCapabilitySet(registry.CapLongContext))
	}

	full := r.reg.Query(context.Background(), registry.Filter{RequiredCaps: required})
	if len(full) == 0 {
		return nil, coreerr.New(coreerr.NoCandidate, "router", "no model satisfies required capabilities", false, nil)
	}

	constrained := make([]registry.Spec, 0, len(full))
	for _, s := range full {
		if policy.MaxCostUSD > 0 {
			estCost := providers.CostFromSpec(s, estimateTokens(req.Prompt), req.MaxTokens)
			if estCost > policy.MaxCostUSD {
				continue
			}
		}
		if policy.MaxLatencyMS > 0 {
			observed, ok := r.latencyFor(s.Key())
			if !ok {
				observed = int64(s.ExpectedLatency)
			}
			if observed > int64(policy.MaxLatencyMS) {
				continue
			}
		}
		constrained = append(constrained, s)
	}
	if len(constrained) == 0 {
		// Soft policy (spec §4.3 step 2): fall back to the full capability-
		// filtered candidate set rather than failing outright.
		return full, nil
	}
	return constrained, nil
}

// score implements spec §4.3 step 3–4: weighted scoring and arg-max
// selection, ties broken lexicographically by model key.
func (r *Router) score(candidates []registry.Spec, req providers.Request, policy Policy) string {
	if len(candidates) == 0 {
		return ""
	}
	minCost, maxCost := candidates[0].InputCostPerM, candidates[0].InputCostPerM
	for _, c := range candidates {
		if c.InputCostPerM < minCost {
			minCost = c.InputCostPerM
		}
		if c.InputCostPerM > maxCost {
			maxCost = c.InputCostPerM
		}
	}

	type scored struct {
		key   string
		total float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		costScore := 1.0
		if maxCost > minCost {
			costScore = 1 - (c.InputCostPerM-minCost)/(maxCost-minCost)
		}

		latencyScore := 0.5
		if observed, ok := r.latencyFor(c.Key()); ok {
			latencyScore = normalizeLatency(observed, candidates)
		} else if c.ExpectedLatency > 0 {
			latencyScore = normalizeLatency(int64(c.ExpectedLatency), candidates)
		}

		qualityScore := c.Quality
		if qualityScore == 0 {
			qualityScore = 0.5
		}

		providerBonus := 0.0
		if policy.PreferredProvider != "" && strings.EqualFold(policy.PreferredProvider, c.Provider) {
			providerBonus = 0.1
		}

		total := policy.WeightCost*costScore + policy.WeightLatency*latencyScore + policy.WeightQuality*qualityScore + providerBonus
		scores = append(scores, scored{key: c.Key(), total: total})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].total != scores[j].total {
			return scores[i].total > scores[j].total
		}
		return scores[i].key < scores[j].key
	})
	return scores[0].key
}

func normalizeLatency(observed int64, candidates []registry.Spec) float64 {
	var minLat, maxLat int64 = -1, -1
	for _, c := range candidates {
		l := int64(c.ExpectedLatency)
		if minLat == -1 || l < minLat {
			minLat = l
		}
		if maxLat == -1 || l > maxLat {
			maxLat = l
		}
	}
	if maxLat <= minLat {
		return 0.5
	}
	score := 1 - float64(observed-minLat)/float64(maxLat-minLat)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func (r *Router) latencyFor(key string) (int64, bool) {
	r.mu.RLock()
	ring, ok := r.latency[key]
	r.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return ring.average()
}

func (r *Router) recordLatency(key string, observedMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rb, ok := r.latency[key]
	if !ok {
		rb = &ring{}
		r.latency[key] = rb
	}
	rb.push(observedMS)
}
