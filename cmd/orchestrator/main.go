// Command orchestrator wires the model registry, provider adapters,
// cache, rate limiter, router, agent runtime, workflow orchestrator,
// quantum executor, session manager, and consent gate into one process
// and serves the MCP and A2A HTTP surfaces (spec §6). Mirrors the
// teacher's cmd/demo: construct dependencies by hand, register a small
// demo roster, and run.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"github.com/arcanefly/workforce/a2a"
	"github.com/arcanefly/workforce/agent"
	"github.com/arcanefly/workforce/cache"
	"github.com/arcanefly/workforce/consent"
	"github.com/arcanefly/workforce/core/config"
	"github.com/arcanefly/workforce/core/ids"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/mcp"
	"github.com/arcanefly/workforce/prompt"
	"github.com/arcanefly/workforce/providers/anthropic"
	"github.com/arcanefly/workforce/providers/bedrock"
	"github.com/arcanefly/workforce/providers/openai"
	"github.com/arcanefly/workforce/quantum"
	"github.com/arcanefly/workforce/ratelimit"
	"github.com/arcanefly/workforce/registry"
	"github.com/arcanefly/workforce/router"
	"github.com/arcanefly/workforce/session"
	"github.com/arcanefly/workforce/workflow"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics("arcanefly.workforce")

	reg := buildRegistry()

	rt := router.New(reg, logger, metrics,
		router.WithCache(cache.New(cfg.CacheTTL, 1000, cache.WithRemote(redisClient(cfg)), cache.WithLogger(logger))),
		router.WithRateLimiter(ratelimit.New(capsFor(cfg), ratelimit.WithRemote(redisClient(cfg)), ratelimit.WithLogger(logger))),
	)
	registerAdapters(ctx, rt, reg, cfg, logger)

	lib := prompt.DefaultLibrary()
	orch := workflow.NewOrchestrator(rt, lib, logger, metrics)
	qx := quantum.NewExecutor(rt, router.Policy{WeightCost: 0.3, WeightLatency: 0.3, WeightQuality: 0.4}, logger, metrics)

	store := buildStore(ctx, cfg, logger)
	sessionMgr := session.NewManager(store, cfg.MCPSessionExpiry, []string{"research", "writing", "coding", "review", "planning"})
	sweeper := session.NewSweeper(store, 30*time.Second, logger)
	go sweeper.Run(ctx)

	gate := consent.NewGate(redisClient(cfg))
	seedConsentPolicies(gate)

	roster := demoRoster()

	mcpSrv := mcp.NewServer(sessionMgr, store, gate, logger, demoResources, demoResource, "arcanefly-workforce", "0.1.0")
	registerTools(mcpSrv, roster, rt, lib, orch, qx, logger, metrics)

	a2aSrv := a2a.NewServer(sessionMgr, store, a2aDispatcher(roster, rt, lib, logger, metrics), logger)

	mux := http.NewServeMux()
	mux.Handle("/", mcpSrv.Mux())
	mux.Handle("/a2a/", http.StripPrefix("/a2a", a2aSrv.Mux()))

	addr := ":8090"
	log.Printf("arcanefly-workforce listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func buildRegistry() *registry.Registry {
	reg := registry.New()
	specs := []registry.Spec{
		{
			Provider: "anthropic", ModelID: "claude-3-5-sonnet", DisplayName: "Claude 3.5 Sonnet",
			Capabilities:   registry.NewCapabilitySet(registry.CapTextGeneration, registry.CapFunctionCalling, registry.CapStructuredOutput, registry.CapReasoning, registry.CapLongContext),
			InputTokenMax:  200000, OutputTokenMax: 8192, InputCostPerM: 3, OutputCostPerM: 15, ExpectedLatency: 1200, Quality: 0.92,
		},
		{
			Provider: "openai", ModelID: "gpt-4o", DisplayName: "GPT-4o",
			Capabilities:   registry.NewCapabilitySet(registry.CapTextGeneration, registry.CapFunctionCalling, registry.CapStructuredOutput, registry.CapVision),
			InputTokenMax:  128000, OutputTokenMax: 4096, InputCostPerM: 2.5, OutputCostPerM: 10, ExpectedLatency: 900, Quality: 0.9,
		},
		{
			Provider: "bedrock", ModelID: "amazon.titan-text-express-v1", DisplayName: "Titan Text Express",
			Capabilities:   registry.NewCapabilitySet(registry.CapTextGeneration),
			InputTokenMax:  8000, OutputTokenMax: 4096, InputCostPerM: 0.8, OutputCostPerM: 1.6, ExpectedLatency: 1800, Quality: 0.6,
		},
	}
	if err := reg.Init(specs, nil); err != nil {
		log.Fatalf("registry integrity check failed: %v", err)
	}
	return reg
}

func registerAdapters(ctx context.Context, rt *router.Router, reg *registry.Registry, cfg config.Config, logger telemetry.Logger) {
	if cfg.AnthropicAPIKey != "" {
		if adapter, err := anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, specsFor(reg, "anthropic"), logger); err != nil {
			logger.Warn(context.Background(), "anthropic adapter disabled", "err", err)
		} else {
			rt.RegisterAdapter("anthropic", adapter)
		}
	}
	if cfg.OpenAIAPIKey != "" {
		if adapter, err := openai.NewFromAPIKey(cfg.OpenAIAPIKey, specsFor(reg, "openai"), logger); err != nil {
			logger.Warn(context.Background(), "openai adapter disabled", "err", err)
		} else {
			rt.RegisterAdapter("openai", adapter)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
	if err != nil {
		logger.Warn(ctx, "bedrock adapter disabled: could not load AWS config", "err", err)
		return
	}
	runtime := bedrockruntime.NewFromConfig(awsCfg)
	if adapter, err := bedrock.New(runtime, specsFor(reg, "bedrock"), logger); err != nil {
		logger.Warn(ctx, "bedrock adapter disabled", "err", err)
	} else {
		rt.RegisterAdapter("bedrock", adapter)
	}
}

func specsFor(reg *registry.Registry, provider string) []registry.Spec {
	var out []registry.Spec
	for _, s := range reg.All() {
		if s.Provider == provider {
			out = append(out, s)
		}
	}
	return out
}

func capsFor(cfg config.Config) func(provider, modelID string) ratelimit.Caps {
	return func(provider, modelID string) ratelimit.Caps {
		return ratelimit.Caps{RequestsPerMinute: cfg.RateLimitRPM, RequestsPerHour: cfg.RateLimitRPH, USDPerHour: cfg.RateLimitUSDPerH}
	}
}

func redisClient(cfg config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("invalid REDIS_URL, falling back to in-process cache/limiter tiers: %v", err)
		return nil
	}
	return redis.NewClient(opts)
}

func buildStore(ctx context.Context, cfg config.Config, logger telemetry.Logger) session.Store {
	if cfg.MongoURL == "" {
		return session.NewMemStore()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		logger.Warn(ctx, "mongo connect failed, falling back to in-memory session store", "err", err)
		return session.NewMemStore()
	}
	store, err := session.NewMongoStore(ctx, session.MongoOptions{Client: client, Database: "arcanefly_workforce", Timeout: 5 * time.Second})
	if err != nil {
		logger.Warn(ctx, "mongo store init failed, falling back to in-memory session store", "err", err)
		return session.NewMemStore()
	}
	return store
}

func seedConsentPolicies(gate *consent.Gate) {
	gate.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: mcp.ToolExecuteAgent, RequiredPermissions: []string{"agent:run"}, AutoApprove: true, MaxUsagePerHour: 120})
	gate.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: mcp.ToolCreateWorkflow, RequiredPermissions: []string{"workflow:run"}, AutoApprove: true, MaxUsagePerHour: 30})
	gate.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: mcp.ToolAnalyzeSystem, RequiredPermissions: []string{"system:read"}, AutoApprove: true})
}

func newDemoAgent(id string, role agent.Role, caps []string, trust float64) *agent.Agent {
	return agent.NewAgent(&agent.Definition{
		ID: id, Name: id, Role: role, Capabilities: caps,
		PreferredModelIDs: []string{"anthropic/claude-3-5-sonnet", "openai/gpt-4o"},
		Defaults:          agent.GenerationDefaults{Temperature: 0.7, MaxTokens: 1024, PerTaskTimeoutMS: 60000, MaxIterations: 5},
		TrustLevel:        trust, CanDelegate: true, CanRequestHelp: true,
	})
}

func demoRoster() []*agent.Agent {
	return []*agent.Agent{
		newDemoAgent("researcher-1", agent.RoleResearcher, []string{"research", "search"}, 0.8),
		newDemoAgent("writer-1", agent.RoleWriter, []string{"writing", "summarization"}, 0.75),
		newDemoAgent("coder-1", agent.RoleCoder, []string{"coding", "review"}, 0.85),
		newDemoAgent("planner-1", agent.RolePlanner, []string{"planning", "coordination"}, 0.7),
	}
}

func demoResources() []mcp.Resource {
	return []mcp.Resource{
		{URI: "agent://roster", Name: "agent roster", Description: "configured agent definitions", MimeType: "application/json"},
	}
}

func demoResource(uri string) (mcp.ResourceContent, bool) {
	if uri != "agent://roster" {
		return mcp.ResourceContent{}, false
	}
	return mcp.ResourceContent{URI: uri, MimeType: "application/json", Text: `{"roster":["researcher-1","writer-1","coder-1","planner-1"]}`}, true
}

func registerTools(srv *mcp.Server, roster []*agent.Agent, rt *router.Router, lib *prompt.Library,
	orch *workflow.Orchestrator, qx *quantum.Executor, logger telemetry.Logger, metrics telemetry.Metrics) {
	_ = srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{
			Name: mcp.ToolExecuteAgent, Description: "Execute a single task against the best-matching agent.",
			InputSchema: map[string]any{
				"type": "object", "required": []any{"prompt"},
				"properties": map[string]any{
					"prompt": map[string]any{"type": "string"},
					"role":   map[string]any{"type": "string"},
				},
			},
		},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			userPrompt, _ := arguments["prompt"].(string)
			task := agent.NewTask(ids.NewTask(), "adhoc")
			task.Description = userPrompt
			chosen := agent.AutoAssign(roster, task)
			if chosen == nil {
				return nil, fmt.Errorf("mcp: no agent available to run this task")
			}
			runtime := agent.NewRuntime(chosen, rt, lib, logger, metrics)
			if report != nil {
				report(mcp.ProgressEvent{Progress: 0.1, Message: "dispatched to " + chosen.Def.ID})
			}
			return runtime.ExecuteTask(ctx, task, agent.StandaloneContext(time.Minute))
		},
	})

	_ = srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{
			Name: mcp.ToolCreateWorkflow, Description: "Run a linear multi-agent workflow.",
			InputSchema: map[string]any{"type": "object", "required": []any{"goal"}, "properties": map[string]any{"goal": map[string]any{"type": "string"}}},
		},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			goal, _ := arguments["goal"].(string)
			t1 := agent.NewTask(ids.NewTask(), "plan")
			t1.Description = goal
			t2 := agent.NewTask(ids.NewTask(), "execute")
			t2.Description = goal
			t2.Dependencies = []string{t1.ID}
			wf := workflow.New("wf-"+t1.ID, goal, roster, map[string]*agent.Task{t1.ID: t1, t2.ID: t2}, workflow.Budget{MaxDuration: 5 * time.Minute})
			result, err := orch.Run(ctx, wf)
			if err != nil {
				return nil, err
			}
			return map[string]any{"state": result.State, "outputs": result.Outputs, "failed": result.Failed}, nil
		},
	})

	_ = srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{
			Name: mcp.ToolAnalyzeSystem, Description: "Run N parallel prompt variations and collapse to one answer.",
			InputSchema: map[string]any{"type": "object", "required": []any{"prompt"}, "properties": map[string]any{"prompt": map[string]any{"type": "string"}}},
		},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			p, _ := arguments["prompt"].(string)
			qt := &quantum.Task{ID: ids.NewQuantumTask(), Prompt: p, Strategy: quantum.StrategyBestScore, TimeoutSeconds: 30}
			variations := []quantum.Variation{{ID: "v1", DisplayName: "baseline"}, {ID: "v2", DisplayName: "terse", Mods: quantum.PromptMods{StyleTag: "terse"}}}
			result, err := qx.Run(ctx, qt, variations)
			if err != nil {
				return nil, err
			}
			return map[string]any{"collapsed": result.CollapsedResult, "metrics": result.FinalMetrics}, nil
		},
	})
}

func a2aDispatcher(roster []*agent.Agent, rt *router.Router, lib *prompt.Library, logger telemetry.Logger, metrics telemetry.Metrics) a2a.TaskDispatcher {
	return func(sessionID string, payload map[string]any) (map[string]any, error) {
		userPrompt, _ := payload["prompt"].(string)
		task := agent.NewTask(ids.NewTask(), "a2a-task")
		task.Description = userPrompt
		chosen := agent.AutoAssign(roster, task)
		if chosen == nil {
			return nil, fmt.Errorf("a2a: no agent available to run this task")
		}
		runtime := agent.NewRuntime(chosen, rt, lib, logger, metrics)
		return runtime.ExecuteTask(context.Background(), task, agent.StandaloneContext(time.Minute))
	}
}
