package agent

import (
	"strings"

	"github.com/arcanefly/workforce/router"
)

// Role is one of the agent role tags spec §3 names.
type Role string

const (
	RoleResearcher  Role = "researcher"
	RoleAnalyst     Role = "analyst"
	RoleWriter      Role = "writer"
	RoleCoder       Role = "coder"
	RoleReviewer    Role = "reviewer"
	RolePlanner     Role = "planner"
	RoleExecutor    Role = "executor"
	RoleCoordinator Role = "coordinator"
	RoleValidator   Role = "validator"
)

// GenerationDefaults are an agent's default generation knobs (spec §3
// "Agent definition").
type GenerationDefaults struct {
	Temperature      float64
	MaxTokens        int
	PerTaskTimeoutMS int
	MaxIterations    int
}

// Definition is an agent definition (spec §3 "Agent definition").
type Definition struct {
	ID                 string
	Name               string
	Role               Role
	Capabilities       []string
	PreferredModelIDs  []string // ordered, most preferred first
	PolicyOverride     *router.Policy
	Defaults           GenerationDefaults
	TrustLevel         float64 // [0,1]
	CanDelegate        bool
	CanRequestHelp     bool
}

// Agent pairs a Definition with its contextual Memory.
type Agent struct {
	Def *Definition
	Mem *Memory
}

// NewAgent constructs an Agent with fresh Memory.
func NewAgent(def *Definition) *Agent {
	return &Agent{Def: def, Mem: NewMemory()}
}

// Score implements the auto-assignment formula from spec §4.6:
// trust·0.3 + role-keyword match·0.2·k + skill match·0.1·k + domain
// match·0.15·k, where k is the fraction of the task's keyword/skill/domain
// hints this agent satisfies.
func (a *Agent) Score(task *Task) float64 {
	trustTerm := a.Def.TrustLevel * 0.3

	roleHints, skillHints, domainHints := taskHints(task)
	roleK := matchFraction(string(a.Def.Role), roleHints)
	skillK := matchFraction(strings.Join(a.Def.Capabilities, " "), skillHints)
	domainK := matchFraction(strings.Join(a.Def.Capabilities, " "), domainHints)

	return trustTerm + 0.2*roleK + 0.1*skillK + 0.15*domainK
}

// taskHints extracts role/skill/domain keyword hints from a task's
// description and success criteria, the closest proxy the Task model
// provides to the original implementation's free-form tags.
func taskHints(task *Task) (role, skill, domain []string) {
	words := strings.Fields(strings.ToLower(task.Description))
	if len(words) == 0 {
		return nil, nil, nil
	}
	third := len(words)/3 + 1
	role = words[:min(third, len(words))]
	skill = task.SuccessCriteria
	domain = words
	return role, skill, domain
}

func matchFraction(haystack string, needles []string) float64 {
	if len(needles) == 0 {
		return 0
	}
	haystack = strings.ToLower(haystack)
	hits := 0
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, strings.ToLower(n)) {
			hits++
		}
	}
	return float64(hits) / float64(len(needles))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// AutoAssign picks the highest-scoring agent from pool for task (spec
// §4.6 "Auto-assignment"). Returns nil if pool is empty.
func AutoAssign(pool []*Agent, task *Task) *Agent {
	var best *Agent
	var bestScore float64
	for _, a := range pool {
		s := a.Score(task)
		if best == nil || s > bestScore {
			best = a
			bestScore = s
		}
	}
	return best
}
