// Package prompt implements the prompt template contract (spec §6): an
// RTF-structured template (Role, Task, Format, optional Context,
// Constraints, Examples) rendered with variable substitution, plus the
// model-family envelope wrapping the Agent Runtime applies. Templates are
// data, not code (spec §9 design note); Library loads them from a YAML
// string table, grounded on the original Python implementation's
// EnhancedPromptLibrary (original_source/backend/app/core/enhanced_prompts.py)
// and the teacher's convention of keeping DSL content separate from
// runtime logic (goa.design/goa-ai agents/dsl).
package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is one RTF-structured prompt template (spec §6 "Prompt template
// contract").
type Template struct {
	Role        string   `yaml:"role"`
	Task        string   `yaml:"task"`
	Format      string   `yaml:"format"`
	Context     string   `yaml:"context,omitempty"`
	Constraints []string `yaml:"constraints,omitempty"`
	Examples    []string `yaml:"examples,omitempty"`
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes {var} placeholders from vars and emits a document
// with labeled sections, in the order Role, Task, Format, Context (if
// set), Constraints (if any), Examples (if any).
func (t Template) Render(vars map[string]string) string {
	sub := func(s string) string {
		return placeholder.ReplaceAllStringFunc(s, func(m string) string {
			key := m[1 : len(m)-1]
			if v, ok := vars[key]; ok {
				return v
			}
			return m
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Role:\n%s\n\n", sub(t.Role))
	fmt.Fprintf(&b, "Task:\n%s\n\n", sub(t.Task))
	fmt.Fprintf(&b, "Format:\n%s\n", sub(t.Format))
	if t.Context != "" {
		fmt.Fprintf(&b, "\nContext:\n%s\n", sub(t.Context))
	}
	if len(t.Constraints) > 0 {
		b.WriteString("\nConstraints:\n")
		for _, c := range t.Constraints {
			fmt.Fprintf(&b, "- %s\n", sub(c))
		}
	}
	if len(t.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, ex := range t.Examples {
			fmt.Fprintf(&b, "- %s\n", sub(ex))
		}
	}
	return b.String()
}

// ModelFamily identifies the model-specific envelope to apply.
type ModelFamily string

const (
	FamilyClaude ModelFamily = "claude"
	FamilyLlama  ModelFamily = "llama"
	FamilyOpenAI ModelFamily = "openai"
)

// FamilyForModel classifies a "provider/model_id" key into a ModelFamily so
// Envelope can apply the right wrapping.
func FamilyForModel(modelKey string) ModelFamily {
	lower := strings.ToLower(modelKey)
	switch {
	case strings.Contains(lower, "claude") || strings.HasPrefix(lower, "anthropic/"):
		return FamilyClaude
	case strings.Contains(lower, "llama"):
		return FamilyLlama
	default:
		return FamilyOpenAI
	}
}

// Envelope applies the model-specific wrapping spec §6 requires: wrap in
// "Human:...Assistant:" for Claude-family models, prefix
// "### Instruction:...### Response:" for Llama-family models, and pass
// through unchanged for OpenAI-family models.
func Envelope(family ModelFamily, body string) string {
	switch family {
	case FamilyClaude:
		return "Human: " + body + "\n\nAssistant:"
	case FamilyLlama:
		return "### Instruction:\n" + body + "\n\n### Response:"
	default:
		return body
	}
}

// Library is a role-keyed table of Templates, loadable from YAML (spec §9:
// "Templates are data, not code; load from configuration").
type Library struct {
	templates map[string]Template
}

// NewLibrary constructs an empty Library.
func NewLibrary() *Library {
	return &Library{templates: make(map[string]Template)}
}

// LoadYAML parses a YAML document mapping role tags to Templates and merges
// them into the Library.
func (l *Library) LoadYAML(doc []byte) error {
	var parsed map[string]Template
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("prompt: parse template library: %w", err)
	}
	for role, tmpl := range parsed {
		l.templates[role] = tmpl
	}
	return nil
}

// Get returns the template registered for role, or false if absent.
func (l *Library) Get(role string) (Template, bool) {
	t, ok := l.templates[role]
	return t, ok
}

// Set registers or overwrites the template for role.
func (l *Library) Set(role string, t Template) {
	l.templates[role] = t
}

// DefaultLibrary returns a Library pre-populated with the "advanced
// assistant"-style templates the original implementation shipped for each
// agent role tag (spec §3 "Agent definition" role tags), ported from
// original_source's EnhancedPromptLibrary.
func DefaultLibrary() *Library {
	l := NewLibrary()
	l.Set("researcher", Template{
		Role:   "You are {agent_name}, a research agent specialized in {domain}.",
		Task:   "Investigate {topic} and produce findings grounded in verifiable sources.",
		Format: "Return a structured summary with a findings list and a sources list.",
		Constraints: []string{
			"Cite sources for every factual claim.",
			"Flag uncertainty instead of guessing.",
		},
	})
	l.Set("analyst", Template{
		Role:   "You are {agent_name}, a data analyst focused on {domain}.",
		Task:   "Analyze {input_summary} and surface the key patterns and risks.",
		Format: "Return a structured analysis with a findings list and a confidence score.",
	})
	l.Set("writer", Template{
		Role:   "You are {agent_name}, a technical writer.",
		Task:   "Turn {input_summary} into a clear, well-organized report.",
		Format: "Return the report as markdown with headings and a short executive summary.",
	})
	l.Set("coder", Template{
		Role:   "You are {agent_name}, a software engineer.",
		Task:   "Implement {task_description} against the given constraints.",
		Format: "Return the code change plus a one-paragraph rationale.",
	})
	l.Set("reviewer", Template{
		Role:   "You are {agent_name}, a meticulous reviewer.",
		Task:   "Review {input_summary} for correctness and completeness.",
		Format: "Return a list of issues, each with a severity and a suggested fix.",
	})
	l.Set("planner", Template{
		Role:   "You are {agent_name}, a planning agent.",
		Task:   "Decompose {goal} into an ordered list of concrete steps.",
		Format: "Return a numbered step list with dependencies between steps.",
	})
	l.Set("executor", Template{
		Role:   "You are {agent_name}, an execution agent.",
		Task:   "Carry out {step_description} and report the outcome.",
		Format: "Return a status (success/failure) and the resulting output.",
	})
	l.Set("coordinator", Template{
		Role:   "You are {agent_name}, coordinating a team of agents toward {goal}.",
		Task:   "Synthesize the team's outputs into one coherent result.",
		Format: "Return a single consolidated answer with attribution per contributing agent.",
	})
	l.Set("validator", Template{
		Role:   "You are {agent_name}, validating work against explicit success criteria.",
		Task:   "Check {input_summary} against {criteria} and report pass/fail per criterion.",
		Format: "Return a checklist: criterion, pass/fail, and justification.",
	})
	return l
}
