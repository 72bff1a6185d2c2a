package prompt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/prompt"
)

func TestTemplate_RenderSubstitutesAndLeavesUnknownPlaceholders(t *testing.T) {
	tmpl := prompt.Template{
		Role:        "You are {agent_name}.",
		Task:        "Investigate {topic}.",
		Format:      "Return findings.",
		Constraints: []string{"Cite {source_kind} sources."},
	}
	out := tmpl.Render(map[string]string{"agent_name": "Ada", "topic": "graph databases"})
	require.Contains(t, out, "You are Ada.")
	require.Contains(t, out, "Investigate graph databases.")
	require.Contains(t, out, "Cite {source_kind} sources.")
}

func TestFamilyForModel(t *testing.T) {
	require.Equal(t, prompt.FamilyClaude, prompt.FamilyForModel("anthropic/claude-3-5-sonnet"))
	require.Equal(t, prompt.FamilyLlama, prompt.FamilyForModel("bedrock/meta.llama3-70b"))
	require.Equal(t, prompt.FamilyOpenAI, prompt.FamilyForModel("openai/gpt-4o"))
}

func TestEnvelope_WrapsPerFamily(t *testing.T) {
	require.Equal(t, "Human: hi\n\nAssistant:", prompt.Envelope(prompt.FamilyClaude, "hi"))
	require.Equal(t, "### Instruction:\nhi\n\n### Response:", prompt.Envelope(prompt.FamilyLlama, "hi"))
	require.Equal(t, "hi", prompt.Envelope(prompt.FamilyOpenAI, "hi"))
}

func TestLibrary_LoadYAMLMergesWithDefaults(t *testing.T) {
	l := prompt.NewLibrary()
	err := l.LoadYAML([]byte(`
researcher:
  role: "You are {agent_name}."
  task: "Investigate {topic}."
  format: "Return a findings list."
`))
	require.NoError(t, err)

	tmpl, ok := l.Get("researcher")
	require.True(t, ok)
	require.Equal(t, "You are {agent_name}.", tmpl.Role)

	_, ok = l.Get("missing")
	require.False(t, ok)
}

func TestDefaultLibrary_HasAllRoleTags(t *testing.T) {
	l := prompt.DefaultLibrary()
	for _, role := range []string{
		"researcher", "analyst", "writer", "coder", "reviewer",
		"planner", "executor", "coordinator", "validator",
	} {
		_, ok := l.Get(role)
		require.True(t, ok, "missing template for role %q", role)
	}
}
