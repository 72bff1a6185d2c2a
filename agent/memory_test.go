package agent_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/agent"
)

func TestMemory_CompressesPastThreshold(t *testing.T) {
	m := agent.NewMemory()
	for i := 0; i < 10; i++ {
		m.Record(agent.Interaction{TaskID: "t" + string(rune('0'+i)), Success: i%2 == 0})
	}
	// The 9th record folds the first 4 entries into summary and keeps the
	// last 5 verbatim; the 10th is appended, so 6 remain.
	require.Len(t, m.ShortTerm(), 6)
	require.Len(t, m.Summary(), 1)
}

func TestMemory_LongTermRoundTrip(t *testing.T) {
	m := agent.NewMemory()
	m.SetLongTerm("preference", "concise")
	v, ok := m.LongTerm("preference")
	require.True(t, ok)
	require.Equal(t, "concise", v)
}
