package consent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/consent"
)

func TestCheck_DeniesWithoutPolicy(t *testing.T) {
	g := consent.NewGate(nil)
	d := g.Check(context.Background(), "alice", "tool", "execute_agent", nil, "")
	require.False(t, d.Allowed)
	require.Equal(t, "no_policy", d.Reason)
}

func TestCheck_DeniesMissingPermissions(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "execute_agent", RequiredPermissions: []string{"agent:run"}})
	d := g.Check(context.Background(), "alice", "tool", "execute_agent", nil, "")
	require.False(t, d.Allowed)
	require.Equal(t, "missing_permissions", d.Reason)
}

func TestCheck_AutoApproveGrantsAndAllows(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "execute_agent", RequiredPermissions: []string{"agent:run"}, AutoApprove: true})
	d := g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "1.2.3.4")
	require.True(t, d.Allowed)
	require.Len(t, g.Audit(), 2) // grant + access
}

func TestCheck_RequiresActiveGrantWhenNotAutoApprove(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "analyze_system", RequiredPermissions: []string{"system:read"}})
	d := g.Check(context.Background(), "bob", "tool", "analyze_system", []string{"system:read"}, "")
	require.False(t, d.Allowed)
	require.Equal(t, "no_active_grant", d.Reason)
}

func TestCheck_MaxUsagePerHourAdmitsExactlyNThenDenies(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "execute_agent", RequiredPermissions: []string{"agent:run"}, AutoApprove: true, MaxUsagePerHour: 2})

	for i := 0; i < 2; i++ {
		d := g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "")
		require.True(t, d.Allowed)
	}
	d := g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "")
	require.False(t, d.Allowed)
	require.Equal(t, "usage_cap_exceeded", d.Reason)
}

func TestCheck_MaxUsagePerHourIsPerPolicyNotGlobal(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "execute_agent", RequiredPermissions: []string{"agent:run"}, AutoApprove: true, MaxUsagePerHour: 1})
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "create_workflow", RequiredPermissions: []string{"workflow:run"}, AutoApprove: true, MaxUsagePerHour: 5})

	require.True(t, g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "").Allowed)
	require.False(t, g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "").Allowed)

	// create_workflow has its own, higher cap and is unaffected by
	// execute_agent's exhausted one.
	require.True(t, g.Check(context.Background(), "alice", "tool", "create_workflow", []string{"workflow:run"}, "").Allowed)
}

func TestRevoke_BlocksSubsequentAccess(t *testing.T) {
	g := consent.NewGate(nil)
	g.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: "execute_agent", RequiredPermissions: []string{"agent:run"}, AutoApprove: true})
	d := g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "")
	require.True(t, d.Allowed)

	g.Revoke("alice", "tool", "execute_agent")
	d2 := g.Check(context.Background(), "alice", "tool", "execute_agent", []string{"agent:run"}, "")
	require.False(t, d2.Allowed)
}
