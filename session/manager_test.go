package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/session"
)

func TestInitializeMCP_RejectsVersionMismatch(t *testing.T) {
	mgr := session.NewManager(session.NewMemStore(), time.Hour, nil)
	_, err := mgr.InitializeMCP(context.Background(), "2020-01-01", "client", "1.0", nil, "", "")
	require.Error(t, err)
}

func TestInitializeMCP_AssignsSessionAndCapabilities(t *testing.T) {
	mgr := session.NewManager(session.NewMemStore(), time.Hour, nil)
	sess, err := mgr.InitializeMCP(context.Background(), session.MCPProtocolVersion, "client", "1.0", nil, "127.0.0.1", "curl/8")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	require.True(t, sess.Active)
	require.Contains(t, sess.ServerCaps, "tools")
}

func TestNegotiate_AcceptsWhenAllSkillsConfident(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, []string{"research", "write"})
	sess, err := mgr.Handshake(context.Background(), session.A2AProtocolVersion, "peer1", "Peer", []string{"research"}, "")
	require.NoError(t, err)

	neg, err := mgr.Negotiate(context.Background(), sess.ID, []string{"research", "write"}, "draft a report", nil, 5)
	require.NoError(t, err)
	require.Equal(t, session.NegotiationAccepted, neg.Status)
	require.NotEmpty(t, neg.ProposedWorkflow)
}

func TestNegotiate_RejectsWhenAnySkillUnconfident(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, []string{"research"})
	sess, err := mgr.Handshake(context.Background(), session.A2AProtocolVersion, "peer1", "Peer", nil, "")
	require.NoError(t, err)

	neg, err := mgr.Negotiate(context.Background(), sess.ID, []string{"research", "translate"}, "task", nil, 1)
	require.NoError(t, err)
	require.Equal(t, session.NegotiationRejected, neg.Status)
}

func TestSweeper_ExpiresAndCancelsTasks(t *testing.T) {
	store := session.NewMemStore()
	ctx := context.Background()
	sess, err := store.CreateMCPSession(ctx, session.MCPSession{ID: "s1", Active: true, ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = store.CreateTaskExecution(ctx, session.TaskExecution{ID: "t1", SessionID: sess.ID, Status: session.TaskExecRunning})
	require.NoError(t, err)

	sw := session.NewSweeper(store, 10*time.Millisecond, nil)
	swCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	go sw.Run(swCtx)
	<-swCtx.Done()

	got, err := store.GetMCPSession(ctx, "s1")
	require.NoError(t, err)
	require.False(t, got.Active)

	task, err := store.GetTaskExecution(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, session.TaskExecCancelled, task.Status)
}
