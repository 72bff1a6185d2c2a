package mcp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arcanefly/workforce/consent"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/mcp"
	"github.com/arcanefly/workforce/session"
)

func TestServer_InitializeAndListTools(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, nil)
	gate := consent.NewGate(nil)
	srv := mcp.NewServer(mgr, store, gate, telemetry.NewNoopLogger(),
		func() []mcp.Resource { return nil },
		func(string) (mcp.ResourceContent, bool) { return mcp.ResourceContent{}, false },
		"test-server", "0.0.1")

	require.NoError(t, srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{Name: mcp.ToolAnalyzeSystem, InputSchema: map[string]any{"type": "object"}},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			return map[string]any{"status": "ok"}, nil
		},
	}))

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	initBody, _ := json.Marshal(mcp.InitializeRequest{ProtocolVersion: session.MCPProtocolVersion})
	resp, err := http.Post(ts.URL+"/initialize", "application/json", bytes.NewReader(initBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var initResp mcp.InitializeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&initResp))
	require.NotEmpty(t, initResp.SessionID)

	toolsResp, err := http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	defer toolsResp.Body.Close()
	var listed struct {
		Tools []mcp.ToolDescriptor `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(toolsResp.Body).Decode(&listed))
	require.Len(t, listed.Tools, 1)
}

func TestServer_CallTool_DeniedWithoutPolicy(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, nil)
	gate := consent.NewGate(nil) // no policy registered -> denied

	srv := mcp.NewServer(mgr, store, gate, telemetry.NewNoopLogger(),
		func() []mcp.Resource { return nil },
		func(string) (mcp.ResourceContent, bool) { return mcp.ResourceContent{}, false },
		"test-server", "0.0.1")
	require.NoError(t, srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{Name: mcp.ToolAnalyzeSystem, InputSchema: map[string]any{"type": "object"}},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			return map[string]any{"status": "ok"}, nil
		},
	}))

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	callBody, _ := json.Marshal(mcp.ToolCallRequest{Arguments: map[string]any{}})
	resp, err := http.Post(ts.URL+"/tools/"+mcp.ToolAnalyzeSystem+"/call", "application/json", bytes.NewReader(callBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_CallTool_StreamsProgress(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, nil)
	gate := consent.NewGate(nil)
	gate.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: mcp.ToolAnalyzeSystem, AutoApprove: true})

	srv := mcp.NewServer(mgr, store, gate, telemetry.NewNoopLogger(),
		func() []mcp.Resource { return nil },
		func(string) (mcp.ResourceContent, bool) { return mcp.ResourceContent{}, false },
		"test-server", "0.0.1")
	require.NoError(t, srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{Name: mcp.ToolAnalyzeSystem, InputSchema: map[string]any{"type": "object"}},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			if report != nil {
				report(mcp.ProgressEvent{Progress: 0.5, Message: "halfway"})
			}
			return map[string]any{"status": "ok"}, nil
		},
	}))

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	callBody, _ := json.Marshal(mcp.ToolCallRequest{Arguments: map[string]any{}, Stream: true})
	resp, err := http.Post(ts.URL+"/tools/"+mcp.ToolAnalyzeSystem+"/call", "application/json", bytes.NewReader(callBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	var frames int
	var lastLine string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames++
			lastLine = line
		}
	}
	require.GreaterOrEqual(t, frames, 2)
	require.Contains(t, lastLine, `"progress":1`)
}

func TestServer_CallTool_StreamEmitsCancelledFrameAfterMidStreamCancel(t *testing.T) {
	store := session.NewMemStore()
	mgr := session.NewManager(store, time.Hour, nil)
	gate := consent.NewGate(nil)
	gate.SetPolicy(consent.Policy{ResourceType: "tool", ResourceName: mcp.ToolAnalyzeSystem, AutoApprove: true})

	started := make(chan struct{})
	resume := make(chan struct{})
	srv := mcp.NewServer(mgr, store, gate, telemetry.NewNoopLogger(),
		func() []mcp.Resource { return nil },
		func(string) (mcp.ResourceContent, bool) { return mcp.ResourceContent{}, false },
		"test-server", "0.0.1")
	require.NoError(t, srv.RegisterTool(mcp.Tool{
		Descriptor: mcp.ToolDescriptor{Name: mcp.ToolAnalyzeSystem, InputSchema: map[string]any{"type": "object"}},
		Handle: func(ctx context.Context, arguments map[string]any, report func(mcp.ProgressEvent)) (map[string]any, error) {
			if report != nil {
				report(mcp.ProgressEvent{Progress: 0.5, Message: "halfway"})
			}
			close(started)
			<-resume
			return map[string]any{"status": "ok"}, nil
		},
	}))

	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	callBody, _ := json.Marshal(mcp.ToolCallRequest{Arguments: map[string]any{}, Stream: true})
	resp, err := http.Post(ts.URL+"/tools/"+mcp.ToolAnalyzeSystem+"/call", "application/json", bytes.NewReader(callBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "halfway")

	<-started
	var taskID string
	tasks, err := store.ListTaskExecutionsBySession(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	taskID = tasks[0].ID
	require.NoError(t, store.CancelTaskExecution(context.Background(), taskID, "client cancel"))
	close(resume)

	var lastLine string
	for {
		line, err := reader.ReadString('\n')
		if strings.HasPrefix(line, "data: ") {
			lastLine = line
		}
		if err != nil {
			break
		}
	}
	require.Contains(t, lastLine, `"status":"cancelled"`)

	task, err := store.GetTaskExecution(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, session.TaskExecCancelled, task.Status)
}
