package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/arcanefly/workforce/consent"
	"github.com/arcanefly/workforce/core/ids"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/session"
)

// ToolHandler executes one MCP tool call's arguments and returns its
// result content, optionally reporting progress via report (nil when the
// caller did not request streaming).
type ToolHandler func(ctx context.Context, arguments map[string]any, report func(ProgressEvent)) (map[string]any, error)

// Tool pairs a ToolDescriptor with its handler.
type Tool struct {
	Descriptor ToolDescriptor
	Handle     ToolHandler
}

// Server implements the MCP wire contract (spec §6) over net/http.
type Server struct {
	mgr     *session.Manager
	store   session.Store
	gate    *consent.Gate
	schemas *SchemaValidator
	log     telemetry.Logger

	tools     map[string]Tool
	resources func() []Resource
	resource  func(uri string) (ResourceContent, bool)

	serverName    string
	serverVersion string
}

// NewServer constructs a Server. resources/resource back GET
// /resources[/{uri}]; register tools with RegisterTool.
func NewServer(mgr *session.Manager, store session.Store, gate *consent.Gate, log telemetry.Logger,
	resources func() []Resource, resource func(string) (ResourceContent, bool), serverName, serverVersion string) *Server {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Server{
		mgr: mgr, store: store, gate: gate, schemas: NewSchemaValidator(), log: log,
		tools: make(map[string]Tool), resources: resources, resource: resource,
		serverName: serverName, serverVersion: serverVersion,
	}
}

// RegisterTool adds a tool to GET /tools and wires its handler, validating
// the descriptor's inputSchema against future calls.
func (s *Server) RegisterTool(t Tool) error {
	if err := s.schemas.Register(t.Descriptor.Name, t.Descriptor.InputSchema); err != nil {
		return err
	}
	s.tools[t.Descriptor.Name] = t
	return nil
}

// Mux returns an http.Handler implementing spec §6's MCP routes.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /initialize", s.handleInitialize)
	mux.HandleFunc("GET /resources", s.handleListResources)
	mux.HandleFunc("GET /resources/{uri...}", s.handleGetResource)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("POST /tools/{name}/call", s.handleCallTool)
	mux.HandleFunc("POST /tools/{name}/cancel", s.handleCancelTool)
	mux.HandleFunc("GET /tools/{name}/status/{task_id}", s.handleStatus)
	mux.HandleFunc("POST /sampling/createMessage", s.handleSampling)
	return mux
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	sess, err := s.mgr.InitializeMCP(r.Context(), req.ProtocolVersion, req.ClientInfo.Name, req.ClientInfo.Version,
		req.Capabilities, r.RemoteAddr, r.UserAgent())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := InitializeResponse{ProtocolVersion: session.MCPProtocolVersion, Capabilities: sess.ServerCaps, SessionID: sess.ID}
	resp.ServerInfo.Name = s.serverName
	resp.ServerInfo.Version = s.serverVersion
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resources": s.resources()})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	uri := r.PathValue("uri")
	content, ok := s.resource(uri)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, content)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descriptors := make([]ToolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		descriptors = append(descriptors, t.Descriptor)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": descriptors})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool, ok := s.tools[name]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown tool %q", name), http.StatusNotFound)
		return
	}
	var req ToolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.schemas.Validate(name, req.Arguments); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// spec §4.10: gate every tool dispatch through the Consent Gate before
	// it reaches the tool implementation.
	user := r.Header.Get("X-User")
	if user == "" {
		user = req.SessionID
	}
	perms := strings.Split(r.Header.Get("X-Permissions"), ",")
	if decision := s.gate.Check(r.Context(), user, "tool", name, perms, r.RemoteAddr); !decision.Allowed {
		http.Error(w, "consent denied: "+decision.Reason, http.StatusForbidden)
		return
	}

	if req.SessionID != "" {
		_ = s.store.TouchMCPSession(r.Context(), req.SessionID)
	}

	taskID := ids.New("task")
	task, err := s.store.CreateTaskExecution(r.Context(), session.TaskExecution{
		ID: taskID, SessionID: req.SessionID, TaskType: name, Parameters: req.Arguments,
		Status: session.TaskExecPending, CanCancel: req.CanCancel,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if !req.Stream {
		output, err := tool.Handle(r.Context(), req.Arguments, nil)
		if err != nil {
			_ = s.store.FailTaskExecution(r.Context(), task.ID, err.Error())
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = s.store.CompleteTaskExecution(r.Context(), task.ID, output)
		text, _ := json.Marshal(output)
		writeJSON(w, http.StatusOK, ToolCallResponse{
			Content: []ContentBlock{{Type: "text", Text: string(text)}}, TaskID: task.ID, Metadata: map[string]any{},
		})
		return
	}

	s.streamTool(w, r, tool, req, task.ID)
}

// streamTool implements the SSE branch of spec §6 "POST
// /tools/{name}/call": a text/event-stream of progress frames terminating
// in a frame with progress == 1.
func (s *Server) streamTool(w http.ResponseWriter, r *http.Request, tool Tool, req ToolCallRequest, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	report := func(ev ProgressEvent) {
		_ = s.store.UpdateTaskExecutionProgress(r.Context(), taskID, ev.Progress)
		payload, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	output, err := tool.Handle(r.Context(), req.Arguments, report)
	if err != nil {
		_ = s.store.FailTaskExecution(r.Context(), taskID, err.Error())
	} else {
		_ = s.store.CompleteTaskExecution(r.Context(), taskID, output)
	}

	// A concurrent POST /tools/{name}/cancel may have marked taskID cancelled
	// while tool.Handle was running; cancellation is sticky (the Complete/Fail
	// calls above are no-ops against it), so the stream's terminal frame must
	// reflect the task's actual final status rather than assume it completed.
	if final, getErr := s.store.GetTaskExecution(r.Context(), taskID); getErr == nil && final.Status == session.TaskExecCancelled {
		report(ProgressEvent{Progress: 1, Status: "cancelled", Message: "task cancelled"})
		return
	}
	if err != nil {
		report(ProgressEvent{Progress: 1, Status: "error", Message: "error: " + err.Error()})
		return
	}
	report(ProgressEvent{Progress: 1, Status: "completed", Message: "completed"})
}

func (s *Server) handleCancelTool(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		http.Error(w, "task_id is required", http.StatusBadRequest)
		return
	}
	task, err := s.store.GetTaskExecution(r.Context(), taskID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if task.Status == session.TaskExecCompleted || task.Status == session.TaskExecFailed {
		http.Error(w, "task already terminal", http.StatusBadRequest)
		return
	}
	if err := s.store.CancelTaskExecution(r.Context(), taskID, "cancelled by client"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{TaskID: taskID, Status: "cancelled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	task, err := s.store.GetTaskExecution(r.Context(), taskID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSampling(w http.ResponseWriter, r *http.Request) {
	var req SamplingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	tool, ok := s.tools[ToolExecuteAgent]
	if !ok {
		http.Error(w, "sampling requires the execute_agent tool to be registered", http.StatusNotImplemented)
		return
	}
	var b strings.Builder
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	out, err := tool.Handle(r.Context(), map[string]any{"prompt": b.String(), "model": req.Model, "max_tokens": req.MaxTokens}, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	text, _ := out["output"].(string)
	resp := SamplingResponse{Model: req.Model, Role: "assistant", Content: ContentBlock{Type: "text", Text: text}}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
