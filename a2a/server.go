package a2a

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/telemetry"
	"github.com/arcanefly/workforce/session"
)

// TaskDispatcher executes a task_request payload and returns its result.
// Wired by cmd/orchestrator to the agent/workflow/quantum layer.
type TaskDispatcher func(sessionID string, payload map[string]any) (map[string]any, error)

// Server implements the A2A wire contract (spec §6) over net/http plus a
// gorilla/websocket stream for /stream/{session_id}.
type Server struct {
	mgr      *session.Manager
	store    session.Store
	dispatch TaskDispatcher
	upgrader websocket.Upgrader
	log      telemetry.Logger
}

// NewServer constructs a Server. dispatch handles task_request messages
// from POST /communicate.
func NewServer(mgr *session.Manager, store session.Store, dispatch TaskDispatcher, log telemetry.Logger) *Server {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Server{
		mgr: mgr, store: store, dispatch: dispatch, log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Mux returns an http.Handler implementing spec §6's A2A routes.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /handshake", s.handleHandshake)
	mux.HandleFunc("POST /negotiate", s.handleNegotiate)
	mux.HandleFunc("POST /communicate", s.handleCommunicate)
	mux.HandleFunc("GET /stream/{session_id}", s.handleStream)
	return mux
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	sess, err := s.mgr.Handshake(r.Context(), req.ProtocolVersion, req.AgentID, req.AgentName, req.Capabilities, req.PublicKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, HandshakeResponse{
		ProtocolVersion: session.A2AProtocolVersion, SessionID: sess.ID, Capabilities: sess.PeerCaps, ExpiresAt: sess.ExpiresAt,
	})
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request) {
	var req NegotiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	neg, err := s.mgr.Negotiate(r.Context(), req.SessionID, req.RequestedSkills, req.TaskDescription, req.Parameters, req.Priority)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, NegotiateResponse{
		NegotiationID: neg.ID, Status: string(neg.Status), ProposedWorkflow: neg.ProposedWorkflow, EstimatedDurationS: neg.EstimatedDurationS,
	})
}

// handleCommunicate routes a message by Type (spec §6 "communicate message
// types"); an unknown type returns a recoverable error listing the
// supported set rather than failing the session.
func (s *Server) handleCommunicate(w http.ResponseWriter, r *http.Request) {
	var req CommunicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.store.TouchA2ASession(r.Context(), req.SessionID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Type {
	case MessageTaskRequest:
		result, err := s.dispatch(req.SessionID, req.Payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, CommunicateResponse{Type: req.Type, Payload: result})

	case MessageStatusInquiry:
		taskID, _ := req.Payload["task_id"].(string)
		task, err := s.store.GetTaskExecution(r.Context(), taskID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, CommunicateResponse{Type: req.Type, Payload: map[string]any{
			"status": task.Status, "progress": task.Progress,
		}})

	case MessageResultRequest:
		taskID, _ := req.Payload["task_id"].(string)
		task, err := s.store.GetTaskExecution(r.Context(), taskID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, CommunicateResponse{Type: req.Type, Payload: map[string]any{
			"status": task.Status, "result": task.Result, "error": task.Error,
		}})

	case MessageHeartbeat:
		writeJSON(w, http.StatusOK, CommunicateResponse{Type: req.Type, Payload: map[string]any{"alive": true, "time": time.Now()}})

	case MessageCapabilityInquiry:
		sess, err := s.store.GetA2ASession(r.Context(), req.SessionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, CommunicateResponse{Type: req.Type, Payload: map[string]any{"capabilities": sess.PeerCaps}})

	default:
		supported := make([]string, len(SupportedMessageTypes))
		for i, t := range SupportedMessageTypes {
			supported[i] = string(t)
		}
		err := coreerr.New(coreerr.Validation, "a2a_server", fmt.Sprintf("unsupported message type %q, supported: %v", req.Type, supported), false, nil)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

// handleStream implements WS /stream/{session_id}: ping/pong keepalive,
// server-pushed state_update/task_progress frames, and client-issued
// subscribe_updates/cancel_task control messages. On disconnect the
// session's websocket-bound flag clears but the session stays alive until
// its own expiry (spec §6).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if _, err := s.store.GetA2ASession(r.Context(), sessionID); err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "a2a: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	_ = s.store.SetA2AWebsocketBound(r.Context(), sessionID, true)
	defer func() { _ = s.store.SetA2AWebsocketBound(r.Context(), sessionID, false) }()

	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = s.store.TouchA2ASession(r.Context(), sessionID)

		switch msg.Type {
		case StreamPing:
			_ = conn.WriteJSON(StreamMessage{Type: StreamPong})

		case StreamSubscribeUpdates:
			task, err := s.store.GetTaskExecution(r.Context(), msg.TaskID)
			if err != nil {
				_ = conn.WriteJSON(StreamMessage{Type: StreamStateUpdate, TaskID: msg.TaskID, State: "unknown"})
				continue
			}
			_ = conn.WriteJSON(StreamMessage{
				Type: StreamTaskProgress, TaskID: task.ID, Progress: task.Progress, State: string(task.Status),
			})

		case StreamCancelTask:
			if err := s.store.CancelTaskExecution(r.Context(), msg.TaskID, "cancelled via stream"); err != nil {
				_ = conn.WriteJSON(StreamMessage{Type: StreamStateUpdate, TaskID: msg.TaskID, State: "cancel_failed"})
				continue
			}
			_ = conn.WriteJSON(StreamMessage{Type: StreamStateUpdate, TaskID: msg.TaskID, State: "cancelled"})

		default:
			_ = conn.WriteJSON(StreamMessage{Type: StreamStateUpdate, State: "unsupported_message_type"})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
