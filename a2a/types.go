// Package a2a implements the Agent-to-Agent wire contract (spec §6,
// protocol version 1.0.0): handshake, skill negotiation, synchronous
// messaging, and a bidirectional progress/control stream. Grounded on the
// teacher's HTTP handler style in cmd/demo (goa.design/goa-ai), generalized
// here from goa's generated transport to a hand-rolled net/http mux plus
// gorilla/websocket for the streaming endpoint. The teacher's direct
// dependencies nexus-rpc/sdk-go and google.golang.org/grpc+protobuf were
// considered for this transport and dropped — see DESIGN.md.
package a2a

import "time"

// HandshakeRequest is the body of POST /handshake.
type HandshakeRequest struct {
	ProtocolVersion string   `json:"protocolVersion"`
	AgentID         string   `json:"agent_id"`
	AgentName       string   `json:"agent_name"`
	Capabilities    []string `json:"capabilities"`
	PublicKey       string   `json:"public_key,omitempty"`
}

// HandshakeResponse is the body returned from POST /handshake.
type HandshakeResponse struct {
	ProtocolVersion string   `json:"protocolVersion"`
	SessionID       string   `json:"session_id"`
	Capabilities    []string `json:"capabilities"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// NegotiateRequest is the body of POST /negotiate.
type NegotiateRequest struct {
	SessionID        string         `json:"session_id"`
	RequestedSkills  []string       `json:"requested_skills"`
	TaskDescription  string         `json:"task_description"`
	Parameters       map[string]any `json:"parameters"`
	Priority         int            `json:"priority"`
}

// NegotiateResponse is the body returned from POST /negotiate.
type NegotiateResponse struct {
	NegotiationID       string   `json:"negotiation_id"`
	Status              string   `json:"status"`
	ProposedWorkflow    []string `json:"proposed_workflow,omitempty"`
	EstimatedDurationS  int      `json:"estimated_duration_s,omitempty"`
}

// MessageType classifies one POST /communicate payload (spec §6
// "communicate message types").
type MessageType string

const (
	MessageTaskRequest       MessageType = "task_request"
	MessageStatusInquiry     MessageType = "status_inquiry"
	MessageResultRequest     MessageType = "result_request"
	MessageHeartbeat         MessageType = "heartbeat"
	MessageCapabilityInquiry MessageType = "capability_inquiry"
)

// SupportedMessageTypes lists every type POST /communicate accepts, used
// to report the supported set when an unknown type is received.
var SupportedMessageTypes = []MessageType{
	MessageTaskRequest, MessageStatusInquiry, MessageResultRequest, MessageHeartbeat, MessageCapabilityInquiry,
}

// CommunicateRequest is the body of POST /communicate.
type CommunicateRequest struct {
	SessionID string         `json:"session_id"`
	Type      MessageType    `json:"type"`
	Payload   map[string]any `json:"payload"`
}

// CommunicateResponse is the body returned from POST /communicate.
type CommunicateResponse struct {
	Type    MessageType    `json:"type"`
	Payload map[string]any `json:"payload"`
}

// StreamMessage is one frame exchanged over WS /stream/{session_id}, keyed
// by Type (spec §6 "stream message types": ping/pong, state_update,
// task_progress, subscribe_updates, cancel_task).
type StreamMessage struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	State     string         `json:"state,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const (
	StreamPing             = "ping"
	StreamPong             = "pong"
	StreamStateUpdate      = "state_update"
	StreamTaskProgress     = "task_progress"
	StreamSubscribeUpdates = "subscribe_updates"
	StreamCancelTask       = "cancel_task"
)
