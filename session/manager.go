package session

import (
	"context"
	"fmt"
	"time"

	coreerr "github.com/arcanefly/workforce/core/errors"
	"github.com/arcanefly/workforce/core/ids"
)

// MCPProtocolVersion and A2AProtocolVersion are the protocol versions spec
// §6 pins this server to.
const (
	MCPProtocolVersion = "2025-03-26"
	A2AProtocolVersion = "1.0.0"

	negotiationAcceptThreshold = 0.7
)

// Manager layers the MCP/A2A business rules of spec §4.9 over a Store.
type Manager struct {
	store          Store
	sessionTTL     time.Duration
	offeredSkills  []string
	skillScorer    func(skill string, offered []string) float64
}

// NewManager constructs a Manager. offeredSkills is the server-side skill
// catalog used by Negotiate; sessionTTL bounds both MCP and A2A session
// expiry.
func NewManager(store Store, sessionTTL time.Duration, offeredSkills []string) *Manager {
	if sessionTTL <= 0 {
		sessionTTL = time.Hour
	}
	return &Manager{store: store, sessionTTL: sessionTTL, offeredSkills: offeredSkills, skillScorer: defaultSkillScorer}
}

// defaultSkillScorer gives full confidence to an exact catalog match and
// zero otherwise; callers needing fuzzy matching can override Manager's
// skillScorer via WithSkillScorer.
func defaultSkillScorer(skill string, offered []string) float64 {
	for _, o := range offered {
		if o == skill {
			return 1.0
		}
	}
	return 0.0
}

// WithSkillScorer overrides the confidence function Negotiate uses.
func (m *Manager) WithSkillScorer(f func(skill string, offered []string) float64) *Manager {
	m.skillScorer = f
	return m
}

// InitializeMCP implements spec §4.9 "MCP initialize".
func (m *Manager) InitializeMCP(ctx context.Context, protocolVersion, clientName, clientVersion string, clientCaps map[string]any, origin string, userAgent string) (MCPSession, error) {
	if protocolVersion != MCPProtocolVersion {
		return MCPSession{}, coreerr.New(coreerr.Validation, "session_manager",
			fmt.Sprintf("protocol version mismatch: client=%s server=%s", protocolVersion, MCPProtocolVersion), false, nil)
	}
	now := time.Now()
	sess := MCPSession{
		ID:              ids.NewSession(),
		ProtocolVersion: MCPProtocolVersion,
		ClientName:      clientName,
		ClientVersion:   clientVersion,
		ClientCaps:      clientCaps,
		ServerCaps:      defaultMCPServerCapabilities(),
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(m.sessionTTL),
		Active:          true,
		OriginIP:        origin,
		OriginUserAgent: userAgent,
	}
	return m.store.CreateMCPSession(ctx, sess)
}

// defaultMCPServerCapabilities is spec §4.9's capability map: "resources
// subscribe+list-changed, tools list-changed+progress+cancellation,
// prompts list-changed, sampling".
func defaultMCPServerCapabilities() map[string]any {
	return map[string]any{
		"resources": map[string]any{"subscribe": true, "listChanged": true},
		"tools":     map[string]any{"listChanged": true, "progress": true, "cancellation": true},
		"prompts":   map[string]any{"listChanged": true},
		"sampling":  map[string]any{},
	}
}

// Handshake implements spec §4.9 "A2A handshake".
func (m *Manager) Handshake(ctx context.Context, protocolVersion, peerAgentID, peerAgentName string, peerCaps []string, peerPublicKey string) (A2ASession, error) {
	if protocolVersion != A2AProtocolVersion {
		return A2ASession{}, coreerr.New(coreerr.Validation, "session_manager",
			fmt.Sprintf("protocol version mismatch: peer=%s server=%s", protocolVersion, A2AProtocolVersion), false, nil)
	}
	now := time.Now()
	sess := A2ASession{
		ID:              ids.NewSession(),
		PeerAgentID:     peerAgentID,
		PeerAgentName:   peerAgentName,
		PeerCaps:        peerCaps,
		ProtocolVersion: A2AProtocolVersion,
		CreatedAt:       now,
		LastActivity:    now,
		ExpiresAt:       now.Add(m.sessionTTL),
		Active:          true,
		PeerPublicKey:   peerPublicKey,
	}
	return m.store.CreateA2ASession(ctx, sess)
}

// Negotiate implements spec §4.9 "A2A negotiate": intersect requested
// skills with the server's offered set, score confidence per skill, and
// accept iff every accepted skill clears the threshold.
func (m *Manager) Negotiate(ctx context.Context, sessionID string, requestedSkills []string, taskDescription string, parameters map[string]any, priority int) (Negotiation, error) {
	sess, err := m.store.GetA2ASession(ctx, sessionID)
	if err != nil {
		return Negotiation{}, err
	}
	if !sess.Active || time.Now().After(sess.ExpiresAt) {
		return Negotiation{}, coreerr.New(coreerr.Validation, "session_manager", "session is inactive or expired", false, nil)
	}

	accepted := make([]string, 0, len(requestedSkills))
	allConfident := len(requestedSkills) > 0
	for _, skill := range requestedSkills {
		confidence := m.skillScorer(skill, m.offeredSkills)
		if confidence >= negotiationAcceptThreshold {
			accepted = append(accepted, skill)
		} else {
			allConfident = false
		}
	}

	status := NegotiationRejected
	var proposed []string
	estimated := 0
	if allConfident {
		status = NegotiationAccepted
		proposed = buildProposedWorkflow(accepted, taskDescription)
		estimated = len(proposed) * 30
	}

	neg := Negotiation{
		ID:                 ids.NewNegotiation(),
		SessionID:          sessionID,
		RequestedSkills:    requestedSkills,
		AvailableSkills:    m.offeredSkills,
		TaskDescription:    taskDescription,
		Parameters:         parameters,
		Priority:           clampPriority(priority),
		ProposedWorkflow:   proposed,
		EstimatedDurationS: estimated,
		Status:             status,
		CreatedAt:          time.Now(),
	}
	return m.store.CreateNegotiation(ctx, neg)
}

func buildProposedWorkflow(skills []string, taskDescription string) []string {
	steps := make([]string, 0, len(skills)+1)
	steps = append(steps, "understand: "+taskDescription)
	for _, s := range skills {
		steps = append(steps, "apply: "+s)
	}
	steps = append(steps, "synthesize result")
	return steps
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}
