// Package consent implements the Consent Gate (spec §4.10): a
// policy-bound access check that runs before every MCP/A2A tool dispatch.
// Grounded on the teacher's permission-check shape in
// runtime/agent/toolset (capability gating before a tool call), extended
// with the request/grant/audit trail and per-(user,resource) usage cap
// spec §3's "Consent request/grant/audit" data model and §4.10 define;
// reuses the ratelimit package for the usage-per-hour enforcement spec
// §4.10 step 4 calls for piggybacking on the rate limiter.
package consent

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcanefly/workforce/core/ids"
	"github.com/arcanefly/workforce/ratelimit"
)

// Status is a consent request or grant's lifecycle state (spec §3 "Consent
// request/grant/audit").
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// AuditAction classifies one audit log entry.
type AuditAction string

const (
	ActionRequest AuditAction = "request"
	ActionGrant   AuditAction = "grant"
	ActionDeny    AuditAction = "deny"
	ActionAccess  AuditAction = "access"
	ActionRevoke  AuditAction = "revoke"
	ActionError   AuditAction = "error"
)

// Policy is the access policy for one (resource_type, resource_name) pair.
type Policy struct {
	ResourceType        string
	ResourceName        string
	RequiredPermissions []string
	AutoApprove         bool
	MaxUsagePerHour      int // 0 = unlimited
}

// Request is a consent request record (spec §3).
type Request struct {
	ID                  string
	User                string
	ResourceType        string
	ResourceName        string
	Permissions         []string
	RequestedTTL        time.Duration
	Status              Status
	CreatedAt           time.Time
}

// Grant is a consent grant record (spec §3).
type Grant struct {
	User         string
	ResourceType string
	ResourceName string
	GrantedBy    string
	Permissions  []string
	ExpiresAt    time.Time
	UsageCount   int
	RevokedAt    time.Time
}

func (g Grant) active(now time.Time) bool {
	return g.RevokedAt.IsZero() && now.Before(g.ExpiresAt)
}

// AuditEntry is one audit log entry (spec §3).
type AuditEntry struct {
	Who       string
	Action    AuditAction
	Resource  string
	RequestID string
	Timestamp time.Time
	Details   string
	OriginIP  string
}

// Decision is the Gate's verdict (spec §4.10: "Returns {allowed, reason}.
// The caller must honor a denial.").
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision           { return Decision{Allowed: true} }
func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Gate enforces policy-bound access before tool dispatch (spec §4.10).
type Gate struct {
	mu       sync.Mutex
	policies map[string]Policy // key: resource_type + "/" + resource_name
	grants   map[string]Grant  // key: user + "|" + resource_type + "/" + resource_name
	audit    []AuditEntry

	limiter *ratelimit.Limiter
}

// NewGate constructs an empty Gate. Step 4's max_usage_per_hour enforcement
// is backed by a dedicated rate limiter whose caps come from each policy's
// own MaxUsagePerHour, keyed per (user, resource) — not from the global
// per-model config the router's limiter uses. remote, if non-nil, makes
// that counter cluster-wide instead of in-process; pass nil for a
// single-process deployment.
func NewGate(remote *redis.Client) *Gate {
	g := &Gate{
		policies: make(map[string]Policy),
		grants:   make(map[string]Grant),
	}
	opts := []ratelimit.Option{}
	if remote != nil {
		opts = append(opts, ratelimit.WithRemote(remote))
	}
	g.limiter = ratelimit.New(g.capsForResource, opts...)
	return g
}

// capsForResource resolves ratelimit.Caps for a (user, resource) check from
// the policy registered for resource, so each resource's own
// MaxUsagePerHour — not the router's global RPM/RPH config — governs
// admission.
func (g *Gate) capsForResource(_, resource string) ratelimit.Caps {
	g.mu.Lock()
	policy, ok := g.policies[resource]
	g.mu.Unlock()
	if !ok {
		return ratelimit.Caps{}
	}
	return ratelimit.Caps{RequestsPerHour: policy.MaxUsagePerHour}
}

func resourceKey(resourceType, resourceName string) string {
	return resourceType + "/" + resourceName
}

func grantKey(user, resourceType, resourceName string) string {
	return user + "|" + resourceKey(resourceType, resourceName)
}

// SetPolicy registers or replaces the access policy for a resource.
func (g *Gate) SetPolicy(p Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[resourceKey(p.ResourceType, p.ResourceName)] = p
}

// Grant records an unrevoked consent grant, e.g. after an external
// approval flow completes.
func (g *Gate) Grant(grant Grant) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants[grantKey(grant.User, grant.ResourceType, grant.ResourceName)] = grant
}

// Revoke marks a user's grant for a resource as revoked.
func (g *Gate) Revoke(user, resourceType, resourceName string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := grantKey(user, resourceType, resourceName)
	if grant, ok := g.grants[key]; ok {
		grant.RevokedAt = time.Now()
		g.grants[key] = grant
		g.record(AuditEntry{Who: user, Action: ActionRevoke, Resource: resourceKey(resourceType, resourceName), Timestamp: time.Now()})
	}
}

// Check implements the five-step algorithm of spec §4.10 for a tool
// invocation by user against (resourceType, resourceName), requesting
// heldPermissions the caller claims to hold.
func (g *Gate) Check(ctx context.Context, user, resourceType, resourceName string, heldPermissions []string, originIP string) Decision {
	resource := resourceKey(resourceType, resourceName)
	requestID := ids.New("creq")

	// Step 1: policy lookup.
	g.mu.Lock()
	policy, ok := g.policies[resource]
	g.mu.Unlock()
	if !ok {
		d := deny("no_policy")
		g.record(AuditEntry{Who: user, Action: ActionDeny, Resource: resource, RequestID: requestID, Timestamp: time.Now(), Details: d.Reason, OriginIP: originIP})
		return d
	}

	// Step 2: required permissions.
	if !hasAll(heldPermissions, policy.RequiredPermissions) {
		d := deny("missing_permissions")
		g.record(AuditEntry{Who: user, Action: ActionDeny, Resource: resource, RequestID: requestID, Timestamp: time.Now(), Details: d.Reason, OriginIP: originIP})
		return d
	}

	// Step 3: auto-approve, or check an existing grant.
	now := time.Now()
	if policy.AutoApprove {
		g.mu.Lock()
		g.grants[grantKey(user, resourceType, resourceName)] = Grant{
			User: user, ResourceType: resourceType, ResourceName: resourceName,
			GrantedBy: "auto", Permissions: policy.RequiredPermissions, ExpiresAt: now.Add(time.Hour),
		}
		g.mu.Unlock()
		g.record(AuditEntry{Who: user, Action: ActionGrant, Resource: resource, RequestID: requestID, Timestamp: now, Details: "auto_approve", OriginIP: originIP})
	} else {
		g.mu.Lock()
		grant, hasGrant := g.grants[grantKey(user, resourceType, resourceName)]
		g.mu.Unlock()
		if !hasGrant || !grant.active(now) {
			d := deny("no_active_grant")
			g.record(AuditEntry{Who: user, Action: ActionDeny, Resource: resource, RequestID: requestID, Timestamp: now, Details: d.Reason, OriginIP: originIP})
			return d
		}
	}

	// Step 4: max_usage_per_hour, piggybacked on the rate limiter keyed by
	// (user, resource), capped at this policy's own MaxUsagePerHour.
	if policy.MaxUsagePerHour > 0 {
		allowed, _ := g.limiter.Check(ctx, user, resource, 0)
		if !allowed {
			d := deny("usage_cap_exceeded")
			g.record(AuditEntry{Who: user, Action: ActionDeny, Resource: resource, RequestID: requestID, Timestamp: now, Details: d.Reason, OriginIP: originIP})
			return d
		}
	}

	// Step 5: emit an access audit entry for the successful outcome.
	d := allow()
	g.mu.Lock()
	if grant, ok := g.grants[grantKey(user, resourceType, resourceName)]; ok {
		grant.UsageCount++
		g.grants[grantKey(user, resourceType, resourceName)] = grant
	}
	g.mu.Unlock()
	g.record(AuditEntry{Who: user, Action: ActionAccess, Resource: resource, RequestID: requestID, Timestamp: now, OriginIP: originIP})
	return d
}

func hasAll(held, required []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, p := range held {
		set[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

func (g *Gate) record(e AuditEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.audit = append(g.audit, e)
}

// Audit returns a copy of the audit log, oldest first.
func (g *Gate) Audit() []AuditEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}
