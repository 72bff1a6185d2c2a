package session

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

const defaultOpTimeout = 5 * time.Second

// MongoOptions configures MongoStore, mirroring the teacher's mongo client
// Options shape (database handle injected, collection names overridable).
type MongoOptions struct {
	Client                   *mongo.Client
	Database                 string
	MCPSessionsCollection    string
	A2ASessionsCollection    string
	NegotiationsCollection   string
	TaskExecutionsCollection string
	Timeout                  time.Duration
}

// MongoStore is a MongoDB-backed Store (spec §4.9 durable storage).
type MongoStore struct {
	client  *mongo.Client
	mcp     *mongo.Collection
	a2a     *mongo.Collection
	negs    *mongo.Collection
	tasks   *mongo.Collection
	timeout time.Duration
}

// NewMongoStore constructs a MongoStore and ensures its indexes exist.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("session: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("session: database name is required")
	}
	name := func(given, def string) string {
		if given == "" {
			return def
		}
		return given
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	s := &MongoStore{
		client:  opts.Client,
		mcp:     db.Collection(name(opts.MCPSessionsCollection, "mcp_sessions")),
		a2a:     db.Collection(name(opts.A2ASessionsCollection, "a2a_sessions")),
		negs:    db.Collection(name(opts.NegotiationsCollection, "negotiations")),
		tasks:   db.Collection(name(opts.TaskExecutionsCollection, "task_executions")),
		timeout: timeout,
	}

	idxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.ensureIndexes(idxCtx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := s.mcp.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}, Options: unique}); err != nil {
		return err
	}
	if _, err := s.a2a.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}, Options: unique}); err != nil {
		return err
	}
	if _, err := s.negs.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "_id", Value: 1}}, Options: unique}); err != nil {
		return err
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "session_id", Value: 1}}}); err != nil {
		return err
	}
	return nil
}

// Ping satisfies a health-check pinger, following the teacher's client
// exposing Ping for goa.design/clue/health.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type mcpSessionDoc struct {
	ID              string         `bson:"_id"`
	ProtocolVersion string         `bson:"protocol_version"`
	ClientName      string         `bson:"client_name"`
	ClientVersion   string         `bson:"client_version"`
	ClientCaps      map[string]any `bson:"client_caps"`
	ServerCaps      map[string]any `bson:"server_caps"`
	CreatedAt       time.Time      `bson:"created_at"`
	LastActivity    time.Time      `bson:"last_activity"`
	ExpiresAt       time.Time      `bson:"expires_at"`
	Active          bool           `bson:"active"`
	OriginIP        string         `bson:"origin_ip"`
	OriginUA        string         `bson:"origin_user_agent"`
}

func toMCPDoc(s MCPSession) mcpSessionDoc {
	return mcpSessionDoc{
		ID: s.ID, ProtocolVersion: s.ProtocolVersion, ClientName: s.ClientName, ClientVersion: s.ClientVersion,
		ClientCaps: s.ClientCaps, ServerCaps: s.ServerCaps, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity,
		ExpiresAt: s.ExpiresAt, Active: s.Active, OriginIP: s.OriginIP, OriginUA: s.OriginUserAgent,
	}
}

func fromMCPDoc(d mcpSessionDoc) MCPSession {
	return MCPSession{
		ID: d.ID, ProtocolVersion: d.ProtocolVersion, ClientName: d.ClientName, ClientVersion: d.ClientVersion,
		ClientCaps: d.ClientCaps, ServerCaps: d.ServerCaps, CreatedAt: d.CreatedAt, LastActivity: d.LastActivity,
		ExpiresAt: d.ExpiresAt, Active: d.Active, OriginIP: d.OriginIP, OriginUserAgent: d.OriginUA,
	}
}

func (s *MongoStore) CreateMCPSession(ctx context.Context, sess MCPSession) (MCPSession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	doc := toMCPDoc(sess)
	if _, err := s.mcp.InsertOne(ctx, doc); err != nil {
		return MCPSession{}, err
	}
	return sess, nil
}

func (s *MongoStore) GetMCPSession(ctx context.Context, id string) (MCPSession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var doc mcpSessionDoc
	if err := s.mcp.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return MCPSession{}, ErrNotFound
		}
		return MCPSession{}, err
	}
	return fromMCPDoc(doc), nil
}

func (s *MongoStore) TouchMCPSession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.mcp.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_activity": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) EndMCPSession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.mcp.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type a2aSessionDoc struct {
	ID              string    `bson:"_id"`
	PeerAgentID     string    `bson:"peer_agent_id"`
	PeerAgentName   string    `bson:"peer_agent_name"`
	PeerCaps        []string  `bson:"peer_caps"`
	ProtocolVersion string    `bson:"protocol_version"`
	CreatedAt       time.Time `bson:"created_at"`
	LastActivity    time.Time `bson:"last_activity"`
	ExpiresAt       time.Time `bson:"expires_at"`
	WebsocketBound  bool      `bson:"websocket_bound"`
	Active          bool      `bson:"active"`
	PeerPublicKey   string    `bson:"peer_public_key"`
}

func toA2ADoc(s A2ASession) a2aSessionDoc {
	return a2aSessionDoc{
		ID: s.ID, PeerAgentID: s.PeerAgentID, PeerAgentName: s.PeerAgentName, PeerCaps: s.PeerCaps,
		ProtocolVersion: s.ProtocolVersion, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity,
		ExpiresAt: s.ExpiresAt, WebsocketBound: s.WebsocketBound, Active: s.Active, PeerPublicKey: s.PeerPublicKey,
	}
}

func fromA2ADoc(d a2aSessionDoc) A2ASession {
	return A2ASession{
		ID: d.ID, PeerAgentID: d.PeerAgentID, PeerAgentName: d.PeerAgentName, PeerCaps: d.PeerCaps,
		ProtocolVersion: d.ProtocolVersion, CreatedAt: d.CreatedAt, LastActivity: d.LastActivity,
		ExpiresAt: d.ExpiresAt, WebsocketBound: d.WebsocketBound, Active: d.Active, PeerPublicKey: d.PeerPublicKey,
	}
}

func (s *MongoStore) CreateA2ASession(ctx context.Context, sess A2ASession) (A2ASession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.a2a.InsertOne(ctx, toA2ADoc(sess)); err != nil {
		return A2ASession{}, err
	}
	return sess, nil
}

func (s *MongoStore) GetA2ASession(ctx context.Context, id string) (A2ASession, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var doc a2aSessionDoc
	if err := s.a2a.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return A2ASession{}, ErrNotFound
		}
		return A2ASession{}, err
	}
	return fromA2ADoc(doc), nil
}

func (s *MongoStore) TouchA2ASession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.a2a.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"last_activity": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SetA2AWebsocketBound(ctx context.Context, id string, bound bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.a2a.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"websocket_bound": bound}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) EndA2ASession(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.a2a.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type negotiationDoc struct {
	ID                 string         `bson:"_id"`
	SessionID          string         `bson:"session_id"`
	RequestedSkills    []string       `bson:"requested_skills"`
	AvailableSkills    []string       `bson:"available_skills"`
	TaskDescription    string         `bson:"task_description"`
	Parameters         map[string]any `bson:"parameters"`
	Priority           int            `bson:"priority"`
	ProposedWorkflow   []string       `bson:"proposed_workflow"`
	EstimatedDurationS int            `bson:"estimated_duration_s"`
	Status             string         `bson:"status"`
	CreatedAt          time.Time      `bson:"created_at"`
	CompletedAt        time.Time      `bson:"completed_at"`
}

func toNegDoc(n Negotiation) negotiationDoc {
	return negotiationDoc{
		ID: n.ID, SessionID: n.SessionID, RequestedSkills: n.RequestedSkills, AvailableSkills: n.AvailableSkills,
		TaskDescription: n.TaskDescription, Parameters: n.Parameters, Priority: n.Priority,
		ProposedWorkflow: n.ProposedWorkflow, EstimatedDurationS: n.EstimatedDurationS,
		Status: string(n.Status), CreatedAt: n.CreatedAt, CompletedAt: n.CompletedAt,
	}
}

func fromNegDoc(d negotiationDoc) Negotiation {
	return Negotiation{
		ID: d.ID, SessionID: d.SessionID, RequestedSkills: d.RequestedSkills, AvailableSkills: d.AvailableSkills,
		TaskDescription: d.TaskDescription, Parameters: d.Parameters, Priority: d.Priority,
		ProposedWorkflow: d.ProposedWorkflow, EstimatedDurationS: d.EstimatedDurationS,
		Status: NegotiationStatus(d.Status), CreatedAt: d.CreatedAt, CompletedAt: d.CompletedAt,
	}
}

func (s *MongoStore) CreateNegotiation(ctx context.Context, n Negotiation) (Negotiation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	if _, err := s.negs.InsertOne(ctx, toNegDoc(n)); err != nil {
		return Negotiation{}, err
	}
	return n, nil
}

func (s *MongoStore) GetNegotiation(ctx context.Context, id string) (Negotiation, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var doc negotiationDoc
	if err := s.negs.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Negotiation{}, ErrNotFound
		}
		return Negotiation{}, err
	}
	return fromNegDoc(doc), nil
}

func (s *MongoStore) UpdateNegotiationStatus(ctx context.Context, id string, status NegotiationStatus) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	set := bson.M{"status": string(status)}
	if status == NegotiationCompleted || status == NegotiationRejected || status == NegotiationFailed {
		set["completed_at"] = time.Now()
	}
	res, err := s.negs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type taskExecDoc struct {
	ID           string         `bson:"_id"`
	SessionID    string         `bson:"session_id"`
	TaskType     string         `bson:"task_type"`
	Parameters   map[string]any `bson:"parameters"`
	Status       string         `bson:"status"`
	Progress     float64        `bson:"progress"`
	CanCancel    bool           `bson:"can_cancel"`
	Result       map[string]any `bson:"result"`
	Error        string         `bson:"error"`
	CreatedAt    time.Time      `bson:"created_at"`
	UpdatedAt    time.Time      `bson:"updated_at"`
	CancelledAt  time.Time      `bson:"cancelled_at"`
	CancelReason string         `bson:"cancel_reason"`
}

func toTaskDoc(t TaskExecution) taskExecDoc {
	return taskExecDoc{
		ID: t.ID, SessionID: t.SessionID, TaskType: t.TaskType, Parameters: t.Parameters, Status: string(t.Status),
		Progress: t.Progress, CanCancel: t.CanCancel, Result: t.Result, Error: t.Error, CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt, CancelledAt: t.CancelledAt, CancelReason: t.CancelReason,
	}
}

func fromTaskDoc(d taskExecDoc) TaskExecution {
	return TaskExecution{
		ID: d.ID, SessionID: d.SessionID, TaskType: d.TaskType, Parameters: d.Parameters, Status: TaskExecutionStatus(d.Status),
		Progress: d.Progress, CanCancel: d.CanCancel, Result: d.Result, Error: d.Error, CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt, CancelledAt: d.CancelledAt, CancelReason: d.CancelReason,
	}
}

func (s *MongoStore) CreateTaskExecution(ctx context.Context, t TaskExecution) (TaskExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	if _, err := s.tasks.InsertOne(ctx, toTaskDoc(t)); err != nil {
		return TaskExecution{}, err
	}
	return t, nil
}

func (s *MongoStore) GetTaskExecution(ctx context.Context, id string) (TaskExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var doc taskExecDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return TaskExecution{}, ErrNotFound
		}
		return TaskExecution{}, err
	}
	return fromTaskDoc(doc), nil
}

func (s *MongoStore) UpdateTaskExecutionProgress(ctx context.Context, id string, progress float64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	// $max keeps the update monotone without a read-modify-write round trip
	// (spec §5: "progress updates are last-writer-wins but monotone").
	res, err := s.tasks.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$max": bson.M{"progress": progress},
		"$set": bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	// Only a pending task moves to running; a terminal status is kept.
	if _, err := s.tasks.UpdateOne(ctx, bson.M{"_id": id, "status": string(TaskExecPending)},
		bson.M{"$set": bson.M{"status": string(TaskExecRunning)}}); err != nil {
		return err
	}
	return nil
}

// CompleteTaskExecution marks id completed, unless it was already cancelled
// — cancellation is a sticky terminal state (spec §4.9).
func (s *MongoStore) CompleteTaskExecution(ctx context.Context, id string, result map[string]any) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.tasks.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": bson.M{"$ne": string(TaskExecCancelled)},
	}, bson.M{"$set": bson.M{
		"status": string(TaskExecCompleted), "progress": 1.0, "result": result, "updated_at": time.Now(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetTaskExecution(ctx, id); getErr != nil {
			return ErrNotFound
		}
	}
	return nil
}

// FailTaskExecution marks id failed, unless it was already cancelled —
// cancellation is a sticky terminal state (spec §4.9).
func (s *MongoStore) FailTaskExecution(ctx context.Context, id string, errMsg string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	res, err := s.tasks.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": bson.M{"$ne": string(TaskExecCancelled)},
	}, bson.M{"$set": bson.M{
		"status": string(TaskExecFailed), "error": errMsg, "updated_at": time.Now(),
	}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, getErr := s.GetTaskExecution(ctx, id); getErr != nil {
			return ErrNotFound
		}
	}
	return nil
}

func (s *MongoStore) CancelTaskExecution(ctx context.Context, id string, reason string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	now := time.Now()
	res, err := s.tasks.UpdateOne(ctx, bson.M{
		"_id":    id,
		"status": bson.M{"$nin": []string{string(TaskExecCompleted), string(TaskExecFailed)}},
	}, bson.M{"$set": bson.M{
		"status": string(TaskExecCancelled), "cancelled_at": now, "cancel_reason": reason, "updated_at": now,
	}})
	if err != nil {
		return err
	}
	_ = res
	return nil
}

func (s *MongoStore) ListTaskExecutionsBySession(ctx context.Context, sessionID string) ([]TaskExecution, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	cur, err := s.tasks.Find(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]TaskExecution, 0)
	for cur.Next(ctx) {
		var doc taskExecDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromTaskDoc(doc))
	}
	return out, cur.Err()
}

func (s *MongoStore) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	var expired []string

	for _, coll := range []*mongo.Collection{s.mcp, s.a2a} {
		cur, err := coll.Find(ctx, bson.M{"active": true, "expires_at": bson.M{"$lt": now, "$ne": time.Time{}}})
		if err != nil {
			return expired, err
		}
		var ids []string
		for cur.Next(ctx) {
			var doc struct {
				ID string `bson:"_id"`
			}
			if err := cur.Decode(&doc); err != nil {
				cur.Close(ctx)
				return expired, err
			}
			ids = append(ids, doc.ID)
		}
		cur.Close(ctx)
		if len(ids) > 0 {
			if _, err := coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{"$set": bson.M{"active": false}}); err != nil {
				return expired, err
			}
			expired = append(expired, ids...)
		}
	}
	return expired, nil
}
