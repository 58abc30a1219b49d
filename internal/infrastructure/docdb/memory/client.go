// Package memory provides an in-process implementation of the persistence
// gateway. It honours the same conditional-update and ordering contracts as
// the MongoDB implementation and backs development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dramac/livechat-service/internal/core/docdb"
	"github.com/dramac/livechat-service/internal/domain/models"
)

// Client implements docdb.Client in memory.
type Client struct {
	mu  sync.RWMutex
	now func() time.Time

	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	sequences     map[string]*sequence
	agents        map[string]*models.Agent
	departments   map[string]*models.Department
}

type sequence struct {
	seq    int64
	lastAt time.Time
}

// Option configures the memory client.
type Option func(*Client)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates an empty in-memory store.
func NewClient(opts ...Option) *Client {
	c := &Client{
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		sequences:     make(map[string]*sequence),
		agents:        make(map[string]*models.Agent),
		departments:   make(map[string]*models.Department),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Conversations returns the conversations collection.
func (c *Client) Conversations() docdb.ConversationsCollection { return &conversations{c} }

// Messages returns the messages collection.
func (c *Client) Messages() docdb.MessagesCollection { return &messages{c} }

// Agents returns the agents collection.
func (c *Client) Agents() docdb.AgentsCollection { return &agents{c} }

// Departments returns the departments collection.
func (c *Client) Departments() docdb.DepartmentsCollection { return &departments{c} }

// EnsureIndexes is a no-op.
func (c *Client) EnsureIndexes(ctx context.Context) error { return nil }

// Ping always succeeds.
func (c *Client) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (c *Client) Close(ctx context.Context) error { return nil }

func key(tenantID, id string) string {
	return tenantID + "/" + id
}

// ---- conversations --------------------------------------------------------

type conversations struct{ c *Client }

func (r *conversations) Create(ctx context.Context, conv *models.Conversation) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	k := key(conv.TenantID, conv.ID)
	if _, exists := r.c.conversations[k]; exists {
		return docdb.ErrDuplicate
	}
	now := r.c.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	conv.Version = 1
	r.c.conversations[k] = conv.Clone()
	return nil
}

func (r *conversations) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	conv, ok := r.c.conversations[key(tenantID, id)]
	if !ok {
		return nil, docdb.ErrNotFound
	}
	return conv.Clone(), nil
}

func (r *conversations) UpdateIfVersion(ctx context.Context, next *models.Conversation, expected int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	k := key(next.TenantID, next.ID)
	cur, ok := r.c.conversations[k]
	if !ok {
		return docdb.ErrNotFound
	}
	if cur.Version != expected {
		return docdb.ErrVersionConflict
	}
	next.Version = expected + 1
	next.UpdatedAt = r.c.now()
	r.c.conversations[k] = next.Clone()
	return nil
}

func (r *conversations) List(ctx context.Context, opts *docdb.ListConversationsOptions) ([]*models.Conversation, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	out := make([]*models.Conversation, 0)
	for _, conv := range r.c.conversations {
		if matchConversation(conv, opts) {
			out = append(out, conv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if opts != nil && opts.OrderBy == docdb.SortOrderDesc {
			a, b = b, a
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if opts != nil {
		if opts.Skip > 0 {
			if opts.Skip >= int64(len(out)) {
				return []*models.Conversation{}, nil
			}
			out = out[opts.Skip:]
		}
		if opts.Limit > 0 && int64(len(out)) > opts.Limit {
			out = out[:opts.Limit]
		}
	}
	return out, nil
}

func (r *conversations) Count(ctx context.Context, opts *docdb.ListConversationsOptions) (int64, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	var n int64
	for _, conv := range r.c.conversations {
		if matchConversation(conv, opts) {
			n++
		}
	}
	return n, nil
}

func (r *conversations) TenantIDs(ctx context.Context) ([]string, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, conv := range r.c.conversations {
		seen[conv.TenantID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *conversations) EnsureIndexes(ctx context.Context) error { return nil }

func matchConversation(conv *models.Conversation, opts *docdb.ListConversationsOptions) bool {
	if opts == nil {
		return true
	}
	if opts.TenantID != "" && conv.TenantID != opts.TenantID {
		return false
	}
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, conv.Status) {
		return false
	}
	if opts.DepartmentID != "" && conv.DepartmentID != opts.DepartmentID {
		return false
	}
	if opts.AgentID != "" && conv.AssignedAgentID != opts.AgentID {
		return false
	}
	if opts.ExternalContact != "" && conv.ExternalContact != opts.ExternalContact {
		return false
	}
	if opts.CreatedBefore != nil && !conv.CreatedAt.Before(*opts.CreatedBefore) {
		return false
	}
	if opts.LastActivityBefore != nil && !conv.LastActivity().Before(*opts.LastActivityBefore) {
		return false
	}
	return true
}

func containsStatus(list []models.ConversationStatus, s models.ConversationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---- messages -------------------------------------------------------------

type messages struct{ c *Client }

func (r *messages) Append(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, exists := r.c.messages[key(msg.TenantID, msg.ID)]; exists {
		return docdb.ErrDuplicate
	}

	seqKey := key(msg.TenantID, msg.ConversationID)
	s, ok := r.c.sequences[seqKey]
	if !ok {
		s = &sequence{}
		r.c.sequences[seqKey] = s
	}
	now := r.c.now()
	if !now.After(s.lastAt) {
		now = s.lastAt.Add(time.Microsecond)
	}
	s.seq++
	s.lastAt = now

	msg.Seq = s.seq
	msg.CreatedAt = now
	msg.UpdatedAt = now
	stored := *msg
	r.c.messages[key(msg.TenantID, msg.ID)] = &stored
	return nil
}

func (r *messages) Get(ctx context.Context, tenantID, id string) (*models.Message, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	msg, ok := r.c.messages[key(tenantID, id)]
	if !ok {
		return nil, docdb.ErrNotFound
	}
	out := *msg
	return &out, nil
}

func (r *messages) GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	for _, msg := range r.c.messages {
		if msg.TenantID == tenantID && msg.ExternalMessageID == externalID && externalID != "" {
			out := *msg
			return &out, nil
		}
	}
	return nil, docdb.ErrNotFound
}

func (r *messages) List(ctx context.Context, opts *docdb.ListMessagesOptions) ([]*models.Message, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	out := make([]*models.Message, 0)
	for _, msg := range r.c.messages {
		if msg.TenantID != opts.TenantID || msg.ConversationID != opts.ConversationID {
			continue
		}
		if msg.Seq <= opts.AfterSeq {
			continue
		}
		m := *msg
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool {
		if opts.OrderBy == docdb.SortOrderDesc {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Seq < out[j].Seq
	})
	if opts.Limit > 0 && int64(len(out)) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *messages) UpdateStatusIf(ctx context.Context, tenantID, id string, expected, next models.MessageStatus, externalID, errorMessage string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	msg, ok := r.c.messages[key(tenantID, id)]
	if !ok {
		return docdb.ErrNotFound
	}
	if msg.Status != expected {
		return docdb.ErrVersionConflict
	}
	msg.Status = next
	if externalID != "" {
		msg.ExternalMessageID = externalID
	}
	if errorMessage != "" {
		msg.ErrorMessage = errorMessage
	}
	msg.UpdatedAt = r.c.now()
	if next == models.MessageStatusRead {
		msg.ReadAt = models.TimePtr(msg.UpdatedAt)
	}
	return nil
}

func (r *messages) MarkRead(ctx context.Context, tenantID, conversationID string, senders []models.SenderType, uptoSeq int64, at time.Time) (int64, error) {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	var n int64
	for _, msg := range r.c.messages {
		if msg.TenantID != tenantID || msg.ConversationID != conversationID || msg.Seq > uptoSeq {
			continue
		}
		if !containsSender(senders, msg.SenderType) {
			continue
		}
		if msg.Status == models.MessageStatusRead || msg.Status == models.MessageStatusFailed {
			continue
		}
		msg.Status = models.MessageStatusRead
		msg.ReadAt = models.TimePtr(at)
		msg.UpdatedAt = at
		n++
	}
	return n, nil
}

func (r *messages) CountByConversation(ctx context.Context, tenantID, conversationID string) (int64, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	var n int64
	for _, msg := range r.c.messages {
		if msg.TenantID == tenantID && msg.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (r *messages) EnsureIndexes(ctx context.Context) error { return nil }

func containsSender(list []models.SenderType, s models.SenderType) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---- agents ---------------------------------------------------------------

type agents struct{ c *Client }

func (r *agents) Create(ctx context.Context, agent *models.Agent) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	k := key(agent.TenantID, agent.ID)
	if _, exists := r.c.agents[k]; exists {
		return docdb.ErrDuplicate
	}
	now := r.c.now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Version = 1
	r.c.agents[k] = agent.Clone()
	return nil
}

func (r *agents) Get(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	agent, ok := r.c.agents[key(tenantID, id)]
	if !ok {
		return nil, docdb.ErrNotFound
	}
	return agent.Clone(), nil
}

func (r *agents) UpdateIfVersion(ctx context.Context, next *models.Agent, expected int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	k := key(next.TenantID, next.ID)
	cur, ok := r.c.agents[k]
	if !ok {
		return docdb.ErrNotFound
	}
	if cur.Version != expected {
		return docdb.ErrVersionConflict
	}
	next.Version = expected + 1
	next.UpdatedAt = r.c.now()
	r.c.agents[k] = next.Clone()
	return nil
}

func (r *agents) List(ctx context.Context, opts *docdb.ListAgentsOptions) ([]*models.Agent, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	out := make([]*models.Agent, 0)
	for _, agent := range r.c.agents {
		if opts.TenantID != "" && agent.TenantID != opts.TenantID {
			continue
		}
		if opts.DepartmentID != "" && agent.DepartmentID != opts.DepartmentID {
			continue
		}
		if len(opts.Statuses) > 0 && !containsAgentStatus(opts.Statuses, agent.Status) {
			continue
		}
		out = append(out, agent.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *agents) EnsureIndexes(ctx context.Context) error { return nil }

func containsAgentStatus(list []models.AgentStatus, s models.AgentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---- departments ----------------------------------------------------------

type departments struct{ c *Client }

func (r *departments) Create(ctx context.Context, dept *models.Department) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	k := key(dept.TenantID, dept.ID)
	if _, exists := r.c.departments[k]; exists {
		return docdb.ErrDuplicate
	}
	if dept.IsDefault {
		for _, d := range r.c.departments {
			if d.TenantID == dept.TenantID && d.IsDefault {
				return docdb.ErrDuplicate
			}
		}
	}
	dept.CreatedAt = r.c.now()
	stored := *dept
	r.c.departments[k] = &stored
	return nil
}

func (r *departments) Get(ctx context.Context, tenantID, id string) (*models.Department, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	dept, ok := r.c.departments[key(tenantID, id)]
	if !ok {
		return nil, docdb.ErrNotFound
	}
	out := *dept
	return &out, nil
}

func (r *departments) GetDefault(ctx context.Context, tenantID string) (*models.Department, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	for _, dept := range r.c.departments {
		if dept.TenantID == tenantID && dept.IsDefault {
			out := *dept
			return &out, nil
		}
	}
	return nil, docdb.ErrNotFound
}

func (r *departments) SetDefault(ctx context.Context, tenantID, id string) error {
	r.c.mu.Lock()
	defer r.c.mu.Unlock()

	target, ok := r.c.departments[key(tenantID, id)]
	if !ok {
		return docdb.ErrNotFound
	}
	for _, dept := range r.c.departments {
		if dept.TenantID == tenantID {
			dept.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (r *departments) List(ctx context.Context, tenantID string) ([]*models.Department, error) {
	r.c.mu.RLock()
	defer r.c.mu.RUnlock()

	out := make([]*models.Department, 0)
	for _, dept := range r.c.departments {
		if dept.TenantID == tenantID {
			d := *dept
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *departments) EnsureIndexes(ctx context.Context) error { return nil }
