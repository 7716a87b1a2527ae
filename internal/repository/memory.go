package repository

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/approval-core/internal/domain"
)

// MemoryApprovalRepository is an in-process ApprovalRepository. It honours the
// same conditional-update contract as the Postgres implementation.
type MemoryApprovalRepository struct {
	mu    sync.Mutex
	items map[string]domain.ApprovalRequest
}

// NewMemoryApprovalRepository constructs an empty store.
func NewMemoryApprovalRepository() *MemoryApprovalRepository {
	return &MemoryApprovalRepository{items: make(map[string]domain.ApprovalRequest)}
}

func (r *MemoryApprovalRepository) Create(_ context.Context, req *domain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.LastTransitionAt.IsZero() {
		req.LastTransitionAt = req.CreatedAt
	}
	r.items[req.ID] = cloneApproval(*req)
	return nil
}

func (r *MemoryApprovalRepository) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneApproval(item)
	return &out, nil
}

func (r *MemoryApprovalRepository) Transition(_ context.Context, update TransitionUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[update.ID]
	if !ok || item.State != update.Expected {
		return false, nil
	}
	item.State = update.Target
	if update.ResolverID != nil {
		resolver := *update.ResolverID
		item.ResolverID = &resolver
	}
	if update.Notes != "" {
		item.Notes = update.Notes
	}
	if update.Signature != nil {
		item.Signature = append([]byte(nil), update.Signature...)
	}
	item.LastTransitionAt = update.At
	r.items[update.ID] = item
	return true, nil
}

func (r *MemoryApprovalRepository) ListWithFilter(_ context.Context, filter ApprovalFilter) ([]domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[domain.ApprovalState]struct{}, len(filter.States))
	for _, s := range filter.States {
		states[s] = struct{}{}
	}

	var result []domain.ApprovalRequest
	for _, item := range r.items {
		if filter.Kind != nil && item.Kind != *filter.Kind {
			continue
		}
		if filter.SiteID != "" && item.SiteID != filter.SiteID {
			continue
		}
		if len(states) > 0 {
			if _, ok := states[item.State]; !ok {
				continue
			}
		}
		if filter.StaleBefore != nil && item.StaleSince().After(*filter.StaleBefore) {
			continue
		}
		if filter.ExpiresBefore != nil && (item.ExpiresAt.IsZero() || item.ExpiresAt.After(*filter.ExpiresBefore)) {
			continue
		}
		if filter.MaxEscalations > 0 && item.EscalationCount >= filter.MaxEscalations {
			continue
		}
		result = append(result, cloneApproval(item))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *MemoryApprovalRepository) MarkEscalated(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return pgx.ErrNoRows
	}
	item.LastEscalatedAt = &at
	item.EscalationCount++
	r.items[id] = item
	return nil
}

func cloneApproval(in domain.ApprovalRequest) domain.ApprovalRequest {
	out := in
	if in.Signature != nil {
		out.Signature = append([]byte(nil), in.Signature...)
	}
	if in.ResolverID != nil {
		v := *in.ResolverID
		out.ResolverID = &v
	}
	if in.LastEscalatedAt != nil {
		v := *in.LastEscalatedAt
		out.LastEscalatedAt = &v
	}
	return out
}

// MemoryApprovalTokenRepository is an in-process ApprovalTokenRepository.
type MemoryApprovalTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]domain.ApprovalToken
	now    func() time.Time
}

// NewMemoryApprovalTokenRepository constructs an empty store.
func NewMemoryApprovalTokenRepository() *MemoryApprovalTokenRepository {
	return &MemoryApprovalTokenRepository{tokens: make(map[string]domain.ApprovalToken), now: time.Now}
}

func (r *MemoryApprovalTokenRepository) Upsert(_ context.Context, token *domain.ApprovalToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.CreatedAt = r.now()
	r.tokens[token.RequestID+"/"+token.ApproverID] = *token
	return nil
}

func (r *MemoryApprovalTokenRepository) ListByRequestID(_ context.Context, requestID string) ([]domain.ApprovalToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ApprovalToken
	for _, token := range r.tokens {
		if token.RequestID == requestID {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApproverID < out[j].ApproverID })
	return out, nil
}

// MemoryChannelDeliveryRepository is an in-process ChannelDeliveryRepository.
type MemoryChannelDeliveryRepository struct {
	mu    sync.Mutex
	seq   int
	items []domain.ChannelDelivery
	now   func() time.Time
}

// NewMemoryChannelDeliveryRepository constructs an empty log.
func NewMemoryChannelDeliveryRepository() *MemoryChannelDeliveryRepository {
	return &MemoryChannelDeliveryRepository{now: time.Now}
}

func (r *MemoryChannelDeliveryRepository) Create(_ context.Context, d *domain.ChannelDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	d.ID = strconv.Itoa(r.seq)
	d.CreatedAt = r.now()
	r.items = append(r.items, *d)
	return nil
}

func (r *MemoryChannelDeliveryRepository) List(_ context.Context, filter ChannelDeliveryFilter) ([]domain.ChannelDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if filter.Limit <= 0 {
		filter.Limit = defaultDeliveryLimit
	}
	var result []domain.ChannelDelivery
	for i := len(r.items) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		d := r.items[i]
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.RequestID != "" && d.RequestID != filter.RequestID {
			continue
		}
		result = append(result, d)
	}
	return result, nil
}

// MemoryNotificationRepository is an in-process NotificationRepository.
type MemoryNotificationRepository struct {
	mu    sync.Mutex
	seq   int
	items []domain.Notification
	keys  map[string]struct{}
	now   func() time.Time
}

// NewMemoryNotificationRepository constructs an empty store.
func NewMemoryNotificationRepository() *MemoryNotificationRepository {
	return &MemoryNotificationRepository{keys: make(map[string]struct{}), now: time.Now}
}

func (r *MemoryNotificationRepository) Create(_ context.Context, n *domain.Notification) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.IdempotencyKey != "" {
		if _, exists := r.keys[n.IdempotencyKey]; exists {
			return false, nil
		}
		r.keys[n.IdempotencyKey] = struct{}{}
	}
	r.seq++
	n.ID = strconv.Itoa(r.seq)
	n.Read = false
	n.CreatedAt = r.now()
	r.items = append(r.items, *n)
	return true, nil
}

func (r *MemoryNotificationRepository) ExistsByKey(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.keys[key]
	return exists, nil
}

func (r *MemoryNotificationRepository) ListByRecipient(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	var result []domain.Notification
	for i := len(r.items) - 1; i >= 0 && len(result) < limit; i-- {
		if r.items[i].RecipientID == recipientID {
			result = append(result, r.items[i])
		}
	}
	return result, nil
}

func (r *MemoryNotificationRepository) MarkRead(_ context.Context, recipientID, id string) (*domain.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id && r.items[i].RecipientID == recipientID {
			r.items[i].Read = true
			out := r.items[i]
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *MemoryNotificationRepository) MarkAllRead(_ context.Context, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed int64
	for i := range r.items {
		if r.items[i].RecipientID == recipientID && !r.items[i].Read {
			r.items[i].Read = true
			changed++
		}
	}
	return changed, nil
}

// MemoryDirectoryRepository is an in-process DirectoryRepository.
type MemoryDirectoryRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
	sites map[string][]string
}

// NewMemoryDirectoryRepository constructs an empty directory.
func NewMemoryDirectoryRepository() *MemoryDirectoryRepository {
	return &MemoryDirectoryRepository{users: make(map[string]domain.User), sites: make(map[string][]string)}
}

// AddUser registers or replaces a user and assigns it to the given sites.
func (r *MemoryDirectoryRepository) AddUser(user domain.User, siteIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	for _, site := range siteIDs {
		if !slices.Contains(r.sites[site], user.ID) {
			r.sites[site] = append(r.sites[site], user.ID)
		}
	}
}

func (r *MemoryDirectoryRepository) GetUser(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *MemoryDirectoryRepository) ListSiteMembers(_ context.Context, siteID string) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []domain.User
	for _, id := range r.sites[siteID] {
		if user, ok := r.users[id]; ok {
			result = append(result, user)
		}
	}
	return result, nil
}
