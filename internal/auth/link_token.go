package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/workflow"
)

// LinkTokens issues and checks the opaque tokens embedded in public approval
// links. Only a bcrypt hash of each token is stored.
type LinkTokens struct {
	repo repository.ApprovalTokenRepository
	ttl  time.Duration
	cost int

	TimeNow func() time.Time
}

// NewLinkTokens constructs the token store.
func NewLinkTokens(repo repository.ApprovalTokenRepository, ttl time.Duration, cost int) *LinkTokens {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &LinkTokens{repo: repo, ttl: ttl, cost: cost, TimeNow: time.Now}
}

// Issue creates a fresh token for the request and approver, replacing the
// approver's previous one. The token never outlives its request.
func (l *LinkTokens) Issue(ctx context.Context, req *domain.ApprovalRequest, approverID string) (string, error) {
	plain := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), l.cost)
	if err != nil {
		return "", fmt.Errorf("hash approval token: %w", err)
	}

	now := l.TimeNow()
	expiresAt := now.Add(l.ttl)
	if l.ttl <= 0 || expiresAt.After(req.ExpiresAt) {
		expiresAt = req.ExpiresAt
	}
	if err := l.repo.Upsert(ctx, &domain.ApprovalToken{
		RequestID:  req.ID,
		ApproverID: approverID,
		TokenHash:  string(hashed),
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	}); err != nil {
		return "", fmt.Errorf("store approval token: %w", err)
	}
	return plain, nil
}

// Check validates a presented token against the request it claims to be
// bound to and returns the approver it was issued to. Validity is evaluated
// on every call. A token for a request that someone already closed reports
// ErrAlreadyResolved rather than an invalid link.
func (l *LinkTokens) Check(ctx context.Context, req *domain.ApprovalRequest, plain string) (string, error) {
	if plain == "" {
		return "", workflow.ErrInvalidToken
	}
	tokens, err := l.repo.ListByRequestID(ctx, req.ID)
	if err != nil {
		return "", err
	}
	for _, stored := range tokens {
		if bcrypt.CompareHashAndPassword([]byte(stored.TokenHash), []byte(plain)) != nil {
			continue
		}
		if req.State.Terminal() {
			return "", workflow.ErrAlreadyResolved
		}
		now := l.TimeNow()
		if !now.Before(stored.ExpiresAt) || req.Expired(now) {
			return "", workflow.ErrExpired
		}
		return stored.ApproverID, nil
	}
	return "", workflow.ErrInvalidToken
}
