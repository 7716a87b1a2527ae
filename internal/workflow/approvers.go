package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/repository"
)

// Resolver derives the users eligible to act on a request from site
// assignments and the capability table. Nothing it computes is stored.
type Resolver struct {
	directory repository.DirectoryRepository
}

// NewResolver constructs a resolver.
func NewResolver(directory repository.DirectoryRepository) *Resolver {
	return &Resolver{directory: directory}
}

// Approvers returns the site members able to advance the request from its
// current state, ordered by id. An empty result is ErrApproverUnresolvable.
func (r *Resolver) Approvers(ctx context.Context, req *domain.ApprovalRequest) ([]domain.User, error) {
	members, err := r.directory.ListSiteMembers(ctx, req.SiteID)
	if err != nil {
		return nil, fmt.Errorf("list site members: %w", err)
	}

	eligible := make([]domain.User, 0, len(members))
	for _, member := range members {
		if CanAdvance(member.Role, req.Kind, req.State) {
			eligible = append(eligible, member)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: site %s, %s in %s", ErrApproverUnresolvable, req.SiteID, req.Kind, req.State)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ID < eligible[j].ID
	})
	return eligible, nil
}
