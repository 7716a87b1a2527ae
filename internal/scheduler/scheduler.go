package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/approval-core/internal/delivery"
	"github.com/spec-kit/approval-core/internal/domain"
	"github.com/spec-kit/approval-core/internal/events"
	"github.com/spec-kit/approval-core/internal/observability"
	"github.com/spec-kit/approval-core/internal/repository"
	"github.com/spec-kit/approval-core/internal/worker"
	"github.com/spec-kit/approval-core/internal/workflow"
)

const leaseKey = "approval-core:escalation-run"

// ErrRunInProgress is returned when another run holds the in-process lock or
// the shared lease.
var ErrRunInProgress = errors.New("escalation run already in progress")

// Leaser grants a named exclusive lease shared across replicas.
type Leaser interface {
	TryLease(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error)
}

// Notifier delivers an escalation event.
type Notifier interface {
	Dispatch(ctx context.Context, event events.Event) (delivery.Result, error)
}

// Config controls cadence and caps.
type Config struct {
	FirstRunDelay  time.Duration
	Interval       time.Duration
	LockTTL        time.Duration
	MaxEscalations int
	BatchSize      int
}

// Summary reports the outcome of one run. Processed equals
// Succeeded + Skipped + Failed.
type Summary struct {
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Expired    int       `json:"expired"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Dependencies bundles collaborators.
type Dependencies struct {
	Engine    *workflow.Engine
	Approvals repository.ApprovalRepository
	Resolver  *workflow.Resolver
	Notifier  Notifier
	Lease     Leaser
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// Scheduler re-notifies approvers of stale requests and cancels expired ones.
// Timed and manual runs share one code path and never overlap.
type Scheduler struct {
	cfg  Config
	deps Dependencies

	running sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	TimeNow func() time.Time
}

// New constructs a scheduler.
func New(cfg Config, deps Dependencies) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Scheduler{cfg: cfg, deps: deps, TimeNow: time.Now}
}

// Start launches the recurring run. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	periodic := worker.Periodic{
		Name:          "escalation-scheduler",
		FirstRunDelay: s.cfg.FirstRunDelay,
		Interval:      s.cfg.Interval,
		Logger:        s.deps.Logger,
	}
	go func(done chan struct{}) {
		defer close(done)
		periodic.Run(runCtx, func(ctx context.Context) {
			if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.deps.Logger.Warn("escalation run not completed", zap.Error(err))
			}
		})
	}(s.done)
}

// Stop cancels the recurring run and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.lifecycle.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycle.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger runs once on behalf of an external caller such as an admin request.
// The run ignores ctx's cancellation and deadline and is bounded by the lock
// TTL instead.
func (s *Scheduler) Trigger(ctx context.Context) (Summary, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LockTTL)
	defer cancel()
	return s.RunNow(runCtx)
}

// RunNow executes one run. A run already in progress, here or on another
// replica, yields ErrRunInProgress. Cancelling ctx stops the run between
// requests; completed units stay committed.
func (s *Scheduler) RunNow(ctx context.Context) (Summary, error) {
	if !s.running.TryLock() {
		return Summary{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	if s.deps.Lease != nil {
		release, ok, err := s.deps.Lease.TryLease(ctx, leaseKey, s.cfg.LockTTL)
		if err != nil {
			return Summary{}, fmt.Errorf("acquire escalation lease: %w", err)
		}
		if !ok {
			return Summary{}, ErrRunInProgress
		}
		defer release(context.WithoutCancel(ctx))
	}

	summary := Summary{StartedAt: s.TimeNow()}
	err := s.run(ctx, &summary)
	summary.FinishedAt = s.TimeNow()

	s.deps.Metrics.RecordEscalation("succeeded", summary.Succeeded)
	s.deps.Metrics.RecordEscalation("skipped", summary.Skipped)
	s.deps.Metrics.RecordEscalation("failed", summary.Failed)
	s.deps.Metrics.RecordEscalation("expired", summary.Expired)
	s.deps.Logger.Info("escalation run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("expired", summary.Expired),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)),
		zap.Error(err))
	return summary, err
}

func (s *Scheduler) run(ctx context.Context, summary *Summary) error {
	expired, err := s.deps.Engine.ExpireOverdue(ctx, s.cfg.BatchSize)
	for _, event := range expired {
		summary.Expired++
		if _, derr := s.deps.Notifier.Dispatch(ctx, event); derr != nil {
			s.deps.Logger.Warn("notify expiry", zap.String("request_id", event.Request.ID), zap.Error(derr))
		}
	}
	if err != nil {
		return err
	}

	for _, kind := range domain.ApprovalKinds {
		policy := s.deps.Engine.Policy(kind)
		if policy.StaleAfter <= 0 {
			continue
		}
		now := s.TimeNow()
		staleBefore := now.Add(-policy.StaleAfter)
		kind := kind
		stale, err := s.deps.Approvals.ListWithFilter(ctx, repository.ApprovalFilter{
			Kind:           &kind,
			States:         domain.NonTerminalStates,
			StaleBefore:    &staleBefore,
			MaxEscalations: s.cfg.MaxEscalations,
			Limit:          s.cfg.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("list stale %s approvals: %w", kind, err)
		}

		for i := range stale {
			if err := ctx.Err(); err != nil {
				return err
			}
			req := stale[i]
			if req.Expired(now) {
				continue
			}
			summary.Processed++
			switch err := s.escalate(ctx, &req, policy, now); {
			case err == nil:
				summary.Succeeded++
			case errors.Is(err, workflow.ErrApproverUnresolvable):
				summary.Skipped++
				s.deps.Logger.Warn("escalation skipped", zap.String("request_id", req.ID), zap.Error(err))
			default:
				summary.Failed++
				s.deps.Logger.Warn("escalation failed", zap.String("request_id", req.ID), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *Scheduler) escalate(ctx context.Context, req *domain.ApprovalRequest, policy workflow.Policy, now time.Time) error {
	approvers, err := s.deps.Resolver.Approvers(ctx, req)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		ids = append(ids, a.ID)
	}

	event := events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventApprovalEscalated,
		Request:   *req,
		Timestamp: now,
		Payload: events.EscalatedPayload{
			Attempt:      req.EscalationCount + 1,
			ApproverIDs:  ids,
			DaysToExpiry: daysToExpiry(req, policy, now),
		},
	}
	if _, err := s.deps.Notifier.Dispatch(ctx, event); err != nil {
		return fmt.Errorf("dispatch escalation: %w", err)
	}
	if err := s.deps.Approvals.MarkEscalated(ctx, req.ID, now); err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	return nil
}

func daysToExpiry(req *domain.ApprovalRequest, policy workflow.Policy, now time.Time) int {
	if policy.TTL <= 0 {
		return 0
	}
	return int(math.Ceil(req.ExpiresAt.Sub(now).Hours() / 24))
}
