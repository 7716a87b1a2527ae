package worker

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of recurring work.
type Job func(ctx context.Context)

// Periodic runs a job after an initial delay and then at a fixed interval.
// The next run is timed from the end of the previous one, so runs never
// overlap within the process.
type Periodic struct {
	Name          string
	FirstRunDelay time.Duration
	Interval      time.Duration
	Logger        *zap.Logger
}

// Run blocks until ctx is cancelled. A panicking job is logged and the loop
// continues with the next tick.
func (p Periodic) Run(ctx context.Context, job Job) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("worker", p.Name))

	timer := time.NewTimer(p.FirstRunDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-timer.C:
			p.runOnce(ctx, logger, job)
			timer.Reset(p.Interval)
		}
	}
}

func (p Periodic) runOnce(ctx context.Context, logger *zap.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	started := time.Now()
	job(ctx)
	logger.Debug("worker run finished", zap.Duration("took", time.Since(started)))
}
