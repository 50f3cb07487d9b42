package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blockpulse/internal/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const runLeaseKey = "lease:check-alerts"

// ErrRunInProgress means another process holds the run lease.
var ErrRunInProgress = errors.New("an alert run is already in progress")

// Locker grants a cross-process lease.
type Locker interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type evaluatorRunner interface {
	Run(ctx context.Context) (Summary, error)
}

// Runner serialises evaluator runs. Concurrent callers in one process share a
// single run; across processes the Locker lease lets only one run at a time.
type Runner struct {
	evaluator evaluatorRunner
	locker    Locker
	leaseTTL  time.Duration
	group     singleflight.Group
	log       *zap.Logger
}

// NewRunner builds a runner; locker may be nil for single-process deployments.
func NewRunner(evaluator evaluatorRunner, locker Locker, leaseTTL time.Duration) *Runner {
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &Runner{
		evaluator: evaluator,
		locker:    locker,
		leaseTTL:  leaseTTL,
		log:       logger.Named("runner"),
	}
}

// Run triggers an evaluation, joining one that is already running here. The
// run is detached from ctx cancellation and bounded by the lease TTL.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	ch := r.group.DoChan(runLeaseKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.leaseTTL)
		defer cancel()
		return r.runExclusive(runCtx)
	})

	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.log.Debug("Joined in-flight alert run")
		}
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

func (r *Runner) runExclusive(ctx context.Context) (Summary, error) {
	start := time.Now()

	if r.locker != nil {
		release, ok, err := r.locker.AcquireLease(ctx, runLeaseKey, r.leaseTTL)
		if err != nil {
			runsTotal.WithLabelValues("lock_error").Inc()
			return Summary{}, fmt.Errorf("acquire run lease: %w", err)
		}
		if !ok {
			runsTotal.WithLabelValues("in_progress").Inc()
			return Summary{}, ErrRunInProgress
		}
		defer release()
	}

	summary, err := r.evaluator.Run(ctx)
	runDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		runsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrPriceQuery):
		runsTotal.WithLabelValues("price_error").Inc()
	case errors.Is(err, ErrLoadAlerts):
		runsTotal.WithLabelValues("store_error").Inc()
	default:
		runsTotal.WithLabelValues("error").Inc()
	}
	return summary, err
}
