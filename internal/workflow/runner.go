// Package workflow runs named activities with bounded retries and
// compensation. Durability comes from the job queue that invokes it: a
// crashed run is retried as a whole and relies on idempotent activities.
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// DefaultMaxAttempts bounds retries of one activity.
const DefaultMaxAttempts = 3

// Activity is one named step of a workflow.
type Activity struct {
	Name string
	Run  func(ctx context.Context) error
	// Compensate runs once after Run has failed for good. Optional.
	Compensate func(ctx context.Context, cause error)
}

// Runner executes activities in order.
type Runner struct {
	maxAttempts int
	stepDelay   time.Duration
	backoff     func(attempt int) time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a Runner. stepDelay is waited between activities.
func NewRunner(maxAttempts int, stepDelay time.Duration) *Runner {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		maxAttempts: maxAttempts,
		stepDelay:   stepDelay,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 500 * time.Millisecond
		},
		sleep: sleepCtx,
	}
}

// Run executes activities sequentially. Retryable failures are retried up
// to the attempt bound; other failures stop at once. On final failure the
// activity's compensation runs and the failure is returned.
func (r *Runner) Run(ctx context.Context, workflow, key string, activities ...Activity) error {
	for i, a := range activities {
		if i > 0 && r.stepDelay > 0 {
			if err := r.sleep(ctx, r.stepDelay); err != nil {
				return err
			}
		}
		if err := r.runActivity(ctx, workflow, key, a); err != nil {
			return fmt.Errorf("%s/%s: %w", workflow, a.Name, err)
		}
	}
	return nil
}

func (r *Runner) runActivity(ctx context.Context, workflow, key string, a Activity) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = a.Run(ctx)
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) || attempt == r.maxAttempts || ctx.Err() != nil {
			break
		}
		logger.Warn("Activity failed, retrying",
			zap.String("workflow", workflow),
			zap.String("key", key),
			zap.String("activity", a.Name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := r.sleep(ctx, r.backoff(attempt)); serr != nil {
			break
		}
	}

	logger.Error("Activity failed",
		zap.String("workflow", workflow),
		zap.String("key", key),
		zap.String("activity", a.Name),
		zap.Bool("retryable", apperrors.IsRetryable(err)),
		zap.Error(err),
	)
	if a.Compensate != nil {
		r.compensate(ctx, workflow, key, a, err)
	}
	return err
}

// compensate is best effort; a panic is logged and swallowed.
func (r *Runner) compensate(ctx context.Context, workflow, key string, a Activity, cause error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Compensation panicked",
				zap.String("workflow", workflow),
				zap.String("key", key),
				zap.String("activity", a.Name),
				zap.Any("panic", p),
			)
		}
	}()
	a.Compensate(context.WithoutCancel(ctx), cause)
	logger.Info("Compensation ran",
		zap.String("workflow", workflow),
		zap.String("key", key),
		zap.String("activity", a.Name),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
