// Package worker provides goroutine pool management.
//
// Naked goroutines are avoided on the sync path: fan-out goes through a
// Pool with context propagation, and Group provides the join barrier.
//
// Import Path: flockbridge.io/flockbridge/internal/pkg/worker
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General runs detached background work (subscription ingest, log flushes).
	General *Pool
	// Transform runs the per-entity transform fan-out of a sync page.
	Transform *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool configuration.
type PoolConfig struct {
	GeneralPoolSize   int
	TransformPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:   50,
		TransformPoolSize: 200,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, fmt.Errorf("create general pool: %w", err)
	}

	transformAnts, err := ants.NewPool(cfg.TransformPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(5*time.Second),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, fmt.Errorf("create transform pool: %w", err)
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: "general"},
		Transform:     &Pool{pool: transformAnts, name: "transform"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// NewPool creates a standalone pool, used by tools and tests that need only one.
func NewPool(name string, size int) (*Pool, error) {
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(r interface{}) {
			logger.Error("Worker panic recovered", zap.String("pool", name), zap.Any("panic", r))
		}),
		ants.WithNonblocking(false),
	)
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, name: name}, nil
}

// Submit submits a context-aware task.
// If context is already cancelled, returns ctx.Err() immediately without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		// May have been cancelled while queued.
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Release releases a standalone pool, waiting up to timeout for running tasks.
func (p *Pool) Release(timeout time.Duration) error {
	return p.pool.ReleaseTimeout(timeout)
}

// SubmitDetached submits a background task bound to the service lifecycle
// context instead of a request context.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.General
	if poolName == "transform" {
		pool = p.Transform
	}

	return pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", poolName),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown cancels the service context, then waits for running tasks (max 30s).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("General pool shutdown timeout", zap.Error(err))
	}
	if err := p.Transform.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("Transform pool shutdown timeout", zap.Error(err))
	}
}

// Metrics returns pool metrics for observability.
func (p *Pools) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"general":   p.General.Stats(),
		"transform": p.Transform.Stats(),
	}
}

// Stats reports running, free and capacity counts.
func (p *Pool) Stats() map[string]int {
	return map[string]int{
		"running": p.pool.Running(),
		"free":    p.pool.Free(),
		"cap":     p.pool.Cap(),
	}
}

// Group runs a set of tasks on a Pool and waits for all of them.
// Errors from every task are joined.
type Group struct {
	pool *Pool
	ctx  context.Context

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewGroup creates a Group bound to ctx.
func NewGroup(ctx context.Context, pool *Pool) *Group {
	return &Group{pool: pool, ctx: ctx}
}

// Go schedules fn. A task whose context is cancelled before it starts records
// ctx.Err() instead of running.
func (g *Group) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	// Submitting to ants directly keeps wg.Done on every path, including
	// tasks dropped after cancellation.
	err := g.pool.pool.Submit(func() {
		defer g.wg.Done()
		if err := g.ctx.Err(); err != nil {
			g.record(err)
			return
		}
		if err := fn(g.ctx); err != nil {
			g.record(err)
		}
	})
	if err != nil {
		g.record(fmt.Errorf("submit to %s pool: %w", g.pool.name, err))
		g.wg.Done()
	}
}

// Wait blocks until all scheduled tasks finish and returns their joined errors.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}
