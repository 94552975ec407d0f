package cli

import (
	"context"
	"fmt"
	"time"

	"flockbridge.io/flockbridge/internal/adapter/pco"
	"flockbridge.io/flockbridge/internal/identity"
	"flockbridge.io/flockbridge/internal/infrastructure"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/repository"
	"flockbridge.io/flockbridge/internal/repository/memory"
	"flockbridge.io/flockbridge/internal/subscription"
	"flockbridge.io/flockbridge/internal/syncer"
)

type engineStore interface {
	identity.Store
	syncer.Store
}

// engine is a synchronous sync stack for one command invocation.
type engine struct {
	syncer     *syncer.Syncer
	reconciler *subscription.Reconciler
	close      func()
}

// openEngine wires the sync stack. A dry run keeps every write in memory.
func (o *RootOptions) openEngine(ctx context.Context, dryRun bool) (*engine, error) {
	cfg := o.Config
	adapter, err := pco.New()
	if err != nil {
		return nil, fmt.Errorf("load adapter: %w", err)
	}

	var (
		store   engineStore
		closers []func()
	)
	if dryRun {
		store = memory.New(cfg.Sync.Adapter)
	} else {
		db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		closers = append(closers, db.Close)
		repo, err := repository.New(db.Pool, cfg.Sync.Adapter)
		if err != nil {
			db.Close()
			return nil, err
		}
		store = repo
	}

	size := cfg.Worker.TransformPoolSize
	if size <= 0 {
		size = worker.DefaultPoolConfig().TransformPoolSize
	}
	pool, err := worker.NewPool("transform", size)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, fmt.Errorf("create transform pool: %w", err)
	}
	closers = append([]func(){func() { _ = pool.Release(10 * time.Second) }}, closers...)

	client := o.NewClient(cfg.Sync)
	links := identity.NewRegistry(store, cfg.Sync.Adapter)
	s := syncer.New(client, adapter.Types, links, store, pool)
	return &engine{
		syncer: s,
		reconciler: subscription.NewReconciler(client, s,
			adapter.Manifest.SubscriptionsPath,
			cfg.Sync.CallbackBaseURL,
			adapter.WebhookNames(),
		),
		close: func() {
			for _, c := range closers {
				c()
			}
		},
	}, nil
}
