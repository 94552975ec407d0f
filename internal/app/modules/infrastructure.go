package modules

import (
	"context"
	"fmt"
	"net/http"

	"github.com/riverqueue/river"

	"flockbridge.io/flockbridge/internal/adapter/pco"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/infrastructure"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Store       *repository.Store
	Adapter     *pco.Adapter
	Provider    provider.Client
	HealthCheck *provider.HealthChecker
}

// NewInfrastructure initializes DB, pools, the adapter and the provider client.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	if cfg.Sync.Adapter != pco.Name {
		return nil, fmt.Errorf("unsupported adapter %q", cfg.Sync.Adapter)
	}
	adapter, err := pco.New()
	if err != nil {
		return nil, fmt.Errorf("load adapter: %w", err)
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	store, err := repository.New(db.Pool, cfg.Sync.Adapter)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init repository: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		TransformPoolSize: cfg.Worker.TransformPoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	client := NewProviderClient(cfg.Sync)
	return &Infrastructure{
		Config:      cfg,
		DB:          db,
		Pools:       pools,
		Store:       store,
		Adapter:     adapter,
		Provider:    client,
		HealthCheck: provider.NewHealthChecker(client, adapter.Manifest.HealthPath, 0),
	}, nil
}

// NewProviderClient builds the HTTP provider client with per-org credentials.
func NewProviderClient(cfg config.SyncConfig) *provider.HTTPClient {
	return provider.NewHTTPClient(provider.HTTPClientOptions{
		BaseURL:             cfg.APIBaseURL,
		Credentials:         OrgCredentials(cfg),
		HTTPClient:          &http.Client{Timeout: cfg.RequestTimeout},
		MaxRateLimitRetries: 3,
	})
}

// OrgCredentials resolves provider credentials from configured orgs.
func OrgCredentials(cfg config.SyncConfig) provider.CredentialSource {
	return func(orgID string) (provider.Credentials, bool) {
		org, ok := cfg.FindOrg(orgID)
		if !ok {
			return provider.Credentials{}, false
		}
		return provider.Credentials{AppID: org.AppID, Secret: org.Secret}, true
	}
}

// OrgIDs lists the configured org ids.
func (i *Infrastructure) OrgIDs() []string {
	orgs := i.Config.Sync.AllOrgs()
	ids := make([]string, 0, len(orgs))
	for _, o := range orgs {
		ids = append(ids, o.ID)
	}
	return ids
}

// InitRiver initializes River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers, periodic []*river.PeriodicJob) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, periodic, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.HealthCheck != nil {
		i.HealthCheck.Stop()
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
