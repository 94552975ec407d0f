// Package app is the composition root; bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"flockbridge.io/flockbridge/internal/api/handlers"
	"flockbridge.io/flockbridge/internal/app/modules"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/infrastructure"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/provider"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Health  *provider.HealthChecker
	OrgIDs  []string
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	allModules := []modules.Module{
		modules.NewSyncModule(infra),
	}

	workers := river.NewWorkers()
	var periodic []*river.PeriodicJob
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
		if pc, ok := mod.(modules.PeriodicJobContributor); ok {
			jobs, err := pc.PeriodicJobs()
			if err != nil {
				infra.Close()
				return nil, fmt.Errorf("%s periodic jobs: %w", mod.Name(), err)
			}
			periodic = append(periodic, jobs...)
		}
	}
	if err := infra.InitRiver(workers, periodic); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	serverDeps := modules.NewServerDeps(cfg, infra, allModules)
	server := handlers.NewServer(serverDeps)

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, modules.JWTConfig(cfg)),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Health:  infra.HealthCheck,
		OrgIDs:  infra.OrgIDs(),
		Modules: allModules,
	}, nil
}
