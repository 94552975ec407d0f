package modules

import (
	"flockbridge.io/flockbridge/internal/api/handlers"
	"flockbridge.io/flockbridge/internal/api/middleware"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/jobs"
)

// JWTConfig builds the operator token configuration.
func JWTConfig(cfg *config.Config) middleware.JWTConfig {
	return middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSigningKey),
		Issuer:     cfg.Security.JWTIssuer,
		ExpiresIn:  cfg.Security.JWTExpiresIn,
	}
}

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
// River must be initialized first.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		OrgIDs:       infra.OrgIDs(),
		MaxBodyBytes: cfg.Server.MaxWebhookBodyBytes,
	}
	if infra.DB != nil {
		if infra.DB.Pool != nil {
			deps.DB = infra.DB.Pool
		}
		if infra.DB.RiverClient != nil {
			deps.Enqueuer = jobs.NewEnqueuer(infra.DB.RiverClient)
		}
	}
	if infra.HealthCheck != nil {
		deps.Health = infra.HealthCheck
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		contributor, ok := mod.(ServerDepsContributor)
		if !ok {
			continue
		}
		contributor.ContributeServerDeps(&deps)
	}
	return deps
}
