// Package handlers implements the flockbridge HTTP API: the provider webhook
// receiver, operator triggers, and health.
package handlers

import (
	"context"
	"net/http"

	"flockbridge.io/flockbridge/internal/jobs"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/webhook"
)

// DefaultMaxWebhookBodyBytes bounds a webhook body when no limit is configured.
const DefaultMaxWebhookBodyBytes int64 = 5 << 20

// Enqueuer starts workflows.
type Enqueuer interface {
	StartPullSync(ctx context.Context, orgID string) (jobs.Enqueued, error)
	DeliverWebhook(ctx context.Context, orgID, webhookID string, headers http.Header, body []byte) (jobs.Enqueued, error)
	StartReconcile(ctx context.Context, orgID string) (jobs.Enqueued, error)
}

// SecretSource lists candidate webhook secrets.
type SecretSource interface {
	Candidates(ctx context.Context) ([]webhook.OrgSecret, error)
}

// HealthSource reports cached provider probes.
type HealthSource interface {
	Snapshot() []provider.OrgHealth
}

// Pinger checks database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds handler dependencies.
type Server struct {
	enqueuer     Enqueuer
	secrets      SecretSource
	health       HealthSource
	db           Pinger
	orgs         map[string]struct{}
	maxBodyBytes int64
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Enqueuer Enqueuer
	Secrets  SecretSource
	Health   HealthSource // optional
	DB       Pinger       // optional

	// OrgIDs are the orgs operator triggers may target.
	OrgIDs       []string
	MaxBodyBytes int64
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	orgs := make(map[string]struct{}, len(deps.OrgIDs))
	for _, id := range deps.OrgIDs {
		orgs[id] = struct{}{}
	}
	limit := deps.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxWebhookBodyBytes
	}
	return &Server{
		enqueuer:     deps.Enqueuer,
		secrets:      deps.Secrets,
		health:       deps.Health,
		db:           deps.DB,
		orgs:         orgs,
		maxBodyBytes: limit,
	}
}
