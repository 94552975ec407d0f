package modules

import (
	"context"

	"github.com/riverqueue/river"

	"flockbridge.io/flockbridge/internal/api/handlers"
	"flockbridge.io/flockbridge/internal/config"
	"flockbridge.io/flockbridge/internal/identity"
	"flockbridge.io/flockbridge/internal/jobs"
	"flockbridge.io/flockbridge/internal/subscription"
	"flockbridge.io/flockbridge/internal/syncer"
	"flockbridge.io/flockbridge/internal/webhook"
	"flockbridge.io/flockbridge/internal/workflow"
)

// SyncModule wires the sync engine, webhook routing, subscription
// reconciliation and their workers.
type SyncModule struct {
	infra      *Infrastructure
	syncer     *syncer.Syncer
	router     *webhook.Router
	reconciler *subscription.Reconciler
	secrets    *webhook.Secrets
	runner     *workflow.Runner
}

// NewSyncModule creates the sync module with explicit constructor wiring.
func NewSyncModule(infra *Infrastructure) *SyncModule {
	cfg := infra.Config.Sync
	adapter := infra.Adapter

	links := identity.NewRegistry(infra.Store, cfg.Adapter)
	s := syncer.New(infra.Provider, adapter.Types, links, infra.Store, infra.Pools.Transform)

	var stored webhook.SecretStore
	if infra.Store != nil {
		stored = infra.Store
	}

	return &SyncModule{
		infra:  infra,
		syncer: s,
		router: webhook.NewRouter(adapter.Webhooks, adapter.Types, s),
		reconciler: subscription.NewReconciler(
			infra.Provider, s,
			adapter.Manifest.SubscriptionsPath,
			cfg.CallbackBaseURL,
			adapter.WebhookNames(),
		),
		secrets: webhook.NewSecrets(StaticWebhookSecrets(cfg), stored),
		runner:  workflow.NewRunner(cfg.MaxActivityAttempts, cfg.StepDelay),
	}
}

func (m *SyncModule) Name() string { return "sync" }

func (m *SyncModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	deps.Secrets = m.secrets
}

func (m *SyncModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	river.AddWorker(workers, jobs.NewPullSyncWorker(m.syncer, m.runner))
	river.AddWorker(workers, jobs.NewWebhookDeliveryWorker(m.router, m.secrets, m.runner))
	river.AddWorker(workers, jobs.NewSubscriptionReconcileWorker(m.reconciler, m.runner))
}

// PeriodicJobs schedules pull syncs on the configured cron and, when a
// callback URL is configured, daily subscription reconciles.
func (m *SyncModule) PeriodicJobs() ([]*river.PeriodicJob, error) {
	cfg := m.infra.Config.Sync
	return jobs.PeriodicJobs(cfg.Schedule, m.infra.OrgIDs(), cfg.CallbackBaseURL != "")
}

func (m *SyncModule) Shutdown(context.Context) error { return nil }

// StaticWebhookSecrets collects the configured per-org webhook secrets.
func StaticWebhookSecrets(cfg config.SyncConfig) map[string][]string {
	out := make(map[string][]string)
	for _, o := range cfg.AllOrgs() {
		if len(o.WebhookSecrets) > 0 {
			out[o.ID] = append(out[o.ID], o.WebhookSecrets...)
		}
	}
	return out
}
