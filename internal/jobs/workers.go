package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/subscription"
	"flockbridge.io/flockbridge/internal/syncer"
	"flockbridge.io/flockbridge/internal/webhook"
	"flockbridge.io/flockbridge/internal/workflow"
)

// PullSyncer is the pull side used by PullSyncWorker.
type PullSyncer interface {
	Types() []string
	Recover(ctx context.Context, orgID string) (int64, error)
	SyncEntityType(ctx context.Context, orgID, entityType string) (syncer.SyncResult, error)
}

// Router routes authenticated webhook batches.
type Router interface {
	Route(ctx context.Context, orgID string, batch webhook.Batch) (webhook.Result, error)
}

// SecretSource lists candidate webhook secrets.
type SecretSource interface {
	Candidates(ctx context.Context) ([]webhook.OrgSecret, error)
}

// Reconciler reconciles one org's subscriptions.
type Reconciler interface {
	Reconcile(ctx context.Context, orgID string) (subscription.Report, error)
}

// finish maps a workflow failure to River: permanent failures cancel the
// job, transient ones leave it to River's retry schedule.
func finish(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsRetryable(err) {
		return err
	}
	return river.JobCancel(err)
}

// ---------------------------------------------------------------------------
// Pull sync
// ---------------------------------------------------------------------------

// PullSyncWorker syncs every pull-synced type of an org, one activity per type.
type PullSyncWorker struct {
	river.WorkerDefaults[PullSyncArgs]
	syncer PullSyncer
	runner *workflow.Runner
}

// NewPullSyncWorker creates a PullSyncWorker.
func NewPullSyncWorker(s PullSyncer, runner *workflow.Runner) *PullSyncWorker {
	return &PullSyncWorker{syncer: s, runner: runner}
}

// Work runs the pull sync workflow.
func (w *PullSyncWorker) Work(ctx context.Context, job *river.Job[PullSyncArgs]) error {
	org := job.Args.OrgID
	logger.Info("Processing pull sync job",
		zap.String("org_id", org),
		zap.String("key", job.Args.Key),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	// Reopening stuck gates is both the first step and the compensation, so
	// an aborted type is picked up again by the next run.
	reopen := func(ctx context.Context, _ error) {
		if _, err := w.syncer.Recover(ctx, org); err != nil {
			logger.Error("pull sync compensation failed", zap.String("org_id", org), zap.Error(err))
		}
	}
	activities := []workflow.Activity{{
		Name: "recover",
		Run: func(ctx context.Context) error {
			_, err := w.syncer.Recover(ctx, org)
			return err
		},
	}}
	var total syncer.SyncResult
	for _, name := range w.syncer.Types() {
		activities = append(activities, workflow.Activity{
			Name: "sync_" + name,
			Run: func(ctx context.Context) error {
				res, err := w.syncer.SyncEntityType(ctx, org, name)
				total.Add(res)
				return err
			},
			Compensate: reopen,
		})
	}

	if err := w.runner.Run(ctx, KindPullSync, job.Args.Key, activities...); err != nil {
		return finish(err)
	}
	logger.Info("pull sync completed",
		zap.String("org_id", org),
		zap.Object("result", total),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Webhook delivery
// ---------------------------------------------------------------------------

// WebhookDeliveryWorker verifies and routes one stored delivery.
type WebhookDeliveryWorker struct {
	river.WorkerDefaults[WebhookDeliveryArgs]
	router  Router
	secrets SecretSource
	runner  *workflow.Runner
}

// NewWebhookDeliveryWorker creates a WebhookDeliveryWorker.
func NewWebhookDeliveryWorker(router Router, secrets SecretSource, runner *workflow.Runner) *WebhookDeliveryWorker {
	return &WebhookDeliveryWorker{router: router, secrets: secrets, runner: runner}
}

// Work verifies the delivery signature against the org's secrets, then
// routes the batch. Signature and decode failures cancel the job.
func (w *WebhookDeliveryWorker) Work(ctx context.Context, job *river.Job[WebhookDeliveryArgs]) error {
	args := job.Args
	candidates, err := w.secrets.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("load webhook secrets: %w", err)
	}
	var own []webhook.OrgSecret
	for _, c := range candidates {
		if c.OrgID == args.OrgID {
			own = append(own, c)
		}
	}
	if _, err := webhook.Authenticate(args.Headers, args.Body, own); err != nil {
		logger.Warn("webhook delivery rejected",
			zap.String("org_id", args.OrgID),
			zap.String("webhook_id", args.WebhookID),
			zap.Error(err),
		)
		return river.JobCancel(err)
	}
	batch, err := webhook.ParseBatch(args.Body)
	if err != nil {
		return river.JobCancel(err)
	}

	var res webhook.Result
	err = w.runner.Run(ctx, KindWebhookDelivery, args.Key, workflow.Activity{
		Name: "route",
		Run: func(ctx context.Context) error {
			var rerr error
			res, rerr = w.router.Route(ctx, args.OrgID, batch)
			return rerr
		},
	})
	if err != nil {
		return finish(err)
	}
	logger.Info("webhook delivery processed",
		zap.String("org_id", args.OrgID),
		zap.String("webhook_id", args.WebhookID),
		zap.Int("events", res.Events),
		zap.Int("skipped", res.Skipped),
		zap.Object("result", res.Sync),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Subscription reconcile
// ---------------------------------------------------------------------------

// SubscriptionReconcileWorker reconciles an org's webhook subscriptions.
type SubscriptionReconcileWorker struct {
	river.WorkerDefaults[SubscriptionReconcileArgs]
	reconciler Reconciler
	runner     *workflow.Runner
}

// NewSubscriptionReconcileWorker creates a SubscriptionReconcileWorker.
func NewSubscriptionReconcileWorker(r Reconciler, runner *workflow.Runner) *SubscriptionReconcileWorker {
	return &SubscriptionReconcileWorker{reconciler: r, runner: runner}
}

// Work runs the reconcile.
func (w *SubscriptionReconcileWorker) Work(ctx context.Context, job *river.Job[SubscriptionReconcileArgs]) error {
	var rep subscription.Report
	err := w.runner.Run(ctx, KindSubscriptionReconcile, job.Args.Key, workflow.Activity{
		Name: "reconcile",
		Run: func(ctx context.Context) error {
			var rerr error
			rep, rerr = w.reconciler.Reconcile(ctx, job.Args.OrgID)
			return rerr
		},
	})
	if err != nil {
		return finish(err)
	}
	logger.Info("subscription reconcile completed",
		zap.String("org_id", job.Args.OrgID),
		zap.Strings("created", rep.Created),
		zap.Strings("activated", rep.Activated),
	)
	return nil
}
