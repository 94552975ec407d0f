package jobs

import (
	"context"
	"net/http"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
)

// Inserter is the part of the River client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueued describes an accepted trigger.
type Enqueued struct {
	JobID     int64  `json:"job_id"`
	Key       string `json:"key"`
	Duplicate bool   `json:"duplicate"`
}

// Enqueuer is the trigger surface for workflows. Calls with the same
// idempotency key collapse into one job.
type Enqueuer struct {
	client Inserter
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(client Inserter) *Enqueuer {
	return &Enqueuer{client: client}
}

// StartPullSync enqueues a pull sync of org.
func (e *Enqueuer) StartPullSync(ctx context.Context, orgID string) (Enqueued, error) {
	return e.insert(ctx, PullSyncArgs{OrgID: orgID, Key: PullSyncKey(orgID)}, PullSyncKey(orgID))
}

// DeliverWebhook enqueues one raw webhook delivery for org.
func (e *Enqueuer) DeliverWebhook(ctx context.Context, orgID, webhookID string, headers http.Header, body []byte) (Enqueued, error) {
	key := WebhookKey(webhookID, orgID, body)
	return e.insert(ctx, WebhookDeliveryArgs{
		OrgID:     orgID,
		WebhookID: webhookID,
		Key:       key,
		Headers:   headers.Clone(),
		Body:      body,
	}, key)
}

// StartReconcile enqueues a subscription reconcile of org.
func (e *Enqueuer) StartReconcile(ctx context.Context, orgID string) (Enqueued, error) {
	return e.insert(ctx, SubscriptionReconcileArgs{OrgID: orgID, Key: ReconcileKey(orgID)}, ReconcileKey(orgID))
}

func (e *Enqueuer) insert(ctx context.Context, args river.JobArgs, key string) (Enqueued, error) {
	res, err := e.client.Insert(ctx, args, nil)
	if err != nil {
		return Enqueued{}, apperrors.Wrap(err, apperrors.CodeWorkflowEnqueueFailure, "failed to enqueue workflow", http.StatusServiceUnavailable).
			WithParams(map[string]interface{}{"kind": args.Kind(), "key": key}).
			AsRetryable()
	}
	out := Enqueued{Key: key, Duplicate: res.UniqueSkippedAsDuplicate}
	if res.Job != nil {
		out.JobID = res.Job.ID
	}
	logger.Debug("workflow enqueued",
		zap.String("kind", args.Kind()),
		zap.String("key", key),
		zap.Int64("job_id", out.JobID),
		zap.Bool("duplicate", out.Duplicate),
	)
	return out, nil
}
