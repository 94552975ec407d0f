package jobs

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/subscription"
	"flockbridge.io/flockbridge/internal/syncer"
	"flockbridge.io/flockbridge/internal/webhook"
	"flockbridge.io/flockbridge/internal/workflow"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "sync-org1", PullSyncKey("org1"))
	assert.Equal(t, "subscriptions-org1", ReconcileKey("org1"))

	k1 := WebhookKey("d1", "org1", []byte(`{"a":1}`))
	k2 := WebhookKey("d1", "org1", []byte(`{"a":2}`))
	assert.True(t, strings.HasPrefix(k1, "webhook-d1-org1-"))
	assert.Len(t, strings.TrimPrefix(k1, "webhook-d1-org1-"), nonceLen)
	assert.NotEqual(t, k1, k2)
	assert.Equal(t, k1, WebhookKey("d1", "org1", []byte(`{"a":1}`)))
}

func TestArgsKinds(t *testing.T) {
	assert.Equal(t, "pco_pull_sync", PullSyncArgs{}.Kind())
	assert.Equal(t, "pco_webhook_delivery", WebhookDeliveryArgs{}.Kind())
	assert.Equal(t, "pco_subscription_reconcile", SubscriptionReconcileArgs{}.Kind())
	assert.True(t, PullSyncArgs{}.InsertOpts().UniqueOpts.ByArgs)
	assert.NotContains(t, PullSyncArgs{}.InsertOpts().UniqueOpts.ByState, rivertype.JobStateCompleted)
	assert.True(t, WebhookDeliveryArgs{}.InsertOpts().UniqueOpts.ByArgs)
}

type fakeInserter struct {
	mu   sync.Mutex
	args []river.JobArgs
	seen map[string]bool
	err  error
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	var key string
	switch a := args.(type) {
	case PullSyncArgs:
		key = a.Key
	case WebhookDeliveryArgs:
		key = a.Key
	case SubscriptionReconcileArgs:
		key = a.Key
	}
	dup := f.seen[key]
	f.seen[key] = true
	f.args = append(f.args, args)
	return &rivertype.JobInsertResult{
		Job:                      &rivertype.JobRow{ID: int64(len(f.args))},
		UniqueSkippedAsDuplicate: dup,
	}, nil
}

func TestEnqueuer(t *testing.T) {
	ins := &fakeInserter{}
	e := NewEnqueuer(ins)
	ctx := context.Background()

	first, err := e.StartPullSync(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, Enqueued{JobID: 1, Key: "sync-org1"}, first)
	again, err := e.StartPullSync(ctx, "org1")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)

	h := http.Header{}
	h.Set(webhook.SignatureHeader, "abc")
	res, err := e.DeliverWebhook(ctx, "org1", "d9", h, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, WebhookKey("d9", "org1", []byte(`{}`)), res.Key)
	args := ins.args[2].(WebhookDeliveryArgs)
	assert.Equal(t, "abc", args.Headers.Get(webhook.SignatureHeader))
	assert.Equal(t, []byte(`{}`), args.Body)

	_, err = e.StartReconcile(ctx, "org1")
	require.NoError(t, err)
	assert.IsType(t, SubscriptionReconcileArgs{}, ins.args[3])

	ins.err = errors.New("connection refused")
	_, err = e.StartPullSync(ctx, "org2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeWorkflowEnqueueFailure))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestPeriodicJobs(t *testing.T) {
	jobs, err := PeriodicJobs("0 */6 * * *", []string{"a", "b"}, true)
	require.NoError(t, err)
	assert.Len(t, jobs, 4)

	jobs, err = PeriodicJobs("", []string{"a"}, false)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = PeriodicJobs("every tuesday", []string{"a"}, false)
	assert.Error(t, err)
}

func TestFinish(t *testing.T) {
	assert.NoError(t, finish(nil))

	transient := apperrors.ErrStore("upsert", errors.New("deadlock"))
	assert.Same(t, transient, finish(transient))

	permanent := apperrors.ErrTransform("Person", "1", errors.New("bad"))
	got := finish(permanent)
	require.Error(t, got)
	assert.NotSame(t, permanent, got)
	assert.ErrorIs(t, got, permanent)
}

type fakeSyncer struct {
	mu       sync.Mutex
	synced   []string
	recovers int
	fail     map[string]error
}

func (f *fakeSyncer) Types() []string { return []string{"Campus", "Person"} }

func (f *fakeSyncer) Recover(context.Context, string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
	return 0, nil
}

func (f *fakeSyncer) SyncEntityType(_ context.Context, _, entityType string) (syncer.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, entityType)
	if err := f.fail[entityType]; err != nil {
		return syncer.SyncResult{Pages: 1}, err
	}
	return syncer.SyncResult{Pages: 1, Entities: 2}, nil
}

func pullJob(org string) *river.Job[PullSyncArgs] {
	return &river.Job[PullSyncArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   PullSyncArgs{OrgID: org, Key: PullSyncKey(org)},
	}
}

func TestPullSyncWorker(t *testing.T) {
	s := &fakeSyncer{}
	w := NewPullSyncWorker(s, workflow.NewRunner(1, 0))
	require.NoError(t, w.Work(context.Background(), pullJob("org")))
	assert.Equal(t, []string{"Campus", "Person"}, s.synced)
	assert.Equal(t, 1, s.recovers)
}

func TestPullSyncWorker_FailureCompensates(t *testing.T) {
	transient := apperrors.ErrFetch("list", 503, errors.New("unavailable"))
	s := &fakeSyncer{fail: map[string]error{"Campus": transient}}
	w := NewPullSyncWorker(s, workflow.NewRunner(1, 0))

	err := w.Work(context.Background(), pullJob("org"))
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, []string{"Campus"}, s.synced, "later types wait for the retry")
	assert.Equal(t, 2, s.recovers, "recover step plus compensation")
}

type fakeRouter struct {
	batches []webhook.Batch
	err     error
}

func (f *fakeRouter) Route(_ context.Context, _ string, b webhook.Batch) (webhook.Result, error) {
	f.batches = append(f.batches, b)
	return webhook.Result{Events: len(b.Data)}, f.err
}

func deliveryJob(org string, headers http.Header, body []byte) *river.Job[WebhookDeliveryArgs] {
	return &river.Job[WebhookDeliveryArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   WebhookDeliveryArgs{OrgID: org, WebhookID: "d1", Key: WebhookKey("d1", org, body), Headers: headers, Body: body},
	}
}

func TestWebhookDeliveryWorker(t *testing.T) {
	body := []byte(`{"data":[{"id":"d1","type":"EventDelivery","attributes":{"name":"x","payload":"{}"}}]}`)
	h := http.Header{}
	h.Set(webhook.SignatureHeader, webhook.SignHex("org-secret", body))
	secrets := webhook.NewSecrets(map[string][]string{"org": {"org-secret"}, "other": {"other-secret"}}, nil)

	r := &fakeRouter{}
	w := NewWebhookDeliveryWorker(r, secrets, workflow.NewRunner(1, 0))
	require.NoError(t, w.Work(context.Background(), deliveryJob("org", h, body)))
	require.Len(t, r.batches, 1)
	assert.Equal(t, "x", r.batches[0].Data[0].Attributes.Name)

	// Signed for org but delivered as another org's job.
	err := w.Work(context.Background(), deliveryJob("other", h, body))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeWebhookAuth))
	assert.Len(t, r.batches, 1)
}

func TestWebhookDeliveryWorker_RouteFailure(t *testing.T) {
	body := []byte(`{"data":[]}`)
	h := http.Header{}
	h.Set(webhook.SignatureHeader, webhook.SignHex("s", body))
	cause := apperrors.ErrWebhookProcessing(apperrors.ErrStore("upsert", errors.New("deadlock")))
	r := &fakeRouter{err: cause}
	w := NewWebhookDeliveryWorker(r, webhook.NewSecrets(map[string][]string{"org": {"s"}}, nil), workflow.NewRunner(1, 0))

	err := w.Work(context.Background(), deliveryJob("org", h, body))
	assert.ErrorIs(t, err, cause)
	assert.True(t, apperrors.IsRetryable(err))
}

type fakeReconciler struct{ orgs []string }

func (f *fakeReconciler) Reconcile(_ context.Context, org string) (subscription.Report, error) {
	f.orgs = append(f.orgs, org)
	return subscription.Report{Created: []string{"a"}}, nil
}

func TestSubscriptionReconcileWorker(t *testing.T) {
	r := &fakeReconciler{}
	w := NewSubscriptionReconcileWorker(r, workflow.NewRunner(1, 0))
	job := &river.Job[SubscriptionReconcileArgs]{
		JobRow: &rivertype.JobRow{Attempt: 1},
		Args:   SubscriptionReconcileArgs{OrgID: "org", Key: ReconcileKey("org")},
	}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, []string{"org"}, r.orgs)
}
