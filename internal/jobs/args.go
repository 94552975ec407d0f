// Package jobs defines the River job kinds and workers that run sync
// workflows.
package jobs

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"golang.org/x/crypto/blake2b"
)

// Job kinds.
const (
	KindPullSync              = "pco_pull_sync"
	KindWebhookDelivery       = "pco_webhook_delivery"
	KindSubscriptionReconcile = "pco_subscription_reconcile"
)

// nonceLen is the hex length of the body digest in webhook keys.
const nonceLen = 16

// liveStates dedupes against jobs that have not finished, so a key can run
// again once its previous job completed.
var liveStates = []rivertype.JobState{
	rivertype.JobStateAvailable,
	rivertype.JobStatePending,
	rivertype.JobStateRetryable,
	rivertype.JobStateRunning,
	rivertype.JobStateScheduled,
}

// PullSyncKey is the idempotency key of an org's pull sync.
func PullSyncKey(orgID string) string { return "sync-" + orgID }

// ReconcileKey is the idempotency key of an org's subscription reconcile.
func ReconcileKey(orgID string) string { return "subscriptions-" + orgID }

// WebhookKey is the idempotency key of one delivery. The body nonce keeps
// distinct deliveries that share a webhook id apart; a redelivered identical
// body maps to the same key.
func WebhookKey(webhookID, orgID string, body []byte) string {
	return fmt.Sprintf("webhook-%s-%s-%s", webhookID, orgID, Nonce(body))
}

// Nonce is a short blake2b-256 digest of body.
func Nonce(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])[:nonceLen]
}

// ---------------------------------------------------------------------------
// Job Args
// ---------------------------------------------------------------------------

// PullSyncArgs requests a full pull sync of one org.
type PullSyncArgs struct {
	OrgID string `json:"org_id"`
	Key   string `json:"key" river:"unique"`
}

// Kind returns the job kind identifier for pull sync.
func (PullSyncArgs) Kind() string { return KindPullSync }

// InsertOpts allows one live pull sync per org.
func (PullSyncArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: liveStates,
		},
	}
}

// WebhookDeliveryArgs carries one raw webhook delivery.
type WebhookDeliveryArgs struct {
	OrgID     string      `json:"org_id"`
	WebhookID string      `json:"webhook_id"`
	Key       string      `json:"key" river:"unique"`
	Headers   http.Header `json:"headers"`
	Body      []byte      `json:"body"`
}

// Kind returns the job kind identifier for webhook delivery.
func (WebhookDeliveryArgs) Kind() string { return KindWebhookDelivery }

// InsertOpts dedupes redelivered bodies for a day, finished jobs included.
func (WebhookDeliveryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 5,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: 24 * time.Hour,
		},
	}
}

// SubscriptionReconcileArgs requests a webhook subscription reconcile.
type SubscriptionReconcileArgs struct {
	OrgID string `json:"org_id"`
	Key   string `json:"key" river:"unique"`
}

// Kind returns the job kind identifier for subscription reconcile.
func (SubscriptionReconcileArgs) Kind() string { return KindSubscriptionReconcile }

// InsertOpts allows one live reconcile per org.
func (SubscriptionReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: liveStates,
		},
	}
}
