// Package subscription keeps the provider's webhook subscriptions in line
// with the events the adapter supports.
package subscription

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/syncer"
)

// CallbackPath is where the provider delivers webhooks.
const CallbackPath = "/webhooks/pco"

// ResourceType is the provider type of a subscription.
const ResourceType = "WebhookSubscription"

// Status of one supported event name at the provider.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusUnset    Status = "unset"
)

// Ingester runs provider entities through the sync pipeline.
type Ingester interface {
	ProcessBatch(ctx context.Context, orgID string, entities []domain.ExternalEntity) (syncer.SyncResult, error)
}

// Report lists what a reconcile run did, by event name.
type Report struct {
	Created   []string `json:"created"`
	Activated []string `json:"activated"`
	Unchanged []string `json:"unchanged"`
}

// Changed reports whether the run touched the provider.
func (r Report) Changed() bool {
	return len(r.Created) > 0 || len(r.Activated) > 0
}

// Reconciler drives supported event names to the active state.
type Reconciler struct {
	client      provider.Client
	ingest      Ingester
	path        string
	callbackURL string
	names       []string
	pageSize    int
}

// NewReconciler creates a Reconciler. path is the provider's subscription
// collection and callbackBase the public base URL of this deployment.
func NewReconciler(client provider.Client, ingest Ingester, path, callbackBase string, names []string) *Reconciler {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return &Reconciler{
		client:      client,
		ingest:      ingest,
		path:        path,
		callbackURL: CallbackURL(callbackBase),
		names:       sorted,
		pageSize:    100,
	}
}

// CallbackURL joins base and CallbackPath.
func CallbackURL(base string) string {
	return strings.TrimRight(base, "/") + CallbackPath
}

type remote struct {
	id     string
	status Status
}

// Statuses reports the status of every supported name. Only subscriptions
// pointing at this deployment's callback URL count.
func (r *Reconciler) Statuses(ctx context.Context, orgID string) (map[string]Status, error) {
	found, err := r.scan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Status, len(r.names))
	for _, name := range r.names {
		out[name] = found[name].statusOrUnset()
	}
	return out, nil
}

func (rm remote) statusOrUnset() Status {
	if rm.status == "" {
		return StatusUnset
	}
	return rm.status
}

// scan lists every subscription page by page.
func (r *Reconciler) scan(ctx context.Context, orgID string) (map[string]remote, error) {
	found := make(map[string]remote)
	params := map[string]string{"per_page": fmt.Sprint(r.pageSize)}
	offset := -1
	for {
		page, err := r.client.List(ctx, orgID, r.path, params)
		if err != nil {
			return nil, apperrors.ErrSubscription("list", err)
		}
		for _, e := range page.Data {
			name, _ := e.Attributes["name"].(string)
			url, _ := e.Attributes["url"].(string)
			if name == "" || url != r.callbackURL {
				continue
			}
			st := StatusInactive
			if active, _ := e.Attributes["active"].(bool); active {
				st = StatusActive
			}
			// An active duplicate wins over an inactive one.
			if prev, ok := found[name]; ok && prev.status == StatusActive {
				continue
			}
			found[name] = remote{id: e.ID, status: st}
		}
		next := page.Meta.Next
		if next == nil || next.Offset <= offset {
			return found, nil
		}
		offset = next.Offset
		params["offset"] = fmt.Sprint(next.Offset)
	}
}

// Reconcile activates inactive subscriptions and creates missing ones. A
// created subscription is ingested from the create response. Running it
// again right after makes no create or update calls.
func (r *Reconciler) Reconcile(ctx context.Context, orgID string) (Report, error) {
	var rep Report
	found, err := r.scan(ctx, orgID)
	if err != nil {
		return rep, err
	}

	for _, name := range r.names {
		rm := found[name]
		switch rm.statusOrUnset() {
		case StatusActive:
			rep.Unchanged = append(rep.Unchanged, name)

		case StatusInactive:
			res := provider.Resource{Type: ResourceType, ID: rm.id, Attributes: map[string]any{"active": true}}
			if _, err := r.client.Update(ctx, orgID, r.path+"/"+rm.id, res); err != nil {
				return rep, apperrors.ErrSubscription(name, err)
			}
			logger.Info("Webhook subscription activated",
				zap.String("org_id", orgID),
				zap.String("subscription", name),
				zap.String("subscription_id", rm.id),
			)
			rep.Activated = append(rep.Activated, name)

		case StatusUnset:
			res := provider.Resource{Type: ResourceType, Attributes: map[string]any{
				"name":   name,
				"url":    r.callbackURL,
				"active": true,
			}}
			doc, err := r.client.Create(ctx, orgID, r.path, res)
			if err != nil {
				return rep, apperrors.ErrSubscription(name, err)
			}
			if r.ingest != nil && doc != nil {
				if _, err := r.ingest.ProcessBatch(ctx, orgID, doc.Entities()); err != nil {
					return rep, apperrors.ErrSubscription(name, err)
				}
			}
			logger.Info("Webhook subscription created",
				zap.String("org_id", orgID),
				zap.String("subscription", name),
			)
			rep.Created = append(rep.Created, name)
		}
	}
	return rep, nil
}
