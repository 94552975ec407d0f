package webhook

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/syncer"
	"flockbridge.io/flockbridge/internal/transform"
)

// Syncer is the sync surface the router dispatches to.
type Syncer interface {
	SyncEntityID(ctx context.Context, orgID, entityType, externalID string, fallback *domain.Document) (syncer.SyncResult, error)
	ProcessBatch(ctx context.Context, orgID string, entities []domain.ExternalEntity) (syncer.SyncResult, error)
	Remove(ctx context.Context, orgID, entityType, externalID string) error
}

// Result summarizes one routed batch.
type Result struct {
	Events  int
	Skipped int
	Sync    syncer.SyncResult
}

// Router dispatches webhook events to the syncer.
type Router struct {
	defs  map[string]domain.WebhookDefinition
	types *transform.Registry
	sync  Syncer
}

// NewRouter creates a Router over the adapter's webhook definitions.
func NewRouter(defs map[string]domain.WebhookDefinition, types *transform.Registry, sync Syncer) *Router {
	return &Router{defs: defs, types: types, sync: sync}
}

// Route processes events in order and stops at the first failing event. The
// returned error is always WEBHOOK_PROCESSING_ERROR; retryability follows
// the cause.
func (r *Router) Route(ctx context.Context, orgID string, batch Batch) (Result, error) {
	var res Result
	for _, ev := range batch.Data {
		if err := ctx.Err(); err != nil {
			return res, apperrors.ErrWebhookProcessing(err)
		}
		def, ok := r.defs[ev.Attributes.Name]
		if !ok {
			logger.Info("Unsupported webhook event skipped",
				zap.String("org_id", orgID),
				zap.String("event", ev.Attributes.Name),
				zap.String("delivery_id", ev.ID),
			)
			res.Skipped++
			continue
		}

		sr, err := r.dispatch(ctx, orgID, ev, def)
		res.Sync.Add(sr)
		if err != nil {
			logger.Error("Webhook event failed",
				zap.String("adapter", r.types.Source()),
				zap.String("org_id", orgID),
				zap.String("event", def.EventType),
				zap.String("entity_type", def.EntityType),
				zap.String("delivery_id", ev.ID),
				zap.Error(err),
			)
			return res, apperrors.ErrWebhookProcessing(fmt.Errorf("%s: %w", def.EventType, err))
		}
		res.Events++
	}
	return res, nil
}

func (r *Router) dispatch(ctx context.Context, orgID string, ev Event, def domain.WebhookDefinition) (syncer.SyncResult, error) {
	doc, err := decodePayload(ev.Attributes, def.Schema)
	if err != nil {
		return syncer.SyncResult{}, err
	}

	switch def.Operation {
	case domain.WebhookUpsert:
		id, err := def.ExtractEntityID(doc)
		if err != nil {
			return syncer.SyncResult{}, err
		}
		typeDef, err := r.types.Lookup(def.EntityType)
		if err != nil {
			return syncer.SyncResult{}, err
		}
		if typeDef.InjectDeliveryID {
			// A refetch would drop the delivery id, so the payload is ingested as is.
			doc.Data.Attributes = transform.InjectDeliveryID(doc.Data.Attributes, ev.ID)
			return r.sync.ProcessBatch(ctx, orgID, doc.Entities())
		}
		return r.sync.SyncEntityID(ctx, orgID, def.EntityType, id, &doc)

	case domain.WebhookDelete:
		id, err := def.ExtractEntityID(doc)
		if err != nil {
			return syncer.SyncResult{}, err
		}
		return syncer.SyncResult{}, r.sync.Remove(ctx, orgID, def.EntityType, id)

	case domain.WebhookMerge:
		ids, err := def.ExtractMergeIDs(doc)
		if err != nil {
			return syncer.SyncResult{}, err
		}
		res, err := r.sync.SyncEntityID(ctx, orgID, def.EntityType, ids.KeepID, nil)
		if err != nil {
			return res, err
		}
		return res, r.sync.Remove(ctx, orgID, def.EntityType, ids.RemoveID)

	default:
		return syncer.SyncResult{}, fmt.Errorf("unknown webhook operation %q", def.Operation)
	}
}

// Handle authenticates and routes one raw delivery.
func (r *Router) Handle(ctx context.Context, headers map[string][]string, body []byte, secrets []OrgSecret) (string, Result, error) {
	orgID, err := Authenticate(headers, body, secrets)
	if err != nil {
		return "", Result{}, err
	}
	batch, err := ParseBatch(body)
	if err != nil {
		return orgID, Result{}, err
	}
	res, err := r.Route(ctx, orgID, batch)
	return orgID, res, err
}
