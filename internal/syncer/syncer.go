// Package syncer is the pull side of the engine: it pages through provider
// collections, refetches single entities and pushes every batch through
// transform, identity, entity store and edge extraction.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/provider"
	"flockbridge.io/flockbridge/internal/relationship"
	"flockbridge.io/flockbridge/internal/transform"
)

// Store is the entity and edge persistence the syncer writes to.
type Store interface {
	UpsertEntities(ctx context.Context, def *transform.TypeDefinition, rows []domain.CanonicalEntity) error
	DeleteEntity(ctx context.Context, def *transform.TypeDefinition, orgID, entityID string) error
	UpsertEdges(ctx context.Context, edges []domain.Edge) error
}

// Links is the identity registry surface the syncer needs.
type Links interface {
	relationship.Links
	UpsertLinks(ctx context.Context, orgID string, cands []domain.LinkCandidate) ([]domain.ExternalLink, error)
	Resolve(ctx context.Context, orgID, externalID string) (domain.ExternalLink, bool, error)
	DeleteLink(ctx context.Context, orgID, externalID string) error
	MarkSynced(ctx context.Context, orgID string, externalIDs []string) error
	Rewind(ctx context.Context, orgID string, externalIDs []string) error
	RewindStuck(ctx context.Context, orgID string) (int64, error)
}

// Syncer runs pull synchronization for one adapter.
type Syncer struct {
	client    provider.Client
	types     *transform.Registry
	links     Links
	store     Store
	extractor *relationship.Extractor
	pool      *worker.Pool
	now       func() time.Time
}

// New creates a Syncer. Per-entity transforms fan out on pool.
func New(client provider.Client, types *transform.Registry, links Links, store Store, pool *worker.Pool) *Syncer {
	return &Syncer{
		client:    client,
		types:     types,
		links:     links,
		store:     store,
		extractor: relationship.NewExtractor(types, links),
		pool:      pool,
		now:       time.Now,
	}
}

// Adapter returns the adapter name the syncer writes as.
func (s *Syncer) Adapter() string {
	return s.types.Source()
}

// Types returns the pull-synced type names in registration order.
func (s *Syncer) Types() []string {
	var out []string
	for _, name := range s.types.Types() {
		def, err := s.types.Lookup(name)
		if err == nil && !def.Endpoint.SkipSync && def.Endpoint.ListPath != "" {
			out = append(out, name)
		}
	}
	return out
}

// SyncEntityType pulls every page of one type. Pages are fetched
// sequentially; a fetch failure aborts the type and is returned for retry.
func (s *Syncer) SyncEntityType(ctx context.Context, orgID, entityType string) (SyncResult, error) {
	var total SyncResult
	def, err := s.types.Lookup(entityType)
	if err != nil {
		return total, err
	}
	if def.Endpoint.SkipSync || def.Endpoint.ListPath == "" {
		logger.Debug("Type is not pull-synced",
			zap.String("adapter", s.Adapter()),
			zap.String("entity_type", entityType),
		)
		return total, nil
	}

	params := make(map[string]string, len(def.Endpoint.Params)+1)
	for k, v := range def.Endpoint.Params {
		params[k] = v
	}
	offset := -1
	for {
		page, err := s.client.List(ctx, orgID, def.Endpoint.ListPath, params)
		if err != nil {
			logger.Error("List page failed",
				zap.String("adapter", s.Adapter()),
				zap.String("org_id", orgID),
				zap.String("entity_type", entityType),
				zap.Int("pages", total.Pages),
				zap.Error(err),
			)
			return total, err
		}
		total.Pages++

		batch, err := s.ProcessBatch(ctx, orgID, page.Entities())
		total.Add(batch)
		if err != nil {
			return total, err
		}

		next := page.Meta.Next
		if next == nil {
			break
		}
		if next.Offset <= offset {
			logger.Warn("Provider pagination did not advance, stopping",
				zap.String("org_id", orgID),
				zap.String("entity_type", entityType),
				zap.Int("offset", next.Offset),
			)
			break
		}
		offset = next.Offset
		params["offset"] = fmt.Sprint(next.Offset)
	}

	logger.Info("Entity type synced",
		zap.String("adapter", s.Adapter()),
		zap.String("org_id", orgID),
		zap.String("entity_type", entityType),
		zap.Object("result", total),
	)
	return total, nil
}

// SyncEntityID refetches one entity. When the fetch fails and fallback is
// given (typically a webhook payload), the fallback document is ingested
// instead.
func (s *Syncer) SyncEntityID(ctx context.Context, orgID, entityType, externalID string, fallback *domain.Document) (SyncResult, error) {
	def, err := s.types.Lookup(entityType)
	if err != nil {
		return SyncResult{}, err
	}

	var entities []domain.ExternalEntity
	doc, fetchErr := s.fetch(ctx, orgID, def, externalID)
	switch {
	case fetchErr == nil:
		entities = doc.Entities()
	case fallback != nil:
		logger.Warn("Entity fetch failed, using supplied payload",
			zap.String("adapter", s.Adapter()),
			zap.String("org_id", orgID),
			zap.String("entity_type", entityType),
			zap.String("entity_id", externalID),
			zap.Error(fetchErr),
		)
		entities = fallback.Entities()
	default:
		return SyncResult{}, fetchErr
	}

	res, err := s.ProcessBatch(ctx, orgID, entities)
	res.Pages = 1
	return res, err
}

func (s *Syncer) fetch(ctx context.Context, orgID string, def *transform.TypeDefinition, externalID string) (*domain.Document, error) {
	if def.Endpoint.GetPath == "" {
		return nil, fmt.Errorf("type %s has no get path", def.Name)
	}
	var params map[string]string
	if inc, ok := def.Endpoint.Params["include"]; ok {
		params = map[string]string{"include": inc}
	}
	return s.client.Get(ctx, orgID, fmt.Sprintf(def.Endpoint.GetPath, url.PathEscape(externalID)), params)
}

// SyncAll pulls every synced type in order. It stops at the first failing type.
func (s *Syncer) SyncAll(ctx context.Context, orgID string) (SyncResult, error) {
	var total SyncResult
	if _, err := s.Recover(ctx, orgID); err != nil {
		return total, err
	}
	for _, name := range s.Types() {
		res, err := s.SyncEntityType(ctx, orgID, name)
		total.Add(res)
		if err != nil {
			return total, fmt.Errorf("sync %s: %w", name, err)
		}
	}
	return total, nil
}

// Recover reopens the change gate for links left syncing by an interrupted run.
func (s *Syncer) Recover(ctx context.Context, orgID string) (int64, error) {
	n, err := s.links.RewindStuck(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warn("Rewound links left syncing",
			zap.String("adapter", s.Adapter()),
			zap.String("org_id", orgID),
			zap.Int64("links", n),
		)
	}
	return n, nil
}

// Remove deletes the canonical entity behind a provider id, its edges and
// its link. Unknown ids are a no-op.
func (s *Syncer) Remove(ctx context.Context, orgID, entityType, externalID string) error {
	def, err := s.types.Lookup(entityType)
	if err != nil {
		return err
	}
	link, ok, err := s.links.Resolve(ctx, orgID, externalID)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("Remove of unknown entity ignored",
			zap.String("org_id", orgID),
			zap.String("entity_type", entityType),
			zap.String("entity_id", externalID),
		)
		return nil
	}
	if link.EntityType != "" && link.EntityType != def.Name {
		if linked, err := s.types.Lookup(link.EntityType); err == nil {
			def = linked
		}
	}
	if err := s.store.DeleteEntity(ctx, def, orgID, link.EntityID); err != nil {
		return err
	}
	return s.links.DeleteLink(ctx, orgID, externalID)
}

// joinErrs joins non-nil errors.
func joinErrs(errs []error) error {
	return errors.Join(errs...)
}
