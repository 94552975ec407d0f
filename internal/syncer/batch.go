package syncer

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/pkg/worker"
	"flockbridge.io/flockbridge/internal/transform"
)

// SyncResult counts the work done by a sync call.
type SyncResult struct {
	Pages    int `json:"pages"`
	Entities int `json:"entities"`
	Changed  int `json:"changed"`
	Skipped  int `json:"skipped"`
	Edges    int `json:"edges"`
}

// Add accumulates other into r.
func (r *SyncResult) Add(other SyncResult) {
	r.Pages += other.Pages
	r.Entities += other.Entities
	r.Changed += other.Changed
	r.Skipped += other.Skipped
	r.Edges += other.Edges
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r SyncResult) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("pages", r.Pages)
	enc.AddInt("entities", r.Entities)
	enc.AddInt("changed", r.Changed)
	enc.AddInt("skipped", r.Skipped)
	enc.AddInt("edges", r.Edges)
	return nil
}

type transformed struct {
	entity domain.ExternalEntity
	result *transform.Result
}

// ProcessBatch ingests a set of provider entities: transforms fan out on the
// pool, links gate unchanged records, changed rows are upserted per type,
// and edges are extracted from every entity that transformed.
//
// A failed transform skips only that entity. A failed entity write rewinds
// the affected links and is returned.
func (s *Syncer) ProcessBatch(ctx context.Context, orgID string, entities []domain.ExternalEntity) (SyncResult, error) {
	entities = dedupeEntities(entities)
	res := SyncResult{Entities: len(entities)}
	if len(entities) == 0 {
		return res, nil
	}

	ok, err := s.transformAll(ctx, entities)
	if err != nil {
		return res, err
	}
	res.Skipped = len(entities) - len(ok)
	if len(ok) == 0 {
		return res, nil
	}

	cands := make([]domain.LinkCandidate, len(ok))
	for i, t := range ok {
		cands[i] = domain.LinkCandidate{
			ExternalID: t.entity.ID,
			EntityType: t.result.Definition.Name,
			Tag:        t.result.Definition.Tag,
			UpdatedAt:  t.result.Audit.UpdatedAt,
		}
	}
	changed, err := s.links.UpsertLinks(ctx, orgID, cands)
	if err != nil {
		return res, err
	}
	res.Changed = len(changed)

	if err := s.writeChanged(ctx, orgID, ok, changed); err != nil {
		return res, err
	}

	sources := make([]domain.ExternalEntity, len(ok))
	for i, t := range ok {
		sources[i] = t.entity
	}
	edges, err := s.extractor.Extract(ctx, orgID, sources)
	if err != nil {
		return res, err
	}
	if err := s.store.UpsertEdges(ctx, edges); err != nil {
		return res, err
	}
	res.Edges = len(edges)
	return res, nil
}

// transformAll runs every transform on the pool and returns the successes in
// input order.
func (s *Syncer) transformAll(ctx context.Context, entities []domain.ExternalEntity) ([]transformed, error) {
	results := make([]*transform.Result, len(entities))
	g := worker.NewGroup(ctx, s.pool)
	for i := range entities {
		g.Go(func(context.Context) error {
			e := entities[i]
			r, err := s.types.Transform(e.Type, e.ID, e.Attributes)
			if err != nil {
				logger.Warn("Entity skipped",
					zap.String("adapter", s.Adapter()),
					zap.String("entity_type", e.Type),
					zap.String("entity_id", e.ID),
					zap.Error(err),
				)
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]transformed, 0, len(entities))
	for i, r := range results {
		if r != nil {
			out = append(out, transformed{entity: entities[i], result: r})
		}
	}
	return out, nil
}

// writeChanged upserts the rows whose links changed, one statement per type.
// Successful types clear their links' syncing flag; failed types rewind them.
func (s *Syncer) writeChanged(ctx context.Context, orgID string, ok []transformed, changed []domain.ExternalLink) error {
	if len(changed) == 0 {
		return nil
	}
	byID := make(map[string]domain.ExternalLink, len(changed))
	for _, l := range changed {
		byID[l.ExternalID] = l
	}

	now := s.now().UTC()
	type group struct {
		def  *transform.TypeDefinition
		rows []domain.CanonicalEntity
		ids  []string
	}
	var order []string
	groups := make(map[string]*group)
	for _, t := range ok {
		link, hit := byID[t.entity.ID]
		if !hit {
			continue
		}
		def := t.result.Definition
		g, seen := groups[def.Name]
		if !seen {
			g = &group{def: def}
			groups[def.Name] = g
			order = append(order, def.Name)
		}
		g.rows = append(g.rows, t.result.Canonical(link.EntityID, orgID, now))
		g.ids = append(g.ids, t.entity.ID)
	}

	var errs []error
	for _, name := range order {
		g := groups[name]
		if err := s.store.UpsertEntities(ctx, g.def, g.rows); err != nil {
			logger.Error("Entity upsert failed, rewinding links",
				zap.String("adapter", s.Adapter()),
				zap.String("org_id", orgID),
				zap.String("entity_type", name),
				zap.Int("rows", len(g.rows)),
				zap.Error(err),
			)
			if rerr := s.links.Rewind(ctx, orgID, g.ids); rerr != nil {
				logger.Error("Link rewind failed",
					zap.String("org_id", orgID),
					zap.String("entity_type", name),
					zap.Error(rerr),
				)
			}
			errs = append(errs, err)
			continue
		}
		if err := s.links.MarkSynced(ctx, orgID, g.ids); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrs(errs)
}

// dedupeEntities keeps the first occurrence of each provider id. Page data
// precedes side-loaded entities, so root records win.
func dedupeEntities(entities []domain.ExternalEntity) []domain.ExternalEntity {
	seen := make(map[string]struct{}, len(entities))
	out := make([]domain.ExternalEntity, 0, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		k := e.Type + "/" + e.ID
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
