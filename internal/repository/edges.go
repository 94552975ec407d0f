package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

var edgeColumns = []string{
	"org_id", "source_entity_id", "target_entity_id", "relationship_type",
	"source_entity_type_tag", "target_entity_type_tag", "metadata", "created_at", "updated_at",
}

// registryUnion is the set union of the stored and incoming target type arrays.
var registryUnion = fmt.Sprintf(
	`(SELECT COALESCE(jsonb_agg(DISTINCT t.v ORDER BY t.v), '[]'::jsonb) `+
		`FROM jsonb_array_elements_text(COALESCE(%q."target_entity_types", '[]'::jsonb) || "excluded"."target_entity_types") AS t(v))`,
	TableEntityRelationships)

func buildEdgeUpsert(edges []domain.Edge) (*entsql.InsertBuilder, error) {
	ins := builder().Insert(TableEdges).Columns(edgeColumns...)
	for _, e := range edges {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal edge metadata: %w", err)
		}
		ins.Values(e.OrgID, e.SourceEntityID, e.TargetEntityID, e.RelationshipType,
			e.SourceEntityTypeTag, e.TargetEntityTypeTag, meta, e.CreatedAt, e.UpdatedAt)
	}
	return ins.OnConflict(
		entsql.ConflictColumns("org_id", "source_entity_id", "target_entity_id", "relationship_type"),
		entsql.ResolveWith(func(u *entsql.UpdateSet) {
			u.SetExcluded("source_entity_type_tag")
			u.SetExcluded("target_entity_type_tag")
			u.SetExcluded("metadata")
			u.SetExcluded("updated_at")
		}),
	), nil
}

// buildRegistryFold folds type pairs into entity_relationships as one
// statement, one row per (org, source type).
func buildRegistryFold(pairs map[string][]domain.TypePair, now time.Time) (*entsql.InsertBuilder, error) {
	ins := builder().Insert(TableEntityRelationships).
		Columns("org_id", "source_entity_type", "target_entity_types", "updated_at")

	orgs := make([]string, 0, len(pairs))
	for org := range pairs {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	for _, org := range orgs {
		bySource := make(map[string][]string)
		var sources []string
		for _, p := range pairs[org] {
			if _, ok := bySource[p.SourceEntityType]; !ok {
				sources = append(sources, p.SourceEntityType)
			}
			bySource[p.SourceEntityType] = appendUnique(bySource[p.SourceEntityType], p.TargetEntityType)
		}
		sort.Strings(sources)
		for _, src := range sources {
			targets := bySource[src]
			sort.Strings(targets)
			raw, err := json.Marshal(targets)
			if err != nil {
				return nil, err
			}
			ins.Values(org, src, raw, now)
		}
	}

	return ins.OnConflict(
		entsql.ConflictColumns("org_id", "source_entity_type"),
		entsql.ResolveWith(func(u *entsql.UpdateSet) {
			u.Set("target_entity_types", entsql.Expr(registryUnion))
			u.SetExcluded("updated_at")
		}),
	), nil
}

func buildEdgeDeleteFor(orgID, entityID string) *entsql.DeleteBuilder {
	return builder().Delete(TableEdges).Where(entsql.And(
		entsql.EQ("org_id", orgID),
		entsql.Or(
			entsql.EQ("source_entity_id", entityID),
			entsql.EQ("target_entity_id", entityID),
		),
	))
}

// UpsertEdges writes edges and folds their type pairs into the relationship
// registry in one transaction.
func (s *Store) UpsertEdges(ctx context.Context, edges []domain.Edge) error {
	edges = dedupeEdges(edges)
	if len(edges) == 0 {
		return nil
	}
	upsert, err := buildEdgeUpsert(edges)
	if err != nil {
		return apperrors.ErrStore("upsert_edges", err)
	}
	fold, err := buildRegistryFold(pairsByOrg(edges), time.Now().UTC())
	if err != nil {
		return apperrors.ErrStore("fold_relationships", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := exec(ctx, tx, "upsert_edges", upsert); err != nil {
			return err
		}
		_, err := exec(ctx, tx, "fold_relationships", fold)
		return err
	})
}

// ListRelationships returns the relationship registry rows of an org.
func (s *Store) ListRelationships(ctx context.Context, orgID string) ([]domain.EntityRelationship, error) {
	q := builder().Select("org_id", "source_entity_type", "target_entity_types", "updated_at").
		From(entsql.Table(TableEntityRelationships)).
		Where(entsql.EQ("org_id", orgID)).
		OrderBy("source_entity_type")
	return collect[domain.EntityRelationship](ctx, s.pool, "list_relationships", q)
}

func pairsByOrg(edges []domain.Edge) map[string][]domain.TypePair {
	out := make(map[string][]domain.TypePair)
	for _, e := range edges {
		out[e.OrgID] = append(out[e.OrgID], domain.TypePair{
			SourceEntityType: e.SourceEntityTypeTag,
			TargetEntityType: e.TargetEntityTypeTag,
		})
	}
	return out
}

func dedupeEdges(edges []domain.Edge) []domain.Edge {
	idx := make(map[domain.EdgeKey]int, len(edges))
	out := make([]domain.Edge, 0, len(edges))
	for _, e := range edges {
		k := e.Key()
		if i, ok := idx[k]; ok {
			out[i] = e
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

// ListEdges returns every edge touching entityID.
func (s *Store) ListEdges(ctx context.Context, orgID, entityID string) ([]domain.Edge, error) {
	q := builder().Select(edgeColumns...).
		From(entsql.Table(TableEdges)).
		Where(entsql.And(
			entsql.EQ("org_id", orgID),
			entsql.Or(
				entsql.EQ("source_entity_id", entityID),
				entsql.EQ("target_entity_id", entityID),
			),
		)).
		OrderBy("relationship_type", "source_entity_id", "target_entity_id")
	return collect[domain.Edge](ctx, s.pool, "list_edges", q)
}
