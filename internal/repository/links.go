package repository

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"flockbridge.io/flockbridge/internal/domain"
)

var linkColumns = []string{
	"org_id", "adapter", "external_id", "entity_id", "entity_type",
	"created_at", "updated_at", "last_processed_at", "syncing",
}

var linkConflict = entsql.ConflictColumns("org_id", "adapter", "external_id")

// changedSince is true when the incoming updated_at differs from the stored one.
var changedSince = fmt.Sprintf(`%[1]q.%[2]q IS DISTINCT FROM "excluded".%[2]q`, TableExternalLinks, "updated_at")

func buildLinkUpsert(orgID, adapter string, processedAt time.Time, cands []domain.LinkCandidate) *entsql.InsertBuilder {
	ins := builder().Insert(TableExternalLinks).Columns(linkColumns...)
	for _, c := range cands {
		ins.Values(orgID, adapter, c.ExternalID, domain.NewEntityID(c.Tag), c.EntityType,
			processedAt, c.UpdatedAt, processedAt, true)
	}
	return ins.
		OnConflict(linkConflict, entsql.ResolveWith(func(u *entsql.UpdateSet) {
			u.SetExcluded("entity_type")
			u.SetExcluded("updated_at")
			u.Set("last_processed_at", entsql.Expr(fmt.Sprintf(
				`CASE WHEN %s THEN "excluded"."last_processed_at" ELSE %q."last_processed_at" END`,
				changedSince, TableExternalLinks)))
			u.Set("syncing", entsql.Expr(fmt.Sprintf(
				`CASE WHEN %s THEN TRUE ELSE %q."syncing" END`,
				changedSince, TableExternalLinks)))
		})).
		Returning(linkColumns...)
}

func buildPlaceholderInsert(orgID, adapter string, now time.Time, cands []domain.LinkCandidate) *entsql.InsertBuilder {
	ins := builder().Insert(TableExternalLinks).Columns(linkColumns...)
	for _, c := range cands {
		ins.Values(orgID, adapter, c.ExternalID, domain.NewEntityID(c.Tag), c.EntityType,
			now, nil, nil, false)
	}
	return ins.OnConflict(linkConflict, entsql.DoNothing())
}

func linkScope(orgID, adapter string, externalIDs []string) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("org_id", orgID),
		entsql.EQ("adapter", adapter),
		entsql.In("external_id", anys(externalIDs)...),
	)
}

// UpsertLinks implements identity.Store.
func (s *Store) UpsertLinks(ctx context.Context, orgID, adapter string, processedAt time.Time, cands []domain.LinkCandidate) ([]domain.ExternalLink, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	return collect[domain.ExternalLink](ctx, s.pool, "upsert_links", buildLinkUpsert(orgID, adapter, processedAt, cands))
}

// InsertPlaceholders implements identity.Store.
func (s *Store) InsertPlaceholders(ctx context.Context, orgID, adapter string, cands []domain.LinkCandidate) error {
	if len(cands) == 0 {
		return nil
	}
	_, err := exec(ctx, s.pool, "insert_placeholders", buildPlaceholderInsert(orgID, adapter, time.Now().UTC(), cands))
	return err
}

// GetLinks implements identity.Store.
func (s *Store) GetLinks(ctx context.Context, orgID, adapter string, externalIDs []string) ([]domain.ExternalLink, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	q := builder().Select(linkColumns...).
		From(entsql.Table(TableExternalLinks)).
		Where(linkScope(orgID, adapter, externalIDs))
	return collect[domain.ExternalLink](ctx, s.pool, "get_links", q)
}

// DeleteLink implements identity.Store.
func (s *Store) DeleteLink(ctx context.Context, orgID, adapter, externalID string) error {
	q := builder().Delete(TableExternalLinks).Where(linkScope(orgID, adapter, []string{externalID}))
	_, err := exec(ctx, s.pool, "delete_link", q)
	return err
}

// MarkSynced implements identity.Store.
func (s *Store) MarkSynced(ctx context.Context, orgID, adapter string, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	q := builder().Update(TableExternalLinks).
		Set("syncing", false).
		Where(linkScope(orgID, adapter, externalIDs))
	_, err := exec(ctx, s.pool, "mark_synced", q)
	return err
}

// Rewind implements identity.Store.
func (s *Store) Rewind(ctx context.Context, orgID, adapter string, externalIDs []string) error {
	if len(externalIDs) == 0 {
		return nil
	}
	q := builder().Update(TableExternalLinks).
		SetNull("updated_at").
		Set("syncing", false).
		Where(linkScope(orgID, adapter, externalIDs))
	_, err := exec(ctx, s.pool, "rewind_links", q)
	return err
}

// RewindStuck implements identity.Store.
func (s *Store) RewindStuck(ctx context.Context, orgID, adapter string) (int64, error) {
	q := builder().Update(TableExternalLinks).
		SetNull("updated_at").
		Set("syncing", false).
		Where(entsql.And(
			entsql.EQ("org_id", orgID),
			entsql.EQ("adapter", adapter),
			entsql.EQ("syncing", true),
		))
	return exec(ctx, s.pool, "rewind_stuck_links", q)
}
