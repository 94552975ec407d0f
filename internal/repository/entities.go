package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/transform"
)

// Columns every canonical entity table carries.
var entityBaseColumns = []string{
	"id", "org_id", "_tag", "created_at", "updated_at", "deleted_at", "inactivated_at", "custom_fields",
}

// Columns an upsert never overwrites. custom_fields is merged instead.
var entityImmutable = map[string]struct{}{
	"id": {}, "org_id": {}, "_tag": {}, "custom_fields": {},
}

// customFieldsMerge keeps entries owned by other sources and replaces this
// adapter's entries with the incoming set, in one expression over both arrays.
// The incoming array only ever holds this adapter's entries.
func customFieldsMerge(table, adapter string) string {
	return fmt.Sprintf(
		`COALESCE((SELECT jsonb_agg(elem) FROM jsonb_array_elements(COALESCE(%[1]q."custom_fields", '[]'::jsonb)) AS elem `+
			`WHERE elem->>'source' IS DISTINCT FROM '%[2]s'), '[]'::jsonb) || COALESCE("excluded"."custom_fields", '[]'::jsonb)`,
		table, adapter)
}

func buildEntityUpsert(def *transform.TypeDefinition, adapter string, rows []domain.CanonicalEntity) (*entsql.InsertBuilder, error) {
	if err := checkIdent(def.Table); err != nil {
		return nil, err
	}
	columns := make([]string, 0, len(entityBaseColumns)+len(def.Columns))
	columns = append(columns, entityBaseColumns...)
	for _, c := range def.Columns {
		if err := checkIdent(c); err != nil {
			return nil, err
		}
		columns = append(columns, c)
	}

	ins := builder().Insert(def.Table).Columns(columns...)
	for _, row := range rows {
		cf, err := json.Marshal(domain.FieldsFrom(row.CustomFields, adapter))
		if err != nil {
			return nil, fmt.Errorf("marshal custom_fields for %s: %w", row.ID, err)
		}

		values := make([]any, 0, len(columns))
		values = append(values, row.ID, row.OrgID, def.Tag, row.CreatedAt, row.UpdatedAt,
			row.DeletedAt, row.InactivatedAt, cf)
		for _, c := range def.Columns {
			v, err := columnValue(row.Attributes[c])
			if err != nil {
				return nil, fmt.Errorf("column %s for %s: %w", c, row.ID, err)
			}
			values = append(values, v)
		}
		ins.Values(values...)

		for k := range row.Attributes {
			if !def.HasColumn(k) {
				logger.Debug("Dropping attribute without column",
					zap.String("entity_type", def.Name),
					zap.String("entity_id", row.ID),
					zap.String("attribute", k),
				)
			}
		}
	}

	merge := customFieldsMerge(def.Table, adapter)
	return ins.OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWith(func(u *entsql.UpdateSet) {
		for _, c := range columns {
			if _, ok := entityImmutable[c]; ok {
				continue
			}
			u.SetExcluded(c)
		}
		u.Set("custom_fields", entsql.Expr(merge))
	})), nil
}

// columnValue converts an attribute into a pgx argument. Pointers are
// dereferenced; maps and slices become JSON.
func columnValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte, string, bool, int, int32, int64, float64, time.Time:
		return t, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return columnValue(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		if rv.Kind() != reflect.Struct && rv.Kind() != reflect.Array && rv.IsNil() {
			return nil, nil
		}
		return json.Marshal(v)
	default:
		return v, nil
	}
}

// UpsertEntities batch-upserts canonical rows of one type. Duplicate ids keep
// the last row.
func (s *Store) UpsertEntities(ctx context.Context, def *transform.TypeDefinition, rows []domain.CanonicalEntity) error {
	rows = dedupeEntities(rows)
	if len(rows) == 0 {
		return nil
	}
	ins, err := buildEntityUpsert(def, s.adapter, rows)
	if err != nil {
		return apperrors.ErrStore("upsert_entities", err)
	}
	_, err = exec(ctx, s.pool, "upsert_entities", ins)
	return err
}

// DeleteEntity removes a canonical row and every edge touching it.
func (s *Store) DeleteEntity(ctx context.Context, def *transform.TypeDefinition, orgID, entityID string) error {
	if err := checkIdent(def.Table); err != nil {
		return apperrors.ErrStore("delete_entity", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		del := builder().Delete(def.Table).Where(entsql.And(
			entsql.EQ("id", entityID),
			entsql.EQ("org_id", orgID),
		))
		if _, err := exec(ctx, tx, "delete_entity", del); err != nil {
			return err
		}
		_, err := exec(ctx, tx, "delete_entity_edges", buildEdgeDeleteFor(orgID, entityID))
		return err
	})
}

// GetEntity reads one canonical row as column → value. Used by tooling and tests.
func (s *Store) GetEntity(ctx context.Context, def *transform.TypeDefinition, entityID string) (map[string]any, error) {
	if err := checkIdent(def.Table); err != nil {
		return nil, apperrors.ErrStore("get_entity", err)
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT * FROM %q WHERE "id" = $1`, def.Table), entityID)
	if err != nil {
		return nil, apperrors.ErrStore("get_entity", err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, apperrors.ErrStore("get_entity", err)
	}
	return row, nil
}

func dedupeEntities(rows []domain.CanonicalEntity) []domain.CanonicalEntity {
	idx := make(map[string]int, len(rows))
	out := make([]domain.CanonicalEntity, 0, len(rows))
	for _, r := range rows {
		if i, ok := idx[r.ID]; ok {
			out[i] = r
			continue
		}
		idx[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
