// Package repository persists links, canonical entities and edges in
// PostgreSQL.
//
// Statements are built with the ent SQL builder (Postgres dialect) and run on
// the shared pgx pool. Every mutation is a single upsert statement; there are
// no application-level read-modify-write cycles.
package repository

import (
	"context"
	"fmt"
	"regexp"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// Table names.
const (
	TableExternalLinks        = "external_links"
	TableEdges                = "edges"
	TableEntityRelationships  = "entity_relationships"
	TableWebhookSubscriptions = "webhook_subscriptions"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// DBTX is the subset of pgx shared by pools and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres implementation of the sync engine's persistence.
type Store struct {
	pool *pgxpool.Pool
	// adapter owns custom_fields entries written by this store.
	adapter string
}

// New creates a Store. The adapter name is embedded in SQL and must be a
// plain identifier.
func New(pool *pgxpool.Pool, adapter string) (*Store, error) {
	if !identPattern.MatchString(adapter) {
		return nil, fmt.Errorf("invalid adapter name %q", adapter)
	}
	return &Store{pool: pool, adapter: adapter}, nil
}

func builder() *entsql.DialectBuilder {
	return entsql.Dialect(dialect.Postgres)
}

func exec(ctx context.Context, db DBTX, op string, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return 0, apperrors.ErrStore(op, err)
	}
	return tag.RowsAffected(), nil
}

func collect[T any](ctx context.Context, db DBTX, op string, q entsql.Querier) ([]T, error) {
	query, args := q.Query()
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ErrStore(op, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, apperrors.ErrStore(op, err)
	}
	return out, nil
}

func anys[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}
