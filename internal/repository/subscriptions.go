package repository

import (
	"context"

	entsql "entgo.io/ent/dialect/sql"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// WebhookSecrets returns the authenticity secrets of stored webhook
// subscriptions, keyed by org.
func (s *Store) WebhookSecrets(ctx context.Context) (map[string][]string, error) {
	q := builder().Select("org_id", "authenticity_secret").
		From(entsql.Table(TableWebhookSubscriptions)).
		Where(entsql.And(
			entsql.NotNull("authenticity_secret"),
			entsql.IsNull("deleted_at"),
		)).
		OrderBy("org_id", "id")
	query, args := q.Query()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.ErrStore("webhook_secrets", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var org, secret string
		if err := rows.Scan(&org, &secret); err != nil {
			return nil, apperrors.ErrStore("webhook_secrets", err)
		}
		if secret == "" {
			continue
		}
		out[org] = appendUnique(out[org], secret)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ErrStore("webhook_secrets", err)
	}
	return out, nil
}
