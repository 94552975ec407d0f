// Package identity maps provider ids to internal entity ids and decides which
// provider records actually changed since the last sync.
package identity

import (
	"context"
	"sync"
	"time"

	"flockbridge.io/flockbridge/internal/domain"
)

// Store persists external links. Implementations must apply the change gate
// atomically in UpsertLinks: updated_at is always overwritten, while
// last_processed_at and syncing move only when updated_at differs from the
// stored value.
type Store interface {
	// UpsertLinks writes candidates stamped with processedAt and returns every
	// affected row.
	UpsertLinks(ctx context.Context, orgID, adapter string, processedAt time.Time, cands []domain.LinkCandidate) ([]domain.ExternalLink, error)
	// InsertPlaceholders creates links that do not exist yet and leaves
	// existing ones untouched.
	InsertPlaceholders(ctx context.Context, orgID, adapter string, cands []domain.LinkCandidate) error
	GetLinks(ctx context.Context, orgID, adapter string, externalIDs []string) ([]domain.ExternalLink, error)
	DeleteLink(ctx context.Context, orgID, adapter, externalID string) error
	// MarkSynced clears the syncing flag once the entity write has landed.
	MarkSynced(ctx context.Context, orgID, adapter string, externalIDs []string) error
	// Rewind forgets the stored updated_at so the next sync reprocesses the rows.
	Rewind(ctx context.Context, orgID, adapter string, externalIDs []string) error
	// RewindStuck rewinds every link still flagged as syncing.
	RewindStuck(ctx context.Context, orgID, adapter string) (int64, error)
}

// Registry is the identity service for one adapter.
type Registry struct {
	store   Store
	adapter string
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store Store, adapter string) *Registry {
	return &Registry{store: store, adapter: adapter, now: time.Now}
}

// Adapter returns the adapter the registry is scoped to.
func (r *Registry) Adapter() string {
	return r.adapter
}

// UpsertLinks inserts or refreshes links and returns only the ones whose
// provider updated_at changed. Duplicate external ids keep the last candidate.
func (r *Registry) UpsertLinks(ctx context.Context, orgID string, cands []domain.LinkCandidate) ([]domain.ExternalLink, error) {
	cands = dedupe(cands)
	if len(cands) == 0 {
		return nil, nil
	}

	now := r.stamp()
	for i := range cands {
		if cands[i].UpdatedAt == nil {
			// Records without an updated_at are treated as changed on every sighting.
			ts := now
			cands[i].UpdatedAt = &ts
		}
	}

	rows, err := r.store.UpsertLinks(ctx, orgID, r.adapter, now, cands)
	if err != nil {
		return nil, err
	}

	changed := make([]domain.ExternalLink, 0, len(rows))
	for _, l := range rows {
		if l.ChangedAt(now) {
			changed = append(changed, l)
		}
	}
	return changed, nil
}

// stamp returns a batch timestamp at Postgres precision, strictly after the
// previous one issued by r.
func (r *Registry) stamp() time.Time {
	now := r.now().UTC().Truncate(time.Microsecond)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	r.last = now
	return now
}

// ResolveIDs returns the existing links among externalIDs, keyed by external id.
func (r *Registry) ResolveIDs(ctx context.Context, orgID string, externalIDs []string) (map[string]domain.ExternalLink, error) {
	externalIDs = uniq(externalIDs)
	out := make(map[string]domain.ExternalLink, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}
	rows, err := r.store.GetLinks(ctx, orgID, r.adapter, externalIDs)
	if err != nil {
		return nil, err
	}
	for _, l := range rows {
		out[l.ExternalID] = l
	}
	return out, nil
}

// Resolve looks up one external id.
func (r *Registry) Resolve(ctx context.Context, orgID, externalID string) (domain.ExternalLink, bool, error) {
	m, err := r.ResolveIDs(ctx, orgID, []string{externalID})
	if err != nil {
		return domain.ExternalLink{}, false, err
	}
	l, ok := m[externalID]
	return l, ok, nil
}

// EnsureLinks creates placeholder links for referenced entities not seen yet
// and returns links for all of them.
func (r *Registry) EnsureLinks(ctx context.Context, orgID string, placeholders []domain.LinkCandidate) (map[string]domain.ExternalLink, error) {
	placeholders = dedupe(placeholders)
	if len(placeholders) == 0 {
		return map[string]domain.ExternalLink{}, nil
	}
	if err := r.store.InsertPlaceholders(ctx, orgID, r.adapter, placeholders); err != nil {
		return nil, err
	}
	ids := make([]string, len(placeholders))
	for i, p := range placeholders {
		ids[i] = p.ExternalID
	}
	return r.ResolveIDs(ctx, orgID, ids)
}

// DeleteLink removes one link.
func (r *Registry) DeleteLink(ctx context.Context, orgID, externalID string) error {
	return r.store.DeleteLink(ctx, orgID, r.adapter, externalID)
}

// MarkSynced clears the syncing flag on links whose entities were written.
func (r *Registry) MarkSynced(ctx context.Context, orgID string, externalIDs []string) error {
	externalIDs = uniq(externalIDs)
	if len(externalIDs) == 0 {
		return nil
	}
	return r.store.MarkSynced(ctx, orgID, r.adapter, externalIDs)
}

// Rewind reopens the change gate for links whose entity write failed.
func (r *Registry) Rewind(ctx context.Context, orgID string, externalIDs []string) error {
	externalIDs = uniq(externalIDs)
	if len(externalIDs) == 0 {
		return nil
	}
	return r.store.Rewind(ctx, orgID, r.adapter, externalIDs)
}

// RewindStuck reopens the gate for every link left syncing by an interrupted run.
func (r *Registry) RewindStuck(ctx context.Context, orgID string) (int64, error) {
	return r.store.RewindStuck(ctx, orgID, r.adapter)
}

// dedupe returns a fresh slice, last candidate per external id winning.
func dedupe(cands []domain.LinkCandidate) []domain.LinkCandidate {
	idx := make(map[string]int, len(cands))
	out := make([]domain.LinkCandidate, 0, len(cands))
	for _, c := range cands {
		if i, ok := idx[c.ExternalID]; ok {
			out[i] = c
			continue
		}
		idx[c.ExternalID] = len(out)
		out = append(out, c)
	}
	return out
}

func uniq(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
