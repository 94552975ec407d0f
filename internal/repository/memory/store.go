// Package memory is an in-process Store with the same upsert semantics as
// the Postgres repository. It backs dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"flockbridge.io/flockbridge/internal/domain"
)

type entityKey struct {
	table string
	id    string
}

type relKey struct {
	org, source string
}

// Store keeps links, entities, edges and the relationship registry in maps
// guarded by one mutex.
type Store struct {
	mu      sync.Mutex
	adapter string

	links    map[domain.LinkKey]domain.ExternalLink
	entities map[entityKey]domain.CanonicalEntity
	edges    map[domain.EdgeKey]domain.Edge
	rels     map[relKey]domain.EntityRelationship
}

// New creates an empty Store owning custom fields for adapter.
func New(adapter string) *Store {
	return &Store{
		adapter:  adapter,
		links:    make(map[domain.LinkKey]domain.ExternalLink),
		entities: make(map[entityKey]domain.CanonicalEntity),
		edges:    make(map[domain.EdgeKey]domain.Edge),
		rels:     make(map[relKey]domain.EntityRelationship),
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func timePtr(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}

// UpsertLinks implements identity.Store.
func (s *Store) UpsertLinks(_ context.Context, orgID, adapter string, processedAt time.Time, cands []domain.LinkCandidate) ([]domain.ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ExternalLink, 0, len(cands))
	for _, c := range cands {
		k := domain.LinkKey{OrgID: orgID, Adapter: adapter, ExternalID: c.ExternalID}
		l, ok := s.links[k]
		if !ok {
			l = domain.ExternalLink{
				OrgID: orgID, Adapter: adapter, ExternalID: c.ExternalID,
				EntityID:        domain.NewEntityID(c.Tag),
				CreatedAt:       processedAt,
				LastProcessedAt: timePtr(processedAt),
				Syncing:         true,
			}
		} else if !sameTime(l.UpdatedAt, c.UpdatedAt) {
			l.LastProcessedAt = timePtr(processedAt)
			l.Syncing = true
		}
		l.EntityType = c.EntityType
		l.UpdatedAt = copyTime(c.UpdatedAt)
		s.links[k] = l
		out = append(out, l)
	}
	return out, nil
}

// InsertPlaceholders implements identity.Store.
func (s *Store) InsertPlaceholders(_ context.Context, orgID, adapter string, cands []domain.LinkCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range cands {
		k := domain.LinkKey{OrgID: orgID, Adapter: adapter, ExternalID: c.ExternalID}
		if _, ok := s.links[k]; ok {
			continue
		}
		l := domain.ExternalLink{
			OrgID: orgID, Adapter: adapter, ExternalID: c.ExternalID,
			EntityID: domain.NewEntityID(c.Tag), EntityType: c.EntityType,
			CreatedAt: now,
		}
		s.links[k] = l
	}
	return nil
}

// GetLinks implements identity.Store.
func (s *Store) GetLinks(_ context.Context, orgID, adapter string, externalIDs []string) ([]domain.ExternalLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ExternalLink
	for _, id := range externalIDs {
		if l, ok := s.links[domain.LinkKey{OrgID: orgID, Adapter: adapter, ExternalID: id}]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// DeleteLink implements identity.Store.
func (s *Store) DeleteLink(_ context.Context, orgID, adapter, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := domain.LinkKey{OrgID: orgID, Adapter: adapter, ExternalID: externalID}
	delete(s.links, k)
	return nil
}

func (s *Store) updateLinks(orgID, adapter string, ids []string, fn func(*domain.ExternalLink)) {
	for _, id := range ids {
		k := domain.LinkKey{OrgID: orgID, Adapter: adapter, ExternalID: id}
		if l, ok := s.links[k]; ok {
			fn(&l)
			s.links[k] = l
		}
	}
}

// MarkSynced implements identity.Store.
func (s *Store) MarkSynced(_ context.Context, orgID, adapter string, externalIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLinks(orgID, adapter, externalIDs, func(l *domain.ExternalLink) { l.Syncing = false })
	return nil
}

func rewind(l *domain.ExternalLink) {
	l.UpdatedAt = nil
	l.Syncing = false
}

// Rewind implements identity.Store.
func (s *Store) Rewind(_ context.Context, orgID, adapter string, externalIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLinks(orgID, adapter, externalIDs, rewind)
	return nil
}

// RewindStuck implements identity.Store.
func (s *Store) RewindStuck(_ context.Context, orgID, adapter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, l := range s.links {
		if k.OrgID != orgID || k.Adapter != adapter || !l.Syncing {
			continue
		}
		rewind(&l)
		s.links[k] = l
		n++
	}
	return n, nil
}

// Links returns a snapshot of every link, ordered by external id.
func (s *Store) Links() []domain.ExternalLink {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ExternalLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID < out[j].OrgID
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}
