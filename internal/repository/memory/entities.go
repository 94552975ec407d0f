package memory

import (
	"context"
	"sort"
	"time"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/transform"
)

const tableWebhookSubscriptions = "webhook_subscriptions"

// mergeCustomFields keeps entries owned by other sources and appends the
// incoming ones owned by adapter.
func mergeCustomFields(stored, incoming []domain.CustomField, adapter string) []domain.CustomField {
	out := make([]domain.CustomField, 0, len(stored)+len(incoming))
	for _, f := range stored {
		if f.Source != adapter {
			out = append(out, f)
		}
	}
	return append(out, domain.FieldsFrom(incoming, adapter)...)
}

// UpsertEntities stores rows of one type. Columns outside the definition are
// dropped, id, org and tag never change, and custom fields are merged by source.
func (s *Store) UpsertEntities(_ context.Context, def *transform.TypeDefinition, rows []domain.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		attrs := make(map[string]any, len(def.Columns))
		for _, c := range def.Columns {
			if v, ok := row.Attributes[c]; ok {
				attrs[c] = v
			}
		}

		k := entityKey{table: def.Table, id: row.ID}
		next := row
		next.Tag = def.Tag
		next.Attributes = attrs
		if prev, ok := s.entities[k]; ok {
			next.OrgID = prev.OrgID
			next.CustomFields = mergeCustomFields(prev.CustomFields, row.CustomFields, s.adapter)
		} else {
			next.CustomFields = domain.FieldsFrom(row.CustomFields, s.adapter)
		}
		s.entities[k] = next
	}
	return nil
}

// DeleteEntity removes a row and every edge touching it.
func (s *Store) DeleteEntity(_ context.Context, def *transform.TypeDefinition, orgID, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entityKey{table: def.Table, id: entityID}
	if e, ok := s.entities[k]; ok && e.OrgID == orgID {
		delete(s.entities, k)
	}
	for ek := range s.edges {
		if ek.OrgID == orgID && (ek.SourceEntityID == entityID || ek.TargetEntityID == entityID) {
			delete(s.edges, ek)
		}
	}
	return nil
}

// Entity returns a stored row.
func (s *Store) Entity(table, id string) (domain.CanonicalEntity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityKey{table: table, id: id}]
	return e, ok
}

// Entities returns the stored rows of a table ordered by id.
func (s *Store) Entities(table string) []domain.CanonicalEntity {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CanonicalEntity
	for k, e := range s.entities {
		if k.table == table {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetEntity returns a row in column form, like the Postgres store.
func (s *Store) GetEntity(_ context.Context, def *transform.TypeDefinition, entityID string) (map[string]any, error) {
	e, ok := s.Entity(def.Table, entityID)
	if !ok {
		return nil, nil
	}
	out := map[string]any{
		"id":             e.ID,
		"org_id":         e.OrgID,
		"_tag":           e.Tag,
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
		"deleted_at":     e.DeletedAt,
		"inactivated_at": e.InactivatedAt,
		"custom_fields":  e.CustomFields,
	}
	for k, v := range e.Attributes {
		out[k] = v
	}
	return out, nil
}

// UpsertEdges stores edges and grows the relationship registry.
// created_at of an existing edge is kept.
func (s *Store) UpsertEdges(_ context.Context, edges []domain.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, e := range edges {
		k := e.Key()
		if prev, ok := s.edges[k]; ok {
			e.CreatedAt = prev.CreatedAt
		}
		s.edges[k] = e

		rk := relKey{org: e.OrgID, source: e.SourceEntityTypeTag}
		rel := s.rels[rk]
		rel.OrgID = e.OrgID
		rel.SourceEntityType = e.SourceEntityTypeTag
		rel.TargetEntityTypes = addSorted(rel.TargetEntityTypes, e.TargetEntityTypeTag)
		rel.UpdatedAt = now
		s.rels[rk] = rel
	}
	return nil
}

func addSorted(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// ListEdges returns every edge touching entityID.
func (s *Store) ListEdges(_ context.Context, orgID, entityID string) ([]domain.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Edge
	for k, e := range s.edges {
		if k.OrgID == orgID && (k.SourceEntityID == entityID || k.TargetEntityID == entityID) {
			out = append(out, e)
		}
	}
	sortEdges(out)
	return out, nil
}

// Edges returns every stored edge.
func (s *Store) Edges() []domain.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []domain.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.RelationshipType != b.RelationshipType {
			return a.RelationshipType < b.RelationshipType
		}
		if a.SourceEntityID != b.SourceEntityID {
			return a.SourceEntityID < b.SourceEntityID
		}
		return a.TargetEntityID < b.TargetEntityID
	})
}

// ListRelationships returns the registry rows of an org.
func (s *Store) ListRelationships(_ context.Context, orgID string) ([]domain.EntityRelationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.EntityRelationship
	for k, r := range s.rels {
		if k.org == orgID {
			r.TargetEntityTypes = append([]string(nil), r.TargetEntityTypes...)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceEntityType < out[j].SourceEntityType })
	return out, nil
}

// WebhookSecrets returns authenticity secrets of live stored subscriptions.
func (s *Store) WebhookSecrets(_ context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []domain.CanonicalEntity
	for k, e := range s.entities {
		if k.table == tableWebhookSubscriptions && e.DeletedAt == nil {
			rows = append(rows, e)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	out := make(map[string][]string)
	for _, e := range rows {
		secret := stringValue(e.Attributes["authenticity_secret"])
		if secret == "" {
			continue
		}
		dup := false
		for _, have := range out[e.OrgID] {
			dup = dup || have == secret
		}
		if !dup {
			out[e.OrgID] = append(out[e.OrgID], secret)
		}
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case *string:
		if t != nil {
			return *t
		}
	}
	return ""
}
