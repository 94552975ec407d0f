package domain

import "time"

// Edge is a directed, typed relationship between two canonical entities.
// Keyed by (OrgID, SourceEntityID, TargetEntityID, RelationshipType).
type Edge struct {
	OrgID               string         `db:"org_id"`
	SourceEntityID      string         `db:"source_entity_id"`
	TargetEntityID      string         `db:"target_entity_id"`
	SourceEntityTypeTag string         `db:"source_entity_type_tag"`
	TargetEntityTypeTag string         `db:"target_entity_type_tag"`
	RelationshipType    string         `db:"relationship_type"`
	Metadata            map[string]any `db:"metadata"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

// EdgeKey is an edge's primary key.
type EdgeKey struct {
	OrgID            string
	SourceEntityID   string
	TargetEntityID   string
	RelationshipType string
}

// Key returns the edge's primary key.
func (e Edge) Key() EdgeKey {
	return EdgeKey{
		OrgID:            e.OrgID,
		SourceEntityID:   e.SourceEntityID,
		TargetEntityID:   e.TargetEntityID,
		RelationshipType: e.RelationshipType,
	}
}

// TypePair is one (source tag → target tag) observation folded into the
// per-org relationship registry.
type TypePair struct {
	SourceEntityType string
	TargetEntityType string
}

// EntityRelationship records which target types a source type has ever been
// linked to. The set only grows.
type EntityRelationship struct {
	OrgID             string    `db:"org_id"`
	SourceEntityType  string    `db:"source_entity_type"`
	TargetEntityTypes []string  `db:"target_entity_types"`
	UpdatedAt         time.Time `db:"updated_at"`
}
