// Package domain holds the sync engine's data model: provider entities as
// received, identity links, canonical entities and edges.
package domain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResourceIdentifier points at a provider resource.
type ResourceIdentifier struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RelationshipData is the "data" member of a relationship: null, a single
// identifier, or a list of identifiers.
type RelationshipData struct {
	One  *ResourceIdentifier
	Many []ResourceIdentifier
	// IsMany distinguishes an empty list from null.
	IsMany bool
}

// UnmarshalJSON accepts null, an object, or an array.
func (d *RelationshipData) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*d = RelationshipData{}
		return nil
	case b[0] == '[':
		var many []ResourceIdentifier
		if err := json.Unmarshal(b, &many); err != nil {
			return fmt.Errorf("relationship data list: %w", err)
		}
		*d = RelationshipData{Many: many, IsMany: true}
		return nil
	default:
		var one ResourceIdentifier
		if err := json.Unmarshal(b, &one); err != nil {
			return fmt.Errorf("relationship data: %w", err)
		}
		*d = RelationshipData{One: &one}
		return nil
	}
}

// MarshalJSON writes the shape it was decoded from.
func (d RelationshipData) MarshalJSON() ([]byte, error) {
	if d.IsMany {
		if d.Many == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(d.Many)
	}
	if d.One == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.One)
}

// Identifiers flattens the data member into a list, skipping blank ids.
func (d RelationshipData) Identifiers() []ResourceIdentifier {
	var out []ResourceIdentifier
	if d.One != nil && d.One.ID != "" {
		out = append(out, *d.One)
	}
	for _, ri := range d.Many {
		if ri.ID != "" {
			out = append(out, ri)
		}
	}
	return out
}

// RelationshipRef is one entry of an entity's relationships map.
type RelationshipRef struct {
	Data RelationshipData `json:"data"`
}

// ExternalEntity is a provider record as received, valid for one sync cycle.
type ExternalEntity struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id"`
	Attributes    map[string]any             `json:"attributes"`
	Relationships map[string]RelationshipRef `json:"relationships,omitempty"`
}

// Identifier returns the entity's resource identifier.
func (e ExternalEntity) Identifier() ResourceIdentifier {
	return ResourceIdentifier{ID: e.ID, Type: e.Type}
}

// Document is a single-resource provider response.
type Document struct {
	Data     ExternalEntity   `json:"data"`
	Included []ExternalEntity `json:"included,omitempty"`
}

// Entities returns the root entity followed by side-loaded ones.
func (d Document) Entities() []ExternalEntity {
	out := make([]ExternalEntity, 0, len(d.Included)+1)
	out = append(out, d.Data)
	return append(out, d.Included...)
}

// CustomField is one adapter-owned custom value on a canonical entity.
type CustomField struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Source string `json:"source"`
}

// FieldsFrom returns the entries of fields owned by source.
func FieldsFrom(fields []CustomField, source string) []CustomField {
	out := make([]CustomField, 0, len(fields))
	for _, f := range fields {
		if f.Source == source {
			out = append(out, f)
		}
	}
	return out
}

// CanonicalEntity is the provider-independent, type-tagged record persisted
// in the entity's table.
type CanonicalEntity struct {
	ID            string
	OrgID         string
	Tag           string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
	InactivatedAt *time.Time
	CustomFields  []CustomField
	// Attributes are the typed canonical columns, keyed by column name.
	Attributes map[string]any
}

// NewEntityID mints an internal entity id of the form <tag>_<uuidv7 hex>.
func NewEntityID(tag string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return tag + "_" + hex.EncodeToString(id[:])
}
