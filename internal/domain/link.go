package domain

import "time"

// ExternalLink maps a provider id to an internal entity id.
// Keyed by (OrgID, Adapter, ExternalID). EntityID never changes once assigned.
type ExternalLink struct {
	OrgID      string `db:"org_id"`
	Adapter    string `db:"adapter"`
	ExternalID string `db:"external_id"`
	EntityID   string `db:"entity_id"`
	EntityType string `db:"entity_type"`

	CreatedAt time.Time `db:"created_at"`
	// UpdatedAt is the provider's updated_at as last seen. Nil for placeholders
	// and for links rewound after a failed write.
	UpdatedAt *time.Time `db:"updated_at"`
	// LastProcessedAt only advances when UpdatedAt changes.
	LastProcessedAt *time.Time `db:"last_processed_at"`
	// Syncing is set when the gate opens and cleared once the entity write lands.
	Syncing bool `db:"syncing"`
}

// LinkCandidate is the input to a link upsert.
type LinkCandidate struct {
	ExternalID string
	EntityType string
	// Tag is the internal type tag used to mint new entity ids.
	Tag       string
	UpdatedAt *time.Time
}

// LinkKey identifies one link within an org and adapter.
type LinkKey struct {
	OrgID      string
	Adapter    string
	ExternalID string
}

// Key returns the link's key.
func (l ExternalLink) Key() LinkKey {
	return LinkKey{OrgID: l.OrgID, Adapter: l.Adapter, ExternalID: l.ExternalID}
}

// ChangedAt reports whether the link was processed at batch time now.
// Unchanged rows keep an earlier last_processed_at, so the match is exact.
func (l ExternalLink) ChangedAt(now time.Time) bool {
	return l.LastProcessedAt != nil && l.LastProcessedAt.Equal(now)
}
