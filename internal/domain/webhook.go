package domain

import "github.com/getkin/kin-openapi/openapi3"

// WebhookOperation is what a webhook event does to the local store.
type WebhookOperation string

const (
	WebhookUpsert WebhookOperation = "upsert"
	WebhookDelete WebhookOperation = "delete"
	WebhookMerge  WebhookOperation = "merge"
)

// MergeIDs are the provider ids involved in a merge event.
type MergeIDs struct {
	KeepID   string
	RemoveID string
}

// WebhookDefinition describes one provider event name.
type WebhookDefinition struct {
	EventType  string
	Operation  WebhookOperation
	EntityType string
	// Schema validates the event's decoded payload document.
	Schema *openapi3.Schema

	// ExtractEntityID is set for upsert and delete.
	ExtractEntityID func(doc Document) (string, error)
	// ExtractMergeIDs is set for merge.
	ExtractMergeIDs func(doc Document) (MergeIDs, error)
}
