// Package provider is the anti-corruption layer over external JSON:API
// providers. The engine only sees Client; HTTP and auth details stay here.
package provider

import (
	"context"

	"flockbridge.io/flockbridge/internal/domain"
)

// Client is the provider API contract. Paths are provider-relative, e.g.
// /people/v2/people. Calls are scoped to one org's credentials.
type Client interface {
	List(ctx context.Context, orgID, path string, params map[string]string) (*ListResponse, error)
	Get(ctx context.Context, orgID, path string, params map[string]string) (*domain.Document, error)
	Create(ctx context.Context, orgID, path string, res Resource) (*domain.Document, error)
	Update(ctx context.Context, orgID, path string, res Resource) (*domain.Document, error)
}

// ListResponse is one page of a collection.
type ListResponse struct {
	Data     []domain.ExternalEntity `json:"data"`
	Included []domain.ExternalEntity `json:"included,omitempty"`
	Meta     Meta                    `json:"meta"`
}

// Entities returns page data followed by side-loaded entities.
func (r *ListResponse) Entities() []domain.ExternalEntity {
	out := make([]domain.ExternalEntity, 0, len(r.Data)+len(r.Included))
	out = append(out, r.Data...)
	return append(out, r.Included...)
}

// Meta is the pagination block of a collection response.
type Meta struct {
	TotalCount int       `json:"total_count"`
	Count      int       `json:"count"`
	Next       *NextPage `json:"next,omitempty"`
}

// NextPage points at the following page. Nil on the last page.
type NextPage struct {
	Offset int `json:"offset"`
}

// Resource is the body of a create or update call.
type Resource struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// Credentials authenticate one org against the provider.
type Credentials struct {
	AppID  string
	Secret string
}

// CredentialSource resolves an org's credentials.
type CredentialSource func(orgID string) (Credentials, bool)
