// Package pco declares the Planning Center adapter: its types, their
// canonical transforms and tables, relationships, endpoints and webhook
// events. Everything is built once at startup.
package pco

import (
	"fmt"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/transform"
)

// Name is the adapter name.
const Name = "pco"

// Adapter is the assembled Planning Center adapter.
type Adapter struct {
	Manifest *Manifest
	Types    *transform.Registry
	Webhooks map[string]domain.WebhookDefinition
}

// New assembles the adapter from the embedded manifest.
func New() (*Adapter, error) {
	m, err := LoadManifest()
	if err != nil {
		return nil, err
	}
	if m.Adapter != Name {
		return nil, fmt.Errorf("manifest is for adapter %q", m.Adapter)
	}
	defs, err := definitions(m)
	if err != nil {
		return nil, err
	}

	reg := transform.NewRegistry(Name)
	for _, d := range defs {
		if err := reg.Register(d); err != nil {
			return nil, err
		}
	}

	hooks := webhookDefinitions()
	for name, h := range hooks {
		if _, err := reg.Lookup(h.EntityType); err != nil {
			return nil, fmt.Errorf("webhook %s: %w", name, err)
		}
	}

	return &Adapter{Manifest: m, Types: reg, Webhooks: hooks}, nil
}

// MustNew is New that panics.
func MustNew() *Adapter {
	a, err := New()
	if err != nil {
		panic(err)
	}
	return a
}

// WebhookNames lists the supported webhook events in lexical order. The
// subscription reconciler keeps one provider subscription per name.
func (a *Adapter) WebhookNames() []string {
	return sortedNames(a.Webhooks)
}
