package pco

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"flockbridge.io/flockbridge/internal/transform"
)

//go:embed manifest.yaml
var manifestYAML []byte

// Manifest is the static routing table for the adapter's types.
type Manifest struct {
	// Adapter is the adapter name stamped on links, edges and custom fields.
	Adapter string `yaml:"adapter"`

	// SubscriptionsPath is the webhook subscription collection.
	SubscriptionsPath string `yaml:"subscriptions_path"`

	// HealthPath is probed by the provider health checker.
	HealthPath string `yaml:"health_path"`

	// Types lists every synced type in pull order.
	Types []TypeRoute `yaml:"types"`
}

// TypeRoute is one type's endpoint configuration.
type TypeRoute struct {
	Name     string            `yaml:"name"`
	ListPath string            `yaml:"list_path,omitempty"`
	GetPath  string            `yaml:"get_path"`
	Params   map[string]string `yaml:"params,omitempty"`
	SkipSync bool              `yaml:"skip_sync,omitempty"`
}

// Endpoint converts the route into a transform endpoint.
func (r TypeRoute) Endpoint() transform.Endpoint {
	params := make(map[string]string, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	return transform.Endpoint{
		ListPath: r.ListPath,
		GetPath:  r.GetPath,
		Params:   params,
		SkipSync: r.SkipSync,
	}
}

// LoadManifest parses the embedded manifest.
func LoadManifest() (*Manifest, error) {
	return ParseManifest(manifestYAML)
}

// ParseManifest parses and validates a manifest document. Unknown keys are
// rejected.
func ParseManifest(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if strings.TrimSpace(m.Adapter) == "" {
		return fmt.Errorf("manifest: adapter is required")
	}
	seen := make(map[string]struct{}, len(m.Types))
	for _, t := range m.Types {
		if t.Name == "" {
			return fmt.Errorf("manifest: type without name")
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("manifest: type %s listed twice", t.Name)
		}
		seen[t.Name] = struct{}{}
		if !t.SkipSync && t.ListPath == "" {
			return fmt.Errorf("manifest: type %s is synced but has no list_path", t.Name)
		}
		if t.GetPath != "" && strings.Count(t.GetPath, "%s") != 1 {
			return fmt.Errorf("manifest: type %s get_path must contain one %%s", t.Name)
		}
	}
	return nil
}

// Route returns the route of a type.
func (m *Manifest) Route(name string) (TypeRoute, bool) {
	for _, t := range m.Types {
		if t.Name == name {
			return t, true
		}
	}
	return TypeRoute{}, false
}
