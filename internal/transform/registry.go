// Package transform turns provider attributes into canonical entity fragments.
//
// Each provider type is described once, at startup, by a TypeDefinition held in
// a Registry. Lookups are plain map reads; nothing is dispatched by reflection
// at call time.
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// Relationship declares one relationship key of a type.
// TargetType may be empty, in which case the extractor falls back to the
// type literal carried in the reference itself.
type Relationship struct {
	Key        string
	TargetType string
}

// Endpoint is the provider routing for a type.
type Endpoint struct {
	// ListPath is the collection path, e.g. /people/v2/people.
	ListPath string
	// GetPath is a template with one %s for the id, e.g. /people/v2/people/%s.
	GetPath string
	// Params are default query parameters applied to list calls.
	Params map[string]string
	// SkipSync excludes the type from pull sync; it only arrives side-loaded.
	SkipSync bool
}

// TypeDefinition bundles everything the engine knows about one provider type.
type TypeDefinition struct {
	// Name is the provider type literal, e.g. "Person".
	Name string
	// Tag is the canonical type tag, e.g. "person".
	Tag string
	// Table is the destination table for canonical rows.
	Table string
	// Columns is the table's typed attribute column set, excluding the
	// common columns every entity table carries.
	Columns []string

	Schema        *openapi3.Schema
	Relationships []Relationship
	Endpoint      Endpoint
	Partial       *Partial

	// InjectDeliveryID adds the webhook delivery id as an attribute before
	// transform for webhook-sourced entities of this type.
	InjectDeliveryID bool

	decode    func(attrs map[string]any) (any, error)
	transform func(decoded any) (map[string]any, error)
}

// HasColumn reports whether col is one of the type's attribute columns.
func (d *TypeDefinition) HasColumn(col string) bool {
	for _, c := range d.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Spec is the typed form of a definition. A is the attribute struct the raw
// provider attributes are decoded into.
type Spec[A any] struct {
	Name          string
	Tag           string
	Table         string
	Columns       []string
	Schema        *openapi3.Schema
	Relationships []Relationship
	Endpoint      Endpoint
	Partial       *Partial

	InjectDeliveryID bool

	Transform func(attrs A) (map[string]any, error)
}

// Define erases a typed Spec into a TypeDefinition.
func Define[A any](s Spec[A]) *TypeDefinition {
	def := &TypeDefinition{
		Name:             s.Name,
		Tag:              s.Tag,
		Table:            s.Table,
		Columns:          s.Columns,
		Schema:           s.Schema,
		Relationships:    s.Relationships,
		Endpoint:         s.Endpoint,
		Partial:          s.Partial,
		InjectDeliveryID: s.InjectDeliveryID,
	}
	def.decode = func(attrs map[string]any) (any, error) {
		raw, err := json.Marshal(attrs)
		if err != nil {
			return nil, err
		}
		var out A
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	def.transform = func(decoded any) (map[string]any, error) {
		a, ok := decoded.(A)
		if !ok {
			return nil, fmt.Errorf("decoded attributes have type %T", decoded)
		}
		if s.Transform == nil {
			return nil, fmt.Errorf("type %s has no transform", s.Name)
		}
		return s.Transform(a)
	}
	return def
}

// Registry maps provider type names to definitions.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*TypeDefinition
	byTag  map[string]*TypeDefinition
	order  []string
	source string
}

// NewRegistry creates an empty registry. source is the adapter tag stamped on
// custom fields the registry produces.
func NewRegistry(source string) *Registry {
	return &Registry{
		byName: make(map[string]*TypeDefinition),
		byTag:  make(map[string]*TypeDefinition),
		source: source,
	}
}

// Source returns the adapter tag.
func (r *Registry) Source() string {
	return r.source
}

// Register adds a definition. Names and tags must be unique.
func (r *Registry) Register(def *TypeDefinition) error {
	if def == nil || def.Name == "" || def.Tag == "" || def.Table == "" {
		return fmt.Errorf("type definition requires name, tag and table")
	}
	if def.decode == nil {
		return fmt.Errorf("type %s was not built with Define", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[def.Name]; ok {
		return fmt.Errorf("type %s already registered", def.Name)
	}
	if _, ok := r.byTag[def.Tag]; ok {
		return fmt.Errorf("tag %s already registered", def.Tag)
	}
	r.byName[def.Name] = def
	r.byTag[def.Tag] = def
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister is Register that panics. Used for static adapter tables.
func (r *Registry) MustRegister(defs ...*TypeDefinition) {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition for a provider type name.
func (r *Registry) Lookup(name string) (*TypeDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	if !ok {
		return nil, apperrors.ErrEntityTypeUnknown(name)
	}
	return def, nil
}

// LookupTag returns the definition for a canonical tag.
func (r *Registry) LookupTag(tag string) (*TypeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byTag[tag]
	return def, ok
}

// Types returns registered type names in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Tables returns every destination table, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.byName))
	var out []string
	for _, def := range r.byName {
		if _, ok := seen[def.Table]; ok {
			continue
		}
		seen[def.Table] = struct{}{}
		out = append(out, def.Table)
	}
	sort.Strings(out)
	return out
}
