package transform

import "fmt"

// Field maps one canonical attribute to one provider attribute.
// ToProvider and FromProvider must be inverses; nil means identity.
type Field struct {
	Canonical    string
	Provider     string
	ToProvider   func(v any) (any, error)
	FromProvider func(v any) (any, error)
}

// Partial transforms subsets of fields in both directions. It backs outbound
// updates, which only carry the fields being changed.
type Partial struct {
	byCanonical map[string]Field
	byProvider  map[string]Field
}

// NewPartial builds a Partial from field mappings.
func NewPartial(fields ...Field) *Partial {
	p := &Partial{
		byCanonical: make(map[string]Field, len(fields)),
		byProvider:  make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		p.byCanonical[f.Canonical] = f
		p.byProvider[f.Provider] = f
	}
	return p
}

// Encode converts canonical fields into provider attributes. Unknown
// canonical fields are an error since they cannot be sent.
func (p *Partial) Encode(canonical map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(canonical))
	for k, v := range canonical {
		f, ok := p.byCanonical[k]
		if !ok {
			return nil, fmt.Errorf("field %q is not writable", k)
		}
		if f.ToProvider != nil && v != nil {
			var err error
			if v, err = f.ToProvider(v); err != nil {
				return nil, fmt.Errorf("encode %s: %w", k, err)
			}
		}
		out[f.Provider] = v
	}
	return out, nil
}

// Decode converts provider attributes into canonical fields. Provider
// attributes with no mapping are ignored.
func (p *Partial) Decode(provider map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provider))
	for k, v := range provider {
		f, ok := p.byProvider[k]
		if !ok {
			continue
		}
		if f.FromProvider != nil && v != nil {
			var err error
			if v, err = f.FromProvider(v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", k, err)
			}
		}
		out[f.Canonical] = v
	}
	return out, nil
}

// EnumCodec returns a ToProvider/FromProvider pair translating between two
// value sets. The mapping must be one-to-one.
func EnumCodec(canonicalToProvider map[any]any) (to, from func(any) (any, error)) {
	reverse := make(map[any]any, len(canonicalToProvider))
	for k, v := range canonicalToProvider {
		reverse[v] = k
	}
	to = func(v any) (any, error) {
		out, ok := canonicalToProvider[v]
		if !ok {
			return nil, fmt.Errorf("unsupported value %v", v)
		}
		return out, nil
	}
	from = func(v any) (any, error) {
		out, ok := reverse[v]
		if !ok {
			return nil, fmt.Errorf("unsupported value %v", v)
		}
		return out, nil
	}
	return to, from
}
