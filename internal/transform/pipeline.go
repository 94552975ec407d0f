package transform

import (
	"fmt"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// DeliveryIDAttribute is the synthetic attribute carrying a webhook delivery id.
const DeliveryIDAttribute = "delivery_id"

// Audit holds the timestamps split out of a transform's output.
type Audit struct {
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	DeletedAt     *time.Time
	InactivatedAt *time.Time
}

// Result is one transformed entity, not yet bound to an id or org.
type Result struct {
	Definition   *TypeDefinition
	Audit        Audit
	CustomFields []domain.CustomField
	Attributes   map[string]any
}

// Canonical binds the result to an entity id and org. Missing audit times
// default to now.
func (r *Result) Canonical(entityID, orgID string, now time.Time) domain.CanonicalEntity {
	e := domain.CanonicalEntity{
		ID:            entityID,
		OrgID:         orgID,
		Tag:           r.Definition.Tag,
		CreatedAt:     now,
		UpdatedAt:     now,
		DeletedAt:     r.Audit.DeletedAt,
		InactivatedAt: r.Audit.InactivatedAt,
		CustomFields:  r.CustomFields,
		Attributes:    r.Attributes,
	}
	if r.Audit.CreatedAt != nil {
		e.CreatedAt = *r.Audit.CreatedAt
	}
	if r.Audit.UpdatedAt != nil {
		e.UpdatedAt = *r.Audit.UpdatedAt
	}
	if e.CustomFields == nil {
		e.CustomFields = []domain.CustomField{}
	}
	return e
}

// Transform validates, decodes and transforms raw provider attributes for
// entityType. Errors are ENTITY_TYPE_UNKNOWN, ATTRIBUTE_DECODE_ERROR or
// TRANSFORM_ERROR; callers skip the entity and continue with the batch.
func (r *Registry) Transform(entityType, entityID string, attrs map[string]any) (*Result, error) {
	def, err := r.Lookup(entityType)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		attrs = map[string]any{}
	}

	if def.Schema != nil {
		if err := def.Schema.VisitJSON(toJSONValue(attrs), openapi3.MultiErrors()); err != nil {
			return nil, apperrors.ErrAttributeDecode(entityType, entityID, err)
		}
	}

	decoded, err := def.decode(attrs)
	if err != nil {
		return nil, apperrors.ErrAttributeDecode(entityType, entityID, err)
	}

	out, err := def.transform(decoded)
	if err != nil {
		return nil, apperrors.ErrTransform(entityType, entityID, err)
	}

	audit, fields, rest, err := split(out, r.source)
	if err != nil {
		return nil, apperrors.ErrTransform(entityType, entityID, err)
	}

	return &Result{
		Definition:   def,
		Audit:        audit,
		CustomFields: fields,
		Attributes:   rest,
	}, nil
}

// InjectDeliveryID returns a copy of attrs carrying the delivery id.
func InjectDeliveryID(attrs map[string]any, deliveryID string) map[string]any {
	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[DeliveryIDAttribute] = deliveryID
	return out
}

// toJSONValue normalizes Go numeric types to float64 so schema validation sees
// the same shapes encoding/json would produce.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = toJSONValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = toJSONValue(vv)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// parseTime accepts the shapes a transform may emit for an audit field.
func parseTime(key string, v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if t.IsZero() {
			return nil, nil
		}
		return &t, nil
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil, nil
		}
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return &ts, nil
	default:
		return nil, fmt.Errorf("%s: unsupported time value %T", key, v)
	}
}
