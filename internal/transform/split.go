package transform

import (
	"encoding/json"
	"fmt"

	"flockbridge.io/flockbridge/internal/domain"
)

// Keys a transform may emit that are not plain attribute columns.
const (
	KeyCreatedAt     = "created_at"
	KeyUpdatedAt     = "updated_at"
	KeyDeletedAt     = "deleted_at"
	KeyInactivatedAt = "inactivated_at"
	KeyCustomFields  = "custom_fields"
)

// split separates audit timestamps and custom fields from canonical attributes.
// Custom fields without a source are stamped with source.
func split(out map[string]any, source string) (Audit, []domain.CustomField, map[string]any, error) {
	var audit Audit
	var err error
	rest := make(map[string]any, len(out))

	for k, v := range out {
		switch k {
		case KeyCreatedAt:
			audit.CreatedAt, err = parseTime(k, v)
		case KeyUpdatedAt:
			audit.UpdatedAt, err = parseTime(k, v)
		case KeyDeletedAt:
			audit.DeletedAt, err = parseTime(k, v)
		case KeyInactivatedAt:
			audit.InactivatedAt, err = parseTime(k, v)
		case KeyCustomFields:
		default:
			rest[k] = v
		}
		if err != nil {
			return Audit{}, nil, nil, err
		}
	}

	fields, err := customFields(out[KeyCustomFields], source)
	if err != nil {
		return Audit{}, nil, nil, err
	}
	return audit, fields, rest, nil
}

func customFields(v any, source string) ([]domain.CustomField, error) {
	var fields []domain.CustomField
	switch t := v.(type) {
	case nil:
		return []domain.CustomField{}, nil
	case []domain.CustomField:
		fields = append(fields, t...)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("custom_fields: %w", err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("custom_fields: %w", err)
		}
	}

	out := make([]domain.CustomField, 0, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			continue
		}
		// A transform only ever writes its own adapter's fields.
		f.Source = source
		out = append(out, f)
	}
	return out, nil
}
