package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"flockbridge.io/flockbridge/internal/domain"
	apperrors "flockbridge.io/flockbridge/internal/pkg/errors"
)

// EventTypeDelivery is the JSON:API type of each batch item.
const EventTypeDelivery = "EventDelivery"

// Batch is one inbound webhook request body.
type Batch struct {
	Data []Event `json:"data"`
}

// Event is one delivered provider event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes EventAttributes `json:"attributes"`
}

// EventAttributes holds the event name and its payload. The provider sends
// the payload as a JSON encoded string; objects are accepted too.
type EventAttributes struct {
	Name    string          `json:"name"`
	Attempt int             `json:"attempt,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

var batchSchema = func() *openapi3.Schema {
	attrs := openapi3.NewObjectSchema().WithProperties(map[string]*openapi3.Schema{
		"name":    openapi3.NewStringSchema().WithMinLength(1),
		"attempt": openapi3.NewIntegerSchema().WithNullable(),
		"payload": {},
	})
	attrs.Required = []string{"name", "payload"}

	event := openapi3.NewObjectSchema().WithProperties(map[string]*openapi3.Schema{
		"id":         openapi3.NewStringSchema(),
		"type":       openapi3.NewStringSchema().WithEnum(EventTypeDelivery),
		"attributes": attrs,
	})
	event.Required = []string{"id", "type", "attributes"}

	s := openapi3.NewObjectSchema().WithProperty("data", openapi3.NewArraySchema().WithItems(event))
	s.Required = []string{"data"}
	return s
}()

// ParseBatch validates and decodes a raw request body.
func ParseBatch(body []byte) (Batch, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return Batch{}, apperrors.ErrWebhookProcessing(fmt.Errorf("decode batch: %w", err))
	}
	if err := batchSchema.VisitJSON(generic, openapi3.MultiErrors()); err != nil {
		return Batch{}, apperrors.ErrWebhookProcessing(fmt.Errorf("batch envelope: %w", err))
	}
	var b Batch
	if err := json.Unmarshal(body, &b); err != nil {
		return Batch{}, apperrors.ErrWebhookProcessing(fmt.Errorf("decode batch: %w", err))
	}
	return b, nil
}

// PayloadBytes returns the payload document as raw JSON, unwrapping the
// string form.
func (a EventAttributes) PayloadBytes() ([]byte, error) {
	raw := bytes.TrimSpace(a.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("event %s has no payload", a.Name)
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("payload string: %w", err)
	}
	return []byte(s), nil
}

// decodePayload validates the payload against schema and decodes it.
func decodePayload(a EventAttributes, schema *openapi3.Schema) (domain.Document, error) {
	raw, err := a.PayloadBytes()
	if err != nil {
		return domain.Document{}, err
	}
	if schema != nil {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return domain.Document{}, fmt.Errorf("decode payload: %w", err)
		}
		if err := schema.VisitJSON(generic, openapi3.MultiErrors()); err != nil {
			return domain.Document{}, fmt.Errorf("payload for %s: %w", a.Name, err)
		}
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Document{}, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}
