package pco

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"flockbridge.io/flockbridge/internal/domain"
)

const eventPrefix = "people.v2.events."

func dataID(doc domain.Document) (string, error) {
	if strings.TrimSpace(doc.Data.ID) == "" {
		return "", fmt.Errorf("payload has no data.id")
	}
	return doc.Data.ID, nil
}

func attrID(attrs map[string]any, key string) (string, error) {
	switch v := attrs[key].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	case int, int64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("payload attribute %s is missing", key)
}

func mergeIDs(doc domain.Document) (domain.MergeIDs, error) {
	keep, err := attrID(doc.Data.Attributes, "person_to_keep_id")
	if err != nil {
		return domain.MergeIDs{}, err
	}
	remove, err := attrID(doc.Data.Attributes, "person_to_remove_id")
	if err != nil {
		return domain.MergeIDs{}, err
	}
	return domain.MergeIDs{KeepID: keep, RemoveID: remove}, nil
}

// resourceEvents declares created/updated/destroyed events for a type.
func resourceEvents(resource, entityType string, attributes *openapi3.Schema) []domain.WebhookDefinition {
	base := eventPrefix + resource + "."
	upsertSchema := resourceDocument(attributes)
	deleteSchema := resourceDocument(openapi3.NewObjectSchema().WithNullable())
	return []domain.WebhookDefinition{
		{EventType: base + "created", Operation: domain.WebhookUpsert, EntityType: entityType, Schema: upsertSchema, ExtractEntityID: dataID},
		{EventType: base + "updated", Operation: domain.WebhookUpsert, EntityType: entityType, Schema: upsertSchema, ExtractEntityID: dataID},
		{EventType: base + "destroyed", Operation: domain.WebhookDelete, EntityType: entityType, Schema: deleteSchema, ExtractEntityID: dataID},
	}
}

func webhookDefinitions() map[string]domain.WebhookDefinition {
	var defs []domain.WebhookDefinition
	defs = append(defs, resourceEvents("person", TypePerson, personSchema)...)
	defs = append(defs, resourceEvents("email", TypeEmail, emailSchema)...)
	defs = append(defs, resourceEvents("phone_number", TypePhoneNumber, phoneNumberSchema)...)
	defs = append(defs, resourceEvents("address", TypeAddress, addressSchema)...)
	defs = append(defs, resourceEvents("household", TypeHousehold, householdSchema)...)
	defs = append(defs, resourceEvents("campus", TypeCampus, campusSchema)...)
	defs = append(defs, domain.WebhookDefinition{
		EventType:       eventPrefix + "person_merger.created",
		Operation:       domain.WebhookMerge,
		EntityType:      TypePerson,
		Schema:          mergerDocument,
		ExtractMergeIDs: mergeIDs,
	})

	out := make(map[string]domain.WebhookDefinition, len(defs))
	for _, d := range defs {
		out[d.EventType] = d
	}
	return out
}

// sortedNames returns webhook event names in lexical order.
func sortedNames(defs map[string]domain.WebhookDefinition) []string {
	out := make([]string, 0, len(defs))
	for name := range defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
