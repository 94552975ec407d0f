package pco

import (
	"fmt"
	"strings"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/transform"
)

// Provider type names.
const (
	TypePerson              = "Person"
	TypeCampus              = "Campus"
	TypeHousehold           = "Household"
	TypeEmail               = "Email"
	TypePhoneNumber         = "PhoneNumber"
	TypeAddress             = "Address"
	TypeWebhookSubscription = "WebhookSubscription"
)

type audit struct {
	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
}

func (a audit) into(out map[string]any) map[string]any {
	out[transform.KeyCreatedAt] = deref(a.CreatedAt)
	out[transform.KeyUpdatedAt] = deref(a.UpdatedAt)
	return out
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

type personAttributes struct {
	audit
	FirstName     *string `json:"first_name"`
	MiddleName    *string `json:"middle_name"`
	LastName      *string `json:"last_name"`
	Nickname      *string `json:"nickname"`
	Name          *string `json:"name"`
	Birthdate     *string `json:"birthdate"`
	Anniversary   *string `json:"anniversary"`
	Gender        *string `json:"gender"`
	Grade         *int64  `json:"grade"`
	Child         *bool   `json:"child"`
	Membership    *string `json:"membership"`
	Status        *string `json:"status"`
	Avatar        *string `json:"avatar"`
	InactivatedAt *string `json:"inactivated_at"`
	RemoteID      any     `json:"remote_id"`
	MedicalNotes  *string `json:"medical_notes"`
}

var genderToProvider, genderCode = transform.EnumCodec(map[any]any{
	"male":   "M",
	"female": "F",
})

func canonicalGender(g *string) any {
	if g == nil || *g == "" {
		return nil
	}
	if v, err := genderCode(strings.ToUpper((*g)[:1])); err == nil {
		return v
	}
	return strings.ToLower(*g)
}

// genderFromProvider accepts the same provider values as the full transform.
func genderFromProvider(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("unsupported value %v", v)
	}
	return canonicalGender(&s), nil
}

func transformPerson(a personAttributes) (map[string]any, error) {
	out := map[string]any{
		"first_name":   a.FirstName,
		"middle_name":  a.MiddleName,
		"last_name":    a.LastName,
		"nickname":     a.Nickname,
		"display_name": a.Name,
		"birth_date":   a.Birthdate,
		"anniversary":  a.Anniversary,
		"gender":       canonicalGender(a.Gender),
		"grade":        a.Grade,
		"is_child":     a.Child,
		"membership":   a.Membership,
		"avatar_url":   a.Avatar,
	}
	if a.Status != nil {
		out["is_active"] = *a.Status == "active"
	}
	if a.InactivatedAt != nil {
		out[transform.KeyInactivatedAt] = *a.InactivatedAt
	}

	var fields []domain.CustomField
	if a.RemoteID != nil {
		fields = append(fields, domain.CustomField{Name: "remote_id", Value: a.RemoteID})
	}
	if a.MedicalNotes != nil && *a.MedicalNotes != "" {
		fields = append(fields, domain.CustomField{Name: "medical_notes", Value: *a.MedicalNotes})
	}
	out[transform.KeyCustomFields] = fields
	return a.audit.into(out), nil
}

// personPartial covers the writable person fields.
var personPartial = transform.NewPartial(
	transform.Field{Canonical: "first_name", Provider: "first_name"},
	transform.Field{Canonical: "middle_name", Provider: "middle_name"},
	transform.Field{Canonical: "last_name", Provider: "last_name"},
	transform.Field{Canonical: "nickname", Provider: "nickname"},
	transform.Field{Canonical: "birth_date", Provider: "birthdate"},
	transform.Field{Canonical: "anniversary", Provider: "anniversary"},
	transform.Field{Canonical: "gender", Provider: "gender", ToProvider: genderToProvider, FromProvider: genderFromProvider},
	transform.Field{Canonical: "is_child", Provider: "child"},
	transform.Field{Canonical: "membership", Provider: "membership"},
)

type campusAttributes struct {
	audit
	Name        *string `json:"name"`
	Street      *string `json:"street"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Zip         *string `json:"zip"`
	Country     *string `json:"country"`
	PhoneNumber *string `json:"phone_number"`
	Website     *string `json:"website"`
	TimeZone    *string `json:"time_zone"`
}

func transformCampus(a campusAttributes) (map[string]any, error) {
	return a.audit.into(map[string]any{
		"name":         a.Name,
		"street":       a.Street,
		"city":         a.City,
		"state":        a.State,
		"zip":          a.Zip,
		"country":      a.Country,
		"phone_number": a.PhoneNumber,
		"website":      a.Website,
		"time_zone":    a.TimeZone,
	}), nil
}

type householdAttributes struct {
	audit
	Name               *string `json:"name"`
	MemberCount        *int64  `json:"member_count"`
	PrimaryContactName *string `json:"primary_contact_name"`
	Avatar             *string `json:"avatar"`
}

func transformHousehold(a householdAttributes) (map[string]any, error) {
	return a.audit.into(map[string]any{
		"name":                 a.Name,
		"member_count":         a.MemberCount,
		"primary_contact_name": a.PrimaryContactName,
		"avatar_url":           a.Avatar,
	}), nil
}

type emailAttributes struct {
	audit
	Address  *string `json:"address"`
	Location *string `json:"location"`
	Primary  *bool   `json:"primary"`
	Blocked  *bool   `json:"blocked"`
}

func transformEmail(a emailAttributes) (map[string]any, error) {
	var addr any
	if a.Address != nil {
		addr = strings.ToLower(strings.TrimSpace(*a.Address))
	}
	return a.audit.into(map[string]any{
		"address":    addr,
		"location":   a.Location,
		"is_primary": a.Primary,
		"is_blocked": a.Blocked,
	}), nil
}

type phoneNumberAttributes struct {
	audit
	Number   *string `json:"number"`
	E164     *string `json:"e164"`
	Carrier  *string `json:"carrier"`
	Location *string `json:"location"`
	Primary  *bool   `json:"primary"`
}

func transformPhoneNumber(a phoneNumberAttributes) (map[string]any, error) {
	return a.audit.into(map[string]any{
		"number":     a.Number,
		"e164":       a.E164,
		"carrier":    a.Carrier,
		"location":   a.Location,
		"is_primary": a.Primary,
	}), nil
}

type addressAttributes struct {
	audit
	StreetLine1 *string `json:"street_line_1"`
	StreetLine2 *string `json:"street_line_2"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Zip         *string `json:"zip"`
	CountryCode *string `json:"country_code"`
	Location    *string `json:"location"`
	Primary     *bool   `json:"primary"`
}

func transformAddress(a addressAttributes) (map[string]any, error) {
	return a.audit.into(map[string]any{
		"street_line_1": a.StreetLine1,
		"street_line_2": a.StreetLine2,
		"city":          a.City,
		"state":         a.State,
		"zip":           a.Zip,
		"country_code":  a.CountryCode,
		"location":      a.Location,
		"is_primary":    a.Primary,
	}), nil
}

type webhookSubscriptionAttributes struct {
	audit
	Name               string  `json:"name"`
	URL                *string `json:"url"`
	Active             *bool   `json:"active"`
	AuthenticitySecret *string `json:"authenticity_secret"`
	DeliveryID         *string `json:"delivery_id"`
}

func transformWebhookSubscription(a webhookSubscriptionAttributes) (map[string]any, error) {
	if a.Name == "" {
		return nil, fmt.Errorf("subscription has no name")
	}
	return a.audit.into(map[string]any{
		"name":                a.Name,
		"url":                 deref(a.URL),
		"active":              a.Active,
		"authenticity_secret": deref(a.AuthenticitySecret),
		"delivery_id":         deref(a.DeliveryID),
	}), nil
}

// definitions builds every type definition, routed by the manifest.
func definitions(m *Manifest) ([]*transform.TypeDefinition, error) {
	defs := []*transform.TypeDefinition{
		transform.Define(transform.Spec[campusAttributes]{
			Name: TypeCampus, Tag: "campus", Table: "campuses",
			Columns:   []string{"name", "street", "city", "state", "zip", "country", "phone_number", "website", "time_zone"},
			Schema:    campusSchema,
			Transform: transformCampus,
		}),
		transform.Define(transform.Spec[personAttributes]{
			Name: TypePerson, Tag: "person", Table: "people",
			Columns: []string{
				"first_name", "middle_name", "last_name", "nickname", "display_name", "birth_date",
				"anniversary", "gender", "grade", "is_child", "membership", "is_active", "avatar_url",
			},
			Schema: personSchema,
			Relationships: []transform.Relationship{
				{Key: "primary_campus", TargetType: TypeCampus},
				{Key: "emails", TargetType: TypeEmail},
				{Key: "phone_numbers", TargetType: TypePhoneNumber},
				{Key: "addresses", TargetType: TypeAddress},
				{Key: "households"},
			},
			Partial:   personPartial,
			Transform: transformPerson,
		}),
		transform.Define(transform.Spec[householdAttributes]{
			Name: TypeHousehold, Tag: "household", Table: "households",
			Columns: []string{"name", "member_count", "primary_contact_name", "avatar_url"},
			Schema:  householdSchema,
			Relationships: []transform.Relationship{
				{Key: "people", TargetType: TypePerson},
				{Key: "primary_contact", TargetType: TypePerson},
			},
			Transform: transformHousehold,
		}),
		transform.Define(transform.Spec[emailAttributes]{
			Name: TypeEmail, Tag: "email", Table: "emails",
			Columns:       []string{"address", "location", "is_primary", "is_blocked"},
			Schema:        emailSchema,
			Relationships: []transform.Relationship{{Key: "person", TargetType: TypePerson}},
			Transform:     transformEmail,
		}),
		transform.Define(transform.Spec[phoneNumberAttributes]{
			Name: TypePhoneNumber, Tag: "phone_number", Table: "phone_numbers",
			Columns:       []string{"number", "e164", "carrier", "location", "is_primary"},
			Schema:        phoneNumberSchema,
			Relationships: []transform.Relationship{{Key: "person", TargetType: TypePerson}},
			Transform:     transformPhoneNumber,
		}),
		transform.Define(transform.Spec[addressAttributes]{
			Name: TypeAddress, Tag: "address", Table: "addresses",
			Columns:       []string{"street_line_1", "street_line_2", "city", "state", "zip", "country_code", "location", "is_primary"},
			Schema:        addressSchema,
			Relationships: []transform.Relationship{{Key: "person", TargetType: TypePerson}},
			Transform:     transformAddress,
		}),
		transform.Define(transform.Spec[webhookSubscriptionAttributes]{
			Name: TypeWebhookSubscription, Tag: "webhook_subscription", Table: "webhook_subscriptions",
			Columns:          []string{"name", "url", "active", "authenticity_secret", "delivery_id"},
			Schema:           webhookSubscriptionSchema,
			InjectDeliveryID: true,
			Transform:        transformWebhookSubscription,
		}),
	}

	// Pull order follows the manifest; every defined type must be routed.
	byName := make(map[string]*transform.TypeDefinition, len(defs))
	for _, d := range defs {
		byName[d.Name] = d
	}
	ordered := make([]*transform.TypeDefinition, 0, len(defs))
	for _, route := range m.Types {
		d, ok := byName[route.Name]
		if !ok {
			return nil, fmt.Errorf("manifest routes unknown type %s", route.Name)
		}
		d.Endpoint = route.Endpoint()
		ordered = append(ordered, d)
		delete(byName, route.Name)
	}
	for name := range byName {
		return nil, fmt.Errorf("type %s has no manifest route", name)
	}
	return ordered, nil
}
