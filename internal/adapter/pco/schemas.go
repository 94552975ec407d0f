package pco

import "github.com/getkin/kin-openapi/openapi3"

// Attribute schemas. Provider attributes are nullable unless noted; unknown
// attributes are allowed since the provider adds fields without notice.

func str() *openapi3.Schema     { return openapi3.NewStringSchema().WithNullable() }
func integer() *openapi3.Schema { return openapi3.NewIntegerSchema().WithNullable() }
func boolean() *openapi3.Schema { return openapi3.NewBoolSchema().WithNullable() }

// anyValue accepts any JSON value, including null.
func anyValue() *openapi3.Schema { return &openapi3.Schema{Nullable: true} }

func object(props map[string]*openapi3.Schema, required ...string) *openapi3.Schema {
	s := openapi3.NewObjectSchema().WithProperties(props)
	s.Required = required
	return s
}

func withAudit(props map[string]*openapi3.Schema) map[string]*openapi3.Schema {
	props["created_at"] = str()
	props["updated_at"] = str()
	return props
}

var personSchema = object(withAudit(map[string]*openapi3.Schema{
	"first_name":     str(),
	"middle_name":    str(),
	"last_name":      str(),
	"nickname":       str(),
	"name":           str(),
	"birthdate":      str(),
	"anniversary":    str(),
	"gender":         str(),
	"grade":          integer(),
	"child":          boolean(),
	"membership":     str(),
	"status":         openapi3.NewStringSchema().WithEnum("active", "inactive").WithNullable(),
	"avatar":         str(),
	"inactivated_at": str(),
	"remote_id":      anyValue(),
	"medical_notes":  str(),
}))

var campusSchema = object(withAudit(map[string]*openapi3.Schema{
	"name":         str(),
	"street":       str(),
	"city":         str(),
	"state":        str(),
	"zip":          str(),
	"country":      str(),
	"phone_number": str(),
	"website":      str(),
	"time_zone":    str(),
}))

var householdSchema = object(withAudit(map[string]*openapi3.Schema{
	"name":                 str(),
	"member_count":         integer(),
	"primary_contact_name": str(),
	"avatar":               str(),
}))

var emailSchema = object(withAudit(map[string]*openapi3.Schema{
	"address":  str(),
	"location": str(),
	"primary":  boolean(),
	"blocked":  boolean(),
}))

var phoneNumberSchema = object(withAudit(map[string]*openapi3.Schema{
	"number":   str(),
	"e164":     str(),
	"carrier":  str(),
	"location": str(),
	"primary":  boolean(),
}))

var addressSchema = object(withAudit(map[string]*openapi3.Schema{
	"street_line_1": str(),
	"street_line_2": str(),
	"city":          str(),
	"state":         str(),
	"zip":           str(),
	"country_code":  str(),
	"location":      str(),
	"primary":       boolean(),
}))

var webhookSubscriptionSchema = object(withAudit(map[string]*openapi3.Schema{
	"name":                openapi3.NewStringSchema(),
	"url":                 str(),
	"active":              boolean(),
	"authenticity_secret": str(),
	"delivery_id":         str(),
}), "name")

// resourceDocument validates a webhook payload carrying one resource.
func resourceDocument(attributes *openapi3.Schema) *openapi3.Schema {
	data := object(map[string]*openapi3.Schema{
		"id":         openapi3.NewStringSchema().WithMinLength(1),
		"type":       openapi3.NewStringSchema(),
		"attributes": attributes,
	}, "id", "type")
	return object(map[string]*openapi3.Schema{"data": data}, "data")
}

// mergerDocument validates a person merger payload.
var mergerDocument = resourceDocument(object(map[string]*openapi3.Schema{
	"person_to_keep_id":   anyValue(),
	"person_to_remove_id": anyValue(),
}, "person_to_keep_id", "person_to_remove_id"))
