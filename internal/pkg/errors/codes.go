package errors

import "net/http"

// Sync engine error codes.
// Errors carry code + params; messages stay generic and English.
const (
	CodeEntityTypeUnknown      = "ENTITY_TYPE_UNKNOWN"
	CodeAttributeDecode        = "ATTRIBUTE_DECODE_ERROR"
	CodeTransform              = "TRANSFORM_ERROR"
	CodeFetch                  = "FETCH_ERROR"
	CodeStore                  = "STORE_ERROR"
	CodeWebhookAuth            = "WEBHOOK_AUTH_ERROR"
	CodeWebhookProcessing      = "WEBHOOK_PROCESSING_ERROR"
	CodeSubscription           = "SUBSCRIPTION_ERROR"
	CodeInvalidRequestField    = "INVALID_REQUEST_FIELD"
	CodeWorkflowEnqueueFailure = "WORKFLOW_ENQUEUE_FAILED"
	CodeOrgNotFound            = "ORG_NOT_FOUND"
)

// Convenience constructors using predefined codes.

// ErrEntityTypeUnknown reports an entity type without a registered definition.
func ErrEntityTypeUnknown(entityType string) *AppError {
	return New(CodeEntityTypeUnknown, "entity type is not registered", http.StatusUnprocessableEntity).
		WithParams(map[string]interface{}{"entity_type": entityType})
}

// ErrAttributeDecode reports attributes that do not match the type schema.
func ErrAttributeDecode(entityType, entityID string, err error) *AppError {
	return Wrap(err, CodeAttributeDecode, "attributes do not match schema", http.StatusUnprocessableEntity).
		WithParams(map[string]interface{}{"entity_type": entityType, "entity_id": entityID})
}

// ErrTransform reports a type transform failure.
func ErrTransform(entityType, entityID string, err error) *AppError {
	return Wrap(err, CodeTransform, "transform failed", http.StatusUnprocessableEntity).
		WithParams(map[string]interface{}{"entity_type": entityType, "entity_id": entityID})
}

// ErrFetch reports a provider network or HTTP failure. Always transient.
func ErrFetch(op string, status int, err error) *AppError {
	return Wrap(err, CodeFetch, "provider request failed", http.StatusBadGateway).
		WithParams(map[string]interface{}{"operation": op, "status": status}).
		AsRetryable()
}

// ErrStore reports a persistence failure. Treated as contention, so transient.
func ErrStore(op string, err error) *AppError {
	return Wrap(err, CodeStore, "store operation failed", http.StatusInternalServerError).
		WithParams(map[string]interface{}{"operation": op}).
		AsRetryable()
}

// ErrWebhookAuth reports a webhook signature that matched no org secret.
func ErrWebhookAuth() *AppError {
	return Unauthorized(CodeWebhookAuth, "webhook signature did not match")
}

// ErrWebhookProcessing wraps any failure raised while dispatching webhook events.
// Retryability follows the wrapped cause.
func ErrWebhookProcessing(err error) *AppError {
	return Wrap(err, CodeWebhookProcessing, "webhook processing failed", http.StatusInternalServerError)
}

// ErrSubscription reports a subscription reconciliation failure.
func ErrSubscription(name string, err error) *AppError {
	return Wrap(err, CodeSubscription, "subscription reconciliation failed", http.StatusBadGateway).
		WithParams(map[string]interface{}{"subscription": name})
}

// ErrInvalidRequestField creates a bad request error for a malformed field.
func ErrInvalidRequestField(fieldName string) *AppError {
	return BadRequest(CodeInvalidRequestField, "request contains invalid field: "+fieldName)
}

// ErrOrgNotFound reports an org id missing from configuration.
func ErrOrgNotFound(orgID string) *AppError {
	return NotFound(CodeOrgNotFound, "organization not configured").
		WithParams(map[string]interface{}{"org_id": orgID})
}
