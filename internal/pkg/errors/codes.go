package errors

import "net/http"

// Error code constants. Errors carry code + params, messages stay short;
// operator tooling renders details from params.

// Tenant error codes.
const (
	CodeTenantNotFound    = "TENANT_NOT_FOUND"
	CodeTenantTokenMissing = "TENANT_ACCESS_TOKEN_MISSING"
)

// Sync error codes.
const (
	CodeSyncRunNotFound   = "SYNC_RUN_NOT_FOUND"
	CodeSyncRunSettled    = "SYNC_RUN_SETTLED"
	CodeSyncAlreadyActive = "SYNC_ALREADY_ACTIVE"
	CodeSyncUpstreamFail  = "SYNC_UPSTREAM_FAILED"
)

// Customer/Order error codes.
const (
	CodeCustomerNotFound = "CUSTOMER_NOT_FOUND"
	CodeOrderNotFound    = "ORDER_NOT_FOUND"
)

// Segment error codes.
const (
	CodeSegmentNotFound      = "SEGMENT_NOT_FOUND"
	CodeSegmentFilterInvalid = "SEGMENT_FILTER_INVALID"
	CodeSegmentApplyFailed   = "SEGMENT_APPLY_FAILED"
)

// Analytics error codes.
const (
	CodeRFMNotComputed        = "RFM_NOT_COMPUTED"
	CodeRFMThresholdsMissing  = "RFM_THRESHOLDS_MISSING"
	CodeChurnNotEligible      = "CHURN_NOT_ELIGIBLE"
)

// Webhook error codes.
const (
	CodeWebhookNotFound     = "WEBHOOK_NOT_FOUND"
	CodeWebhookDeliveryFail = "WEBHOOK_DELIVERY_FAILED"
)

// Validation error codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnknownField     = "UNKNOWN_FIELD"
	CodeOperatorMismatch = "OPERATOR_TYPE_MISMATCH"
	CodeValueInvalid     = "VALUE_INVALID"
)

// Convenience constructors using predefined codes.

// ErrSegmentNotFoundf creates a segment not found error.
func ErrSegmentNotFoundf(segmentID string) *AppError {
	return (&AppError{
		Code:       CodeSegmentNotFound,
		Message:    "segment not found",
		HTTPStatus: http.StatusNotFound,
	}).WithParams(map[string]interface{}{"segment_id": segmentID})
}

// ErrSyncRunNotFoundf creates a sync run not found error.
func ErrSyncRunNotFoundf(runID string) *AppError {
	return (&AppError{
		Code:       CodeSyncRunNotFound,
		Message:    "sync run not found",
		HTTPStatus: http.StatusNotFound,
	}).WithParams(map[string]interface{}{"run_id": runID})
}

// ErrSegmentFilterInvalid creates a 400 error carrying field-level details
// from filter validation.
func ErrSegmentFilterInvalid(fieldErrors []FieldError) *AppError {
	return (&AppError{
		Code:       CodeSegmentFilterInvalid,
		Message:    "segment filter definition is invalid",
		HTTPStatus: http.StatusBadRequest,
	}).WithFieldErrors(fieldErrors)
}
