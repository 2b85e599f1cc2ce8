package models

// ValidationError is a policy/validation rejection: the request itself is
// wrong and must never be retried. Code is the machine-readable error
// code surfaced to callers.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a coded validation error
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// Validation error codes.
const (
	ErrCodeInvalidAmount     = "invalid_amount"
	ErrCodeInvalidCurrency   = "invalid_currency"
	ErrCodeUnknownPlatform   = "unknown_platform"
	ErrCodeUnknownProcessor  = "unknown_processor"
	ErrCodeUnknownTxn        = "unknown_transaction"
	ErrCodeNotRefundable     = "not_refundable"
	ErrCodeExceedsRefundable = "exceeds_refundable_balance"
	ErrCodeDuplicateBatch    = "duplicate_batch"
	ErrCodeInvalidRule       = "invalid_rule"
)
