package repositories

import "fmt"

// VoucherUsageErrorCode enumerates failure reasons for voucher usage mutations.
type VoucherUsageErrorCode string

const (
	// VoucherUsageErrorUnknown represents an unspecified failure.
	VoucherUsageErrorUnknown VoucherUsageErrorCode = "voucher_usage_unknown"
	// VoucherUsageErrorInvalidInput indicates the caller supplied invalid arguments.
	VoucherUsageErrorInvalidInput VoucherUsageErrorCode = "voucher_usage_invalid_input"
	// VoucherUsageErrorLimitReached indicates used has reached usage_limit.
	VoucherUsageErrorLimitReached VoucherUsageErrorCode = "voucher_usage_limit_reached"
	// VoucherUsageErrorAlreadyRedeemed indicates a once-per-customer voucher was already redeemed by the email.
	VoucherUsageErrorAlreadyRedeemed VoucherUsageErrorCode = "voucher_usage_already_redeemed"
	// VoucherUsageErrorNotRedeemed indicates a release was requested without a matching redemption.
	VoucherUsageErrorNotRedeemed VoucherUsageErrorCode = "voucher_usage_not_redeemed"
)

// VoucherUsageError wraps usage counter failures with machine readable codes.
type VoucherUsageError struct {
	Op      string
	Code    VoucherUsageErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *VoucherUsageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *VoucherUsageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewVoucherUsageError constructs a typed usage error.
func NewVoucherUsageError(code VoucherUsageErrorCode, message string, err error) *VoucherUsageError {
	if message == "" {
		message = string(code)
	}
	return &VoucherUsageError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
