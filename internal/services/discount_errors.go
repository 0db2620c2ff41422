package services

import (
	"errors"

	domain "github.com/hanko-field/discounts/internal/domain"
)

var (
	// ErrDiscountNotApplicable matches every *NotApplicableError via errors.Is.
	ErrDiscountNotApplicable = errors.New("discount: not applicable")
	// ErrDiscountRuleInvalid marks corrupt rule records such as unknown value types or negative values.
	ErrDiscountRuleInvalid = errors.New("discount: invalid rule")
	// ErrDiscountInvalidInput signals bad caller input such as blank identifiers or negative prices.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountRepositoryMissing indicates a required repository dependency is absent.
	ErrDiscountRepositoryMissing = errors.New("discount: repository is not configured")
	// ErrDiscountUnavailable indicates the backing store is temporarily unavailable.
	ErrDiscountUnavailable = errors.New("discount: store unavailable")
	// ErrCheckoutNotFound indicates the checkout does not exist.
	ErrCheckoutNotFound = errors.New("discount: checkout not found")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("discount: order not found")
	// ErrOrderNotEditable is returned when discounts are changed on a non-draft order.
	ErrOrderNotEditable = errors.New("discount: order is not editable")
	// ErrDiscountConflict indicates a concurrent update of the same aggregate.
	ErrDiscountConflict = errors.New("discount: concurrent update")
)

var (
	// ErrVoucherNotFound indicates no voucher exists for the code.
	ErrVoucherNotFound = errors.New("voucher usage: voucher not found")
	// ErrVoucherUsageLimitReached indicates the voucher usage limit is exhausted.
	ErrVoucherUsageLimitReached = errors.New("voucher usage: usage limit reached")
	// ErrVoucherAlreadyRedeemed indicates a once-per-customer voucher was already used by the customer.
	ErrVoucherAlreadyRedeemed = errors.New("voucher usage: already redeemed by customer")
	// ErrVoucherNotRedeemed indicates a release without a matching redemption.
	ErrVoucherNotRedeemed = errors.New("voucher usage: no redemption to release")
)

const (
	msgShippingNotRequired   = "Your order does not require shipping."
	msgShippingMethodMissing = "Please select a shipping method first."
	msgCountryNotAllowed     = "This offer is not valid in your country."
	msgMinSpent              = "This offer is only valid for orders over %s."
	msgMinQuantity           = "This offer is only valid for orders with a minimum of %d quantity."
	msgOncePerCustomer       = "This offer is valid only once per customer."
	msgCustomerUnknown       = "Unable to apply voucher as customer details are unavailable."
	msgSelectedItemsOnly     = "This offer is only valid for selected items."
	msgVoucherNotApplicable  = "Voucher is not applicable to this %s."
)

// NotApplicableError is the typed rejection returned when a discount's preconditions are unmet.
// It is a business outcome, not a failure: callers either surface Message to the customer or drop
// the voucher silently.
type NotApplicableError struct {
	Message                  string
	MinSpent                 *domain.Money
	MinCheckoutItemsQuantity *int
}

// Error implements the error interface.
func (e *NotApplicableError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Is lets errors.Is(err, ErrDiscountNotApplicable) match any rejection.
func (e *NotApplicableError) Is(target error) bool {
	return target == ErrDiscountNotApplicable
}

func notApplicable(message string) *NotApplicableError {
	return &NotApplicableError{Message: message}
}
