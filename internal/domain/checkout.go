package domain

import "time"

// DiscountState is the discount portion of a checkout or order aggregate. Only the discount
// recalculator writes it.
type DiscountState struct {
	VoucherCode            string
	Discount               Money
	DiscountName           string
	TranslatedDiscountName string
}

// HasVoucher reports whether a voucher code is attached.
func (s DiscountState) HasVoucher() bool {
	return s.VoucherCode != ""
}

// Cleared returns the zero discount state in the given currency.
func (s DiscountState) Cleared(currencyCode string) DiscountState {
	return DiscountState{Discount: ZeroMoney(currencyCode)}
}

// Address is the subset of a postal address relevant to discount eligibility.
type Address struct {
	Country    string
	PostalCode string
}

// Line is a checkout or order line.
type Line struct {
	ID            string
	VariantID     string
	ProductID     string
	CategoryID    string
	CollectionIDs []string
	Quantity      int
	UnitPrice     Money
	// RequiresShipping is false for digital goods.
	RequiresShipping bool
	Discounts        []LineDiscount
}

// LineDiscount is a discount attached to a single line.
type LineDiscount struct {
	ID          string
	Type        DiscountType
	ValueType   DiscountValueType
	Value       string
	Amount      Money
	Name        string
	RuleID      string
	PromotionID string
	VoucherCode string
}

// Checkout is the cart-to-order aggregate the discount engine reads and updates. Revision is the
// storage update time observed on load; discount writes are rejected once the stored document has
// moved past it.
type Checkout struct {
	ID              string
	Channel         string
	Currency        string
	Email           string
	LanguageCode    string
	Lines           []Line
	ShippingAddress *Address
	ShippingMethod  string
	ShippingPrice   Money
	DiscountState
	UpdatedAt time.Time
	Revision  time.Time
}

// Order is a placed or draft order.
type Order struct {
	ID              string
	Channel         string
	Currency        string
	Status          string
	UserEmail       string
	LanguageCode    string
	Lines           []Line
	ShippingAddress *Address
	ShippingMethod  string
	ShippingPrice   Money
	DiscountState
	UpdatedAt time.Time
	Revision  time.Time
}

// OrderStatusDraft marks orders whose discounts may still change.
const OrderStatusDraft = "draft"

// DiscountTotals summarises an aggregate after discounts.
type DiscountTotals struct {
	Subtotal TaxedMoney
	Shipping Money
	Discount Money
	Total    Money
}
