package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountValueType selects how a discount value is interpreted.
type DiscountValueType string

const (
	// DiscountValueFixed subtracts a currency amount.
	DiscountValueFixed DiscountValueType = "fixed"
	// DiscountValuePercentage reduces the price by a percentage in the [0, 100] range.
	DiscountValuePercentage DiscountValueType = "percentage"
)

// VoucherType describes what part of an order a voucher discounts.
type VoucherType string

const (
	// VoucherTypeEntireOrder discounts the order subtotal.
	VoucherTypeEntireOrder VoucherType = "entire_order"
	// VoucherTypeSpecificProduct discounts only lines matching the voucher catalogue.
	VoucherTypeSpecificProduct VoucherType = "specific_product"
	// VoucherTypeShipping discounts the shipping price.
	VoucherTypeShipping VoucherType = "shipping"
)

// DiscountType tags the origin of a line discount.
type DiscountType string

const (
	DiscountTypeCataloguePromotion DiscountType = "CATALOGUE_PROMOTION"
	DiscountTypeOrderPromotion     DiscountType = "ORDER_PROMOTION"
	DiscountTypeVoucher            DiscountType = "VOUCHER"
)

// DiscountValue is the reward shape shared by vouchers and promotion rules.
type DiscountValue struct {
	Type     DiscountValueType
	Value    decimal.Decimal
	Currency string
}

// Voucher is a customer-entered code granting a discount.
type Voucher struct {
	ID                       string
	Code                     string
	Name                     string
	Translations             map[string]string
	Type                     VoucherType
	DiscountValueType        DiscountValueType
	Channels                 map[string]VoucherChannelListing
	MinCheckoutItemsQuantity *int
	UsageLimit               *int
	Used                     int
	ApplyOncePerCustomer     bool
	ApplyOncePerOrder        bool
	OnlyForStaff             bool
	StartDate                time.Time
	EndDate                  *time.Time
	Countries                []string
	Catalogue                CataloguePredicate
}

// VoucherChannelListing holds the per-channel value and minimum spend of a voucher.
type VoucherChannelListing struct {
	DiscountValue decimal.Decimal
	Currency      string
	MinSpent      *Money
}

// Listing returns the voucher's listing for a channel.
func (v Voucher) Listing(channel string) (VoucherChannelListing, bool) {
	listing, ok := v.Channels[strings.TrimSpace(channel)]
	return listing, ok
}

// IsActiveAt reports whether now falls in [StartDate, EndDate) and the usage limit is not exhausted.
func (v Voucher) IsActiveAt(now time.Time) bool {
	if !v.StartDate.IsZero() && now.Before(v.StartDate) {
		return false
	}
	if v.EndDate != nil && !now.Before(*v.EndDate) {
		return false
	}
	if v.UsageLimit != nil && v.Used >= *v.UsageLimit {
		return false
	}
	return true
}

// Value resolves the voucher discount value for a channel.
func (v Voucher) Value(channel string) (DiscountValue, bool) {
	listing, ok := v.Listing(channel)
	if !ok {
		return DiscountValue{}, false
	}
	return DiscountValue{Type: v.DiscountValueType, Value: listing.DiscountValue, Currency: listing.Currency}, true
}

// IsFreeShipping reports whether the voucher waives the full shipping price in the channel.
func (v Voucher) IsFreeShipping(channel string) bool {
	if v.Type != VoucherTypeShipping || v.DiscountValueType != DiscountValuePercentage {
		return false
	}
	listing, ok := v.Listing(channel)
	return ok && listing.DiscountValue.GreaterThanOrEqual(decimal.NewFromInt(100))
}

// VoucherCustomer records a customer redemption of a voucher.
type VoucherCustomer struct {
	VoucherID     string
	CustomerEmail string
	RedeemedAt    time.Time
}

// Promotion is a merchant-defined catalogue-wide discount.
type Promotion struct {
	ID                          string
	Name                        string
	Translations                map[string]string
	StartDate                   time.Time
	EndDate                     *time.Time
	LastNotificationScheduledAt *time.Time
	Rules                       []PromotionRule
	UpdatedAt                   time.Time
}

// IsActiveAt reports whether the promotion runs at the given instant.
func (p Promotion) IsActiveAt(now time.Time) bool {
	if !p.StartDate.IsZero() && now.Before(p.StartDate) {
		return false
	}
	if p.EndDate != nil && !now.Before(*p.EndDate) {
		return false
	}
	return true
}

// PromotionRule is one reward of a promotion scoped to channels and a catalogue predicate.
type PromotionRule struct {
	ID              string
	PromotionID     string
	Name            string
	Channels        []string
	RewardValueType DiscountValueType
	RewardValue     decimal.Decimal
	Currency        string
	Catalogue       CataloguePredicate
	// VariantIDs and ProductIDs cache the predicate's membership; they are stale while VariantsDirty is set.
	VariantIDs    []string
	ProductIDs    []string
	VariantsDirty bool
}

// InChannel reports whether the rule applies to the channel.
func (r PromotionRule) InChannel(channel string) bool {
	channel = strings.TrimSpace(channel)
	for _, c := range r.Channels {
		if strings.TrimSpace(c) == channel {
			return true
		}
	}
	return false
}

// Reward returns the rule reward as a DiscountValue.
func (r PromotionRule) Reward() DiscountValue {
	return DiscountValue{Type: r.RewardValueType, Value: r.RewardValue, Currency: r.Currency}
}

// CataloguePredicate selects catalogue entities. Membership lists at the same level are OR-ed;
// nested Or/And groups combine sub-predicates.
type CataloguePredicate struct {
	ProductIDs    []string
	CategoryIDs   []string
	CollectionIDs []string
	VariantIDs    []string
	Or            []CataloguePredicate
	And           []CataloguePredicate
}

// IsEmpty reports whether the predicate selects nothing.
func (p CataloguePredicate) IsEmpty() bool {
	return len(p.ProductIDs) == 0 && len(p.CategoryIDs) == 0 && len(p.CollectionIDs) == 0 &&
		len(p.VariantIDs) == 0 && len(p.Or) == 0 && len(p.And) == 0
}

// PromotionTransitions groups promotions crossing their start or end boundary.
type PromotionTransitions struct {
	Starting []Promotion
	Ending   []Promotion
}

// ProductVariant is the pricing view of a sellable variant.
type ProductVariant struct {
	ID            string
	ProductID     string
	CategoryID    string
	CollectionIDs []string
	Channels      map[string]VariantChannelListing
}

// VariantChannelListing stores the undiscounted and discounted price of a variant in a channel.
type VariantChannelListing struct {
	Price           Money
	DiscountedPrice *Money
	PromotionRuleID string
}
