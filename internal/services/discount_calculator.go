package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the discount a value grants on price. Fixed values are clamped to the
// price; percentages are rounded half-up to the currency's minor unit.
func ComputeDiscount(value DiscountValue, price Money) (Money, error) {
	if price.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative price %s", ErrDiscountInvalidInput, price)
	}
	if value.Value.IsNegative() {
		return Money{}, fmt.Errorf("%w: negative discount value %s", ErrDiscountRuleInvalid, value.Value)
	}

	switch value.Type {
	case domain.DiscountValueFixed:
		if value.Currency != "" && value.Currency != price.Currency {
			return Money{}, fmt.Errorf("%w: fixed discount in %s applied to %s price", domain.ErrCurrencyMismatch, value.Currency, price.Currency)
		}
		return domain.NewMoney(value.Value, price.Currency).Min(price)
	case domain.DiscountValuePercentage:
		if value.Value.GreaterThan(hundred) {
			return Money{}, fmt.Errorf("%w: percentage %s exceeds 100", ErrDiscountRuleInvalid, value.Value)
		}
		amount := domain.NewMoney(price.Amount.Mul(value.Value).Div(hundred), price.Currency).Quantize()
		return amount.Min(price)
	default:
		return Money{}, fmt.Errorf("%w: unknown discount value type %q", ErrDiscountRuleInvalid, value.Type)
	}
}

// DiscountCalculator applies voucher scopes on top of ComputeDiscount.
type DiscountCalculator struct {
	matcher *CatalogueMatcher
}

// NewDiscountCalculator constructs a calculator. The matcher resolves specific-product scopes.
func NewDiscountCalculator(matcher *CatalogueMatcher) *DiscountCalculator {
	return &DiscountCalculator{matcher: matcher}
}

// VoucherDiscount computes the discount an eligible voucher grants in the context. A
// *NotApplicableError is returned when a specific-product voucher matches no line.
func (c *DiscountCalculator) VoucherDiscount(voucher Voucher, pctx PricingContext) (Money, error) {
	value, ok := voucher.Value(pctx.Channel)
	if !ok {
		return Money{}, fmt.Errorf("%w: voucher %s has no listing in channel %s", ErrDiscountRuleInvalid, voucher.Code, pctx.Channel)
	}

	switch voucher.Type {
	case domain.VoucherTypeEntireOrder:
		return ComputeDiscount(value, pctx.Subtotal.Gross)
	case domain.VoucherTypeShipping:
		return shippingDiscount(voucher, value, pctx)
	case domain.VoucherTypeSpecificProduct:
		return c.specificProductDiscount(voucher, value, pctx)
	default:
		return Money{}, fmt.Errorf("%w: unknown voucher type %q", ErrDiscountRuleInvalid, voucher.Type)
	}
}

// shippingDiscount never exceeds the shipping price; free shipping waives all of it.
func shippingDiscount(voucher Voucher, value DiscountValue, pctx PricingContext) (Money, error) {
	if voucher.IsFreeShipping(pctx.Channel) {
		return pctx.ShippingPrice, nil
	}
	discount, err := ComputeDiscount(value, pctx.ShippingPrice)
	if err != nil {
		return Money{}, err
	}
	return discount.Min(pctx.ShippingPrice)
}

func (c *DiscountCalculator) specificProductDiscount(voucher Voucher, value DiscountValue, pctx PricingContext) (Money, error) {
	var (
		eligible []LineInfo
		matcher  = c.matcher
	)
	if matcher == nil {
		return Money{}, fmt.Errorf("%w: catalogue matcher is not configured", ErrDiscountRuleInvalid)
	}
	for _, line := range pctx.Lines {
		matched, err := matcher.Matches(voucher.Catalogue, line.catalogueTarget())
		if err != nil {
			return Money{}, err
		}
		if matched {
			eligible = append(eligible, line)
		}
	}
	if len(eligible) == 0 {
		return Money{}, notApplicable(msgSelectedItemsOnly)
	}

	if voucher.ApplyOncePerOrder {
		var cheapest *Money
		for _, line := range eligible {
			unit, err := line.DiscountedUnitPrice()
			if err != nil {
				return Money{}, err
			}
			if cheapest == nil {
				cheapest = &unit
				continue
			}
			if cmp, err := unit.Cmp(*cheapest); err != nil {
				return Money{}, err
			} else if cmp < 0 {
				cheapest = &unit
			}
		}
		return ComputeDiscount(value, *cheapest)
	}

	total := domain.ZeroMoney(pctx.Currency)
	for _, line := range eligible {
		lineTotal, err := line.Total()
		if err != nil {
			return Money{}, err
		}
		if total, err = total.Add(lineTotal); err != nil {
			return Money{}, err
		}
	}
	return ComputeDiscount(value, total)
}
