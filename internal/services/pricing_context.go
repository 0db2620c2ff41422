package services

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
)

// LineInfo is the per-line pricing view assembled on every pricing pass.
type LineInfo struct {
	Line      Line
	Discounts []LineDiscount
}

// UndiscountedTotal returns unit price times quantity.
func (l LineInfo) UndiscountedTotal() Money {
	return l.Line.UnitPrice.Mul(l.Line.Quantity)
}

// TotalDiscount sums every discount attached to the line.
func (l LineInfo) TotalDiscount() (Money, error) {
	total := domain.ZeroMoney(l.Line.UnitPrice.Currency)
	for _, discount := range l.Discounts {
		next, err := total.Add(discount.Amount)
		if err != nil {
			return Money{}, fmt.Errorf("line %s: %w", l.Line.ID, err)
		}
		total = next
	}
	return total, nil
}

// Total returns the line total after its discounts, never below zero.
func (l LineInfo) Total() (Money, error) {
	discount, err := l.TotalDiscount()
	if err != nil {
		return Money{}, err
	}
	total, err := l.UndiscountedTotal().Sub(discount)
	if err != nil {
		return Money{}, err
	}
	return total.FloorAtZero(), nil
}

// DiscountedUnitPrice spreads the line total over its quantity.
func (l LineInfo) DiscountedUnitPrice() (Money, error) {
	total, err := l.Total()
	if err != nil {
		return Money{}, err
	}
	if l.Line.Quantity <= 0 {
		return total, nil
	}
	unit := total.Amount.Div(decimal.NewFromInt(int64(l.Line.Quantity)))
	return domain.NewMoney(unit, total.Currency).Quantize(), nil
}

func (l LineInfo) catalogueTarget() CatalogueTarget {
	return CatalogueTarget{
		VariantID:     l.Line.VariantID,
		ProductID:     l.Line.ProductID,
		CategoryID:    l.Line.CategoryID,
		CollectionIDs: l.Line.CollectionIDs,
	}
}

// PricingContext is the priced snapshot of a checkout or order that eligibility and calculation run against.
type PricingContext struct {
	Channel          string
	Currency         string
	Subtotal         TaxedMoney
	Quantity         int
	RequiresShipping bool
	ShippingMethod   string
	ShippingPrice    Money
	ShippingCountry  string
	CustomerEmail    string
	LanguageCode     string
	Lines            []LineInfo
}

// discountTarget is the aggregate-independent input of the recalculator.
type discountTarget struct {
	kind            string
	Channel         string
	Currency        string
	Email           string
	LanguageCode    string
	Lines           []Line
	ShippingAddress *domain.Address
	ShippingMethod  string
	ShippingPrice   Money
	State           DiscountState
}

func checkoutTarget(checkout Checkout) discountTarget {
	return discountTarget{
		kind:            "checkout",
		Channel:         checkout.Channel,
		Currency:        checkout.Currency,
		Email:           checkout.Email,
		LanguageCode:    checkout.LanguageCode,
		Lines:           checkout.Lines,
		ShippingAddress: checkout.ShippingAddress,
		ShippingMethod:  checkout.ShippingMethod,
		ShippingPrice:   checkout.ShippingPrice,
		State:           checkout.DiscountState,
	}
}

func orderTarget(order Order) discountTarget {
	return discountTarget{
		kind:            "order",
		Channel:         order.Channel,
		Currency:        order.Currency,
		Email:           order.UserEmail,
		LanguageCode:    order.LanguageCode,
		Lines:           order.Lines,
		ShippingAddress: order.ShippingAddress,
		ShippingMethod:  order.ShippingMethod,
		ShippingPrice:   order.ShippingPrice,
		State:           order.DiscountState,
	}
}

func buildPricingContext(target discountTarget, lines []LineInfo) (PricingContext, error) {
	currency := strings.ToUpper(strings.TrimSpace(target.Currency))
	subtotal := domain.ZeroMoney(currency)
	quantity := 0
	requiresShipping := false
	for _, line := range lines {
		total, err := line.Total()
		if err != nil {
			return PricingContext{}, err
		}
		subtotal, err = subtotal.Add(total)
		if err != nil {
			return PricingContext{}, fmt.Errorf("line %s: %w", line.Line.ID, err)
		}
		quantity += line.Line.Quantity
		if line.Line.RequiresShipping {
			requiresShipping = true
		}
	}

	shipping := target.ShippingPrice
	if shipping.Currency == "" {
		shipping = domain.ZeroMoney(currency)
	}

	pctx := PricingContext{
		Channel:          strings.TrimSpace(target.Channel),
		Currency:         currency,
		Subtotal:         TaxedMoney{Net: subtotal, Gross: subtotal},
		Quantity:         quantity,
		RequiresShipping: requiresShipping,
		ShippingMethod:   strings.TrimSpace(target.ShippingMethod),
		ShippingPrice:    shipping,
		CustomerEmail:    strings.ToLower(strings.TrimSpace(target.Email)),
		LanguageCode:     strings.TrimSpace(target.LanguageCode),
		Lines:            lines,
	}
	if target.ShippingAddress != nil {
		pctx.ShippingCountry = strings.ToUpper(strings.TrimSpace(target.ShippingAddress.Country))
	}
	return pctx, nil
}

// totalsFor derives aggregate totals from a pricing context and the voucher discount.
func totalsFor(pctx PricingContext, discount Money) (DiscountTotals, error) {
	if discount.Currency == "" {
		discount = domain.ZeroMoney(pctx.Currency)
	}
	gross, err := pctx.Subtotal.Gross.Add(pctx.ShippingPrice)
	if err != nil {
		return DiscountTotals{}, err
	}
	total, err := gross.Sub(discount)
	if err != nil {
		return DiscountTotals{}, err
	}
	return DiscountTotals{
		Subtotal: pctx.Subtotal,
		Shipping: pctx.ShippingPrice,
		Discount: discount,
		Total:    total.FloorAtZero(),
	}, nil
}

func lineInfos(lines []Line) []LineInfo {
	infos := make([]LineInfo, 0, len(lines))
	for _, line := range lines {
		infos = append(infos, LineInfo{Line: line, Discounts: append([]LineDiscount(nil), line.Discounts...)})
	}
	return infos
}

func linesFromInfos(infos []LineInfo) []Line {
	lines := make([]Line, 0, len(infos))
	for _, info := range infos {
		line := info.Line
		line.Discounts = append([]LineDiscount(nil), info.Discounts...)
		lines = append(lines, line)
	}
	return lines
}
