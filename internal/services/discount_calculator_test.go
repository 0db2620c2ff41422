package services

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
)

func fixedValue(value string) DiscountValue {
	return DiscountValue{Type: domain.DiscountValueFixed, Value: decimal.RequireFromString(value), Currency: "USD"}
}

func percentValue(value string) DiscountValue {
	return DiscountValue{Type: domain.DiscountValuePercentage, Value: decimal.RequireFromString(value)}
}

func TestComputeDiscount(t *testing.T) {
	cases := []struct {
		name  string
		value DiscountValue
		price Money
		want  Money
	}{
		{name: "fixed below price", value: fixedValue("20"), price: usd("100"), want: usd("20")},
		{name: "fixed clamps to price", value: fixedValue("30"), price: usd("12.50"), want: usd("12.50")},
		{name: "percentage", value: percentValue("50"), price: usd("20"), want: usd("10")},
		{name: "percentage rounds half up", value: percentValue("5"), price: usd("2.50"), want: usd("0.13")},
		{name: "percentage rounds to minor unit", value: percentValue("33"), price: usd("10.05"), want: usd("3.32")},
		{name: "zero decimal currency", value: percentValue("15"), price: domain.MustMoney("999", "JPY"), want: domain.MustMoney("150", "JPY")},
		{name: "full percentage", value: percentValue("100"), price: usd("7.99"), want: usd("7.99")},
		{name: "zero price", value: fixedValue("5"), price: usd("0"), want: usd("0")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeDiscount(tc.value, tc.price)
			if err != nil {
				t.Fatalf("ComputeDiscount returned error: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestComputeDiscount_Errors(t *testing.T) {
	cases := []struct {
		name  string
		value DiscountValue
		price Money
		want  error
	}{
		{name: "negative price", value: fixedValue("5"), price: usd("-1"), want: ErrDiscountInvalidInput},
		{name: "negative value", value: fixedValue("-5"), price: usd("10"), want: ErrDiscountRuleInvalid},
		{name: "percentage above hundred", value: percentValue("101"), price: usd("10"), want: ErrDiscountRuleInvalid},
		{name: "unknown type", value: DiscountValue{Type: "bogus", Value: decimal.NewFromInt(1)}, price: usd("10"), want: ErrDiscountRuleInvalid},
		{name: "fixed in other currency", value: fixedValue("5"), price: domain.MustMoney("10", "EUR"), want: domain.ErrCurrencyMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeDiscount(tc.value, tc.price)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v got %v", tc.want, err)
			}
		})
	}
}

func TestComputeDiscount_Bounds(t *testing.T) {
	prices := []string{"0", "0.01", "0.99", "1", "9.95", "19.99", "100", "1234.56"}
	values := []string{"0", "0.5", "1", "12.5", "33", "50", "99.99", "100", "250"}

	for _, p := range prices {
		price := usd(p)
		for _, v := range values {
			fixed, err := ComputeDiscount(fixedValue(v), price)
			if err != nil {
				t.Fatalf("fixed %s on %s: %v", v, p, err)
			}
			remaining, _ := price.Sub(fixed)
			if fixed.IsNegative() || remaining.IsNegative() {
				t.Fatalf("fixed %s on %s produced discount %s remaining %s", v, p, fixed, remaining)
			}

			pct := decimal.RequireFromString(v)
			if pct.GreaterThan(decimal.NewFromInt(100)) {
				continue
			}
			percentage, err := ComputeDiscount(percentValue(v), price)
			if err != nil {
				t.Fatalf("percentage %s on %s: %v", v, p, err)
			}
			want := price.Amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)
			if !percentage.Amount.Equal(want) {
				t.Fatalf("percentage %s on %s: expected %s got %s", v, p, want, percentage.Amount)
			}
			if cmp, _ := percentage.Cmp(price); cmp > 0 {
				t.Fatalf("percentage %s on %s exceeded price: %s", v, p, percentage)
			}
		}
	}
}

func TestDiscountCalculator_VoucherDiscount(t *testing.T) {
	calc := NewDiscountCalculator(mustMatcher())

	t.Run("entire order fixed", func(t *testing.T) {
		voucher := testVoucher("TWENTY", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "20")
		got, err := calc.VoucherDiscount(voucher, testPricingContext("100", 1))
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("20")) {
			t.Fatalf("expected 20 USD got %s", got)
		}
	})

	t.Run("entire order percentage", func(t *testing.T) {
		voucher := testVoucher("HALF", domain.VoucherTypeEntireOrder, domain.DiscountValuePercentage, "50")
		voucher.MinCheckoutItemsQuantity = intPtr(2)
		got, err := calc.VoucherDiscount(voucher, testPricingContext("20", 2))
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("10")) {
			t.Fatalf("expected 10 USD got %s", got)
		}
	})

	t.Run("free shipping", func(t *testing.T) {
		voucher := testVoucher("SHIPFREE", domain.VoucherTypeShipping, domain.DiscountValuePercentage, "100")
		got, err := calc.VoucherDiscount(voucher, testPricingContext("100", 1))
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("10")) {
			t.Fatalf("expected full shipping 10 USD got %s", got)
		}
	})

	t.Run("shipping fixed capped at shipping price", func(t *testing.T) {
		voucher := testVoucher("SHIP25", domain.VoucherTypeShipping, domain.DiscountValueFixed, "25")
		got, err := calc.VoucherDiscount(voucher, testPricingContext("100", 1))
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("10")) {
			t.Fatalf("expected 10 USD got %s", got)
		}
	})

	t.Run("missing channel listing", func(t *testing.T) {
		voucher := testVoucher("TWENTY", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "20")
		pctx := testPricingContext("100", 1)
		pctx.Channel = "other"
		if _, err := calc.VoucherDiscount(voucher, pctx); !errors.Is(err, ErrDiscountRuleInvalid) {
			t.Fatalf("expected ErrDiscountRuleInvalid got %v", err)
		}
	})
}

func TestDiscountCalculator_SpecificProduct(t *testing.T) {
	calc := NewDiscountCalculator(mustMatcher())
	pctx := testPricingContext("42", 4)
	pctx.Lines = lineInfos([]Line{
		testLine("l1", "prod-mug", 1, "10"),
		testLine("l2", "prod-mug", 1, "10"),
		testLine("l3", "prod-mug", 1, "10"),
		testLine("l4", "prod-poster", 1, "12"),
	})

	t.Run("apply once per order uses a single application", func(t *testing.T) {
		voucher := testVoucher("MUG5", domain.VoucherTypeSpecificProduct, domain.DiscountValueFixed, "5")
		voucher.ApplyOncePerOrder = true
		voucher.Catalogue = CataloguePredicate{ProductIDs: []string{"prod-mug"}}
		got, err := calc.VoucherDiscount(voucher, pctx)
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("5")) {
			t.Fatalf("expected 5 USD got %s", got)
		}
	})

	t.Run("apply once per order picks the cheapest line", func(t *testing.T) {
		voucher := testVoucher("ALL20", domain.VoucherTypeSpecificProduct, domain.DiscountValueFixed, "20")
		voucher.ApplyOncePerOrder = true
		voucher.Catalogue = CataloguePredicate{ProductIDs: []string{"prod-mug", "prod-poster"}}
		got, err := calc.VoucherDiscount(voucher, pctx)
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("10")) {
			t.Fatalf("expected discount capped at cheapest price 10 USD got %s", got)
		}
	})

	t.Run("sum of eligible lines", func(t *testing.T) {
		voucher := testVoucher("MUG10PCT", domain.VoucherTypeSpecificProduct, domain.DiscountValuePercentage, "10")
		voucher.Catalogue = CataloguePredicate{ProductIDs: []string{"prod-mug"}}
		got, err := calc.VoucherDiscount(voucher, pctx)
		if err != nil {
			t.Fatalf("VoucherDiscount: %v", err)
		}
		if !got.Equal(usd("3")) {
			t.Fatalf("expected 3 USD got %s", got)
		}
	})

	t.Run("no matching line", func(t *testing.T) {
		voucher := testVoucher("HATS", domain.VoucherTypeSpecificProduct, domain.DiscountValueFixed, "5")
		voucher.Catalogue = CataloguePredicate{CategoryIDs: []string{"cat-hats"}}
		_, err := calc.VoucherDiscount(voucher, pctx)
		var rejection *NotApplicableError
		if !errors.As(err, &rejection) {
			t.Fatalf("expected NotApplicableError got %v", err)
		}
		if rejection.Message != "This offer is only valid for selected items." {
			t.Fatalf("unexpected message %q", rejection.Message)
		}
	})
}
