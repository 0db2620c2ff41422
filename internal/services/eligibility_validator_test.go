package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/hanko-field/discounts/internal/domain"
)

func newTestValidator(t *testing.T, customers *stubVoucherCustomerRepository) *EligibilityValidator {
	t.Helper()
	if customers == nil {
		customers = &stubVoucherCustomerRepository{}
	}
	validator, err := NewEligibilityValidator(EligibilityValidatorDeps{Customers: customers})
	if err != nil {
		t.Fatalf("NewEligibilityValidator: %v", err)
	}
	return validator
}

func TestNewEligibilityValidator_RequiresCustomers(t *testing.T) {
	if _, err := NewEligibilityValidator(EligibilityValidatorDeps{}); !errors.Is(err, ErrDiscountRepositoryMissing) {
		t.Fatalf("expected ErrDiscountRepositoryMissing got %v", err)
	}
}

func TestEligibilityValidator_Rejections(t *testing.T) {
	shipping := func() Voucher {
		return testVoucher("SHIP", domain.VoucherTypeShipping, domain.DiscountValuePercentage, "100")
	}

	cases := []struct {
		name    string
		voucher func() Voucher
		pctx    func() PricingContext
		message string
	}{
		{
			name:    "shipping not required",
			voucher: shipping,
			pctx: func() PricingContext {
				pctx := testPricingContext("100", 1)
				pctx.RequiresShipping = false
				pctx.ShippingMethod = ""
				return pctx
			},
			message: "Your order does not require shipping.",
		},
		{
			name:    "shipping method missing wins over country",
			voucher: func() Voucher { v := shipping(); v.Countries = []string{"PL"}; return v },
			pctx: func() PricingContext {
				pctx := testPricingContext("100", 1)
				pctx.ShippingMethod = ""
				return pctx
			},
			message: "Please select a shipping method first.",
		},
		{
			name:    "country not allowed",
			voucher: func() Voucher { v := shipping(); v.Countries = []string{"PL"}; return v },
			pctx:    func() PricingContext { return testPricingContext("100", 1) },
			message: "This offer is not valid in your country.",
		},
		{
			name: "country rejection wins over min spent",
			voucher: func() Voucher {
				v := shipping()
				v.Countries = []string{"pl"}
				listing := v.Channels[testChannel]
				listing.MinSpent = moneyPtr(usd("500"))
				v.Channels[testChannel] = listing
				return v
			},
			pctx:    func() PricingContext { return testPricingContext("100", 1) },
			message: "This offer is not valid in your country.",
		},
		{
			name: "min quantity",
			voucher: func() Voucher {
				v := testVoucher("QTY", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5")
				v.MinCheckoutItemsQuantity = intPtr(3)
				return v
			},
			pctx:    func() PricingContext { return testPricingContext("100", 2) },
			message: "This offer is only valid for orders with a minimum of 3 quantity.",
		},
		{
			name: "customer unknown",
			voucher: func() Voucher {
				v := testVoucher("ONCE", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5")
				v.ApplyOncePerCustomer = true
				return v
			},
			pctx: func() PricingContext {
				pctx := testPricingContext("100", 1)
				pctx.CustomerEmail = ""
				return pctx
			},
			message: "Unable to apply voucher as customer details are unavailable.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator := newTestValidator(t, nil)
			verdict, err := validator.Validate(context.Background(), tc.voucher(), tc.pctx())
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if verdict.Eligible() {
				t.Fatalf("expected rejection %q", tc.message)
			}
			if verdict.Rejection.Message != tc.message {
				t.Fatalf("expected %q got %q", tc.message, verdict.Rejection.Message)
			}
			if !errors.Is(verdict.Rejection, ErrDiscountNotApplicable) {
				t.Fatalf("expected rejection to match ErrDiscountNotApplicable")
			}
		})
	}
}

func TestEligibilityValidator_CountryNotAllowed(t *testing.T) {
	validator := newTestValidator(t, nil)
	voucher := testVoucher("PLSHIP", domain.VoucherTypeShipping, domain.DiscountValueFixed, "5")
	voucher.Countries = []string{"PL"}

	verdict, err := validator.Validate(context.Background(), voucher, testPricingContext("100", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Eligible() || verdict.Rejection.Message != "This offer is not valid in your country." {
		t.Fatalf("unexpected verdict %+v", verdict.Rejection)
	}

	pctx := testPricingContext("100", 1)
	pctx.ShippingCountry = "PL"
	verdict, err = validator.Validate(context.Background(), voucher, pctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Eligible() {
		t.Fatalf("expected voucher to apply in PL, got %q", verdict.Rejection.Message)
	}
}

func TestEligibilityValidator_MinSpent(t *testing.T) {
	validator := newTestValidator(t, nil)
	voucher := testVoucher("BIG", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "10")
	listing := voucher.Channels[testChannel]
	listing.MinSpent = moneyPtr(usd("100"))
	voucher.Channels[testChannel] = listing

	verdict, err := validator.Validate(context.Background(), voucher, testPricingContext("99.99", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Eligible() {
		t.Fatalf("expected min spent rejection")
	}
	if verdict.Rejection.Message != "This offer is only valid for orders over $100.00." {
		t.Fatalf("unexpected message %q", verdict.Rejection.Message)
	}
	if verdict.Rejection.MinSpent == nil || !verdict.Rejection.MinSpent.Equal(usd("100")) {
		t.Fatalf("expected min spent detail, got %+v", verdict.Rejection.MinSpent)
	}

	verdict, err = validator.Validate(context.Background(), voucher, testPricingContext("100", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Eligible() {
		t.Fatalf("expected subtotal equal to min spent to pass, got %q", verdict.Rejection.Message)
	}
}

func TestEligibilityValidator_MinQuantityDetail(t *testing.T) {
	validator := newTestValidator(t, nil)
	voucher := testVoucher("HALF", domain.VoucherTypeEntireOrder, domain.DiscountValuePercentage, "50")
	voucher.MinCheckoutItemsQuantity = intPtr(2)

	verdict, err := validator.Validate(context.Background(), voucher, testPricingContext("20", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Rejection == nil || verdict.Rejection.MinCheckoutItemsQuantity == nil || *verdict.Rejection.MinCheckoutItemsQuantity != 2 {
		t.Fatalf("expected quantity detail, got %+v", verdict.Rejection)
	}

	verdict, err = validator.Validate(context.Background(), voucher, testPricingContext("20", 2))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Eligible() {
		t.Fatalf("expected eligible, got %q", verdict.Rejection.Message)
	}
}

func TestEligibilityValidator_OncePerCustomer(t *testing.T) {
	voucher := testVoucher("ONCE", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5")
	voucher.ApplyOncePerCustomer = true

	customers := &stubVoucherCustomerRepository{redeemed: map[string]bool{voucher.ID + "|buyer@example.com": true}}
	validator := newTestValidator(t, customers)

	verdict, err := validator.Validate(context.Background(), voucher, testPricingContext("100", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Eligible() || verdict.Rejection.Message != "This offer is valid only once per customer." {
		t.Fatalf("unexpected verdict %+v", verdict.Rejection)
	}

	pctx := testPricingContext("100", 1)
	pctx.CustomerEmail = "someone@example.com"
	verdict, err = validator.Validate(context.Background(), voucher, pctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Eligible() {
		t.Fatalf("expected first redemption to pass")
	}
	if customers.calls != 2 {
		t.Fatalf("expected two redemption lookups got %d", customers.calls)
	}
}

func TestEligibilityValidator_RedemptionLookupFailure(t *testing.T) {
	voucher := testVoucher("ONCE", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5")
	voucher.ApplyOncePerCustomer = true
	validator := newTestValidator(t, &stubVoucherCustomerRepository{err: &stubRepoError{unavailable: true}})

	_, err := validator.Validate(context.Background(), voucher, testPricingContext("100", 1))
	if !errors.Is(err, ErrDiscountUnavailable) {
		t.Fatalf("expected ErrDiscountUnavailable got %v", err)
	}
}

func TestEligibilityValidator_SkipsLookupWhenEarlierCheckFails(t *testing.T) {
	voucher := testVoucher("ONCE", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5")
	voucher.ApplyOncePerCustomer = true
	voucher.MinCheckoutItemsQuantity = intPtr(5)
	customers := &stubVoucherCustomerRepository{}
	validator := newTestValidator(t, customers)

	verdict, err := validator.Validate(context.Background(), voucher, testPricingContext("100", 1))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Eligible() {
		t.Fatalf("expected quantity rejection")
	}
	if customers.calls != 0 {
		t.Fatalf("expected no redemption lookup, got %d", customers.calls)
	}
}
