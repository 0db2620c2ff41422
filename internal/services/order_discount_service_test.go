package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
)

func newOrderFixture(t *testing.T, order Order, vouchers ...Voucher) (OrderDiscountService, *stubOrderRepository) {
	t.Helper()
	repo := &stubOrderRepository{orders: map[string]Order{order.ID: order}}
	voucherRepo := &stubVoucherRepository{vouchers: make(map[string]Voucher)}
	for _, voucher := range vouchers {
		voucherRepo.vouchers[voucher.Code] = voucher
	}
	validator, err := NewEligibilityValidator(EligibilityValidatorDeps{Customers: &stubVoucherCustomerRepository{}})
	if err != nil {
		t.Fatalf("NewEligibilityValidator: %v", err)
	}
	clock := func() time.Time { return checkoutTestNow }
	recalculator, err := NewDiscountRecalculator(DiscountRecalculatorDeps{
		Vouchers:   voucherRepo,
		Promotions: &stubPromotionRepository{},
		Validator:  validator,
		Matcher:    mustMatcher(),
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("NewDiscountRecalculator: %v", err)
	}
	svc, err := NewOrderDiscountService(OrderDiscountServiceDeps{Orders: repo, Recalculator: recalculator, Clock: clock})
	if err != nil {
		t.Fatalf("NewOrderDiscountService: %v", err)
	}
	return svc, repo
}

func testOrder(id, status string, lines ...Line) Order {
	return Order{
		ID:              id,
		Channel:         testChannel,
		Currency:        "USD",
		Status:          status,
		UserEmail:       "buyer@example.com",
		LanguageCode:    "en",
		Lines:           lines,
		ShippingAddress: &domain.Address{Country: "US"},
		ShippingMethod:  "standard",
		ShippingPrice:   usd("10"),
		DiscountState:   DiscountState{Discount: domain.ZeroMoney("USD")},
	}
}

func TestNewOrderDiscountService_RequiresDependencies(t *testing.T) {
	if _, err := NewOrderDiscountService(OrderDiscountServiceDeps{}); !errors.Is(err, ErrDiscountRepositoryMissing) {
		t.Fatalf("expected ErrDiscountRepositoryMissing got %v", err)
	}
	if _, err := NewOrderDiscountService(OrderDiscountServiceDeps{Orders: &stubOrderRepository{}}); err == nil {
		t.Fatalf("expected error without recalculator")
	}
}

func TestOrderDiscountService_DraftLifecycle(t *testing.T) {
	order := testOrder("ord_1", "draft", testLine("l1", "prod-lamp", 2, "10"))
	voucher := testVoucher("HALF", domain.VoucherTypeEntireOrder, domain.DiscountValuePercentage, "50")
	voucher.MinCheckoutItemsQuantity = intPtr(2)
	svc, repo := newOrderFixture(t, order, voucher)

	result, err := svc.AddVoucher(context.Background(), ApplyVoucherCommand{TargetID: "ord_1", Code: "HALF"})
	if err != nil {
		t.Fatalf("AddVoucher: %v", err)
	}
	if !result.Order.Discount.Equal(usd("10")) {
		t.Fatalf("expected 10 USD got %s", result.Order.Discount)
	}
	if repo.orders["ord_1"].VoucherCode != "HALF" {
		t.Fatalf("expected order persisted with voucher")
	}

	recalculated, err := svc.Recalculate(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if recalculated.VoucherRemoved || !recalculated.Order.Discount.Equal(usd("10")) {
		t.Fatalf("expected voucher kept, got %+v", recalculated.Order.DiscountState)
	}

	removed, err := svc.RemoveVoucher(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("RemoveVoucher: %v", err)
	}
	if removed.Order.VoucherCode != "" || !removed.Order.Discount.IsZero() {
		t.Fatalf("expected cleared state got %+v", removed.Order.DiscountState)
	}
}

func TestOrderDiscountService_RejectsNonDraft(t *testing.T) {
	order := testOrder("ord_1", "unfulfilled", testLine("l1", "prod-lamp", 1, "10"))
	svc, repo := newOrderFixture(t, order)

	if _, err := svc.AddVoucher(context.Background(), ApplyVoucherCommand{TargetID: "ord_1", Code: "X"}); !errors.Is(err, ErrOrderNotEditable) {
		t.Fatalf("expected ErrOrderNotEditable got %v", err)
	}
	if _, err := svc.RemoveVoucher(context.Background(), "ord_1"); !errors.Is(err, ErrOrderNotEditable) {
		t.Fatalf("expected ErrOrderNotEditable got %v", err)
	}
	if _, err := svc.Recalculate(context.Background(), "ord_1"); !errors.Is(err, ErrOrderNotEditable) {
		t.Fatalf("expected ErrOrderNotEditable got %v", err)
	}
	if repo.saves != 0 {
		t.Fatalf("expected no writes for non-draft order")
	}
}

func TestOrderDiscountService_SaveCarriesLoadedRevision(t *testing.T) {
	order := testOrder("ord_1", "draft", testLine("l1", "prod-lamp", 1, "10"))
	order.Revision = checkoutTestNow.Add(-time.Minute)
	svc, repo := newOrderFixture(t, order, testVoucher("FIVE", domain.VoucherTypeEntireOrder, domain.DiscountValueFixed, "5"))

	if _, err := svc.Recalculate(context.Background(), "ord_1"); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if !repo.saved.Revision.Equal(order.Revision) {
		t.Fatalf("expected revision %s to reach the repository, got %s", order.Revision, repo.saved.Revision)
	}

	repo.saveErr = &stubRepoError{conflict: true}
	if _, err := svc.AddVoucher(context.Background(), ApplyVoucherCommand{TargetID: "ord_1", Code: "FIVE"}); !errors.Is(err, ErrDiscountConflict) {
		t.Fatalf("expected ErrDiscountConflict got %v", err)
	}
	if repo.orders["ord_1"].VoucherCode != "" {
		t.Fatalf("expected rejected write to leave the order untouched")
	}
}

func TestOrderDiscountService_UnknownVoucherMessage(t *testing.T) {
	svc, _ := newOrderFixture(t, testOrder("ord_1", "draft", testLine("l1", "prod-lamp", 1, "10")))

	_, err := svc.AddVoucher(context.Background(), ApplyVoucherCommand{TargetID: "ord_1", Code: "NOPE"})
	var rejection *NotApplicableError
	if !errors.As(err, &rejection) || rejection.Message != "Voucher is not applicable to this order." {
		t.Fatalf("unexpected error %v", err)
	}

	if _, err := svc.Recalculate(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound got %v", err)
	}
}
