package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/repositories"
)

const testChannel = "default-channel"

func usd(amount string) Money {
	return domain.MustMoney(amount, "USD")
}

func intPtr(v int) *int {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func moneyPtr(m Money) *Money {
	return &m
}

func testLine(id, productID string, quantity int, unitPrice string) Line {
	return Line{
		ID:               id,
		VariantID:        "var-" + strings.TrimPrefix(productID, "prod-") + "-" + id,
		ProductID:        productID,
		CategoryID:       "cat-general",
		Quantity:         quantity,
		UnitPrice:        usd(unitPrice),
		RequiresShipping: true,
	}
}

func testCheckout(id string, lines ...Line) Checkout {
	return Checkout{
		ID:              id,
		Channel:         testChannel,
		Currency:        "USD",
		Email:           "Buyer@Example.com",
		LanguageCode:    "en",
		Lines:           lines,
		ShippingAddress: &domain.Address{Country: "US", PostalCode: "10001"},
		ShippingMethod:  "standard",
		ShippingPrice:   usd("10"),
		DiscountState:   DiscountState{Discount: domain.ZeroMoney("USD")},
	}
}

func testVoucher(code string, voucherType domain.VoucherType, valueType domain.DiscountValueType, value string) Voucher {
	return Voucher{
		ID:                "vch_" + strings.ToLower(code),
		Code:              code,
		Name:              code + " voucher",
		Type:              voucherType,
		DiscountValueType: valueType,
		StartDate:         time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		Channels: map[string]domain.VoucherChannelListing{
			testChannel: {DiscountValue: decimal.RequireFromString(value), Currency: "USD"},
		},
	}
}

func testPricingContext(subtotal string, quantity int) PricingContext {
	return PricingContext{
		Channel:          testChannel,
		Currency:         "USD",
		Subtotal:         TaxedMoney{Net: usd(subtotal), Gross: usd(subtotal)},
		Quantity:         quantity,
		RequiresShipping: true,
		ShippingMethod:   "standard",
		ShippingPrice:    usd("10"),
		ShippingCountry:  "US",
		CustomerEmail:    "buyer@example.com",
	}
}

func mustMatcher() *CatalogueMatcher {
	matcher, err := NewCatalogueMatcher()
	if err != nil {
		panic(err)
	}
	return matcher
}

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubVoucherRepository struct {
	vouchers map[string]Voucher
	err      error
	lookups  []string
}

func (s *stubVoucherRepository) FindByCode(_ context.Context, code string) (Voucher, error) {
	s.lookups = append(s.lookups, code)
	if s.err != nil {
		return Voucher{}, s.err
	}
	voucher, ok := s.vouchers[strings.ToUpper(code)]
	if !ok {
		return Voucher{}, &stubRepoError{notFound: true}
	}
	return voucher, nil
}

type stubVoucherCustomerRepository struct {
	redeemed map[string]bool
	err      error
	calls    int
}

func (s *stubVoucherCustomerRepository) HasRedeemed(_ context.Context, voucherID, email string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.redeemed[voucherID+"|"+email], nil
}

type stubPromotionRepository struct {
	mu sync.Mutex

	rules      []repositories.ActivePromotionRule
	rulesErr   error
	ruleCalls  int
	transition domain.PromotionTransitions
	findErr    error
	next       time.Time
	hasNext    bool
	markErr    error
	marked     [][]string
	markedAt   []time.Time
	dirty      []PromotionRule
	saved      []PromotionRule
}

func (s *stubPromotionRepository) ListActiveRules(_ context.Context, channel string, _ time.Time) ([]repositories.ActivePromotionRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleCalls++
	if s.rulesErr != nil {
		return nil, s.rulesErr
	}
	var result []repositories.ActivePromotionRule
	for _, rule := range s.rules {
		if rule.Rule.InChannel(channel) {
			result = append(result, rule)
		}
	}
	return result, nil
}

func (s *stubPromotionRepository) FindUnnotifiedTransitions(context.Context, time.Time) (domain.PromotionTransitions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return domain.PromotionTransitions{}, s.findErr
	}
	return s.transition, nil
}

func (s *stubPromotionRepository) NextTransitionAfter(context.Context, time.Time) (time.Time, bool, error) {
	return s.next, s.hasNext, nil
}

func (s *stubPromotionRepository) MarkNotificationScheduled(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	s.marked = append(s.marked, append([]string(nil), ids...))
	s.markedAt = append(s.markedAt, at)
	return nil
}

func (s *stubPromotionRepository) ListDirtyRules(_ context.Context, limit int) ([]PromotionRule, error) {
	if len(s.dirty) > limit {
		return s.dirty[:limit], nil
	}
	return s.dirty, nil
}

func (s *stubPromotionRepository) SaveRuleVariants(_ context.Context, rule PromotionRule) error {
	s.saved = append(s.saved, rule)
	return nil
}

type stubCheckoutRepository struct {
	checkouts map[string]Checkout
	saveErr   error
	saves     int
}

func newStubCheckoutRepository(checkouts ...Checkout) *stubCheckoutRepository {
	repo := &stubCheckoutRepository{checkouts: make(map[string]Checkout)}
	for _, checkout := range checkouts {
		repo.checkouts[checkout.ID] = checkout
	}
	return repo
}

func (s *stubCheckoutRepository) FindByID(_ context.Context, id string) (Checkout, error) {
	checkout, ok := s.checkouts[id]
	if !ok {
		return Checkout{}, &stubRepoError{notFound: true}
	}
	return checkout, nil
}

func (s *stubCheckoutRepository) SaveDiscounts(_ context.Context, checkout Checkout) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.checkouts[checkout.ID] = checkout
	return nil
}

type stubOrderRepository struct {
	orders  map[string]Order
	saveErr error
	saves   int
	saved   Order
}

func (s *stubOrderRepository) FindByID(_ context.Context, id string) (Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return Order{}, &stubRepoError{notFound: true}
	}
	return order, nil
}

func (s *stubOrderRepository) SaveDiscounts(_ context.Context, order Order) error {
	s.saved = order
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.orders[order.ID] = order
	return nil
}

type stubVariantRepository struct {
	variants []ProductVariant
	pageSize int
	saved    []ProductVariant
	saveErr  error
}

func (s *stubVariantRepository) ListByProducts(_ context.Context, productIDs []string) ([]ProductVariant, error) {
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	var result []ProductVariant
	for _, variant := range s.variants {
		if _, ok := wanted[variant.ProductID]; ok {
			result = append(result, variant)
		}
	}
	return result, nil
}

func (s *stubVariantRepository) ListAll(_ context.Context, pageSize int, pageToken string) ([]ProductVariant, string, error) {
	s.pageSize = pageSize
	start := 0
	if pageToken != "" {
		for idx, variant := range s.variants {
			if variant.ID == pageToken {
				start = idx
				break
			}
		}
	}
	end := start + pageSize
	if end >= len(s.variants) {
		return s.variants[start:], "", nil
	}
	return s.variants[start:end], s.variants[end].ID, nil
}

func (s *stubVariantRepository) SaveDiscountedPrices(_ context.Context, variants []ProductVariant) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, variants...)
	return nil
}

type stubEventPublisher struct {
	mu     sync.Mutex
	events []PromotionEvent
	err    error
}

func (s *stubEventPublisher) PublishPromotionEvent(_ context.Context, event PromotionEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-" + event.EventID, nil
}

type stubRecomputeDispatcher struct {
	mu   sync.Mutex
	jobs []PriceRecomputeJob
	err  error
}

func (s *stubRecomputeDispatcher) DispatchPriceRecompute(_ context.Context, job PriceRecomputeJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.jobs = append(s.jobs, job)
	return "msg-" + job.JobID, nil
}
