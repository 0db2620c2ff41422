package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Money                 = domain.Money
	TaxedMoney            = domain.TaxedMoney
	Voucher               = domain.Voucher
	Promotion             = domain.Promotion
	PromotionRule         = domain.PromotionRule
	CataloguePredicate    = domain.CataloguePredicate
	Checkout              = domain.Checkout
	Order                 = domain.Order
	Line                  = domain.Line
	LineDiscount          = domain.LineDiscount
	DiscountState         = domain.DiscountState
	DiscountTotals        = domain.DiscountTotals
	DiscountValue         = domain.DiscountValue
	ProductVariant        = domain.ProductVariant
	VariantChannelListing = domain.VariantChannelListing
)

// CheckoutDiscountService owns the discount fields of checkouts.
type CheckoutDiscountService interface {
	GetDiscounts(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error)
	AddVoucher(ctx context.Context, cmd ApplyVoucherCommand) (CheckoutDiscountResult, error)
	RemoveVoucher(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error)
	Recalculate(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error)
}

// OrderDiscountService owns the discount fields of draft orders.
type OrderDiscountService interface {
	AddVoucher(ctx context.Context, cmd ApplyVoucherCommand) (OrderDiscountResult, error)
	RemoveVoucher(ctx context.Context, orderID string) (OrderDiscountResult, error)
	Recalculate(ctx context.Context, orderID string) (OrderDiscountResult, error)
}

// VoucherUsageService maintains the voucher usage counter on the order-completion path.
type VoucherUsageService interface {
	Consume(ctx context.Context, cmd VoucherUsageCommand) (Voucher, error)
	Release(ctx context.Context, cmd VoucherUsageCommand) (Voucher, error)
}

// PromotionToggleService detects promotions crossing their start or end boundary.
type PromotionToggleService interface {
	Tick(ctx context.Context) (ToggleRun, error)
	NextRunAt() time.Time
}

// PromotionRuleIndexer refreshes cached catalogue membership of dirty promotion rules.
type PromotionRuleIndexer interface {
	RefreshDirtyRules(ctx context.Context) (RuleRefreshResult, error)
}

// DiscountedPriceService recomputes catalogue discounted prices of product variants.
type DiscountedPriceService interface {
	RecomputeProducts(ctx context.Context, productIDs []string) (PriceRecomputeResult, error)
}

// PromotionEventPublisher emits promotion lifecycle events to downstream consumers.
type PromotionEventPublisher interface {
	PublishPromotionEvent(ctx context.Context, event PromotionEvent) (string, error)
}

// PriceRecomputeDispatcher hands affected product IDs to the discounted price recomputation job.
type PriceRecomputeDispatcher interface {
	DispatchPriceRecompute(ctx context.Context, job PriceRecomputeJob) (string, error)
}

// ApplyVoucherCommand attaches a voucher code to a checkout or order.
type ApplyVoucherCommand struct {
	TargetID string
	Code     string
}

// VoucherUsageCommand identifies a voucher redemption.
type VoucherUsageCommand struct {
	Code  string
	Email string
}

// CheckoutDiscountResult is returned by checkout discount operations.
type CheckoutDiscountResult struct {
	Checkout       Checkout
	Totals         DiscountTotals
	VoucherRemoved bool
}

// OrderDiscountResult is returned by order discount operations.
type OrderDiscountResult struct {
	Order          Order
	Totals         DiscountTotals
	VoucherRemoved bool
}

// PromotionEventType names promotion lifecycle events.
type PromotionEventType string

const (
	PromotionEventStarted PromotionEventType = "promotion_started"
	PromotionEventEnded   PromotionEventType = "promotion_ended"
)

// PromotionEvent describes the state a promotion entered.
type PromotionEvent struct {
	EventID       string             `json:"eventId"`
	Type          PromotionEventType `json:"type"`
	PromotionID   string             `json:"promotionId"`
	PromotionName string             `json:"promotionName"`
	StartDate     time.Time          `json:"startDate"`
	EndDate       *time.Time         `json:"endDate,omitempty"`
	OccurredAt    time.Time          `json:"occurredAt"`
}

// PriceRecomputeJob lists products whose discounted prices must be recomputed.
type PriceRecomputeJob struct {
	JobID        string    `json:"jobId"`
	ProductIDs   []string  `json:"productIds"`
	PromotionIDs []string  `json:"promotionIds,omitempty"`
	Reason       string    `json:"reason"`
	QueuedAt     time.Time `json:"queuedAt"`
}

// ToggleRun summarises one notifier tick.
type ToggleRun struct {
	RanAt      time.Time
	Started    []string
	Ended      []string
	Deferred   bool
	Pending    int
	ProductIDs []string
	NextRunAt  time.Time
}

// RuleRefreshResult summarises a dirty rule indexing pass.
type RuleRefreshResult struct {
	Rules    int
	Variants int
}

// PriceRecomputeResult summarises a discounted price recomputation.
type PriceRecomputeResult struct {
	Products int
	Variants int
	Updated  int
}
