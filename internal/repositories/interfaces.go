package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Vouchers() VoucherRepository
	VoucherCustomers() VoucherCustomerRepository
	VoucherUsage() VoucherUsageRepository
	Promotions() PromotionRepository
	Checkouts() CheckoutRepository
	Orders() OrderRepository
	Variants() VariantRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// VoucherRepository reads voucher definitions owned by the merchandising subsystem.
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
}

// VoucherCustomerRepository answers per-customer redemption questions.
type VoucherCustomerRepository interface {
	HasRedeemed(ctx context.Context, voucherID string, email string) (bool, error)
}

// VoucherUsageRepository mutates the voucher usage counter together with the customer redemption
// record. Implementations must apply both writes atomically.
type VoucherUsageRepository interface {
	Consume(ctx context.Context, code string, email string, at time.Time) (domain.Voucher, error)
	Release(ctx context.Context, code string, email string) (domain.Voucher, error)
}

// PromotionRepository serves catalogue promotions and the toggle notifier bookkeeping.
type PromotionRepository interface {
	ListActiveRules(ctx context.Context, channel string, now time.Time) ([]ActivePromotionRule, error)
	FindUnnotifiedTransitions(ctx context.Context, now time.Time) (domain.PromotionTransitions, error)
	NextTransitionAfter(ctx context.Context, now time.Time) (time.Time, bool, error)
	MarkNotificationScheduled(ctx context.Context, promotionIDs []string, at time.Time) error
	ListDirtyRules(ctx context.Context, limit int) ([]domain.PromotionRule, error)
	SaveRuleVariants(ctx context.Context, rule domain.PromotionRule) error
}

// ActivePromotionRule couples a rule with the promotion metadata needed for labelling.
type ActivePromotionRule struct {
	Rule          domain.PromotionRule
	PromotionName string
	Translations  map[string]string
}

// CheckoutRepository loads and persists checkout discount state.
type CheckoutRepository interface {
	FindByID(ctx context.Context, checkoutID string) (domain.Checkout, error)
	SaveDiscounts(ctx context.Context, checkout domain.Checkout) error
}

// OrderRepository loads and persists order discount state.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	SaveDiscounts(ctx context.Context, order domain.Order) error
}

// VariantRepository exposes the variant catalogue used by rule indexing and price recomputation.
type VariantRepository interface {
	ListByProducts(ctx context.Context, productIDs []string) ([]domain.ProductVariant, error)
	ListAll(ctx context.Context, pageSize int, pageToken string) ([]domain.ProductVariant, string, error)
	SaveDiscountedPrices(ctx context.Context, variants []domain.ProductVariant) error
}
