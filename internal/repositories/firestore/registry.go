package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

// Registry wires every Firestore repository around one shared provider.
type Registry struct {
	provider   *pfirestore.Provider
	vouchers   *VoucherRepository
	promotions *PromotionRepository
	checkouts  *CheckoutRepository
	orders     *OrderRepository
	variants   *VariantRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repositories. extraChecks are appended to the Firestore readiness probe,
// typically one per event transport.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	vouchers, err := NewVoucherRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionRepository(provider)
	if err != nil {
		return nil, err
	}
	checkouts, err := NewCheckoutRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	variants, err := NewVariantRepository(provider)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: func(ctx context.Context) error { return ping(ctx, provider) },
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:   provider,
		vouchers:   vouchers,
		promotions: promotions,
		checkouts:  checkouts,
		orders:     orders,
		variants:   variants,
		health:     health,
	}, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Vouchers() repositories.VoucherRepository {
	return r.vouchers
}

func (r *Registry) VoucherCustomers() repositories.VoucherCustomerRepository {
	return r.vouchers
}

func (r *Registry) VoucherUsage() repositories.VoucherUsageRepository {
	return r.vouchers
}

func (r *Registry) Promotions() repositories.PromotionRepository {
	return r.promotions
}

func (r *Registry) Checkouts() repositories.CheckoutRepository {
	return r.checkouts
}

func (r *Registry) Orders() repositories.OrderRepository {
	return r.orders
}

func (r *Registry) Variants() repositories.VariantRepository {
	return r.variants
}

func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// ping issues a cheap read; a missing document still proves the backend answers.
func ping(ctx context.Context, provider *pfirestore.Provider) error {
	coll, err := provider.Collection(ctx, promotionsCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc("_healthz").Get(ctx); err != nil && !isNotFound(err) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
