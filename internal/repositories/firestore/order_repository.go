package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	Channel         string           `firestore:"channel"`
	Currency        string           `firestore:"currency"`
	Status          string           `firestore:"status"`
	UserEmail       string           `firestore:"userEmail,omitempty"`
	LanguageCode    string           `firestore:"languageCode,omitempty"`
	Lines           []lineDocument   `firestore:"lines"`
	ShippingAddress *addressDocument `firestore:"shippingAddress,omitempty"`
	ShippingMethod  string           `firestore:"shippingMethod,omitempty"`
	ShippingPrice   moneyDocument    `firestore:"shippingPrice"`
	discountFields
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	lines, err := linesToDomain(d.Lines)
	if err != nil {
		return domain.Order{}, err
	}
	shipping, err := d.ShippingPrice.toDomain()
	if err != nil {
		return domain.Order{}, fmt.Errorf("shipping price: %w", err)
	}
	state, err := d.discountFields.toDomain(d.Currency)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:              id,
		Channel:         d.Channel,
		Currency:        d.Currency,
		Status:          d.Status,
		UserEmail:       d.UserEmail,
		LanguageCode:    d.LanguageCode,
		Lines:           lines,
		ShippingAddress: d.ShippingAddress.toDomain(),
		ShippingMethod:  d.ShippingMethod,
		ShippingPrice:   shipping,
		DiscountState:   state,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	orders *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		orders: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// FindByID loads an order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	order, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders.decode %s: %w", doc.ID, err)
	}
	order.Revision = doc.UpdateTime
	return order, nil
}

// SaveDiscounts writes the lines and discount state of an existing order. An order placed after
// it was loaded has a newer update time, so the write fails with a conflict.
func (r *OrderRepository) SaveDiscounts(ctx context.Context, order domain.Order) error {
	updates := discountUpdates(order.Lines, order.DiscountState, order.UpdatedAt)
	return r.orders.Update(ctx, strings.TrimSpace(order.ID), updates, revisionPreconditions(order.Revision)...)
}
