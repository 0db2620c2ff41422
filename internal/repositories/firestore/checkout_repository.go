package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/discounts/internal/domain"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

const checkoutsCollection = "checkouts"

type checkoutDocument struct {
	Channel         string           `firestore:"channel"`
	Currency        string           `firestore:"currency"`
	Email           string           `firestore:"email,omitempty"`
	LanguageCode    string           `firestore:"languageCode,omitempty"`
	Lines           []lineDocument   `firestore:"lines"`
	ShippingAddress *addressDocument `firestore:"shippingAddress,omitempty"`
	ShippingMethod  string           `firestore:"shippingMethod,omitempty"`
	ShippingPrice   moneyDocument    `firestore:"shippingPrice"`
	discountFields
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d checkoutDocument) toDomain(id string) (domain.Checkout, error) {
	lines, err := linesToDomain(d.Lines)
	if err != nil {
		return domain.Checkout{}, err
	}
	shipping, err := d.ShippingPrice.toDomain()
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("shipping price: %w", err)
	}
	state, err := d.discountFields.toDomain(d.Currency)
	if err != nil {
		return domain.Checkout{}, err
	}
	return domain.Checkout{
		ID:              id,
		Channel:         d.Channel,
		Currency:        d.Currency,
		Email:           d.Email,
		LanguageCode:    d.LanguageCode,
		Lines:           lines,
		ShippingAddress: d.ShippingAddress.toDomain(),
		ShippingMethod:  d.ShippingMethod,
		ShippingPrice:   shipping,
		DiscountState:   state,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

func newCheckoutDocument(c domain.Checkout) checkoutDocument {
	return checkoutDocument{
		Channel:         c.Channel,
		Currency:        c.Currency,
		Email:           c.Email,
		LanguageCode:    c.LanguageCode,
		Lines:           newLineDocuments(c.Lines),
		ShippingAddress: newAddressDocument(c.ShippingAddress),
		ShippingMethod:  c.ShippingMethod,
		ShippingPrice:   newMoneyDocument(c.ShippingPrice),
		discountFields:  newDiscountFields(c.DiscountState),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func newDiscountFields(state domain.DiscountState) discountFields {
	discount := newMoneyDocument(state.Discount)
	return discountFields{
		VoucherCode:            state.VoucherCode,
		Discount:               &discount,
		DiscountName:           state.DiscountName,
		TranslatedDiscountName: state.TranslatedDiscountName,
	}
}

// discountUpdates lists the only fields the discount engine owns on a checkout or order.
func discountUpdates(lines []domain.Line, state domain.DiscountState, updatedAt time.Time) []firestore.Update {
	fields := newDiscountFields(state)
	return []firestore.Update{
		{Path: "lines", Value: newLineDocuments(lines)},
		{Path: "voucherCode", Value: fields.VoucherCode},
		{Path: "discount", Value: fields.Discount},
		{Path: "discountName", Value: fields.DiscountName},
		{Path: "translatedDiscountName", Value: fields.TranslatedDiscountName},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}
}

// revisionPreconditions guards a read-modify-write against concurrent writers. A zero revision
// means the caller never read the document.
func revisionPreconditions(revision time.Time) []firestore.Precondition {
	if revision.IsZero() {
		return nil
	}
	return []firestore.Precondition{firestore.LastUpdateTime(revision.UTC())}
}

// CheckoutRepository implements repositories.CheckoutRepository.
type CheckoutRepository struct {
	checkouts *pfirestore.BaseRepository[checkoutDocument]
}

// NewCheckoutRepository constructs a Firestore-backed checkout repository.
func NewCheckoutRepository(provider *pfirestore.Provider) (*CheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("checkout repository requires firestore provider")
	}
	return &CheckoutRepository{
		checkouts: pfirestore.NewBaseRepository[checkoutDocument](provider, checkoutsCollection),
	}, nil
}

var _ repositories.CheckoutRepository = (*CheckoutRepository)(nil)

// FindByID loads a checkout.
func (r *CheckoutRepository) FindByID(ctx context.Context, checkoutID string) (domain.Checkout, error) {
	doc, err := r.checkouts.Get(ctx, strings.TrimSpace(checkoutID))
	if err != nil {
		return domain.Checkout{}, err
	}
	checkout, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.Checkout{}, fmt.Errorf("checkouts.decode %s: %w", doc.ID, err)
	}
	checkout.Revision = doc.UpdateTime
	return checkout, nil
}

// SaveDiscounts writes the lines and discount state of an existing checkout. The checkout must
// exist; other fields are left untouched. A checkout carrying a Revision is only written while the
// stored document is unchanged since it was loaded.
func (r *CheckoutRepository) SaveDiscounts(ctx context.Context, checkout domain.Checkout) error {
	updates := discountUpdates(checkout.Lines, checkout.DiscountState, checkout.UpdatedAt)
	return r.checkouts.Update(ctx, strings.TrimSpace(checkout.ID), updates, revisionPreconditions(checkout.Revision)...)
}

// Create stores a full checkout document. Checkouts are owned by the cart service; this is used
// for seeding.
func (r *CheckoutRepository) Create(ctx context.Context, checkout domain.Checkout) error {
	return r.checkouts.Set(ctx, strings.TrimSpace(checkout.ID), newCheckoutDocument(checkout))
}
