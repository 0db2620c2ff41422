package firestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/discounts/internal/domain"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

const (
	vouchersCollection         = "vouchers"
	voucherCustomersCollection = "voucherCustomers"
)

type voucherListingDocument struct {
	DiscountValue string         `firestore:"discountValue"`
	Currency      string         `firestore:"currency"`
	MinSpent      *moneyDocument `firestore:"minSpent,omitempty"`
}

type voucherDocument struct {
	Code                     string                            `firestore:"code"`
	CodeKey                  string                            `firestore:"codeKey"`
	Name                     string                            `firestore:"name,omitempty"`
	Translations             map[string]string                 `firestore:"translations,omitempty"`
	Type                     string                            `firestore:"type"`
	DiscountValueType        string                            `firestore:"discountValueType"`
	Channels                 map[string]voucherListingDocument `firestore:"channels"`
	MinCheckoutItemsQuantity *int                              `firestore:"minCheckoutItemsQuantity,omitempty"`
	UsageLimit               *int                              `firestore:"usageLimit,omitempty"`
	Used                     int                               `firestore:"used"`
	ApplyOncePerCustomer     bool                              `firestore:"applyOncePerCustomer"`
	ApplyOncePerOrder        bool                              `firestore:"applyOncePerOrder"`
	OnlyForStaff             bool                              `firestore:"onlyForStaff"`
	StartDate                time.Time                         `firestore:"startDate"`
	EndDate                  *time.Time                        `firestore:"endDate,omitempty"`
	Countries                []string                          `firestore:"countries,omitempty"`
	Catalogue                catalogueDocument                 `firestore:"catalogue"`
}

func newVoucherDocument(v domain.Voucher) voucherDocument {
	doc := voucherDocument{
		Code:                     v.Code,
		CodeKey:                  voucherCodeKey(v.Code),
		Name:                     v.Name,
		Translations:             v.Translations,
		Type:                     string(v.Type),
		DiscountValueType:        string(v.DiscountValueType),
		Channels:                 make(map[string]voucherListingDocument, len(v.Channels)),
		MinCheckoutItemsQuantity: v.MinCheckoutItemsQuantity,
		UsageLimit:               v.UsageLimit,
		Used:                     v.Used,
		ApplyOncePerCustomer:     v.ApplyOncePerCustomer,
		ApplyOncePerOrder:        v.ApplyOncePerOrder,
		OnlyForStaff:             v.OnlyForStaff,
		StartDate:                v.StartDate.UTC(),
		EndDate:                  v.EndDate,
		Countries:                v.Countries,
		Catalogue:                newCatalogueDocument(v.Catalogue),
	}
	for channel, listing := range v.Channels {
		doc.Channels[channel] = voucherListingDocument{
			DiscountValue: listing.DiscountValue.String(),
			Currency:      listing.Currency,
			MinSpent:      newMoneyDocumentPtr(listing.MinSpent),
		}
	}
	return doc
}

func (d voucherDocument) toDomain(id string) (domain.Voucher, error) {
	voucher := domain.Voucher{
		ID:                       id,
		Code:                     d.Code,
		Name:                     d.Name,
		Translations:             d.Translations,
		Type:                     domain.VoucherType(d.Type),
		DiscountValueType:        domain.DiscountValueType(d.DiscountValueType),
		Channels:                 make(map[string]domain.VoucherChannelListing, len(d.Channels)),
		MinCheckoutItemsQuantity: d.MinCheckoutItemsQuantity,
		UsageLimit:               d.UsageLimit,
		Used:                     d.Used,
		ApplyOncePerCustomer:     d.ApplyOncePerCustomer,
		ApplyOncePerOrder:        d.ApplyOncePerOrder,
		OnlyForStaff:             d.OnlyForStaff,
		StartDate:                d.StartDate,
		EndDate:                  d.EndDate,
		Countries:                d.Countries,
		Catalogue:                d.Catalogue.toDomain(),
	}
	for channel, listing := range d.Channels {
		value, err := parseDecimal(listing.DiscountValue)
		if err != nil {
			return domain.Voucher{}, fmt.Errorf("channel %s: %w", channel, err)
		}
		minSpent, err := listing.MinSpent.toDomainPtr()
		if err != nil {
			return domain.Voucher{}, fmt.Errorf("channel %s min spent: %w", channel, err)
		}
		voucher.Channels[channel] = domain.VoucherChannelListing{
			DiscountValue: value,
			Currency:      listing.Currency,
			MinSpent:      minSpent,
		}
	}
	return voucher, nil
}

// Codes are matched case-insensitively.
func voucherCodeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type voucherCustomerDocument struct {
	VoucherID     string    `firestore:"voucherId"`
	CustomerEmail string    `firestore:"customerEmail"`
	RedeemedAt    time.Time `firestore:"redeemedAt"`
}

func voucherCustomerID(voucherID, email string) string {
	return voucherID + ":" + url.PathEscape(strings.ToLower(strings.TrimSpace(email)))
}

// VoucherRepository implements the voucher read, redemption lookup and usage repositories over the
// vouchers and voucherCustomers collections.
type VoucherRepository struct {
	provider  *pfirestore.Provider
	vouchers  *pfirestore.BaseRepository[voucherDocument]
	customers *pfirestore.BaseRepository[voucherCustomerDocument]
}

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	return &VoucherRepository{
		provider:  provider,
		vouchers:  pfirestore.NewBaseRepository[voucherDocument](provider, vouchersCollection),
		customers: pfirestore.NewBaseRepository[voucherCustomerDocument](provider, voucherCustomersCollection),
	}, nil
}

var (
	_ repositories.VoucherRepository         = (*VoucherRepository)(nil)
	_ repositories.VoucherCustomerRepository = (*VoucherRepository)(nil)
	_ repositories.VoucherUsageRepository    = (*VoucherRepository)(nil)
)

// FindByCode resolves a voucher by its customer-facing code.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	key := voucherCodeKey(code)
	if key == "" {
		return domain.Voucher{}, pfirestore.NotFound("vouchers.find_by_code", "voucher code is empty")
	}
	docs, err := r.vouchers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("codeKey", "==", key).Limit(1)
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if len(docs) == 0 {
		return domain.Voucher{}, pfirestore.NotFound("vouchers.find_by_code", "voucher %q not found", key)
	}
	voucher, err := docs[0].Data.toDomain(docs[0].ID)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("vouchers.decode %s: %w", docs[0].ID, err)
	}
	return voucher, nil
}

// HasRedeemed reports whether the email holds a redemption record for the voucher.
func (r *VoucherRepository) HasRedeemed(ctx context.Context, voucherID string, email string) (bool, error) {
	if strings.TrimSpace(voucherID) == "" || strings.TrimSpace(email) == "" {
		return false, nil
	}
	_, err := r.customers.Get(ctx, voucherCustomerID(voucherID, email))
	if err == nil {
		return true, nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return false, nil
	}
	return false, err
}

// Consume increments the usage counter and records the customer's redemption in one transaction.
func (r *VoucherRepository) Consume(ctx context.Context, code string, email string, at time.Time) (domain.Voucher, error) {
	key := voucherCodeKey(code)
	if key == "" {
		return domain.Voucher{}, repositories.NewVoucherUsageError(repositories.VoucherUsageErrorInvalidInput, "voucher code is required", nil)
	}
	email = strings.ToLower(strings.TrimSpace(email))

	var result domain.Voucher
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.lockVoucher(ctx, tx, key)
		if err != nil {
			return err
		}

		if doc.UsageLimit != nil && doc.Used >= *doc.UsageLimit {
			return repositories.NewVoucherUsageError(repositories.VoucherUsageErrorLimitReached,
				fmt.Sprintf("voucher %s reached its usage limit of %d", key, *doc.UsageLimit), nil)
		}

		var customerRef *firestore.DocumentRef
		if email != "" {
			customerRef, err = r.customers.DocumentRef(ctx, voucherCustomerID(ref.ID, email))
			if err != nil {
				return err
			}
			snap, err := tx.Get(customerRef)
			if err != nil && !isNotFound(err) {
				return err
			}
			if err == nil && snap.Exists() && doc.ApplyOncePerCustomer {
				return repositories.NewVoucherUsageError(repositories.VoucherUsageErrorAlreadyRedeemed,
					fmt.Sprintf("voucher %s already redeemed by customer", key), nil)
			}
		}

		doc.Used++
		if err := tx.Update(ref, []firestore.Update{{Path: "used", Value: firestore.Increment(1)}}); err != nil {
			return err
		}
		if customerRef != nil {
			if err := tx.Set(customerRef, voucherCustomerDocument{VoucherID: ref.ID, CustomerEmail: email, RedeemedAt: at.UTC()}); err != nil {
				return err
			}
		}

		result, err = doc.toDomain(ref.ID)
		return err
	})
	if err != nil {
		return domain.Voucher{}, wrapUsageError("vouchers.consume", err)
	}
	return result, nil
}

// Release reverses a Consume, decrementing the usage counter and deleting the redemption record.
func (r *VoucherRepository) Release(ctx context.Context, code string, email string) (domain.Voucher, error) {
	key := voucherCodeKey(code)
	if key == "" {
		return domain.Voucher{}, repositories.NewVoucherUsageError(repositories.VoucherUsageErrorInvalidInput, "voucher code is required", nil)
	}
	email = strings.ToLower(strings.TrimSpace(email))

	var result domain.Voucher
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.lockVoucher(ctx, tx, key)
		if err != nil {
			return err
		}
		if doc.Used <= 0 {
			return repositories.NewVoucherUsageError(repositories.VoucherUsageErrorNotRedeemed,
				fmt.Sprintf("voucher %s has no recorded usage", key), nil)
		}

		var customerRef *firestore.DocumentRef
		if email != "" {
			customerRef, err = r.customers.DocumentRef(ctx, voucherCustomerID(ref.ID, email))
			if err != nil {
				return err
			}
			if _, err := tx.Get(customerRef); err != nil {
				if !isNotFound(err) {
					return err
				}
				if doc.ApplyOncePerCustomer {
					return repositories.NewVoucherUsageError(repositories.VoucherUsageErrorNotRedeemed,
						fmt.Sprintf("voucher %s was not redeemed by customer", key), nil)
				}
				customerRef = nil
			}
		}

		doc.Used--
		if err := tx.Update(ref, []firestore.Update{{Path: "used", Value: firestore.Increment(-1)}}); err != nil {
			return err
		}
		if customerRef != nil {
			if err := tx.Delete(customerRef); err != nil {
				return err
			}
		}

		result, err = doc.toDomain(ref.ID)
		return err
	})
	if err != nil {
		return domain.Voucher{}, wrapUsageError("vouchers.release", err)
	}
	return result, nil
}

// Save stores a voucher definition. Vouchers are authored by the merchandising service; this is
// used for seeding.
func (r *VoucherRepository) Save(ctx context.Context, voucher domain.Voucher) error {
	return r.vouchers.Set(ctx, strings.TrimSpace(voucher.ID), newVoucherDocument(voucher))
}

func (r *VoucherRepository) lockVoucher(ctx context.Context, tx *firestore.Transaction, key string) (*firestore.DocumentRef, voucherDocument, error) {
	coll, err := r.provider.Collection(ctx, vouchersCollection)
	if err != nil {
		return nil, voucherDocument{}, err
	}
	snaps, err := tx.Documents(coll.Where("codeKey", "==", key).Limit(1)).GetAll()
	if err != nil {
		return nil, voucherDocument{}, err
	}
	if len(snaps) == 0 {
		return nil, voucherDocument{}, pfirestore.NotFound("vouchers.lock", "voucher %q not found", key)
	}
	decoded, err := r.vouchers.Decode(snaps[0])
	if err != nil {
		return nil, voucherDocument{}, err
	}
	return snaps[0].Ref, decoded.Data, nil
}

func wrapUsageError(op string, err error) error {
	var usageErr *repositories.VoucherUsageError
	if errors.As(err, &usageErr) {
		if usageErr.Op == "" {
			usageErr.Op = op
		}
		return usageErr
	}
	return pfirestore.WrapError(op, err)
}
