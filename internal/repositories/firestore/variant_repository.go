package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/discounts/internal/domain"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

const (
	variantsCollection = "productVariants"
	// Firestore caps the number of values in an "in" filter.
	maxInFilterValues = 30
)

type variantListingDocument struct {
	Price           moneyDocument  `firestore:"price"`
	DiscountedPrice *moneyDocument `firestore:"discountedPrice"`
	PromotionRuleID string         `firestore:"promotionRuleId"`
}

type variantDocument struct {
	ProductID     string                            `firestore:"productId"`
	CategoryID    string                            `firestore:"categoryId,omitempty"`
	CollectionIDs []string                          `firestore:"collectionIds,omitempty"`
	Channels      map[string]variantListingDocument `firestore:"channels"`
}

func newVariantDocument(v domain.ProductVariant) variantDocument {
	doc := variantDocument{
		ProductID:     v.ProductID,
		CategoryID:    v.CategoryID,
		CollectionIDs: v.CollectionIDs,
		Channels:      make(map[string]variantListingDocument, len(v.Channels)),
	}
	for channel, listing := range v.Channels {
		doc.Channels[channel] = variantListingDocument{
			Price:           newMoneyDocument(listing.Price),
			DiscountedPrice: newMoneyDocumentPtr(listing.DiscountedPrice),
			PromotionRuleID: listing.PromotionRuleID,
		}
	}
	return doc
}

func (d variantDocument) toDomain(id string) (domain.ProductVariant, error) {
	variant := domain.ProductVariant{
		ID:            id,
		ProductID:     d.ProductID,
		CategoryID:    d.CategoryID,
		CollectionIDs: d.CollectionIDs,
		Channels:      make(map[string]domain.VariantChannelListing, len(d.Channels)),
	}
	for channel, listing := range d.Channels {
		price, err := listing.Price.toDomain()
		if err != nil {
			return domain.ProductVariant{}, fmt.Errorf("channel %s price: %w", channel, err)
		}
		discounted, err := listing.DiscountedPrice.toDomainPtr()
		if err != nil {
			return domain.ProductVariant{}, fmt.Errorf("channel %s discounted price: %w", channel, err)
		}
		variant.Channels[channel] = domain.VariantChannelListing{
			Price:           price,
			DiscountedPrice: discounted,
			PromotionRuleID: listing.PromotionRuleID,
		}
	}
	return variant, nil
}

// VariantRepository implements repositories.VariantRepository over the productVariants collection.
type VariantRepository struct {
	provider *pfirestore.Provider
	variants *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	return &VariantRepository{
		provider: provider,
		variants: pfirestore.NewBaseRepository[variantDocument](provider, variantsCollection),
	}, nil
}

var _ repositories.VariantRepository = (*VariantRepository)(nil)

// ListByProducts returns every variant of the given products ordered by variant ID.
func (r *VariantRepository) ListByProducts(ctx context.Context, productIDs []string) ([]domain.ProductVariant, error) {
	var variants []domain.ProductVariant
	for start := 0; start < len(productIDs); start += maxInFilterValues {
		end := start + maxInFilterValues
		if end > len(productIDs) {
			end = len(productIDs)
		}
		chunk := productIDs[start:end]
		docs, err := r.variants.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("productId", "in", chunk)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			variant, err := doc.Data.toDomain(doc.ID)
			if err != nil {
				return nil, fmt.Errorf("productVariants.decode %s: %w", doc.ID, err)
			}
			variants = append(variants, variant)
		}
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })
	return variants, nil
}

// ListAll pages through the variant catalogue in document ID order.
func (r *VariantRepository) ListAll(ctx context.Context, pageSize int, pageToken string) ([]domain.ProductVariant, string, error) {
	docs, next, err := r.variants.Page(ctx, pageSize, pageToken)
	if err != nil {
		return nil, "", err
	}
	variants := make([]domain.ProductVariant, 0, len(docs))
	for _, doc := range docs {
		variant, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, "", fmt.Errorf("productVariants.decode %s: %w", doc.ID, err)
		}
		variants = append(variants, variant)
	}
	return variants, next, nil
}

// SaveDiscountedPrices writes the discounted price and winning rule of each channel listing.
// Prices themselves are owned by the catalogue and are not rewritten.
func (r *VariantRepository) SaveDiscountedPrices(ctx context.Context, variants []domain.ProductVariant) error {
	if len(variants) == 0 {
		return nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(variants))
	for _, variant := range variants {
		ref, err := r.variants.DocumentRef(ctx, strings.TrimSpace(variant.ID))
		if err != nil {
			writer.End()
			return err
		}
		updates := make([]firestore.Update, 0, len(variant.Channels)*2)
		for channel, listing := range variant.Channels {
			updates = append(updates,
				firestore.Update{FieldPath: firestore.FieldPath{"channels", channel, "discountedPrice"}, Value: newMoneyDocumentPtr(listing.DiscountedPrice)},
				firestore.Update{FieldPath: firestore.FieldPath{"channels", channel, "promotionRuleId"}, Value: listing.PromotionRuleID},
			)
		}
		if len(updates) == 0 {
			continue
		}
		job, err := writer.Update(ref, updates)
		if err != nil {
			writer.End()
			return pfirestore.WrapError("productVariants.save_discounted_prices", err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return pfirestore.WrapError("productVariants.save_discounted_prices", err)
		}
	}
	return nil
}

// Save stores a full variant document. Variants are owned by the catalogue; this is used for seeding.
func (r *VariantRepository) Save(ctx context.Context, variant domain.ProductVariant) error {
	return r.variants.Set(ctx, strings.TrimSpace(variant.ID), newVariantDocument(variant))
}
