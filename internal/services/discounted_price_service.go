package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/discounts/internal/repositories"
)

// DiscountedPriceServiceDeps wires the discounted price recomputation.
type DiscountedPriceServiceDeps struct {
	Promotions repositories.PromotionRepository
	Variants   repositories.VariantRepository
	Matcher    *CatalogueMatcher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type discountedPriceService struct {
	promotions repositories.PromotionRepository
	variants   repositories.VariantRepository
	matcher    *CatalogueMatcher
	now        func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewDiscountedPriceService constructs the service that refreshes variant discounted prices.
func NewDiscountedPriceService(deps DiscountedPriceServiceDeps) (DiscountedPriceService, error) {
	if deps.Promotions == nil {
		return nil, fmt.Errorf("%w: promotion repository", ErrDiscountRepositoryMissing)
	}
	if deps.Variants == nil {
		return nil, fmt.Errorf("%w: variant repository", ErrDiscountRepositoryMissing)
	}
	if deps.Matcher == nil {
		return nil, errors.New("discounted price service: catalogue matcher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &discountedPriceService{
		promotions: deps.Promotions,
		variants:   deps.Variants,
		matcher:    deps.Matcher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// RecomputeProducts sets every channel listing's discounted price of the products' variants to the
// price minus the best active catalogue promotion. Only changed variants are written.
func (s *discountedPriceService) RecomputeProducts(ctx context.Context, productIDs []string) (PriceRecomputeResult, error) {
	ids := uniqueTrimmed(productIDs)
	if len(ids) == 0 {
		return PriceRecomputeResult{}, fmt.Errorf("%w: product ids are required", ErrDiscountInvalidInput)
	}

	variants, err := s.variants.ListByProducts(ctx, ids)
	if err != nil {
		return PriceRecomputeResult{}, translateRepositoryError(err, ErrDiscountUnavailable)
	}

	now := s.now()
	rulesByChannel := make(map[string][]repositories.ActivePromotionRule)
	var changed []ProductVariant
	for _, variant := range variants {
		updated, dirty, err := s.recomputeVariant(ctx, variant, now, rulesByChannel)
		if err != nil {
			return PriceRecomputeResult{}, err
		}
		if dirty {
			changed = append(changed, updated)
		}
	}

	if len(changed) > 0 {
		if err := s.variants.SaveDiscountedPrices(ctx, changed); err != nil {
			return PriceRecomputeResult{}, translateRepositoryError(err, ErrDiscountUnavailable)
		}
	}

	result := PriceRecomputeResult{Products: len(ids), Variants: len(variants), Updated: len(changed)}
	s.logger(ctx, "discounted_prices.recomputed", map[string]any{
		"products": result.Products,
		"variants": result.Variants,
		"updated":  result.Updated,
	})
	return result, nil
}

func (s *discountedPriceService) recomputeVariant(ctx context.Context, variant ProductVariant, now time.Time, cache map[string][]repositories.ActivePromotionRule) (ProductVariant, bool, error) {
	target := CatalogueTarget{
		VariantID:     variant.ID,
		ProductID:     variant.ProductID,
		CategoryID:    variant.CategoryID,
		CollectionIDs: variant.CollectionIDs,
	}
	listings := make(map[string]VariantChannelListing, len(variant.Channels))
	dirty := false
	for channel, listing := range variant.Channels {
		rules, ok := cache[channel]
		if !ok {
			loaded, err := s.promotions.ListActiveRules(ctx, channel, now)
			if err != nil {
				return ProductVariant{}, false, translateRepositoryError(err, ErrDiscountUnavailable)
			}
			cache[channel] = loaded
			rules = loaded
		}

		best, found, err := bestRuleDiscount(s.matcher, channel, rules, target, listing.Price)
		if err != nil {
			return ProductVariant{}, false, fmt.Errorf("variant %s: %w", variant.ID, err)
		}
		discounted := listing.Price
		ruleID := ""
		if found && !best.Amount.IsZero() {
			if discounted, err = listing.Price.Sub(best.Amount); err != nil {
				return ProductVariant{}, false, fmt.Errorf("variant %s: %w", variant.ID, err)
			}
			discounted = discounted.FloorAtZero()
			ruleID = best.Rule.ID
		}

		if listing.DiscountedPrice == nil || !listing.DiscountedPrice.Equal(discounted) || listing.PromotionRuleID != ruleID {
			dirty = true
		}
		price := discounted
		listing.DiscountedPrice = &price
		listing.PromotionRuleID = ruleID
		listings[channel] = listing
	}
	variant.Channels = listings
	return variant, dirty, nil
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
