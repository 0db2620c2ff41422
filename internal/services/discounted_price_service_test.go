package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/repositories"
)

func TestDiscountedPriceService_RecomputeProducts(t *testing.T) {
	stale := usd("30")
	variants := &stubVariantRepository{variants: []ProductVariant{
		{
			ID:        "v1",
			ProductID: "p-shirt",
			Channels: map[string]VariantChannelListing{
				testChannel:     {Price: usd("40"), DiscountedPrice: &stale, PromotionRuleID: "rule-old"},
				"other-channel": {Price: domain.MustMoney("35", "EUR")},
			},
		},
		{
			ID:        "v2",
			ProductID: "p-mug",
			Channels: map[string]VariantChannelListing{
				testChannel: {Price: usd("8"), DiscountedPrice: moneyPtr(usd("8"))},
			},
		},
		{ID: "v3", ProductID: "p-ignored", Channels: map[string]VariantChannelListing{testChannel: {Price: usd("1")}}},
	}}
	promotions := &stubPromotionRepository{rules: []repositories.ActivePromotionRule{
		{Rule: PromotionRule{
			ID:              "rule-shirts",
			Channels:        []string{testChannel},
			RewardValueType: domain.DiscountValuePercentage,
			RewardValue:     decimal.NewFromInt(25),
			VariantIDs:      []string{"v1"},
		}},
		{Rule: PromotionRule{
			ID:              "rule-eur",
			Channels:        []string{"other-channel"},
			RewardValueType: domain.DiscountValueFixed,
			RewardValue:     decimal.NewFromInt(50),
			Currency:        "EUR",
			VariantIDs:      []string{"v1"},
		}},
	}}

	svc, err := NewDiscountedPriceService(DiscountedPriceServiceDeps{
		Promotions: promotions,
		Variants:   variants,
		Matcher:    mustMatcher(),
		Clock:      func() time.Time { return checkoutTestNow },
	})
	if err != nil {
		t.Fatalf("NewDiscountedPriceService: %v", err)
	}

	result, err := svc.RecomputeProducts(context.Background(), []string{"p-shirt", " p-mug ", "p-shirt"})
	if err != nil {
		t.Fatalf("RecomputeProducts: %v", err)
	}
	if result.Products != 2 || result.Variants != 2 || result.Updated != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if promotions.ruleCalls != 2 {
		t.Fatalf("expected rules loaded once per channel, got %d calls", promotions.ruleCalls)
	}

	if len(variants.saved) != 1 || variants.saved[0].ID != "v1" {
		t.Fatalf("expected only v1 saved, got %+v", variants.saved)
	}
	shirt := variants.saved[0]
	local := shirt.Channels[testChannel]
	if local.DiscountedPrice == nil || !local.DiscountedPrice.Equal(usd("30")) || local.PromotionRuleID != "rule-shirts" {
		t.Fatalf("unexpected local listing %+v", local)
	}
	other := shirt.Channels["other-channel"]
	if other.DiscountedPrice == nil || !other.DiscountedPrice.IsZero() || other.PromotionRuleID != "rule-eur" {
		t.Fatalf("expected fixed discount to floor at zero, got %+v", other)
	}
}

func TestDiscountedPriceService_InvalidInput(t *testing.T) {
	svc, err := NewDiscountedPriceService(DiscountedPriceServiceDeps{
		Promotions: &stubPromotionRepository{},
		Variants:   &stubVariantRepository{},
		Matcher:    mustMatcher(),
	})
	if err != nil {
		t.Fatalf("NewDiscountedPriceService: %v", err)
	}
	if _, err := svc.RecomputeProducts(context.Background(), []string{" ", ""}); !errors.Is(err, ErrDiscountInvalidInput) {
		t.Fatalf("expected ErrDiscountInvalidInput got %v", err)
	}
}

func TestDiscountedPriceService_SaveFailure(t *testing.T) {
	variants := &stubVariantRepository{
		variants: []ProductVariant{{ID: "v1", ProductID: "p1", Channels: map[string]VariantChannelListing{testChannel: {Price: usd("5")}}}},
		saveErr:  &stubRepoError{unavailable: true},
	}
	svc, err := NewDiscountedPriceService(DiscountedPriceServiceDeps{
		Promotions: &stubPromotionRepository{},
		Variants:   variants,
		Matcher:    mustMatcher(),
	})
	if err != nil {
		t.Fatalf("NewDiscountedPriceService: %v", err)
	}
	if _, err := svc.RecomputeProducts(context.Background(), []string{"p1"}); !errors.Is(err, ErrDiscountUnavailable) {
		t.Fatalf("expected ErrDiscountUnavailable got %v", err)
	}
}
