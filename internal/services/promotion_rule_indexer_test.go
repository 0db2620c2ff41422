package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func catalogueVariants() []ProductVariant {
	return []ProductVariant{
		{ID: "v1", ProductID: "p-shirt", CategoryID: "c-apparel", CollectionIDs: []string{"summer"}},
		{ID: "v2", ProductID: "p-shirt", CategoryID: "c-apparel"},
		{ID: "v3", ProductID: "p-mug", CategoryID: "c-kitchen", CollectionIDs: []string{"summer"}},
		{ID: "v4", ProductID: "p-poster", CategoryID: "c-decor"},
	}
}

func TestPromotionRuleIndexer_RefreshDirtyRules(t *testing.T) {
	promotions := &stubPromotionRepository{
		dirty: []PromotionRule{
			{ID: "rule-summer", Catalogue: CataloguePredicate{CollectionIDs: []string{"summer"}}, ProductIDs: []string{"p-old"}, VariantsDirty: true},
			{ID: "rule-decor", Catalogue: CataloguePredicate{CategoryIDs: []string{"c-decor"}}, VariantsDirty: true},
		},
	}
	variants := &stubVariantRepository{variants: catalogueVariants()}
	recompute := &stubRecomputeDispatcher{}

	indexer, err := NewPromotionRuleIndexer(PromotionRuleIndexerDeps{
		Promotions:  promotions,
		Variants:    variants,
		Matcher:     mustMatcher(),
		Recompute:   recompute,
		VariantPage: 3,
	})
	if err != nil {
		t.Fatalf("NewPromotionRuleIndexer: %v", err)
	}

	result, err := indexer.RefreshDirtyRules(context.Background())
	if err != nil {
		t.Fatalf("RefreshDirtyRules: %v", err)
	}
	if result.Rules != 2 || result.Variants != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
	if variants.pageSize != 3 {
		t.Fatalf("expected paged scan of 3 got %d", variants.pageSize)
	}

	if len(promotions.saved) != 2 {
		t.Fatalf("expected two rules saved got %d", len(promotions.saved))
	}
	summer := promotions.saved[0]
	if summer.VariantsDirty {
		t.Fatalf("expected dirty flag cleared")
	}
	if !reflect.DeepEqual(summer.VariantIDs, []string{"v1", "v3"}) || !reflect.DeepEqual(summer.ProductIDs, []string{"p-mug", "p-shirt"}) {
		t.Fatalf("unexpected membership %v %v", summer.VariantIDs, summer.ProductIDs)
	}
	if decor := promotions.saved[1]; !reflect.DeepEqual(decor.VariantIDs, []string{"v4"}) {
		t.Fatalf("unexpected decor membership %v", decor.VariantIDs)
	}

	if len(recompute.jobs) != 1 {
		t.Fatalf("expected a recompute job")
	}
	if want := []string{"p-mug", "p-old", "p-poster", "p-shirt"}; !reflect.DeepEqual(recompute.jobs[0].ProductIDs, want) {
		t.Fatalf("expected affected products %v got %v", want, recompute.jobs[0].ProductIDs)
	}
}

func TestPromotionRuleIndexer_DispatchFailureKeepsRulesDirty(t *testing.T) {
	promotions := &stubPromotionRepository{
		dirty: []PromotionRule{
			{ID: "rule-summer", Catalogue: CataloguePredicate{CollectionIDs: []string{"summer"}}, VariantsDirty: true},
		},
	}
	recompute := &stubRecomputeDispatcher{err: errors.New("pubsub unavailable")}
	var events []string
	indexer, err := NewPromotionRuleIndexer(PromotionRuleIndexerDeps{
		Promotions: promotions,
		Variants:   &stubVariantRepository{variants: catalogueVariants()},
		Matcher:    mustMatcher(),
		Recompute:  recompute,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewPromotionRuleIndexer: %v", err)
	}

	if _, err := indexer.RefreshDirtyRules(context.Background()); err == nil {
		t.Fatalf("expected dispatch failure to be returned")
	}
	if len(promotions.saved) != 0 {
		t.Fatalf("expected rules left dirty, saved %+v", promotions.saved)
	}
	if len(events) == 0 || events[0] != "promotion_rules.recompute_dispatch_failed" {
		t.Fatalf("expected dispatch failure logged, got %v", events)
	}

	recompute.err = nil
	result, err := indexer.RefreshDirtyRules(context.Background())
	if err != nil {
		t.Fatalf("RefreshDirtyRules retry: %v", err)
	}
	if result.Rules != 1 || len(recompute.jobs) != 1 {
		t.Fatalf("expected retry to dispatch one job, got %+v and %d jobs", result, len(recompute.jobs))
	}
	if want := []string{"p-mug", "p-shirt"}; !reflect.DeepEqual(recompute.jobs[0].ProductIDs, want) {
		t.Fatalf("expected products %v got %v", want, recompute.jobs[0].ProductIDs)
	}
	if len(promotions.saved) != 1 || promotions.saved[0].VariantsDirty {
		t.Fatalf("expected rule saved clean after dispatch, got %+v", promotions.saved)
	}
}

func TestPromotionRuleIndexer_NothingDirty(t *testing.T) {
	recompute := &stubRecomputeDispatcher{}
	indexer, err := NewPromotionRuleIndexer(PromotionRuleIndexerDeps{
		Promotions: &stubPromotionRepository{},
		Variants:   &stubVariantRepository{variants: catalogueVariants()},
		Matcher:    mustMatcher(),
		Recompute:  recompute,
	})
	if err != nil {
		t.Fatalf("NewPromotionRuleIndexer: %v", err)
	}
	result, err := indexer.RefreshDirtyRules(context.Background())
	if err != nil {
		t.Fatalf("RefreshDirtyRules: %v", err)
	}
	if result.Rules != 0 || len(recompute.jobs) != 0 {
		t.Fatalf("expected no work, got %+v and %d jobs", result, len(recompute.jobs))
	}
}

func TestNewPromotionRuleIndexer_Validation(t *testing.T) {
	if _, err := NewPromotionRuleIndexer(PromotionRuleIndexerDeps{}); !errors.Is(err, ErrDiscountRepositoryMissing) {
		t.Fatalf("expected ErrDiscountRepositoryMissing got %v", err)
	}
	if _, err := NewPromotionRuleIndexer(PromotionRuleIndexerDeps{Promotions: &stubPromotionRepository{}, Variants: &stubVariantRepository{}}); err == nil {
		t.Fatalf("expected error without matcher")
	}
}
