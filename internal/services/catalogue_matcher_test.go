package services

import (
	"errors"
	"testing"
)

func TestCatalogueExpression(t *testing.T) {
	cases := []struct {
		name      string
		predicate CataloguePredicate
		want      string
	}{
		{name: "empty", predicate: CataloguePredicate{}, want: "false"},
		{
			name:      "products deduplicated",
			predicate: CataloguePredicate{ProductIDs: []string{"p1", " p1 ", "p2", ""}},
			want:      `product_id in ["p1", "p2"]`,
		},
		{
			name: "membership lists are or-ed",
			predicate: CataloguePredicate{
				VariantIDs:    []string{"v1"},
				CategoryIDs:   []string{"c1"},
				CollectionIDs: []string{"summer"},
			},
			want: `variant_id in ["v1"] || category_id in ["c1"] || collection_ids.exists(c, c in ["summer"])`,
		},
		{
			name: "nested groups",
			predicate: CataloguePredicate{
				Or: []CataloguePredicate{{ProductIDs: []string{"p1"}}},
				And: []CataloguePredicate{
					{CategoryIDs: []string{"c1"}},
					{CollectionIDs: []string{"sale"}},
				},
			},
			want: `(product_id in ["p1"]) || ((category_id in ["c1"]) && (collection_ids.exists(c, c in ["sale"])))`,
		},
		{
			name:      "quotes are escaped",
			predicate: CataloguePredicate{ProductIDs: []string{`p"1`}},
			want:      `product_id in ["p\"1"]`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CatalogueExpression(tc.predicate); got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestCatalogueMatcher_Matches(t *testing.T) {
	matcher := mustMatcher()
	target := CatalogueTarget{
		VariantID:     "v-red-m",
		ProductID:     "p-shirt",
		CategoryID:    "c-apparel",
		CollectionIDs: []string{"summer", "bestsellers"},
	}

	cases := []struct {
		name      string
		predicate CataloguePredicate
		want      bool
	}{
		{name: "empty predicate", predicate: CataloguePredicate{}, want: false},
		{name: "product", predicate: CataloguePredicate{ProductIDs: []string{"p-shirt"}}, want: true},
		{name: "other product", predicate: CataloguePredicate{ProductIDs: []string{"p-mug"}}, want: false},
		{name: "variant", predicate: CataloguePredicate{VariantIDs: []string{"v-red-m"}}, want: true},
		{name: "collection", predicate: CataloguePredicate{CollectionIDs: []string{"winter", "summer"}}, want: true},
		{
			name: "and requires every child",
			predicate: CataloguePredicate{And: []CataloguePredicate{
				{CategoryIDs: []string{"c-apparel"}},
				{CollectionIDs: []string{"winter"}},
			}},
			want: false,
		},
		{
			name: "and satisfied",
			predicate: CataloguePredicate{And: []CataloguePredicate{
				{CategoryIDs: []string{"c-apparel"}},
				{CollectionIDs: []string{"bestsellers"}},
			}},
			want: true,
		},
		{
			name:      "or child",
			predicate: CataloguePredicate{ProductIDs: []string{"p-mug"}, Or: []CataloguePredicate{{CategoryIDs: []string{"c-apparel"}}}},
			want:      true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := matcher.Matches(tc.predicate, target)
			if err != nil {
				t.Fatalf("Matches returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}
}

func TestCatalogueMatcher_NoCollections(t *testing.T) {
	matcher := mustMatcher()
	got, err := matcher.Matches(CataloguePredicate{CollectionIDs: []string{"summer"}}, CatalogueTarget{VariantID: "v1"})
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if got {
		t.Fatalf("expected variant without collections not to match")
	}
}

func TestRuleMatches(t *testing.T) {
	matcher := mustMatcher()
	target := CatalogueTarget{VariantID: "v1", ProductID: "p1"}

	indexed := PromotionRule{
		ID:         "rule-1",
		Catalogue:  CataloguePredicate{ProductIDs: []string{"p1"}},
		VariantIDs: []string{"v2"},
	}
	got, err := ruleMatches(matcher, indexed, target)
	if err != nil {
		t.Fatalf("ruleMatches: %v", err)
	}
	if got {
		t.Fatalf("expected indexed membership to be trusted for clean rules")
	}

	indexed.VariantsDirty = true
	got, err = ruleMatches(matcher, indexed, target)
	if err != nil {
		t.Fatalf("ruleMatches: %v", err)
	}
	if !got {
		t.Fatalf("expected dirty rule to evaluate its predicate")
	}

	if _, err := ruleMatches(nil, indexed, target); !errors.Is(err, ErrDiscountRuleInvalid) {
		t.Fatalf("expected ErrDiscountRuleInvalid without matcher got %v", err)
	}
}
