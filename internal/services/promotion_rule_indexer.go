package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/discounts/internal/repositories"
)

const (
	defaultIndexerRuleBatch   = 100
	defaultIndexerVariantPage = 500
	priceRecomputeReasonRules = "promotion_rule_refresh"
)

// PromotionRuleIndexerDeps wires the dirty rule indexer.
type PromotionRuleIndexerDeps struct {
	Promotions repositories.PromotionRepository
	Variants   repositories.VariantRepository
	Matcher    *CatalogueMatcher
	// Recompute is optional; when set, products whose membership changed get their prices refreshed.
	Recompute   PriceRecomputeDispatcher
	RuleBatch   int
	VariantPage int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type promotionRuleIndexer struct {
	promotions  repositories.PromotionRepository
	variants    repositories.VariantRepository
	matcher     *CatalogueMatcher
	recompute   PriceRecomputeDispatcher
	ruleBatch   int
	variantPage int
	now         func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewPromotionRuleIndexer constructs the indexer that rebuilds cached rule membership.
func NewPromotionRuleIndexer(deps PromotionRuleIndexerDeps) (PromotionRuleIndexer, error) {
	if deps.Promotions == nil {
		return nil, fmt.Errorf("%w: promotion repository", ErrDiscountRepositoryMissing)
	}
	if deps.Variants == nil {
		return nil, fmt.Errorf("%w: variant repository", ErrDiscountRepositoryMissing)
	}
	if deps.Matcher == nil {
		return nil, errors.New("promotion rule indexer: catalogue matcher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ruleBatch := deps.RuleBatch
	if ruleBatch <= 0 {
		ruleBatch = defaultIndexerRuleBatch
	}
	page := deps.VariantPage
	if page <= 0 {
		page = defaultIndexerVariantPage
	}
	return &promotionRuleIndexer{
		promotions:  deps.Promotions,
		variants:    deps.Variants,
		matcher:     deps.Matcher,
		recompute:   deps.Recompute,
		ruleBatch:   ruleBatch,
		variantPage: page,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// RefreshDirtyRules evaluates up to one batch of dirty rules against the whole variant catalogue,
// queues a price recompute for every product entering or leaving a rule, then stores the
// membership and clears the dirty flag.
func (i *promotionRuleIndexer) RefreshDirtyRules(ctx context.Context) (RuleRefreshResult, error) {
	rules, err := i.promotions.ListDirtyRules(ctx, i.ruleBatch)
	if err != nil {
		return RuleRefreshResult{}, translateRepositoryError(err, ErrDiscountUnavailable)
	}
	if len(rules) == 0 {
		return RuleRefreshResult{}, nil
	}

	variantSets := make([]map[string]struct{}, len(rules))
	productSets := make([]map[string]struct{}, len(rules))
	for idx := range rules {
		variantSets[idx] = make(map[string]struct{})
		productSets[idx] = make(map[string]struct{})
	}

	scanned := 0
	token := ""
	for {
		page, next, err := i.variants.ListAll(ctx, i.variantPage, token)
		if err != nil {
			return RuleRefreshResult{}, translateRepositoryError(err, ErrDiscountUnavailable)
		}
		for _, variant := range page {
			scanned++
			target := CatalogueTarget{
				VariantID:     variant.ID,
				ProductID:     variant.ProductID,
				CategoryID:    variant.CategoryID,
				CollectionIDs: variant.CollectionIDs,
			}
			for idx, rule := range rules {
				matched, err := i.matcher.Matches(rule.Catalogue, target)
				if err != nil {
					return RuleRefreshResult{}, fmt.Errorf("rule %s: %w", rule.ID, err)
				}
				if matched {
					variantSets[idx][variant.ID] = struct{}{}
					productSets[idx][variant.ProductID] = struct{}{}
				}
			}
		}
		if next == "" || len(page) == 0 {
			break
		}
		token = next
	}

	affected := make(map[string]struct{})
	for idx := range rules {
		for _, id := range rules[idx].ProductIDs {
			affected[id] = struct{}{}
		}
		rules[idx].VariantIDs = sortedKeys(variantSets[idx])
		rules[idx].ProductIDs = sortedKeys(productSets[idx])
		rules[idx].VariantsDirty = false
		for _, id := range rules[idx].ProductIDs {
			affected[id] = struct{}{}
		}
	}

	// Rules stay dirty until the recompute is queued, so a failed dispatch is retried on the
	// next refresh.
	if i.recompute != nil && len(affected) > 0 {
		job := PriceRecomputeJob{
			JobID:      ensureJobID(i.newID()),
			ProductIDs: sortedKeys(affected),
			Reason:     priceRecomputeReasonRules,
			QueuedAt:   i.now(),
		}
		if _, err := i.recompute.DispatchPriceRecompute(ctx, job); err != nil {
			i.logger(ctx, "promotion_rules.recompute_dispatch_failed", map[string]any{
				"error":    err.Error(),
				"products": len(job.ProductIDs),
			})
			return RuleRefreshResult{}, fmt.Errorf("promotion rules: dispatch price recompute: %w", err)
		}
	}

	for _, rule := range rules {
		if err := i.promotions.SaveRuleVariants(ctx, rule); err != nil {
			return RuleRefreshResult{}, translateRepositoryError(err, ErrDiscountUnavailable)
		}
	}

	i.logger(ctx, "promotion_rules.refreshed", map[string]any{
		"rules":    len(rules),
		"variants": scanned,
	})
	return RuleRefreshResult{Rules: len(rules), Variants: scanned}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
