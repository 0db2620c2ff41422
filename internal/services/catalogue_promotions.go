package services

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/platform/textutil"
	"github.com/hanko-field/discounts/internal/repositories"
)

// discountNamer turns merchant-entered promotion and voucher names into plain-text labels.
type discountNamer struct {
	policy *bluemonday.Policy
}

func newDiscountNamer() discountNamer {
	return discountNamer{policy: bluemonday.StrictPolicy()}
}

// Names returns the sanitised default name and the translation matching languageCode. The
// translated name is empty when no translation matches.
func (n discountNamer) Names(name string, translations map[string]string, languageCode string) (string, string) {
	clean := n.clean(name)
	translated, ok := textutil.MatchTranslation(textutil.NormalizeStringMap(translations), languageCode)
	if !ok {
		return clean, ""
	}
	return clean, n.clean(translated)
}

func (n discountNamer) clean(value string) string {
	if n.policy == nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(n.policy.Sanitize(value))
}

// bestRuleDiscount evaluates every active rule against one variant priced at unitPrice and
// returns the winning candidate with its per-unit amount.
func bestRuleDiscount(matcher *CatalogueMatcher, channel string, rules []repositories.ActivePromotionRule, target CatalogueTarget, unitPrice Money) (DiscountCandidate, bool, error) {
	candidates := make([]DiscountCandidate, 0, len(rules))
	for _, active := range rules {
		if !active.Rule.InChannel(channel) {
			continue
		}
		matched, err := ruleMatches(matcher, active.Rule, target)
		if err != nil {
			return DiscountCandidate{}, false, fmt.Errorf("rule %s: %w", active.Rule.ID, err)
		}
		if !matched {
			continue
		}
		amount, err := ComputeDiscount(active.Rule.Reward(), unitPrice)
		if err != nil {
			return DiscountCandidate{}, false, fmt.Errorf("rule %s: %w", active.Rule.ID, err)
		}
		candidates = append(candidates, DiscountCandidate{
			Rule:          active.Rule,
			PromotionName: active.PromotionName,
			Translations:  active.Translations,
			Amount:        amount,
		})
	}
	best, ok := SelectBestDiscount(channel, candidates)
	return best, ok, nil
}

// applyCataloguePromotions replaces the catalogue promotion discounts of every line with the
// winning rule for its variant. Other discount types attached to the line are kept.
func applyCataloguePromotions(matcher *CatalogueMatcher, namer discountNamer, channel, languageCode string, rules []repositories.ActivePromotionRule, lines []LineInfo) ([]LineInfo, error) {
	result := make([]LineInfo, 0, len(lines))
	for _, line := range lines {
		kept := make([]LineDiscount, 0, len(line.Discounts))
		for _, discount := range line.Discounts {
			if discount.Type != domain.DiscountTypeCataloguePromotion {
				kept = append(kept, discount)
			}
		}
		line.Discounts = kept

		best, ok, err := bestRuleDiscount(matcher, channel, rules, line.catalogueTarget(), line.Line.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", line.Line.ID, err)
		}
		if ok && !best.Amount.IsZero() {
			name, translated := namer.Names(best.PromotionName, best.Translations, languageCode)
			if translated != "" {
				name = translated
			}
			line.Discounts = append(line.Discounts, LineDiscount{
				ID:          line.Line.ID + ":" + best.Rule.ID,
				Type:        domain.DiscountTypeCataloguePromotion,
				ValueType:   best.Rule.RewardValueType,
				Value:       best.Rule.RewardValue.String(),
				Amount:      best.Amount.Mul(line.Line.Quantity),
				Name:        name,
				RuleID:      best.Rule.ID,
				PromotionID: best.Rule.PromotionID,
			})
		}
		result = append(result, line)
	}
	return result, nil
}
