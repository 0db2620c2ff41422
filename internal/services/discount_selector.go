package services

import "strings"

// DiscountCandidate is one promotion rule competing for a variant together with the discount it
// would grant.
type DiscountCandidate struct {
	Rule          PromotionRule
	PromotionName string
	Translations  map[string]string
	Amount        Money
}

// SelectBestDiscount picks the candidate with the strictly largest amount among the rules active in
// channel. Equal amounts resolve to the lowest rule ID so the outcome does not depend on input
// order. The boolean is false when no candidate competes in the channel.
func SelectBestDiscount(channel string, candidates []DiscountCandidate) (DiscountCandidate, bool) {
	var (
		best  DiscountCandidate
		found bool
	)
	for _, candidate := range candidates {
		if !candidate.Rule.InChannel(channel) {
			continue
		}
		if !found {
			best, found = candidate, true
			continue
		}
		cmp, err := candidate.Amount.Cmp(best.Amount)
		if err != nil {
			// Candidates of one channel share its currency; a mismatch cannot win.
			continue
		}
		if cmp > 0 || (cmp == 0 && strings.Compare(candidate.Rule.ID, best.Rule.ID) < 0) {
			best = candidate
		}
	}
	return best, found
}
