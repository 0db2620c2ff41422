package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/discounts/internal/domain"
	pfirestore "github.com/hanko-field/discounts/internal/platform/firestore"
	"github.com/hanko-field/discounts/internal/repositories"
)

const promotionsCollection = "promotions"

// openEnded stands in for a missing end date so "endSort > now" also selects open promotions.
var openEnded = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

type promotionRuleDocument struct {
	ID              string            `firestore:"id"`
	Name            string            `firestore:"name,omitempty"`
	Channels        []string          `firestore:"channels"`
	RewardValueType string            `firestore:"rewardValueType"`
	RewardValue     string            `firestore:"rewardValue"`
	Currency        string            `firestore:"currency,omitempty"`
	Catalogue       catalogueDocument `firestore:"catalogue"`
	VariantIDs      []string          `firestore:"variantIds"`
	ProductIDs      []string          `firestore:"productIds"`
	VariantsDirty   bool              `firestore:"variantsDirty"`
}

// promotionDocument embeds its rules. channels, endSort, hasDirtyRules and nextNotificationAt are
// derived on every write and back the queries below.
type promotionDocument struct {
	Name                        string                  `firestore:"name"`
	Translations                map[string]string       `firestore:"translations,omitempty"`
	StartDate                   time.Time               `firestore:"startDate"`
	EndDate                     *time.Time              `firestore:"endDate"`
	LastNotificationScheduledAt *time.Time              `firestore:"lastNotificationScheduledAt"`
	Rules                       []promotionRuleDocument `firestore:"rules"`
	UpdatedAt                   time.Time               `firestore:"updatedAt"`

	Channels           []string   `firestore:"channels"`
	EndSort            time.Time  `firestore:"endSort"`
	HasDirtyRules      bool       `firestore:"hasDirtyRules"`
	NextNotificationAt *time.Time `firestore:"nextNotificationAt"`
}

func newPromotionDocument(p domain.Promotion) promotionDocument {
	doc := promotionDocument{
		Name:                        p.Name,
		Translations:                p.Translations,
		StartDate:                   p.StartDate.UTC(),
		EndDate:                     utcPtr(p.EndDate),
		LastNotificationScheduledAt: utcPtr(p.LastNotificationScheduledAt),
		Rules:                       make([]promotionRuleDocument, 0, len(p.Rules)),
		UpdatedAt:                   p.UpdatedAt.UTC(),
	}
	for _, rule := range p.Rules {
		doc.Rules = append(doc.Rules, newPromotionRuleDocument(rule))
	}
	doc.derive()
	return doc
}

func newPromotionRuleDocument(rule domain.PromotionRule) promotionRuleDocument {
	return promotionRuleDocument{
		ID:              rule.ID,
		Name:            rule.Name,
		Channels:        rule.Channels,
		RewardValueType: string(rule.RewardValueType),
		RewardValue:     rule.RewardValue.String(),
		Currency:        rule.Currency,
		Catalogue:       newCatalogueDocument(rule.Catalogue),
		VariantIDs:      nonNil(rule.VariantIDs),
		ProductIDs:      nonNil(rule.ProductIDs),
		VariantsDirty:   rule.VariantsDirty,
	}
}

func (d *promotionDocument) derive() {
	channels := make(map[string]struct{})
	d.HasDirtyRules = false
	for _, rule := range d.Rules {
		for _, channel := range rule.Channels {
			if trimmed := strings.TrimSpace(channel); trimmed != "" {
				channels[trimmed] = struct{}{}
			}
		}
		if rule.VariantsDirty {
			d.HasDirtyRules = true
		}
	}
	d.Channels = make([]string, 0, len(channels))
	for channel := range channels {
		d.Channels = append(d.Channels, channel)
	}
	sort.Strings(d.Channels)

	d.EndSort = openEnded
	if d.EndDate != nil {
		d.EndSort = d.EndDate.UTC()
	}
	d.NextNotificationAt = nextNotification(d.StartDate, d.EndDate, d.LastNotificationScheduledAt)
}

type transition int

const (
	transitionNone transition = iota
	transitionStarting
	transitionEnding
)

// classifyTransition reports which boundary passed by now without being covered by the last
// notification stamp. A promotion that both started and ended since then is ending only.
func classifyTransition(start time.Time, end, last *time.Time, now time.Time) transition {
	uncovered := func(boundary time.Time) bool {
		return last == nil || last.Before(boundary)
	}
	if end != nil && !end.After(now) && uncovered(*end) {
		return transitionEnding
	}
	if !start.IsZero() && !start.After(now) && uncovered(start) {
		return transitionStarting
	}
	return transitionNone
}

// nextNotification returns the earliest start or end boundary that the last notification stamp
// does not cover yet.
func nextNotification(start time.Time, end, last *time.Time) *time.Time {
	uncovered := func(boundary time.Time) bool {
		return last == nil || last.Before(boundary)
	}
	var next *time.Time
	if !start.IsZero() && uncovered(start) {
		s := start.UTC()
		next = &s
	}
	if end != nil && uncovered(*end) {
		e := end.UTC()
		if next == nil || e.Before(*next) {
			next = &e
		}
	}
	return next
}

func (d promotionDocument) toDomain(id string) (domain.Promotion, error) {
	promotion := domain.Promotion{
		ID:                          id,
		Name:                        d.Name,
		Translations:                d.Translations,
		StartDate:                   d.StartDate,
		EndDate:                     d.EndDate,
		LastNotificationScheduledAt: d.LastNotificationScheduledAt,
		UpdatedAt:                   d.UpdatedAt,
	}
	for _, rule := range d.Rules {
		converted, err := rule.toDomain(id)
		if err != nil {
			return domain.Promotion{}, err
		}
		promotion.Rules = append(promotion.Rules, converted)
	}
	return promotion, nil
}

func (d promotionRuleDocument) toDomain(promotionID string) (domain.PromotionRule, error) {
	value, err := parseDecimal(d.RewardValue)
	if err != nil {
		return domain.PromotionRule{}, fmt.Errorf("rule %s: %w", d.ID, err)
	}
	return domain.PromotionRule{
		ID:              d.ID,
		PromotionID:     promotionID,
		Name:            d.Name,
		Channels:        d.Channels,
		RewardValueType: domain.DiscountValueType(d.RewardValueType),
		RewardValue:     value,
		Currency:        d.Currency,
		Catalogue:       d.Catalogue.toDomain(),
		VariantIDs:      d.VariantIDs,
		ProductIDs:      d.ProductIDs,
		VariantsDirty:   d.VariantsDirty,
	}, nil
}

// PromotionRepository implements repositories.PromotionRepository.
type PromotionRepository struct {
	provider   *pfirestore.Provider
	promotions *pfirestore.BaseRepository[promotionDocument]
}

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		provider:   provider,
		promotions: pfirestore.NewBaseRepository[promotionDocument](provider, promotionsCollection),
	}, nil
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// ListActiveRules returns the rules of promotions running at now that are listed in channel.
func (r *PromotionRepository) ListActiveRules(ctx context.Context, channel string, now time.Time) ([]repositories.ActivePromotionRule, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, nil
	}
	now = now.UTC()
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("channels", "array-contains", channel).Where("endSort", ">", now)
	})
	if err != nil {
		return nil, err
	}

	var rules []repositories.ActivePromotionRule
	for _, doc := range docs {
		promotion, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("promotions.decode %s: %w", doc.ID, err)
		}
		if !promotion.IsActiveAt(now) {
			continue
		}
		for _, rule := range promotion.Rules {
			if !rule.InChannel(channel) {
				continue
			}
			rules = append(rules, repositories.ActivePromotionRule{
				Rule:          rule,
				PromotionName: promotion.Name,
				Translations:  promotion.Translations,
			})
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })
	return rules, nil
}

// FindUnnotifiedTransitions returns promotions whose start or end passed without a notification.
func (r *PromotionRepository) FindUnnotifiedTransitions(ctx context.Context, now time.Time) (domain.PromotionTransitions, error) {
	now = now.UTC()
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nextNotificationAt", "<=", now).OrderBy("nextNotificationAt", firestore.Asc)
	})
	if err != nil {
		return domain.PromotionTransitions{}, err
	}

	var transitions domain.PromotionTransitions
	for _, doc := range docs {
		promotion, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.PromotionTransitions{}, fmt.Errorf("promotions.decode %s: %w", doc.ID, err)
		}
		switch classifyTransition(promotion.StartDate, promotion.EndDate, promotion.LastNotificationScheduledAt, now) {
		case transitionEnding:
			transitions.Ending = append(transitions.Ending, promotion)
		case transitionStarting:
			transitions.Starting = append(transitions.Starting, promotion)
		}
	}
	return transitions, nil
}

// NextTransitionAfter returns the nearest unnotified boundary strictly after now.
func (r *PromotionRepository) NextTransitionAfter(ctx context.Context, now time.Time) (time.Time, bool, error) {
	now = now.UTC()
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("nextNotificationAt", ">", now).OrderBy("nextNotificationAt", firestore.Asc).Limit(1)
	})
	if err != nil {
		return time.Time{}, false, err
	}
	if len(docs) == 0 || docs[0].Data.NextNotificationAt == nil {
		return time.Time{}, false, nil
	}
	return docs[0].Data.NextNotificationAt.UTC(), true, nil
}

// MarkNotificationScheduled stamps lastNotificationScheduledAt on the promotions atomically.
func (r *PromotionRepository) MarkNotificationScheduled(ctx context.Context, promotionIDs []string, at time.Time) error {
	if len(promotionIDs) == 0 {
		return nil
	}
	at = at.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, 0, len(promotionIDs))
		docs := make([]promotionDocument, 0, len(promotionIDs))
		for _, id := range promotionIDs {
			ref, err := r.promotions.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			decoded, err := r.promotions.Decode(snap)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
			docs = append(docs, decoded.Data)
		}
		for i, ref := range refs {
			next := nextNotification(docs[i].StartDate, docs[i].EndDate, &at)
			if err := tx.Update(ref, []firestore.Update{
				{Path: "lastNotificationScheduledAt", Value: at},
				{Path: "nextNotificationAt", Value: next},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return pfirestore.WrapError("promotions.mark_notification_scheduled", err)
}

// ListDirtyRules returns up to limit rules whose cached variant membership is stale.
func (r *PromotionRepository) ListDirtyRules(ctx context.Context, limit int) ([]domain.PromotionRule, error) {
	if limit <= 0 {
		return nil, nil
	}
	docs, err := r.promotions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("hasDirtyRules", "==", true).Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	var rules []domain.PromotionRule
	for _, doc := range docs {
		for _, ruleDoc := range doc.Data.Rules {
			if !ruleDoc.VariantsDirty {
				continue
			}
			rule, err := ruleDoc.toDomain(doc.ID)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
			if len(rules) == limit {
				return rules, nil
			}
		}
	}
	return rules, nil
}

// SaveRuleVariants replaces the cached membership of one rule inside its promotion document.
func (r *PromotionRepository) SaveRuleVariants(ctx context.Context, rule domain.PromotionRule) error {
	promotionID := strings.TrimSpace(rule.PromotionID)
	if promotionID == "" {
		return pfirestore.NotFound("promotions.save_rule_variants", "rule %s has no promotion", rule.ID)
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.promotions.DocumentRef(ctx, promotionID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		decoded, err := r.promotions.Decode(snap)
		if err != nil {
			return err
		}
		doc := decoded.Data
		found := false
		for i := range doc.Rules {
			if doc.Rules[i].ID != rule.ID {
				continue
			}
			doc.Rules[i].VariantIDs = nonNil(rule.VariantIDs)
			doc.Rules[i].ProductIDs = nonNil(rule.ProductIDs)
			doc.Rules[i].VariantsDirty = rule.VariantsDirty
			found = true
		}
		if !found {
			return pfirestore.NotFound("promotions.save_rule_variants", "rule %s not found in promotion %s", rule.ID, promotionID)
		}
		doc.derive()
		return tx.Update(ref, []firestore.Update{
			{Path: "rules", Value: doc.Rules},
			{Path: "hasDirtyRules", Value: doc.HasDirtyRules},
		})
	})
	return pfirestore.WrapError("promotions.save_rule_variants", err)
}

// Save stores a promotion with its derived query fields. Promotions are authored by the
// merchandising service; this is used for seeding.
func (r *PromotionRepository) Save(ctx context.Context, promotion domain.Promotion) error {
	return r.promotions.Set(ctx, strings.TrimSpace(promotion.ID), newPromotionDocument(promotion))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
