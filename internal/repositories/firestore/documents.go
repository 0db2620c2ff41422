package firestore

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/discounts/internal/domain"
)

// Amounts are persisted as decimal strings so no precision is lost to float64.
type moneyDocument struct {
	Amount   string `firestore:"amount"`
	Currency string `firestore:"currency"`
}

func newMoneyDocument(m domain.Money) moneyDocument {
	return moneyDocument{Amount: m.Amount.String(), Currency: m.Currency}
}

func newMoneyDocumentPtr(m *domain.Money) *moneyDocument {
	if m == nil {
		return nil
	}
	doc := newMoneyDocument(*m)
	return &doc
}

func (d moneyDocument) toDomain() (domain.Money, error) {
	amount := strings.TrimSpace(d.Amount)
	if amount == "" {
		return domain.ZeroMoney(d.Currency), nil
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return domain.Money{}, fmt.Errorf("decode amount %q: %w", d.Amount, err)
	}
	return domain.NewMoney(value, d.Currency), nil
}

func (d *moneyDocument) toDomainPtr() (*domain.Money, error) {
	if d == nil {
		return nil, nil
	}
	m, err := d.toDomain()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %q: %w", raw, err)
	}
	return value, nil
}

type catalogueDocument struct {
	ProductIDs    []string            `firestore:"productIds,omitempty"`
	CategoryIDs   []string            `firestore:"categoryIds,omitempty"`
	CollectionIDs []string            `firestore:"collectionIds,omitempty"`
	VariantIDs    []string            `firestore:"variantIds,omitempty"`
	Or            []catalogueDocument `firestore:"or,omitempty"`
	And           []catalogueDocument `firestore:"and,omitempty"`
}

func newCatalogueDocument(p domain.CataloguePredicate) catalogueDocument {
	doc := catalogueDocument{
		ProductIDs:    p.ProductIDs,
		CategoryIDs:   p.CategoryIDs,
		CollectionIDs: p.CollectionIDs,
		VariantIDs:    p.VariantIDs,
	}
	for _, child := range p.Or {
		doc.Or = append(doc.Or, newCatalogueDocument(child))
	}
	for _, child := range p.And {
		doc.And = append(doc.And, newCatalogueDocument(child))
	}
	return doc
}

func (d catalogueDocument) toDomain() domain.CataloguePredicate {
	p := domain.CataloguePredicate{
		ProductIDs:    d.ProductIDs,
		CategoryIDs:   d.CategoryIDs,
		CollectionIDs: d.CollectionIDs,
		VariantIDs:    d.VariantIDs,
	}
	for _, child := range d.Or {
		p.Or = append(p.Or, child.toDomain())
	}
	for _, child := range d.And {
		p.And = append(p.And, child.toDomain())
	}
	return p
}

type addressDocument struct {
	Country    string `firestore:"country"`
	PostalCode string `firestore:"postalCode,omitempty"`
}

func newAddressDocument(a *domain.Address) *addressDocument {
	if a == nil {
		return nil
	}
	return &addressDocument{Country: a.Country, PostalCode: a.PostalCode}
}

func (d *addressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	return &domain.Address{Country: d.Country, PostalCode: d.PostalCode}
}

type lineDiscountDocument struct {
	ID          string        `firestore:"id"`
	Type        string        `firestore:"type"`
	ValueType   string        `firestore:"valueType"`
	Value       string        `firestore:"value"`
	Amount      moneyDocument `firestore:"amount"`
	Name        string        `firestore:"name,omitempty"`
	RuleID      string        `firestore:"ruleId,omitempty"`
	PromotionID string        `firestore:"promotionId,omitempty"`
	VoucherCode string        `firestore:"voucherCode,omitempty"`
}

type lineDocument struct {
	ID               string                 `firestore:"id"`
	VariantID        string                 `firestore:"variantId"`
	ProductID        string                 `firestore:"productId"`
	CategoryID       string                 `firestore:"categoryId,omitempty"`
	CollectionIDs    []string               `firestore:"collectionIds,omitempty"`
	Quantity         int                    `firestore:"quantity"`
	UnitPrice        moneyDocument          `firestore:"unitPrice"`
	RequiresShipping bool                   `firestore:"requiresShipping"`
	Discounts        []lineDiscountDocument `firestore:"discounts"`
}

func newLineDocuments(lines []domain.Line) []lineDocument {
	docs := make([]lineDocument, 0, len(lines))
	for _, line := range lines {
		doc := lineDocument{
			ID:               line.ID,
			VariantID:        line.VariantID,
			ProductID:        line.ProductID,
			CategoryID:       line.CategoryID,
			CollectionIDs:    line.CollectionIDs,
			Quantity:         line.Quantity,
			UnitPrice:        newMoneyDocument(line.UnitPrice),
			RequiresShipping: line.RequiresShipping,
			Discounts:        make([]lineDiscountDocument, 0, len(line.Discounts)),
		}
		for _, discount := range line.Discounts {
			doc.Discounts = append(doc.Discounts, lineDiscountDocument{
				ID:          discount.ID,
				Type:        string(discount.Type),
				ValueType:   string(discount.ValueType),
				Value:       discount.Value,
				Amount:      newMoneyDocument(discount.Amount),
				Name:        discount.Name,
				RuleID:      discount.RuleID,
				PromotionID: discount.PromotionID,
				VoucherCode: discount.VoucherCode,
			})
		}
		docs = append(docs, doc)
	}
	return docs
}

func linesToDomain(docs []lineDocument) ([]domain.Line, error) {
	lines := make([]domain.Line, 0, len(docs))
	for _, doc := range docs {
		unit, err := doc.UnitPrice.toDomain()
		if err != nil {
			return nil, fmt.Errorf("line %s: %w", doc.ID, err)
		}
		line := domain.Line{
			ID:               doc.ID,
			VariantID:        doc.VariantID,
			ProductID:        doc.ProductID,
			CategoryID:       doc.CategoryID,
			CollectionIDs:    doc.CollectionIDs,
			Quantity:         doc.Quantity,
			UnitPrice:        unit,
			RequiresShipping: doc.RequiresShipping,
		}
		for _, d := range doc.Discounts {
			amount, err := d.Amount.toDomain()
			if err != nil {
				return nil, fmt.Errorf("line %s discount %s: %w", doc.ID, d.ID, err)
			}
			line.Discounts = append(line.Discounts, domain.LineDiscount{
				ID:          d.ID,
				Type:        domain.DiscountType(d.Type),
				ValueType:   domain.DiscountValueType(d.ValueType),
				Value:       d.Value,
				Amount:      amount,
				Name:        d.Name,
				RuleID:      d.RuleID,
				PromotionID: d.PromotionID,
				VoucherCode: d.VoucherCode,
			})
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// discountFields holds the DiscountState columns shared by checkouts and orders.
type discountFields struct {
	VoucherCode            string         `firestore:"voucherCode"`
	Discount               *moneyDocument `firestore:"discount"`
	DiscountName           string         `firestore:"discountName"`
	TranslatedDiscountName string         `firestore:"translatedDiscountName"`
}

func (d discountFields) toDomain(currencyCode string) (domain.DiscountState, error) {
	state := domain.DiscountState{
		VoucherCode:            d.VoucherCode,
		Discount:               domain.ZeroMoney(currencyCode),
		DiscountName:           d.DiscountName,
		TranslatedDiscountName: d.TranslatedDiscountName,
	}
	if d.Discount != nil {
		amount, err := d.Discount.toDomain()
		if err != nil {
			return domain.DiscountState{}, fmt.Errorf("discount: %w", err)
		}
		state.Discount = amount
	}
	return state, nil
}
