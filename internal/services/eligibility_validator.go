package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/repositories"
)

// Verdict is the outcome of an eligibility check. A nil Rejection means the voucher applies.
type Verdict struct {
	Rejection *NotApplicableError
}

// Eligible reports whether no check failed.
func (v Verdict) Eligible() bool {
	return v.Rejection == nil
}

// EligibilityValidatorDeps bundles the collaborators of the validator.
type EligibilityValidatorDeps struct {
	Customers repositories.VoucherCustomerRepository
	// Language selects the locale used to format money in rejection messages.
	Language language.Tag
}

// EligibilityValidator decides whether a voucher applies to a priced context.
type EligibilityValidator struct {
	customers repositories.VoucherCustomerRepository
	lang      language.Tag
}

// NewEligibilityValidator constructs a validator. The customer repository is required because the
// once-per-customer check reads prior redemptions.
func NewEligibilityValidator(deps EligibilityValidatorDeps) (*EligibilityValidator, error) {
	if deps.Customers == nil {
		return nil, fmt.Errorf("%w: voucher customer repository", ErrDiscountRepositoryMissing)
	}
	lang := deps.Language
	if lang == language.Und {
		lang = language.English
	}
	return &EligibilityValidator{customers: deps.Customers, lang: lang}, nil
}

// Validate runs the eligibility checks in their fixed order and returns the first violation.
// The returned error is reserved for failures of the redemption lookup.
func (v *EligibilityValidator) Validate(ctx context.Context, voucher Voucher, pctx PricingContext) (Verdict, error) {
	if voucher.Type == domain.VoucherTypeShipping {
		if !pctx.RequiresShipping {
			return reject(notApplicable(msgShippingNotRequired)), nil
		}
		if pctx.ShippingMethod == "" {
			return reject(notApplicable(msgShippingMethodMissing)), nil
		}
		if !countryAllowed(voucher.Countries, pctx.ShippingCountry) {
			return reject(notApplicable(msgCountryNotAllowed)), nil
		}
	}

	if listing, ok := voucher.Listing(pctx.Channel); ok && listing.MinSpent != nil {
		minSpent := *listing.MinSpent
		cmp, err := pctx.Subtotal.Gross.Cmp(minSpent)
		if err != nil {
			return Verdict{}, fmt.Errorf("%w: voucher %s min spent: %v", ErrDiscountRuleInvalid, voucher.Code, err)
		}
		if cmp < 0 {
			rejection := notApplicable(fmt.Sprintf(msgMinSpent, minSpent.Format(v.lang)))
			rejection.MinSpent = &minSpent
			return reject(rejection), nil
		}
	}

	if voucher.MinCheckoutItemsQuantity != nil {
		minQuantity := *voucher.MinCheckoutItemsQuantity
		if pctx.Quantity < minQuantity {
			rejection := notApplicable(fmt.Sprintf(msgMinQuantity, minQuantity))
			rejection.MinCheckoutItemsQuantity = &minQuantity
			return reject(rejection), nil
		}
	}

	if voucher.ApplyOncePerCustomer {
		if pctx.CustomerEmail == "" {
			return reject(notApplicable(msgCustomerUnknown)), nil
		}
		redeemed, err := v.customers.HasRedeemed(ctx, voucher.ID, pctx.CustomerEmail)
		if err != nil {
			return Verdict{}, translateRepositoryError(err, ErrVoucherNotFound)
		}
		if redeemed {
			return reject(notApplicable(msgOncePerCustomer)), nil
		}
	}

	return Verdict{}, nil
}

func reject(rejection *NotApplicableError) Verdict {
	return Verdict{Rejection: rejection}
}

func countryAllowed(allowed []string, country string) bool {
	if len(allowed) == 0 {
		return true
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if country == "" {
		return false
	}
	for _, candidate := range allowed {
		if strings.ToUpper(strings.TrimSpace(candidate)) == country {
			return true
		}
	}
	return false
}

// translateRepositoryError maps repository errors onto service sentinels.
func translateRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrDiscountConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrDiscountUnavailable, err)
		}
	}
	return err
}
