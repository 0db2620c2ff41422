package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/discounts/internal/repositories"
)

var discountTracer = otel.Tracer("github.com/hanko-field/discounts/internal/services")

// DiscountRecalculatorDeps bundles the collaborators shared by checkout and order discount services.
type DiscountRecalculatorDeps struct {
	Vouchers   repositories.VoucherRepository
	Promotions repositories.PromotionRepository
	Validator  *EligibilityValidator
	Matcher    *CatalogueMatcher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// DiscountRecalculator drives the voucher state machine of a checkout or order and refreshes the
// catalogue promotion discounts of its lines. It never persists; callers save the result.
type DiscountRecalculator struct {
	vouchers   repositories.VoucherRepository
	promotions repositories.PromotionRepository
	validator  *EligibilityValidator
	calculator *DiscountCalculator
	matcher    *CatalogueMatcher
	namer      discountNamer
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// recalculation is the discount outcome for one aggregate.
type recalculation struct {
	Lines          []Line
	State          DiscountState
	Totals         DiscountTotals
	VoucherRemoved bool
}

// NewDiscountRecalculator validates dependencies and constructs a recalculator.
func NewDiscountRecalculator(deps DiscountRecalculatorDeps) (*DiscountRecalculator, error) {
	if deps.Vouchers == nil {
		return nil, fmt.Errorf("%w: voucher repository", ErrDiscountRepositoryMissing)
	}
	if deps.Promotions == nil {
		return nil, fmt.Errorf("%w: promotion repository", ErrDiscountRepositoryMissing)
	}
	if deps.Validator == nil {
		return nil, errors.New("discount recalculator: eligibility validator is required")
	}
	if deps.Matcher == nil {
		return nil, errors.New("discount recalculator: catalogue matcher is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &DiscountRecalculator{
		vouchers:   deps.Vouchers,
		promotions: deps.Promotions,
		validator:  deps.Validator,
		calculator: NewDiscountCalculator(deps.Matcher),
		matcher:    deps.Matcher,
		namer:      newDiscountNamer(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// apply attaches the voucher identified by code. A rejected voucher yields *NotApplicableError and
// no recalculation, so nothing is written by the caller.
func (r *DiscountRecalculator) apply(ctx context.Context, target discountTarget, code string) (result recalculation, err error) {
	ctx, span := discountTracer.Start(ctx, "discounts.apply_voucher", trace.WithAttributes(
		attribute.String("discount.target", target.kind),
		attribute.String("discount.channel", target.Channel),
	))
	defer func() { endSpan(span, err) }()

	pctx, err := r.price(ctx, target)
	if err != nil {
		return recalculation{}, err
	}

	voucher, err := r.vouchers.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return recalculation{}, notApplicable(fmt.Sprintf(msgVoucherNotApplicable, target.kind))
		}
		return recalculation{}, translateRepositoryError(err, ErrVoucherNotFound)
	}

	state, rejection, err := r.evaluate(ctx, target, voucher, pctx)
	if err != nil {
		return recalculation{}, err
	}
	if rejection != nil {
		return recalculation{}, rejection
	}

	totals, err := totalsFor(pctx, state.Discount)
	if err != nil {
		return recalculation{}, err
	}
	return recalculation{Lines: linesFromInfos(pctx.Lines), State: state, Totals: totals}, nil
}

// remove clears the voucher fields regardless of the prior state. Lines are left untouched.
func (r *DiscountRecalculator) remove(ctx context.Context, target discountTarget) (recalculation, error) {
	pctx, err := buildPricingContext(target, lineInfos(target.Lines))
	if err != nil {
		return recalculation{}, err
	}
	state := target.State.Cleared(pctx.Currency)
	totals, err := totalsFor(pctx, state.Discount)
	if err != nil {
		return recalculation{}, err
	}
	return recalculation{
		Lines:          target.Lines,
		State:          state,
		Totals:         totals,
		VoucherRemoved: target.State.HasVoucher(),
	}, nil
}

// recalculate refreshes catalogue discounts and re-validates the attached voucher against the
// current context. A voucher that no longer applies is dropped without an error.
func (r *DiscountRecalculator) recalculate(ctx context.Context, target discountTarget) (result recalculation, err error) {
	ctx, span := discountTracer.Start(ctx, "discounts.recalculate", trace.WithAttributes(
		attribute.String("discount.target", target.kind),
		attribute.String("discount.channel", target.Channel),
	))
	defer func() { endSpan(span, err) }()

	pctx, err := r.price(ctx, target)
	if err != nil {
		return recalculation{}, err
	}
	result = recalculation{Lines: linesFromInfos(pctx.Lines), State: target.State.Cleared(pctx.Currency)}

	if code := strings.TrimSpace(target.State.VoucherCode); code != "" {
		state, reason, err := r.revalidate(ctx, target, code, pctx)
		if err != nil {
			return recalculation{}, err
		}
		if reason != "" {
			result.VoucherRemoved = true
			r.logger(ctx, "discounts.voucher_dropped", map[string]any{
				"target":  target.kind,
				"voucher": code,
				"reason":  reason,
			})
		} else {
			result.State = state
		}
	}

	result.Totals, err = totalsFor(pctx, result.State.Discount)
	if err != nil {
		return recalculation{}, err
	}
	span.SetAttributes(attribute.Bool("discount.voucher_removed", result.VoucherRemoved))
	return result, nil
}

// totals derives totals from the stored state without changing it.
func (r *DiscountRecalculator) totals(target discountTarget) (DiscountTotals, error) {
	pctx, err := buildPricingContext(target, lineInfos(target.Lines))
	if err != nil {
		return DiscountTotals{}, err
	}
	return totalsFor(pctx, target.State.Discount)
}

// revalidate returns the refreshed voucher state, or a non-empty reason when the voucher must go.
func (r *DiscountRecalculator) revalidate(ctx context.Context, target discountTarget, code string, pctx PricingContext) (DiscountState, string, error) {
	voucher, err := r.vouchers.FindByCode(ctx, code)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return DiscountState{}, "voucher not found", nil
		}
		return DiscountState{}, "", translateRepositoryError(err, ErrVoucherNotFound)
	}
	state, rejection, err := r.evaluate(ctx, target, voucher, pctx)
	if err != nil {
		return DiscountState{}, "", err
	}
	if rejection != nil {
		return DiscountState{}, rejection.Message, nil
	}
	return state, "", nil
}

// evaluate checks activity and eligibility, then computes the voucher discount.
func (r *DiscountRecalculator) evaluate(ctx context.Context, target discountTarget, voucher Voucher, pctx PricingContext) (DiscountState, *NotApplicableError, error) {
	if _, ok := voucher.Listing(pctx.Channel); !ok || !voucher.IsActiveAt(r.now()) {
		return DiscountState{}, notApplicable(fmt.Sprintf(msgVoucherNotApplicable, target.kind)), nil
	}

	verdict, err := r.validator.Validate(ctx, voucher, pctx)
	if err != nil {
		return DiscountState{}, nil, err
	}
	if !verdict.Eligible() {
		return DiscountState{}, verdict.Rejection, nil
	}

	amount, err := r.calculator.VoucherDiscount(voucher, pctx)
	if err != nil {
		var rejection *NotApplicableError
		if errors.As(err, &rejection) {
			return DiscountState{}, rejection, nil
		}
		return DiscountState{}, nil, err
	}

	name, translated := r.namer.Names(voucher.Name, voucher.Translations, pctx.LanguageCode)
	return DiscountState{
		VoucherCode:            voucher.Code,
		Discount:               amount,
		DiscountName:           name,
		TranslatedDiscountName: translated,
	}, nil, nil
}

// price loads the active promotion rules and builds the pricing context with fresh catalogue
// promotion discounts on every line.
func (r *DiscountRecalculator) price(ctx context.Context, target discountTarget) (PricingContext, error) {
	rules, err := r.promotions.ListActiveRules(ctx, target.Channel, r.now())
	if err != nil {
		return PricingContext{}, translateRepositoryError(err, ErrDiscountUnavailable)
	}
	lines, err := applyCataloguePromotions(r.matcher, r.namer, target.Channel, target.LanguageCode, rules, lineInfos(target.Lines))
	if err != nil {
		return PricingContext{}, err
	}
	return buildPricingContext(target, lines)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrDiscountNotApplicable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
