package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/discounts/internal/repositories"
)

// CheckoutDiscountServiceDeps wires the checkout discount service.
type CheckoutDiscountServiceDeps struct {
	Checkouts    repositories.CheckoutRepository
	Recalculator *DiscountRecalculator
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type checkoutDiscountService struct {
	checkouts    repositories.CheckoutRepository
	recalculator *DiscountRecalculator
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutDiscountService constructs a CheckoutDiscountService validating required dependencies.
func NewCheckoutDiscountService(deps CheckoutDiscountServiceDeps) (CheckoutDiscountService, error) {
	if deps.Checkouts == nil {
		return nil, fmt.Errorf("%w: checkout repository", ErrDiscountRepositoryMissing)
	}
	if deps.Recalculator == nil {
		return nil, errors.New("checkout discount service: recalculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &checkoutDiscountService{
		checkouts:    deps.Checkouts,
		recalculator: deps.Recalculator,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetDiscounts returns the stored discount state and the totals it implies.
func (s *checkoutDiscountService) GetDiscounts(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error) {
	checkout, err := s.load(ctx, checkoutID)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	totals, err := s.recalculator.totals(checkoutTarget(checkout))
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	return CheckoutDiscountResult{Checkout: checkout, Totals: totals}, nil
}

// AddVoucher validates the voucher against the checkout and persists it on success.
func (s *checkoutDiscountService) AddVoucher(ctx context.Context, cmd ApplyVoucherCommand) (CheckoutDiscountResult, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return CheckoutDiscountResult{}, fmt.Errorf("%w: voucher code is required", ErrDiscountInvalidInput)
	}
	checkout, err := s.load(ctx, cmd.TargetID)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}

	outcome, err := s.recalculator.apply(ctx, checkoutTarget(checkout), code)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	result, err := s.save(ctx, checkout, outcome)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	s.logger(ctx, "checkout.voucher_added", map[string]any{
		"checkoutID": checkout.ID,
		"voucher":    outcome.State.VoucherCode,
		"discount":   outcome.State.Discount.String(),
	})
	return result, nil
}

// RemoveVoucher clears the voucher fields of the checkout.
func (s *checkoutDiscountService) RemoveVoucher(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error) {
	checkout, err := s.load(ctx, checkoutID)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	outcome, err := s.recalculator.remove(ctx, checkoutTarget(checkout))
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	return s.save(ctx, checkout, outcome)
}

// Recalculate refreshes catalogue discounts and drops a voucher that no longer applies.
func (s *checkoutDiscountService) Recalculate(ctx context.Context, checkoutID string) (CheckoutDiscountResult, error) {
	checkout, err := s.load(ctx, checkoutID)
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	outcome, err := s.recalculator.recalculate(ctx, checkoutTarget(checkout))
	if err != nil {
		return CheckoutDiscountResult{}, err
	}
	return s.save(ctx, checkout, outcome)
}

func (s *checkoutDiscountService) load(ctx context.Context, checkoutID string) (Checkout, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return Checkout{}, fmt.Errorf("%w: checkout id is required", ErrDiscountInvalidInput)
	}
	checkout, err := s.checkouts.FindByID(ctx, checkoutID)
	if err != nil {
		return Checkout{}, translateRepositoryError(err, ErrCheckoutNotFound)
	}
	return checkout, nil
}

func (s *checkoutDiscountService) save(ctx context.Context, checkout Checkout, outcome recalculation) (CheckoutDiscountResult, error) {
	checkout.Lines = outcome.Lines
	checkout.DiscountState = outcome.State
	checkout.UpdatedAt = s.now()
	if err := s.checkouts.SaveDiscounts(ctx, checkout); err != nil {
		return CheckoutDiscountResult{}, translateRepositoryError(err, ErrCheckoutNotFound)
	}
	return CheckoutDiscountResult{
		Checkout:       checkout,
		Totals:         outcome.Totals,
		VoucherRemoved: outcome.VoucherRemoved,
	}, nil
}
