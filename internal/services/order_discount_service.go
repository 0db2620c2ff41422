package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/discounts/internal/domain"
	"github.com/hanko-field/discounts/internal/repositories"
)

// OrderDiscountServiceDeps wires the order discount service.
type OrderDiscountServiceDeps struct {
	Orders       repositories.OrderRepository
	Recalculator *DiscountRecalculator
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderDiscountService struct {
	orders       repositories.OrderRepository
	recalculator *DiscountRecalculator
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderDiscountService constructs an OrderDiscountService. Only draft orders accept discount changes.
func NewOrderDiscountService(deps OrderDiscountServiceDeps) (OrderDiscountService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("%w: order repository", ErrDiscountRepositoryMissing)
	}
	if deps.Recalculator == nil {
		return nil, errors.New("order discount service: recalculator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderDiscountService{
		orders:       deps.Orders,
		recalculator: deps.Recalculator,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *orderDiscountService) AddVoucher(ctx context.Context, cmd ApplyVoucherCommand) (OrderDiscountResult, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return OrderDiscountResult{}, fmt.Errorf("%w: voucher code is required", ErrDiscountInvalidInput)
	}
	order, err := s.loadDraft(ctx, cmd.TargetID)
	if err != nil {
		return OrderDiscountResult{}, err
	}
	outcome, err := s.recalculator.apply(ctx, orderTarget(order), code)
	if err != nil {
		return OrderDiscountResult{}, err
	}
	result, err := s.save(ctx, order, outcome)
	if err != nil {
		return OrderDiscountResult{}, err
	}
	s.logger(ctx, "order.voucher_added", map[string]any{
		"orderID":  order.ID,
		"voucher":  outcome.State.VoucherCode,
		"discount": outcome.State.Discount.String(),
	})
	return result, nil
}

func (s *orderDiscountService) RemoveVoucher(ctx context.Context, orderID string) (OrderDiscountResult, error) {
	order, err := s.loadDraft(ctx, orderID)
	if err != nil {
		return OrderDiscountResult{}, err
	}
	outcome, err := s.recalculator.remove(ctx, orderTarget(order))
	if err != nil {
		return OrderDiscountResult{}, err
	}
	return s.save(ctx, order, outcome)
}

func (s *orderDiscountService) Recalculate(ctx context.Context, orderID string) (OrderDiscountResult, error) {
	order, err := s.loadDraft(ctx, orderID)
	if err != nil {
		return OrderDiscountResult{}, err
	}
	outcome, err := s.recalculator.recalculate(ctx, orderTarget(order))
	if err != nil {
		return OrderDiscountResult{}, err
	}
	return s.save(ctx, order, outcome)
}

func (s *orderDiscountService) loadDraft(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrDiscountInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepositoryError(err, ErrOrderNotFound)
	}
	if !strings.EqualFold(strings.TrimSpace(order.Status), domain.OrderStatusDraft) {
		return Order{}, fmt.Errorf("%w: status %s", ErrOrderNotEditable, order.Status)
	}
	return order, nil
}

func (s *orderDiscountService) save(ctx context.Context, order Order, outcome recalculation) (OrderDiscountResult, error) {
	order.Lines = outcome.Lines
	order.DiscountState = outcome.State
	order.UpdatedAt = s.now()
	if err := s.orders.SaveDiscounts(ctx, order); err != nil {
		return OrderDiscountResult{}, translateRepositoryError(err, ErrOrderNotFound)
	}
	return OrderDiscountResult{
		Order:          order,
		Totals:         outcome.Totals,
		VoucherRemoved: outcome.VoucherRemoved,
	}, nil
}
