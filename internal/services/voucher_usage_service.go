package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/discounts/internal/repositories"
)

// VoucherUsageServiceDeps wires the voucher usage service.
type VoucherUsageServiceDeps struct {
	Usage  repositories.VoucherUsageRepository
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type voucherUsageService struct {
	usage  repositories.VoucherUsageRepository
	now    func() time.Time
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewVoucherUsageService constructs the order-completion side of voucher accounting.
func NewVoucherUsageService(deps VoucherUsageServiceDeps) (VoucherUsageService, error) {
	if deps.Usage == nil {
		return nil, fmt.Errorf("%w: voucher usage repository", ErrDiscountRepositoryMissing)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &voucherUsageService{
		usage: deps.Usage,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Consume increments the usage counter and records the customer redemption atomically.
func (s *voucherUsageService) Consume(ctx context.Context, cmd VoucherUsageCommand) (Voucher, error) {
	code, email, err := normalizeUsageCommand(cmd)
	if err != nil {
		return Voucher{}, err
	}
	voucher, err := s.usage.Consume(ctx, code, email, s.now())
	if err != nil {
		return Voucher{}, translateUsageError(err)
	}
	s.logger(ctx, "voucher.consumed", map[string]any{
		"voucher": voucher.Code,
		"used":    voucher.Used,
	})
	return voucher, nil
}

// Release reverses a prior Consume, typically when an order is cancelled.
func (s *voucherUsageService) Release(ctx context.Context, cmd VoucherUsageCommand) (Voucher, error) {
	code, email, err := normalizeUsageCommand(cmd)
	if err != nil {
		return Voucher{}, err
	}
	voucher, err := s.usage.Release(ctx, code, email)
	if err != nil {
		return Voucher{}, translateUsageError(err)
	}
	s.logger(ctx, "voucher.released", map[string]any{
		"voucher": voucher.Code,
		"used":    voucher.Used,
	})
	return voucher, nil
}

func normalizeUsageCommand(cmd VoucherUsageCommand) (string, string, error) {
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return "", "", fmt.Errorf("%w: voucher code is required", ErrDiscountInvalidInput)
	}
	return code, strings.ToLower(strings.TrimSpace(cmd.Email)), nil
}

func translateUsageError(err error) error {
	var usageErr *repositories.VoucherUsageError
	if errors.As(err, &usageErr) {
		switch usageErr.Code {
		case repositories.VoucherUsageErrorLimitReached:
			return fmt.Errorf("%w: %s", ErrVoucherUsageLimitReached, usageErr.Message)
		case repositories.VoucherUsageErrorAlreadyRedeemed:
			return fmt.Errorf("%w: %s", ErrVoucherAlreadyRedeemed, usageErr.Message)
		case repositories.VoucherUsageErrorNotRedeemed:
			return fmt.Errorf("%w: %s", ErrVoucherNotRedeemed, usageErr.Message)
		case repositories.VoucherUsageErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrDiscountInvalidInput, usageErr.Message)
		}
	}
	return translateRepositoryError(err, ErrVoucherNotFound)
}
