package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var (
	// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	// ErrInvalidCurrency is returned for codes that are not ISO 4217.
	ErrInvalidCurrency = errors.New("money: invalid currency")
)

// Money is a currency-tagged decimal amount.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// TaxedMoney carries the net and gross variants of the same price.
type TaxedMoney struct {
	Net   Money
	Gross Money
}

// NewMoney builds a Money value, normalising the currency code.
func NewMoney(amount decimal.Decimal, currencyCode string) Money {
	return Money{Amount: amount, Currency: normalizeCurrency(currencyCode)}
}

// MustMoney parses a decimal string and panics on malformed input. Intended for fixtures and constants.
func MustMoney(amount string, currencyCode string) Money {
	return NewMoney(decimal.RequireFromString(amount), currencyCode)
}

// ZeroMoney returns a zero amount in the given currency.
func ZeroMoney(currencyCode string) Money {
	return NewMoney(decimal.Zero, currencyCode)
}

// IsZero reports whether the amount equals zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp compares m with other: -1 when m < other, 0 when equal, +1 when greater.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Mul multiplies the amount by an integer factor, typically a line quantity.
func (m Money) Mul(factor int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(factor))), Currency: m.Currency}
}

// Min returns the smaller of the two amounts.
func (m Money) Min(other Money) (Money, error) {
	cmp, err := m.Cmp(other)
	if err != nil {
		return Money{}, err
	}
	if cmp <= 0 {
		return m, nil
	}
	return other, nil
}

// FloorAtZero clamps negative amounts to zero.
func (m Money) FloorAtZero() Money {
	if m.Amount.IsNegative() {
		return ZeroMoney(m.Currency)
	}
	return m
}

// Quantize rounds the amount half-up to the currency's minor unit.
func (m Money) Quantize() Money {
	return Money{Amount: m.Amount.Round(CurrencyScale(m.Currency)), Currency: m.Currency}
}

// Equal reports whether both the currency and the amount match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders the amount as "12.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(CurrencyScale(m.Currency)), m.Currency)
}

// Format renders the amount for end users with the narrow currency symbol directly in front of
// the localized number, e.g. "$1,234.50" or "¥500".
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(m.Currency)
	if err != nil {
		return m.String()
	}
	printer := message.NewPrinter(tag)
	amount := m.Quantize().Amount
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	// Quantized to the minor unit, so the float carries no more digits than Scale prints.
	value, _ := amount.Float64()
	digits := number.Decimal(value, number.Scale(int(CurrencyScale(m.Currency))))
	return sign + printer.Sprint(currency.NarrowSymbol(unit)) + printer.Sprint(digits)
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// CurrencyScale returns the number of minor-unit digits for the currency. Unknown codes fall back to 2.
func CurrencyScale(code string) int32 {
	unit, err := currency.ParseISO(normalizeCurrency(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// ValidateCurrency checks that the code is a known ISO 4217 currency.
func ValidateCurrency(code string) error {
	if _, err := currency.ParseISO(normalizeCurrency(code)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
