// Package units converts between human decimal amounts and the integer
// amounts the ledger stores.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// SecondsPerDay is the rate conversion factor between per-day and per-second figures.
const SecondsPerDay = 86400

// APYDecimals is the scale of the oracle's supply APY when expressed in percent.
const APYDecimals = 25

// MaxKeyword is the amount entered to mean "everything available".
const MaxKeyword = "max"

var (
	// ErrInvalidAmount is returned for amounts that are not non-negative decimals.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrTooPrecise is returned when an amount has more fractional digits than the asset.
	ErrTooPrecise = errors.New("fractional component exceeds decimals")
	// ErrOverflow is returned when an amount does not fit in 256 bits.
	ErrOverflow = errors.New("amount overflows uint256")
)

var (
	maxUint256 = new(uint256.Int).SetAllOne()
	perDay     = decimal.NewFromInt(SecondsPerDay)
)

// MaxUint256 returns 2^256-1, the ledger's "maximum available" sentinel.
func MaxUint256() *big.Int {
	return maxUint256.ToBig()
}

// IsMaxUint256 reports whether v is the sentinel.
func IsMaxUint256(v *big.Int) bool {
	if v == nil {
		return false
	}
	u, overflow := uint256.FromBig(v)
	return !overflow && u.Eq(maxUint256)
}

// ParseUnits scales a decimal string by 10^decimals. The result must be a
// non-negative integer that fits in 256 bits.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return scale(d, decimals)
}

// IsMax reports whether amount is MaxKeyword, ignoring case and surrounding space.
func IsMax(amount string) bool {
	return strings.EqualFold(strings.TrimSpace(amount), MaxKeyword)
}

// PerDayToPerSecond converts a per-day decimal rate to a native per-second
// rate, rounding to the asset's precision before scaling.
func PerDayToPerSecond(ratePerDay string, decimals uint8) (*big.Int, error) {
	ratePerDay = strings.TrimSpace(ratePerDay)
	d, err := decimal.NewFromString(ratePerDay)
	if err != nil {
		return nil, fmt.Errorf("%w: rate %q", ErrInvalidAmount, ratePerDay)
	}
	return scale(d.DivRound(perDay, int32(decimals)), decimals)
}

// PerSecondToPerDay multiplies a native per-second rate by a day.
func PerSecondToPerDay(rate *big.Int) *big.Int {
	if rate == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(rate, big.NewInt(SecondsPerDay))
}

func scale(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrTooPrecise, d.String(), decimals)
	}
	v := shifted.BigInt()
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// FormatUnits renders v / 10^decimals. Whole values keep one fractional
// digit ("1.0"), trailing zeros are otherwise trimmed.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		v = new(big.Int)
	}
	s := decimal.NewFromBigInt(v, -int32(decimals)).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatPercent renders a scaled figure (value / 10^decimals) with two
// fractional digits and a percent sign.
func FormatPercent(v *big.Int, decimals int32) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(2) + "%"
}
