package action

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/units"
)

// Kind names one of the six ledger writes.
type Kind string

const (
	KindCreate         Kind = "create"
	KindAddRecipient   Kind = "add-recipient"
	KindDeposit        Kind = "deposit"
	KindWithdraw       Kind = "withdraw"
	KindScheduleUpdate Kind = "schedule-update"
	KindExecuteUpdate  Kind = "execute-update"
)

// Kinds lists every action in form order.
var Kinds = []Kind{KindCreate, KindAddRecipient, KindDeposit, KindWithdraw, KindScheduleUpdate, KindExecuteUpdate}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Request carries the raw form fields. Only the fields the action needs are
// read; the rest are ignored.
type Request struct {
	Action     Kind   `json:"action"`
	PoolID     string `json:"poolId,omitempty"`
	Underlying string `json:"underlying,omitempty"`
	// Amount is a decimal in asset units, or "max" for deposit and withdraw.
	Amount    string `json:"amount,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	// RatePerDay is a decimal in asset units per day.
	RatePerDay string `json:"ratePerDay,omitempty"`
	// StartTime and StopTime accept YYYY-MM-DD, MM/DD/YYYY, RFC 3339 or unix seconds.
	StartTime string `json:"startTime,omitempty"`
	StopTime  string `json:"stopTime,omitempty"`
	// NoticePeriodDays is a non-negative decimal number of days.
	NoticePeriodDays string `json:"noticePeriodDays,omitempty"`
	// UpdateAction is 1..4 or RAISE, EXTENSION, CUT, TERMINATION.
	UpdateAction string `json:"updateAction,omitempty"`
	// UpdateParam is a rate per day for RAISE and CUT, a date for EXTENSION,
	// and ignored for TERMINATION.
	UpdateParam string `json:"updateParam,omitempty"`
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", time.RFC3339}

func parsePoolID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid("poolId", "required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("poolId", "%q is not a pool id", raw)
	}
	return id, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, invalid(field, "required")
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalid(field, "%q is not an address", raw)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, invalid(field, "zero address")
	}
	return addr, nil
}

// parseDate returns unix seconds. Dates without a time are midnight UTC.
func parseDate(field, raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid(field, "required")
	}
	if secs, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return secs, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if t.Unix() < 0 {
				return 0, invalid(field, "%q is before 1970", raw)
			}
			return uint64(t.Unix()), nil
		}
	}
	return 0, invalid(field, "%q is not a date", raw)
}

// checkAmount validates the shape of an amount before the asset precision is
// known. It reports whether raw is the max keyword.
func checkAmount(field, raw string, allowMax bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, invalid(field, "required")
	}
	if allowMax && units.IsMax(raw) {
		return true, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return false, invalid(field, "%q is not a number", raw)
	}
	if !d.IsPositive() {
		return false, invalid(field, "must be positive")
	}
	return false, nil
}

// checkRate validates the shape of a per-day rate.
func checkRate(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return invalid(field, "required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return invalid(field, "%q is not a number", raw)
	}
	if d.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}

func parseAmount(field, raw string, decimals uint8) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalid(field, "required")
	}
	v, err := units.ParseUnits(raw, decimals)
	if err != nil {
		return nil, invalid(field, "%v", err)
	}
	if v.Sign() == 0 {
		return nil, invalid(field, "must be positive")
	}
	return v, nil
}

func parseRate(field, raw string, decimals uint8) (*big.Int, error) {
	if err := checkRate(field, raw); err != nil {
		return nil, err
	}
	v, err := units.PerDayToPerSecond(raw, decimals)
	if err != nil {
		return nil, invalid(field, "%v", err)
	}
	return v, nil
}

func parseNoticePeriod(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	days, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, invalid("noticePeriodDays", "%q is not a number", raw)
	}
	if days.IsNegative() {
		return 0, invalid("noticePeriodDays", "must not be negative")
	}
	secs := days.Mul(decimal.NewFromInt(units.SecondsPerDay)).Floor()
	if !secs.BigInt().IsUint64() {
		return 0, invalid("noticePeriodDays", "too large")
	}
	return secs.BigInt().Uint64(), nil
}

func parseUpdateAction(raw string) (ledger.UpdateAction, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, invalid("updateAction", "required")
	}
	if n, err := strconv.ParseUint(raw, 10, 8); err == nil {
		a := ledger.UpdateAction(n)
		if !a.Valid() {
			return 0, invalid("updateAction", "%d is not in 1..4", n)
		}
		return a, nil
	}
	for a := ledger.ActionRaise; a <= ledger.ActionTermination; a++ {
		if strings.EqualFold(raw, a.String()) {
			return a, nil
		}
	}
	return 0, invalid("updateAction", "unknown action %q", raw)
}
