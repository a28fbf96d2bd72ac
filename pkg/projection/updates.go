package projection

import (
	"github.com/stream-pools/poolsync/pkg/ledger"
)

// UpdateMessage renders a pending update with one of four templates:
//
//	RAISE to <rate/day> at <date>
//	EXTENSION to <date>
//	CUT to <rate/day> at <date>
//	TERMINATION at <date>
//
// Rates are formatted with the asset's decimals; dates are MM/DD/YYYY UTC.
func UpdateMessage(u ledger.StreamUpdate, decimals uint8) string {
	switch u.Action {
	case ledger.ActionRaise, ledger.ActionCut:
		return u.Action.String() + " to " + RatePerDay(u.Parameter, decimals) + " at " + Date(u.Timestamp)
	case ledger.ActionExtension:
		return "EXTENSION to " + Date(paramSeconds(u))
	case ledger.ActionTermination:
		at := paramSeconds(u)
		if at == 0 {
			at = u.Timestamp
		}
		return "TERMINATION at " + Date(at)
	default:
		return u.Action.String()
	}
}

func paramSeconds(u ledger.StreamUpdate) uint64 {
	if u.Parameter == nil || !u.Parameter.IsUint64() {
		return 0
	}
	return u.Parameter.Uint64()
}
