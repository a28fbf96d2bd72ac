// Package projection maps working-set records to display rows. Every function
// is pure: the same record always yields the same row.
package projection

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stream-pools/poolsync/pkg/ledger"
	"github.com/stream-pools/poolsync/pkg/oracle"
	"github.com/stream-pools/poolsync/pkg/reconciler"
	"github.com/stream-pools/poolsync/pkg/units"
	"github.com/stream-pools/poolsync/pkg/utils"
)

const (
	// Infinite is shown instead of a day count when a pool never runs dry.
	Infinite = "infinite"
	// NoValue is shown for data that is not available.
	NoValue  = "-"
	dateForm = "01/02/2006"
)

// PoolRow is a row of the "my pools" table.
type PoolRow struct {
	PoolID             uint64   `json:"poolId"`
	Balance            string   `json:"balance"`
	Underlying         string   `json:"underlying"`
	APY                string   `json:"apy"`
	NumberOfRecipients int      `json:"numberOfRecipients"`
	Recipients         []string `json:"recipients"`
	IsSolvent          string   `json:"isSolvent"`
	DaysUntilInsolvent string   `json:"daysUntilInsolvency"`
	// InfoEnabled gates the per-recipient detail.
	InfoEnabled bool `json:"infoEnabled"`
}

// StreamRow is a row of the "my streams" table.
type StreamRow struct {
	PoolID             uint64 `json:"poolId"`
	Sender             string `json:"sender"`
	Balance            string `json:"balance"`
	RatePerDay         string `json:"ratePerDay"`
	Underlying         string `json:"underlying"`
	APY                string `json:"apy"`
	EndDate            string `json:"endDate"`
	HasEnded           string `json:"hasEnded"`
	NoticePeriodDays   string `json:"noticePeriodDays"`
	PoolIsSolvent      string `json:"poolIsSolvent"`
	DaysUntilInsolvent string `json:"daysUntilInsolvency"`
	UpdateScheduled    string `json:"updateScheduled"`
}

// RecipientStreamRow is a row of an owned pool's detail.
type RecipientStreamRow struct {
	Recipient        string `json:"recipient"`
	Balance          string `json:"balance"`
	RatePerDay       string `json:"ratePerDay"`
	Underlying       string `json:"underlying"`
	EndDate          string `json:"endDate"`
	HasEnded         string `json:"hasEnded"`
	NoticePeriodDays string `json:"noticePeriodDays"`
}

// Pool projects a pool record.
func Pool(p reconciler.PoolRecord) PoolRow {
	recipients := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		if r == (common.Address{}) {
			continue
		}
		recipients = append(recipients, r.Hex())
	}
	return PoolRow{
		PoolID:             p.ID,
		Balance:            units.FormatUnits(p.Balance, p.Decimals),
		Underlying:         Symbol(p.Market, p.Underlying),
		APY:                APY(p.Market),
		NumberOfRecipients: len(recipients),
		Recipients:         recipients,
		IsSolvent:          utils.YesNo(p.Solvency.Solvent),
		DaysUntilInsolvent: Horizon(p.Solvency),
		InfoEnabled:        len(recipients) > 0,
	}
}

// Pools projects a pools-view snapshot.
func Pools(s *reconciler.Snapshot) []PoolRow {
	rows := make([]PoolRow, 0)
	if s == nil {
		return rows
	}
	for _, p := range s.Pools {
		rows = append(rows, Pool(p))
	}
	return rows
}

// Stream projects a stream record.
func Stream(s reconciler.StreamRecord) StreamRow {
	update := "NO"
	if s.ScheduledUpdate != nil {
		update = UpdateMessage(*s.ScheduledUpdate, s.Decimals)
	}
	return StreamRow{
		PoolID:             s.PoolID,
		Sender:             ShortAddress(s.Sender),
		Balance:            units.FormatUnits(s.Balance, s.Decimals),
		RatePerDay:         RatePerDay(s.RatePerSecond, s.Decimals),
		Underlying:         Symbol(s.Market, s.Underlying),
		APY:                APY(s.Market),
		EndDate:            Date(s.StopTime),
		HasEnded:           utils.YesNo(s.Ended()),
		NoticePeriodDays:   NoticeDays(s.NoticePeriod),
		PoolIsSolvent:      utils.YesNo(s.Solvency.Solvent),
		DaysUntilInsolvent: Horizon(s.Solvency),
		UpdateScheduled:    update,
	}
}

// Streams projects a streams-view snapshot.
func Streams(s *reconciler.Snapshot) []StreamRow {
	rows := make([]StreamRow, 0)
	if s == nil {
		return rows
	}
	for _, st := range s.Streams {
		rows = append(rows, Stream(st))
	}
	return rows
}

// RecipientStreams projects the detail of an owned pool. Free slots are skipped.
func RecipientStreams(pool reconciler.PoolRecord, streams []reconciler.RecipientStream) []RecipientStreamRow {
	rows := make([]RecipientStreamRow, 0, len(streams))
	symbol := Symbol(pool.Market, pool.Underlying)
	for _, s := range streams {
		if s.Recipient == (common.Address{}) {
			continue
		}
		rows = append(rows, RecipientStreamRow{
			Recipient:        s.Recipient.Hex(),
			Balance:          units.FormatUnits(s.Balance, pool.Decimals),
			RatePerDay:       RatePerDay(s.RatePerSecond, pool.Decimals),
			Underlying:       symbol,
			EndDate:          Date(s.StopTime),
			HasEnded:         utils.YesNo(s.Ended()),
			NoticePeriodDays: NoticeDays(s.NoticePeriod),
		})
	}
	return rows
}

// Horizon renders the days until insolvency, rounded half up, or Infinite.
func Horizon(s ledger.Solvency) string {
	if s.Infinite {
		return Infinite
	}
	days := s.SecondsUntilInsolvent / units.SecondsPerDay
	if s.SecondsUntilInsolvent%units.SecondsPerDay >= units.SecondsPerDay/2 {
		days++
	}
	return strconv.FormatUint(days, 10)
}

// NoticeDays renders a notice period in whole days, truncated.
func NoticeDays(seconds uint64) string {
	return strconv.FormatUint(seconds/units.SecondsPerDay, 10)
}

// RatePerDay renders a per-second native rate as asset units per day.
func RatePerDay(ratePerSecond *big.Int, decimals uint8) string {
	return units.FormatUnits(units.PerSecondToPerDay(ratePerSecond), decimals)
}

// APY renders the market's supply APY, or NoValue without market data.
func APY(m *oracle.MarketInfo) string {
	if m == nil || m.SupplyAPY == nil {
		return NoValue
	}
	return units.FormatPercent(m.SupplyAPY, units.APYDecimals)
}

// Symbol is the market symbol, or the shortened asset address without market data.
func Symbol(m *oracle.MarketInfo, asset common.Address) string {
	if m != nil && m.Symbol != "" {
		return m.Symbol
	}
	return ShortAddress(asset)
}

// ShortAddress renders 0x1234...abcd.
func ShortAddress(a common.Address) string {
	hex := a.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// Date renders unix seconds as MM/DD/YYYY in UTC.
func Date(unix uint64) string {
	if unix > uint64(1<<62) {
		return NoValue
	}
	return time.Unix(int64(unix), 0).UTC().Format(dateForm)
}
