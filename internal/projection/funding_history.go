package projection

import (
	"time"

	"UsdnLedger/internal/event"

	sdkmath "cosmossdk.io/math"
)

// FundingEntry is one funding and PnL settlement.
type FundingEntry struct {
	Sequence       uint64
	Timestamp      time.Time
	Price          sdkmath.Int
	RatePerDay     sdkmath.Int
	FundAsset      sdkmath.Int // positive: longs paid the vault
	ElapsedSeconds int64
	BalanceLong    sdkmath.Int
	BalanceVault   sdkmath.Int
}

// FundingHistoryProjection maintains queryable funding history.
type FundingHistoryProjection struct {
	h *history[FundingEntry]
}

func NewFundingHistoryProjection(capacity int) *FundingHistoryProjection {
	return &FundingHistoryProjection{h: newHistory[FundingEntry](capacity)}
}

func (p *FundingHistoryProjection) Apply(evt *event.FundingApplied) {
	p.h.add(evt.Sequence, FundingEntry{
		Sequence:       evt.Sequence,
		Timestamp:      evt.Timestamp,
		Price:          evt.Price,
		RatePerDay:     evt.RatePerDay,
		FundAsset:      evt.FundAsset,
		ElapsedSeconds: evt.ElapsedSeconds,
		BalanceLong:    evt.BalanceLong,
		BalanceVault:   evt.BalanceVault,
	})
}

// Latest returns up to limit settlements, newest first.
func (p *FundingHistoryProjection) Latest(limit int) []FundingEntry {
	return p.h.latest(limit)
}

// Since returns up to limit settlements from sequence seq on.
func (p *FundingHistoryProjection) Since(seq uint64, limit int) []FundingEntry {
	return p.h.since(seq, limit)
}

func (p *FundingHistoryProjection) Len() int { return p.h.len() }
