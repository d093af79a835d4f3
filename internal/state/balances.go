package state

import (
	"time"

	fpmath "UsdnLedger/internal/math"

	sdkmath "cosmossdk.io/math"
)

// Side selects one of the two aggregate balances.
type Side int

const (
	SideLong Side = iota
	SideVault
)

func (s Side) String() string {
	if s == SideLong {
		return "long"
	}
	return "vault"
}

// Balances holds the global scalars of the protocol.
type Balances struct {
	TotalExpo                sdkmath.Int `json:"total_expo"`
	BalanceLong              sdkmath.Int `json:"balance_long"`
	BalanceVault             sdkmath.Int `json:"balance_vault"`
	PendingVaultDelta        sdkmath.Int `json:"pending_vault_delta"` // signed
	LiqMultiplierAccumulator sdkmath.Int `json:"liq_multiplier_accumulator"`
	LastPrice                sdkmath.Int `json:"last_price"`
	LastUpdate               time.Time   `json:"last_update"`
	LastFundingRate          sdkmath.Int `json:"last_funding_rate"`
	BadDebt                  sdkmath.Int `json:"bad_debt"` // cumulative, covered by the vault
}

func NewBalances() *Balances {
	return &Balances{
		TotalExpo:                sdkmath.ZeroInt(),
		BalanceLong:              sdkmath.ZeroInt(),
		BalanceVault:             sdkmath.ZeroInt(),
		PendingVaultDelta:        sdkmath.ZeroInt(),
		LiqMultiplierAccumulator: sdkmath.ZeroInt(),
		LastPrice:                sdkmath.ZeroInt(),
		LastFundingRate:          sdkmath.ZeroInt(),
		BadDebt:                  sdkmath.ZeroInt(),
	}
}

// Clone returns a copy; Int values are immutable.
func (b *Balances) Clone() *Balances {
	c := *b
	return &c
}

// LongTradingExpo is totalExpo - balanceLong.
func (b *Balances) LongTradingExpo() sdkmath.Int {
	return b.TotalExpo.Sub(b.BalanceLong)
}

// Multiplier returns the drift adjustment at assetPrice for the current state.
func (b *Balances) Multiplier(assetPrice sdkmath.Int) Multiplier {
	return Multiplier{
		AssetPrice:      assetPrice,
		LongTradingExpo: b.LongTradingExpo(),
		Accumulator:     b.LiqMultiplierAccumulator,
	}
}

// LongAssetAvailable is the long balance after PnL at price, clamped to [0, total].
func (b *Balances) LongAssetAvailable(price sdkmath.Int) sdkmath.Int {
	total := b.BalanceLong.Add(b.BalanceVault)
	available := fpmath.LongAssetAvailable(b.TotalExpo, b.BalanceLong, price, b.lastPriceOr(price))
	return fpmath.ClampInt(available, sdkmath.ZeroInt(), total)
}

// VaultAssetAvailable is the vault balance after PnL at price, clamped at zero.
func (b *Balances) VaultAssetAvailable(price sdkmath.Int) sdkmath.Int {
	return fpmath.VaultAssetAvailable(b.TotalExpo, b.BalanceVault, b.BalanceLong, price, b.lastPriceOr(price))
}

// AvailableBalance returns a side's balance net of PnL at price, never negative.
func (b *Balances) AvailableBalance(side Side, price sdkmath.Int) sdkmath.Int {
	if side == SideLong {
		return b.LongAssetAvailable(price)
	}
	return b.VaultAssetAvailable(price)
}

func (b *Balances) lastPriceOr(price sdkmath.Int) sdkmath.Int {
	if b.LastPrice.IsNil() || b.LastPrice.IsZero() {
		return price
	}
	return b.LastPrice
}

// FundingResult reports one application of PnL and funding.
type FundingResult struct {
	Recent       bool
	Elapsed      time.Duration
	RatePerDay   sdkmath.Int
	FundAsset    sdkmath.Int // positive: paid by longs to the vault
	BalanceLong  sdkmath.Int
	BalanceVault sdkmath.Int
}

// ApplyFunding settles PnL from LastPrice to price, then moves funding for the
// time elapsed since LastUpdate. A price timestamped before LastUpdate changes
// nothing and reports Recent=false; an equal timestamp is processed.
// The sum balanceLong+balanceVault is preserved.
func (b *Balances) ApplyFunding(price sdkmath.Int, timestamp time.Time, p FundingParams) FundingResult {
	if timestamp.Before(b.LastUpdate) {
		return FundingResult{
			RatePerDay:   b.LastFundingRate,
			FundAsset:    sdkmath.ZeroInt(),
			BalanceLong:  b.BalanceLong,
			BalanceVault: b.BalanceVault,
		}
	}

	elapsed := timestamp.Sub(b.LastUpdate)
	if b.LastUpdate.IsZero() {
		elapsed = 0
	}

	longExpo := b.LongTradingExpo()
	rate := fpmath.FundingRatePerDay(longExpo, b.BalanceVault, p.SF, p.MaxRate)
	fundAsset := fpmath.FundingAsset(rate, int64(elapsed/time.Second), longExpo, b.BalanceVault)

	total := b.BalanceLong.Add(b.BalanceVault)
	newLong := fpmath.LongAssetAvailable(b.TotalExpo, b.BalanceLong, price, b.lastPriceOr(price)).Sub(fundAsset)
	newLong = fpmath.ClampInt(newLong, sdkmath.ZeroInt(), total)

	b.BalanceLong = newLong
	b.BalanceVault = total.Sub(newLong)
	b.LastPrice = price
	b.LastUpdate = timestamp
	b.LastFundingRate = rate

	return FundingResult{
		Recent:       true,
		Elapsed:      elapsed,
		RatePerDay:   rate,
		FundAsset:    fundAsset,
		BalanceLong:  b.BalanceLong,
		BalanceVault: b.BalanceVault,
	}
}

// MoveToVault transfers amount (signed) from the long side to the vault,
// clamping at whichever side would go negative. Returns the amount moved.
func (b *Balances) MoveToVault(amount sdkmath.Int) sdkmath.Int {
	if amount.IsNegative() {
		covered, _ := ComputeCoverage(b.BalanceVault, amount.Neg())
		b.BalanceVault = b.BalanceVault.Sub(covered)
		b.BalanceLong = b.BalanceLong.Add(covered)
		return covered.Neg()
	}
	moved := fpmath.MinInt(amount, b.BalanceLong)
	b.BalanceLong = b.BalanceLong.Sub(moved)
	b.BalanceVault = b.BalanceVault.Add(moved)
	return moved
}
