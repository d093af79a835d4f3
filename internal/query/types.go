package query

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Amounts are human decimal strings. Every response carries the engine
// sequence it was read at.

// StateResponse is the protocol-wide view.
type StateResponse struct {
	Initialized       bool      `json:"initialized"`
	Sequence          uint64    `json:"sequence"`
	StateHash         string    `json:"state_hash"`
	BalanceLong       string    `json:"balance_long"`
	BalanceVault      string    `json:"balance_vault"`
	TotalExpo         string    `json:"total_expo"`
	PendingVaultDelta string    `json:"pending_vault_delta"`
	BadDebt           string    `json:"bad_debt"`
	LastPrice         string    `json:"last_price"`
	LastFundingRate   string    `json:"last_funding_rate"`
	LastUpdate        time.Time `json:"last_update"`
	UsdnSupply        string    `json:"usdn_supply"`
	PendingActions    int       `json:"pending_actions"`
	HighestTick       *int32    `json:"highest_tick,omitempty"`

	// Set when an oracle price is known: the balances as they would be
	// after PnL at that price.
	Mark *MarkView `json:"mark,omitempty"`
}

type MarkView struct {
	Price               string    `json:"price"`
	PriceTimestamp      time.Time `json:"price_timestamp"`
	LongTradingExpo     string    `json:"long_trading_expo"`
	LongAssetAvailable  string    `json:"long_asset_available"`
	VaultAssetAvailable string    `json:"vault_asset_available"`
}

// TickResponse describes one liquidation bucket.
type TickResponse struct {
	Tick               int32  `json:"tick"`
	Version            uint64 `json:"version"`
	Populated          bool   `json:"populated"`
	TotalExpo          string `json:"total_expo"`
	TotalPositions     int    `json:"total_positions"`
	LiquidationPenalty int32  `json:"liquidation_penalty"`
	Price              string `json:"price"` // effective price at the last settled price
	AsOfSequence       uint64 `json:"as_of_sequence"`
}

// PositionResponse is one live long.
type PositionResponse struct {
	ID           string         `json:"id"`
	Tick         int32          `json:"tick"`
	TickVersion  uint64         `json:"tick_version"`
	Index        uint64         `json:"index"`
	Owner        common.Address `json:"owner"`
	Validated    bool           `json:"validated"`
	Timestamp    time.Time      `json:"timestamp"`
	Amount       string         `json:"amount"`
	TotalExpo    string         `json:"total_expo"`
	TickPrice    string         `json:"tick_price"`
	AsOfSequence uint64         `json:"as_of_sequence"`
}

// PendingResponse is one queued action.
type PendingResponse struct {
	Kind            string         `json:"kind"`
	Validator       common.Address `json:"validator"`
	To              common.Address `json:"to"`
	Timestamp       time.Time      `json:"timestamp"`
	SecurityDeposit string         `json:"security_deposit"`
	RawIndex        uint64         `json:"raw_index"`
	Amount          string         `json:"amount,omitempty"`
	Shares          string         `json:"shares,omitempty"`
	Position        string         `json:"position,omitempty"`
	AsOfSequence    uint64         `json:"as_of_sequence"`
}

// FundingHistoryResponse is one funding settlement.
type FundingHistoryResponse struct {
	Sequence       uint64    `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	Price          string    `json:"price"`
	RatePerDay     string    `json:"rate_per_day"`
	FundAsset      string    `json:"fund_asset"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	BalanceLong    string    `json:"balance_long"`
	BalanceVault   string    `json:"balance_vault"`
}

// LiquidationResponse is one settled tick or position.
type LiquidationResponse struct {
	Sequence    uint64    `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        string    `json:"kind"`
	Tick        int32     `json:"tick"`
	TickVersion uint64    `json:"tick_version"`
	Positions   int       `json:"positions"`
	TotalExpo   string    `json:"total_expo"`
	Value       string    `json:"value"`
	Price       string    `json:"price"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy    bool     `json:"is_healthy"`
	Sequence     uint64   `json:"sequence"`
	StateHash    string   `json:"state_hash"`
	Accounted    string   `json:"accounted_collateral"`
	PoolBalance  string   `json:"pool_balance"`
	Violations   []string `json:"violations,omitempty"`
	ProjectionAt uint64   `json:"projection_sequence"`
}
