// Package query serves read-only views of the engine, the bank and the
// projections. Engine and bank reads go through the sequencer so every
// response is consistent with a single sequence.
package query

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"UsdnLedger/internal/config"
	"UsdnLedger/internal/core"
	"UsdnLedger/internal/event"
	"UsdnLedger/internal/ledger"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/projection"
	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Executor runs fn with exclusive access to the engine.
type Executor interface {
	Do(ctx context.Context, fn func(*core.Engine) error) error
}

// PriceSource reports the newest known oracle price.
type PriceSource interface {
	Latest() (core.PriceInfo, bool)
}

const maxPageSize = 500

type QueryService struct {
	exec        Executor
	bank        *ledger.Bank
	projections *projection.Worker
	prices      PriceSource
	events      projection.EventSource
}

// NewQueryService wires the read model. projections, prices and events may
// be nil; the views that need them then return empty results.
func NewQueryService(exec Executor, bank *ledger.Bank, projections *projection.Worker, prices PriceSource, events projection.EventSource) *QueryService {
	return &QueryService{
		exec:        exec,
		bank:        bank,
		projections: projections,
		prices:      prices,
		events:      events,
	}
}

func tokens(v sdkmath.Int) string { return fpmath.ToDecimal(v, fpmath.TokensDecimals).String() }
func price(v sdkmath.Int) string  { return fpmath.ToDecimal(v, fpmath.PriceDecimals).String() }
func rate(v sdkmath.Int) string   { return fpmath.ToDecimal(v, fpmath.FundingRateDecimals).String() }

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetState returns balances, supply and queue depth.
func (qs *QueryService) GetState(ctx context.Context) (*StateResponse, error) {
	var resp *StateResponse
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		bal := e.Balances()
		hash := e.StateHash()
		resp = &StateResponse{
			Initialized:       e.Initialized(),
			Sequence:          e.Sequence(),
			StateHash:         hex.EncodeToString(hash[:]),
			BalanceLong:       tokens(bal.BalanceLong),
			BalanceVault:      tokens(bal.BalanceVault),
			TotalExpo:         tokens(bal.TotalExpo),
			PendingVaultDelta: tokens(bal.PendingVaultDelta),
			BadDebt:           tokens(bal.BadDebt),
			LastPrice:         price(bal.LastPrice),
			LastFundingRate:   rate(bal.LastFundingRate),
			LastUpdate:        bal.LastUpdate,
			UsdnSupply:        tokens(qs.bank.TotalSupply()),
			PendingActions:    e.PendingQueueLen(),
		}
		if tick, ok := e.HighestPopulatedTick(); ok {
			resp.HighestTick = &tick
		}
		if qs.prices == nil || !e.Initialized() {
			return nil
		}
		if p, ok := qs.prices.Latest(); ok {
			resp.Mark = &MarkView{
				Price:               price(p.Price),
				PriceTimestamp:      p.Timestamp,
				LongTradingExpo:     tokens(e.LongTradingExpo(p.Price)),
				LongAssetAvailable:  tokens(e.LongAssetAvailable(p.Price)),
				VaultAssetAvailable: tokens(e.VaultAssetAvailable(p.Price)),
			}
		}
		return nil
	})
	return resp, err
}

// GetParams returns the protocol parameters in human units.
func (qs *QueryService) GetParams(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		out = config.Describe(e.Params())
		return nil
	})
	return out, err
}

func tickPrice(e *core.Engine, tick int32) string {
	last := e.Balances().LastPrice
	if last.IsNil() || !last.IsPositive() {
		return "0"
	}
	return price(e.EffectivePriceForTick(tick, last))
}

// GetTick returns one tick, populated or not.
func (qs *QueryService) GetTick(ctx context.Context, tick int32) (*TickResponse, error) {
	var resp *TickResponse
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		resp = &TickResponse{
			Tick:         tick,
			Version:      e.TickVersion(tick),
			TotalExpo:    "0",
			AsOfSequence: e.Sequence(),
		}
		if t, ok := e.Tick(tick); ok {
			resp.Populated = true
			resp.TotalExpo = tokens(t.TotalExpo)
			resp.TotalPositions = t.TotalPositions
			resp.LiquidationPenalty = t.LiquidationPenalty
		}
		if e.Initialized() {
			resp.Price = tickPrice(e, tick)
		}
		return nil
	})
	return resp, err
}

func positionResponse(e *core.Engine, id state.PositionID, pos *state.Position) PositionResponse {
	return PositionResponse{
		ID:           id.String(),
		Tick:         id.Tick,
		TickVersion:  id.TickVersion,
		Index:        id.Index,
		Owner:        pos.Owner,
		Validated:    pos.Validated,
		Timestamp:    pos.Timestamp,
		Amount:       tokens(pos.Amount),
		TotalExpo:    tokens(pos.TotalExpo),
		TickPrice:    tickPrice(e, id.Tick),
		AsOfSequence: e.Sequence(),
	}
}

// GetPosition returns one live position.
func (qs *QueryService) GetPosition(ctx context.Context, id state.PositionID) (*PositionResponse, error) {
	var resp *PositionResponse
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		pos, err := e.Position(id)
		if err != nil {
			return err
		}
		r := positionResponse(e, id, &pos)
		resp = &r
		return nil
	})
	return resp, err
}

// GetPositions returns live positions, optionally only those of owner,
// ordered by id.
func (qs *QueryService) GetPositions(ctx context.Context, owner *common.Address) ([]PositionResponse, error) {
	out := make([]PositionResponse, 0)
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		for _, entry := range e.Positions() {
			if owner != nil && entry.Position.Owner != *owner {
				continue
			}
			out = append(out, positionResponse(e, entry.ID, entry.Position))
		}
		return nil
	})
	return out, err
}

func pendingResponse(entry state.QueueEntry, seq uint64) PendingResponse {
	h := entry.Action.Header()
	r := PendingResponse{
		Kind:            entry.Action.Kind().String(),
		Validator:       h.Validator,
		To:              h.To,
		Timestamp:       h.Timestamp,
		SecurityDeposit: tokens(h.SecurityDeposit),
		RawIndex:        entry.RawIndex,
		AsOfSequence:    seq,
	}
	switch a := entry.Action.(type) {
	case *state.DepositAction:
		r.Amount = tokens(a.Amount)
	case *state.WithdrawalAction:
		r.Shares = tokens(a.Shares)
	case *state.OpenAction:
		r.Position = a.Position.String()
	case *state.CloseAction:
		r.Amount = tokens(a.Amount)
		r.Position = a.Position.String()
	}
	return r
}

// GetPending returns the action queued for validator.
func (qs *QueryService) GetPending(ctx context.Context, validator common.Address) (*PendingResponse, error) {
	var resp *PendingResponse
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		for _, entry := range e.PendingActions() {
			if entry.Action.Header().Validator == validator {
				r := pendingResponse(entry, e.Sequence())
				resp = &r
				return nil
			}
		}
		return types.ErrNoPendingAction
	})
	return resp, err
}

// GetActionable lists actions a third party could validate at now.
func (qs *QueryService) GetActionable(ctx context.Context, now time.Time, limit int) ([]PendingResponse, error) {
	out := make([]PendingResponse, 0)
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		for _, entry := range e.ActionablePendingActions(now, clampLimit(limit)) {
			out = append(out, pendingResponse(entry, e.Sequence()))
		}
		return nil
	})
	return out, err
}

// GetBalance returns every asset the address holds, and its queued action.
func (qs *QueryService) GetBalance(ctx context.Context, owner common.Address) (*BalanceResponse, error) {
	var resp *BalanceResponse
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		resp = &BalanceResponse{
			Address:      owner,
			Assets:       make(map[string]string, 3),
			AsOfSequence: e.Sequence(),
		}
		for _, id := range []ledger.AssetID{ledger.AssetUnderlying, ledger.AssetStable, ledger.AssetNative} {
			name, _ := ledger.GetAssetName(id)
			resp.Assets[name] = tokens(qs.bank.BalanceOf(owner, id))
		}
		for _, entry := range e.PendingActions() {
			if entry.Action.Header().Validator == owner {
				r := pendingResponse(entry, e.Sequence())
				resp.Pending = &r
				break
			}
		}
		return nil
	})
	return resp, err
}

// GetFundingHistory returns funding settlements, newest first, or oldest
// first from sinceSeq when it is set.
func (qs *QueryService) GetFundingHistory(limit int, sinceSeq *uint64) []FundingHistoryResponse {
	out := make([]FundingHistoryResponse, 0)
	if qs.projections == nil {
		return out
	}
	var entries []projection.FundingEntry
	if sinceSeq != nil {
		entries = qs.projections.Funding().Since(*sinceSeq, clampLimit(limit))
	} else {
		entries = qs.projections.Funding().Latest(clampLimit(limit))
	}
	for _, f := range entries {
		out = append(out, FundingHistoryResponse{
			Sequence:       f.Sequence,
			Timestamp:      f.Timestamp,
			Price:          price(f.Price),
			RatePerDay:     rate(f.RatePerDay),
			FundAsset:      tokens(f.FundAsset),
			ElapsedSeconds: f.ElapsedSeconds,
			BalanceLong:    tokens(f.BalanceLong),
			BalanceVault:   tokens(f.BalanceVault),
		})
	}
	return out
}

// GetLiquidationHistory returns settled ticks and positions, newest first.
func (qs *QueryService) GetLiquidationHistory(limit int) []LiquidationResponse {
	out := make([]LiquidationResponse, 0)
	if qs.projections == nil {
		return out
	}
	for _, l := range qs.projections.Liquidations().Latest(clampLimit(limit)) {
		out = append(out, LiquidationResponse{
			Sequence:    l.Sequence,
			Timestamp:   l.Timestamp,
			Kind:        l.Kind,
			Tick:        l.Tick,
			TickVersion: l.TickVersion,
			Positions:   l.Positions,
			TotalExpo:   tokens(l.TotalExpo),
			Value:       tokens(l.Value),
			Price:       price(l.Price),
		})
	}
	return out
}

// GetEvents pages through the persisted event log from sequence from.
func (qs *QueryService) GetEvents(ctx context.Context, from uint64, limit int) ([]event.EventEnvelope, error) {
	out := make([]event.EventEnvelope, 0)
	if qs.events == nil {
		return out, nil
	}
	rows, err := qs.events.LoadEventsFrom(ctx, from, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	for _, row := range rows {
		out = append(out, event.EventEnvelope{
			ID:        row.EventID,
			Sequence:  row.Sequence,
			EventType: row.EventType,
			Timestamp: row.EmittedAt,
			Payload:   row.Payload,
		})
	}
	return out, nil
}

// VerifyIntegrity checks the bank invariants and that the collateral pool
// covers everything the engine accounts for.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	var report *IntegrityReport
	err := qs.exec.Do(ctx, func(e *core.Engine) error {
		hash := e.StateHash()
		accounted := e.AccountedCollateral()
		report = &IntegrityReport{
			Sequence:    e.Sequence(),
			StateHash:   hex.EncodeToString(hash[:]),
			Accounted:   tokens(accounted),
			PoolBalance: tokens(qs.bank.ProtocolBalance(ledger.SubTypeCollateralPool, ledger.AssetUnderlying)),
		}
		if err := qs.bank.Validate(); err != nil {
			report.Violations = append(report.Violations, err.Error())
		}
		if err := qs.bank.ValidateCollateral(accounted); err != nil {
			report.Violations = append(report.Violations, err.Error())
		}
		sort.Strings(report.Violations)
		report.IsHealthy = len(report.Violations) == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if qs.projections != nil {
		report.ProjectionAt = qs.projections.LastSequence()
	}
	return report, nil
}
