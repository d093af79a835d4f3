package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/event"
	"UsdnLedger/internal/ledger"
	fpmath "UsdnLedger/internal/math"
	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

var (
	Alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	Bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Carol    = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	Deployer = common.HexToAddress("0x00000000000000000000000000000000000de901")
)

// Epoch is the start time of every fixture.
var Epoch = time.Unix(1_700_000_000, 0).UTC()

// Tokens returns n whole tokens with 18 decimals.
func Tokens(n int64) sdkmath.Int {
	return fpmath.TokensScale.MulRaw(n)
}

// MilliTokens returns n/1000 tokens.
func MilliTokens(n int64) sdkmath.Int {
	return fpmath.TokensScale.MulRaw(n).QuoRaw(1_000)
}

// Price returns a whole-unit price with 18 decimals.
func Price(n int64) sdkmath.Int {
	return fpmath.PriceScale.MulRaw(n)
}

// Params is a deterministic configuration: one-tick spacing and no penalty
// keep liquidation prices close to the requested ones; fees, funding and
// imbalance limits are off.
func Params() state.Params {
	p := state.DefaultParams()
	p.TickSpacing = 1
	p.LiquidationPenalty = 0
	p.PositionFeeBps = 0
	p.VaultFeeBps = 0
	p.FundingSF = sdkmath.ZeroInt()
	p.MaxFundingRatePerDay = sdkmath.ZeroInt()
	p.Imbalance = state.ImbalanceLimits{}
	p.MinLongPosition = MilliTokens(10)
	p.LiquidationIterations = state.MaxLiquidationIterations
	return p
}

// StaticOracle answers every query with the current price, timestamped at
// the requested target.
type StaticOracle struct {
	mu    sync.Mutex
	price sdkmath.Int
	err   error
	calls []types.ActionKind
}

var _ core.Oracle = (*StaticOracle)(nil)

func NewStaticOracle(price sdkmath.Int) *StaticOracle {
	return &StaticOracle{price: price}
}

func (o *StaticOracle) SetPrice(price sdkmath.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price
}

// FailWith makes every query fail with err until it is reset with nil.
func (o *StaticOracle) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *StaticOracle) Calls() []types.ActionKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.ActionKind(nil), o.calls...)
}

func (o *StaticOracle) GetPrice(_ context.Context, kind types.ActionKind, target time.Time, _ []byte) (core.PriceInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, kind)
	if o.err != nil {
		return core.PriceInfo{}, o.err
	}
	return core.PriceInfo{Price: o.price, Timestamp: target}, nil
}

// RecordingSink keeps every emitted event.
type RecordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

var _ event.Sink = (*RecordingSink)(nil)

func (s *RecordingSink) Emit(evt event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *RecordingSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

// Count returns how many events of type et were emitted.
func (s *RecordingSink) Count(et event.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.EventType() == et {
			n++
		}
	}
	return n
}

func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// Fixture wires an engine to an in-memory bank, a static oracle and a
// recording sink. Every call helper advances the clock by Step.
type Fixture struct {
	T      *testing.T
	Engine *core.Engine
	Bank   *ledger.Bank
	Oracle *StaticOracle
	Sink   *RecordingSink
	Now    time.Time
	Step   time.Duration
}

// NewFixture builds an engine at the given price and funds Alice, Bob, Carol
// and Deployer with 1000 tokens of collateral and 100 of native currency.
func NewFixture(t *testing.T, params state.Params, price sdkmath.Int) *Fixture {
	t.Helper()

	f := &Fixture{
		T:      t,
		Bank:   ledger.NewBank(),
		Oracle: NewStaticOracle(price),
		Sink:   &RecordingSink{},
		Now:    Epoch,
		Step:   time.Minute,
	}
	f.Bank.WithClock(func() time.Time { return f.Now })

	for _, who := range []common.Address{Alice, Bob, Carol, Deployer} {
		if err := f.Bank.Fund(who, ledger.AssetUnderlying, Tokens(1_000)); err != nil {
			t.Fatalf("fund collateral: %v", err)
		}
		if err := f.Bank.Fund(who, ledger.AssetNative, Tokens(100)); err != nil {
			t.Fatalf("fund native: %v", err)
		}
	}

	engine, err := core.NewEngine(params, core.Dependencies{
		Oracle:  f.Oracle,
		Custody: f.Bank,
		Stable:  f.Bank,
		Sink:    f.Sink,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.Engine = engine
	return f
}

// Call returns a call from sender at the next clock step.
func (f *Fixture) Call(sender common.Address) core.Call {
	f.Now = f.Now.Add(f.Step)
	return core.Call{Sender: sender, Now: f.Now}
}

// MustInitialize seeds the protocol from Deployer.
func (f *Fixture) MustInitialize(deposit, long, liqPrice sdkmath.Int) core.Result {
	f.T.Helper()
	res, err := f.Engine.Initialize(context.Background(), f.Call(Deployer), deposit, long, liqPrice)
	if err != nil {
		f.T.Fatalf("initialize: %v", err)
	}
	return res
}

// MustOpen initiates and validates a long for who.
func (f *Fixture) MustOpen(who common.Address, amount, liqPrice sdkmath.Int) state.PositionID {
	f.T.Helper()
	ctx := context.Background()
	if _, err := f.Engine.InitiateOpenPosition(ctx, f.Call(who), amount, liqPrice, who, who); err != nil {
		f.T.Fatalf("initiate open: %v", err)
	}
	res, err := f.Engine.ValidateOpenPosition(ctx, f.Call(who), who)
	if err != nil {
		f.T.Fatalf("validate open: %v", err)
	}
	if res.Status != core.StatusApplied {
		f.T.Fatalf("validate open: status %s", res.Status)
	}
	return res.PositionID
}

// MustDeposit initiates and validates a vault deposit for who, returning
// the minted shares.
func (f *Fixture) MustDeposit(who common.Address, amount sdkmath.Int) sdkmath.Int {
	f.T.Helper()
	ctx := context.Background()
	if _, err := f.Engine.InitiateDeposit(ctx, f.Call(who), amount, who, who); err != nil {
		f.T.Fatalf("initiate deposit: %v", err)
	}
	res, err := f.Engine.ValidateDeposit(ctx, f.Call(who), who)
	if err != nil {
		f.T.Fatalf("validate deposit: %v", err)
	}
	return res.Amount
}

// AccountedCollateral is what the collateral pool must hold.
func (f *Fixture) AccountedCollateral() sdkmath.Int {
	return f.Engine.AccountedCollateral()
}

// RequireConservation fails the test if the bank disagrees with the engine.
func (f *Fixture) RequireConservation() {
	f.T.Helper()
	if err := f.Bank.ValidateCollateral(f.AccountedCollateral()); err != nil {
		f.T.Fatalf("conservation: %v", err)
	}
	if err := f.Bank.Validate(); err != nil {
		f.T.Fatalf("bank invariants: %v", err)
	}
}
