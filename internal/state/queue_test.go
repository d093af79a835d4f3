package state_test

import (
	"errors"
	"testing"
	"time"

	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	"github.com/ethereum/go-ethereum/common"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func testDeadlines() state.Deadlines {
	return state.Deadlines{
		LowLatencyValidatorDeadline: 15 * time.Minute,
		LowLatencyDelay:             20 * time.Minute,
		OnChainValidatorDeadline:    65 * time.Minute,
	}
}

func mustDepositAction(validator common.Address, at time.Time) *state.DepositAction {
	return &state.DepositAction{
		ActionHeader: state.ActionHeader{
			Validator:       validator,
			To:              validator,
			Timestamp:       at,
			SecurityDeposit: milliTokens(500),
		},
		Amount: tokens(1),
	}
}

// ============================================================================
// Test: Queue push, get, clear
// ============================================================================

func TestQueue_OneActionPerValidator(t *testing.T) {
	q := state.NewPendingQueue()

	idx, err := q.Push(mustDepositAction(addr(1), t0))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if idx != 0 {
		t.Errorf("expected raw index 0, got %d", idx)
	}

	_, err = q.Push(mustDepositAction(addr(1), t0.Add(time.Minute)))
	if !errors.Is(err, types.ErrPendingActionExists) {
		t.Fatalf("expected ErrPendingActionExists, got %v", err)
	}

	action, gotIdx, ok := q.Get(addr(1))
	if !ok || gotIdx != 0 || action.Kind() != state.PendingDeposit {
		t.Fatalf("unexpected get: %v %d %v", action, gotIdx, ok)
	}
	if q.Len() != 1 {
		t.Errorf("expected len 1, got %d", q.Len())
	}
}

func TestQueue_ClearIgnoresIndexMismatch(t *testing.T) {
	q := state.NewPendingQueue()
	q.Push(mustDepositAction(addr(1), t0))

	q.Clear(addr(1), 7)
	if _, _, ok := q.Get(addr(1)); !ok {
		t.Fatal("expected entry to survive a mismatched clear")
	}

	q.Clear(addr(1), 0)
	if _, _, ok := q.Get(addr(1)); ok {
		t.Fatal("expected entry cleared")
	}
	if begin, end := q.Bounds(); begin != end {
		t.Errorf("expected empty queue to compact, got begin=%d end=%d", begin, end)
	}
}

func TestQueue_EntriesSkipHoles(t *testing.T) {
	q := state.NewPendingQueue()
	q.Push(mustDepositAction(addr(1), t0))
	q.Push(mustDepositAction(addr(2), t0))
	q.Push(mustDepositAction(addr(3), t0))

	q.Clear(addr(2), 1)

	entries := q.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RawIndex != 0 || entries[1].RawIndex != 2 {
		t.Errorf("expected raw indices 0 and 2, got %d and %d", entries[0].RawIndex, entries[1].RawIndex)
	}
}

func TestQueue_IndexWraps(t *testing.T) {
	q := state.NewPendingQueue()
	const last = uint64(1<<48 - 1)
	q.Restore(last, last, nil)

	first, _ := q.Push(mustDepositAction(addr(1), t0))
	second, _ := q.Push(mustDepositAction(addr(2), t0))

	if first != last || second != 0 {
		t.Fatalf("expected indices %d and 0, got %d and %d", last, first, second)
	}
	entries := q.Entries()
	if len(entries) != 2 || entries[0].RawIndex != last || entries[1].RawIndex != 0 {
		t.Fatalf("expected wrapped order, got %+v", entries)
	}
}

// ============================================================================
// Test: Actionable windows
// ============================================================================

func TestDeadlines_IsActionable(t *testing.T) {
	d := testDeadlines()
	cases := []struct {
		name     string
		age      time.Duration
		expected bool
	}{
		{"exclusive window", 15 * time.Minute, false},
		{"low latency window", 16 * time.Minute, true},
		{"low latency window end", 20 * time.Minute, true},
		{"grace window", 60 * time.Minute, false},
		{"grace window end", 85 * time.Minute, false},
		{"open to anyone", 86 * time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := d.IsActionable(t0, t0.Add(tc.age)); got != tc.expected {
				t.Fatalf("age %s: expected %v, got %v", tc.age, tc.expected, got)
			}
		})
	}
}

func TestQueue_ActionableWalk(t *testing.T) {
	q := state.NewPendingQueue()
	q.Push(mustDepositAction(addr(1), t0))
	q.Push(mustDepositAction(addr(2), t0.Add(time.Minute)))
	q.Push(mustDepositAction(addr(3), t0.Add(10*time.Minute)))
	d := testDeadlines()

	// Stops at the first entry still inside its exclusive window
	got := q.Actionable(t0.Add(16*time.Minute), 10, d)
	if len(got) != 1 || got[0].RawIndex != 0 {
		t.Fatalf("expected only entry 0, got %+v", got)
	}

	// Entries in the grace window are skipped, not a stop
	got = q.Actionable(t0.Add(30*time.Minute), 10, d)
	if len(got) != 1 || got[0].RawIndex != 2 {
		t.Fatalf("expected only entry 2, got %+v", got)
	}

	got = q.Actionable(t0.Add(90*time.Minute), 10, d)
	if len(got) != 2 || got[0].RawIndex != 0 || got[1].RawIndex != 1 {
		t.Fatalf("expected entries 0 and 1, got %+v", got)
	}

	got = q.Actionable(t0.Add(90*time.Minute), 1, d)
	if len(got) != 1 || got[0].RawIndex != 0 {
		t.Fatalf("expected limit to keep the oldest entry, got %+v", got)
	}
}

// ============================================================================
// Test: Stale open actions
// ============================================================================

func TestIsStale_OnlyOpenAfterLiquidation(t *testing.T) {
	book := state.NewBook(100)
	id, _ := book.AddPosition(69000, 2, mustPosition(addr(1), tokens(10), tokens(50)))
	open := &state.OpenAction{ActionHeader: state.ActionHeader{Validator: addr(1)}, Position: id}
	deposit := mustDepositAction(addr(2), t0)

	if state.IsStale(open, book.Ticks) {
		t.Fatal("expected fresh open action")
	}
	book.RemoveTick(69000)
	if !state.IsStale(open, book.Ticks) {
		t.Fatal("expected open action stale after liquidation")
	}
	if state.IsStale(deposit, book.Ticks) {
		t.Fatal("deposits never go stale")
	}
}

func TestPendingRecord_CloseKeepsMultiplier(t *testing.T) {
	action := &state.CloseAction{
		ActionHeader:       state.ActionHeader{Validator: addr(1), To: addr(2), Timestamp: t0, SecurityDeposit: milliTokens(500)},
		Position:           state.PositionID{Tick: 69000, TickVersion: 3, Index: 4},
		Amount:             tokens(2),
		TotalExpo:          tokens(7),
		BoundedValue:       tokens(3),
		LiquidationPenalty: 2,
		Multiplier:         state.Multiplier{AssetPrice: tokens(2000), LongTradingExpo: tokens(5), Accumulator: tokens(9)},
	}

	rec, err := state.EncodePending(action)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := state.DecodePending(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(*state.CloseAction)
	if !ok {
		t.Fatalf("expected *CloseAction, got %T", decoded)
	}
	if got.Position != action.Position || !got.Multiplier.AssetPrice.Equal(tokens(2000)) || got.To != addr(2) {
		t.Errorf("decoded action differs: %+v", got)
	}

	if _, err := state.DecodePending(state.PendingRecord{Kind: 99}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
