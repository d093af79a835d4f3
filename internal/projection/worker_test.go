package projection

import (
	"context"
	"errors"
	"testing"
	"time"

	"UsdnLedger/internal/event"
	"UsdnLedger/internal/observability"
	"UsdnLedger/internal/persistence"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func meta(seq uint64, n int) event.Meta {
	return event.Meta{ID: event.NewEventID(seq, n), Sequence: seq, Timestamp: t0.Add(time.Duration(seq) * time.Minute)}
}

func funding(seq uint64) *event.FundingApplied {
	return &event.FundingApplied{
		Meta:           meta(seq, 0),
		Price:          sdkmath.NewInt(2_000),
		RatePerDay:     sdkmath.NewInt(int64(seq)),
		FundAsset:      sdkmath.NewInt(1),
		ElapsedSeconds: 60,
		BalanceLong:    sdkmath.NewInt(50),
		BalanceVault:   sdkmath.NewInt(100),
	}
}

func tickLiquidated(seq uint64, n int, tick int32) *event.TickLiquidated {
	return &event.TickLiquidated{
		Meta:                meta(seq, n),
		Tick:                tick,
		TotalPositions:      2,
		TotalExpo:           sdkmath.NewInt(10),
		RemainingCollateral: sdkmath.NewInt(-1),
		TickPrice:           sdkmath.NewInt(1_000),
		Price:               sdkmath.NewInt(990),
	}
}

func newTestWorker(t *testing.T, buffer int) (*Worker, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	return NewWorker(buffer, 1_000, m, zerolog.Nop()), m
}

func TestWorker_ApplyBuildsHistories(t *testing.T) {
	w, m := newTestWorker(t, 1)

	w.Apply(funding(1))
	w.Apply(tickLiquidated(2, 0, 100))
	w.Apply(tickLiquidated(2, 1, 90))
	w.Apply(&event.PositionLiquidated{Meta: meta(3, 0), Position: event.PositionRef{Tick: 80}, Price: sdkmath.NewInt(5), BoundedValue: sdkmath.NewInt(7)})
	w.Apply(funding(4))
	w.Apply(&event.ValidatedDeposit{Meta: meta(5, 0)})

	assert.Equal(t, uint64(5), w.LastSequence())
	assert.Equal(t, float64(5), promtest.ToFloat64(m.ProjectionSequence))

	fund := w.Funding().Latest(10)
	require.Len(t, fund, 2)
	assert.Equal(t, uint64(4), fund[0].Sequence, "newest first")
	assert.Equal(t, uint64(1), fund[1].Sequence)

	liq := w.Liquidations().Since(2, 10)
	require.Len(t, liq, 3)
	assert.Equal(t, int32(100), liq[0].Tick, "emission order kept within a call")
	assert.Equal(t, int32(90), liq[1].Tick)
	assert.Equal(t, LiquidationPosition, liq[2].Kind)
	assert.Equal(t, "7", liq[2].Value.String())

	assert.Len(t, w.Liquidations().Latest(1), 1)
	assert.Empty(t, w.Funding().Since(5, 10))
}

func TestWorker_CapacityEvictsOldest(t *testing.T) {
	w := NewWorker(1, 3, nil, zerolog.Nop())
	for seq := uint64(1); seq <= 5; seq++ {
		w.Apply(funding(seq))
	}
	entries := w.Funding().Since(0, 10)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(3), entries[0].Sequence)
}

func TestWorker_EmitDropsWhenFull(t *testing.T) {
	w, m := newTestWorker(t, 1)

	w.Emit(funding(1))
	w.Emit(funding(2))
	assert.Equal(t, float64(1), promtest.ToFloat64(m.ProjectionDropped))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Funding().Len() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type pagedSource struct {
	rows  []persistence.EventRow
	calls []uint64
	err   error
}

func (s *pagedSource) LoadEventsFrom(_ context.Context, from uint64, limit int) ([]persistence.EventRow, error) {
	s.calls = append(s.calls, from)
	if s.err != nil {
		return nil, s.err
	}
	var out []persistence.EventRow
	for _, r := range s.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestWorker_RebuildReplaysLog(t *testing.T) {
	src := &pagedSource{}
	// a full page that ends inside call 499, followed by the rest of that call
	for seq := uint64(1); seq < rebuildPage; seq++ {
		row, err := persistence.EventRowFrom(funding(seq))
		require.NoError(t, err)
		src.rows = append(src.rows, row)
	}
	for n := 0; n < 3; n++ {
		row, err := persistence.EventRowFrom(tickLiquidated(rebuildPage, n, int32(100-n)))
		require.NoError(t, err)
		src.rows = append(src.rows, row)
	}
	src.rows = append(src.rows, persistence.EventRow{EventType: "Bogus", Sequence: rebuildPage + 1, Payload: []byte(`{}`)})

	w, _ := newTestWorker(t, 1)
	w.Apply(funding(9_999)) // cleared by the rebuild

	applied, err := w.Rebuild(context.Background(), src, 0)
	require.NoError(t, err)

	assert.Equal(t, rebuildPage-1+3, applied)
	assert.Equal(t, rebuildPage-1, w.Funding().Len())
	assert.Equal(t, 3, w.Liquidations().Len(), "events of the split call are not lost or doubled")
	assert.Equal(t, uint64(rebuildPage), w.LastSequence())
	assert.Equal(t, []uint64{0, rebuildPage}, src.calls)
}

func TestWorker_RebuildPropagatesErrors(t *testing.T) {
	w, _ := newTestWorker(t, 1)
	_, err := w.Rebuild(context.Background(), &pagedSource{err: errors.New("db down")}, 0)
	assert.Error(t, err)
}
