package oracle_test

import (
	"context"
	"testing"
	"time"

	"UsdnLedger/internal/oracle"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

func newFeed(t *testing.T, maxAge time.Duration) *oracle.Feed {
	t.Helper()
	f := oracle.NewFeed(maxAge)
	// published out of order on purpose
	require.NoError(t, f.Publish(sdkmath.NewInt(2_100), t0.Add(20*time.Second)))
	require.NoError(t, f.Publish(sdkmath.NewInt(2_000), t0))
	require.NoError(t, f.Publish(sdkmath.NewInt(2_050), t0.Add(10*time.Second)))
	return f
}

func TestFeed_InitiationUsesNewestNotAfterTarget(t *testing.T) {
	f := newFeed(t, 0)
	ctx := context.Background()

	info, err := f.GetPrice(ctx, types.ActionInitiateDeposit, t0.Add(15*time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2_050), info.Price.Int64())

	info, err = f.GetPrice(ctx, types.ActionInitiateDeposit, t0.Add(10*time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2_050), info.Price.Int64(), "exact timestamp is included")

	_, err = f.GetPrice(ctx, types.ActionInitiateDeposit, t0.Add(-time.Second), nil)
	assert.True(t, errorsmod.IsOf(err, types.ErrOracle))
}

func TestFeed_ValidationUsesFirstAtOrAfterTarget(t *testing.T) {
	f := newFeed(t, 0)
	ctx := context.Background()

	info, err := f.GetPrice(ctx, types.ActionValidateDeposit, t0.Add(11*time.Second), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2_100), info.Price.Int64())
	assert.Equal(t, t0.Add(20*time.Second), info.Timestamp)

	_, err = f.GetPrice(ctx, types.ActionValidateDeposit, t0.Add(21*time.Second), nil)
	assert.True(t, errorsmod.IsOf(err, types.ErrOraclePriceTooOld))
}

func TestFeed_MaxAge(t *testing.T) {
	f := newFeed(t, 5*time.Second)

	_, err := f.GetPrice(context.Background(), types.ActionLiquidation, t0.Add(time.Minute), nil)
	assert.True(t, errorsmod.IsOf(err, types.ErrOracle))

	_, err = f.GetPrice(context.Background(), types.ActionLiquidation, t0.Add(24*time.Second), nil)
	assert.NoError(t, err)
}

func TestFeed_PublishReplacesAndRejects(t *testing.T) {
	f := newFeed(t, 0)

	require.NoError(t, f.Publish(sdkmath.NewInt(1_999), t0))
	assert.Equal(t, 3, f.Len())

	info, err := f.GetPrice(context.Background(), types.ActionInitiateDeposit, t0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1_999), info.Price.Int64())

	assert.Error(t, f.Publish(sdkmath.ZeroInt(), t0))
	assert.Error(t, f.Publish(sdkmath.NewInt(-1), t0))

	latest, ok := f.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(2_100), latest.Price.Int64())
}
