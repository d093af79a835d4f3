// Package oracle provides price sources for the engine.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"UsdnLedger/internal/core"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/btree"
)

// DefaultHistory bounds how many observations a Feed keeps.
const DefaultHistory = 4096

const btreeDegree = 16

func priceBefore(a, b core.PriceInfo) bool {
	return a.Timestamp.Before(b.Timestamp)
}

// Feed is an in-memory, timestamp-ordered price history. Initiations get the
// newest price not after the target; validations get the first price at or
// after it. Safe for one writer and concurrent readers.
type Feed struct {
	mu      sync.RWMutex
	prices  *btree.BTreeG[core.PriceInfo]
	maxAge  time.Duration
	history int
}

var _ core.Oracle = (*Feed)(nil)

// NewFeed returns an empty feed. maxAge rejects initiation prices older than
// maxAge relative to the target; zero disables the check.
func NewFeed(maxAge time.Duration) *Feed {
	return &Feed{
		prices:  btree.NewG(btreeDegree, priceBefore),
		maxAge:  maxAge,
		history: DefaultHistory,
	}
}

// Publish records a price observation. A second observation with the same
// timestamp replaces the first.
func (f *Feed) Publish(price sdkmath.Int, at time.Time) error {
	if price.IsNil() || !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", price)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.prices.ReplaceOrInsert(core.PriceInfo{Price: price, Timestamp: at})
	for f.prices.Len() > f.history {
		f.prices.DeleteMin()
	}
	return nil
}

// Latest returns the newest observation.
func (f *Feed) Latest() (core.PriceInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices.Max()
}

func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices.Len()
}

// GetPrice implements core.Oracle. Opaque oracle data is ignored.
func (f *Feed) GetPrice(_ context.Context, kind types.ActionKind, target time.Time, _ []byte) (core.PriceInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var (
		info  core.PriceInfo
		found bool
		pivot = core.PriceInfo{Timestamp: target}
	)
	first := func(p core.PriceInfo) bool {
		info, found = p, true
		return false
	}

	if kind.IsValidation() {
		f.prices.AscendGreaterOrEqual(pivot, first)
		if !found {
			return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOraclePriceTooOld,
				"no %s price at or after %s", kind, target.Format(time.RFC3339))
		}
		return info, nil
	}

	f.prices.DescendLessOrEqual(pivot, first)
	if !found {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle, "no %s price at or before %s", kind, target.Format(time.RFC3339))
	}
	if f.maxAge > 0 && target.Sub(info.Timestamp) > f.maxAge {
		return core.PriceInfo{}, errorsmod.Wrapf(types.ErrOracle,
			"latest price at %s is older than %s", info.Timestamp.Format(time.RFC3339), f.maxAge)
	}
	return info, nil
}
