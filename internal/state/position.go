package state

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PositionID is a generation-checked handle: it stays valid only while the
// tick's version equals TickVersion.
type PositionID struct {
	Tick        int32  `json:"tick"`
	TickVersion uint64 `json:"tick_version"`
	Index       uint64 `json:"index"`
}

func (id PositionID) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Tick, id.TickVersion, id.Index)
}

// Position is a leveraged long. Amount is the posted collateral.
type Position struct {
	Validated bool           `json:"validated"`
	Timestamp time.Time      `json:"timestamp"`
	Owner     common.Address `json:"owner"`
	Amount    sdkmath.Int    `json:"amount"`
	TotalExpo sdkmath.Int    `json:"total_expo"`
}

// Clone returns a deep-enough copy; Int values are immutable.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// IsEmpty reports whether the position has no collateral left.
func (p *Position) IsEmpty() bool {
	return p.Amount.IsNil() || p.Amount.IsZero()
}

// ParsePositionID parses the tick:version:index form produced by String.
func ParsePositionID(s string) (PositionID, error) {
	var id PositionID
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return id, fmt.Errorf("position id %q: want tick:version:index", s)
	}
	tick, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return id, fmt.Errorf("position id %q: tick: %w", s, err)
	}
	version, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return id, fmt.Errorf("position id %q: version: %w", s, err)
	}
	index, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return id, fmt.Errorf("position id %q: index: %w", s, err)
	}
	return PositionID{Tick: int32(tick), TickVersion: version, Index: index}, nil
}
