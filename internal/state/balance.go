package state

import (
	sdkmath "cosmossdk.io/math"
)

// Canonical byte encoding used by the state digest.

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// appendInt writes sign, length-prefixed big-endian magnitude.
func appendInt(buf []byte, v sdkmath.Int) []byte {
	if v.IsNil() {
		return append(buf, 0, 0)
	}
	sign := byte(0)
	if v.IsNegative() {
		sign = 1
	}
	mag := v.Abs().BigInt().Bytes()
	buf = append(buf, sign, byte(len(mag)))
	return append(buf, mag...)
}

// CanonicalBytes for deterministic hashing
func (t *Tick) CanonicalBytes(tick int32) []byte {
	buf := make([]byte, 0, 64)
	buf = appendInt64LE(buf, int64(tick))
	buf = appendUint64LE(buf, t.Version)
	buf = appendInt64LE(buf, int64(t.TotalPositions))
	buf = appendInt64LE(buf, int64(t.LiquidationPenalty))
	return appendInt(buf, t.TotalExpo)
}

// CanonicalBytes for deterministic hashing
func (p *Position) CanonicalBytes(id PositionID) []byte {
	buf := make([]byte, 0, 96)
	buf = appendInt64LE(buf, int64(id.Tick))
	buf = appendUint64LE(buf, id.TickVersion)
	buf = appendUint64LE(buf, id.Index)
	buf = append(buf, p.Owner.Bytes()...)
	if p.Validated {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendInt64LE(buf, p.Timestamp.Unix())
	buf = appendInt(buf, p.Amount)
	return appendInt(buf, p.TotalExpo)
}

// CanonicalBytes for deterministic hashing
func (b *Balances) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)
	for _, v := range []sdkmath.Int{
		b.TotalExpo, b.BalanceLong, b.BalanceVault, b.PendingVaultDelta,
		b.LiqMultiplierAccumulator, b.LastPrice, b.LastFundingRate, b.BadDebt,
	} {
		buf = appendInt(buf, v)
	}
	return appendInt64LE(buf, b.LastUpdate.Unix())
}
