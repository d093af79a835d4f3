package state

import (
	"sort"
)

type tickKey struct {
	tick    int32
	version uint64
}

// PositionLedger owns individual positions, stored per (tick, version) in
// slices. Removed positions leave a nil hole so indices stay stable.
type PositionLedger struct {
	slots map[tickKey][]*Position
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		slots: make(map[tickKey][]*Position),
	}
}

// Add appends a position under (tick, version) and returns its index.
func (pl *PositionLedger) Add(tick int32, version uint64, pos *Position) uint64 {
	key := tickKey{tick, version}
	pl.slots[key] = append(pl.slots[key], pos)
	return uint64(len(pl.slots[key]) - 1)
}

// Get returns the live position for id, or nil.
func (pl *PositionLedger) Get(id PositionID) *Position {
	slot := pl.slots[tickKey{id.Tick, id.TickVersion}]
	if id.Index >= uint64(len(slot)) {
		return nil
	}
	return slot[id.Index]
}

// Remove deletes the position, leaving a hole.
func (pl *PositionLedger) Remove(id PositionID) {
	key := tickKey{id.Tick, id.TickVersion}
	slot := pl.slots[key]
	if id.Index < uint64(len(slot)) {
		slot[id.Index] = nil
	}
}

// DropTick forgets every position of a tick version (after liquidation).
func (pl *PositionLedger) DropTick(tick int32, version uint64) []*Position {
	key := tickKey{tick, version}
	dropped := pl.slots[key]
	delete(pl.slots, key)
	return dropped
}

// Positions returns the live positions of (tick, version) with their ids.
func (pl *PositionLedger) Positions(tick int32, version uint64) map[PositionID]*Position {
	result := make(map[PositionID]*Position)
	for i, pos := range pl.slots[tickKey{tick, version}] {
		if pos != nil {
			result[PositionID{Tick: tick, TickVersion: version, Index: uint64(i)}] = pos
		}
	}
	return result
}

// PositionEntry pairs an id with its position.
type PositionEntry struct {
	ID       PositionID `json:"id"`
	Position *Position  `json:"position"`
}

// All returns every live position, sorted by id for deterministic iteration.
func (pl *PositionLedger) All() []PositionEntry {
	entries := make([]PositionEntry, 0)
	for key, slot := range pl.slots {
		for i, pos := range slot {
			if pos == nil {
				continue
			}
			entries = append(entries, PositionEntry{
				ID:       PositionID{Tick: key.tick, TickVersion: key.version, Index: uint64(i)},
				Position: pos,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].ID, entries[j].ID
		if a.Tick != b.Tick {
			return a.Tick < b.Tick
		}
		if a.TickVersion != b.TickVersion {
			return a.TickVersion < b.TickVersion
		}
		return a.Index < b.Index
	})
	return entries
}

// SlotLen returns the slot length for (tick, version), holes included.
func (pl *PositionLedger) SlotLen(tick int32, version uint64) int {
	return len(pl.slots[tickKey{tick, version}])
}

// Restore places a position at an exact id, growing the slot with holes.
func (pl *PositionLedger) Restore(id PositionID, pos *Position) {
	key := tickKey{id.Tick, id.TickVersion}
	slot := pl.slots[key]
	for uint64(len(slot)) <= id.Index {
		slot = append(slot, nil)
	}
	slot[id.Index] = pos
	pl.slots[key] = slot
}

// RestoreSlotLen pads a slot so indices allocated before a snapshot are not reused.
func (pl *PositionLedger) RestoreSlotLen(tick int32, version uint64, n int) {
	key := tickKey{tick, version}
	slot := pl.slots[key]
	for len(slot) < n {
		slot = append(slot, nil)
	}
	pl.slots[key] = slot
}

// SlotInfo records the allocated length of one (tick, version) slot.
type SlotInfo struct {
	Tick        int32  `json:"tick"`
	TickVersion uint64 `json:"tick_version"`
	Len         int    `json:"len"`
}

// Slots returns every slot length, sorted, holes included.
func (pl *PositionLedger) Slots() []SlotInfo {
	out := make([]SlotInfo, 0, len(pl.slots))
	for key, slot := range pl.slots {
		out = append(out, SlotInfo{Tick: key.tick, TickVersion: key.version, Len: len(slot)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tick != out[j].Tick {
			return out[i].Tick < out[j].Tick
		}
		return out[i].TickVersion < out[j].TickVersion
	})
	return out
}
