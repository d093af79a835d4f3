package core

import (
	"encoding/hex"
	"fmt"
	"sort"

	"UsdnLedger/internal/state"
	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
)

const SnapshotVersion = 1

// TickRecord is one populated tick in a snapshot.
type TickRecord struct {
	Tick int32      `json:"tick"`
	Data state.Tick `json:"data"`
}

// VersionRecord is one entry of the tick version table.
type VersionRecord struct {
	Tick    int32  `json:"tick"`
	Version uint64 `json:"version"`
}

type QueueRecord struct {
	RawIndex uint64              `json:"raw_index"`
	Action   state.PendingRecord `json:"action"`
}

type QueueSnapshot struct {
	Begin   uint64        `json:"begin"`
	End     uint64        `json:"end"`
	Entries []QueueRecord `json:"entries"`
}

// Snapshot is the full engine state at Sequence. StateHash chains from
// PrevHash over the restored digest and is checked on Restore.
type Snapshot struct {
	Version     int                   `json:"version"`
	Sequence    uint64                `json:"sequence"`
	PrevHash    string                `json:"prev_hash"`
	StateHash   string                `json:"state_hash"`
	Initialized bool                  `json:"initialized"`
	Params      state.Params          `json:"params"`
	Balances    state.Balances        `json:"balances"`
	Ticks       []TickRecord          `json:"ticks"`
	Versions    []VersionRecord       `json:"versions"`
	Positions   []state.PositionEntry `json:"positions"`
	Slots       []state.SlotInfo      `json:"slots"`
	Queue       QueueSnapshot         `json:"queue"`
}

// Snapshot captures the engine state. It must not be called during a call.
func (e *Engine) Snapshot() (*Snapshot, error) {
	if e.inCall {
		return nil, types.ErrReentrantCall
	}

	snap := &Snapshot{
		Version:     SnapshotVersion,
		Sequence:    e.sequence,
		StateHash:   hex.EncodeToString(e.stateHash[:]),
		Initialized: e.initialized,
		Params:      e.params,
		Balances:    *e.book.Balances.Clone(),
		Positions:   e.Positions(),
		Slots:       e.book.Positions.Slots(),
	}
	prev := e.prevHash()
	snap.PrevHash = hex.EncodeToString(prev[:])

	populated := e.book.Ticks.Populated()
	e.book.Ticks.Ascend(func(tick int32) bool {
		snap.Ticks = append(snap.Ticks, TickRecord{Tick: tick, Data: populated[tick]})
		return true
	})
	for tick, v := range e.book.Ticks.Versions() {
		snap.Versions = append(snap.Versions, VersionRecord{Tick: tick, Version: v})
	}
	sortVersions(snap.Versions)

	begin, end := e.queue.Bounds()
	snap.Queue = QueueSnapshot{Begin: begin, End: end}
	for _, entry := range e.queue.Entries() {
		rec, err := state.EncodePending(entry.Action)
		if err != nil {
			return nil, err
		}
		snap.Queue.Entries = append(snap.Queue.Entries, QueueRecord{RawIndex: entry.RawIndex, Action: rec})
	}
	return snap, nil
}

// prevHash is the chain tip before the last mutating call.
func (e *Engine) prevHash() [32]byte {
	return e.prevTip
}

// Restore replaces the engine state with snap after verifying its hash chain.
// Collaborators and parameters of the running engine are kept unless the
// snapshot carries different parameters, which must validate.
func (e *Engine) Restore(snap *Snapshot) error {
	if e.inCall {
		return types.ErrReentrantCall
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if err := state.ValidateParams(snap.Params); err != nil {
		return errorsmod.Wrap(types.ErrInvalidParams, err.Error())
	}
	prev, err := decodeHash(snap.PrevHash)
	if err != nil {
		return fmt.Errorf("prev_hash: %w", err)
	}
	want, err := decodeHash(snap.StateHash)
	if err != nil {
		return fmt.Errorf("state_hash: %w", err)
	}

	book := state.NewBook(snap.Params.TickSpacing)
	balances := snap.Balances
	book.Balances = balances.Clone()

	ticks := make(map[int32]state.Tick, len(snap.Ticks))
	for _, rec := range snap.Ticks {
		ticks[rec.Tick] = rec.Data
	}
	versions := make(map[int32]uint64, len(snap.Versions))
	for _, rec := range snap.Versions {
		versions[rec.Tick] = rec.Version
	}
	book.Ticks.Restore(ticks, versions)

	for _, slot := range snap.Slots {
		book.Positions.RestoreSlotLen(slot.Tick, slot.TickVersion, slot.Len)
	}
	for _, entry := range snap.Positions {
		book.Positions.Restore(entry.ID, entry.Position.Clone())
	}
	if err := book.CheckTickInvariant(); err != nil {
		return errorsmod.Wrap(types.ErrStateHashMismatch, err.Error())
	}

	queue := state.NewPendingQueue()
	entries := make([]state.QueueEntry, 0, len(snap.Queue.Entries))
	for _, rec := range snap.Queue.Entries {
		action, err := state.DecodePending(rec.Action)
		if err != nil {
			return err
		}
		entries = append(entries, state.QueueEntry{RawIndex: rec.RawIndex, Action: action})
	}
	queue.Restore(snap.Queue.Begin, snap.Queue.End, entries)

	restored := &Engine{book: book, queue: queue, initialized: snap.Initialized}
	if snap.Sequence > 0 {
		if got := ChainHash(prev, snap.Sequence, restored.digest()); got != want {
			return errorsmod.Wrapf(types.ErrStateHashMismatch, "sequence %d: computed %x, snapshot %x", snap.Sequence, got, want)
		}
	}

	e.params = snap.Params
	e.book = book
	e.liquidations = state.NewLiquidationEngine(book)
	e.queue = queue
	e.initialized = snap.Initialized
	e.sequence = snap.Sequence
	e.stateHash = want
	e.prevTip = prev
	e.hasher = NewStateHasherFrom(want)
	if snap.Sequence == 0 {
		e.hasher = NewStateHasher()
		e.prevTip = GenesisHash()
	}

	e.logger.Info().Uint64("sequence", snap.Sequence).Str("state_hash", snap.StateHash).Msg("engine restored from snapshot")
	return nil
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("want %d bytes, got %d", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func sortVersions(v []VersionRecord) {
	sort.Slice(v, func(i, j int) bool { return v[i].Tick < v[j].Tick })
}
