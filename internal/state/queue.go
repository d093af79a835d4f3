package state

import (
	"time"

	"UsdnLedger/internal/types"

	errorsmod "cosmossdk.io/errors"
	"github.com/ethereum/go-ethereum/common"
)

// indexMask bounds raw queue indices to 48 bits. The queue assumes fewer than
// 2^48 live entries.
const indexMask uint64 = 1<<48 - 1

func wrapAdd(a, b uint64) uint64 { return (a + b) & indexMask }
func wrapSub(a, b uint64) uint64 { return (a - b) & indexMask }

// Deadlines split the life of a pending action into validation windows.
//
//	age <= LowLatencyValidatorDeadline                    only the validator
//	LowLatencyValidatorDeadline < age <= LowLatencyDelay  anyone, low-latency price
//	LowLatencyDelay < age <= +OnChainValidatorDeadline    only the validator again
//	beyond                                                anyone, on-chain price
type Deadlines struct {
	LowLatencyValidatorDeadline time.Duration `json:"low_latency_validator_deadline"`
	LowLatencyDelay             time.Duration `json:"low_latency_delay"`
	OnChainValidatorDeadline    time.Duration `json:"on_chain_validator_deadline"`
}

// IsActionable reports whether a third party may validate an action
// initiated at initiated.
func (d Deadlines) IsActionable(initiated, now time.Time) bool {
	age := now.Sub(initiated)
	if age <= d.LowLatencyValidatorDeadline {
		return false
	}
	if age <= d.LowLatencyDelay {
		return true
	}
	return age > d.LowLatencyDelay+d.OnChainValidatorDeadline
}

// QueueEntry is a live queued action with its raw index.
type QueueEntry struct {
	RawIndex uint64        `json:"raw_index"`
	Action   PendingAction `json:"-"`
}

// PendingQueue is the chronological FIFO of pending actions, at most one per
// validator. Cleared slots stay as holes until they reach the front.
type PendingQueue struct {
	begin  uint64
	end    uint64
	slots  map[uint64]PendingAction
	byUser map[common.Address]uint64
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		slots:  make(map[uint64]PendingAction),
		byUser: make(map[common.Address]uint64),
	}
}

// Push appends action for its validator and returns the raw index.
func (q *PendingQueue) Push(action PendingAction) (uint64, error) {
	user := action.Header().Validator
	if idx, ok := q.byUser[user]; ok {
		return 0, errorsmod.Wrapf(types.ErrPendingActionExists, "validator %s at index %d", user.Hex(), idx)
	}
	idx := q.end
	q.slots[idx] = action
	q.byUser[user] = idx
	q.end = wrapAdd(q.end, 1)
	return idx, nil
}

// Get returns the validator's pending action.
func (q *PendingQueue) Get(user common.Address) (PendingAction, uint64, bool) {
	idx, ok := q.byUser[user]
	if !ok {
		return nil, 0, false
	}
	return q.slots[idx], idx, true
}

// Clear removes the validator's entry if it is still at rawIndex.
func (q *PendingQueue) Clear(user common.Address, rawIndex uint64) {
	idx, ok := q.byUser[user]
	if !ok || idx != rawIndex {
		return
	}
	delete(q.byUser, user)
	delete(q.slots, idx)
	q.compact()
}

// compact advances begin past cleared slots.
func (q *PendingQueue) compact() {
	for q.begin != q.end {
		if _, ok := q.slots[q.begin]; ok {
			return
		}
		q.begin = wrapAdd(q.begin, 1)
	}
}

// Actionable returns up to limit entries, oldest first, that a third party may
// validate at now. The walk stops at the first entry still inside its
// exclusive validator window.
func (q *PendingQueue) Actionable(now time.Time, limit int, d Deadlines) []QueueEntry {
	q.compact()
	var out []QueueEntry
	if limit <= 0 {
		return out
	}
	for i := uint64(0); i < q.span() && len(out) < limit; i++ {
		idx := wrapAdd(q.begin, i)
		action, ok := q.slots[idx]
		if !ok {
			continue
		}
		initiated := action.Header().Timestamp
		if now.Sub(initiated) <= d.LowLatencyValidatorDeadline {
			break
		}
		if d.IsActionable(initiated, now) {
			out = append(out, QueueEntry{RawIndex: idx, Action: action})
		}
	}
	return out
}

func (q *PendingQueue) span() uint64 {
	return wrapSub(q.end, q.begin)
}

// Len returns the number of live entries.
func (q *PendingQueue) Len() int {
	return len(q.byUser)
}

// Entries returns every live entry, oldest first.
func (q *PendingQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, 0, len(q.slots))
	for i := uint64(0); i < q.span(); i++ {
		idx := wrapAdd(q.begin, i)
		if action, ok := q.slots[idx]; ok {
			out = append(out, QueueEntry{RawIndex: idx, Action: action})
		}
	}
	return out
}

// Bounds returns the raw begin and end indices.
func (q *PendingQueue) Bounds() (begin, end uint64) {
	return q.begin, q.end
}

// Restore replaces the queue contents.
func (q *PendingQueue) Restore(begin, end uint64, entries []QueueEntry) {
	q.begin = begin & indexMask
	q.end = end & indexMask
	q.slots = make(map[uint64]PendingAction, len(entries))
	q.byUser = make(map[common.Address]uint64, len(entries))
	for _, e := range entries {
		q.slots[e.RawIndex] = e.Action
		q.byUser[e.Action.Header().Validator] = e.RawIndex
	}
	q.compact()
}

// Digest returns canonical bytes of the queue for state hashing.
func (q *PendingQueue) Digest() []byte {
	buf := appendUint64LE(nil, q.begin)
	buf = appendUint64LE(buf, q.end)
	for _, e := range q.Entries() {
		buf = append(buf, canonicalPending(e.RawIndex, e.Action)...)
	}
	return buf
}
