package ingestion

import "sync"

// SequenceTracker orders price updates per source. Updates at or below the
// last accepted sequence are stale and dropped; gaps are counted but accepted
// since only the newest price matters.
type SequenceTracker struct {
	mu      sync.Mutex
	lastSeq map[string]int64 // source -> last accepted sequence
	gaps    map[string]int64
	stale   map[string]int64
}

func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{
		lastSeq: make(map[string]int64),
		gaps:    make(map[string]int64),
		stale:   make(map[string]int64),
	}
}

// Accept reports whether seq is new for source and records it if so.
func (st *SequenceTracker) Accept(source string, seq int64) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	last, ok := st.lastSeq[source]
	if !ok {
		st.lastSeq[source] = seq
		return true
	}
	if seq <= last {
		st.stale[source]++
		return false
	}
	if seq > last+1 {
		st.gaps[source]++
	}
	st.lastSeq[source] = seq
	return true
}

// Last returns the last accepted sequence of source.
func (st *SequenceTracker) Last(source string) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	seq, ok := st.lastSeq[source]
	return seq, ok
}

// Reset sets the last accepted sequence (used on recovery).
func (st *SequenceTracker) Reset(source string, seq int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeq[source] = seq
}

func (st *SequenceTracker) Gaps(source string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gaps[source]
}

func (st *SequenceTracker) Stale(source string) int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.stale[source]
}
