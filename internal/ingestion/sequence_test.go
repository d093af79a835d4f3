package ingestion_test

import (
	"testing"

	"UsdnLedger/internal/ingestion"

	"github.com/stretchr/testify/assert"
)

func TestSequenceTracker_DropsStaleAcceptsGaps(t *testing.T) {
	st := ingestion.NewSequenceTracker()

	assert.True(t, st.Accept("pyth", 10), "first update seeds the source")
	assert.True(t, st.Accept("pyth", 11))
	assert.False(t, st.Accept("pyth", 11), "duplicate")
	assert.False(t, st.Accept("pyth", 3), "older")
	assert.True(t, st.Accept("pyth", 15), "gap is accepted")

	last, ok := st.Last("pyth")
	assert.True(t, ok)
	assert.Equal(t, int64(15), last)
	assert.Equal(t, int64(1), st.Gaps("pyth"))
	assert.Equal(t, int64(2), st.Stale("pyth"))
}

func TestSequenceTracker_SourcesAreIndependent(t *testing.T) {
	st := ingestion.NewSequenceTracker()
	st.Reset("chainlink", 100)

	assert.False(t, st.Accept("chainlink", 100))
	assert.True(t, st.Accept("pyth", 1))
	assert.True(t, st.Accept("chainlink", 101))

	_, ok := st.Last("redstone")
	assert.False(t, ok)
}
