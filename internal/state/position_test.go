package state_test

import (
	"testing"

	"UsdnLedger/internal/state"
)

// ============================================================================
// Test: PositionID string form
// ============================================================================

func TestParsePositionID_RoundTrip(t *testing.T) {
	id := state.PositionID{Tick: -69_000, TickVersion: 3, Index: 12}
	got, err := state.ParsePositionID(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != id {
		t.Fatalf("expected %v, got %v", id, got)
	}
}

func TestParsePositionID_Rejects(t *testing.T) {
	for _, s := range []string{"", "1:2", "1:2:3:4", "x:2:3", "1:-2:3", "1:2:y", "99999999999:0:0"} {
		if _, err := state.ParsePositionID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}
