package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialized
	EventTypeInitiatedDeposit
	EventTypeValidatedDeposit
	EventTypeInitiatedWithdrawal
	EventTypeValidatedWithdrawal
	EventTypeInitiatedOpenPosition
	EventTypeValidatedOpenPosition
	EventTypePositionTickChanged
	EventTypeInitiatedClosePosition
	EventTypeValidatedClosePosition
	EventTypePositionLiquidated
	EventTypeTickLiquidated
	EventTypeLiquidatorRewarded
	EventTypeBadDebtCovered
	EventTypeFundingApplied
	EventTypeStalePendingActionRemoved
	EventTypeActionableValidated
)

func (et EventType) String() string {
	switch et {
	case EventTypeInitialized:
		return "Initialized"
	case EventTypeInitiatedDeposit:
		return "InitiatedDeposit"
	case EventTypeValidatedDeposit:
		return "ValidatedDeposit"
	case EventTypeInitiatedWithdrawal:
		return "InitiatedWithdrawal"
	case EventTypeValidatedWithdrawal:
		return "ValidatedWithdrawal"
	case EventTypeInitiatedOpenPosition:
		return "InitiatedOpenPosition"
	case EventTypeValidatedOpenPosition:
		return "ValidatedOpenPosition"
	case EventTypePositionTickChanged:
		return "PositionTickChanged"
	case EventTypeInitiatedClosePosition:
		return "InitiatedClosePosition"
	case EventTypeValidatedClosePosition:
		return "ValidatedClosePosition"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeTickLiquidated:
		return "TickLiquidated"
	case EventTypeLiquidatorRewarded:
		return "LiquidatorRewarded"
	case EventTypeBadDebtCovered:
		return "BadDebtCovered"
	case EventTypeFundingApplied:
		return "FundingApplied"
	case EventTypeStalePendingActionRemoved:
		return "StalePendingActionRemoved"
	case EventTypeActionableValidated:
		return "ActionableValidated"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject events of this type are published on.
func (et EventType) Subject() string {
	return "usdn.events." + strings.ToLower(et.String())
}

// Meta is embedded in every event. The engine fills it when emitting.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	Sequence  uint64    `json:"sequence"`  // engine call sequence that produced the event
	Timestamp time.Time `json:"timestamp"` // call time, not wall-clock
}

func (m *Meta) IdempotencyKey() string { return m.ID.String() }
func (m *Meta) Metadata() *Meta        { return m }

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Metadata returns the embedded envelope fields
	Metadata() *Meta
}

// NewEventID derives the id of the n-th event of call seq. Replaying the same
// calls yields the same ids.
func NewEventID(seq uint64, n int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("usdn:%d:%d", seq, n)))
}

// EventEnvelope is the wire form of an event for outbound transports.
type EventEnvelope struct {
	ID        uuid.UUID       `json:"id"`
	Sequence  uint64          `json:"sequence"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Wrap encodes evt into an envelope.
func Wrap(evt Event) (EventEnvelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	meta := evt.Metadata()
	return EventEnvelope{
		ID:        meta.ID,
		Sequence:  meta.Sequence,
		EventType: evt.EventType().String(),
		Timestamp: meta.Timestamp,
		Payload:   payload,
	}, nil
}
