package event

import (
	"encoding/json"
	"fmt"
)

var constructors = map[EventType]func() Event{
	EventTypeInitialized:               func() Event { return &Initialized{} },
	EventTypeInitiatedDeposit:          func() Event { return &InitiatedDeposit{} },
	EventTypeValidatedDeposit:          func() Event { return &ValidatedDeposit{} },
	EventTypeInitiatedWithdrawal:       func() Event { return &InitiatedWithdrawal{} },
	EventTypeValidatedWithdrawal:       func() Event { return &ValidatedWithdrawal{} },
	EventTypeInitiatedOpenPosition:     func() Event { return &InitiatedOpenPosition{} },
	EventTypeValidatedOpenPosition:     func() Event { return &ValidatedOpenPosition{} },
	EventTypePositionTickChanged:       func() Event { return &PositionTickChanged{} },
	EventTypeInitiatedClosePosition:    func() Event { return &InitiatedClosePosition{} },
	EventTypeValidatedClosePosition:    func() Event { return &ValidatedClosePosition{} },
	EventTypePositionLiquidated:        func() Event { return &PositionLiquidated{} },
	EventTypeTickLiquidated:            func() Event { return &TickLiquidated{} },
	EventTypeLiquidatorRewarded:        func() Event { return &LiquidatorRewarded{} },
	EventTypeBadDebtCovered:            func() Event { return &BadDebtCovered{} },
	EventTypeFundingApplied:            func() Event { return &FundingApplied{} },
	EventTypeStalePendingActionRemoved: func() Event { return &StalePendingActionRemoved{} },
	EventTypeActionableValidated:       func() Event { return &ActionableValidated{} },
}

var byName = func() map[string]EventType {
	m := make(map[string]EventType, len(constructors))
	for et := range constructors {
		m[et.String()] = et
	}
	return m
}()

// ParseEventType maps a name produced by EventType.String back to its value.
func ParseEventType(name string) (EventType, bool) {
	et, ok := byName[name]
	return et, ok
}

// Decode rebuilds a typed event from its name and JSON payload, as stored
// in the event log or carried in an EventEnvelope.
func Decode(name string, payload []byte) (Event, error) {
	et, ok := ParseEventType(name)
	if !ok {
		return nil, fmt.Errorf("unknown event type %q", name)
	}
	evt := constructors[et]()
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return evt, nil
}
