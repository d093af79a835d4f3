package event

// Sink receives events in emission order. Implementations must not call back
// into the engine.
type Sink interface {
	Emit(evt Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(evt Event) {
	for _, s := range m {
		s.Emit(evt)
	}
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(evt Event) { f(evt) }
