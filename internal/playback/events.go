package playback

import "github.com/loqalabs/loqa-narrate/internal/protocol"

// EventSink receives narration events. Emit is called with the controller
// lock held and must not block or call back into the controller.
type EventSink interface {
	Emit(evt protocol.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(evt protocol.Event)

func (f EventSinkFunc) Emit(evt protocol.Event) { f(evt) }

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(evt protocol.Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(evt)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(protocol.Event) {}
