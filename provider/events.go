package provider

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// Event is one provider lifecycle event. The set of variants is closed;
// consumers switch on the concrete type.
type Event interface {
	event()
}

// Connected reports that the provider reached its backend.
type Connected struct {
	ChainID string
}

// AccountsChanged reports a change in the exposed account list.
type AccountsChanged struct {
	Accounts []string
}

// Message carries subscription data pushed by the backend.
type Message struct {
	Subscription json.RawMessage
}

// Close reports that the provider released its backend connection, or that
// a connect attempt failed and any "connecting" UI state should be dropped.
type Close struct{}

func (Connected) event()       {}
func (AccountsChanged) event() {}
func (Message) event()         {}
func (Close) event()           {}

const eventBuffer = 16

// emitter fans events out to any number of subscribers. A slow subscriber
// drops events rather than blocking the emitting path.
type emitter struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
	log  zerolog.Logger
}

func newEmitter(log zerolog.Logger) *emitter {
	return &emitter{subs: make(map[int]chan Event), log: log}
}

func (e *emitter) subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	ch := make(chan Event, eventBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn().Type("event", ev).Msg("dropping event for slow subscriber")
		}
	}
}
