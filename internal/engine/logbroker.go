package engine

import (
	"sync"

	"github.com/seantiz/gantry/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind; the persisted
// history is always complete.
const subscriberBufferSize = 64

// EventBroker fans out run events to live subscribers. It is safe for
// concurrent use.
//
// Closed topics are kept as markers so that a subscriber arriving after a
// run has finished gets a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.TaskEvent
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

func (b *EventBroker) topic(runID string) *eventTopic {
	t, ok := b.topics[runID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.TaskEvent)}
		b.topics[runID] = t
	}
	return t
}

// Subscribe returns a channel of events for the run and an unsubscribe
// function. The channel is closed when the run finishes.
func (b *EventBroker) Subscribe(runID string) (<-chan model.TaskEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	ch := make(chan model.TaskEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its run.
func (b *EventBroker) Publish(ev model.TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.RunID]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close marks the run finished and closes every subscriber channel.
func (b *EventBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
