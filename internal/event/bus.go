package event

import (
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/agentmesh/coordinator/internal/logging"
)

// Handler observes one published Event.
type Handler func(Event)

// subscription pairs a Handler with the event type it was registered
// against, so Unsubscribe can find it again by id.
type subscription struct {
	id        string
	eventType string
	handler   Handler
}

// Bus is the coordinator's in-process, synchronous pub-sub dispatcher.
// Every component publishes the typed events of §4.6 through one shared
// Bus rather than holding direct references to its observers; events are
// never persisted (per §9, "Global state").
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string][]subscription // eventType -> subscriptions
	nextID        atomic.Uint64
	log           *logging.Logger
}

// NewBus builds a Bus with no subscribers. log is used to report a
// handler panic without taking down the coordinator's tick; a nil log
// discards those reports.
func NewBus(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Bus{
		subscriptions: make(map[string][]subscription),
		log:           log.WithComponent("eventbus"),
	}
}

// Subscribe registers handler for eventType, returning a subscription id
// usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubscriptionID()
	b.subscriptions[eventType] = append(b.subscriptions[eventType], subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
	})
	return id
}

// SubscribeAll registers handler against every event type published.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by id, reporting whether it was
// found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.id == id {
				b.subscriptions[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches event to every handler subscribed to its event type,
// then to every wildcard handler, in registration order within each
// group. A handler that panics is recovered and logged; publishing
// continues to the remaining handlers, so one bad observer cannot corrupt
// a broker tick.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	eventType := event.EventType()

	specific := append([]subscription(nil), b.subscriptions[eventType]...)
	wildcard := append([]subscription(nil), b.subscriptions["*"]...)
	b.mu.RUnlock()

	for _, sub := range specific {
		b.safeCall(sub.handler, event)
	}
	for _, sub := range wildcard {
		b.safeCall(sub.handler, event)
	}
}

// safeCall invokes handler, recovering and logging any panic so the
// broker's tick pipeline is never brought down by a misbehaving observer.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "event_type", event.EventType(), "panic", r, "stack", string(debug.Stack()))
		}
	}()
	handler(event)
}

// nextSubscriptionID returns a short, process-unique subscription id.
// Uniqueness only needs to hold within one Bus's lifetime, so a plain
// monotonic counter is enough; nothing here needs to survive a restart.
func (b *Bus) nextSubscriptionID() string {
	return "sub-" + strconv.FormatUint(b.nextID.Add(1), 10)
}

// Clear removes every subscription. Used by tests that want a clean Bus
// without constructing a new one.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions,
// across every event type and the wildcard group.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}
