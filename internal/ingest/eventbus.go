package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snarg/meeting-copilot/internal/api"
	"github.com/snarg/meeting-copilot/internal/metrics"
)

// Event kinds published on the bus besides the orchestrator's own.
const (
	EventUtterance = "utterance"
)

// EventBus provides pub-sub event distribution for SSE subscribers.
// It maintains a ring buffer for replay on reconnect.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64

	ring     []api.SSEEvent
	ringSize int
	ringHead int
	ringMu   sync.RWMutex

	now func() time.Time
}

type subscriber struct {
	ch     chan api.SSEEvent
	filter api.EventFilter
}

// NewEventBus creates an event bus with the given ring buffer size.
func NewEventBus(ringSize int) *EventBus {
	if ringSize <= 0 {
		ringSize = 256
	}
	return &EventBus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]api.SSEEvent, ringSize),
		ringSize:    ringSize,
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber and returns a channel and cancel function.
func (eb *EventBus) Subscribe(filter api.EventFilter) (<-chan api.SSEEvent, func()) {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	ch := make(chan api.SSEEvent, 64)
	eb.subscribers[id] = subscriber{ch: ch, filter: filter}
	eb.mu.Unlock()

	cancel := func() {
		eb.mu.Lock()
		delete(eb.subscribers, id)
		eb.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of connected subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// ReplaySince returns buffered events since the given event ID. When the ID
// has already left the ring, everything still buffered is returned.
func (eb *EventBus) ReplaySince(lastEventID string, filter api.EventFilter) []api.SSEEvent {
	eb.ringMu.RLock()
	defer eb.ringMu.RUnlock()

	var buffered []api.SSEEvent
	start := 0
	for i := 0; i < eb.ringSize; i++ {
		e := eb.ring[(eb.ringHead+i)%eb.ringSize]
		if e.ID == "" {
			continue
		}
		buffered = append(buffered, e)
		if e.ID == lastEventID {
			start = len(buffered)
		}
	}

	var events []api.SSEEvent
	for _, e := range buffered[start:] {
		if matchesFilter(e, filter) {
			events = append(events, e)
		}
	}
	return events
}

// Publish serializes payload, adds the event to the ring buffer and sends it
// to all matching subscribers. Slow subscribers miss events rather than block.
func (eb *EventBus) Publish(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	now := eb.now()
	seq := eb.seq.Add(1)
	event := api.SSEEvent{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Type:      kind,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}

	eb.ringMu.Lock()
	eb.ring[eb.ringHead] = event
	eb.ringHead = (eb.ringHead + 1) % eb.ringSize
	eb.ringMu.Unlock()

	eb.mu.RLock()
	for _, sub := range eb.subscribers {
		if matchesFilter(event, sub.filter) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
	eb.mu.RUnlock()

	metrics.SSEEventsPublishedTotal.Inc()
}

func matchesFilter(e api.SSEEvent, f api.EventFilter) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if strings.TrimSpace(t) == e.Type {
			return true
		}
	}
	return false
}
