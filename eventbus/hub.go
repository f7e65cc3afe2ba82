package eventbus

import (
	"sync"
	"sync/atomic"

	"perfmonitor/models"

	"code.cloudfoundry.org/lager/v3"
)

type EventType string

const (
	EventMetrics EventType = "metrics"
	EventAlert   EventType = "alert"
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventError   EventType = "error"
)

type Event struct {
	Type     EventType
	Snapshot *models.MetricSnapshot
	Alert    *models.Alert
	Err      error
}

// Hub fans events out to subscribers over buffered channels. Publish never
// blocks: an event for a subscriber whose buffer is full is dropped, so one
// slow consumer cannot stall the sampling loop.
type Hub struct {
	logger lager.Logger

	lock        sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	dropped     uint64
}

func NewHub(logger lager.Logger) *Hub {
	return &Hub{
		logger:      logger.Session("event-hub"),
		subscribers: map[int]chan Event{},
	}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus an unsubscribe func. Unsubscribing closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	h.lock.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, buffer)
	h.subscribers[id] = ch
	h.lock.Unlock()

	unsubscribe := func() {
		h.lock.Lock()
		defer h.lock.Unlock()
		if sub, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(event Event) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			atomic.AddUint64(&h.dropped, 1)
			h.logger.Debug("subscriber-buffer-full-dropping-event", lager.Data{"subscriber": id, "eventType": string(event.Type)})
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.subscribers)
}

// DroppedCount reports how many events were dropped on full buffers.
func (h *Hub) DroppedCount() uint64 {
	return atomic.LoadUint64(&h.dropped)
}
