// Package realtime fans order invalidations out to connected clients.
package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"git.sr.ht/~jakintosh/orden/internal/domain"
	"git.sr.ht/~jakintosh/orden/internal/metrics"
)

const (
	TipoOrden = "orden"
	TipoItem  = "item"
	TipoLead  = "lead"
	TipoHello = "hello"
)

const defaultSubscriberBuffer = 64

var ErrHubClosed = errors.New("realtime: hub closed")

// Event tells subscribers that something they show has changed and should be
// fetched again. It never carries the new order itself.
type Event struct {
	Topic     string `json:"-"`
	Tipo      string `json:"tipo"`
	Coleccion string `json:"coleccion,omitempty"`
	OwnerID   string `json:"ownerId,omitempty"`
	CrmID     string `json:"crmId,omitempty"`
	ID        string `json:"id,omitempty"`
}

func ListTopic(col domain.Coleccion, ownerID string) string {
	return "coleccion:" + string(col) + "/" + ownerID
}

func BoardTopic(crmID string) string {
	return "crm:" + crmID
}

// ListEvent builds an event for the list room of col/ownerID.
func ListEvent(tipo string, col domain.Coleccion, ownerID string, id string) Event {
	return Event{
		Topic:     ListTopic(col, ownerID),
		Tipo:      tipo,
		Coleccion: string(col),
		OwnerID:   ownerID,
		ID:        id,
	}
}

func BoardEvent(tipo string, crmID string, id string) Event {
	return Event{
		Topic: BoardTopic(crmID),
		Tipo:  tipo,
		CrmID: crmID,
		ID:    id,
	}
}

type subscriber struct {
	ctx    context.Context
	topics map[string]struct{}
	ch     chan Event
	closed atomic.Bool
}

// Hub is an in-process pub/sub keyed by topic. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	closed      atomic.Bool
	buffer      int
	done        chan struct{}
	monitors    sync.WaitGroup
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		buffer:      defaultSubscriberBuffer,
		done:        make(chan struct{}),
	}
}

// Subscribe returns a channel receiving events for any of topics. The channel
// closes when ctx is done or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, topics ...string) (<-chan Event, error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}

	sub := &subscriber{
		ctx:    ctx,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Event, h.buffer),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subscribers[sub] = struct{}{}
	h.monitors.Add(1)
	h.mu.Unlock()
	metrics.HubSubscribers.Inc()

	go h.monitorContext(sub)

	return sub.ch, nil
}

func (h *Hub) Publish(evt Event) {
	if h.closed.Load() {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if sub.closed.Load() {
			continue
		}
		if _, ok := sub.topics[evt.Topic]; !ok {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			metrics.HubDropped.Inc()
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription and returns once their watchers have exited.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	for sub := range h.subscribers {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
			metrics.HubSubscribers.Dec()
		}
	}
	h.subscribers = nil
	close(h.done)
	h.mu.Unlock()

	h.monitors.Wait()
}

func (h *Hub) monitorContext(sub *subscriber) {
	defer h.monitors.Done()
	select {
	case <-sub.ctx.Done():
		h.removeSubscriber(sub)
	case <-h.done:
	}
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers == nil {
		return
	}
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	if sub.closed.CompareAndSwap(false, true) {
		close(sub.ch)
		metrics.HubSubscribers.Dec()
	}
}
