// Package sse streams directory change events to admin dashboards over
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types emitted by the broker.
const (
	TypeServerCreated = "server.created"
	TypeServerUpdated = "server.updated"
	TypeServerDeleted = "server.deleted"
	TypeIndexRebuilt  = "index.rebuilt"
	TypeFacetsUpdated = "facets.updated"
)

var serverEventTypes = map[string]string{
	"created": TypeServerCreated,
	"updated": TypeServerUpdated,
	"deleted": TypeServerDeleted,
}

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type change struct {
	kind string
	id   string
}

// Broker fans events out to subscribed clients. One goroutine owns the client
// set and the facets throttle; public methods talk to it over channels.
type Broker struct {
	facetsMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan change
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. facets.updated is sent at most once per
// facetsThrottle.
func NewBroker(facetsThrottle time.Duration) *Broker {
	if facetsThrottle <= 0 {
		facetsThrottle = 2 * time.Second
	}
	b := &Broker{
		facetsMin:     facetsThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan change, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.loop()
	return b
}

func encode(e Event) ([]byte, bool) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, false
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", e.Type, payload)), true
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var lastFacets time.Time

	send := func(e Event) {
		raw, ok := encode(e)
		if !ok {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// slow client, drop
			}
		}
	}
	facets := func() {
		now := time.Now()
		if now.Sub(lastFacets) < b.facetsMin {
			return
		}
		lastFacets = now
		send(Event{Type: TypeFacetsUpdated, Data: map[string]string{}})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return
		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}
		case e := <-b.publishCh:
			send(e)
			if e.Type == TypeIndexRebuilt {
				facets()
			}
		case c := <-b.changeCh:
			typ, ok := serverEventTypes[c.kind]
			if !ok {
				continue
			}
			send(Event{Type: typ, Data: map[string]string{"id": c.id}})
			facets()
		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The returned channel is closed on
// Unsubscribe or Close.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts e as is.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// PublishServerEvent broadcasts a server change ("created", "updated" or
// "deleted") followed by a throttled facets.updated.
func (b *Broker) PublishServerEvent(kind, id string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- change{kind: kind, id: id}:
	case <-b.stopped:
	}
}

// PublishIndexRebuilt broadcasts the document count of a finished rebuild.
func (b *Broker) PublishIndexRebuilt(count int) {
	b.Publish(Event{Type: TypeIndexRebuilt, Data: map[string]int{"documents": count}})
}

// ServeHTTP streams events to one client until it disconnects.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
