package ws

import "sync"

// FeedAll is the stream key for the global event feed. Clients subscribed to
// it receive every environment's events.
const FeedAll = "all"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages event stream subscriptions by environment ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
}

// message couples payload with its environment stream.
type message struct {
	environmentID string
	payload       []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	environmentID string
	client        Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			for _, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
			}
			h.clients = make(map[string]map[Subscriber]struct{})
			return
		case sub := <-h.register:
			if _, ok := h.clients[sub.environmentID]; !ok {
				h.clients[sub.environmentID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.environmentID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.environmentID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.environmentID)
				}
			}
		case msg := <-h.broadcast:
			h.deliver(msg.environmentID, msg.payload)
			if msg.environmentID != FeedAll {
				h.deliver(FeedAll, msg.payload)
			}
		}
	}
}

func (h *Hub) deliver(stream string, payload []byte) {
	clients, ok := h.clients[stream]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, stream)
	}
}

// Register adds a client to an environment stream. Use FeedAll for the
// global feed.
func (h *Hub) Register(environmentID string, client Subscriber) {
	select {
	case h.register <- subscription{environmentID: environmentID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(environmentID string, client Subscriber) {
	select {
	case h.unreg <- subscription{environmentID: environmentID, client: client}:
	case <-h.done:
	}
}

// Broadcast sends payload to the environment's subscribers and the global
// feed. An empty environment ID goes to the global feed only.
func (h *Hub) Broadcast(environmentID string, payload []byte) {
	if environmentID == "" {
		environmentID = FeedAll
	}
	select {
	case h.broadcast <- message{environmentID: environmentID, payload: payload}:
	case <-h.done:
	}
}

// Shutdown closes every connected client and stops the hub loop.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}
