package liveserver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"trade_engine/internal/core"
	"trade_engine/pkg/logging"
)

const clientBuffer = 256

// Client is one stream connection and the topic prefixes it listens to
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
	topics map[string]struct{}
}

// NewClient creates a client subscribed to the given topic prefixes. An
// empty prefix matches every topic.
func NewClient(id string, topics ...string) *Client {
	c := &Client{
		id:     id,
		send:   make(chan Message, clientBuffer),
		topics: make(map[string]struct{}),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// ID returns the client id
func (c *Client) ID() string { return c.id }

// Subscribe adds a topic prefix
func (c *Client) Subscribe(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[prefix] = struct{}{}
}

// Unsubscribe removes a topic prefix added earlier
func (c *Client) Unsubscribe(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, prefix)
}

// Topics returns the subscribed prefixes, sorted
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Accepts reports whether topic matches one of the client's prefixes
func (c *Client) Accepts(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for prefix := range c.topics {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

// Send queues msg without blocking. It returns false when the client is
// closed or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// GetSendChan returns the send channel for reading
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close closes the client
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub tracks stream clients and fans messages out to the ones whose
// subscriptions match
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu     sync.RWMutex
	logger core.ILogger
}

// NewHub creates a Hub. A nil logger discards output.
func NewHub(logger core.ILogger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.WithField("component", "stream_hub"),
	}
}

// Run processes registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client registered", "client_id", client.id, "total_clients", total)

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.Accepts(message.Topic) {
					targets = append(targets, client)
				}
			}
			h.mu.RUnlock()

			for _, client := range targets {
				if !client.Send(message) {
					// slow consumer
					streamDroppedTotal.Inc()
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Info("Client unregistered", "client_id", client.id, "total_clients", total)
	}
}

// Register adds client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client and closes it
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues msg for delivery and drops it when the queue is full
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		streamDroppedTotal.Inc()
		h.logger.Warn("Broadcast queue full, dropping message", "topic", msg.Topic)
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
