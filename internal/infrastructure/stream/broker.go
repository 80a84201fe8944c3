// Package stream fans progress events out to live subscribers (SSE clients).
package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
)

const (
	DefaultClientBufferSize = 64
	DefaultMaxClients       = 100
)

// Broker delivers events best-effort: a subscriber whose buffer is full
// misses the event instead of slowing the pipeline down.
type Broker struct {
	logger     *slog.Logger
	bufferSize int
	maxClients int

	mu      sync.RWMutex
	clients map[string]*client
}

type client struct {
	id        string
	keywordID int64
	events    chan domain.Event
	once      sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.events) })
}

var _ ports.ProgressSink = (*Broker)(nil)

// NewBroker builds a broker; zero sizes select the defaults.
func NewBroker(logger *slog.Logger, bufferSize, maxClients int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultClientBufferSize
	}
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broker{
		logger:     logger,
		bufferSize: bufferSize,
		maxClients: maxClients,
		clients:    make(map[string]*client),
	}
}

// Publish sends an event to every matching subscriber without blocking.
func (b *Broker) Publish(_ context.Context, event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for _, c := range b.clients {
		if c.keywordID != 0 && c.keywordID != event.KeywordID {
			continue
		}
		select {
		case c.events <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.logger.Debug("dropped event for slow clients", "type", event.Type, "dropped", dropped)
	}
	return nil
}

// Subscribe registers a client; keywordID 0 receives every keyword. The
// returned channel closes when ctx ends or cleanup runs. When the broker is
// full the channel is returned already closed.
func (b *Broker) Subscribe(ctx context.Context, keywordID int64) (events <-chan domain.Event, cleanup func()) {
	b.mu.Lock()
	if len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		b.logger.Warn("max stream clients reached, rejecting subscription", "max_clients", b.maxClients)
		closed := make(chan domain.Event)
		close(closed)
		return closed, func() {}
	}
	c := &client{id: uuid.NewString(), keywordID: keywordID, events: make(chan domain.Event, b.bufferSize)}
	b.clients[c.id] = c
	b.mu.Unlock()

	b.logger.Debug("client subscribed", "client_id", c.id, "keyword", keywordID)

	stop := context.AfterFunc(ctx, func() { b.remove(c.id) })
	cleanup = func() {
		stop()
		b.remove(c.id)
	}
	return c.events, cleanup
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		c.close()
		delete(b.clients, id)
	}
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[id]; ok {
		c.close()
		delete(b.clients, id)
	}
}
