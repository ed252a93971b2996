// ABOUTME: Bounded LRU cache of live Channel instances, keyed by conversation id.
// ABOUTME: Sole authority for Channel lifetime; eviction always releases the firehose subscription.

package channel

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/firehose"
)

// Cache keeps a small number of recently-viewed conversations warm. When
// capacity is exceeded the least-recently-used Channel is torn down, which
// unsubscribes it from the firehose — eviction never leaves a dangling
// subscription.
type Cache struct {
	svc      chat.ConvoService
	poller   *firehose.Poller
	self     string
	capacity int
	pageSize int
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[string]*cacheEntry
	order    *list.List // conversation ids, least recently used at front
}

type cacheEntry struct {
	ch   *Channel
	elem *list.Element
}

// NewCache creates a cache for one identity's channels. Pass nil logger for
// default.
func NewCache(svc chat.ConvoService, poller *firehose.Poller, self string, capacity, pageSize int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		svc:      svc,
		poller:   poller,
		self:     self,
		capacity: capacity,
		pageSize: pageSize,
		logger:   logger.With("component", "channel_cache"),
		channels: make(map[string]*cacheEntry),
		order:    list.New(),
	}
}

// Get returns the Channel for a conversation, creating it on first access,
// and marks it most-recently-used. Creating the N+1th distinct channel
// evicts the least-recently-used one.
func (c *Cache) Get(convoID string) *Channel {
	c.mu.Lock()
	if e, ok := c.channels[convoID]; ok {
		c.order.MoveToBack(e.elem)
		ch := e.ch
		c.mu.Unlock()
		return ch
	}

	ch := newChannel(c.svc, c.poller, convoID, c.self, c.pageSize, c.logger)
	elem := c.order.PushBack(convoID)
	c.channels[convoID] = &cacheEntry{ch: ch, elem: elem}

	var evicted *Channel
	if len(c.channels) > c.capacity {
		evicted = c.evictOldestLocked()
	}
	c.mu.Unlock()

	// Teardown happens outside the lock: destroy re-enters the poller.
	if evicted != nil {
		evicted.destroy()
		c.logger.Debug("channel evicted", "convo_id", evicted.ConvoID())
	}
	return ch
}

// evictOldestLocked removes the least-recently-used entry and returns its
// channel for teardown. Must be called with mu held.
func (c *Cache) evictOldestLocked() *Channel {
	front := c.order.Front()
	if front == nil {
		return nil
	}
	convoID := front.Value.(string)
	e := c.channels[convoID]
	c.order.Remove(front)
	delete(c.channels, convoID)
	return e.ch
}

// Delete explicitly evicts a conversation (used when it is left) and tears
// its channel down.
func (c *Cache) Delete(convoID string) {
	c.mu.Lock()
	e, ok := c.channels[convoID]
	if ok {
		c.order.Remove(e.elem)
		delete(c.channels, convoID)
	}
	c.mu.Unlock()

	if ok {
		e.ch.destroy()
		c.logger.Debug("channel deleted", "convo_id", convoID)
	}
}

// Contains reports whether a conversation is currently cached, without
// touching its recency.
func (c *Cache) Contains(convoID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[convoID]
	return ok
}

// Len returns the number of live channels.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// Close tears down every cached channel. Called on session teardown.
func (c *Cache) Close() {
	c.mu.Lock()
	evicted := make([]*Channel, 0, len(c.channels))
	for id, e := range c.channels {
		evicted = append(evicted, e.ch)
		delete(c.channels, id)
	}
	c.order.Init()
	c.mu.Unlock()

	for _, ch := range evicted {
		ch.destroy()
	}
}
