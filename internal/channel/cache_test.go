// ABOUTME: Tests for the bounded LRU channel cache.
// ABOUTME: Validates creation, recency order, eviction exactness, and subscription teardown.

package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/firehose"
)

func newTestCache(svc chat.ConvoService, capacity int) (*Cache, *firehose.Poller) {
	poller := firehose.NewPoller(svc, time.Hour, nil)
	return NewCache(svc, poller, testSelf, capacity, testPageSize, slogDiscard()), poller
}

func seedConvos(svc *chat.MockService, ids ...string) {
	for _, id := range ids {
		svc.SeedConversation(chat.Conversation{ID: id})
	}
}

func TestCache_GetCreatesOnce(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a")
	cache, _ := newTestCache(svc, 3)

	first := cache.Get("a")
	second := cache.Get("a")
	assert.Same(t, first, second, "repeat Get returns the cached channel")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_GetIdempotentSubscription(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a")
	cache, poller := newTestCache(svc, 3)

	require.NoError(t, cache.Get("a").Mount(context.Background()))
	require.NoError(t, cache.Get("a").Mount(context.Background()))

	assert.Equal(t, 1, poller.SubscriberCount("a"), "cached channel is never re-subscribed")
	assert.Equal(t, 1, svc.CallCount("ListMessages"))
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a", "b", "c")
	cache, _ := newTestCache(svc, 2)

	chA := cache.Get("a")
	cache.Get("b")

	// Touch "a" so "b" becomes the eviction candidate.
	got := cache.Get("a")
	assert.Same(t, chA, got)

	cache.Get("c")

	assert.Equal(t, 2, cache.Len())
	assert.True(t, cache.Contains("a"))
	assert.False(t, cache.Contains("b"), "least-recently-used channel evicted")
	assert.True(t, cache.Contains("c"))
}

func TestCache_EvictionUnsubscribes(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a", "b", "c")
	cache, poller := newTestCache(svc, 2)

	chA := cache.Get("a")
	require.NoError(t, chA.Mount(context.Background()))
	require.NoError(t, cache.Get("b").Mount(context.Background()))
	require.Equal(t, 1, poller.SubscriberCount("a"))

	cache.Get("b") // "a" becomes least recently used
	cache.Get("c")

	assert.False(t, cache.Contains("a"))
	assert.Equal(t, 0, poller.SubscriberCount("a"), "eviction releases the firehose subscription")

	// Events for the evicted conversation no longer reach the channel.
	before := len(chA.Messages())
	msg := svc.Deliver("a", chat.Message{Sender: "did:alice", Text: "after eviction"})
	chA.handleEvent(chat.Event{Type: chat.EventNewMessage, ConvoID: "a", Message: &msg})
	assert.Len(t, chA.Messages(), before, "destroyed channel ignores stale events")
}

func TestCache_GetAfterEvictionRecreates(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a", "b", "c")
	cache, _ := newTestCache(svc, 2)

	first := cache.Get("a")
	cache.Get("b")
	cache.Get("c") // evicts "a"

	recreated := cache.Get("a")
	assert.NotSame(t, first, recreated, "evicted conversations are rebuilt fresh")
}

func TestCache_DeleteUnsubscribes(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a")
	cache, poller := newTestCache(svc, 2)

	require.NoError(t, cache.Get("a").Mount(context.Background()))
	require.Equal(t, 1, poller.SubscriberCount("a"))

	cache.Delete("a")
	assert.False(t, cache.Contains("a"))
	assert.Equal(t, 0, poller.SubscriberCount("a"))

	// Deleting an absent id is harmless.
	cache.Delete("a")
}

func TestCache_CloseTearsDownAll(t *testing.T) {
	svc := chat.NewMockService()
	seedConvos(svc, "a", "b")
	cache, poller := newTestCache(svc, 4)

	require.NoError(t, cache.Get("a").Mount(context.Background()))
	require.NoError(t, cache.Get("b").Mount(context.Background()))

	cache.Close()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, 0, poller.SubscriberCount("a"))
	assert.Equal(t, 0, poller.SubscriberCount("b"))
}
