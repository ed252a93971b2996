// ABOUTME: Conversation index: cursor-paginated listing plus firehose-driven staleness detection.
// ABOUTME: Owns no message state; consumes the channel cache and poller for leave/mute actions.

package listing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/driftdeck/dmsync/internal/channel"
	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/firehose"
)

// Listing is the conversation list for one identity, newest activity first.
// A failed page fetch leaves previously-loaded rows intact.
type Listing struct {
	svc      chat.ConvoService
	poller   *firehose.Poller
	cache    *channel.Cache
	self     string
	pageSize int
	logger   *slog.Logger

	mu       sync.Mutex
	convos   []chat.Conversation
	cursor   string // forward pagination; empty once exhausted
	primed   bool
	priming  bool
	fetching bool
	hasNew   bool
	mounted  bool
	subID    string
}

// NewListing creates the listing. Pass nil logger for default.
func NewListing(svc chat.ConvoService, poller *firehose.Poller, cache *channel.Cache, self string, pageSize int, logger *slog.Logger) *Listing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listing{
		svc:      svc,
		poller:   poller,
		cache:    cache,
		self:     self,
		pageSize: pageSize,
		logger:   logger.With("component", "listing"),
	}
}

// Mount subscribes to listing-level firehose events and fetches the first
// page on first call. Idempotent.
func (l *Listing) Mount(ctx context.Context) error {
	l.mu.Lock()
	if !l.mounted {
		l.mounted = true
		l.subID = l.poller.SubscribeAll(l.handleEvent)
	}
	if l.primed || l.priming {
		l.mu.Unlock()
		return nil
	}
	l.priming = true
	l.mu.Unlock()

	page, err := l.svc.ListConversations(ctx, "", l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.priming = false
	if err != nil {
		return fmt.Errorf("fetching conversations: %w", err)
	}
	l.convos = append([]chat.Conversation(nil), page.Conversations...)
	l.cursor = page.Cursor
	l.primed = true
	return nil
}

// Destroy unsubscribes from the firehose. Loaded rows remain readable.
func (l *Listing) Destroy() {
	l.mu.Lock()
	mounted := l.mounted
	subID := l.subID
	l.mounted = false
	l.mu.Unlock()

	if mounted {
		l.poller.UnsubscribeAll(subID)
	}
}

// LoadMore fetches the next page when scrolled near the end. No-op while a
// fetch is in flight or once the listing is exhausted.
func (l *Listing) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.fetching || !l.primed || l.cursor == "" {
		l.mu.Unlock()
		return nil
	}
	l.fetching = true
	cursor := l.cursor
	l.mu.Unlock()

	page, err := l.svc.ListConversations(ctx, cursor, l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetching = false
	if err != nil {
		return fmt.Errorf("fetching conversation page: %w", err)
	}
	for _, convo := range page.Conversations {
		if l.indexOfLocked(convo.ID) >= 0 {
			continue
		}
		l.convos = append(l.convos, convo)
	}
	l.cursor = page.Cursor
	return nil
}

// Refresh refetches the first page, replacing the current rows and
// clearing HasNew. On failure the existing rows are untouched.
func (l *Listing) Refresh(ctx context.Context) error {
	l.mu.Lock()
	if l.fetching {
		l.mu.Unlock()
		return nil
	}
	l.fetching = true
	l.mu.Unlock()

	page, err := l.svc.ListConversations(ctx, "", l.pageSize)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetching = false
	if err != nil {
		return fmt.Errorf("refreshing conversations: %w", err)
	}
	l.convos = append([]chat.Conversation(nil), page.Conversations...)
	l.cursor = page.Cursor
	l.primed = true
	l.hasNew = false
	return nil
}

// Conversations returns a snapshot of the loaded rows, newest first.
func (l *Listing) Conversations() []chat.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]chat.Conversation(nil), l.convos...)
}

// Cursor returns the forward pagination token; empty when exhausted.
func (l *Listing) Cursor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Fetching reports whether a page fetch is in flight.
func (l *Listing) Fetching() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fetching
}

// HasNew reports that a firehose event referenced a conversation the
// listing has not loaded, i.e. the displayed list is stale.
func (l *Listing) HasNew() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasNew
}

// Mute mutes a conversation remotely and merges the flag locally.
func (l *Listing) Mute(ctx context.Context, convoID string) error {
	if err := l.svc.MuteConversation(ctx, convoID); err != nil {
		return fmt.Errorf("muting conversation: %w", err)
	}
	l.setMuted(convoID, true)
	return nil
}

// Unmute unmutes a conversation remotely and merges the flag locally.
func (l *Listing) Unmute(ctx context.Context, convoID string) error {
	if err := l.svc.UnmuteConversation(ctx, convoID); err != nil {
		return fmt.Errorf("unmuting conversation: %w", err)
	}
	l.setMuted(convoID, false)
	return nil
}

func (l *Listing) setMuted(convoID string, muted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i := l.indexOfLocked(convoID); i >= 0 {
		l.convos[i].Muted = muted
	}
}

// Leave leaves a conversation: the remote membership is dropped, the
// channel is evicted from the cache, the row is removed, and the poller is
// kicked so the next event batch reflects the departure immediately.
func (l *Listing) Leave(ctx context.Context, convoID string) error {
	if err := l.svc.LeaveConversation(ctx, convoID); err != nil {
		return fmt.Errorf("leaving conversation: %w", err)
	}

	l.cache.Delete(convoID)

	l.mu.Lock()
	if i := l.indexOfLocked(convoID); i >= 0 {
		l.convos = append(l.convos[:i], l.convos[i+1:]...)
	}
	l.mu.Unlock()

	l.poller.Poll()
	l.logger.Info("left conversation", "convo_id", convoID)
	return nil
}

// handleEvent merges one firehose event into the loaded rows. Events for
// conversations the listing does not know mark it stale instead.
func (l *Listing) handleEvent(ev chat.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Type {
	case chat.EventNewMessage:
		if ev.Message == nil {
			return
		}
		i := l.indexOfLocked(ev.ConvoID)
		if i < 0 {
			l.hasNew = true
			return
		}
		last := *ev.Message
		l.convos[i].LastMessage = &last
		if ev.Message.Sender != l.self {
			l.convos[i].Unread = true
		}
		// Newest activity moves to the top.
		convo := l.convos[i]
		l.convos = append(l.convos[:i], l.convos[i+1:]...)
		l.convos = append([]chat.Conversation{convo}, l.convos...)

	case chat.EventConversationUpdated:
		if ev.Convo == nil {
			return
		}
		i := l.indexOfLocked(ev.ConvoID)
		if i < 0 {
			l.hasNew = true
			return
		}
		l.convos[i] = *ev.Convo

	case chat.EventDeletedMessage:
		// The last-message preview may go stale until the next
		// conversationUpdated; the listing does not track full logs.
	}
}

// indexOfLocked finds a loaded row by conversation id, or -1. Must be
// called with mu held.
func (l *Listing) indexOfLocked(convoID string) int {
	for i := range l.convos {
		if l.convos[i].ID == convoID {
			return i
		}
	}
	return -1
}
