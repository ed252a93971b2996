// ABOUTME: Channel owns one conversation's ordered message log and its mutation state.
// ABOUTME: Reconciles initial fetch, backward pagination, firehose events, and optimistic sends.

package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/firehose"
)

// ErrDestroyed indicates the channel was evicted or left while the caller
// still held a reference.
var ErrDestroyed = errors.New("channel destroyed")

// ErrNotPending indicates a retry/remove on a message that is no longer a
// pending entry in the log.
var ErrNotPending = errors.New("message is not pending")

// item is one slot in the message log. A non-empty localID marks an
// optimistic send that the server has not committed yet; such items always
// sit at the tail of the log.
type item struct {
	msg     chat.Message
	localID string
	failure *Failure
}

func (it *item) pending() bool {
	return it.localID != ""
}

// Failure is attached to a pending message whose send failed. It stays on
// the entry, at its original position, until the user retries or removes it.
type Failure struct {
	Err error

	ch      *Channel
	localID string
	draft   chat.Draft
}

// Retry re-attempts the failed send. The failure marker is cleared for the
// renewed attempt and re-set if the send fails again. The entry is never
// duplicated.
func (f *Failure) Retry(ctx context.Context) error {
	f.ch.mu.Lock()
	i := f.ch.indexOfLocalLocked(f.localID)
	if i < 0 {
		f.ch.mu.Unlock()
		return ErrNotPending
	}
	f.ch.items[i].failure = nil
	f.ch.mu.Unlock()
	return f.ch.attemptSend(ctx, f.localID, f.draft)
}

// Remove drops the pending entry locally. The message was never committed,
// so the server is not contacted.
func (f *Failure) Remove() {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	if i := f.ch.indexOfLocalLocked(f.localID); i >= 0 {
		f.ch.items = append(f.ch.items[:i], f.ch.items[i+1:]...)
	}
}

// Channel is the live view of one conversation. Construction and teardown
// go through the Cache; nothing else owns a Channel's lifetime.
type Channel struct {
	svc      chat.ConvoService
	poller   *firehose.Poller
	convoID  string
	self     string
	pageSize int
	logger   *slog.Logger

	mu        sync.Mutex
	convo     *chat.Conversation
	items     []item
	oldestRev string // pagination cursor; empty once history is exhausted
	primed    bool   // initial page applied
	priming   bool
	fetching  bool
	mounted   bool
	subID     string
	destroyed bool
}

// newChannel is called by the Cache only.
func newChannel(svc chat.ConvoService, poller *firehose.Poller, convoID, self string, pageSize int, logger *slog.Logger) *Channel {
	return &Channel{
		svc:      svc,
		poller:   poller,
		convoID:  convoID,
		self:     self,
		pageSize: pageSize,
		logger:   logger.With("component", "channel", "convo_id", convoID),
	}
}

// ConvoID returns the conversation id this channel tracks.
func (c *Channel) ConvoID() string {
	return c.convoID
}

// Mount subscribes the channel to firehose dispatch and, on first call,
// fetches the conversation metadata and the most recent message page.
// Idempotent: repeat calls neither re-subscribe nor re-fetch.
func (c *Channel) Mount(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if !c.mounted {
		c.mounted = true
		c.subID = c.poller.Subscribe(c.convoID, c.handleEvent)
	}
	if c.primed || c.priming {
		c.mu.Unlock()
		return nil
	}
	c.priming = true
	c.mu.Unlock()

	convo, err := c.svc.GetConversation(ctx, c.convoID)
	if err != nil {
		c.clearPriming()
		return fmt.Errorf("fetching conversation: %w", err)
	}
	page, err := c.svc.ListMessages(ctx, c.convoID, "", c.pageSize)
	if err != nil {
		c.clearPriming()
		return fmt.Errorf("fetching initial page: %w", err)
	}

	c.mu.Lock()
	c.priming = false
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	snapshot := *convo
	c.convo = &snapshot

	// The page is newest-first; the log is oldest-first. Anything the
	// firehose appended (or the user sent) while the fetch was in flight
	// is re-applied on top of the page.
	inflight := c.items
	c.items = make([]item, 0, len(page.Messages)+len(inflight))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		c.items = append(c.items, item{msg: page.Messages[i]})
	}
	for i := range inflight {
		it := inflight[i]
		if !it.pending() && c.indexOfIDLocked(it.msg.ID) >= 0 {
			continue
		}
		c.items = append(c.items, it)
	}
	c.oldestRev = page.Cursor
	c.primed = true
	wasUnread := snapshot.Unread
	c.mu.Unlock()

	// Opening a conversation that had unread messages advances the read
	// cursor right away. Best effort: a failure here leaves the flag set.
	if wasUnread {
		if err := c.MarkRead(ctx); err != nil {
			c.logger.Warn("mark read on mount failed", "error", err)
		}
	}
	return nil
}

func (c *Channel) clearPriming() {
	c.mu.Lock()
	c.priming = false
	c.mu.Unlock()
}

// LoadOlder fetches the next older page and prepends it. At most one
// backward fetch is in flight at a time; calls while Fetching() or after
// history is exhausted are no-ops.
func (c *Channel) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed || c.fetching || !c.primed || c.oldestRev == "" {
		c.mu.Unlock()
		return nil
	}
	c.fetching = true
	cursor := c.oldestRev
	c.mu.Unlock()

	page, err := c.svc.ListMessages(ctx, c.convoID, cursor, c.pageSize)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetching = false
	if c.destroyed {
		return nil
	}
	if err != nil {
		// Loaded pages stay intact; the caller may retry.
		return fmt.Errorf("loading older page: %w", err)
	}

	older := make([]item, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg := page.Messages[i]
		if c.indexOfIDLocked(msg.ID) >= 0 {
			continue
		}
		older = append(older, item{msg: msg})
	}
	c.items = append(older, c.items...)
	c.oldestRev = page.Cursor
	return nil
}

// Send appends an optimistic pending entry at the tail of the log, then
// issues the network send. On success the pending entry is replaced in
// place by the committed message; on failure it stays put with a Failure
// marker carrying Retry and Remove.
func (c *Channel) Send(ctx context.Context, draft chat.Draft) error {
	localID := uuid.New().String()

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.items = append(c.items, item{
		msg: chat.Message{
			Sender: c.self,
			Text:   draft.Text,
			Facets: draft.Facets,
			SentAt: time.Now(),
		},
		localID: localID,
	})
	c.mu.Unlock()

	return c.attemptSend(ctx, localID, draft)
}

// attemptSend performs the network send for a pending entry and reconciles
// the result. The entry is matched by its local correlation id, never by
// content, so duplicate text is unambiguous.
func (c *Channel) attemptSend(ctx context.Context, localID string, draft chat.Draft) error {
	committed, err := c.svc.SendMessage(ctx, c.convoID, draft)

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOfLocalLocked(localID)
	if i < 0 {
		// The entry was removed (or the channel torn down) while the send
		// was in flight. Never resurrect it.
		if err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
		return nil
	}

	if err != nil {
		c.items[i].failure = &Failure{Err: err, ch: c, localID: localID, draft: draft}
		c.logger.Warn("send failed", "error", err)
		return fmt.Errorf("sending message: %w", err)
	}

	if c.indexOfIDLocked(committed.ID) >= 0 {
		// The firehose echoed the committed copy before the send call
		// returned. Drop the pending duplicate.
		c.items = append(c.items[:i], c.items[i+1:]...)
		return nil
	}
	c.items[i] = item{msg: *committed}
	return nil
}

// Delete removes a committed message on the server, then locally. A remote
// failure is returned without touching the local log.
func (c *Channel) Delete(ctx context.Context, messageID string) error {
	if err := c.svc.DeleteMessage(ctx, c.convoID, messageID); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeByIDLocked(messageID)
	return nil
}

// MarkRead advances the server-side read cursor to the newest committed
// message. No-op when no committed message is known yet.
func (c *Channel) MarkRead(ctx context.Context) error {
	c.mu.Lock()
	var latest string
	for i := len(c.items) - 1; i >= 0; i-- {
		if !c.items[i].pending() {
			latest = c.items[i].msg.ID
			break
		}
	}
	c.mu.Unlock()

	if latest == "" {
		return nil
	}
	if err := c.svc.MarkRead(ctx, c.convoID, latest); err != nil {
		return fmt.Errorf("marking read: %w", err)
	}

	c.mu.Lock()
	if c.convo != nil {
		c.convo.Unread = false
	}
	c.mu.Unlock()
	return nil
}

// Fetching reports whether a backward page fetch is in flight.
func (c *Channel) Fetching() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetching
}

// OldestRev returns the backward pagination cursor. Empty means history is
// exhausted (or the initial page has not loaded yet).
func (c *Channel) OldestRev() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oldestRev
}

// Conversation returns a snapshot of the conversation metadata, or nil
// before Mount completes.
func (c *Channel) Conversation() *chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.convo == nil {
		return nil
	}
	snapshot := *c.convo
	return &snapshot
}

// Messages returns a snapshot of the log, oldest first.
func (c *Channel) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]chat.Message, len(c.items))
	for i := range c.items {
		msgs[i] = c.items[i].msg
	}
	return msgs
}

// handleEvent folds one firehose event into the log. Events arrive in
// cursor order; arrival order is authoritative for new messages.
func (c *Channel) handleEvent(ev chat.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	switch ev.Type {
	case chat.EventNewMessage:
		if ev.Message != nil {
			c.insertCommittedLocked(*ev.Message)
		}
	case chat.EventDeletedMessage:
		// No-op when the id is not in the log.
		c.removeByIDLocked(ev.MessageID)
	case chat.EventConversationUpdated:
		if ev.Convo != nil {
			snapshot := *ev.Convo
			c.convo = &snapshot
		}
	}
}

// insertCommittedLocked appends a committed message, keeping pending
// entries at the tail and skipping ids already present.
func (c *Channel) insertCommittedLocked(msg chat.Message) {
	if c.indexOfIDLocked(msg.ID) >= 0 {
		return
	}
	i := len(c.items)
	for i > 0 && c.items[i-1].pending() {
		i--
	}
	c.items = append(c.items, item{})
	copy(c.items[i+1:], c.items[i:])
	c.items[i] = item{msg: msg}
}

func (c *Channel) removeByIDLocked(messageID string) {
	if i := c.indexOfIDLocked(messageID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

// indexOfIDLocked finds a committed message by server id, or -1.
func (c *Channel) indexOfIDLocked(messageID string) int {
	if messageID == "" {
		return -1
	}
	for i := range c.items {
		if !c.items[i].pending() && c.items[i].msg.ID == messageID {
			return i
		}
	}
	return -1
}

// indexOfLocalLocked finds a pending entry by correlation id, or -1.
func (c *Channel) indexOfLocalLocked(localID string) int {
	for i := range c.items {
		if c.items[i].localID == localID {
			return i
		}
	}
	return -1
}

// destroy tears the channel down: further events and operations are
// rejected and the firehose subscription is released. Called by the Cache
// on explicit delete and on LRU eviction.
func (c *Channel) destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	mounted := c.mounted
	subID := c.subID
	c.mu.Unlock()

	if mounted {
		c.poller.Unsubscribe(c.convoID, subID)
	}
}
