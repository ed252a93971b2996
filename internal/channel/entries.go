// ABOUTME: Render-entry projection: the message log grouped with date dividers and tails.
// ABOUTME: Pure derivation from the log, recomputed on demand, never stored.

package channel

import (
	"time"

	"github.com/driftdeck/dmsync/internal/chat"
)

// EntryKind discriminates render entries.
type EntryKind int

const (
	EntryKindMessage EntryKind = iota
	EntryKindDivider
)

// Entry is one render-ready row: a message bubble or a date divider.
type Entry struct {
	Kind    EntryKind
	Message *MessageEntry // EntryKindMessage
	Divider string        // EntryKindDivider: formatted date boundary
}

// MessageEntry is a message plus its grouping state. Tail marks a message
// immediately preceded, within the same date group, by another message from
// the same sender, so the UI can merge consecutive bubbles.
type MessageEntry struct {
	Message chat.Message
	Tail    bool
	Pending bool
	Failure *Failure
}

// dividerFormat renders date boundaries, e.g. "Friday, August 28, 2026".
const dividerFormat = "Monday, January 2, 2006"

// Entries projects the log into render entries: a divider opens each new
// calendar date, and consecutive same-sender messages within a date group
// are tail-flagged.
func (c *Channel) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.items)+4)
	for i := range c.items {
		it := &c.items[i]
		newDay := i == 0 || !sameDay(c.items[i-1].msg.SentAt, it.msg.SentAt)
		if newDay {
			entries = append(entries, Entry{
				Kind:    EntryKindDivider,
				Divider: it.msg.SentAt.Format(dividerFormat),
			})
		}
		tail := !newDay && c.items[i-1].msg.Sender == it.msg.Sender
		entries = append(entries, Entry{
			Kind: EntryKindMessage,
			Message: &MessageEntry{
				Message: it.msg,
				Tail:    tail,
				Pending: it.pending(),
				Failure: it.failure,
			},
		})
	}
	return entries
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
