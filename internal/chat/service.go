// ABOUTME: ConvoService is the capability interface for the remote conversation service.
// ABOUTME: Defines the paginated fetch, mutation, and event-polling surface the engine consumes.

package chat

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested conversation or message does not exist.
var ErrNotFound = errors.New("not found")

// ConversationPage is one page of the conversation listing, newest-first.
// An empty Cursor means the listing is exhausted.
type ConversationPage struct {
	Conversations []Conversation
	Cursor        string
}

// MessagePage is one page of a conversation's history, newest-first.
// Cursor pages toward older messages; empty means history is exhausted.
type MessagePage struct {
	Messages []Message
	Cursor   string
}

// EventBatch is the result of one poll cycle. Events are ordered by the
// server's monotonic cursor; Cursor is the position to resume from.
type EventBatch struct {
	Events []Event
	Cursor string
}

// ConvoService is everything the sync engine needs from the remote
// conversation service. Implementations must be safe for concurrent use.
type ConvoService interface {
	ListConversations(ctx context.Context, cursor string, limit int) (*ConversationPage, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListMessages(ctx context.Context, convoID, cursor string, limit int) (*MessagePage, error)
	SendMessage(ctx context.Context, convoID string, draft Draft) (*Message, error)
	DeleteMessage(ctx context.Context, convoID, messageID string) error
	MarkRead(ctx context.Context, convoID, messageID string) error
	MuteConversation(ctx context.Context, convoID string) error
	UnmuteConversation(ctx context.Context, convoID string) error
	LeaveConversation(ctx context.Context, convoID string) error
	PollEvents(ctx context.Context, sinceCursor string) (*EventBatch, error)
}
