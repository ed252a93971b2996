// ABOUTME: Core data types for the DM sync engine: conversations, messages, facets.
// ABOUTME: These are the shapes the engine keeps in memory and hands to the UI layer.

package chat

import "time"

// Conversation is the metadata row for one direct-message conversation.
type Conversation struct {
	ID          string
	Recipients  []string // member dids, excluding self
	LastMessage *Message
	Unread      bool
	Muted       bool
	Rev         string // opaque revision token, used for staleness checks
}

// Facet is a rich-text span within a message body (link, mention, etc.).
// Offsets are byte positions into the UTF-8 text.
type Facet struct {
	ByteStart int
	ByteEnd   int
	Feature   string // "link", "mention", "tag"
	Value     string
}

// Message is one message in a conversation. ID and Rev are server-assigned;
// both are empty while a locally-originated send is still in flight.
type Message struct {
	ID     string
	Sender string // did of the author
	Text   string
	Facets []Facet
	SentAt time.Time
	Rev    string
}

// Committed reports whether the message has been accepted by the server.
func (m *Message) Committed() bool {
	return m.Rev != ""
}

// Draft is the local content of a message before it is sent.
type Draft struct {
	Text   string
	Facets []Facet
}

// EventType discriminates the live-update event union.
type EventType int

const (
	EventNewMessage EventType = iota
	EventDeletedMessage
	EventConversationUpdated
)

// String returns a short name for logging.
func (t EventType) String() string {
	switch t {
	case EventNewMessage:
		return "new_message"
	case EventDeletedMessage:
		return "deleted_message"
	case EventConversationUpdated:
		return "conversation_updated"
	default:
		return "unknown"
	}
}

// Event is one live-update event from the poll stream. Exactly one of the
// payload fields is set, according to Type.
type Event struct {
	Type    EventType
	ConvoID string

	Message   *Message      // EventNewMessage
	MessageID string        // EventDeletedMessage
	Convo     *Conversation // EventConversationUpdated
}
