// ABOUTME: In-memory ConvoService implementation for tests and the demo TUI.
// ABOUTME: Supports fault injection, scripted event delivery, and call counting.

package chat

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ ConvoService = (*MockService)(nil)

// MockService is an in-memory ConvoService. It keeps full message histories
// per conversation, emits poll events for every remote-visible mutation, and
// lets tests inject one-shot failures per method.
type MockService struct {
	// Self is the did stamped on messages committed through SendMessage.
	Self string

	mu     sync.Mutex
	convos map[string]*Conversation
	order  []string             // conversation ids, most recent activity first
	logs   map[string][]Message // per conversation, oldest first
	events []Event
	revSeq int

	failures map[string]error // method name -> one-shot error
	calls    map[string]int
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{
		Self:     "did:self",
		convos:   make(map[string]*Conversation),
		logs:     make(map[string][]Message),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next call to the named method ("SendMessage",
// "PollEvents", ...) return err. The failure is consumed by that call.
func (m *MockService) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// CallCount returns how many times the named method has been invoked.
func (m *MockService) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records the call and pops a pending one-shot failure, if any.
// Must be called with mu held.
func (m *MockService) enter(method string) error {
	m.calls[method]++
	if err, ok := m.failures[method]; ok {
		delete(m.failures, method)
		return err
	}
	return nil
}

// nextRev returns a monotonically increasing opaque revision token.
// Must be called with mu held.
func (m *MockService) nextRev() string {
	m.revSeq++
	return fmt.Sprintf("%08d", m.revSeq)
}

// SeedConversation installs a conversation and its history without emitting
// events. Messages are given revs in the order provided (oldest first).
func (m *MockService) SeedConversation(convo Conversation, msgs ...Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.New().String()
		}
		if msgs[i].Rev == "" {
			msgs[i].Rev = m.nextRev()
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		convo.LastMessage = &last
	}
	convo.Rev = m.nextRev()
	m.convos[convo.ID] = &convo
	m.logs[convo.ID] = msgs
	m.touchLocked(convo.ID)
}

// Deliver simulates an incoming message from another participant: it is
// appended to the history, marks the conversation unread, and is emitted as
// a poll event.
func (m *MockService) Deliver(convoID string, msg Message) Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	msg.Rev = m.nextRev()
	m.logs[convoID] = append(m.logs[convoID], msg)
	if convo, ok := m.convos[convoID]; ok {
		last := msg
		convo.LastMessage = &last
		convo.Unread = true
		convo.Rev = m.nextRev()
	}
	m.touchLocked(convoID)
	m.events = append(m.events, Event{Type: EventNewMessage, ConvoID: convoID, Message: &msg})
	return msg
}

// RemoveRemote simulates a remote deletion: the message is dropped from the
// history and a deletedMessage event is emitted.
func (m *MockService) RemoveRemote(convoID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[convoID]
	for i, msg := range log {
		if msg.ID == messageID {
			m.logs[convoID] = append(log[:i:i], log[i+1:]...)
			break
		}
	}
	m.events = append(m.events, Event{Type: EventDeletedMessage, ConvoID: convoID, MessageID: messageID})
}

// UpdateRemote simulates a remote metadata change and emits a
// conversationUpdated event.
func (m *MockService) UpdateRemote(convo Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	convo.Rev = m.nextRev()
	m.convos[convo.ID] = &convo
	m.touchLocked(convo.ID)
	snapshot := convo
	m.events = append(m.events, Event{Type: EventConversationUpdated, ConvoID: convo.ID, Convo: &snapshot})
}

// touchLocked moves a conversation to the front of the activity order.
func (m *MockService) touchLocked(convoID string) {
	for i, id := range m.order {
		if id == convoID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.order = append([]string{convoID}, m.order...)
}

// ListConversations returns one page of the listing, most recent first.
func (m *MockService) ListConversations(ctx context.Context, cursor string, limit int) (*ConversationPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListConversations"); err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		start = n
	}
	if start > len(m.order) {
		start = len(m.order)
	}
	end := start + limit
	if end > len(m.order) {
		end = len(m.order)
	}

	page := &ConversationPage{}
	for _, id := range m.order[start:end] {
		page.Conversations = append(page.Conversations, *m.convos[id])
	}
	if end < len(m.order) {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

// GetConversation returns a snapshot of one conversation.
func (m *MockService) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetConversation"); err != nil {
		return nil, err
	}

	convo, ok := m.convos[id]
	if !ok {
		return nil, ErrNotFound
	}
	snapshot := *convo
	return &snapshot, nil
}

// ListMessages returns one page of history, newest first. The cursor pages
// toward older messages; an empty result cursor means history is exhausted.
func (m *MockService) ListMessages(ctx context.Context, convoID, cursor string, limit int) (*MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListMessages"); err != nil {
		return nil, err
	}

	log, ok := m.logs[convoID]
	if !ok {
		return nil, ErrNotFound
	}

	end := len(log)
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		end = n
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := &MessagePage{}
	for i := end - 1; i >= start; i-- {
		page.Messages = append(page.Messages, log[i])
	}
	if start > 0 {
		page.Cursor = strconv.Itoa(start)
	}
	return page, nil
}

// SendMessage commits a draft: the message gets a server id and rev, the
// conversation's last message advances, and a newMessage event is emitted
// (the sender sees its own message echoed on the firehose, as the real
// service does).
func (m *MockService) SendMessage(ctx context.Context, convoID string, draft Draft) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SendMessage"); err != nil {
		return nil, err
	}

	convo, ok := m.convos[convoID]
	if !ok {
		return nil, ErrNotFound
	}

	msg := Message{
		ID:     uuid.New().String(),
		Sender: m.Self,
		Text:   draft.Text,
		Facets: draft.Facets,
		SentAt: time.Now(),
		Rev:    m.nextRev(),
	}
	m.logs[convoID] = append(m.logs[convoID], msg)
	last := msg
	convo.LastMessage = &last
	convo.Rev = m.nextRev()
	m.touchLocked(convoID)
	m.events = append(m.events, Event{Type: EventNewMessage, ConvoID: convoID, Message: &msg})

	result := msg
	return &result, nil
}

// DeleteMessage removes a message from the history. Unknown ids are an error.
func (m *MockService) DeleteMessage(ctx context.Context, convoID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteMessage"); err != nil {
		return err
	}

	log, ok := m.logs[convoID]
	if !ok {
		return ErrNotFound
	}
	for i, msg := range log {
		if msg.ID == messageID {
			m.logs[convoID] = append(log[:i:i], log[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// MarkRead clears the unread flag.
func (m *MockService) MarkRead(ctx context.Context, convoID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkRead"); err != nil {
		return err
	}

	convo, ok := m.convos[convoID]
	if !ok {
		return ErrNotFound
	}
	convo.Unread = false
	return nil
}

// MuteConversation sets the muted flag.
func (m *MockService) MuteConversation(ctx context.Context, convoID string) error {
	return m.setMuted(convoID, "MuteConversation", true)
}

// UnmuteConversation clears the muted flag.
func (m *MockService) UnmuteConversation(ctx context.Context, convoID string) error {
	return m.setMuted(convoID, "UnmuteConversation", false)
}

func (m *MockService) setMuted(convoID, method string, muted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(method); err != nil {
		return err
	}

	convo, ok := m.convos[convoID]
	if !ok {
		return ErrNotFound
	}
	convo.Muted = muted
	return nil
}

// LeaveConversation removes the conversation and its history entirely.
func (m *MockService) LeaveConversation(ctx context.Context, convoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LeaveConversation"); err != nil {
		return err
	}

	if _, ok := m.convos[convoID]; !ok {
		return ErrNotFound
	}
	delete(m.convos, convoID)
	delete(m.logs, convoID)
	for i, id := range m.order {
		if id == convoID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// PollEvents returns every event recorded after sinceCursor, in order.
func (m *MockService) PollEvents(ctx context.Context, sinceCursor string) (*EventBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PollEvents"); err != nil {
		return nil, err
	}

	start := 0
	if sinceCursor != "" {
		n, err := strconv.Atoi(sinceCursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", sinceCursor, err)
		}
		start = n
	}
	if start > len(m.events) {
		start = len(m.events)
	}

	batch := &EventBatch{
		Events: append([]Event(nil), m.events[start:]...),
		Cursor: strconv.Itoa(len(m.events)),
	}
	return batch, nil
}
