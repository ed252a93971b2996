// ABOUTME: Tests for the firehose poller state machine and event dispatch.
// ABOUTME: Validates connect/fail/resume transitions, ordering, kicks, and goroutine hygiene.

package firehose

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/driftdeck/dmsync/internal/chat"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testInterval = 10 * time.Millisecond

// eventRecorder collects dispatched events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *eventRecorder) handle(ev chat.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []chat.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Event(nil), r.events...)
}

func waitForStatus(t *testing.T, p *Poller, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Status() == want
	}, time.Second, time.Millisecond, "poller never reached %s", want)
}

func TestPoller_InitConnects(t *testing.T) {
	svc := chat.NewMockService()
	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	assert.Equal(t, StatusInitializing, p.Status())

	p.Init()
	waitForStatus(t, p, StatusConnected)
	assert.NoError(t, p.Err())
}

func TestPoller_InitIdempotent(t *testing.T) {
	svc := chat.NewMockService()
	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	p.Init()
	p.Init()
	p.Init()
	waitForStatus(t, p, StatusConnected)
}

func TestPoller_InitFailure(t *testing.T) {
	svc := chat.NewMockService()
	boom := errors.New("network down")
	svc.FailNext("PollEvents", boom)

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	p.Init()
	waitForStatus(t, p, StatusError)
	assert.ErrorIs(t, p.Err(), boom)
	assert.Equal(t, ErrorKindInit, p.ErrKind(), "failure before first success is an init failure")
}

func TestPoller_TransientFailure(t *testing.T) {
	svc := chat.NewMockService()
	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	p.Init()
	waitForStatus(t, p, StatusConnected)

	boom := errors.New("connection lost")
	svc.FailNext("PollEvents", boom)
	p.Poll()

	waitForStatus(t, p, StatusError)
	assert.ErrorIs(t, p.Err(), boom)
	assert.Equal(t, ErrorKindTransient, p.ErrKind(), "failure after connecting is transient")
}

func TestPoller_FailureSuspendsPolling(t *testing.T) {
	svc := chat.NewMockService()
	svc.FailNext("PollEvents", errors.New("down"))

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	p.Init()
	waitForStatus(t, p, StatusError)

	// No automatic retry: the call count must not grow while suspended.
	calls := svc.CallCount("PollEvents")
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, svc.CallCount("PollEvents"))
}

func TestPoller_Resume(t *testing.T) {
	svc := chat.NewMockService()
	svc.FailNext("PollEvents", errors.New("down"))

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	p.Init()
	waitForStatus(t, p, StatusError)

	p.Resume()
	waitForStatus(t, p, StatusConnected)
	assert.NoError(t, p.Err())
}

func TestPoller_DispatchOrder(t *testing.T) {
	svc := chat.NewMockService()
	svc.SeedConversation(chat.Conversation{ID: "convo-1"})
	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "one"})
	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "two"})
	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "three"})

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	rec := &eventRecorder{}
	p.Subscribe("convo-1", rec.handle)

	p.Init()
	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, time.Second, time.Millisecond)

	events := rec.snapshot()
	assert.Equal(t, "one", events[0].Message.Text)
	assert.Equal(t, "two", events[1].Message.Text)
	assert.Equal(t, "three", events[2].Message.Text)
}

func TestPoller_DispatchByConversation(t *testing.T) {
	svc := chat.NewMockService()
	svc.SeedConversation(chat.Conversation{ID: "convo-1"})
	svc.SeedConversation(chat.Conversation{ID: "convo-2"})

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	one := &eventRecorder{}
	all := &eventRecorder{}
	p.Subscribe("convo-1", one.handle)
	p.SubscribeAll(all.handle)

	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "for one"})
	svc.Deliver("convo-2", chat.Message{Sender: "did:bob", Text: "for two"})

	p.Init()
	require.Eventually(t, func() bool {
		return len(all.snapshot()) == 2
	}, time.Second, time.Millisecond)

	require.Len(t, one.snapshot(), 1)
	assert.Equal(t, "convo-1", one.snapshot()[0].ConvoID)
}

func TestPoller_PollKick(t *testing.T) {
	svc := chat.NewMockService()
	svc.SeedConversation(chat.Conversation{ID: "convo-1"})

	// An hour-long interval: events only arrive through the kick.
	p := NewPoller(svc, time.Hour, nil)
	defer p.Stop()

	rec := &eventRecorder{}
	p.Subscribe("convo-1", rec.handle)

	p.Init()
	waitForStatus(t, p, StatusConnected)

	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "kicked"})
	p.Poll()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, time.Second, time.Millisecond)
}

func TestPoller_Unsubscribe(t *testing.T) {
	svc := chat.NewMockService()
	svc.SeedConversation(chat.Conversation{ID: "convo-1"})

	p := NewPoller(svc, testInterval, nil)
	defer p.Stop()

	rec := &eventRecorder{}
	subID := p.Subscribe("convo-1", rec.handle)
	assert.Equal(t, 1, p.SubscriberCount("convo-1"))

	p.Unsubscribe("convo-1", subID)
	assert.Equal(t, 0, p.SubscriberCount("convo-1"))

	svc.Deliver("convo-1", chat.Message{Sender: "did:alice", Text: "unseen"})
	p.Init()
	waitForStatus(t, p, StatusConnected)

	// Give the loop a few cycles; nothing may arrive.
	time.Sleep(5 * testInterval)
	assert.Empty(t, rec.snapshot())
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	svc := chat.NewMockService()
	p := NewPoller(svc, testInterval, nil)

	p.Init()
	waitForStatus(t, p, StatusConnected)

	p.Stop()
	p.Stop()
}
