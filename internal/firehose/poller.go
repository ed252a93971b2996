// ABOUTME: Long-lived poll loop that turns the pollEvents endpoint into a typed event stream.
// ABOUTME: Owns the connection status state machine and per-conversation subscriber dispatch.

package firehose

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftdeck/dmsync/internal/chat"
)

// Status is the poller's connection state.
type Status int

const (
	StatusInitializing Status = iota
	StatusConnected
	StatusError
)

// String returns a short name for logging.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrorKind distinguishes "never connected" from "lost connection".
type ErrorKind int

const (
	ErrorKindInit ErrorKind = iota
	ErrorKindTransient
)

// Handler receives dispatched events. Handlers are invoked synchronously
// from the poll loop, in cursor order.
type Handler func(chat.Event)

// wildcardKey subscribes a handler to events for every conversation.
// Conversation ids are never empty, so the empty string is free to use.
const wildcardKey = ""

// Poller maintains the live-update subscription for one identity. A poll
// failure suspends the loop and parks the poller in StatusError until
// Resume() is called; there is no automatic retry.
type Poller struct {
	svc      chat.ConvoService
	interval time.Duration
	logger   *slog.Logger
	kick     chan struct{}

	mu            sync.Mutex
	status        Status
	lastErr       error
	errKind       ErrorKind
	cursor        string
	everConnected bool
	running       bool
	stop          chan struct{}
	wg            sync.WaitGroup
	subs          map[string]map[string]Handler // convo id -> sub id -> handler
}

// NewPoller creates a poller for one identity. Pass nil logger for default.
func NewPoller(svc chat.ConvoService, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		svc:      svc,
		interval: interval,
		logger:   logger.With("component", "firehose"),
		kick:     make(chan struct{}, 1),
		status:   StatusInitializing,
		subs:     make(map[string]map[string]Handler),
	}
}

// Init begins polling. It is idempotent while the loop is already running.
func (p *Poller) Init() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.startLocked()
}

// Resume restarts polling after a failure. The first poll is attempted
// immediately; on success the status returns to CONNECTED.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.status = StatusInitializing
	p.startLocked()
}

// startLocked spawns the poll loop. Must be called with mu held.
func (p *Poller) startLocked() {
	p.running = true
	p.stop = make(chan struct{})
	stop := p.stop
	p.wg.Add(1)
	go p.run(stop)
}

// Poll requests an immediate out-of-band poll cycle, used after a
// locally-caused mutation so the next event batch is not a full interval
// away. It does not change connection status by itself.
func (p *Poller) Poll() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for it to exit. Safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.running {
		p.running = false
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Status returns the current connection state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Err returns the most recent poll failure. Nil unless the poller is in
// StatusError.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// ErrKind reports whether the last failure happened before the poller ever
// connected (ErrorKindInit) or after (ErrorKindTransient). Only meaningful
// while the poller is in StatusError.
func (p *Poller) ErrKind() ErrorKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errKind
}

// Subscribe registers a handler for events addressed to one conversation.
// Returns a subscription id for Unsubscribe.
func (p *Poller) Subscribe(convoID string, h Handler) string {
	subID := uuid.New().String()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subs[convoID]; !ok {
		p.subs[convoID] = make(map[string]Handler)
	}
	p.subs[convoID][subID] = h
	p.logger.Debug("subscriber added", "convo_id", convoID, "sub_id", subID)
	return subID
}

// SubscribeAll registers a handler for every event regardless of
// conversation, used by the listing.
func (p *Poller) SubscribeAll(h Handler) string {
	return p.Subscribe(wildcardKey, h)
}

// Unsubscribe removes a per-conversation subscription.
func (p *Poller) Unsubscribe(convoID, subID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.subs[convoID]
	if !ok {
		return
	}
	if _, exists := subs[subID]; !exists {
		return
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(p.subs, convoID)
	}
	p.logger.Debug("subscriber removed", "convo_id", convoID, "sub_id", subID)
}

// UnsubscribeAll removes a wildcard subscription.
func (p *Poller) UnsubscribeAll(subID string) {
	p.Unsubscribe(wildcardKey, subID)
}

// SubscriberCount reports how many handlers are registered for a
// conversation id. Exposed for the channel cache's eviction accounting.
func (p *Poller) SubscriberCount(convoID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[convoID])
}

// run is the poll loop. The first cycle fires immediately; subsequent
// cycles wait for the interval or an out-of-band kick. Any failure suspends
// the loop.
func (p *Poller) run(stop chan struct{}) {
	defer p.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		case <-p.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := p.pollOnce(); err != nil {
			p.fail(err)
			return
		}
		timer.Reset(p.interval)
	}
}

// pollOnce performs one poll cycle: fetch events since the cursor, advance
// the cursor, and dispatch each event in order.
func (p *Poller) pollOnce() error {
	p.mu.Lock()
	cursor := p.cursor
	p.mu.Unlock()

	batch, err := p.svc.PollEvents(context.Background(), cursor)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.cursor = batch.Cursor
	first := !p.everConnected
	p.everConnected = true
	p.status = StatusConnected
	p.lastErr = nil
	p.mu.Unlock()

	if first {
		p.logger.Info("firehose connected", "cursor", batch.Cursor)
	}

	for _, ev := range batch.Events {
		p.dispatch(ev)
	}
	return nil
}

// dispatch delivers one event to the conversation's subscribers, then to
// wildcard subscribers. Handlers run outside the poller lock so they can
// re-enter Subscribe/Unsubscribe.
func (p *Poller) dispatch(ev chat.Event) {
	p.mu.Lock()
	targets := make([]Handler, 0, len(p.subs[ev.ConvoID])+len(p.subs[wildcardKey]))
	for _, h := range p.subs[ev.ConvoID] {
		targets = append(targets, h)
	}
	for _, h := range p.subs[wildcardKey] {
		targets = append(targets, h)
	}
	p.mu.Unlock()

	for _, h := range targets {
		h(ev)
	}
}

// fail records the error, marks the status, and leaves the loop suspended.
// The error kind depends on whether a poll has ever succeeded.
func (p *Poller) fail(err error) {
	p.mu.Lock()
	p.running = false
	p.lastErr = err
	if p.everConnected {
		p.errKind = ErrorKindTransient
	} else {
		p.errKind = ErrorKindInit
	}
	p.status = StatusError
	kind := p.errKind
	p.mu.Unlock()

	p.logger.Warn("poll failed, suspending until resume",
		"error", err,
		"transient", kind == ErrorKindTransient)
}
