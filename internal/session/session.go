// ABOUTME: Session bundles one identity's poller, channel cache, and listing.
// ABOUTME: The full set is constructed together per account and torn down together.

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/driftdeck/dmsync/internal/channel"
	"github.com/driftdeck/dmsync/internal/chat"
	"github.com/driftdeck/dmsync/internal/config"
	"github.com/driftdeck/dmsync/internal/firehose"
	"github.com/driftdeck/dmsync/internal/listing"
)

// Session is the per-identity DM sync context. There is exactly one full
// set of {Poller, Cache, Listing} per authenticated identity; switching
// accounts means closing one Session and opening another.
type Session struct {
	DID string

	Poller   *firehose.Poller
	Channels *channel.Cache
	Listing  *listing.Listing

	logger *slog.Logger
}

// New wires a Session for one identity. Pass nil logger for default.
func New(svc chat.ConvoService, cfg *config.Config, logger *slog.Logger) (*Session, error) {
	if cfg.Identity == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("did", cfg.Identity)

	poller := firehose.NewPoller(svc, cfg.Firehose.PollInterval, logger)
	cache := channel.NewCache(svc, poller, cfg.Identity, cfg.Cache.Capacity, cfg.Paging.Messages, logger)
	list := listing.NewListing(svc, poller, cache, cfg.Identity, cfg.Paging.Conversations, logger)

	return &Session{
		DID:      cfg.Identity,
		Poller:   poller,
		Channels: cache,
		Listing:  list,
		logger:   logger.With("component", "session"),
	}, nil
}

// Start begins polling and mounts the listing. The listing fetch error is
// returned but the poller keeps running either way; the caller can retry
// via Listing.Mount.
func (s *Session) Start(ctx context.Context) error {
	s.Poller.Init()
	if err := s.Listing.Mount(ctx); err != nil {
		return fmt.Errorf("mounting listing: %w", err)
	}
	s.logger.Info("session started")
	return nil
}

// Open returns the mounted channel for a conversation, warming it in the
// cache.
func (s *Session) Open(ctx context.Context, convoID string) (*channel.Channel, error) {
	ch := s.Channels.Get(convoID)
	if err := ch.Mount(ctx); err != nil {
		return nil, fmt.Errorf("mounting channel: %w", err)
	}
	return ch, nil
}

// Close tears the whole set down: the listing unsubscribes, every cached
// channel is destroyed, and the poll loop stops.
func (s *Session) Close() {
	s.Listing.Destroy()
	s.Channels.Close()
	s.Poller.Stop()
	s.logger.Info("session closed")
}
