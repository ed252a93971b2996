// Package channel holds the per-conversation message state of the DM sync
// engine.
//
// # Channel
//
// A Channel reconciles three partially-ordered sources into one
// oldest-to-newest log with unique server ids:
//
//   - the initial newest page fetched on Mount
//   - older pages prepended by LoadOlder
//   - firehose events appended in cursor order
//
// plus locally-originated optimistic sends, which sit at the tail until the
// server commits them. A failed send stays in place with a Failure marker
// exposing Retry and Remove.
//
// # Entries
//
// Entries() projects the log into render rows: date dividers and messages
// with a tail flag for consecutive same-sender grouping. The projection is
// recomputed from the log and never mutated independently.
//
// # Cache
//
// Cache is a bounded LRU of live Channels and the only component allowed to
// construct or destroy one. Eviction and explicit deletion both release the
// channel's firehose subscription.
package channel
