// Package firehose maintains one live-update subscription per authenticated
// identity, built on top of the conversation service's polling endpoint.
//
// # Status
//
// The poller is an explicit state machine:
//
//	INITIALIZING -> CONNECTED          first successful poll
//	INITIALIZING -> ERROR(init)        poll failed before ever connecting
//	CONNECTED    -> ERROR(transient)   poll failed after connecting
//	ERROR        -> INITIALIZING       Resume()
//
// A failure halts the loop rather than retrying forever; recovery is a
// deliberate Resume() call, so the UI can show a persistent retry banner and
// distinguish "never connected" from "lost connection."
//
// # Dispatch
//
// Events are dispatched synchronously, in cursor order, first to subscribers
// of the event's conversation id and then to wildcard subscribers (the
// conversation listing). Synchronous dispatch is what preserves the
// per-conversation ordering guarantee.
package firehose
