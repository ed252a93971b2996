// Package chat defines the data model shared by the DM sync engine and the
// capability interface for the remote conversation service.
//
// # Data Model
//
//   - Conversation: metadata row for one DM conversation (recipients,
//     last message, unread/muted flags, revision token)
//   - Message: one committed or in-flight message; Rev is the server
//     ordering token and is empty until the server commits the message
//   - Event: a live-update event from the poll stream (new message,
//     deleted message, conversation metadata change)
//
// # ConvoService
//
// ConvoService is the only network surface the engine consumes. It is a
// capability interface so tests and the demo TUI can substitute the
// in-memory MockService, and so transport concerns stay out of this module.
package chat
