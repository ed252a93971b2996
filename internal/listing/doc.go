// Package listing maintains the conversation index for one identity:
// cursor-paginated fetch, firehose-driven staleness detection, and the
// listing-level actions (mute, unmute, leave).
package listing
