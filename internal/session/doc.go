// Package session ties one identity's firehose poller, channel cache, and
// conversation listing into a single lifecycle.
package session
