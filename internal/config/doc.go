// Package config loads and validates the engine's YAML configuration:
// firehose poll interval, channel cache capacity, page sizes, and logging.
package config
