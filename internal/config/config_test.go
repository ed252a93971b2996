// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
identity: "did:plc:abc123"

firehose:
  poll_interval: "5s"

cache:
  capacity: 12

paging:
  messages: 40
  conversations: 20

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Identity != "did:plc:abc123" {
		t.Errorf("Identity = %q, want %q", cfg.Identity, "did:plc:abc123")
	}
	if cfg.Firehose.PollInterval != 5*time.Second {
		t.Errorf("Firehose.PollInterval = %v, want %v", cfg.Firehose.PollInterval, 5*time.Second)
	}
	if cfg.Cache.Capacity != 12 {
		t.Errorf("Cache.Capacity = %d, want 12", cfg.Cache.Capacity)
	}
	if cfg.Paging.Messages != 40 {
		t.Errorf("Paging.Messages = %d, want 40", cfg.Paging.Messages)
	}
	if cfg.Paging.Conversations != 20 {
		t.Errorf("Paging.Conversations = %d, want 20", cfg.Paging.Conversations)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `identity: "did:plc:abc123"`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Firehose.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want default %v", cfg.Firehose.PollInterval, DefaultPollInterval)
	}
	if cfg.Cache.Capacity != DefaultCacheCapacity {
		t.Errorf("Capacity = %d, want default %d", cfg.Cache.Capacity, DefaultCacheCapacity)
	}
	if cfg.Paging.Messages != DefaultMessagePageSize {
		t.Errorf("Paging.Messages = %d, want default %d", cfg.Paging.Messages, DefaultMessagePageSize)
	}
	if cfg.Paging.Conversations != DefaultConvoPageSize {
		t.Errorf("Paging.Conversations = %d, want default %d", cfg.Paging.Conversations, DefaultConvoPageSize)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DMSYNC_DID", "did:plc:fromenv")

	configPath := writeConfig(t, `identity: "${TEST_DMSYNC_DID}"`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Identity != "did:plc:fromenv" {
		t.Errorf("Identity = %q, want %q", cfg.Identity, "did:plc:fromenv")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
identity: "did:plc:abc123"
firehose:
  poll_interval: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "poll_interval") {
		t.Errorf("error %q should mention poll_interval", err.Error())
	}
}

func TestLoad_MissingIdentity(t *testing.T) {
	configPath := writeConfig(t, `
cache:
  capacity: 4
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for missing identity")
	}
	if !strings.Contains(err.Error(), "identity") {
		t.Errorf("error %q should mention identity", err.Error())
	}
}

func TestLoad_InvalidCapacity(t *testing.T) {
	configPath := writeConfig(t, `
identity: "did:plc:abc123"
cache:
  capacity: -1
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for negative capacity")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	cfg.Identity = "did:plc:abc123"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() with identity should validate, got %v", err)
	}
}
