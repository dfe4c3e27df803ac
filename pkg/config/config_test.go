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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a large file (> 1MB)
	largeFile := filepath.Join(tmpDir, "large.yaml")
	data := strings.Repeat("x: value\n", 200000) // ~1.6MB
	err := os.WriteFile(largeFile, []byte(data), 0600)
	if err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err = LoadConfig(largeFile)
	if err == nil {
		t.Fatal("expected error for large file")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
environment: production
store:
  backend: sqlite
  outbox: true
  sqlite:
    path: /var/lib/agentcore/events.db
publisher:
  backend: redis
  mode: outbox
agent:
  provider: runtime
  runtime_endpoint: http://localhost:8080
  timeout: 30s
retry:
  max_attempts: 5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Backend != StoreSQLite || !cfg.Store.Outbox {
		t.Errorf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Store.SQLite.Path != "/var/lib/agentcore/events.db" {
		t.Errorf("unexpected sqlite path %q", cfg.Store.SQLite.Path)
	}
	if cfg.Agent.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Agent.Timeout)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Retry.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
environment: development
invalid yaml here: [[[
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
agent:
  model_id: from-file
`)
	t.Setenv("EVENT_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("COMMAND_MAX_ATTEMPTS", "7")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Backend != StoreRedis {
		t.Errorf("expected env to override store backend, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Redis.Addr != "redis.internal:6380" {
		t.Errorf("unexpected redis addr %q", cfg.Store.Redis.Addr)
	}
	if cfg.Agent.ModelID != "from-file" {
		t.Errorf("unset env must keep file value, got %q", cfg.Agent.ModelID)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("expected 7 attempts, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestDefaults(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		cfg := Default()
		if cfg.Store.Backend != StoreMemory || cfg.Publisher.Backend != PublisherMemory || cfg.Agent.Provider != AgentMock {
			t.Errorf("unexpected development wiring: %s/%s/%s", cfg.Store.Backend, cfg.Publisher.Backend, cfg.Agent.Provider)
		}
		if cfg.Retry.MaxAttempts != 3 {
			t.Errorf("expected 3 attempts, got %d", cfg.Retry.MaxAttempts)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})

	t.Run("production", func(t *testing.T) {
		cfg := &Config{Environment: EnvProduction}
		cfg.applyDefaults()
		if cfg.Store.Backend != StoreDynamoDB || cfg.Publisher.Backend != PublisherEventBridge || cfg.Agent.Provider != AgentBedrock {
			t.Errorf("unexpected production wiring: %s/%s/%s", cfg.Store.Backend, cfg.Publisher.Backend, cfg.Agent.Provider)
		}
		if cfg.Store.DynamoDB.TableName != "agentcore-poc-events" {
			t.Errorf("unexpected table %q", cfg.Store.DynamoDB.TableName)
		}
	})

	t.Run("production with runtime endpoint", func(t *testing.T) {
		cfg := &Config{Environment: EnvProduction, Agent: AgentConfig{RuntimeEndpoint: "http://runtime:8080"}}
		cfg.applyDefaults()
		if cfg.Agent.Provider != AgentRuntime {
			t.Errorf("expected runtime provider, got %q", cfg.Agent.Provider)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid default", mutate: func(*Config) {}},
		{name: "unknown environment", mutate: func(c *Config) { c.Environment = "staging" }, wantErr: "environment"},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Backend = "cassandra" }, wantErr: "store backend"},
		{name: "unknown publisher", mutate: func(c *Config) { c.Publisher.Backend = "kafka" }, wantErr: "publisher backend"},
		{name: "unknown agent", mutate: func(c *Config) { c.Agent.Provider = "llama" }, wantErr: "agent provider"},
		{name: "outbox mode without outbox", mutate: func(c *Config) { c.Publisher.Mode = ModeOutbox }, wantErr: "requires store.outbox"},
		{name: "outbox on dynamodb", mutate: func(c *Config) {
			c.Store.Backend = StoreDynamoDB
			c.Store.Outbox = true
		}, wantErr: "does not support an outbox"},
		{name: "unknown user index", mutate: func(c *Config) { c.Store.UserIndex = "sqlite" }, wantErr: "user index"},
		{name: "firestore without project", mutate: func(c *Config) { c.Store.Backend = StoreFirestore }, wantErr: "project_id"},
		{name: "runtime without endpoint", mutate: func(c *Config) { c.Agent.Provider = AgentRuntime }, wantErr: "runtime_endpoint"},
		{name: "openai without key", mutate: func(c *Config) { c.Agent.Provider = AgentOpenAI }, wantErr: "OPENAI_API_KEY"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Store.Backend = StoreFile
	cfg.Store.File.Dir = "/tmp/events"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Store.Backend != StoreFile || loaded.Store.File.Dir != "/tmp/events" {
		t.Errorf("unexpected store after round trip: %+v", loaded.Store)
	}
}
