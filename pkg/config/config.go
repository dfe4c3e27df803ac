package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// maxConfigFileSize bounds the config file read into memory.
const maxConfigFileSize = 1 << 20

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreFile      = "file"
	StoreRedis     = "redis"
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"
	StoreDynamoDB  = "dynamodb"
)

// Publisher backends and modes.
const (
	PublisherMemory      = "memory"
	PublisherLog         = "log"
	PublisherRedis       = "redis"
	PublisherEventBridge = "eventbridge"
	PublisherDiscard     = "discard"

	ModeDirect = "direct"
	ModeOutbox = "outbox"
)

// Agent providers.
const (
	AgentMock    = "mock"
	AgentBedrock = "bedrock"
	AgentRuntime = "runtime"
	AgentOpenAI  = "openai"
	AgentGemini  = "gemini"
)

var (
	storeBackends     = []string{StoreMemory, StoreFile, StoreRedis, StoreSQLite, StoreFirestore, StoreDynamoDB}
	publisherBackends = []string{PublisherMemory, PublisherLog, PublisherRedis, PublisherEventBridge, PublisherDiscard}
	agentProviders    = []string{AgentMock, AgentBedrock, AgentRuntime, AgentOpenAI, AgentGemini}
	outboxStores      = []string{StoreMemory, StoreRedis, StoreSQLite}
)

// Config represents the application configuration
type Config struct {
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
	// AWSRegion is shared by every AWS client.
	AWSRegion string `yaml:"aws_region" env:"AWS_REGION"`

	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Publisher     PublisherConfig     `yaml:"publisher"`
	Agent         AgentConfig         `yaml:"agent"`
	Retry         RetryConfig         `yaml:"retry"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int     `yaml:"port" env:"PORT"`
	RuntimePort int     `yaml:"runtime_port" env:"RUNTIME_PORT"`
	HealthPort  int     `yaml:"health_port" env:"HEALTH_PORT"`
	RateLimit   float64 `yaml:"rate_limit" env:"RATE_LIMIT"` // requests per second per client
	RateBurst   int     `yaml:"rate_burst" env:"RATE_BURST"`
}

// StoreConfig selects and configures the event store
type StoreConfig struct {
	Backend   string `yaml:"backend" env:"EVENT_STORE"`
	Outbox    bool   `yaml:"outbox" env:"EVENT_STORE_OUTBOX"`
	UserIndex string `yaml:"user_index" env:"USER_INDEX"` // "", memory, redis

	Redis     RedisConfig     `yaml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	File      FileConfig      `yaml:"file"`
	Firestore FirestoreConfig `yaml:"firestore"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// FileConfig holds file store settings
type FileConfig struct {
	Dir string `yaml:"dir" env:"EVENT_STORE_DIR"`
}

// FirestoreConfig holds Firestore settings
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id" env:"GCP_PROJECT"`
	CredentialsFile string `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	Collection      string `yaml:"collection" env:"FIRESTORE_COLLECTION"`
}

// DynamoDBConfig holds DynamoDB settings
type DynamoDBConfig struct {
	TableName string `yaml:"table_name" env:"EVENT_TABLE_NAME"`
	Endpoint  string `yaml:"endpoint" env:"DYNAMODB_ENDPOINT"`
}

// PublisherConfig selects and configures the event publisher
type PublisherConfig struct {
	Backend        string `yaml:"backend" env:"EVENT_PUBLISHER"`
	Mode           string `yaml:"mode" env:"EVENT_PUBLISH_MODE"`
	RelaySchedule  string `yaml:"relay_schedule" env:"RELAY_SCHEDULE"`
	RelayBatchSize int    `yaml:"relay_batch_size" env:"RELAY_BATCH_SIZE"`
	RedisPrefix    string `yaml:"redis_prefix" env:"EVENT_CHANNEL_PREFIX"`
	EventBusName   string `yaml:"event_bus_name" env:"EVENT_BUS_NAME"`
	Source         string `yaml:"source" env:"EVENT_SOURCE"`
}

// AgentConfig selects and configures the agent backend
type AgentConfig struct {
	Provider        string        `yaml:"provider" env:"AGENT_PROVIDER"`
	ModelID         string        `yaml:"model_id" env:"BEDROCK_MODEL_ID"`
	SystemPrompt    string        `yaml:"system_prompt" env:"AGENT_SYSTEM_PROMPT"`
	MaxTokens       int           `yaml:"max_tokens" env:"AGENT_MAX_TOKENS"`
	Temperature     float64       `yaml:"temperature" env:"AGENT_TEMPERATURE"`
	Timeout         time.Duration `yaml:"timeout" env:"AGENT_TIMEOUT"`
	RuntimeEndpoint string        `yaml:"runtime_endpoint" env:"AGENT_RUNTIME_ENDPOINT"`
	OpenAIKey       string        `yaml:"openai_key" env:"OPENAI_API_KEY"`
	GeminiKey       string        `yaml:"gemini_key" env:"GEMINI_API_KEY"`
}

// RetryConfig bounds command retries after a concurrency conflict
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" env:"COMMAND_MAX_ATTEMPTS"`
}

// ObservabilityConfig holds tracing and metrics settings
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
	TracingEnabled bool   `yaml:"tracing_enabled" env:"OTEL_TRACING_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}

		data, err := os.ReadFile(path) // #nosec G304 - path is operator supplied
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the development configuration.
func Default() *Config {
	cfg := &Config{Environment: EnvDevelopment}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	dev := c.Environment == EnvDevelopment
	if c.AWSRegion == "" {
		c.AWSRegion = "us-east-1"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.RuntimePort == 0 {
		c.Server.RuntimePort = 8080
	}
	if c.Server.HealthPort == 0 {
		c.Server.HealthPort = 9090
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 20
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 40
	}

	if c.Store.Backend == "" {
		c.Store.Backend = StoreDynamoDB
		if dev {
			c.Store.Backend = StoreMemory
		}
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = "localhost:6379"
	}
	if c.Store.SQLite.Path == "" {
		c.Store.SQLite.Path = "agentcore-events.db"
	}
	if c.Store.DynamoDB.TableName == "" {
		c.Store.DynamoDB.TableName = "agentcore-poc-events"
	}

	if c.Publisher.Backend == "" {
		c.Publisher.Backend = PublisherEventBridge
		if dev {
			c.Publisher.Backend = PublisherMemory
		}
	}
	if c.Publisher.Mode == "" {
		c.Publisher.Mode = ModeDirect
	}
	if c.Publisher.RelaySchedule == "" {
		c.Publisher.RelaySchedule = "@every 2s"
	}
	if c.Publisher.RelayBatchSize == 0 {
		c.Publisher.RelayBatchSize = 100
	}
	if c.Publisher.EventBusName == "" {
		c.Publisher.EventBusName = "agentcore-poc-events"
	}
	if c.Publisher.Source == "" {
		c.Publisher.Source = "agentcore.poc"
	}

	if c.Agent.Provider == "" {
		switch {
		case dev:
			c.Agent.Provider = AgentMock
		case c.Agent.RuntimeEndpoint != "":
			c.Agent.Provider = AgentRuntime
		default:
			c.Agent.Provider = AgentBedrock
		}
	}
	if c.Agent.ModelID == "" {
		switch c.Agent.Provider {
		case AgentOpenAI:
			c.Agent.ModelID = "gpt-4o-mini"
		case AgentGemini:
			c.Agent.ModelID = "gemini-2.0-flash"
		default:
			c.Agent.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
		}
	}
	if c.Agent.SystemPrompt == "" {
		c.Agent.SystemPrompt = "You are a helpful AI assistant."
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.Temperature == 0 {
		c.Agent.Temperature = 0.7
	}
	if c.Agent.Timeout == 0 {
		c.Agent.Timeout = 120 * time.Second
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "agentcore"
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("unknown environment %q", c.Environment)
	}
	if !slices.Contains(storeBackends, c.Store.Backend) {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if !slices.Contains(publisherBackends, c.Publisher.Backend) {
		return fmt.Errorf("unknown publisher backend %q", c.Publisher.Backend)
	}
	if !slices.Contains(agentProviders, c.Agent.Provider) {
		return fmt.Errorf("unknown agent provider %q", c.Agent.Provider)
	}

	switch c.Publisher.Mode {
	case ModeDirect:
	case ModeOutbox:
		if !c.Store.Outbox {
			return fmt.Errorf("publisher mode %q requires store.outbox", ModeOutbox)
		}
	default:
		return fmt.Errorf("unknown publisher mode %q", c.Publisher.Mode)
	}
	if c.Store.Outbox && !slices.Contains(outboxStores, c.Store.Backend) {
		return fmt.Errorf("store backend %q does not support an outbox", c.Store.Backend)
	}

	switch c.Store.UserIndex {
	case "", StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown user index %q", c.Store.UserIndex)
	}

	if c.Store.Backend == StoreFirestore && c.Store.Firestore.ProjectID == "" {
		return fmt.Errorf("store.firestore.project_id is required")
	}
	if c.Agent.Provider == AgentRuntime && c.Agent.RuntimeEndpoint == "" {
		return fmt.Errorf("agent.runtime_endpoint is required for the runtime provider")
	}
	if c.Agent.Provider == AgentOpenAI && c.Agent.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
	}
	if c.Agent.Provider == AgentGemini && c.Agent.GeminiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	return nil
}
