// Package bootstrap assembles the event store, repository, publisher, agent
// and handlers from configuration. Each entry point builds one Container.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/agentcore-lab/agentcore/internal/api"
	"github.com/agentcore-lab/agentcore/internal/app"
	"github.com/agentcore-lab/agentcore/pkg/agentport"
	"github.com/agentcore-lab/agentcore/pkg/config"
	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	"github.com/agentcore-lab/agentcore/pkg/eventstore/dynamodb"
	"github.com/agentcore-lab/agentcore/pkg/eventstore/firestore"
	"github.com/agentcore-lab/agentcore/pkg/observability"
	"github.com/agentcore-lab/agentcore/pkg/publisher"
	"github.com/agentcore-lab/agentcore/pkg/session"
)

// Container holds the wired components.
type Container struct {
	Config     *config.Config
	Store      eventstore.Store
	Repository *session.EventSourcedRepository
	// Bus is the configured event bus. Handlers publish to it directly in
	// direct mode; in outbox mode only the relay does.
	Bus      publisher.Publisher
	Agent    agentport.Agent
	Handlers api.Handlers

	redis   *redis.Client
	closers []func() error
}

// Build wires every component. The agent is only created when withAgent is
// set, so tools that only read streams need no model credentials.
func Build(ctx context.Context, cfg *config.Config, withAgent bool) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close()
		}
	}()

	store, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}
	c.Store = eventstore.Instrument(store, cfg.Store.Backend)
	c.closers = append(c.closers, c.Store.Close)

	var repoOpts []session.RepositoryOption
	switch cfg.Store.UserIndex {
	case config.StoreMemory:
		repoOpts = append(repoOpts, session.WithUserIndex(session.NewMemoryUserIndex()))
	case config.StoreRedis:
		repoOpts = append(repoOpts, session.WithUserIndex(session.NewRedisUserIndex(c.redisClient(), indexPrefix(cfg.Store.Redis.Prefix))))
	}
	c.Repository = session.NewEventSourcedRepository(c.Store, repoOpts...)

	if c.Bus, err = c.openPublisher(ctx); err != nil {
		return nil, err
	}

	if withAgent {
		if c.Agent, err = agentport.New(ctx, cfg.Agent, cfg.AWSRegion); err != nil {
			return nil, fmt.Errorf("create agent: %w", err)
		}
	}

	commandBus := c.Bus
	if cfg.Publisher.Mode == config.ModeOutbox {
		commandBus = publisher.Discard
	}
	attempts := cfg.Retry.MaxAttempts
	c.Handlers = api.Handlers{
		StartSession:       app.NewStartSessionHandler(c.Repository, commandBus),
		SendMessage:        app.NewSendMessageHandler(c.Repository, commandBus, attempts),
		EndSession:         app.NewEndSessionHandler(c.Repository, commandBus, attempts),
		GetSession:         app.NewGetSessionHandler(c.Repository),
		GetSessionMessages: app.NewGetSessionMessagesHandler(c.Repository),
		GetActiveSessions:  app.NewGetActiveSessionsHandler(c.Repository),
		GetSessionHistory:  app.NewGetSessionHistoryHandler(c.Repository),
	}
	if c.Agent != nil {
		c.Handlers.ExecuteAgent = app.NewExecuteAgentHandler(c.Repository, c.Agent, commandBus, attempts)
	}

	c.registerHealthChecks(observability.DefaultHealthChecker())

	log.Printf("[bootstrap] store=%s publisher=%s mode=%s user_index=%q",
		cfg.Store.Backend, cfg.Publisher.Backend, cfg.Publisher.Mode, cfg.Store.UserIndex)
	ok = true
	return c, nil
}

// AgentInfo describes the configured agent for GET /agents/info. It is
// empty when the container was built without an agent.
func (c *Container) AgentInfo() api.AgentInfo {
	if c.Agent == nil {
		return api.AgentInfo{}
	}
	cfg := c.Config.Agent
	caps := []string{"chat", "tools"}
	switch cfg.Provider {
	case config.AgentBedrock:
		caps = append(caps, "bedrock_native")
	case config.AgentRuntime:
		caps = append(caps, "agentcore_runtime")
	}
	return api.AgentInfo{
		AgentType:    cfg.Provider,
		ModelID:      cfg.ModelID,
		Provider:     c.Agent.Name(),
		Capabilities: caps,
	}
}

// registerHealthChecks adds a check for each component that can be probed.
// Only the event store is critical.
func (c *Container) registerHealthChecks(hc *observability.HealthChecker) {
	cfg := c.Config
	if p, ok := c.Store.(eventstore.Pinger); ok {
		hc.Register(observability.EventStoreCheck(cfg.Store.Backend, p.Ping))
	}
	if p, ok := c.Bus.(publisher.Pinger); ok {
		hc.Register(observability.PublisherCheck(cfg.Publisher.Backend, p.Ping))
	}
	if c.Agent != nil {
		if p, ok := agentport.AsPinger(c.Agent); ok {
			hc.Register(observability.AgentCheck(c.Agent.Name(), p.Ping))
		}
	}
}

func (c *Container) openStore(ctx context.Context) (eventstore.Store, error) {
	cfg := c.Config.Store
	var opts []eventstore.Option
	if cfg.Outbox {
		opts = append(opts, eventstore.WithOutbox())
	}

	switch cfg.Backend {
	case config.StoreMemory:
		return eventstore.NewMemoryStore(opts...), nil
	case config.StoreFile:
		return eventstore.NewFileStore(cfg.File.Dir)
	case config.StoreRedis:
		return eventstore.NewRedisStoreFromClient(c.redisClient(), cfg.Redis.Prefix, opts...), nil
	case config.StoreSQLite:
		return eventstore.NewSQLiteStore(cfg.SQLite.Path, opts...)
	case config.StoreFirestore:
		return firestore.New(ctx, firestore.Config{
			ProjectID:       cfg.Firestore.ProjectID,
			CredentialsFile: cfg.Firestore.CredentialsFile,
			Collection:      cfg.Firestore.Collection,
		})
	case config.StoreDynamoDB:
		return dynamodb.New(ctx, dynamodb.Config{
			TableName: cfg.DynamoDB.TableName,
			Region:    c.Config.AWSRegion,
			Endpoint:  cfg.DynamoDB.Endpoint,
		})
	default:
		return nil, fmt.Errorf("unknown event store %q", cfg.Backend)
	}
}

func (c *Container) openPublisher(ctx context.Context) (publisher.Publisher, error) {
	cfg := c.Config.Publisher
	switch cfg.Backend {
	case config.PublisherMemory:
		return publisher.NewMemoryPublisher(), nil
	case config.PublisherLog:
		return publisher.LogPublisher{}, nil
	case config.PublisherDiscard:
		return publisher.Discard, nil
	case config.PublisherRedis:
		return publisher.NewRedisPublisher(c.redisClient(), cfg.RedisPrefix), nil
	case config.PublisherEventBridge:
		return publisher.NewEventBridgePublisher(ctx, publisher.EventBridgeConfig{
			EventBusName: cfg.EventBusName,
			Source:       cfg.Source,
			Region:       c.Config.AWSRegion,
		})
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Backend)
	}
}

// redisClient returns the client shared by the Redis store, index and
// publisher.
func (c *Container) redisClient() *redis.Client {
	if c.redis == nil {
		r := c.Config.Store.Redis
		c.redis = redis.NewClient(&redis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
		})
		c.closers = append(c.closers, c.redis.Close)
	}
	return c.redis
}

func indexPrefix(storePrefix string) string {
	if storePrefix == "" {
		return ""
	}
	return storePrefix + "index:"
}

// Relay returns an outbox relay for the store, or an error if the store
// does not keep an outbox.
func (c *Container) Relay() (*publisher.Relay, error) {
	outbox, ok := eventstore.AsOutbox(c.Store)
	if !ok || !c.Config.Store.Outbox {
		return nil, fmt.Errorf("event store %q has no outbox enabled", c.Config.Store.Backend)
	}
	return publisher.NewRelay(outbox, c.Bus, publisher.RelayConfig{
		Schedule:  c.Config.Publisher.RelaySchedule,
		BatchSize: c.Config.Publisher.RelayBatchSize,
	}), nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
