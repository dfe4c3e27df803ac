package publisher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

const (
	// DefaultEventBusName is the bus events are put on when none is configured.
	DefaultEventBusName = "agentcore-poc-events"
	// DefaultSource is the Source of every entry.
	DefaultSource = "agentcore.poc"

	// PutEvents accepts at most 10 entries per call.
	maxPutEntries = 10
)

// EventBridgeAPI is the subset of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
	DescribeEventBus(ctx context.Context, params *eventbridge.DescribeEventBusInput, optFns ...func(*eventbridge.Options)) (*eventbridge.DescribeEventBusOutput, error)
}

// EventBridgeConfig contains configuration for the EventBridge publisher.
type EventBridgeConfig struct {
	EventBusName string
	Source       string
	Region       string
}

// EventBridgePublisher puts events on an Amazon EventBridge bus.
type EventBridgePublisher struct {
	client  EventBridgeAPI
	busName string
	source  string
}

// NewEventBridgePublisher creates a publisher using the default AWS
// credential chain.
func NewEventBridgePublisher(ctx context.Context, cfg EventBridgeConfig) (*EventBridgePublisher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEventBridgePublisherFromClient(eventbridge.NewFromConfig(awsCfg), cfg), nil
}

// NewEventBridgePublisherFromClient creates a publisher from an existing client.
func NewEventBridgePublisherFromClient(client EventBridgeAPI, cfg EventBridgeConfig) *EventBridgePublisher {
	if cfg.EventBusName == "" {
		cfg.EventBusName = DefaultEventBusName
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	return &EventBridgePublisher{client: client, busName: cfg.EventBusName, source: cfg.Source}
}

// Ping checks that the bus exists and is reachable.
func (p *EventBridgePublisher) Ping(ctx context.Context) error {
	if _, err := p.client.DescribeEventBus(ctx, &eventbridge.DescribeEventBusInput{Name: aws.String(p.busName)}); err != nil {
		return fmt.Errorf("describe event bus %s: %w", p.busName, err)
	}
	return nil
}

// Publish puts one event.
func (p *EventBridgePublisher) Publish(ctx context.Context, event any, eventType string) error {
	return p.PublishBatch(ctx, []Envelope{{Event: event, EventType: eventType}})
}

// PublishBatch puts events in chunks of 10. Every chunk is attempted; failed
// entries are logged and reported as ErrPartialPublish.
func (p *EventBridgePublisher) PublishBatch(ctx context.Context, envelopes []Envelope) error {
	if len(envelopes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	entries := make([]types.PutEventsRequestEntry, len(envelopes))
	for i, env := range envelopes {
		detail, err := Detail(env.Event)
		if err != nil {
			return err
		}
		entries[i] = types.PutEventsRequestEntry{
			Source:       aws.String(p.source),
			DetailType:   aws.String(env.EventType),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(p.busName),
			Time:         aws.Time(now),
		}
	}

	failed := 0
	for start := 0; start < len(entries); start += maxPutEntries {
		end := min(start+maxPutEntries, len(entries))
		out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries[start:end]})
		if err != nil {
			return fmt.Errorf("put events: %w", err)
		}
		if out.FailedEntryCount == 0 {
			continue
		}
		failed += int(out.FailedEntryCount)
		for i, res := range out.Entries {
			if res.ErrorCode != nil {
				log.Printf("[publisher] eventbridge rejected %s: %s %s",
					aws.ToString(entries[start+i].DetailType), aws.ToString(res.ErrorCode), aws.ToString(res.ErrorMessage))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPartialPublish, failed, len(entries))
	}
	return nil
}
