// Package dynamodb implements eventstore.Store on Amazon DynamoDB.
//
// Table layout (single table):
//
//	PK     = "AGGREGATE#<aggregate-id>"
//	SK     = "VERSION#<zero-padded version>"
//	GSI1PK = "TYPE#<event-type>"
//	GSI1SK = fixed-width UTC timestamp
//
// An append is one TransactWriteItems call: a ConditionCheck that the
// expected version exists (for non-initial batches) plus one conditional Put
// per event. Versions are dense, so "expected exists and expected+1 does not"
// is the same as "latest == expected".
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
)

const (
	// TypeIndexName is the GSI used by EventsByType.
	TypeIndexName = "GSI1"

	// maxTransactItems is DynamoDB's TransactWriteItems limit.
	maxTransactItems = 100

	sortTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// API is the subset of the DynamoDB client used by Store.
type API interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config contains configuration for the DynamoDB event store.
type Config struct {
	TableName string
	Region    string
	// Endpoint overrides the service endpoint (DynamoDB Local).
	Endpoint string
}

// Store implements eventstore.Store using DynamoDB.
type Store struct {
	client API
	table  string
	mu     sync.RWMutex
	closed bool
}

// New creates a DynamoDB event store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewFromClient(client, cfg.TableName), nil
}

// NewFromClient creates a store from an existing client.
func NewFromClient(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// Key helpers
func partitionKey(aggregateID string) string {
	return "AGGREGATE#" + aggregateID
}

func sortKey(version int64) string {
	return fmt.Sprintf("VERSION#%010d", version)
}

func typeKey(eventType string) string {
	return "TYPE#" + eventType
}

func typeSortKey(t time.Time) string {
	return t.UTC().Format(sortTimeLayout)
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return eventstore.ErrStorageClosed
	}
	return nil
}

// Append adds a batch of events for one aggregate in one transaction.
func (s *Store) Append(ctx context.Context, aggregateID string, events []eventstore.StoredEvent) error {
	if len(events) == 0 {
		return nil
	}
	if err := eventstore.ValidateBatch(aggregateID, events); err != nil {
		return err
	}
	if len(events) >= maxTransactItems {
		return fmt.Errorf("%w: batch of %d exceeds the transaction limit", eventstore.ErrInvalidBatch, len(events))
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	expected := events[0].Version - 1
	items := make([]types.TransactWriteItem, 0, len(events)+1)
	if expected > 0 {
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName: aws.String(s.table),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: partitionKey(aggregateID)},
					"SK": &types.AttributeValueMemberS{Value: sortKey(expected)},
				},
				ConditionExpression: aws.String("attribute_exists(PK)"),
			},
		})
	}
	for _, ev := range events {
		item, err := toItem(ev)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(s.table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		})
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}
	if isConflict(err) {
		actual, lerr := s.LatestVersion(ctx, aggregateID)
		if lerr != nil {
			actual = -1
		}
		return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expected, Actual: actual}
	}
	return fmt.Errorf("append events: %w", err)
}

// Events returns the aggregate's events with Version >= fromVersion.
func (s *Store) Events(ctx context.Context, aggregateID string, fromVersion int64) ([]eventstore.StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if fromVersion < 1 {
		fromVersion = 1
	}

	return s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND SK >= :sk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(aggregateID)},
			":sk": &types.AttributeValueMemberS{Value: sortKey(fromVersion)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}, 0)
}

// LatestVersion returns the aggregate's latest version.
func (s *Store) LatestVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: partitionKey(aggregateID)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("read latest version: %w", err)
	}
	if len(out.Items) == 0 {
		return 0, nil
	}
	ev, err := fromItem(out.Items[0])
	if err != nil {
		return 0, err
	}
	return ev.Version, nil
}

// EventsByType returns events of one type ordered by timestamp via the GSI.
func (s *Store) EventsByType(ctx context.Context, eventType string, q eventstore.TypeQuery) ([]eventstore.StoredEvent, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(TypeIndexName),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: typeKey(eventType)},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if !q.From.IsZero() {
		in.KeyConditionExpression = aws.String("GSI1PK = :pk AND GSI1SK >= :sk")
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: typeSortKey(q.From)}
	}
	return s.query(ctx, in, q.EffectiveLimit())
}

func (s *Store) query(ctx context.Context, in *dynamodb.QueryInput, limit int) ([]eventstore.StoredEvent, error) {
	events := make([]eventstore.StoredEvent, 0)
	paginator := dynamodb.NewQueryPaginator(s.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		for _, item := range page.Items {
			ev, err := fromItem(item)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			if limit > 0 && len(events) >= limit {
				return events, nil
			}
		}
	}
	return events, nil
}

// Ping checks that the table is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)}); err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	return nil
}

// Close marks the store closed. The SDK client holds no resources to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func isConflict(err error) bool {
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			code := aws.ToString(r.Code)
			if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
				return true
			}
		}
		return false
	}
	var condFailed *types.ConditionalCheckFailedException
	return errors.As(err, &condFailed)
}

func toItem(ev eventstore.StoredEvent) (map[string]types.AttributeValue, error) {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: partitionKey(ev.AggregateID)},
		"SK":             &types.AttributeValueMemberS{Value: sortKey(ev.Version)},
		"GSI1PK":         &types.AttributeValueMemberS{Value: typeKey(ev.EventType)},
		"GSI1SK":         &types.AttributeValueMemberS{Value: typeSortKey(ev.Timestamp)},
		"aggregate_id":   &types.AttributeValueMemberS{Value: ev.AggregateID},
		"aggregate_type": &types.AttributeValueMemberS{Value: ev.AggregateType},
		"event_type":     &types.AttributeValueMemberS{Value: ev.EventType},
		"event_data":     &types.AttributeValueMemberS{Value: string(ev.EventData)},
		"version":        &types.AttributeValueMemberN{Value: strconv.FormatInt(ev.Version, 10)},
		"timestamp":      &types.AttributeValueMemberS{Value: ev.Timestamp.UTC().Format(time.RFC3339Nano)},
		"metadata":       &types.AttributeValueMemberS{Value: string(meta)},
	}, nil
}

func fromItem(item map[string]types.AttributeValue) (eventstore.StoredEvent, error) {
	str := func(name string) string {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
		return ""
	}

	var ev eventstore.StoredEvent
	ev.AggregateID = str("aggregate_id")
	ev.AggregateType = str("aggregate_type")
	ev.EventType = str("event_type")
	ev.EventData = json.RawMessage(str("event_data"))

	n, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return ev, fmt.Errorf("event item %s: missing version", str("SK"))
	}
	version, err := strconv.ParseInt(strings.TrimSpace(n.Value), 10, 64)
	if err != nil {
		return ev, fmt.Errorf("event item %s: parse version: %w", str("SK"), err)
	}
	ev.Version = version

	ts, err := time.Parse(time.RFC3339Nano, str("timestamp"))
	if err != nil {
		return ev, fmt.Errorf("event item %s: parse timestamp: %w", str("SK"), err)
	}
	ev.Timestamp = ts

	if raw := str("metadata"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &ev.Metadata); err != nil {
			return ev, fmt.Errorf("event item %s: unmarshal metadata: %w", str("SK"), err)
		}
	}
	return ev, nil
}
