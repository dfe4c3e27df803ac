package publisher

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/agentcore-lab/agentcore/pkg/eventstore"
	"github.com/agentcore-lab/agentcore/pkg/observability"
)

const (
	// DefaultRelaySchedule is the cron spec the relay drains on.
	DefaultRelaySchedule = "@every 2s"
	// DefaultRelayBatchSize is the number of records read per drain.
	DefaultRelayBatchSize = 100
)

// RelayConfig contains configuration for a Relay.
type RelayConfig struct {
	Schedule  string
	BatchSize int
}

// Relay moves outbox records from an event store to a publisher.
// Records are published in outbox order; a failure stops the drain so later
// events of the same session are not delivered ahead of it. Drains never
// overlap, so a record is not read twice while its first delivery is in
// flight.
type Relay struct {
	outbox    eventstore.Outbox
	publisher Publisher
	schedule  string
	batchSize int

	drainMu sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRelay creates a relay. It does nothing until Start or DrainOnce.
func NewRelay(outbox eventstore.Outbox, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultRelaySchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultRelayBatchSize
	}
	return &Relay{
		outbox:    outbox,
		publisher: pub,
		schedule:  cfg.Schedule,
		batchSize: cfg.BatchSize,
	}
}

// DrainOnce publishes up to one batch of pending records and acknowledges
// the ones that were delivered. It returns the number acknowledged.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	r.drainMu.Lock()
	defer r.drainMu.Unlock()

	records, err := r.outbox.PendingOutbox(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	delivered := make([]string, 0, len(records))
	var publishErr error
	for _, rec := range records {
		if err := r.publisher.Publish(ctx, rec.Event.EventData, rec.Event.EventType); err != nil {
			observability.RecordPublish(rec.Event.EventType, "error")
			publishErr = fmt.Errorf("publish %s: %w", rec.ID, err)
			break
		}
		observability.RecordPublish(rec.Event.EventType, "ok")
		delivered = append(delivered, rec.ID)
	}

	if len(delivered) > 0 {
		if err := r.outbox.AckOutbox(ctx, delivered...); err != nil {
			return 0, fmt.Errorf("ack outbox: %w", err)
		}
	}
	return len(delivered), publishErr
}

// Start drains the outbox on the configured schedule until Stop.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("relay already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))))
	_, err := c.AddFunc(r.schedule, func() {
		n, err := r.DrainOnce(ctx)
		if err != nil {
			log.Printf("[relay] drain failed after %d records: %v", n, err)
			return
		}
		if n > 0 {
			log.Printf("[relay] relayed %d events", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid relay schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.cron = c
	r.running = true
	log.Printf("[relay] started (%s)", r.schedule)
	return nil
}

// Stop stops the schedule and waits for a running drain to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	<-r.cron.Stop().Done()
	r.running = false
	log.Printf("[relay] stopped")
}
