package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
	"github.com/checkops/bank-connector/pkg/retry"
)

type Config struct {
	QueueSize  int
	MaxRetries int
}

// Dispatcher is the fire-and-forget audit sink. Events are queued and
// appended to the hash-chained ledger by a single sequencer goroutine, so
// the chain can never fork under concurrent writers. A failure to append
// never propagates to the business transition that emitted the event; it
// raises an alarm instead.
type Dispatcher struct {
	repo       domain.Repository
	logger     *logger.Logger
	clock      domain.Clock
	queue      chan domain.AuditEvent
	maxRetries int

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	// sendMu orders late Appends against the queue close in Shutdown.
	sendMu sync.RWMutex
	closed bool

	dropped atomic.Int64
	alarms  atomic.Int64
}

func NewDispatcher(repo domain.Repository, log *logger.Logger, clock domain.Clock, cfg *Config) *Dispatcher {
	if cfg == nil {
		cfg = &Config{
			QueueSize:  1000,
			MaxRetries: 5,
		}
	}

	return &Dispatcher{
		repo:       repo,
		logger:     log,
		clock:      clock,
		queue:      make(chan domain.AuditEvent, cfg.QueueSize),
		maxRetries: cfg.MaxRetries,
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return nil
	}
	d.started = true

	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))

	d.wg.Add(1)
	go d.run()

	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for event := range d.queue {
		d.append(event)
	}
}

// Append enqueues an event without blocking the caller. A full queue or a
// shut-down sink is an alarm condition, not a caller error.
func (d *Dispatcher) Append(ctx context.Context, event domain.AuditEvent) {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Error(ctx, "AUDIT ALARM: sink shut down, event dropped",
			"action", event.Action,
			"resource_type", event.ResourceType,
			"resource_id", event.ResourceID,
			"dropped_total", d.dropped.Load(),
		)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		d.logger.Error(ctx, "AUDIT ALARM: queue full, event dropped",
			"action", event.Action,
			"resource_type", event.ResourceType,
			"resource_id", event.ResourceID,
			"dropped_total", d.dropped.Load(),
		)
	}
}

func (d *Dispatcher) append(event domain.AuditEvent) {
	err := retry.Do(d.ctx, func() error {
		prev, err := d.repo.LatestAuditEntry(d.ctx)
		if err != nil {
			return err
		}

		var seq int64 = 1
		prevHash := ""
		if prev != nil {
			seq = prev.Seq + 1
			prevHash = prev.Hash
		}

		entry, err := BuildEntry(event, seq, prevHash, d.clock.Now())
		if err != nil {
			return err
		}

		return d.repo.AppendAuditEntry(d.ctx, entry)
	},
		retry.WithMaxAttempts(d.maxRetries),
		retry.WithBaseDelay(10*time.Millisecond),
	)

	if err != nil {
		d.alarms.Add(1)
		d.logger.Error(d.ctx, "AUDIT ALARM: failed to append audit entry",
			"action", event.Action,
			"resource_type", event.ResourceType,
			"resource_id", event.ResourceID,
			"error", err,
		)
	}
}

// Shutdown stops accepting events and drains the queue, bounded by ctx.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.mu.Unlock()

	d.sendMu.Lock()
	d.closed = true
	d.sendMu.Unlock()

	close(d.queue)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}

	d.cancel()
	return nil
}

// Dropped reports how many events could not even be queued.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Alarms reports how many queued events failed to persist after retries.
func (d *Dispatcher) Alarms() int64 {
	return d.alarms.Load()
}

var _ domain.AuditSink = (*Dispatcher)(nil)
