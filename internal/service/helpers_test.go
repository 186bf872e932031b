package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/internal/storage"
	"github.com/checkops/bank-connector/pkg/logger"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// recordingSink captures audit events synchronously for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *recordingSink) Append(_ context.Context, event domain.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	actions := make([]string, 0, len(s.events))
	for _, e := range s.events {
		actions = append(actions, e.Action)
	}
	return actions
}

type testEnv struct {
	store *storage.MemoryStore
	sink  *recordingSink
	clock *fakeClock
	log   *logger.Logger

	batches BatchService
	files   FileService
	acks    AckService
	recon   ReconService
	configs ConfigService
}

func newTestEnv() *testEnv {
	store := storage.NewMemoryStore()
	sink := &recordingSink{}
	clock := newFakeClock()
	log := logger.NewNop()

	return &testEnv{
		store:   store,
		sink:    sink,
		clock:   clock,
		log:     log,
		batches: NewBatchService(store, sink, clock, log),
		files:   NewFileService(store, sink, clock, log),
		acks:    NewAckService(store, sink, clock, log),
		recon:   NewReconService(store, sink, clock, log),
		configs: NewConfigService(store, sink, clock, log),
	}
}

func (e *testEnv) seedConfig(tenantID string, format domain.FileFormat) {
	e.store.SaveConnectorConfig(context.Background(), &domain.ConnectorConfig{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Version:        1,
		Format:         format,
		DeliveryMethod: "sftp",
		IncludeHeader:  true,
		CreatedAt:      e.clock.Now(),
		UpdatedAt:      e.clock.Now(),
	})
}

func (e *testEnv) seedDecision(tenantID, checkItemID string, outcome domain.DecisionType, amount int64) domain.Decision {
	d := domain.Decision{
		ID:            uuid.New(),
		TenantID:      tenantID,
		CheckItemID:   checkItemID,
		Outcome:       outcome,
		Amount:        amount,
		AccountNumber: "1234567890",
		RoutingNumber: "021000021",
		ApprovedAt:    e.clock.Now(),
	}
	if outcome == domain.DecisionTypeHold {
		reason := "SUSPECTED_FRAUD"
		d.HoldReasonCode = &reason
	}
	e.store.AddDecision(d)
	return d
}

// advanceTo walks a freshly built batch to the requested status.
func (e *testEnv) advanceTo(batch *domain.CommitBatch, target domain.BatchStatus) error {
	ctx := context.Background()

	steps := []domain.BatchStatus{
		domain.BatchStatusApproved,
		domain.BatchStatusFileGenerated,
		domain.BatchStatusDelivered,
	}

	for _, step := range steps {
		current, err := e.store.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		if current.Status == target {
			*batch = *current
			return nil
		}

		switch step {
		case domain.BatchStatusApproved:
			if _, err := e.batches.Approve(ctx, batch.ID, "approver-1"); err != nil {
				return err
			}
		case domain.BatchStatusFileGenerated:
			if _, _, err := e.files.Generate(ctx, batch.ID); err != nil {
				return err
			}
		case domain.BatchStatusDelivered:
			if _, err := e.batches.MarkDelivered(ctx, batch.ID); err != nil {
				return err
			}
		}
	}

	current, err := e.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return err
	}
	*batch = *current
	return nil
}
