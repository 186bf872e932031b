package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/checkops/bank-connector/internal/domain"
)

// MemoryStore is a mutex-guarded Repository used for tests and local mode.
// Status transitions are compare-and-set under the store lock, giving the
// same one-winner guarantee the SQL store gets from conditional updates.
type MemoryStore struct {
	mu        sync.RWMutex
	configs   map[string]*domain.ConnectorConfig
	decisions map[uuid.UUID]*domain.Decision
	batches   map[uuid.UUID]*domain.CommitBatch
	records   map[uuid.UUID]*domain.CommitRecord
	acks      map[uuid.UUID][]*domain.BatchAcknowledgement
	reports   map[uuid.UUID][]*domain.ReconciliationReport
	audit     []domain.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:   make(map[string]*domain.ConnectorConfig),
		decisions: make(map[uuid.UUID]*domain.Decision),
		batches:   make(map[uuid.UUID]*domain.CommitBatch),
		records:   make(map[uuid.UUID]*domain.CommitRecord),
		acks:      make(map[uuid.UUID][]*domain.BatchAcknowledgement),
		reports:   make(map[uuid.UUID][]*domain.ReconciliationReport),
	}
}

// AddDecision seeds a source decision. Decisions arrive from the upstream
// review system in production; this is the local-mode entry point.
func (s *MemoryStore) AddDecision(d domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions[d.ID] = &d
}

func (s *MemoryStore) SaveConnectorConfig(ctx context.Context, cfg *domain.ConnectorConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cfg
	s.configs[cfg.TenantID] = &c

	return nil
}

func (s *MemoryStore) GetConnectorConfig(ctx context.Context, tenantID string) (*domain.ConnectorConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, exists := s.configs[tenantID]
	if !exists {
		return nil, domain.NewNotFound("connector config", tenantID)
	}

	c := *cfg
	return &c, nil
}

func (s *MemoryStore) EligibleDecisions(ctx context.Context, tenantID string, criteria domain.SelectionCriteria) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var eligible []domain.Decision
	for _, d := range s.decisions {
		if d.TenantID != tenantID {
			continue
		}
		if !criteria.ApprovedSince.IsZero() && d.ApprovedAt.Before(criteria.ApprovedSince) {
			continue
		}
		if s.decisionCommittedLocked(d.ID) {
			continue
		}
		eligible = append(eligible, *d)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].ApprovedAt.Equal(eligible[j].ApprovedAt) {
			return eligible[i].CheckItemID < eligible[j].CheckItemID
		}
		return eligible[i].ApprovedAt.Before(eligible[j].ApprovedAt)
	})

	if criteria.Limit > 0 && len(eligible) > criteria.Limit {
		eligible = eligible[:criteria.Limit]
	}

	return eligible, nil
}

// decisionCommittedLocked reports whether a decision is already bound to a
// batch that still counts: only cancellation frees a decision for re-commit.
func (s *MemoryStore) decisionCommittedLocked(decisionID uuid.UUID) bool {
	for _, r := range s.records {
		if r.DecisionID != decisionID {
			continue
		}
		batch, exists := s.batches[r.BatchID]
		if exists && batch.Status != domain.BatchStatusCancelled {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateBatch(ctx context.Context, batch *domain.CommitBatch, records []domain.CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.batches {
		if b.TenantID == batch.TenantID && !b.Status.Terminal() {
			return &domain.BatchStateError{
				BatchID: b.ID.String(),
				Current: b.Status,
				Reason:  "an open batch already exists for this tenant",
			}
		}
	}

	for _, r := range records {
		if s.decisionCommittedLocked(r.DecisionID) {
			return &domain.BatchStateError{
				BatchID: batch.ID.String(),
				Current: batch.Status,
				Reason:  "decision " + r.DecisionID.String() + " is already committed in another batch",
			}
		}
	}

	b := *batch
	s.batches[batch.ID] = &b
	for _, r := range records {
		rec := r
		s.records[r.ID] = &rec
	}

	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, id uuid.UUID) (*domain.CommitBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batches[id]
	if !exists {
		return nil, domain.NewNotFound("batch", id.String())
	}

	b := *batch
	return &b, nil
}

func (s *MemoryStore) BatchesByTenant(ctx context.Context, tenantID string) ([]domain.CommitBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var batches []domain.CommitBatch
	for _, b := range s.batches {
		if b.TenantID == tenantID {
			batches = append(batches, *b)
		}
	}

	// newest first
	sort.Slice(batches, func(i, j int) bool {
		if batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].ID.String() > batches[j].ID.String()
		}
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})

	return batches, nil
}

func (s *MemoryStore) FindOpenBatch(ctx context.Context, tenantID string) (*domain.CommitBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, b := range s.batches {
		if b.TenantID == tenantID && !b.Status.Terminal() {
			batch := *b
			return &batch, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) UpdateBatch(ctx context.Context, batch *domain.CommitBatch, expected domain.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.batches[batch.ID]
	if !exists {
		return domain.NewNotFound("batch", batch.ID.String())
	}

	if current.Status != expected {
		return &domain.BatchStateError{
			BatchID:   batch.ID.String(),
			Current:   current.Status,
			Attempted: batch.Status,
			Reason:    "stale batch status",
		}
	}

	b := *batch
	s.batches[batch.ID] = &b

	return nil
}

func (s *MemoryStore) RecordsByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.batches[batchID]; !exists {
		return nil, domain.NewNotFound("batch", batchID.String())
	}

	var records []domain.CommitRecord
	for _, r := range s.records {
		if r.BatchID == batchID {
			records = append(records, *r)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CheckItemID == records[j].CheckItemID {
			return records[i].ID.String() < records[j].ID.String()
		}
		return records[i].CheckItemID < records[j].CheckItemID
	})

	return records, nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id uuid.UUID) (*domain.CommitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, domain.NewNotFound("record", id.String())
	}

	r := *record
	return &r, nil
}

func (s *MemoryStore) UpdateRecord(ctx context.Context, record *domain.CommitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; !exists {
		return domain.NewNotFound("record", record.ID.String())
	}

	r := *record
	s.records[record.ID] = &r

	return nil
}

func (s *MemoryStore) CreateAcknowledgement(ctx context.Context, ack *domain.BatchAcknowledgement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *ack
	s.acks[ack.BatchID] = append(s.acks[ack.BatchID], &a)

	return nil
}

func (s *MemoryStore) FindAcknowledgementByHash(ctx context.Context, batchID uuid.UUID, payloadHash string) (*domain.BatchAcknowledgement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.acks[batchID] {
		if a.PayloadHash == payloadHash {
			ack := *a
			return &ack, nil
		}
	}

	return nil, nil
}

func (s *MemoryStore) CreateReport(ctx context.Context, report *domain.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *report
	s.reports[report.BatchID] = append(s.reports[report.BatchID], &r)

	return nil
}

func (s *MemoryStore) LatestReport(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.reports[batchID]
	if len(list) == 0 {
		return nil, domain.NewNotFound("reconciliation report", batchID.String())
	}

	r := *list[len(list)-1]
	return &r, nil
}

func (s *MemoryStore) AppendAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, *entry)

	return nil
}

func (s *MemoryStore) LatestAuditEntry(ctx context.Context) (*domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.audit) == 0 {
		return nil, nil
	}

	e := s.audit[len(s.audit)-1]
	return &e, nil
}

func (s *MemoryStore) AuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.AuditEntry, len(s.audit))
	copy(entries, s.audit)

	return entries, nil
}
