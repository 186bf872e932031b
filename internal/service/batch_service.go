package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
)

type BatchService interface {
	Build(ctx context.Context, tenantID string, criteria domain.SelectionCriteria, actorID string) (*domain.CommitBatch, error)
	Approve(ctx context.Context, batchID uuid.UUID, approverID string) (*domain.CommitBatch, error)
	Cancel(ctx context.Context, batchID uuid.UUID, actorID, reason string) (*domain.CommitBatch, error)
	MarkDelivered(ctx context.Context, batchID uuid.UUID) (*domain.CommitBatch, error)
	ResolveRecord(ctx context.Context, recordID uuid.UUID, resolution, actorID string) (*domain.CommitRecord, error)
	GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.CommitBatch, []domain.CommitRecord, error)
	ListBatches(ctx context.Context, tenantID string) ([]domain.CommitBatch, error)
}

type batchService struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *logger.Logger
}

func NewBatchService(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, log *logger.Logger) BatchService {
	return &batchService{
		repo:   repo,
		audit:  audit,
		clock:  clock,
		logger: log,
	}
}

// Build assembles a DRAFT batch from eligible decisions, freezing amount and
// account fields per record. At most one non-terminal batch may exist per
// tenant; CreateBatch re-checks that inside its transaction so two
// concurrent builds cannot both win.
func (s *batchService) Build(ctx context.Context, tenantID string, criteria domain.SelectionCriteria, actorID string) (*domain.CommitBatch, error) {
	ctx = logger.WithTenantID(ctx, tenantID)

	cfg, err := s.repo.GetConnectorConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenBatch(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, &domain.BatchStateError{
			BatchID: open.ID.String(),
			Current: open.Status,
			Reason:  "an open batch already exists for this tenant",
		}
	}

	decisions, err := s.repo.EligibleDecisions(ctx, tenantID, criteria)
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, domain.ErrNoEligibleDecisions
	}

	now := s.clock.Now()
	batch := &domain.CommitBatch{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Status:        domain.BatchStatusDraft,
		CreatorID:     actorID,
		Format:        cfg.Format,
		ConfigVersion: cfg.Version,
		RecordCount:   len(decisions),
		CreatedAt:     now,
	}

	records := make([]domain.CommitRecord, 0, len(decisions))
	for _, d := range decisions {
		if d.Outcome == domain.DecisionTypeHold && (d.HoldReasonCode == nil || *d.HoldReasonCode == "") {
			return nil, fmt.Errorf("decision %s: %w", d.ID, domain.ErrHoldReasonRequired)
		}

		records = append(records, domain.CommitRecord{
			ID:             uuid.New(),
			BatchID:        batch.ID,
			DecisionID:     d.ID,
			CheckItemID:    d.CheckItemID,
			DecisionType:   d.Outcome,
			HoldReasonCode: d.HoldReasonCode,
			Amount:         d.Amount,
			AccountNumber:  d.AccountNumber,
			RoutingNumber:  d.RoutingNumber,
			Status:         domain.RecordStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		batch.TotalAmount += d.Amount
	}

	if err := s.repo.CreateBatch(ctx, batch, records); err != nil {
		return nil, err
	}

	ctx = logger.WithBatchID(ctx, batch.ID.String())
	s.logger.Info(ctx, "Batch created",
		"record_count", batch.RecordCount,
		"total_amount", batch.TotalAmount,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      actorID,
		Action:       "batch.created",
		ResourceType: "commit_batch",
		ResourceID:   batch.ID.String(),
		After: map[string]interface{}{
			"status":             batch.Status,
			"record_count":       batch.RecordCount,
			"total_amount":       batch.TotalAmount,
			"selection_criteria": criteria,
		},
	})

	return batch, nil
}

// Approve enforces dual control: the approver must differ from the creator.
// A violation is surfaced and audit-logged as a security-relevant event,
// never silently bypassed.
func (s *batchService) Approve(ctx context.Context, batchID uuid.UUID, approverID string) (*domain.CommitBatch, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if err := domain.ValidateTransition(batch.ID.String(), batch.Status, domain.BatchStatusApproved); err != nil {
		return nil, err
	}

	if approverID == batch.CreatorID {
		violation := &domain.DualControlViolation{BatchID: batch.ID.String(), ActorID: approverID}

		s.logger.Warn(ctx, "Dual control violation",
			"actor_id", approverID,
		)
		s.audit.Append(ctx, domain.AuditEvent{
			ActorID:      approverID,
			Action:       "batch.approval_rejected.dual_control",
			ResourceType: "commit_batch",
			ResourceID:   batch.ID.String(),
			Before:       map[string]interface{}{"status": batch.Status},
		})

		return nil, violation
	}

	now := s.clock.Now()
	batch.Status = domain.BatchStatusApproved
	batch.ApproverID = &approverID
	batch.ApprovedAt = &now

	if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusDraft); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Batch approved",
		"approver_id", approverID,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      approverID,
		Action:       "batch.approved",
		ResourceType: "commit_batch",
		ResourceID:   batch.ID.String(),
		Before:       map[string]interface{}{"status": domain.BatchStatusDraft},
		After:        map[string]interface{}{"status": batch.Status, "approver_id": approverID},
	})

	return batch, nil
}

// Cancel is terminal and only legal before file generation.
func (s *batchService) Cancel(ctx context.Context, batchID uuid.UUID, actorID, reason string) (*domain.CommitBatch, error) {
	if reason == "" {
		return nil, domain.ErrCancelReasonRequired
	}

	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if err := domain.ValidateTransition(batch.ID.String(), batch.Status, domain.BatchStatusCancelled); err != nil {
		return nil, err
	}

	previous := batch.Status
	batch.Status = domain.BatchStatusCancelled
	batch.CancelReason = &reason

	if err := s.repo.UpdateBatch(ctx, batch, previous); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Batch cancelled",
		"actor_id", actorID,
		"reason", reason,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      actorID,
		Action:       "batch.cancelled",
		ResourceType: "commit_batch",
		ResourceID:   batch.ID.String(),
		Before:       map[string]interface{}{"status": previous},
		After:        map[string]interface{}{"status": batch.Status, "reason": reason},
	})

	return batch, nil
}

// MarkDelivered records the external delivery signal. File transport itself
// happens outside this service.
func (s *batchService) MarkDelivered(ctx context.Context, batchID uuid.UUID) (*domain.CommitBatch, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if err := domain.ValidateTransition(batch.ID.String(), batch.Status, domain.BatchStatusDelivered); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	batch.Status = domain.BatchStatusDelivered
	batch.DeliveredAt = &now

	if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusFileGenerated); err != nil {
		return nil, err
	}

	records, err := s.repo.RecordsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Status != domain.RecordStatusPending {
			continue
		}
		records[i].Status = domain.RecordStatusDelivered
		records[i].UpdatedAt = now
		if err := s.repo.UpdateRecord(ctx, &records[i]); err != nil {
			return nil, err
		}
	}

	s.logger.Info(ctx, "Batch marked delivered")

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      "system",
		Action:       "batch.delivered",
		ResourceType: "commit_batch",
		ResourceID:   batch.ID.String(),
		Before:       map[string]interface{}{"status": domain.BatchStatusFileGenerated},
		After:        map[string]interface{}{"status": batch.Status},
	})

	return batch, nil
}

// ResolveRecord moves a single discrepant record to a manually-resolved
// terminal status without reopening the batch. The batch keeps its
// FAILED_RECONCILIATION status; once every discrepant record is resolved the
// batch gets resolved_at stamped so operators can filter closed-out failures.
func (s *batchService) ResolveRecord(ctx context.Context, recordID uuid.UUID, resolution, actorID string) (*domain.CommitRecord, error) {
	record, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	batch, err := s.repo.GetBatch(ctx, record.BatchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if batch.Status != domain.BatchStatusFailedReconcile {
		return nil, &domain.BatchStateError{
			BatchID: batch.ID.String(),
			Current: batch.Status,
			Reason:  "record resolution requires a failed reconciliation",
		}
	}

	switch record.Status {
	case domain.RecordStatusManuallyResolved:
		return nil, &domain.BatchStateError{
			BatchID: batch.ID.String(),
			Current: batch.Status,
			Reason:  "record " + record.ID.String() + " is already resolved",
		}
	case domain.RecordStatusAccepted:
		return nil, &domain.BatchStateError{
			BatchID: batch.ID.String(),
			Current: batch.Status,
			Reason:  "record " + record.ID.String() + " was accepted and needs no resolution",
		}
	}

	previous := record.Status
	now := s.clock.Now()
	record.Status = domain.RecordStatusManuallyResolved
	record.Resolution = &resolution
	record.UpdatedAt = now

	if err := s.repo.UpdateRecord(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Record manually resolved",
		"record_id", record.ID.String(),
		"actor_id", actorID,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      actorID,
		Action:       "record.resolved",
		ResourceType: "commit_record",
		ResourceID:   record.ID.String(),
		Before:       map[string]interface{}{"status": previous},
		After:        map[string]interface{}{"status": record.Status, "resolution": resolution},
	})

	records, err := s.repo.RecordsByBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	outstanding := 0
	for _, r := range records {
		if r.Status != domain.RecordStatusAccepted && r.Status != domain.RecordStatusManuallyResolved {
			outstanding++
		}
	}

	if outstanding == 0 && batch.ResolvedAt == nil {
		batch.ResolvedAt = &now
		if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusFailedReconcile); err != nil {
			return nil, err
		}

		s.audit.Append(ctx, domain.AuditEvent{
			ActorID:      actorID,
			Action:       "batch.fully_resolved",
			ResourceType: "commit_batch",
			ResourceID:   batch.ID.String(),
			After:        map[string]interface{}{"status": batch.Status, "resolved_at": now},
		})
	}

	return record, nil
}

func (s *batchService) GetBatch(ctx context.Context, batchID uuid.UUID) (*domain.CommitBatch, []domain.CommitRecord, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	records, err := s.repo.RecordsByBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}

	return batch, records, nil
}

func (s *batchService) ListBatches(ctx context.Context, tenantID string) ([]domain.CommitBatch, error) {
	return s.repo.BatchesByTenant(ctx, tenantID)
}
