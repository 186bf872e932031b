package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
)

type ReconService interface {
	Reconcile(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error)
	LatestReport(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error)
}

type reconService struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *logger.Logger
}

func NewReconService(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, log *logger.Logger) ReconService {
	return &reconService{
		repo:   repo,
		audit:  audit,
		clock:  clock,
		logger: log,
	}
}

// Reconcile compares each record's expected outcome against what the bank
// acknowledged and produces an immutable report. matched + mismatched +
// unacknowledged always equals the batch record count. Zero discrepancies
// moves the batch to RECONCILED, anything else to FAILED_RECONCILIATION;
// unacknowledged records are surfaced for follow-up, never dropped.
func (s *reconService) Reconcile(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if batch.Status != domain.BatchStatusAcknowledged {
		return nil, &domain.BatchStateError{
			BatchID:   batch.ID.String(),
			Current:   batch.Status,
			Attempted: domain.BatchStatusReconciled,
			Reason:    "reconciliation requires an acknowledged batch",
		}
	}

	records, err := s.repo.RecordsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	matched, mismatched, unacknowledged := 0, 0, 0
	var discrepancies []domain.Discrepancy

	for _, r := range records {
		expected := expectedOutcome(r.DecisionType)

		switch {
		case !r.Status.Terminal():
			unacknowledged++
			discrepancies = append(discrepancies, domain.Discrepancy{
				RecordID:    r.ID,
				CheckItemID: r.CheckItemID,
				Expected:    expected,
				Actual:      r.Status,
				Category:    domain.CategoryUnacknowledged,
				Detail:      "no acknowledgement received for this record",
			})
		case r.Status == expected || r.Status == domain.RecordStatusManuallyResolved:
			matched++
		default:
			mismatched++
			discrepancies = append(discrepancies, domain.Discrepancy{
				RecordID:    r.ID,
				CheckItemID: r.CheckItemID,
				Expected:    expected,
				Actual:      r.Status,
				Category:    mismatchCategory(r),
				Detail:      stringOrEmpty(r.AckMessage),
			})
		}
	}

	now := s.clock.Now()
	report := &domain.ReconciliationReport{
		ID:             uuid.New(),
		BatchID:        batchID,
		Matched:        matched,
		Mismatched:     mismatched,
		Unacknowledged: unacknowledged,
		CreatedAt:      now,
	}
	if len(discrepancies) > 0 {
		raw, err := json.Marshal(discrepancies)
		if err != nil {
			return nil, err
		}
		report.Discrepancies = datatypes.JSON(raw)
	}

	if err := s.repo.CreateReport(ctx, report); err != nil {
		return nil, err
	}

	next := domain.BatchStatusReconciled
	if mismatched > 0 || unacknowledged > 0 {
		next = domain.BatchStatusFailedReconcile
	}

	batch.Status = next
	batch.ReconciledAt = &now
	if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusAcknowledged); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Batch reconciled",
		"matched", matched,
		"mismatched", mismatched,
		"unacknowledged", unacknowledged,
		"batch_status", next,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      "system",
		Action:       "batch.reconciled",
		ResourceType: "reconciliation_report",
		ResourceID:   report.ID.String(),
		Before:       map[string]interface{}{"status": domain.BatchStatusAcknowledged},
		After: map[string]interface{}{
			"batch_id":       batchID.String(),
			"status":         next,
			"matched":        matched,
			"mismatched":     mismatched,
			"unacknowledged": unacknowledged,
		},
	})

	return report, nil
}

func (s *reconService) LatestReport(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error) {
	return s.repo.LatestReport(ctx, batchID)
}

// expectedOutcome maps a commit decision to the acknowledgement it should
// draw. The bank accepts the instruction itself regardless of whether it
// pays, returns or holds the underlying check, so every decision type
// expects an accepted record.
func expectedOutcome(domain.DecisionType) domain.RecordStatus {
	return domain.RecordStatusAccepted
}

func mismatchCategory(r domain.CommitRecord) domain.ErrorCategory {
	if r.AckCategory != nil {
		return *r.AckCategory
	}
	return domain.CategoryFormatRejected
}
