package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
)

type AckService interface {
	Ingest(ctx context.Context, batchID uuid.UUID, payload []byte) (*domain.BatchAcknowledgement, error)
}

// ackPayload is the wire format the bank middleware returns per batch.
type ackPayload struct {
	BatchRef string       `json:"batch_ref"`
	Records  []ackOutcome `json:"records"`
}

type ackOutcome struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message,omitempty"`
}

type ackService struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *logger.Logger
}

func NewAckService(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, log *logger.Logger) AckService {
	return &ackService{
		repo:   repo,
		audit:  audit,
		clock:  clock,
		logger: log,
	}
}

// Ingest applies one acknowledgement wave. The first outcome for a record
// is authoritative; later conflicting outcomes become anomalies instead of
// overwrites, which guards against duplicate or out-of-order ack files.
// Replaying a byte-identical payload returns the previously stored
// acknowledgement without touching any record.
func (s *ackService) Ingest(ctx context.Context, batchID uuid.UUID, payload []byte) (*domain.BatchAcknowledgement, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if batch.Status != domain.BatchStatusDelivered && batch.Status != domain.BatchStatusAcknowledged {
		return nil, &domain.BatchStateError{
			BatchID:   batch.ID.String(),
			Current:   batch.Status,
			Attempted: domain.BatchStatusAcknowledged,
			Reason:    "acknowledgements are accepted only after delivery",
		}
	}

	sum := sha256.Sum256(payload)
	payloadHash := hex.EncodeToString(sum[:])

	existing, err := s.repo.FindAcknowledgementByHash(ctx, batchID, payloadHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info(ctx, "Duplicate acknowledgement payload, no-op",
			"payload_hash", payloadHash,
		)
		return existing, nil
	}

	var parsed ackPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if parsed.BatchRef != "" && parsed.BatchRef != batch.ID.String() {
		return nil, fmt.Errorf("%w: batch_ref %q does not match batch %s",
			domain.ErrMalformedPayload, parsed.BatchRef, batch.ID)
	}

	records, err := s.repo.RecordsByBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.CommitRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	now := s.clock.Now()
	applied := 0
	var anomalies []domain.AckAnomaly

	for _, outcome := range parsed.Records {
		recordID, err := uuid.Parse(outcome.RecordID)
		if err != nil {
			anomalies = append(anomalies, domain.AckAnomaly{
				RecordID: outcome.RecordID,
				Category: domain.CategoryMalformedEntry,
				Detail:   "unparseable record id",
			})
			continue
		}

		record, inBatch := byID[recordID]
		if !inBatch {
			anomalies = append(anomalies, domain.AckAnomaly{
				RecordID: outcome.RecordID,
				Category: domain.CategoryUnknownRecord,
				Detail:   "record does not belong to this batch",
			})
			continue
		}

		target, category, ok := mapOutcome(outcome)
		if !ok {
			anomalies = append(anomalies, domain.AckAnomaly{
				RecordID: outcome.RecordID,
				Category: domain.CategoryMalformedEntry,
				Detail:   fmt.Sprintf("unknown outcome status %q", outcome.Status),
			})
			continue
		}

		if record.Status.Terminal() {
			if record.Status == target {
				// replayed outcome, nothing to do
				continue
			}
			anomalies = append(anomalies, domain.AckAnomaly{
				RecordID: outcome.RecordID,
				Category: domain.CategoryStatusConflict,
				Detail: fmt.Sprintf("record already %s, conflicting outcome %q ignored",
					record.Status, outcome.Status),
			})
			continue
		}

		record.Status = target
		record.AckCategory = category
		if outcome.Message != "" {
			msg := outcome.Message
			record.AckMessage = &msg
		}
		record.UpdatedAt = now

		if err := s.repo.UpdateRecord(ctx, record); err != nil {
			return nil, err
		}
		applied++
	}

	allTerminal := true
	for _, r := range byID {
		if !r.Status.Terminal() {
			allTerminal = false
			break
		}
	}

	if allTerminal && batch.Status == domain.BatchStatusDelivered {
		batch.Status = domain.BatchStatusAcknowledged
		batch.AcknowledgedAt = &now
		if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusDelivered); err != nil {
			return nil, err
		}
	}

	status := domain.AckStatusProcessed
	if len(anomalies) > 0 {
		status = domain.AckStatusAnomalies
	}

	ack := &domain.BatchAcknowledgement{
		ID:           uuid.New(),
		BatchID:      batchID,
		PayloadHash:  payloadHash,
		RawPayload:   datatypes.JSON(payload),
		Status:       status,
		AppliedCount: applied,
		AnomalyCount: len(anomalies),
		ReceivedAt:   now,
	}
	if len(anomalies) > 0 {
		raw, err := json.Marshal(anomalies)
		if err != nil {
			return nil, err
		}
		ack.Anomalies = datatypes.JSON(raw)
	}

	if err := s.repo.CreateAcknowledgement(ctx, ack); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Acknowledgement ingested",
		"applied_count", applied,
		"anomaly_count", len(anomalies),
		"batch_status", batch.Status,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      "bank",
		Action:       "batch.acknowledgement_ingested",
		ResourceType: "batch_acknowledgement",
		ResourceID:   ack.ID.String(),
		After: map[string]interface{}{
			"batch_id":      batchID.String(),
			"payload_hash":  payloadHash,
			"applied_count": applied,
			"anomaly_count": len(anomalies),
			"batch_status":  batch.Status,
		},
	})

	return ack, nil
}

func mapOutcome(outcome ackOutcome) (domain.RecordStatus, *domain.ErrorCategory, bool) {
	switch outcome.Status {
	case "accepted":
		return domain.RecordStatusAccepted, nil, true
	case "rejected":
		return domain.RecordStatusRejected, categoryOrDefault(outcome.Category, domain.CategoryFormatRejected), true
	case "error":
		return domain.RecordStatusError, categoryOrDefault(outcome.Category, domain.CategoryMalformedEntry), true
	default:
		return "", nil, false
	}
}

func categoryOrDefault(raw string, fallback domain.ErrorCategory) *domain.ErrorCategory {
	category := fallback
	if raw != "" {
		category = domain.ErrorCategory(raw)
	}
	return &category
}
