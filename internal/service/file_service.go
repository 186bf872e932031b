package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
)

type FileService interface {
	// Generate encodes the batch and returns (file bytes, content hash).
	Generate(ctx context.Context, batchID uuid.UUID) ([]byte, string, error)
	// GetFile returns the stored bytes and hash of an already-generated batch.
	GetFile(ctx context.Context, batchID uuid.UUID) ([]byte, string, error)
}

type fileService struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *logger.Logger
}

func NewFileService(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, log *logger.Logger) FileService {
	return &fileService{
		repo:   repo,
		audit:  audit,
		clock:  clock,
		logger: log,
	}
}

// Generate transitions APPROVED -> FILE_GENERATED. On an already-generated
// batch it re-encodes, verifies the stored hash and returns the stored
// bytes: the bank middleware must never see two different encodings of the
// same batch, and a hash drift is a data-integrity fault, never silently
// accepted.
func (s *fileService) Generate(ctx context.Context, batchID uuid.UUID) ([]byte, string, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}

	ctx = logger.WithTenantID(ctx, batch.TenantID)
	ctx = logger.WithBatchID(ctx, batch.ID.String())

	if batch.Status == domain.BatchStatusFileGenerated {
		return s.verifyStored(ctx, batch)
	}

	if err := domain.ValidateTransition(batch.ID.String(), batch.Status, domain.BatchStatusFileGenerated); err != nil {
		return nil, "", err
	}

	fileBytes, hash, err := s.encode(ctx, batch)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now()
	batch.Status = domain.BatchStatusFileGenerated
	batch.FileBytes = fileBytes
	batch.FileHash = &hash
	batch.GeneratedAt = &now

	if err := s.repo.UpdateBatch(ctx, batch, domain.BatchStatusApproved); err != nil {
		return nil, "", err
	}

	s.logger.Info(ctx, "Batch file generated",
		"format", batch.Format,
		"content_hash", hash,
		"size_bytes", len(fileBytes),
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      "system",
		Action:       "batch.file_generated",
		ResourceType: "commit_batch",
		ResourceID:   batch.ID.String(),
		Before:       map[string]interface{}{"status": domain.BatchStatusApproved},
		After: map[string]interface{}{
			"status":       batch.Status,
			"content_hash": hash,
			"format":       batch.Format,
		},
	})

	return fileBytes, hash, nil
}

func (s *fileService) GetFile(ctx context.Context, batchID uuid.UUID) ([]byte, string, error) {
	batch, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, "", err
	}

	if batch.FileHash == nil {
		return nil, "", &domain.BatchStateError{
			BatchID: batch.ID.String(),
			Current: batch.Status,
			Reason:  "batch file has not been generated",
		}
	}

	return batch.FileBytes, *batch.FileHash, nil
}

// verifyStored re-encodes the unchanged record set and compares against the
// stored hash before handing back the stored bytes.
func (s *fileService) verifyStored(ctx context.Context, batch *domain.CommitBatch) ([]byte, string, error) {
	_, hash, err := s.encode(ctx, batch)
	if err != nil {
		return nil, "", err
	}

	if batch.FileHash == nil || hash != *batch.FileHash {
		s.logger.Error(ctx, "Content hash mismatch on regeneration",
			"stored_hash", stringOrEmpty(batch.FileHash),
			"recomputed_hash", hash,
		)
		return nil, "", &domain.FileGenerationError{
			BatchID: batch.ID.String(),
			Cause:   domain.ErrIntegrityFault,
		}
	}

	return batch.FileBytes, *batch.FileHash, nil
}

func (s *fileService) encode(ctx context.Context, batch *domain.CommitBatch) ([]byte, string, error) {
	cfg, err := s.repo.GetConnectorConfig(ctx, batch.TenantID)
	if err != nil {
		return nil, "", &domain.FileGenerationError{BatchID: batch.ID.String(), Cause: err}
	}

	// The batch is pinned to the config version that built it: encoding
	// against a drifted config could not reproduce the committed bytes.
	if cfg.Version != batch.ConfigVersion || cfg.Format != batch.Format {
		return nil, "", &domain.FileGenerationError{
			BatchID: batch.ID.String(),
			Cause: fmt.Errorf("connector config changed since the batch was built (batch version %d, current %d)",
				batch.ConfigVersion, cfg.Version),
		}
	}

	records, err := s.repo.RecordsByBatch(ctx, batch.ID)
	if err != nil {
		return nil, "", err
	}

	fileBytes, err := Encode(batch, records, cfg)
	if err != nil {
		return nil, "", &domain.FileGenerationError{BatchID: batch.ID.String(), Cause: err}
	}

	return fileBytes, ContentHash(fileBytes), nil
}
