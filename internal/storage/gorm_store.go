package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/checkops/bank-connector/internal/domain"
)

// GormStore is the postgres-backed Repository. Every state transition is a
// conditional UPDATE (status must equal the expected value), so two racing
// writers resolve with exactly one winner.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return &GormStore{db: db}, nil
}

func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.ConnectorConfig{},
		&domain.Decision{},
		&domain.CommitBatch{},
		&domain.CommitRecord{},
		&domain.BatchAcknowledgement{},
		&domain.ReconciliationReport{},
		&domain.AuditEntry{},
	)
}

// DB exposes the underlying handle for migrations and tests.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

var terminalStatuses = []domain.BatchStatus{
	domain.BatchStatusReconciled,
	domain.BatchStatusFailedReconcile,
	domain.BatchStatusCancelled,
}

func (s *GormStore) SaveConnectorConfig(ctx context.Context, cfg *domain.ConnectorConfig) error {
	return s.db.WithContext(ctx).Save(cfg).Error
}

func (s *GormStore) GetConnectorConfig(ctx context.Context, tenantID string) (*domain.ConnectorConfig, error) {
	var cfg domain.ConnectorConfig
	err := s.db.WithContext(ctx).First(&cfg, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound("connector config", tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *GormStore) EligibleDecisions(ctx context.Context, tenantID string, criteria domain.SelectionCriteria) ([]domain.Decision, error) {
	committed := s.db.Model(&domain.CommitRecord{}).
		Select("commit_records.decision_id").
		Joins("JOIN commit_batches ON commit_batches.id = commit_records.batch_id").
		Where("commit_batches.status <> ?", domain.BatchStatusCancelled)

	query := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("id NOT IN (?)", committed).
		Order("approved_at, check_item_id")

	if !criteria.ApprovedSince.IsZero() {
		query = query.Where("approved_at >= ?", criteria.ApprovedSince)
	}
	if criteria.Limit > 0 {
		query = query.Limit(criteria.Limit)
	}

	var decisions []domain.Decision
	err := query.Find(&decisions).Error
	return decisions, err
}

func (s *GormStore) CreateBatch(ctx context.Context, batch *domain.CommitBatch, records []domain.CommitRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open domain.CommitBatch
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ? AND status NOT IN ?", batch.TenantID, terminalStatuses).
			First(&open).Error
		if err == nil {
			return &domain.BatchStateError{
				BatchID: open.ID.String(),
				Current: open.Status,
				Reason:  "an open batch already exists for this tenant",
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		decisionIDs := make([]uuid.UUID, 0, len(records))
		for _, r := range records {
			decisionIDs = append(decisionIDs, r.DecisionID)
		}

		var committed int64
		err = tx.Model(&domain.CommitRecord{}).
			Joins("JOIN commit_batches ON commit_batches.id = commit_records.batch_id").
			Where("commit_records.decision_id IN ?", decisionIDs).
			Where("commit_batches.status <> ?", domain.BatchStatusCancelled).
			Count(&committed).Error
		if err != nil {
			return err
		}
		if committed > 0 {
			return &domain.BatchStateError{
				BatchID: batch.ID.String(),
				Current: batch.Status,
				Reason:  "one or more decisions are already committed in another batch",
			}
		}

		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *GormStore) GetBatch(ctx context.Context, id uuid.UUID) (*domain.CommitBatch, error) {
	var batch domain.CommitBatch
	err := s.db.WithContext(ctx).First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound("batch", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *GormStore) BatchesByTenant(ctx context.Context, tenantID string) ([]domain.CommitBatch, error) {
	var batches []domain.CommitBatch
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&batches).Error
	return batches, err
}

func (s *GormStore) FindOpenBatch(ctx context.Context, tenantID string) (*domain.CommitBatch, error) {
	var batch domain.CommitBatch
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status NOT IN ?", tenantID, terminalStatuses).
		First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *GormStore) UpdateBatch(ctx context.Context, batch *domain.CommitBatch, expected domain.BatchStatus) error {
	result := s.db.WithContext(ctx).
		Model(&domain.CommitBatch{}).
		Where("id = ? AND status = ?", batch.ID, expected).
		Select("*").
		Omit("id", "created_at").
		Updates(batch)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		current, err := s.GetBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		return &domain.BatchStateError{
			BatchID:   batch.ID.String(),
			Current:   current.Status,
			Attempted: batch.Status,
			Reason:    "stale batch status",
		}
	}

	return nil
}

func (s *GormStore) RecordsByBatch(ctx context.Context, batchID uuid.UUID) ([]domain.CommitRecord, error) {
	var records []domain.CommitRecord
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("check_item_id, id").
		Find(&records).Error
	return records, err
}

func (s *GormStore) GetRecord(ctx context.Context, id uuid.UUID) (*domain.CommitRecord, error) {
	var record domain.CommitRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound("record", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *GormStore) UpdateRecord(ctx context.Context, record *domain.CommitRecord) error {
	result := s.db.WithContext(ctx).Save(record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFound("record", record.ID.String())
	}
	return nil
}

func (s *GormStore) CreateAcknowledgement(ctx context.Context, ack *domain.BatchAcknowledgement) error {
	return s.db.WithContext(ctx).Create(ack).Error
}

func (s *GormStore) FindAcknowledgementByHash(ctx context.Context, batchID uuid.UUID, payloadHash string) (*domain.BatchAcknowledgement, error) {
	var ack domain.BatchAcknowledgement
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND payload_hash = ?", batchID, payloadHash).
		First(&ack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

func (s *GormStore) CreateReport(ctx context.Context, report *domain.ReconciliationReport) error {
	return s.db.WithContext(ctx).Create(report).Error
}

func (s *GormStore) LatestReport(ctx context.Context, batchID uuid.UUID) (*domain.ReconciliationReport, error) {
	var report domain.ReconciliationReport
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at DESC").
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewNotFound("reconciliation report", batchID.String())
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *GormStore) AppendAuditEntry(ctx context.Context, entry *domain.AuditEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

func (s *GormStore) LatestAuditEntry(ctx context.Context) (*domain.AuditEntry, error) {
	var entry domain.AuditEntry
	err := s.db.WithContext(ctx).Order("seq DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *GormStore) AuditEntries(ctx context.Context) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := s.db.WithContext(ctx).Order("seq").Find(&entries).Error
	return entries, err
}
