package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/pkg/logger"
)

type ConfigInput struct {
	Format         domain.FileFormat `json:"format"`
	DeliveryMethod string            `json:"delivery_method"`
	Schedule       string            `json:"schedule"`
	Delimiter      string            `json:"delimiter"`
	IncludeHeader  bool              `json:"include_header"`
	UseCRLF        bool              `json:"use_crlf"`
}

type ConfigService interface {
	Upsert(ctx context.Context, tenantID string, input ConfigInput, actorID string) (*domain.ConnectorConfig, error)
	Get(ctx context.Context, tenantID string) (*domain.ConnectorConfig, error)
}

type configService struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *logger.Logger
}

func NewConfigService(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, log *logger.Logger) ConfigService {
	return &configService{
		repo:   repo,
		audit:  audit,
		clock:  clock,
		logger: log,
	}
}

// Upsert bumps the config version on every change. Batches pin the version
// they were built against, so edits never affect in-flight batches.
func (s *configService) Upsert(ctx context.Context, tenantID string, input ConfigInput, actorID string) (*domain.ConnectorConfig, error) {
	ctx = logger.WithTenantID(ctx, tenantID)

	// Format is stored canonical uppercase; clients may send any case.
	format := domain.FileFormat(strings.ToUpper(string(input.Format)))
	switch format {
	case domain.FileFormatCSV, domain.FileFormatFixedWidth, domain.FileFormatXML:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, input.Format)
	}

	now := s.clock.Now()

	cfg, err := s.repo.GetConnectorConfig(ctx, tenantID)
	if err != nil {
		if !domain.IsNotFound(err) {
			return nil, err
		}
		cfg = &domain.ConnectorConfig{
			ID:        uuid.New(),
			TenantID:  tenantID,
			CreatedAt: now,
		}
	}

	cfg.Version++
	cfg.Format = format
	cfg.DeliveryMethod = input.DeliveryMethod
	cfg.Schedule = input.Schedule
	cfg.Delimiter = input.Delimiter
	cfg.IncludeHeader = input.IncludeHeader
	cfg.UseCRLF = input.UseCRLF
	cfg.UpdatedAt = now

	if err := s.repo.SaveConnectorConfig(ctx, cfg); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Connector config saved",
		"version", cfg.Version,
		"format", cfg.Format,
	)

	s.audit.Append(ctx, domain.AuditEvent{
		ActorID:      actorID,
		Action:       "config.updated",
		ResourceType: "connector_config",
		ResourceID:   cfg.ID.String(),
		After: map[string]interface{}{
			"tenant_id": tenantID,
			"version":   cfg.Version,
			"format":    cfg.Format,
		},
	})

	return cfg, nil
}

func (s *configService) Get(ctx context.Context, tenantID string) (*domain.ConnectorConfig, error) {
	return s.repo.GetConnectorConfig(ctx, tenantID)
}
