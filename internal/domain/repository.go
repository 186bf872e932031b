package domain

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Connector configuration
	SaveConnectorConfig(ctx context.Context, cfg *ConnectorConfig) error
	GetConnectorConfig(ctx context.Context, tenantID string) (*ConnectorConfig, error)

	// Source decisions (read-only to the pipeline)
	EligibleDecisions(ctx context.Context, tenantID string, criteria SelectionCriteria) ([]Decision, error)

	// Batches. CreateBatch must atomically enforce both exclusivity rules:
	// at most one non-terminal batch per tenant, and no decision may appear
	// in more than one non-terminal record.
	CreateBatch(ctx context.Context, batch *CommitBatch, records []CommitRecord) error
	GetBatch(ctx context.Context, id uuid.UUID) (*CommitBatch, error)
	BatchesByTenant(ctx context.Context, tenantID string) ([]CommitBatch, error)
	FindOpenBatch(ctx context.Context, tenantID string) (*CommitBatch, error)
	// UpdateBatch persists the batch only if its stored status still equals
	// expected (compare-and-set); a lost race yields a BatchStateError.
	UpdateBatch(ctx context.Context, batch *CommitBatch, expected BatchStatus) error

	// Records
	RecordsByBatch(ctx context.Context, batchID uuid.UUID) ([]CommitRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*CommitRecord, error)
	UpdateRecord(ctx context.Context, record *CommitRecord) error

	// Acknowledgements
	CreateAcknowledgement(ctx context.Context, ack *BatchAcknowledgement) error
	FindAcknowledgementByHash(ctx context.Context, batchID uuid.UUID, payloadHash string) (*BatchAcknowledgement, error)

	// Reconciliation reports
	CreateReport(ctx context.Context, report *ReconciliationReport) error
	LatestReport(ctx context.Context, batchID uuid.UUID) (*ReconciliationReport, error)

	// Audit ledger (append-only)
	AppendAuditEntry(ctx context.Context, entry *AuditEntry) error
	LatestAuditEntry(ctx context.Context) (*AuditEntry, error)
	AuditEntries(ctx context.Context) ([]AuditEntry, error)
}

// AuditEvent is what pipeline components emit; the audit sink turns it into
// a chained AuditEntry asynchronously.
type AuditEvent struct {
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Before       interface{}
	After        interface{}
}

// AuditSink is fire-and-forget: a failure to audit never rolls back the
// business transition, but implementations must surface it as an alarm.
type AuditSink interface {
	Append(ctx context.Context, event AuditEvent)
}
