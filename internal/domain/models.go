package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type BatchStatus string

const (
	BatchStatusDraft            BatchStatus = "DRAFT"
	BatchStatusApproved         BatchStatus = "APPROVED"
	BatchStatusFileGenerated    BatchStatus = "FILE_GENERATED"
	BatchStatusDelivered        BatchStatus = "DELIVERED"
	BatchStatusAcknowledged     BatchStatus = "ACKNOWLEDGED"
	BatchStatusReconciled       BatchStatus = "RECONCILED"
	BatchStatusFailedReconcile  BatchStatus = "FAILED_RECONCILIATION"
	BatchStatusCancelled        BatchStatus = "CANCELLED"
)

func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchStatusReconciled, BatchStatusFailedReconcile, BatchStatusCancelled:
		return true
	}
	return false
}

type RecordStatus string

const (
	RecordStatusPending          RecordStatus = "PENDING"
	RecordStatusDelivered        RecordStatus = "DELIVERED"
	RecordStatusAccepted         RecordStatus = "ACCEPTED"
	RecordStatusRejected         RecordStatus = "REJECTED"
	RecordStatusError            RecordStatus = "ERROR"
	RecordStatusManuallyResolved RecordStatus = "MANUALLY_RESOLVED"
)

func (s RecordStatus) Terminal() bool {
	switch s {
	case RecordStatusAccepted, RecordStatusRejected, RecordStatusError, RecordStatusManuallyResolved:
		return true
	}
	return false
}

type DecisionType string

const (
	DecisionTypePay    DecisionType = "PAY"
	DecisionTypeReturn DecisionType = "RETURN"
	DecisionTypeHold   DecisionType = "HOLD"
)

type ErrorCategory string

const (
	CategoryAmountMismatch ErrorCategory = "AMOUNT_MISMATCH"
	CategoryUnknownAccount ErrorCategory = "UNKNOWN_ACCOUNT"
	CategoryUnknownRecord  ErrorCategory = "UNKNOWN_RECORD"
	CategoryDuplicate      ErrorCategory = "DUPLICATE"
	CategoryFormatRejected ErrorCategory = "FORMAT_REJECTED"
	CategoryStatusConflict ErrorCategory = "STATUS_CONFLICT"
	CategoryMalformedEntry ErrorCategory = "MALFORMED_ENTRY"
	CategoryUnacknowledged ErrorCategory = "UNACKNOWLEDGED"
)

type FileFormat string

const (
	FileFormatCSV        FileFormat = "CSV"
	FileFormatFixedWidth FileFormat = "FIXED_WIDTH"
	FileFormatXML        FileFormat = "XML"
)

// ConnectorConfig is the per-tenant delivery configuration. The pipeline
// reads it; only administrators write it. A batch records the version it
// was built against so later config edits never change an existing batch.
type ConnectorConfig struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       string     `gorm:"uniqueIndex" json:"tenant_id"`
	Version        int        `json:"version"`
	Format         FileFormat `json:"format"`
	DeliveryMethod string     `json:"delivery_method"`
	Schedule       string     `json:"schedule"`
	Delimiter      string     `json:"delimiter"`
	IncludeHeader  bool       `json:"include_header"`
	UseCRLF        bool       `json:"use_crlf"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Decision is a human-approved check-review decision, produced upstream.
// The pipeline only reads decisions; it never mutates them.
type Decision struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       string       `gorm:"index" json:"tenant_id"`
	CheckItemID    string       `gorm:"index" json:"check_item_id"`
	Outcome        DecisionType `json:"outcome"`
	HoldReasonCode *string      `json:"hold_reason_code,omitempty"`
	Amount         int64        `json:"amount"`
	AccountNumber  string       `json:"account_number"`
	RoutingNumber  string       `json:"routing_number"`
	ApprovedAt     time.Time    `json:"approved_at"`
}

type CommitBatch struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       string      `gorm:"index" json:"tenant_id"`
	Status         BatchStatus `gorm:"index" json:"status"`
	CreatorID      string      `json:"creator_id"`
	ApproverID     *string     `json:"approver_id,omitempty"`
	Format         FileFormat  `json:"format"`
	ConfigVersion  int         `json:"config_version"`
	FileHash       *string     `json:"file_hash,omitempty"`
	FileBytes      []byte      `json:"-"`
	RecordCount    int         `json:"record_count"`
	TotalAmount    int64       `json:"total_amount"`
	CancelReason   *string     `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	GeneratedAt    *time.Time  `json:"generated_at,omitempty"`
	DeliveredAt    *time.Time  `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	ReconciledAt   *time.Time  `json:"reconciled_at,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// CommitRecord freezes one decision inside a batch. Amount and account
// fields are snapshots taken at build time; later edits to the source
// decision do not reach an already-built batch.
type CommitRecord struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID        uuid.UUID      `gorm:"index" json:"batch_id"`
	DecisionID     uuid.UUID      `gorm:"index" json:"decision_id"`
	CheckItemID    string         `json:"check_item_id"`
	DecisionType   DecisionType   `json:"decision_type"`
	HoldReasonCode *string        `json:"hold_reason_code,omitempty"`
	Amount         int64          `json:"amount"`
	AccountNumber  string         `json:"account_number"`
	RoutingNumber  string         `json:"routing_number"`
	Status         RecordStatus   `gorm:"index" json:"status"`
	AckCategory    *ErrorCategory `json:"ack_category,omitempty"`
	AckMessage     *string        `json:"ack_message,omitempty"`
	Resolution     *string        `json:"resolution,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type AckProcessingStatus string

const (
	AckStatusProcessed AckProcessingStatus = "PROCESSED"
	AckStatusAnomalies AckProcessingStatus = "PROCESSED_WITH_ANOMALIES"
)

type BatchAcknowledgement struct {
	ID           uuid.UUID           `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID      uuid.UUID           `gorm:"index" json:"batch_id"`
	PayloadHash  string              `gorm:"index" json:"payload_hash"`
	RawPayload   datatypes.JSON      `json:"raw_payload"`
	Status       AckProcessingStatus `json:"status"`
	AppliedCount int                 `json:"applied_count"`
	AnomalyCount int                 `json:"anomaly_count"`
	Anomalies    datatypes.JSON      `json:"anomalies,omitempty"`
	ReceivedAt   time.Time           `json:"received_at"`
}

// AckAnomaly is one payload entry that could not be applied cleanly.
type AckAnomaly struct {
	RecordID string        `json:"record_id"`
	Category ErrorCategory `json:"category"`
	Detail   string        `json:"detail"`
}

type Discrepancy struct {
	RecordID    uuid.UUID     `json:"record_id"`
	CheckItemID string        `json:"check_item_id"`
	Expected    RecordStatus  `json:"expected"`
	Actual      RecordStatus  `json:"actual"`
	Category    ErrorCategory `json:"category"`
	Detail      string        `json:"detail,omitempty"`
}

// ReconciliationReport is immutable once created; re-running reconciliation
// produces a new row.
type ReconciliationReport struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID        uuid.UUID      `gorm:"index" json:"batch_id"`
	Matched        int            `json:"matched"`
	Mismatched     int            `json:"mismatched"`
	Unacknowledged int            `json:"unacknowledged"`
	Discrepancies  datatypes.JSON `json:"discrepancies,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AuditEntry is one row of the hash-chained audit ledger. Hash covers the
// entry payload concatenated with PrevHash, so any edit breaks the chain.
type AuditEntry struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Seq          int64          `gorm:"uniqueIndex" json:"seq"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Before       datatypes.JSON `json:"before,omitempty"`
	After        datatypes.JSON `json:"after,omitempty"`
	PrevHash     string         `json:"prev_hash"`
	Hash         string         `json:"hash"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SelectionCriteria narrows which approved decisions a new batch picks up.
// Zero ApprovedSince means "everything not yet committed".
type SelectionCriteria struct {
	ApprovedSince time.Time `json:"approved_since,omitempty"`
	Limit         int       `json:"limit,omitempty"`
}
