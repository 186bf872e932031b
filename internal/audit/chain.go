package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/checkops/bank-connector/internal/domain"
)

// BuildEntry materializes one chained ledger row. The hash covers the entry
// payload and the previous entry's hash, so rewriting any historical row
// invalidates every row after it.
func BuildEntry(event domain.AuditEvent, seq int64, prevHash string, now time.Time) (*domain.AuditEntry, error) {
	before, err := marshalSnapshot(event.Before)
	if err != nil {
		return nil, fmt.Errorf("marshal before snapshot: %w", err)
	}

	after, err := marshalSnapshot(event.After)
	if err != nil {
		return nil, fmt.Errorf("marshal after snapshot: %w", err)
	}

	entry := &domain.AuditEntry{
		ID:           uuid.New(),
		Seq:          seq,
		ActorID:      event.ActorID,
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   event.ResourceID,
		Before:       before,
		After:        after,
		PrevHash:     prevHash,
		CreatedAt:    now,
	}
	entry.Hash = ComputeHash(entry)

	return entry, nil
}

func marshalSnapshot(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// ComputeHash digests the entry payload together with PrevHash.
func ComputeHash(entry *domain.AuditEntry) string {
	payload := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%d|%s",
		entry.Seq,
		entry.ActorID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		string(entry.Before),
		string(entry.After),
		entry.CreatedAt.UnixNano(),
		entry.PrevHash,
	)

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChain walks stored entries in order and reports the first break:
// a sequence gap, a dangling prev-hash link, or a recomputed-hash mismatch.
func VerifyChain(entries []domain.AuditEntry) error {
	prevHash := ""
	for i, entry := range entries {
		if entry.Seq != int64(i)+1 {
			return fmt.Errorf("audit chain broken at index %d: expected seq %d, got %d", i, i+1, entry.Seq)
		}
		if entry.PrevHash != prevHash {
			return fmt.Errorf("audit chain broken at seq %d: prev hash mismatch", entry.Seq)
		}
		if ComputeHash(&entry) != entry.Hash {
			return fmt.Errorf("audit chain broken at seq %d: hash mismatch", entry.Seq)
		}
		prevHash = entry.Hash
	}
	return nil
}
