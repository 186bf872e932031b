package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"

	"github.com/checkops/bank-connector/internal/domain"
)

// Encode is a pure function of the record set, the batch header and the
// tenant's encoding configuration: identical inputs always yield identical
// bytes. Records are sorted by check item id (then record id) before
// serialization, so store ordering never leaks into the output.
func Encode(batch *domain.CommitBatch, records []domain.CommitRecord, cfg *domain.ConnectorConfig) ([]byte, error) {
	sorted := make([]domain.CommitRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CheckItemID == sorted[j].CheckItemID {
			return sorted[i].ID.String() < sorted[j].ID.String()
		}
		return sorted[i].CheckItemID < sorted[j].CheckItemID
	})

	switch cfg.Format {
	case domain.FileFormatCSV:
		return encodeCSV(sorted, cfg)
	case domain.FileFormatFixedWidth:
		return encodeFixedWidth(sorted)
	case domain.FileFormatXML:
		return encodeXML(batch, sorted)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, cfg.Format)
	}
}

// ContentHash is the digest stored on the batch and proven to auditors.
func ContentHash(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])
}

var csvHeader = []string{
	"record_id",
	"check_item_id",
	"decision_type",
	"hold_reason_code",
	"amount",
	"account_number",
	"routing_number",
}

func encodeCSV(records []domain.CommitRecord, cfg *domain.ConnectorConfig) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if cfg.Delimiter != "" {
		runes := []rune(cfg.Delimiter)
		if len(runes) != 1 {
			return nil, fmt.Errorf("invalid delimiter %q", cfg.Delimiter)
		}
		w.Comma = runes[0]
	}
	w.UseCRLF = cfg.UseCRLF

	if cfg.IncludeHeader {
		if err := w.Write(csvHeader); err != nil {
			return nil, err
		}
	}

	for _, r := range records {
		if err := w.Write([]string{
			r.ID.String(),
			r.CheckItemID,
			string(r.DecisionType),
			stringOrEmpty(r.HoldReasonCode),
			strconv.FormatInt(r.Amount, 10),
			r.AccountNumber,
			r.RoutingNumber,
		}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Fixed-width column layout. A value longer than its column is a data
// fault, not something to truncate silently.
var fixedWidthColumns = []struct {
	name    string
	width   int
	numeric bool
}{
	{"record_id", 36, false},
	{"check_item_id", 24, false},
	{"decision_type", 8, false},
	{"hold_reason_code", 20, false},
	{"amount", 14, true},
	{"account_number", 20, false},
	{"routing_number", 9, false},
}

func encodeFixedWidth(records []domain.CommitRecord) ([]byte, error) {
	var buf bytes.Buffer

	for _, r := range records {
		values := []string{
			r.ID.String(),
			r.CheckItemID,
			string(r.DecisionType),
			stringOrEmpty(r.HoldReasonCode),
			strconv.FormatInt(r.Amount, 10),
			r.AccountNumber,
			r.RoutingNumber,
		}

		for i, col := range fixedWidthColumns {
			value := values[i]
			if len(value) > col.width {
				return nil, fmt.Errorf("record %s: field %s exceeds width %d", r.ID, col.name, col.width)
			}
			if col.numeric {
				// right-justified, zero-padded
				buf.WriteString(fmt.Sprintf("%0*s", col.width, value))
			} else {
				buf.WriteString(fmt.Sprintf("%-*s", col.width, value))
			}
		}
		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

type xmlRecord struct {
	ID             string `xml:"id,attr"`
	CheckItemID    string `xml:"checkItemId"`
	DecisionType   string `xml:"decisionType"`
	HoldReasonCode string `xml:"holdReasonCode,omitempty"`
	Amount         int64  `xml:"amount"`
	AccountNumber  string `xml:"accountNumber"`
	RoutingNumber  string `xml:"routingNumber"`
}

type xmlBatch struct {
	XMLName     xml.Name    `xml:"commitBatch"`
	ID          string      `xml:"id,attr"`
	TenantID    string      `xml:"tenant,attr"`
	RecordCount int         `xml:"recordCount,attr"`
	TotalAmount int64       `xml:"totalAmount,attr"`
	Records     []xmlRecord `xml:"record"`
}

func encodeXML(batch *domain.CommitBatch, records []domain.CommitRecord) ([]byte, error) {
	doc := xmlBatch{
		ID:          batch.ID.String(),
		TenantID:    batch.TenantID,
		RecordCount: len(records),
		TotalAmount: batch.TotalAmount,
		Records:     make([]xmlRecord, 0, len(records)),
	}

	for _, r := range records {
		doc.Records = append(doc.Records, xmlRecord{
			ID:             r.ID.String(),
			CheckItemID:    r.CheckItemID,
			DecisionType:   string(r.DecisionType),
			HoldReasonCode: stringOrEmpty(r.HoldReasonCode),
			Amount:         r.Amount,
			AccountNumber:  r.AccountNumber,
			RoutingNumber:  r.RoutingNumber,
		})
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(body)
	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
