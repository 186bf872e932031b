package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkops/bank-connector/internal/audit"
	"github.com/checkops/bank-connector/internal/config"
	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/internal/handler"
	"github.com/checkops/bank-connector/internal/server"
	"github.com/checkops/bank-connector/internal/service"
	"github.com/checkops/bank-connector/internal/storage"
	"github.com/checkops/bank-connector/pkg/logger"
)

func setupTestServer(t *testing.T) (*httptest.Server, *storage.MemoryStore, *audit.Dispatcher) {
	log := logger.NewNop()
	repo := storage.NewMemoryStore()
	clock := domain.NewClock()

	dispatcher := audit.NewDispatcher(repo, log, clock, &audit.Config{
		QueueSize:  100,
		MaxRetries: 3,
	})
	require.NoError(t, dispatcher.Start(context.Background()))

	batchService := service.NewBatchService(repo, dispatcher, clock, log)
	fileService := service.NewFileService(repo, dispatcher, clock, log)
	ackService := service.NewAckService(repo, dispatcher, clock, log)
	reconService := service.NewReconService(repo, dispatcher, clock, log)
	configService := service.NewConfigService(repo, dispatcher, clock, log)

	batchHandler := handler.NewBatchHandler(batchService, fileService, ackService, reconService, log)
	configHandler := handler.NewConfigHandler(configService, log)
	healthHandler := handler.NewHealthHandler()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
	}

	srv := server.New(cfg, log, batchHandler, configHandler, healthHandler)

	testServer := httptest.NewServer(srv.Handler())

	return testServer, repo, dispatcher
}

func seedDecision(repo *storage.MemoryStore, tenantID, checkItemID string, amount int64) domain.Decision {
	d := domain.Decision{
		ID:            uuid.New(),
		TenantID:      tenantID,
		CheckItemID:   checkItemID,
		Outcome:       domain.DecisionTypePay,
		Amount:        amount,
		AccountNumber: "1234567890",
		RoutingNumber: "021000021",
		ApprovedAt:    time.Now().UTC(),
	}
	repo.AddDecision(d)
	return d
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(data, out))
	}

	return resp
}

func putConfig(t *testing.T, baseURL, tenantID string) {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{
		"format":          "csv",
		"delivery_method": "sftp",
		"include_header":  true,
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, baseURL+"/api/tenants/"+tenantID+"/config", bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

type ackRecord struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
	Category string `json:"category,omitempty"`
}

func TestBatchCommitFlow(t *testing.T) {
	srv, repo, dispatcher := setupTestServer(t)
	defer srv.Close()
	defer dispatcher.Shutdown(context.Background())

	putConfig(t, srv.URL, "tenant-a")
	seedDecision(repo, "tenant-a", "chk-001", 250000)
	seedDecision(repo, "tenant-a", "chk-002", 120050)

	// build
	resp, body := postJSON(t, srv.URL+"/api/batches", map[string]interface{}{
		"tenant_id": "tenant-a",
		"actor_id":  "maker-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var batch domain.CommitBatch
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, domain.BatchStatusDraft, batch.Status)
	assert.Equal(t, 2, batch.RecordCount)
	assert.Equal(t, int64(370050), batch.TotalAmount)

	batchURL := srv.URL + "/api/batches/" + batch.ID.String()

	// the creator cannot approve their own batch
	resp, _ = postJSON(t, batchURL+"/approve", map[string]string{"approver_id": "maker-1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = postJSON(t, batchURL+"/approve", map[string]string{"approver_id": "checker-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, domain.BatchStatusApproved, batch.Status)

	// generate the file
	resp, err := http.Post(batchURL+"/file", "application/json", nil)
	require.NoError(t, err)
	fileBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hash := resp.Header.Get("X-Content-Hash")
	assert.Len(t, hash, 64)
	assert.NotEmpty(t, fileBytes)

	// fetching the stored file returns the same bytes and hash
	resp, err = http.Get(batchURL + "/file")
	require.NoError(t, err)
	stored, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, fileBytes, stored)
	assert.Equal(t, hash, resp.Header.Get("X-Content-Hash"))

	// delivery signal
	resp, body = postJSON(t, batchURL+"/delivered", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, domain.BatchStatusDelivered, batch.Status)

	// bank acknowledges every record
	var detail struct {
		Batch   domain.CommitBatch    `json:"batch"`
		Records []domain.CommitRecord `json:"records"`
	}
	getJSON(t, batchURL, &detail)
	require.Len(t, detail.Records, 2)

	acks := make([]ackRecord, 0, len(detail.Records))
	for _, r := range detail.Records {
		acks = append(acks, ackRecord{RecordID: r.ID.String(), Status: "accepted"})
	}
	resp, _ = postJSON(t, batchURL+"/acknowledgements", map[string]interface{}{
		"batch_ref": batch.ID.String(),
		"records":   acks,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// reconcile
	resp, body = postJSON(t, batchURL+"/reconcile", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var report domain.ReconciliationReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 2, report.Matched)
	assert.Equal(t, 0, report.Mismatched)
	assert.Equal(t, 0, report.Unacknowledged)

	getJSON(t, batchURL, &detail)
	assert.Equal(t, domain.BatchStatusReconciled, detail.Batch.Status)

	resp = getJSON(t, batchURL+"/report", &report)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, report.Matched)

	// the audit ledger survives verification after a clean drain
	require.NoError(t, dispatcher.Shutdown(context.Background()))
	entries, err := repo.AuditEntries(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.NoError(t, audit.VerifyChain(entries))
}

func TestBatchCommitFlow_RejectionAndManualResolution(t *testing.T) {
	srv, repo, dispatcher := setupTestServer(t)
	defer srv.Close()
	defer dispatcher.Shutdown(context.Background())

	putConfig(t, srv.URL, "tenant-b")
	seedDecision(repo, "tenant-b", "chk-101", 50000)
	seedDecision(repo, "tenant-b", "chk-102", 75000)

	resp, body := postJSON(t, srv.URL+"/api/batches", map[string]interface{}{
		"tenant_id": "tenant-b",
		"actor_id":  "maker-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var batch domain.CommitBatch
	require.NoError(t, json.Unmarshal(body, &batch))
	batchURL := srv.URL + "/api/batches/" + batch.ID.String()

	resp, _ = postJSON(t, batchURL+"/approve", map[string]string{"approver_id": "checker-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Post(batchURL+"/file", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, batchURL+"/delivered", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var detail struct {
		Batch   domain.CommitBatch    `json:"batch"`
		Records []domain.CommitRecord `json:"records"`
	}
	getJSON(t, batchURL, &detail)
	require.Len(t, detail.Records, 2)

	resp, _ = postJSON(t, batchURL+"/acknowledgements", map[string]interface{}{
		"batch_ref": batch.ID.String(),
		"records": []ackRecord{
			{RecordID: detail.Records[0].ID.String(), Status: "accepted"},
			{RecordID: detail.Records[1].ID.String(), Status: "rejected", Category: "AMOUNT_MISMATCH"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, batchURL+"/reconcile", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var report domain.ReconciliationReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 1, report.Matched)
	assert.Equal(t, 1, report.Mismatched)

	getJSON(t, batchURL, &detail)
	assert.Equal(t, domain.BatchStatusFailedReconcile, detail.Batch.Status)

	// manual follow-up on the rejected record
	resp, body = postJSON(t, srv.URL+"/api/records/"+detail.Records[1].ID.String()+"/resolve", map[string]string{
		"actor_id":   "ops-1",
		"resolution": "re-presented on paper",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record domain.CommitRecord
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, domain.RecordStatusManuallyResolved, record.Status)

	getJSON(t, batchURL, &detail)
	assert.Equal(t, domain.BatchStatusFailedReconcile, detail.Batch.Status)
	assert.NotNil(t, detail.Batch.ResolvedAt)
}

func TestBatchFlow_InvalidTransitionsRejected(t *testing.T) {
	srv, repo, dispatcher := setupTestServer(t)
	defer srv.Close()
	defer dispatcher.Shutdown(context.Background())

	putConfig(t, srv.URL, "tenant-c")
	seedDecision(repo, "tenant-c", "chk-201", 10000)

	resp, body := postJSON(t, srv.URL+"/api/batches", map[string]interface{}{
		"tenant_id": "tenant-c",
		"actor_id":  "maker-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var batch domain.CommitBatch
	require.NoError(t, json.Unmarshal(body, &batch))
	batchURL := srv.URL + "/api/batches/" + batch.ID.String()

	// a draft batch has no file and cannot be generated or delivered
	resp, err := http.Post(batchURL+"/file", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postJSON(t, batchURL+"/delivered", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// a second open batch for the same tenant is refused
	seedDecision(repo, "tenant-c", "chk-202", 20000)
	resp, _ = postJSON(t, srv.URL+"/api/batches", map[string]interface{}{
		"tenant_id": "tenant-c",
		"actor_id":  "maker-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// cancel requires a reason
	resp, _ = postJSON(t, batchURL+"/cancel", map[string]string{"actor_id": "maker-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = postJSON(t, batchURL+"/cancel", map[string]string{
		"actor_id": "maker-1",
		"reason":   "wrong cutoff window",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &batch))
	assert.Equal(t, domain.BatchStatusCancelled, batch.Status)

	// cancelling frees the decisions for the next batch
	resp, _ = postJSON(t, srv.URL+"/api/batches", map[string]interface{}{
		"tenant_id": "tenant-c",
		"actor_id":  "maker-1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var listing struct {
		Batches []domain.CommitBatch `json:"batches"`
	}
	resp = getJSON(t, srv.URL+"/api/batches?tenant_id=tenant-c", &listing)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, listing.Batches, 2)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, dispatcher := setupTestServer(t)
	defer srv.Close()
	defer dispatcher.Shutdown(context.Background())

	var health map[string]string
	resp := getJSON(t, srv.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])
}
