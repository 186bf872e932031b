package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/checkops/bank-connector/internal/domain"
	"github.com/checkops/bank-connector/internal/service"
	"github.com/checkops/bank-connector/pkg/logger"
)

type BatchHandler struct {
	batches service.BatchService
	files   service.FileService
	acks    service.AckService
	recon   service.ReconService
	logger  *logger.Logger
}

func NewBatchHandler(
	batches service.BatchService,
	files service.FileService,
	acks service.AckService,
	recon service.ReconService,
	log *logger.Logger,
) *BatchHandler {
	return &BatchHandler{
		batches: batches,
		files:   files,
		acks:    acks,
		recon:   recon,
		logger:  log,
	}
}

type buildBatchRequest struct {
	TenantID      string     `json:"tenant_id"`
	ActorID       string     `json:"actor_id"`
	ApprovedSince *time.Time `json:"approved_since,omitempty"`
	Limit         int        `json:"limit,omitempty"`
}

func (h *BatchHandler) Build(c echo.Context) error {
	ctx := c.Request().Context()

	var req buildBatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.TenantID == "" || req.ActorID == "" {
		return badRequest(c, "tenant_id and actor_id are required")
	}

	criteria := domain.SelectionCriteria{Limit: req.Limit}
	if req.ApprovedSince != nil {
		criteria.ApprovedSince = *req.ApprovedSince
	}

	batch, err := h.batches.Build(ctx, req.TenantID, criteria, req.ActorID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, batch)
}

type approveBatchRequest struct {
	ApproverID string `json:"approver_id"`
}

func (h *BatchHandler) Approve(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	var req approveBatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ApproverID == "" {
		return badRequest(c, "approver_id is required")
	}

	batch, err := h.batches.Approve(ctx, batchID, req.ApproverID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, batch)
}

type cancelBatchRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (h *BatchHandler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	var req cancelBatchRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	batch, err := h.batches.Cancel(ctx, batchID, req.ActorID, req.Reason)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, batch)
}

func (h *BatchHandler) Generate(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	fileBytes, hash, err := h.files.Generate(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	c.Response().Header().Set("X-Content-Hash", hash)
	return c.Blob(http.StatusOK, "application/octet-stream", fileBytes)
}

func (h *BatchHandler) GetFile(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	fileBytes, hash, err := h.files.GetFile(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	c.Response().Header().Set("X-Content-Hash", hash)
	return c.Blob(http.StatusOK, "application/octet-stream", fileBytes)
}

func (h *BatchHandler) MarkDelivered(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	batch, err := h.batches.MarkDelivered(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, batch)
}

func (h *BatchHandler) IngestAcknowledgement(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return badRequest(c, "failed to read payload")
	}
	if len(payload) == 0 {
		return badRequest(c, "payload is required")
	}

	ack, err := h.acks.Ingest(ctx, batchID, payload)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, ack)
}

func (h *BatchHandler) Reconcile(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	report, err := h.recon.Reconcile(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusCreated, report)
}

func (h *BatchHandler) GetReport(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	report, err := h.recon.LatestReport(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

func (h *BatchHandler) GetBatch(c echo.Context) error {
	ctx := c.Request().Context()

	batchID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid batch id")
	}

	batch, records, err := h.batches.GetBatch(ctx, batchID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"batch":   batch,
		"records": records,
	})
}

func (h *BatchHandler) ListBatches(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return badRequest(c, "tenant_id is required")
	}

	batches, err := h.batches.ListBatches(ctx, tenantID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"batches": batches,
	})
}

type resolveRecordRequest struct {
	ActorID    string `json:"actor_id"`
	Resolution string `json:"resolution"`
}

func (h *BatchHandler) ResolveRecord(c echo.Context) error {
	ctx := c.Request().Context()

	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid record id")
	}

	var req resolveRecordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Resolution == "" {
		return badRequest(c, "resolution is required")
	}

	record, err := h.batches.ResolveRecord(ctx, recordID, req.Resolution, req.ActorID)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, record)
}

func (h *BatchHandler) fail(c echo.Context, err error) error {
	status := statusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request().Context(), "Request failed",
			"error", err,
		)
	}

	return c.JSON(status, map[string]string{"error": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsDualControl(err):
		return http.StatusForbidden
	case domain.IsFileGeneration(err):
		return http.StatusUnprocessableEntity
	case domain.IsBatchState(err):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrCancelReasonRequired),
		errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoEligibleDecisions),
		errors.Is(err, domain.ErrHoldReasonRequired):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
