package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/checkops/bank-connector/internal/service"
	"github.com/checkops/bank-connector/pkg/logger"
)

type ConfigHandler struct {
	configs service.ConfigService
	logger  *logger.Logger
}

func NewConfigHandler(configs service.ConfigService, log *logger.Logger) *ConfigHandler {
	return &ConfigHandler{
		configs: configs,
		logger:  log,
	}
}

type upsertConfigRequest struct {
	ActorID string `json:"actor_id"`
	service.ConfigInput
}

func (h *ConfigHandler) Upsert(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := c.Param("tenantId")
	if tenantID == "" {
		return badRequest(c, "tenant id is required")
	}

	var req upsertConfigRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	cfg, err := h.configs.Upsert(ctx, tenantID, req.ConfigInput, req.ActorID)
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, cfg)
}

func (h *ConfigHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	tenantID := c.Param("tenantId")
	if tenantID == "" {
		return badRequest(c, "tenant id is required")
	}

	cfg, err := h.configs.Get(ctx, tenantID)
	if err != nil {
		return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, cfg)
}
