package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/service"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
)

// EntitlementHandler обработчик HTTP запросов для подписок
type EntitlementHandler struct {
	reconciler service.ReconcilerService
	status     service.StatusService
	log        *logger.Logger
}

// NewEntitlementHandler создает новый обработчик подписок
func NewEntitlementHandler(reconciler service.ReconcilerService, status service.StatusService, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		reconciler: reconciler,
		status:     status,
		log:        log,
	}
}

// SubmitEvent обрабатывает событие покупки
// POST /api/v1/entitlements/events
func (h *EntitlementHandler) SubmitEvent(c *gin.Context) {
	var req domain.ReceiptEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnw("Invalid purchase event request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	record, err := h.reconciler.ProcessEvent(c.Request.Context(), req.UserID, req.Source, req.Event)
	if err != nil {
		h.respondError(c, req.UserID, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// RestoreEvents обрабатывает пакет событий восстановления покупок.
// Каждое событие проходит обычный путь; неполные события пропускаются.
// POST /api/v1/entitlements/restore
func (h *EntitlementHandler) RestoreEvents(c *gin.Context) {
	var req domain.RestoreEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warnw("Invalid restore request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	applied := 0
	skipped := 0
	for _, event := range req.Events {
		_, err := h.reconciler.ProcessEvent(c.Request.Context(), req.UserID, req.Source, event)
		if err != nil {
			if errors.Is(err, domain.ErrIncompleteReceipt) {
				skipped++
				continue
			}
			var normErr *domain.NormalizationError
			if errors.As(err, &normErr) {
				h.log.Warnw("Restore event rejected", "userID", req.UserID, "code", normErr.Code)
				skipped++
				continue
			}
			h.respondError(c, req.UserID, err)
			return
		}
		applied++
	}

	status, err := h.status.GetStatus(c.Request.Context(), req.UserID)
	if err != nil {
		h.respondError(c, req.UserID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"applied": applied,
		"skipped": skipped,
		"status":  status,
	})
}

// GetStatus возвращает статус подписки пользователя
// GET /api/v1/entitlements/:user_id/status
func (h *EntitlementHandler) GetStatus(c *gin.Context) {
	userID := c.Param("user_id")

	status, err := h.status.GetStatus(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// RefreshStatus сбрасывает кеш и возвращает свежий статус подписки
// POST /api/v1/entitlements/:user_id/refresh
func (h *EntitlementHandler) RefreshStatus(c *gin.Context) {
	userID := c.Param("user_id")

	status, err := h.status.Refresh(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// PurgeUser удаляет все записи о подписках пользователя
// DELETE /api/v1/entitlements/:user_id
func (h *EntitlementHandler) PurgeUser(c *gin.Context) {
	userID := c.Param("user_id")

	deleted, err := h.reconciler.PurgeUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, userID, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// respondError переводит доменные ошибки в HTTP статусы
func (h *EntitlementHandler) respondError(c *gin.Context, userID string, err error) {
	var normErr *domain.NormalizationError

	switch {
	case errors.Is(err, domain.ErrIncompleteReceipt):
		// Pending-транзакция: подтверждаем прием, состояние не менялось
		c.JSON(http.StatusAccepted, gin.H{"status": "skipped", "reason": "incomplete purchase event"})
	case errors.As(err, &normErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": normErr.Message, "code": normErr.Code})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input data"})
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.log.Errorw("Storage unavailable while handling request", "error", err, "userID", userID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
	default:
		h.log.Errorw("Unexpected error while handling request", "error", err, "userID", userID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
