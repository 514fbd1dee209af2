package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/application"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/transport/mw"
)

// NotificationService is the part of application.Service the handlers call.
type NotificationService interface {
	Create(ctx context.Context, input domain.CreateNotificationInput) (*domain.Notification, error)
	List(ctx context.Context, tenantKey, userID string, f domain.Filter) (domain.Page[domain.Notification], error)
	Get(ctx context.Context, id, tenantKey, userID string) (*domain.Notification, error)
	Update(ctx context.Context, id, tenantKey, userID string, req domain.UpdateNotificationRequest) (*domain.Notification, error)
	CountUnread(ctx context.Context, tenantKey, userID string) (int64, error)
	MarkRead(ctx context.Context, ids []string, tenantKey, userID string) ([]string, error)
	MarkAllRead(ctx context.Context, tenantKey, userID string) ([]string, error)
	Delete(ctx context.Context, id, tenantKey, userID string) error
}

// Handler holds all HTTP handler methods.
type Handler struct {
	svc NotificationService
	hub *Hub
}

// NewHandler creates a new Handler.
func NewHandler(svc NotificationService, hub *Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// --- REST Handlers ---

// ListNotifications GET /notifications
func (h *Handler) ListNotifications(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	page, err := h.svc.List(c.Request().Context(), tenantKey, userID, parseFilter(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, page)
}

// GetNotification GET /notifications/:id
func (h *Handler) GetNotification(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	n, err := h.svc.Get(c.Request().Context(), c.Param("id"), tenantKey, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// CreateNotification POST /notifications. Without user_id the caller notifies themself.
func (h *Handler) CreateNotification(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	var req domain.CreateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		req.UserID = userID
	}

	n, err := h.svc.Create(c.Request().Context(), domain.CreateNotificationInput{
		TenantKey: tenantKey,
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Body:      req.Body,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

// UpdateNotification PATCH /notifications/:id
func (h *Handler) UpdateNotification(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	var req domain.UpdateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	n, err := h.svc.Update(c.Request().Context(), c.Param("id"), tenantKey, userID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// GetUnreadCount GET /notifications/unread-count
func (h *Handler) GetUnreadCount(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	count, err := h.svc.CountUnread(c.Request().Context(), tenantKey, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": count})
}

// MarkRead POST /notifications/read with {"ids": [...]}
func (h *Handler) MarkRead(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return validation(map[string]string{"ids": "required"})
	}

	flipped, err := h.svc.MarkRead(c.Request().Context(), req.IDs, tenantKey, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"ids": nonNil(flipped)})
}

// MarkAllRead POST /notifications/read-all
func (h *Handler) MarkAllRead(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	flipped, err := h.svc.MarkAllRead(c.Request().Context(), tenantKey, userID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"ids": nonNil(flipped)})
}

// Delete DELETE /notifications/:id
func (h *Handler) Delete(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), tenantKey, userID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// --- WebSocket Handler ---

// Stream GET /ws upgrades to the realtime hub protocol.
func (h *Handler) Stream(c echo.Context) error {
	tenantKey, userID, err := mw.Claims(c)
	if err != nil {
		return echo.ErrUnauthorized
	}

	log.Info().Str("tenant", tenantKey).Str("user", userID).Msg("realtime stream opened")
	if err := h.hub.Serve(c.Response(), c.Request(), tenantKey, userID); err != nil {
		// The upgrader has already written the HTTP error.
		log.Warn().Err(err).Str("user", userID).Msg("websocket upgrade failed")
		return nil
	}
	log.Info().Str("user", userID).Msg("realtime stream closed")
	return nil
}

// --- Healthcheck ---

// Health GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":           "ok",
		"realtime_clients": h.hub.ConnectedCount(),
	})
}

// --- Helpers ---

// parseFilter reads the list query written by apiclient.FilterQuery.
func parseFilter(c echo.Context) domain.Filter {
	f := domain.DefaultFilter()
	f.Page = parseIntQuery(c, "page", f.Page)
	f.PageSize = parseIntQuery(c, "pageSize", f.PageSize)
	if s := c.QueryParam("sortBy"); s != "" {
		f.SortBy = s
		f.SortDesc = c.QueryParam("sortDesc") == "true"
	}
	if r := c.QueryParam("isRead"); r != "" {
		if isRead, err := strconv.ParseBool(r); err == nil {
			f.IsRead = &isRead
		}
	}
	f.Type = c.QueryParam("type")
	f.Status = c.QueryParam("status")
	f.Search = c.QueryParam("search")
	return f.Normalize()
}

func parseIntQuery(c echo.Context, key string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

// httpError maps service errors to the {message, fields} body the sync client decodes.
func httpError(err error) error {
	var verr *application.ValidationError
	switch {
	case errors.As(err, &verr):
		return validation(verr.Fields)
	case errors.Is(err, application.ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(499, "request cancelled")
	}
	log.Error().Err(err).Msg("notification request failed")
	return echo.ErrInternalServerError
}

func validation(fields map[string]string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]any{
		"message": "validation failed",
		"fields":  fields,
	})
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
