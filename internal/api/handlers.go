// Package api exposes the Session Manager (internal/session) over HTTP,
// implementing spec §6's external interface: start_session, process_event,
// get_task_state, get_model. Thin by design - every operation is a single
// call into session.Manager; request/response marshaling and error mapping
// are all this layer does. Grounded on internal/task/api's handler shape.
package api

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/genieflow/genieflow/internal/common/errors"
	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/session"
)

// Handler contains the HTTP handlers for the GenieFlow session API.
type Handler struct {
	manager *session.Manager
	log     *logger.Logger
}

// NewHandler builds a Handler delegating to mgr.
func NewHandler(mgr *session.Manager, log *logger.Logger) *Handler {
	return &Handler{manager: mgr, log: log}
}

type startSessionRequest struct {
	FlowTypeKey string `json:"flow_type_key" binding:"required"`
}

// StartSession handles POST /api/v1/flows/:flowTypeKey/sessions.
func (h *Handler) StartSession(c *gin.Context) {
	flowTypeKey := c.Param("flowTypeKey")
	if flowTypeKey == "" {
		appErr := errors.BadRequest("flowTypeKey is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp, err := h.manager.StartSession(c.Request.Context(), flowTypeKey)
	if err != nil {
		h.handleError(c, "start_session", flowTypeKey, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ProcessEvent handles POST /api/v1/flows/:flowTypeKey/sessions/:sessionId/events.
func (h *Handler) ProcessEvent(c *gin.Context) {
	flowTypeKey := c.Param("flowTypeKey")
	sessionID := c.Param("sessionId")
	if flowTypeKey == "" || sessionID == "" {
		appErr := errors.BadRequest("flowTypeKey and sessionId are required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	var in session.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		appErr := errors.BadRequest(err.Error())
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	in.SessionID = sessionID

	resp, err := h.manager.ProcessEvent(c.Request.Context(), flowTypeKey, in)
	if err != nil {
		h.handleError(c, "process_event", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetTaskState handles GET /api/v1/flows/:flowTypeKey/sessions/:sessionId/task_state.
func (h *Handler) GetTaskState(c *gin.Context) {
	flowTypeKey := c.Param("flowTypeKey")
	sessionID := c.Param("sessionId")
	if flowTypeKey == "" || sessionID == "" {
		appErr := errors.BadRequest("flowTypeKey and sessionId are required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	status, err := h.manager.GetTaskState(c.Request.Context(), flowTypeKey, sessionID)
	if err != nil {
		h.handleError(c, "get_task_state", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetModel handles GET /api/v1/sessions/:sessionId/model.
func (h *Handler) GetModel(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		appErr := errors.BadRequest("sessionId is required")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	model, err := h.manager.GetModel(c.Request.Context(), sessionID)
	if err != nil {
		h.handleError(c, "get_model", sessionID, err)
		return
	}
	c.JSON(http.StatusOK, model)
}

func (h *Handler) handleError(c *gin.Context, op, id string, err error) {
	h.log.Error("session operation failed", zap.String("op", op), zap.String("id", id), zap.Error(err))

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	c.JSON(http.StatusInternalServerError, errors.InternalError(op, err))
}
