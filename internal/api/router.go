package api

import (
	"github.com/gin-gonic/gin"

	"github.com/genieflow/genieflow/internal/common/logger"
	"github.com/genieflow/genieflow/internal/session"
)

// SetupRoutes configures the GenieFlow session API routes under router,
// spec §6's external interface.
func SetupRoutes(router *gin.RouterGroup, mgr *session.Manager, log *logger.Logger) {
	handler := NewHandler(mgr, log)

	flows := router.Group("/flows/:flowTypeKey")
	{
		flows.POST("/sessions", handler.StartSession)
		flows.POST("/sessions/:sessionId/events", handler.ProcessEvent)
		flows.GET("/sessions/:sessionId/task_state", handler.GetTaskState)
	}

	router.GET("/sessions/:sessionId/model", handler.GetModel)
}
