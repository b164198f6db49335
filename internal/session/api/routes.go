package api

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the session API under /api/v1.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", h.StartSession)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.POST("/sessions/:id/messages", h.SendMessage)
		v1.POST("/sessions/:id/interrupt", h.Interrupt)
		v1.POST("/sessions/:id/stop", h.Stop)

		v1.GET("/transcripts", h.ListTranscripts)
		v1.GET("/transcripts/:id", h.GetTranscript)
	}
}
