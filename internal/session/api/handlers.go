package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/internal/session"
	"github.com/nick-boey/homespun/internal/session/lifecycle"
	"github.com/nick-boey/homespun/internal/session/streaming"
	"github.com/nick-boey/homespun/internal/session/transcripts"
)

// Handler serves the session API.
type Handler struct {
	manager   *lifecycle.Manager
	streams   *Streams
	discovery *transcripts.Discovery
	logger    *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(manager *lifecycle.Manager, streams *Streams, discovery *transcripts.Discovery, log *logger.Logger) *Handler {
	return &Handler{
		manager:   manager,
		streams:   streams,
		discovery: discovery,
		logger:    log.WithFields(zap.String("component", "session-api")),
	}
}

// StartSessionRequest is the POST /sessions body.
type StartSessionRequest struct {
	EntityID         string `json:"entityId" binding:"required"`
	ProjectID        string `json:"projectId"`
	WorkingDirectory string `json:"workingDirectory" binding:"required"`
	Mode             string `json:"mode" binding:"required"`
	Model            string `json:"model"`
	Prompt           string `json:"prompt" binding:"required"`
	SystemPrompt     string `json:"systemPrompt"`
	ResumeSessionID  string `json:"resumeSessionId"`
}

// SendMessageRequest is the POST /sessions/:id/messages body.
type SendMessageRequest struct {
	Message string `json:"message" binding:"required"`
	Model   string `json:"model"`
}

// StartSession launches a session and streams its first turn.
// POST /api/v1/sessions
func (h *Handler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	mode := session.Mode(req.Mode)
	if mode != session.ModePlan && mode != session.ModeBuild {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "mode must be plan or build"})
		return
	}

	// The subscription must exist before the turn starts, or a fast
	// turn can finish before anyone is listening.
	sessionID := uuid.New().String()
	updates, cancel := h.streams.Subscribe(sessionID)
	defer cancel()

	if _, err := h.manager.Start(c.Request.Context(), lifecycle.StartRequest{
		EntityID:         req.EntityID,
		ProjectID:        req.ProjectID,
		WorkingDirectory: req.WorkingDirectory,
		Mode:             mode,
		Model:            req.Model,
		Prompt:           req.Prompt,
		SystemPrompt:     req.SystemPrompt,
		SessionID:        sessionID,
		ResumeSessionID:  req.ResumeSessionID,
	}); err != nil {
		h.writeError(c, err)
		return
	}

	h.streamSession(c, sessionID, updates, true)
}

// SendMessage forwards a follow-up message and streams the turn.
// POST /api/v1/sessions/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}

	sessionID := c.Param("id")
	updates, cancel := h.streams.Subscribe(sessionID)
	defer cancel()

	if err := h.manager.Send(c.Request.Context(), sessionID, req.Message, req.Model); err != nil {
		h.writeError(c, err)
		return
	}

	h.streamSession(c, sessionID, updates, false)
}

// streamSession relays an already-subscribed update channel as SSE
// until the turn finishes or the client goes away.
func (h *Handler) streamSession(c *gin.Context, sessionID string, updates <-chan streaming.Update, started bool) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	if started {
		writeSSE(c.Writer, "session-started", gin.H{"sessionId": sessionID})
		c.Writer.Flush()
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeSSE(c.Writer, sseEventName(update.Kind), update)
			c.Writer.Flush()
			if update.Kind == streaming.UpdateRunFinished || update.Kind == streaming.UpdateRunError {
				return
			}
		}
	}
}

func sseEventName(kind streaming.UpdateKind) string {
	switch kind {
	case streaming.UpdateRunFinished:
		return "result"
	case streaming.UpdateRunError:
		return "error"
	default:
		return "message"
	}
}

func writeSSE(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

// Interrupt abandons the session's current operation.
// POST /api/v1/sessions/:id/interrupt
func (h *Handler) Interrupt(c *gin.Context) {
	if err := h.manager.Interrupt(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Stop tears the session down.
// POST /api/v1/sessions/:id/stop
func (h *Handler) Stop(c *gin.Context) {
	if err := h.manager.Stop(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSession returns the live session record.
// GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.manager.GetSession(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": errors.CodeSessionNotFound, "message": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ListSessions returns all live sessions.
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.ListSessions()})
}

// ListTranscripts returns prior transcripts for a working directory.
// GET /api/v1/transcripts?cwd=...
func (h *Handler) ListTranscripts(c *gin.Context) {
	cwd := c.Query("cwd")
	if cwd == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "cwd query parameter is required"})
		return
	}

	sessions, err := h.discovery.DiscoverSessions(cwd)
	if err != nil {
		h.logger.Error("transcript discovery failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "failed to list transcripts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": sessions})
}

// GetTranscript returns one transcript's line count and path.
// GET /api/v1/transcripts/:id?cwd=...
func (h *Handler) GetTranscript(c *gin.Context) {
	cwd := c.Query("cwd")
	sessionID := c.Param("id")
	if cwd == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "cwd query parameter is required"})
		return
	}

	count, exists := h.discovery.GetMessageCount(sessionID, cwd)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"code": errors.CodeSessionNotFound, "message": "transcript not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":    sessionID,
		"filePath":     h.discovery.GetSessionFilePath(sessionID, cwd),
		"messageCount": count,
	})
}

// writeError maps engine error codes onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.CodeSessionNotFound:
		status = http.StatusNotFound
	case errors.CodeStartupFailed:
		status = http.StatusConflict
	case errors.CodeTimeout:
		status = http.StatusGatewayTimeout
	case errors.CodeCliConnection, errors.CodeConnectionLost:
		status = http.StatusServiceUnavailable
	case errors.CodeStateMismatch:
		status = http.StatusConflict
	}

	h.logger.Error("request failed", zap.String("code", code), zap.Error(err))
	c.JSON(status, gin.H{
		"code":      code,
		"message":   err.Error(),
		"retryable": errors.IsRetryable(err),
	})
}
