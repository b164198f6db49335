package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/tracing"
	"github.com/nick-boey/homespun/internal/session"
	"github.com/nick-boey/homespun/internal/session/metadata"
)

// StartRequest carries everything needed to start a session.
type StartRequest struct {
	EntityID         string
	ProjectID        string
	WorkingDirectory string
	Mode             session.Mode
	Model            string
	Prompt           string
	SystemPrompt     string

	// SessionID, when set, is used instead of a minted id. Callers that
	// subscribe to a session's updates before starting it supply the id
	// here so no early event is missed.
	SessionID string

	// ResumeSessionID resumes a prior CLI conversation instead of
	// starting a fresh one.
	ResumeSessionID string
}

// Start launches a session for an entity and returns its ID. At most
// one startup per entity is admitted until the tracker is cleared; a
// concurrent attempt fails with a retryable startup error. The session
// continues on a dedicated consumer goroutine after Start returns.
func (m *Manager) Start(ctx context.Context, req StartRequest) (sessionID string, err error) {
	ctx, span := tracing.StartSessionSpan(ctx, "start", req.SessionID, req.EntityID)
	defer func() { tracing.EndSessionSpan(span, err) }()

	if !m.startup.TryMarkAsStarting(req.EntityID) {
		return "", errors.Startup("session startup already in flight for entity "+req.EntityID, nil)
	}

	sessionID = req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	sess := &session.Session{
		ID:               sessionID,
		EntityID:         req.EntityID,
		ProjectID:        req.ProjectID,
		Mode:             req.Mode,
		WorkingDirectory: req.WorkingDirectory,
		Model:            req.Model,
		Status:           session.StatusStarting,
		CreatedAt:        time.Now().UTC(),
	}
	m.store.Add(sess)

	firstStart := req.ResumeSessionID == ""
	md := metadata.SessionMetadata{
		SessionID:        sessionID,
		EntityID:         req.EntityID,
		ProjectID:        req.ProjectID,
		WorkingDirectory: req.WorkingDirectory,
		Mode:             req.Mode,
		Model:            req.Model,
		SystemPrompt:     req.SystemPrompt,
		CreatedAt:        sess.CreatedAt,
	}
	if err := m.metadata.Save(md); err != nil {
		m.logger.Warn("failed to persist session metadata", zap.Error(err))
	}

	opts := m.factory.Create(req.Mode, req.WorkingDirectory, req.Model, req.SystemPrompt, m.askUser)
	if req.ResumeSessionID != "" {
		opts.Resume = req.ResumeSessionID
		sess.ConversationID = req.ResumeSessionID
	}

	client := m.clients(opts)
	if err := client.Connect(ctx); err != nil {
		m.failStartup(sessionID, req.EntityID, firstStart, err)
		return "", errors.Startup("failed to connect session transport", err)
	}

	if err := client.SendUserMessage(req.Prompt); err != nil {
		_ = client.Close(ctx)
		m.failStartup(sessionID, req.EntityID, firstStart, err)
		return "", errors.Startup("failed to send initial prompt", err)
	}

	m.startup.MarkAsStarted(req.EntityID)
	sess.Status = session.StatusRunning
	m.store.Update(sess)

	m.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("entity_id", req.EntityID),
		zap.String("mode", string(req.Mode)))

	m.spawnConsumer(sessionID, client)
	return sessionID, nil
}

// failStartup unwinds a partially-built session. Durable metadata is
// deleted only for first starts; a failed resume keeps the prior
// record. The startup slot is cleared after the failure is recorded so
// the retryable error the caller gets is actually actionable.
func (m *Manager) failStartup(sessionID, entityID string, firstStart bool, cause error) {
	m.startup.MarkAsFailed(entityID, cause)
	m.startup.Clear(entityID)
	m.store.Remove(sessionID)
	if firstStart {
		if err := m.metadata.Remove(sessionID); err != nil {
			m.logger.Warn("failed to remove session metadata", zap.Error(err))
		}
	}
	m.logger.Error("session startup failed",
		zap.String("session_id", sessionID),
		zap.String("entity_id", entityID),
		zap.Error(cause))
}

// spawnConsumer starts the per-session consumer loop with its own
// cancellable context.
func (m *Manager) spawnConsumer(sessionID string, client Client) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &activeSession{
		client: client,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.registerActive(sessionID, a)

	go func() {
		defer close(a.done)
		defer m.releaseActive(sessionID, a)
		m.consume(ctx, sessionID, client)
	}()
}
