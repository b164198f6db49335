package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/tracing"
	"github.com/nick-boey/homespun/internal/session"
)

// Send delivers a follow-up user message to a session. When the
// session's transport is gone, a fresh one is connected with the
// conversation ID as the resume token and modelOverride applied.
// Unknown session IDs emit a single run error event and fail with
// SESSION_NOT_FOUND.
func (m *Manager) Send(ctx context.Context, sessionID, message, modelOverride string) (err error) {
	ctx, span := tracing.StartSessionSpan(ctx, "send", sessionID, "")
	defer func() { tracing.EndSessionSpan(span, err) }()

	sess, ok := m.store.GetByID(sessionID)
	if !ok {
		m.aggregator.Apply(sessionID, errorEvent(errors.CodeSessionNotFound, "session not found: "+sessionID))
		return errors.SessionNotFound(sessionID)
	}

	if a, ok := m.lookupActive(sessionID); ok {
		if err := a.client.SendUserMessage(message); err == nil {
			return nil
		}
		// The transport died under us; fall through to a reconnect.
		m.logger.Warn("send on live transport failed, reconnecting",
			zap.String("session_id", sessionID))
		a.cancel()
		<-a.done
	}

	model := sess.Model
	if modelOverride != "" {
		model = modelOverride
		sess.Model = model
	}

	md, _ := m.metadata.GetBySessionID(sessionID)
	opts := m.factory.Create(sess.Mode, sess.WorkingDirectory, model, md.SystemPrompt, m.askUser)
	opts.Resume = sess.ConversationID

	client := m.clients(opts)
	if err := client.Connect(ctx); err != nil {
		return errors.Startup("failed to reconnect session transport", err)
	}
	if err := client.SendUserMessage(message); err != nil {
		_ = client.Close(ctx)
		return errors.CliConnection("failed to send message: " + err.Error())
	}

	sess.Status = session.StatusRunning
	m.store.Update(sess)
	m.spawnConsumer(sessionID, client)
	return nil
}

// Interrupt asks the session's CLI to abandon its current operation.
// Unknown or idle sessions are a no-op.
func (m *Manager) Interrupt(ctx context.Context, sessionID string) error {
	a, ok := m.lookupActive(sessionID)
	if !ok {
		return nil
	}
	if err := a.client.Interrupt(); err != nil {
		m.logger.Warn("interrupt failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	return nil
}

// Stop tears down a session: the consumer is cancelled, the transport
// closed, and the session removed from the live store. The startup
// tracker is cleared so the entity may start again. Unknown session IDs
// are a no-op.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	sess, exists := m.store.GetByID(sessionID)

	if a, ok := m.lookupActive(sessionID); ok {
		if exists {
			sess.Status = session.StatusStopping
			m.store.Update(sess)
		}
		a.cancel()
		_ = a.client.Close(ctx)
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}

	if !exists {
		return nil
	}

	sess.Status = session.StatusStopped
	m.store.Remove(sessionID)
	m.startup.Clear(sess.EntityID)

	m.logger.Info("session stopped", zap.String("session_id", sessionID))
	return nil
}
