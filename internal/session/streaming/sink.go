package streaming

import (
	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// UpdateKind discriminates aggregated updates on a channel sink.
type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateToolCall    UpdateKind = "tool_call"
	UpdateToolResult  UpdateKind = "tool_result"
	UpdateRunStarted  UpdateKind = "run_started"
	UpdateRunFinished UpdateKind = "run_finished"
	UpdateRunError    UpdateKind = "run_error"
)

// Update is one aggregated output delivered through a ChannelSink.
type Update struct {
	Kind      UpdateKind        `json:"kind"`
	SessionID string            `json:"session_id"`
	Message   *CompletedMessage `json:"message,omitempty"`
	Content   *MessageContent   `json:"content,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// ChannelSink delivers aggregated updates on a buffered channel. A full
// channel drops the update with a warning rather than blocking the
// consumer loop.
type ChannelSink struct {
	updates chan Update
	logger  *logger.Logger
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int, log *logger.Logger) *ChannelSink {
	return &ChannelSink{
		updates: make(chan Update, buffer),
		logger:  log.WithFields(zap.String("component", "stream-sink")),
	}
}

// Updates returns the delivery channel.
func (s *ChannelSink) Updates() <-chan Update {
	return s.updates
}

// Close closes the delivery channel. Callers must stop applying events
// first.
func (s *ChannelSink) Close() {
	close(s.updates)
}

func (s *ChannelSink) send(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn("update channel full, dropping update",
			zap.String("kind", string(u.Kind)),
			zap.String("session_id", u.SessionID))
	}
}

func (s *ChannelSink) MessageCompleted(sessionID string, msg CompletedMessage) {
	s.send(Update{Kind: UpdateMessage, SessionID: sessionID, Message: &msg})
}

func (s *ChannelSink) ToolCallCompleted(sessionID string, content MessageContent) {
	s.send(Update{Kind: UpdateToolCall, SessionID: sessionID, Content: &content})
}

func (s *ChannelSink) ToolResultReceived(sessionID string, content MessageContent) {
	s.send(Update{Kind: UpdateToolResult, SessionID: sessionID, Content: &content})
}

func (s *ChannelSink) RunStarted(sessionID string) {
	s.send(Update{Kind: UpdateRunStarted, SessionID: sessionID})
}

func (s *ChannelSink) RunFinished(sessionID string) {
	s.send(Update{Kind: UpdateRunFinished, SessionID: sessionID})
}

func (s *ChannelSink) RunError(sessionID string, message string) {
	s.send(Update{Kind: UpdateRunError, SessionID: sessionID, Error: message})
}
