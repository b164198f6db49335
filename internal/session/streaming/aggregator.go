package streaming

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// Sink receives completed aggregation outputs. Implementations must not
// block for long; the aggregator applies events sequentially per
// session.
type Sink interface {
	MessageCompleted(sessionID string, msg CompletedMessage)
	ToolCallCompleted(sessionID string, content MessageContent)
	ToolResultReceived(sessionID string, content MessageContent)
	RunStarted(sessionID string)
	RunFinished(sessionID string)
	RunError(sessionID string, message string)
}

type messageState struct {
	role string
	text strings.Builder
}

type toolCallState struct {
	toolName        string
	parentMessageID string
	args            strings.Builder
}

// Aggregator folds incremental events into completed messages and tool
// calls. All state is keyed by session ID first, so sessions never
// observe each other's accumulators.
type Aggregator struct {
	sink   Sink
	logger *logger.Logger

	mu        sync.Mutex
	messages  map[string]map[string]*messageState
	toolCalls map[string]map[string]*toolCallState
}

// NewAggregator creates an aggregator emitting into sink.
func NewAggregator(sink Sink, log *logger.Logger) *Aggregator {
	return &Aggregator{
		sink:      sink,
		logger:    log.WithFields(zap.String("component", "stream-aggregator")),
		messages:  make(map[string]map[string]*messageState),
		toolCalls: make(map[string]map[string]*toolCallState),
	}
}

// Apply folds one event into the session's state, emitting to the sink
// when an accumulator completes. Events are applied in call order;
// callers serialize per session.
func (a *Aggregator) Apply(sessionID string, event Event) {
	switch ev := event.(type) {
	case TextMessageStart:
		a.startMessage(sessionID, ev.MessageID, ev.Role)
	case TextMessageContent:
		a.appendMessage(sessionID, ev.MessageID, ev.Delta)
	case TextMessageEnd:
		a.endMessage(sessionID, ev.MessageID)
	case ToolCallStart:
		a.startToolCall(sessionID, ev)
	case ToolCallArgs:
		a.appendToolCall(sessionID, ev.ToolCallID, ev.Delta)
	case ToolCallEnd:
		a.endToolCall(sessionID, ev.ToolCallID)
	case ToolCallResult:
		a.sink.ToolResultReceived(sessionID, MessageContent{
			Type:       ContentTypeToolResult,
			ToolUseID:  ev.ToolCallID,
			ToolResult: ev.Content,
		})
	case RunStarted:
		a.sink.RunStarted(sessionID)
	case RunFinished:
		a.clearSession(sessionID)
		a.sink.RunFinished(sessionID)
	case RunError:
		a.clearSession(sessionID)
		a.sink.RunError(sessionID, ev.Message)
	default:
		a.logger.Debug("ignoring unknown streaming event")
	}
}

func (a *Aggregator) startMessage(sessionID, messageID, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, ok := a.messages[sessionID]
	if !ok {
		msgs = make(map[string]*messageState)
		a.messages[sessionID] = msgs
	}
	msgs[messageID] = &messageState{role: role}
}

func (a *Aggregator) appendMessage(sessionID, messageID, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs, ok := a.messages[sessionID]
	if !ok {
		msgs = make(map[string]*messageState)
		a.messages[sessionID] = msgs
	}
	state, ok := msgs[messageID]
	if !ok {
		// Deltas can arrive before their start event; assume assistant.
		state = &messageState{role: "assistant"}
		msgs[messageID] = state
	}
	state.text.WriteString(delta)
}

func (a *Aggregator) endMessage(sessionID, messageID string) {
	a.mu.Lock()
	msgs := a.messages[sessionID]
	state, ok := msgs[messageID]
	if ok {
		delete(msgs, messageID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	a.sink.MessageCompleted(sessionID, CompletedMessage{
		Role:    state.role,
		Content: []MessageContent{{Type: ContentTypeText, Text: state.text.String()}},
	})
}

func (a *Aggregator) startToolCall(sessionID string, ev ToolCallStart) {
	a.mu.Lock()
	defer a.mu.Unlock()
	calls, ok := a.toolCalls[sessionID]
	if !ok {
		calls = make(map[string]*toolCallState)
		a.toolCalls[sessionID] = calls
	}
	calls[ev.ToolCallID] = &toolCallState{
		toolName:        ev.ToolName,
		parentMessageID: ev.ParentMessageID,
	}
}

func (a *Aggregator) appendToolCall(sessionID, toolCallID, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	calls := a.toolCalls[sessionID]
	state, ok := calls[toolCallID]
	if !ok {
		return
	}
	state.args.WriteString(delta)
}

func (a *Aggregator) endToolCall(sessionID, toolCallID string) {
	a.mu.Lock()
	calls := a.toolCalls[sessionID]
	state, ok := calls[toolCallID]
	if ok {
		delete(calls, toolCallID)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	a.sink.ToolCallCompleted(sessionID, MessageContent{
		Type:      ContentTypeToolUse,
		ToolName:  state.toolName,
		ToolInput: json.RawMessage(state.args.String()),
	})
}

func (a *Aggregator) clearSession(sessionID string) {
	a.mu.Lock()
	delete(a.messages, sessionID)
	delete(a.toolCalls, sessionID)
	a.mu.Unlock()
}

// PendingMessages returns the count of open message accumulators for a
// session.
func (a *Aggregator) PendingMessages(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages[sessionID])
}

// PendingToolCalls returns the count of open tool call accumulators for
// a session.
func (a *Aggregator) PendingToolCalls(sessionID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.toolCalls[sessionID])
}
