package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/session"
	"github.com/nick-boey/homespun/internal/session/streaming"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

// consume drains a session's message stream until a terminal result,
// EOF, timeout, or cancellation. Protocol messages are translated into
// streaming events in arrival order and forwarded to the subscriber.
func (m *Manager) consume(ctx context.Context, sessionID string, client Client) {
	state := newTranslationState()
	timer := time.NewTimer(m.requestTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Give the CLI a chance to wind down before teardown.
			_ = client.Interrupt()
			_ = client.Close(context.Background())
			return

		case <-timer.C:
			m.logger.Error("session response timed out",
				zap.String("session_id", sessionID),
				zap.Duration("timeout", m.requestTimeout))
			m.markErrored(sessionID)
			m.aggregator.Apply(sessionID, errorEvent(errors.CodeTimeout,
				fmt.Sprintf("no response within %s", m.requestTimeout)))
			_ = client.Close(context.Background())
			return

		case msg, ok := <-client.Messages():
			if !ok {
				// EOF without a result means the CLI died mid-turn.
				m.markErrored(sessionID)
				m.aggregator.Apply(sessionID, errorEvent(errors.CodeConnectionLost,
					"session stream ended unexpectedly"))
				_ = client.Close(context.Background())
				return
			}

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(m.requestTimeout)

			if m.subscriber != nil {
				m.subscriber(sessionID, msg)
			}

			if result, done := msg.(*claudecode.ResultMessage); done {
				m.finishTurn(sessionID, result)
				_ = client.Close(context.Background())
				return
			}

			for _, ev := range translate(msg, state) {
				m.aggregator.Apply(sessionID, ev)
			}
		}
	}
}

// finishTurn records the conversation id from the terminal result,
// persists it, and emits the completion sentinel.
func (m *Manager) finishTurn(sessionID string, result *claudecode.ResultMessage) {
	if sess, ok := m.store.GetByID(sessionID); ok {
		sess.ConversationID = result.SessionID
		m.store.Update(sess)
		if md, found := m.metadata.GetBySessionID(sessionID); found {
			if err := m.metadata.Save(md); err != nil {
				m.logger.Warn("failed to persist metadata after result", zap.Error(err))
			}
		}
	}

	if result.IsError {
		msg := result.Result
		if msg == "" {
			msg = "session turn failed"
		}
		m.aggregator.Apply(sessionID, errorEvent(errors.CodeCliError, msg))
		return
	}

	m.logger.Debug("session turn completed",
		zap.String("session_id", sessionID),
		zap.Int64("duration_ms", result.DurationMS),
		zap.Int("num_turns", result.NumTurns),
		zap.String("total_cost_usd", result.TotalCostUSD.String()))
	m.aggregator.Apply(sessionID, streaming.RunFinished{
		ThreadID: sessionID,
		RunID:    result.UUID,
	})
}

func (m *Manager) markErrored(sessionID string) {
	if sess, ok := m.store.GetByID(sessionID); ok {
		sess.Status = session.StatusErrored
		m.store.Update(sess)
	}
}

func errorEvent(code, message string) streaming.RunError {
	return streaming.RunError{Message: code + ": " + message}
}

// translationState maps stream event block indexes to tool call ids so
// argument deltas can be routed to the right accumulator.
type translationState struct {
	toolCallByIndex map[int]string
	messageID       string
	messageRole     string
}

func newTranslationState() *translationState {
	return &translationState{toolCallByIndex: make(map[int]string)}
}

// translate converts one protocol message into zero or more streaming
// events. Complete assistant and user messages expand into synthetic
// start/content/end triplets; stream events carry raw incremental
// deltas from the model.
func translate(msg claudecode.Message, state *translationState) []streaming.Event {
	switch typed := msg.(type) {
	case *claudecode.SystemMessage:
		if typed.Subtype == "init" {
			return []streaming.Event{streaming.RunStarted{
				ThreadID: typed.SessionID,
				RunID:    typed.UUID,
			}}
		}
		return nil

	case *claudecode.AssistantMessage:
		return translateBlocks(typed.UUID, typed.Message.Role, typed.Message.Content)

	case *claudecode.UserMessage:
		var events []streaming.Event
		for _, block := range typed.Message.Content {
			if result, ok := block.(*claudecode.ToolResultBlock); ok {
				events = append(events, streaming.ToolCallResult{
					ToolCallID: result.ToolUseID,
					MessageID:  typed.UUID,
					Content:    result.Content,
				})
			}
		}
		return events

	case *claudecode.StreamEventMessage:
		return translateStreamEvent(typed, state)

	default:
		return nil
	}
}

// translateBlocks expands a complete message's content blocks into the
// incremental event shape the aggregator consumes.
func translateBlocks(messageID, role string, blocks []claudecode.ContentBlock) []streaming.Event {
	var events []streaming.Event
	for i, block := range blocks {
		switch b := block.(type) {
		case *claudecode.TextBlock:
			mid := fmt.Sprintf("%s-%d", messageID, i)
			events = append(events,
				streaming.TextMessageStart{MessageID: mid, Role: role},
				streaming.TextMessageContent{MessageID: mid, Delta: b.Text},
				streaming.TextMessageEnd{MessageID: mid},
			)
		case *claudecode.ToolUseBlock:
			events = append(events,
				streaming.ToolCallStart{ToolCallID: b.ID, ToolName: b.Name, ParentMessageID: messageID},
				streaming.ToolCallArgs{ToolCallID: b.ID, Delta: string(b.Input)},
				streaming.ToolCallEnd{ToolCallID: b.ID},
			)
		case *claudecode.ToolResultBlock:
			events = append(events, streaming.ToolCallResult{
				ToolCallID: b.ToolUseID,
				MessageID:  messageID,
				Content:    b.Content,
			})
		}
	}
	return events
}

// rawStreamEvent is the subset of the model's raw stream event payload
// the translator cares about.
type rawStreamEvent struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

func translateStreamEvent(msg *claudecode.StreamEventMessage, state *translationState) []streaming.Event {
	if len(msg.Event) == 0 {
		return nil
	}
	var raw rawStreamEvent
	if err := json.Unmarshal(msg.Event, &raw); err != nil {
		return nil
	}

	switch raw.Type {
	case "message_start":
		state.messageID = raw.Message.ID
		state.messageRole = raw.Message.Role
		if state.messageRole == "" {
			state.messageRole = "assistant"
		}
		return []streaming.Event{streaming.TextMessageStart{
			MessageID: state.messageID,
			Role:      state.messageRole,
		}}

	case "content_block_start":
		if raw.ContentBlock.Type == "tool_use" {
			state.toolCallByIndex[raw.Index] = raw.ContentBlock.ID
			return []streaming.Event{streaming.ToolCallStart{
				ToolCallID:      raw.ContentBlock.ID,
				ToolName:        raw.ContentBlock.Name,
				ParentMessageID: state.messageID,
			}}
		}
		return nil

	case "content_block_delta":
		switch raw.Delta.Type {
		case "text_delta":
			return []streaming.Event{streaming.TextMessageContent{
				MessageID: state.messageID,
				Delta:     raw.Delta.Text,
			}}
		case "input_json_delta":
			if id, ok := state.toolCallByIndex[raw.Index]; ok {
				return []streaming.Event{streaming.ToolCallArgs{
					ToolCallID: id,
					Delta:      raw.Delta.PartialJSON,
				}}
			}
		}
		return nil

	case "content_block_stop":
		if id, ok := state.toolCallByIndex[raw.Index]; ok {
			delete(state.toolCallByIndex, raw.Index)
			return []streaming.Event{streaming.ToolCallEnd{ToolCallID: id}}
		}
		return nil

	case "message_stop":
		if state.messageID == "" {
			return nil
		}
		mid := state.messageID
		state.messageID = ""
		return []streaming.Event{streaming.TextMessageEnd{MessageID: mid}}

	default:
		return nil
	}
}
