// Package streaming aggregates incremental UI events into completed
// messages and tool calls, keyed per session.
package streaming

import "encoding/json"

// Event is one incremental streaming event for a session.
type Event interface {
	eventKind() string
}

// TextMessageStart opens a text message accumulator.
type TextMessageStart struct {
	MessageID string `json:"message_id"`
	Role      string `json:"role"`
}

// TextMessageContent appends a text delta to an open message.
type TextMessageContent struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
}

// TextMessageEnd completes and emits an open message.
type TextMessageEnd struct {
	MessageID string `json:"message_id"`
}

// ToolCallStart opens a tool call accumulator.
type ToolCallStart struct {
	ToolCallID      string `json:"tool_call_id"`
	ToolName        string `json:"tool_name"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
}

// ToolCallArgs appends an argument delta to an open tool call.
type ToolCallArgs struct {
	ToolCallID string `json:"tool_call_id"`
	Delta      string `json:"delta"`
}

// ToolCallEnd completes and emits an open tool call.
type ToolCallEnd struct {
	ToolCallID string `json:"tool_call_id"`
}

// ToolCallResult reports a tool's output. It is emitted immediately and
// stores no state.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	MessageID  string `json:"message_id"`
	Content    string `json:"content"`
}

// RunStarted marks the beginning of a run.
type RunStarted struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// RunFinished marks a completed run and clears all session state.
type RunFinished struct {
	ThreadID string `json:"thread_id"`
	RunID    string `json:"run_id"`
}

// RunError marks a failed run and clears all session state.
type RunError struct {
	Message string `json:"message"`
}

func (TextMessageStart) eventKind() string   { return "text_message_start" }
func (TextMessageContent) eventKind() string { return "text_message_content" }
func (TextMessageEnd) eventKind() string     { return "text_message_end" }
func (ToolCallStart) eventKind() string      { return "tool_call_start" }
func (ToolCallArgs) eventKind() string       { return "tool_call_args" }
func (ToolCallEnd) eventKind() string        { return "tool_call_end" }
func (ToolCallResult) eventKind() string     { return "tool_call_result" }
func (RunStarted) eventKind() string         { return "run_started" }
func (RunFinished) eventKind() string        { return "run_finished" }
func (RunError) eventKind() string           { return "run_error" }

// ContentType classifies completed content emitted by the aggregator.
type ContentType string

const (
	ContentTypeText       ContentType = "text"
	ContentTypeToolUse    ContentType = "tool_use"
	ContentTypeToolResult ContentType = "tool_result"
)

// MessageContent is one completed content item.
type MessageContent struct {
	Type       ContentType     `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolUseID  string          `json:"tool_use_id,omitempty"`
	ToolResult string          `json:"tool_result,omitempty"`
}

// CompletedMessage is a fully aggregated text message.
type CompletedMessage struct {
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}
