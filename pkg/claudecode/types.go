// Package claudecode provides a client for the Claude Code CLI stream-json
// protocol. The CLI is driven as a subprocess speaking newline-delimited
// JSON over stdin/stdout, with control requests for interrupts and
// permission decisions.
package claudecode

import "encoding/json"

// Message types on the wire.
const (
	MessageTypeSystem          = "system"
	MessageTypeAssistant       = "assistant"
	MessageTypeUser            = "user"
	MessageTypeResult          = "result"
	MessageTypeStreamEvent     = "stream_event"
	MessageTypeControlRequest  = "control_request"
	MessageTypeControlResponse = "control_response"
)

// Control request subtypes.
const (
	SubtypeInterrupt = "interrupt"
	SubtypeSuccess   = "success"
)

// Permission behaviors for control responses.
const (
	BehaviorAllow = "allow"
	BehaviorDeny  = "deny"
)

// Built-in tool names.
const (
	ToolBash            = "Bash"
	ToolWrite           = "Write"
	ToolEdit            = "Edit"
	ToolNotebookEdit    = "NotebookEdit"
	ToolRead            = "Read"
	ToolGlob            = "Glob"
	ToolGrep            = "Grep"
	ToolWebFetch        = "WebFetch"
	ToolWebSearch       = "WebSearch"
	ToolExitPlanMode    = "ExitPlanMode"
	ToolAskUserQuestion = "AskUserQuestion"
)

// Message is a typed protocol message read from the CLI stdout stream.
// The concrete type is one of SystemMessage, AssistantMessage,
// UserMessage, ResultMessage, or StreamEventMessage.
type Message interface {
	// SessionID returns the CLI-assigned session id carried on the message.
	MessageSessionID() string
}

// SystemMessage is the session initialization message.
type SystemMessage struct {
	SessionID string   `json:"session_id"`
	UUID      string   `json:"uuid,omitempty"`
	Subtype   string   `json:"subtype,omitempty"`
	Model     string   `json:"model,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

func (m *SystemMessage) MessageSessionID() string { return m.SessionID }

// MessageBody is the role/content envelope shared by assistant and user
// messages.
type MessageBody struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// AssistantMessage carries assistant output content blocks.
type AssistantMessage struct {
	SessionID       string      `json:"session_id"`
	UUID            string      `json:"uuid,omitempty"`
	Message         MessageBody `json:"message"`
	ParentToolUseID string      `json:"parent_tool_use_id,omitempty"`
}

func (m *AssistantMessage) MessageSessionID() string { return m.SessionID }

// UserMessage carries user-role content, typically tool results echoed
// back by the CLI.
type UserMessage struct {
	SessionID       string      `json:"session_id"`
	UUID            string      `json:"uuid,omitempty"`
	Message         MessageBody `json:"message"`
	ParentToolUseID string      `json:"parent_tool_use_id,omitempty"`
}

func (m *UserMessage) MessageSessionID() string { return m.SessionID }

// ResultMessage terminates a prompt/response cycle. Its session id is the
// resume token for subsequent requests.
//
// TotalCostUSD is kept as json.Number: the CLI reports costs with more
// fractional digits than a float64 can hold.
type ResultMessage struct {
	SessionID     string      `json:"session_id"`
	UUID          string      `json:"uuid,omitempty"`
	Subtype       string      `json:"subtype,omitempty"`
	DurationMS    int64       `json:"duration_ms"`
	DurationAPIMS int64       `json:"duration_api_ms"`
	IsError       bool        `json:"is_error"`
	NumTurns      int         `json:"num_turns"`
	TotalCostUSD  json.Number `json:"total_cost_usd"`
	Result        string      `json:"result,omitempty"`
	Errors        []string    `json:"errors,omitempty"`
}

func (m *ResultMessage) MessageSessionID() string { return m.SessionID }

// StreamEventMessage wraps a raw streaming event. The event payload is
// passed through untouched; consumers opt in to decoding it.
type StreamEventMessage struct {
	SessionID       string          `json:"session_id"`
	UUID            string          `json:"uuid,omitempty"`
	Event           json.RawMessage `json:"event,omitempty"`
	ParentToolUseID string          `json:"parent_tool_use_id,omitempty"`
}

func (m *StreamEventMessage) MessageSessionID() string { return m.SessionID }

// ContentBlock is a typed content block inside an assistant or user
// message. The concrete type is one of TextBlock, ThinkingBlock,
// ToolUseBlock, or ToolResultBlock.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is a plain text content block.
type TextBlock struct {
	Text string `json:"text"`
}

func (b *TextBlock) BlockType() string { return "text" }

// ThinkingBlock carries extended thinking output.
type ThinkingBlock struct {
	Thinking string `json:"thinking"`
}

func (b *ThinkingBlock) BlockType() string { return "thinking" }

// ToolUseBlock is a tool invocation. Input is arbitrary JSON kept opaque
// until a consumer decodes it.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (b *ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock is the result of a prior tool invocation.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

func (b *ToolResultBlock) BlockType() string { return "tool_result" }

// outboundUserMessage is the frame written to stdin for a prompt.
type outboundUserMessage struct {
	Type    string           `json:"type"`
	Message outboundUserBody `json:"message"`
}

type outboundUserBody struct {
	Role    string              `json:"role"`
	Content []outboundTextBlock `json:"content"`
}

type outboundTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// controlRequest is the frame written to stdin for control operations.
type controlRequest struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id"`
	Request   controlRequestBody `json:"request"`
}

type controlRequestBody struct {
	Subtype string `json:"subtype"`
}

// controlResponse is the frame written to stdin in answer to a control
// request from the CLI.
type controlResponse struct {
	Type     string              `json:"type"`
	Response controlResponseBody `json:"response"`
}

type controlResponseBody struct {
	Subtype   string         `json:"subtype"`
	RequestID string         `json:"request_id"`
	Response  map[string]any `json:"response"`
}
