package claudecode

import (
	"encoding/json"
	"fmt"
)

// envelope is the first-pass decode used to pick the variant decoder.
type envelope struct {
	Type string `json:"type"`
}

// resultEnvelope mirrors ResultMessage with pointers so missing required
// fields can be told apart from zero values.
type resultEnvelope struct {
	SessionID     string      `json:"session_id"`
	UUID          string      `json:"uuid"`
	Subtype       string      `json:"subtype"`
	DurationMS    *int64      `json:"duration_ms"`
	DurationAPIMS *int64      `json:"duration_api_ms"`
	IsError       bool        `json:"is_error"`
	NumTurns      int         `json:"num_turns"`
	TotalCostUSD  json.Number `json:"total_cost_usd"`
	Result        string      `json:"result"`
	Errors        []string    `json:"errors"`
}

// messageEnvelope mirrors assistant/user messages with raw content so
// blocks can be decoded individually.
type messageEnvelope struct {
	SessionID       string `json:"session_id"`
	UUID            string `json:"uuid"`
	ParentToolUseID string `json:"parent_tool_use_id"`
	Message         struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"message"`
}

// Parse decodes one newline-delimited JSON protocol message.
//
// The outer "type" discriminator selects the variant. An unknown type
// yields (nil, nil): the caller drops the line. Missing required fields
// (session_id, durations on result) yield an error and the line is
// skipped. Unknown content block types inside a message are silently
// skipped.
func Parse(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch env.Type {
	case MessageTypeSystem:
		var msg SystemMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("malformed system message: %w", err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("system message missing session_id")
		}
		return &msg, nil

	case MessageTypeAssistant:
		env, blocks, err := parseMessageBody(line)
		if err != nil {
			return nil, err
		}
		return &AssistantMessage{
			SessionID:       env.SessionID,
			UUID:            env.UUID,
			Message:         MessageBody{Role: env.Message.Role, Content: blocks},
			ParentToolUseID: env.ParentToolUseID,
		}, nil

	case MessageTypeUser:
		env, blocks, err := parseMessageBody(line)
		if err != nil {
			return nil, err
		}
		return &UserMessage{
			SessionID:       env.SessionID,
			UUID:            env.UUID,
			Message:         MessageBody{Role: env.Message.Role, Content: blocks},
			ParentToolUseID: env.ParentToolUseID,
		}, nil

	case MessageTypeResult:
		var env resultEnvelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("malformed result message: %w", err)
		}
		if env.SessionID == "" {
			return nil, fmt.Errorf("result message missing session_id")
		}
		if env.DurationMS == nil || env.DurationAPIMS == nil {
			return nil, fmt.Errorf("result message missing durations")
		}
		return &ResultMessage{
			SessionID:     env.SessionID,
			UUID:          env.UUID,
			Subtype:       env.Subtype,
			DurationMS:    *env.DurationMS,
			DurationAPIMS: *env.DurationAPIMS,
			IsError:       env.IsError,
			NumTurns:      env.NumTurns,
			TotalCostUSD:  env.TotalCostUSD,
			Result:        env.Result,
			Errors:        env.Errors,
		}, nil

	case MessageTypeStreamEvent:
		var msg StreamEventMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("malformed stream_event message: %w", err)
		}
		if msg.SessionID == "" {
			return nil, fmt.Errorf("stream_event message missing session_id")
		}
		return &msg, nil

	default:
		// Unknown message types (and control traffic handled elsewhere)
		// are dropped by the caller.
		return nil, nil
	}
}

func parseMessageBody(line []byte) (*messageEnvelope, []ContentBlock, error) {
	var env messageEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, nil, fmt.Errorf("malformed message body: %w", err)
	}
	if env.SessionID == "" {
		return nil, nil, fmt.Errorf("message missing session_id")
	}

	blocks := make([]ContentBlock, 0, len(env.Message.Content))
	for _, raw := range env.Message.Content {
		block, err := parseContentBlock(raw)
		if err != nil {
			return nil, nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return &env, blocks, nil
}

// parseContentBlock decodes a single content block. Unknown block types
// return (nil, nil) and are skipped.
func parseContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed content block: %w", err)
	}

	switch env.Type {
	case "text":
		var block TextBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("malformed text block: %w", err)
		}
		return &block, nil
	case "thinking":
		var block ThinkingBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("malformed thinking block: %w", err)
		}
		return &block, nil
	case "tool_use":
		var block ToolUseBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("malformed tool_use block: %w", err)
		}
		return &block, nil
	case "tool_result":
		var block ToolResultBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, fmt.Errorf("malformed tool_result block: %w", err)
		}
		return &block, nil
	default:
		return nil, nil
	}
}
