package claudecode

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nick-boey/homespun/internal/common/logger"
)

func TestControlResponseFrame_Allow(t *testing.T) {
	frame := controlResponseFrame("req1", BehaviorAllow, nil, "")

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		Type     string `json:"type"`
		Response struct {
			Subtype   string         `json:"subtype"`
			RequestID string         `json:"request_id"`
			Response  map[string]any `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if decoded.Type != MessageTypeControlResponse {
		t.Errorf("type = %q, want %q", decoded.Type, MessageTypeControlResponse)
	}
	if decoded.Response.Subtype != SubtypeSuccess {
		t.Errorf("subtype = %q, want %q", decoded.Response.Subtype, SubtypeSuccess)
	}
	if decoded.Response.RequestID != "req1" {
		t.Errorf("request_id = %q, want %q", decoded.Response.RequestID, "req1")
	}
	inner := decoded.Response.Response
	if inner["behavior"] != "allow" {
		t.Errorf("behavior = %v, want allow", inner["behavior"])
	}
	updated, ok := inner["updatedInput"].(map[string]any)
	if !ok {
		t.Fatalf("updatedInput = %v, want object even when not supplied", inner["updatedInput"])
	}
	if len(updated) != 0 {
		t.Errorf("updatedInput = %v, want empty object", updated)
	}
	if _, present := inner["message"]; present {
		t.Error("allow response must not carry a message")
	}
}

func TestControlResponseFrame_AllowWithInput(t *testing.T) {
	frame := controlResponseFrame("req2", BehaviorAllow, map[string]any{"command": "ls -la"}, "")

	inner := frame.Response.Response
	updated, ok := inner["updatedInput"].(map[string]any)
	if !ok {
		t.Fatal("updatedInput missing")
	}
	if updated["command"] != "ls -la" {
		t.Errorf("updatedInput.command = %v, want %q", updated["command"], "ls -la")
	}
}

func TestControlResponseFrame_Deny(t *testing.T) {
	frame := controlResponseFrame("req3", BehaviorDeny, nil, "no")

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded struct {
		Response struct {
			Response map[string]any `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	inner := decoded.Response.Response
	if inner["behavior"] != "deny" {
		t.Errorf("behavior = %v, want deny", inner["behavior"])
	}
	if inner["message"] != "no" {
		t.Errorf("message = %v, want %q", inner["message"], "no")
	}
	if _, present := inner["updatedInput"]; present {
		t.Error("deny response must not carry updatedInput")
	}
}

func TestControlResponseFrame_DenyDefaultsMessage(t *testing.T) {
	frame := controlResponseFrame("req4", BehaviorDeny, nil, "")
	inner := frame.Response.Response
	msg, present := inner["message"]
	if !present {
		t.Fatal("deny response must always carry a message")
	}
	if msg != "" {
		t.Errorf("message = %v, want empty string default", msg)
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(Options{}, logger.NewNop())

	if client.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := client.SendUserMessage("hi"); err == nil {
		t.Error("SendUserMessage() error = nil, want connection error")
	}
	if err := client.Interrupt(); err == nil {
		t.Error("Interrupt() error = nil, want connection error")
	}
	if err := client.SendControlResponse("r", BehaviorAllow, nil, ""); err == nil {
		t.Error("SendControlResponse() error = nil, want connection error")
	}

	// Messages on an unconnected client is a closed channel, not nil.
	select {
	case _, ok := <-client.Messages():
		if ok {
			t.Error("Messages() yielded a value on unconnected client")
		}
	default:
		t.Error("Messages() channel should be closed when unconnected")
	}

	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v, want nil on unconnected client", err)
	}
}

func TestOutboundUserMessageShape(t *testing.T) {
	frame := &outboundUserMessage{
		Type: MessageTypeUser,
		Message: outboundUserBody{
			Role:    "user",
			Content: []outboundTextBlock{{Type: "text", Text: "hello"}},
		},
	}

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"hello"}]}}`
	if string(data) != want {
		t.Errorf("frame = %s\nwant    %s", data, want)
	}
}
