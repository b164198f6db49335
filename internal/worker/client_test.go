package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/nick-boey/homespun/internal/common/errors"
	"github.com/nick-boey/homespun/internal/common/logger"
	"github.com/nick-boey/homespun/pkg/claudecode"
)

func testFactory(serverURL string) *Factory {
	return NewFactory(serverURL, 5*time.Second, logger.NewNop())
}

func writeEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func drain(t *testing.T, s *Session) []claudecode.Message {
	t.Helper()
	var messages []claudecode.Message
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-s.Messages():
			if !ok {
				return messages
			}
			messages = append(messages, msg)
		case <-deadline:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestSession_FirstSendStartsRemoteSession(t *testing.T) {
	var received startRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "session-started", `{"sessionId":"w1"}`)
		writeEvent(w, "message", `{"type":"assistant","session_id":"w1","uuid":"u1","message":{"role":"assistant","content":[{"type":"text","text":"hi"}]}}`)
		writeEvent(w, "result", `{"type":"result","session_id":"w1","uuid":"u2","subtype":"success","duration_ms":5,"duration_api_ms":4,"is_error":false,"num_turns":1,"total_cost_usd":0.01}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{
		Cwd:    "/tmp/project",
		Model:  "m1",
		Resume: "conv-1",
	})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("build it"))

	messages := drain(t, session)
	require.Len(t, messages, 2)

	assistant, ok := messages[0].(*claudecode.AssistantMessage)
	require.True(t, ok)
	assert.Equal(t, "hi", assistant.Message.Content[0].(*claudecode.TextBlock).Text)

	result, ok := messages[1].(*claudecode.ResultMessage)
	require.True(t, ok)
	assert.Equal(t, "w1", result.SessionID)

	assert.Equal(t, "/tmp/project", received.WorkingDirectory)
	assert.Equal(t, "build", received.Mode)
	assert.Equal(t, "m1", received.Model)
	assert.Equal(t, "build it", received.Prompt)
	assert.Equal(t, "conv-1", received.ResumeSessionID)

	session.mu.Lock()
	remoteID := session.remoteID
	session.mu.Unlock()
	assert.Equal(t, "w1", remoteID)
}

func TestSession_FollowUpPostsToMessages(t *testing.T) {
	var received messageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sessions/w1/messages", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "result", `{"type":"result","session_id":"w1","uuid":"u3","subtype":"success","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{Model: "m2"})
	session.remoteID = "w1"
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("again"))

	messages := drain(t, session)
	require.Len(t, messages, 1)
	assert.Equal(t, "again", received.Message)
	assert.Equal(t, "m2", received.Model)
}

func TestSession_PlanModeFromAllowedTools(t *testing.T) {
	var received startRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "result", `{"type":"result","session_id":"w1","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{
		AllowedTools: []string{claudecode.ToolRead},
	})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("plan it"))
	drain(t, session)

	assert.Equal(t, "plan", received.Mode)
}

func TestSession_SendWithoutConnect(t *testing.T) {
	session := testFactory("http://127.0.0.1:1").NewSession(claudecode.Options{})
	err := session.SendUserMessage("hi")
	assert.Equal(t, commonerrors.CodeCliConnection, commonerrors.CodeOf(err))
}

func TestSession_SendNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	err := session.SendUserMessage("hi")
	require.Error(t, err)
	assert.Equal(t, commonerrors.CodeCliConnection, commonerrors.CodeOf(err))
	assert.True(t, commonerrors.IsRetryable(err))
}

func TestSession_ErrorEventTerminatesStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "session-started", `{"sessionId":"w1"}`)
		writeEvent(w, "error", `{"code":"CLI_ERROR","message":"boom"}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("hi"))

	assert.Empty(t, drain(t, session))
}

func TestSession_UnknownEventTypesSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "heartbeat", `{}`)
		// Unknown protocol message types parse to nil and are dropped.
		writeEvent(w, "message", `{"type":"mystery","session_id":"w1"}`)
		writeEvent(w, "result", `{"type":"result","session_id":"w1","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("hi"))

	messages := drain(t, session)
	require.Len(t, messages, 1)
	_, ok := messages[0].(*claudecode.ResultMessage)
	assert.True(t, ok)
}

func TestSession_InterruptTreats404AsNoop(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	session.remoteID = "w1"
	assert.NoError(t, session.Interrupt())
	assert.Equal(t, "/sessions/w1/interrupt", path)
}

func TestSession_InterruptWithoutRemoteSession(t *testing.T) {
	session := testFactory("http://127.0.0.1:1").NewSession(claudecode.Options{})
	assert.NoError(t, session.Interrupt())
}

func TestSession_CloseIdempotent(t *testing.T) {
	session := testFactory("http://127.0.0.1:1").NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	assert.NoError(t, session.Close(context.Background()))
	assert.NoError(t, session.Close(context.Background()))

	err := session.Connect(context.Background())
	assert.Equal(t, commonerrors.CodeCliConnection, commonerrors.CodeOf(err))
}

func TestSession_CloseStopsInFlightTurn(t *testing.T) {
	var stopped bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sessions/w1/stop" {
			stopped = true
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	session.remoteID = "w1"
	session.streaming = true
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Close(context.Background()))

	assert.True(t, stopped)
}

func TestSession_SendDuringTurnRejected(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "session-started", `{"sessionId":"w1"}`)
		<-release
		writeEvent(w, "result", `{"type":"result","session_id":"w1","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("first"))

	// The first turn is still streaming; a concurrent send must fail
	// instead of racing a second stream onto the same channel.
	err := session.SendUserMessage("second")
	require.Error(t, err)
	assert.Equal(t, commonerrors.CodeStateMismatch, commonerrors.CodeOf(err))

	close(release)
	messages := drain(t, session)
	require.Len(t, messages, 1)
	_, ok := messages[0].(*claudecode.ResultMessage)
	assert.True(t, ok)
}

func TestSession_SendAfterStreamEndsFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "result", `{"type":"result","session_id":"w1","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.SendUserMessage("first"))
	drain(t, session)

	err := session.SendUserMessage("second")
	require.Error(t, err)
	assert.Equal(t, commonerrors.CodeCliConnection, commonerrors.CodeOf(err))
}

func TestSession_FailedSendReleasesTurn(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "result", `{"type":"result","session_id":"w1","duration_ms":1,"duration_api_ms":1,"is_error":false,"num_turns":1,"total_cost_usd":0}`)
	}))
	defer server.Close()

	session := testFactory(server.URL).NewSession(claudecode.Options{})
	require.NoError(t, session.Connect(context.Background()))
	require.Error(t, session.SendUserMessage("first"))

	// The failed send must not leave the session stuck streaming.
	require.NoError(t, session.SendUserMessage("retry"))
	messages := drain(t, session)
	require.Len(t, messages, 1)
}

func TestFactory_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions/w1":
			json.NewEncoder(w).Encode(SessionStatus{SessionID: "w1", Status: "running"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	factory := testFactory(server.URL)

	status, err := factory.GetStatus(context.Background(), "w1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "running", status.Status)

	status, err = factory.GetStatus(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestSSEReader(t *testing.T) {
	input := strings.Join([]string{
		"event: message",
		"data: line1",
		"data: line2",
		"",
		"event: result",
		"data: {}",
		"",
	}, "\n")

	reader := newSSEReader(strings.NewReader(input))

	event, data, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "message", event)
	assert.Equal(t, "line1\nline2", string(data))

	event, data, err = reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "result", event)
	assert.Equal(t, "{}", string(data))

	_, _, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSSEReader_EventWithoutTrailingBlankLine(t *testing.T) {
	input := "event: result\ndata: {\"done\":true}"
	reader := newSSEReader(strings.NewReader(input))

	event, data, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "result", event)
	assert.Equal(t, `{"done":true}`, string(data))

	_, _, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}
