package streaming

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-boey/homespun/internal/common/logger"
)

// recordingSink captures sink callbacks for assertions.
type recordingSink struct {
	mu          sync.Mutex
	messages    map[string][]CompletedMessage
	toolCalls   map[string][]MessageContent
	toolResults map[string][]MessageContent
	runStarted  []string
	runFinished []string
	runErrors   map[string][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		messages:    make(map[string][]CompletedMessage),
		toolCalls:   make(map[string][]MessageContent),
		toolResults: make(map[string][]MessageContent),
		runErrors:   make(map[string][]string),
	}
}

func (s *recordingSink) MessageCompleted(sessionID string, msg CompletedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
}

func (s *recordingSink) ToolCallCompleted(sessionID string, content MessageContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls[sessionID] = append(s.toolCalls[sessionID], content)
}

func (s *recordingSink) ToolResultReceived(sessionID string, content MessageContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolResults[sessionID] = append(s.toolResults[sessionID], content)
}

func (s *recordingSink) RunStarted(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStarted = append(s.runStarted, sessionID)
}

func (s *recordingSink) RunFinished(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runFinished = append(s.runFinished, sessionID)
}

func (s *recordingSink) RunError(sessionID string, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErrors[sessionID] = append(s.runErrors[sessionID], message)
}

func newTestAggregator() (*Aggregator, *recordingSink) {
	sink := newRecordingSink()
	return NewAggregator(sink, logger.NewNop()), sink
}

func TestAggregator_ConcatenatesDeltas(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", TextMessageStart{MessageID: "m1", Role: "assistant"})
	for _, delta := range []string{"Hel", "lo ", "world"} {
		agg.Apply("s1", TextMessageContent{MessageID: "m1", Delta: delta})
	}
	agg.Apply("s1", TextMessageEnd{MessageID: "m1"})

	require.Len(t, sink.messages["s1"], 1)
	msg := sink.messages["s1"][0]
	assert.Equal(t, "assistant", msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "Hello world", msg.Content[0].Text)
	assert.Equal(t, 0, agg.PendingMessages("s1"))
}

func TestAggregator_InterleavedMessages(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", TextMessageStart{MessageID: "A", Role: "assistant"})
	agg.Apply("s1", TextMessageStart{MessageID: "B", Role: "assistant"})
	agg.Apply("s1", TextMessageContent{MessageID: "A", Delta: "X"})
	agg.Apply("s1", TextMessageContent{MessageID: "B", Delta: "1"})
	agg.Apply("s1", TextMessageContent{MessageID: "A", Delta: "Y"})
	agg.Apply("s1", TextMessageContent{MessageID: "B", Delta: "2"})
	agg.Apply("s1", TextMessageEnd{MessageID: "A"})
	agg.Apply("s1", TextMessageEnd{MessageID: "B"})

	require.Len(t, sink.messages["s1"], 2)
	assert.Equal(t, "XY", sink.messages["s1"][0].Content[0].Text)
	assert.Equal(t, "12", sink.messages["s1"][1].Content[0].Text)
}

func TestAggregator_SessionIsolation(t *testing.T) {
	agg, sink := newTestAggregator()

	// The same message id in two sessions accumulates independently.
	agg.Apply("s1", TextMessageStart{MessageID: "m", Role: "assistant"})
	agg.Apply("s2", TextMessageStart{MessageID: "m", Role: "assistant"})
	agg.Apply("s1", TextMessageContent{MessageID: "m", Delta: "one"})
	agg.Apply("s2", TextMessageContent{MessageID: "m", Delta: "two"})
	agg.Apply("s1", TextMessageEnd{MessageID: "m"})
	agg.Apply("s2", TextMessageEnd{MessageID: "m"})

	require.Len(t, sink.messages["s1"], 1)
	require.Len(t, sink.messages["s2"], 1)
	assert.Equal(t, "one", sink.messages["s1"][0].Content[0].Text)
	assert.Equal(t, "two", sink.messages["s2"][0].Content[0].Text)
}

func TestAggregator_ImplicitMessageCreation(t *testing.T) {
	agg, sink := newTestAggregator()

	// A delta without a start creates the accumulator with assistant role.
	agg.Apply("s1", TextMessageContent{MessageID: "m1", Delta: "hi"})
	agg.Apply("s1", TextMessageEnd{MessageID: "m1"})

	require.Len(t, sink.messages["s1"], 1)
	assert.Equal(t, "assistant", sink.messages["s1"][0].Role)
	assert.Equal(t, "hi", sink.messages["s1"][0].Content[0].Text)
}

func TestAggregator_EndWithoutStartIsNoop(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", TextMessageEnd{MessageID: "ghost"})
	agg.Apply("s1", ToolCallEnd{ToolCallID: "ghost"})

	assert.Empty(t, sink.messages["s1"])
	assert.Empty(t, sink.toolCalls["s1"])
}

func TestAggregator_StartOverwrites(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", TextMessageStart{MessageID: "m1", Role: "assistant"})
	agg.Apply("s1", TextMessageContent{MessageID: "m1", Delta: "stale"})
	agg.Apply("s1", TextMessageStart{MessageID: "m1", Role: "user"})
	agg.Apply("s1", TextMessageContent{MessageID: "m1", Delta: "fresh"})
	agg.Apply("s1", TextMessageEnd{MessageID: "m1"})

	require.Len(t, sink.messages["s1"], 1)
	assert.Equal(t, "user", sink.messages["s1"][0].Role)
	assert.Equal(t, "fresh", sink.messages["s1"][0].Content[0].Text)
}

func TestAggregator_ToolCallLifecycle(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", ToolCallStart{ToolCallID: "t1", ToolName: "Bash", ParentMessageID: "m1"})
	agg.Apply("s1", ToolCallArgs{ToolCallID: "t1", Delta: `{"comm`})
	agg.Apply("s1", ToolCallArgs{ToolCallID: "t1", Delta: `and":"ls"}`})
	agg.Apply("s1", ToolCallEnd{ToolCallID: "t1"})

	require.Len(t, sink.toolCalls["s1"], 1)
	call := sink.toolCalls["s1"][0]
	assert.Equal(t, ContentTypeToolUse, call.Type)
	assert.Equal(t, "Bash", call.ToolName)
	assert.JSONEq(t, `{"command":"ls"}`, string(call.ToolInput))
	assert.Equal(t, 0, agg.PendingToolCalls("s1"))
}

func TestAggregator_ToolResultStateless(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", ToolCallResult{ToolCallID: "t1", MessageID: "m1", Content: "ok"})

	require.Len(t, sink.toolResults["s1"], 1)
	result := sink.toolResults["s1"][0]
	assert.Equal(t, ContentTypeToolResult, result.Type)
	assert.Equal(t, "t1", result.ToolUseID)
	assert.Equal(t, "ok", result.ToolResult)
}

func TestAggregator_RunTerminationClearsState(t *testing.T) {
	for _, terminal := range []Event{
		RunFinished{ThreadID: "s1", RunID: "r1"},
		RunError{Message: "boom"},
	} {
		agg, _ := newTestAggregator()

		agg.Apply("s1", TextMessageStart{MessageID: "m1", Role: "assistant"})
		agg.Apply("s1", ToolCallStart{ToolCallID: "t1", ToolName: "Bash"})
		agg.Apply("s1", terminal)

		assert.Equal(t, 0, agg.PendingMessages("s1"))
		assert.Equal(t, 0, agg.PendingToolCalls("s1"))
	}
}

func TestAggregator_RunTerminationScopedToSession(t *testing.T) {
	agg, _ := newTestAggregator()

	agg.Apply("s1", TextMessageStart{MessageID: "m1", Role: "assistant"})
	agg.Apply("s2", TextMessageStart{MessageID: "m1", Role: "assistant"})
	agg.Apply("s1", RunFinished{ThreadID: "s1", RunID: "r1"})

	assert.Equal(t, 0, agg.PendingMessages("s1"))
	assert.Equal(t, 1, agg.PendingMessages("s2"))
}

func TestAggregator_RunEvents(t *testing.T) {
	agg, sink := newTestAggregator()

	agg.Apply("s1", RunStarted{ThreadID: "s1", RunID: "r1"})
	agg.Apply("s1", RunFinished{ThreadID: "s1", RunID: "r1"})
	agg.Apply("s1", RunError{Message: "boom"})

	assert.Equal(t, []string{"s1"}, sink.runStarted)
	assert.Equal(t, []string{"s1"}, sink.runFinished)
	assert.Equal(t, []string{"boom"}, sink.runErrors["s1"])
}
