package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-boey/homespun/internal/common/logger"
)

func TestChannelSink_Delivers(t *testing.T) {
	sink := NewChannelSink(8, logger.NewNop())

	sink.MessageCompleted("s1", CompletedMessage{Role: "assistant", Content: []MessageContent{{Type: ContentTypeText, Text: "hi"}}})
	sink.RunFinished("s1")
	sink.Close()

	var updates []Update
	for u := range sink.Updates() {
		updates = append(updates, u)
	}

	require.Len(t, updates, 2)
	assert.Equal(t, UpdateMessage, updates[0].Kind)
	assert.Equal(t, "hi", updates[0].Message.Content[0].Text)
	assert.Equal(t, UpdateRunFinished, updates[1].Kind)
}

func TestChannelSink_DropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1, logger.NewNop())

	sink.RunStarted("s1")
	// Buffer is full; this drops instead of blocking.
	sink.RunStarted("s1")
	sink.Close()

	var count int
	for range sink.Updates() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestChannelSink_ErrorCarriesMessage(t *testing.T) {
	sink := NewChannelSink(1, logger.NewNop())
	sink.RunError("s1", "TIMEOUT: no response")
	sink.Close()

	update := <-sink.Updates()
	assert.Equal(t, UpdateRunError, update.Kind)
	assert.Equal(t, "s1", update.SessionID)
	assert.Equal(t, "TIMEOUT: no response", update.Error)
}
