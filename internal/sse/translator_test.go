package sse

import (
	"testing"

	"github.com/kirogw/kiro-gateway/internal/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(eventType string, payload string) eventstream.Frame {
	return eventstream.Frame{
		Headers: map[string]eventstream.HeaderValue{
			":event-type": {Type: eventstream.HeaderString, String: eventType},
		},
		Payload: []byte(payload),
	}
}

func TestTranslatorOrderingInvariants(t *testing.T) {
	tr := NewTranslator("msg_1", "claude-sonnet-4.5", 100)

	var events []Event
	events = append(events, tr.Start())

	frames := []eventstream.Frame{
		frame("text-delta", `{"delta":"Hello, "}`),
		frame("text-delta", `{"delta":"world"}`),
		frame("tool-use-start", `{"id":"tool_1","name":"calculator"}`),
		frame("tool-use-delta", `{"partial_json":"{\"a\":1}"}`),
		frame("context-usage", `{"input_tokens":42,"output_tokens":7}`),
		frame("completion", `{"stop_reason":"tool_use"}`),
	}
	for _, f := range frames {
		got, err := tr.Feed(f)
		require.NoError(t, err)
		events = append(events, got...)
	}
	events = append(events, tr.Finish()...)

	require.NotEmpty(t, events)
	assert.Equal(t, "message_start", events[0].Name)
	assert.Equal(t, "message_stop", events[len(events)-1].Name)

	indexSeen := map[int]bool{}
	starts := map[int]bool{}
	stops := map[int]bool{}
	nextExpected := 0
	for _, e := range events {
		switch e.Name {
		case "content_block_start":
			p := e.Data.(contentBlockStartPayload)
			assert.Equal(t, nextExpected, p.Index, "block indices must be contiguous from 0")
			nextExpected++
			starts[p.Index] = true
			assert.False(t, indexSeen[p.Index], "index must not start twice")
			indexSeen[p.Index] = true
		case "content_block_stop":
			p := e.Data.(contentBlockStopPayload)
			assert.True(t, starts[p.Index], "stop must be preceded by a start")
			assert.False(t, stops[p.Index], "stop must not repeat")
			stops[p.Index] = true
		}
	}
	assert.Equal(t, starts, stops)

	assert.Equal(t, 42, tr.Usage().InputTokens)
}

func TestTranslatorTextBlockAutoOpensAndCloses(t *testing.T) {
	tr := NewTranslator("msg_2", "claude-haiku-4.5", 10)
	_ = tr.Start()

	events, err := tr.Feed(frame("text-delta", `{"delta":"hi"}`))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "content_block_start", events[0].Name)
	assert.Equal(t, "content_block_delta", events[1].Name)

	final := tr.Finish()
	require.Len(t, final, 3)
	assert.Equal(t, "content_block_stop", final[0].Name)
	assert.Equal(t, "message_delta", final[1].Name)
	assert.Equal(t, "message_stop", final[2].Name)
}

func TestTranslatorWebSearchSynthesizesResultBlock(t *testing.T) {
	tr := NewTranslator("msg_3", "claude-sonnet-4.5", 10)
	_ = tr.Start()

	_, err := tr.Feed(frame("tool-use-start", `{"id":"tool_ws","name":"web_search"}`))
	require.NoError(t, err)
	_, err = tr.Feed(frame("tool-use-delta", `{"partial_json":"{\"query\":\"go\"}"}`))
	require.NoError(t, err)

	events := tr.FinishWebSearchBlock("search results here")
	require.Len(t, events, 3)
	assert.Equal(t, "content_block_stop", events[0].Name)
	assert.Equal(t, "content_block_start", events[1].Name)
	start := events[1].Data.(contentBlockStartPayload)
	result := start.ContentBlock.(mcpToolResultBlock)
	assert.Equal(t, "web_search_tool_result", result.Type)
	assert.Equal(t, "tool_ws", result.ToolUseID)
	assert.Equal(t, "content_block_stop", events[2].Name)
}

func TestBufferedTranslatorCorrectsInputTokens(t *testing.T) {
	b := NewBufferedTranslator("msg_4", "claude-sonnet-4.5", 999)

	require.NoError(t, b.Feed(frame("text-delta", `{"delta":"hi"}`)))
	require.NoError(t, b.Feed(frame("context-usage", `{"input_tokens":123,"output_tokens":4}`)))
	require.NoError(t, b.Feed(frame("completion", `{"stop_reason":"end_turn"}`)))

	events := b.Flush()
	require.NotEmpty(t, events)
	assert.Equal(t, "message_start", events[0].Name)
	payload := events[0].Data.(messageStartPayload)
	assert.Equal(t, 123, payload.Message.Usage.InputTokens)
	assert.Equal(t, "message_stop", events[len(events)-1].Name)
}

func TestTranslatorErrorSetsStopReason(t *testing.T) {
	tr := NewTranslator("msg_5", "claude-sonnet-4.5", 0)
	_ = tr.Start()
	_, err := tr.Feed(frame("error", `{"message":"boom"}`))
	require.NoError(t, err)

	final := tr.Finish()
	last := final[len(final)-2] // message_delta precedes message_stop
	delta := last.Data.(messageDeltaPayload)
	require.NotNil(t, delta.Delta.StopReason)
	assert.Equal(t, "error", *delta.Delta.StopReason)
}
