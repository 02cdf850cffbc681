package sse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirogw/kiro-gateway/internal/eventstream"
)

// PingInterval is the keep-alive cadence; the first ping fires at
// now+PingInterval, never immediately.
const PingInterval = 25 * time.Second

// Event is one emitted SSE event: a wire name and its JSON-serializable
// payload.
type Event struct {
	Name string
	Data any
}

type messageStartPayload struct {
	Type    string         `json:"type"`
	Message messageEnvelope `json:"message"`
}

type messageEnvelope struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model"`
	Content      []any          `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        usagePayload   `json:"usage"`
}

type usagePayload struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens              int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type contentBlockStartPayload struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock any    `json:"content_block"`
}

type contentBlockDeltaPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta any    `json:"delta"`
}

type contentBlockStopPayload struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

type messageDeltaPayload struct {
	Type  string       `json:"type"`
	Delta messageDelta `json:"delta"`
	Usage usagePayload `json:"usage"`
}

type messageDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type messageStopPayload struct {
	Type string `json:"type"`
}

// upstream frame payload shapes, named after the :event-type header value
// that carries them.
type textDeltaFrame struct {
	Text string `json:"delta"`
}

type thinkingDeltaFrame struct {
	Thinking string `json:"delta"`
}

type toolUseStartFrame struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type toolUseDeltaFrame struct {
	PartialJSON string `json:"partial_json"`
}

type contextUsageFrame struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type errorFrame struct {
	Message string `json:"message"`
}

type completionFrame struct {
	StopReason string `json:"stop_reason"`
}

// Translator converts a stream of decoded eventstream.Frame values into
// Anthropic SSE events. It is a small state machine over the current
// content block index, per spec design note 9: event emission is a pure
// function of (frame, state) -> (new state, emitted events).
type Translator struct {
	messageID string
	model     string

	started   bool
	stopped   bool
	nextIndex int
	current   *blockState

	usage usageTotals

	stopReason string
}

// NewTranslator prepares a translator for one streaming response.
// inputTokenEstimate seeds message_start.usage.input_tokens before the
// upstream context-usage frame (if any) arrives to correct it.
func NewTranslator(messageID, model string, inputTokenEstimate int) *Translator {
	t := &Translator{messageID: messageID, model: model}
	t.usage.InputTokens = inputTokenEstimate
	return t
}

// Start emits the one and only message_start event. Must be called before
// any frame is fed.
func (t *Translator) Start() Event {
	t.started = true
	return Event{Name: "message_start", Data: messageStartPayload{
		Type: "message_start",
		Message: messageEnvelope{
			ID:      t.messageID,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []any{},
			Usage:   usagePayload{InputTokens: t.usage.InputTokens},
		},
	}}
}

// Feed translates one decoded frame into zero or more SSE events, in
// emission order.
func (t *Translator) Feed(f eventstream.Frame) ([]Event, error) {
	if t.stopped {
		return nil, nil
	}
	switch f.EventType() {
	case "text-delta":
		return t.onTextDelta(f.Payload)
	case "thinking-delta":
		return t.onThinkingDelta(f.Payload)
	case "tool-use-start":
		return t.onToolUseStart(f.Payload)
	case "tool-use-delta":
		return t.onToolUseDelta(f.Payload)
	case "context-usage":
		return t.onContextUsage(f.Payload)
	case "error":
		return t.onError(f.Payload)
	case "completion":
		return t.onCompletion(f.Payload)
	default:
		return nil, nil
	}
}

// Finish emits content_block_stop for any still-open block, message_delta
// carrying the final stop_reason and usage, then message_stop. Safe to
// call even if the upstream stream ended without an explicit completion
// frame (stop reason defaults to "end_turn").
func (t *Translator) Finish() []Event {
	if t.stopped {
		return nil
	}
	var events []Event
	if t.current != nil && t.current.open {
		events = append(events, t.closeCurrent()...)
	}
	stopReason := t.stopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}
	events = append(events, Event{Name: "message_delta", Data: messageDeltaPayload{
		Type:  "message_delta",
		Delta: messageDelta{StopReason: &stopReason},
		Usage: usagePayload{
			InputTokens:              t.usage.InputTokens,
			OutputTokens:             t.usage.OutputTokens,
			CacheCreationInputTokens: t.usage.CacheCreationInputTokens,
			CacheReadInputTokens:     t.usage.CacheReadInputTokens,
		},
	}})
	events = append(events, Event{Name: "message_stop", Data: messageStopPayload{Type: "message_stop"}})
	t.stopped = true
	return events
}

// Usage returns the token counts observed from the upstream context-usage
// frame, used by the buffered variant to correct message_start.
func (t *Translator) Usage() usageTotals { return t.usage }

func (t *Translator) openBlock(kind blockKind, contentBlock any) []Event {
	var events []Event
	if t.current != nil && t.current.open {
		events = append(events, t.closeCurrent()...)
	}
	b := &blockState{index: t.nextIndex, kind: kind, open: true}
	t.nextIndex++
	t.current = b
	events = append(events, Event{Name: "content_block_start", Data: contentBlockStartPayload{
		Type: "content_block_start", Index: b.index, ContentBlock: contentBlock,
	}})
	return events
}

func (t *Translator) closeCurrent() []Event {
	b := t.current
	b.open = false
	return []Event{{Name: "content_block_stop", Data: contentBlockStopPayload{Type: "content_block_stop", Index: b.index}}}
}

func (t *Translator) onTextDelta(payload []byte) ([]Event, error) {
	var f textDeltaFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode text-delta: %w", err)
	}
	var events []Event
	if t.current == nil || t.current.kind != blockText || !t.current.open {
		events = append(events, t.openBlock(blockText, map[string]string{"type": "text", "text": ""})...)
	}
	events = append(events, Event{Name: "content_block_delta", Data: contentBlockDeltaPayload{
		Type: "content_block_delta", Index: t.current.index,
		Delta: map[string]string{"type": "text_delta", "text": f.Text},
	}})
	return events, nil
}

func (t *Translator) onThinkingDelta(payload []byte) ([]Event, error) {
	var f thinkingDeltaFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode thinking-delta: %w", err)
	}
	var events []Event
	if t.current == nil || t.current.kind != blockThinking || !t.current.open {
		events = append(events, t.openBlock(blockThinking, map[string]string{"type": "thinking", "thinking": ""})...)
	}
	events = append(events, Event{Name: "content_block_delta", Data: contentBlockDeltaPayload{
		Type: "content_block_delta", Index: t.current.index,
		Delta: map[string]string{"type": "thinking_delta", "thinking": f.Thinking},
	}})
	return events, nil
}

func (t *Translator) onContextUsage(payload []byte) ([]Event, error) {
	var f contextUsageFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode context-usage: %w", err)
	}
	t.usage.InputTokens = f.InputTokens
	t.usage.OutputTokens = f.OutputTokens
	t.usage.CacheCreationInputTokens = f.CacheCreationInputTokens
	t.usage.CacheReadInputTokens = f.CacheReadInputTokens
	t.usage.seen = true
	return nil, nil
}

func (t *Translator) onError(payload []byte) ([]Event, error) {
	var f errorFrame
	_ = json.Unmarshal(payload, &f)
	t.stopReason = "error"
	return nil, nil
}

func (t *Translator) onCompletion(payload []byte) ([]Event, error) {
	var f completionFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode completion: %w", err)
	}
	t.stopReason = f.StopReason
	return nil, nil
}
