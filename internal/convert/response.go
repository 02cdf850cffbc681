package convert

import (
	"encoding/json"
	"fmt"

	"github.com/kirogw/kiro-gateway/internal/sse"
	"github.com/kirogw/kiro-gateway/internal/utils"
)

// CollapseToMessage assembles a non-streaming Anthropic Message JSON body
// from a completed event list, for clients that request stream:false.
// Response direction is otherwise entirely the SSE translator's job (see
// internal/sse); this just folds its output back into one object instead
// of writing it over the wire as discrete events.
func CollapseToMessage(events []sse.Event) ([]byte, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("convert: empty event list")
	}
	if events[0].Name != "message_start" {
		return nil, fmt.Errorf("convert: event list does not begin with message_start")
	}

	start, err := toMap(events[0].Data)
	if err != nil {
		return nil, err
	}
	msg, _ := start["message"].(map[string]any)
	if msg == nil {
		return nil, fmt.Errorf("convert: message_start missing message field")
	}

	var content []any
	blocks := map[int]map[string]any{}

	for _, e := range events[1:] {
		payload, err := toMap(e.Data)
		if err != nil {
			return nil, err
		}
		switch e.Name {
		case "content_block_start":
			index := intField(payload["index"])
			block, _ := payload["content_block"].(map[string]any)
			if block == nil {
				block = map[string]any{}
			}
			blocks[index] = block
			content = append(content, block)
		case "content_block_delta":
			block := blocks[intField(payload["index"])]
			if block == nil {
				continue
			}
			applyDelta(block, payload["delta"])
		case "message_delta":
			if delta, ok := payload["delta"].(map[string]any); ok {
				if sr, ok := delta["stop_reason"]; ok {
					msg["stop_reason"] = sr
				}
			}
			if usage, ok := payload["usage"].(map[string]any); ok {
				msg["usage"] = usage
			}
		}
	}

	msg["content"] = content
	return utils.MarshalNoEscape(msg)
}

func applyDelta(block map[string]any, delta any) {
	d, ok := delta.(map[string]any)
	if !ok {
		return
	}
	switch d["type"] {
	case "text_delta":
		block["text"] = stringField(block["text"]) + stringField(d["text"])
	case "thinking_delta":
		block["thinking"] = stringField(block["thinking"]) + stringField(d["thinking"])
	case "input_json_delta":
		block["input"] = stringField(block["input"]) + stringField(d["partial_json"])
	}
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func intField(v any) int {
	f, _ := v.(float64)
	return int(f)
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
