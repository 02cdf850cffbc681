package sse

import (
	"encoding/json"
	"fmt"
)

// webSearchToolName is the tool name that triggers the special
// server_tool_use routing described by spec design note (web_search gets
// converted into an MCP call with its own synthesized mini-event
// sequence) rather than the plain client-side tool_use block.
const webSearchToolName = "web_search"

func (t *Translator) onToolUseStart(payload []byte) ([]Event, error) {
	var f toolUseStartFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode tool-use-start: %w", err)
	}

	kind := blockToolUse
	blockType := "tool_use"
	if f.Name == webSearchToolName {
		kind = blockServerToolUse
		blockType = "server_tool_use"
	}

	events := t.openBlock(kind, map[string]string{
		"type":  blockType,
		"id":    f.ID,
		"name":  f.Name,
		"input": "",
	})
	t.current.toolID = f.ID
	t.current.toolName = f.Name
	return events, nil
}

func (t *Translator) onToolUseDelta(payload []byte) ([]Event, error) {
	var f toolUseDeltaFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("sse: decode tool-use-delta: %w", err)
	}
	if t.current == nil || !t.current.open {
		return nil, nil
	}
	t.current.json.WriteString(f.PartialJSON)
	return []Event{{Name: "content_block_delta", Data: contentBlockDeltaPayload{
		Type: "content_block_delta", Index: t.current.index,
		Delta: map[string]string{"type": "input_json_delta", "partial_json": f.PartialJSON},
	}}}, nil
}

// mcpToolResultBlock is the content block synthesized for a completed
// web_search tool call, carrying the originating tool id and name and the
// raw result text Kiro returned. The accumulated input_json is not included.
type mcpToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
}

// FinishWebSearchBlock closes an open server_tool_use block and, if it was
// a web_search call, appends a synthesized web_search_tool_result block
// carrying the tool id, tool name and resultText. Call this instead of
// relying on the next onToolUseStart/Finish to close the block when the
// upstream signals a tool result out of band.
func (t *Translator) FinishWebSearchBlock(resultText string) []Event {
	if t.current == nil || !t.current.open || t.current.kind != blockServerToolUse {
		return nil
	}
	events := t.closeCurrent()
	resultIndex := t.nextIndex
	t.nextIndex++
	events = append(events,
		Event{Name: "content_block_start", Data: contentBlockStartPayload{
			Type: "content_block_start", Index: resultIndex,
			ContentBlock: mcpToolResultBlock{
				Type:      "web_search_tool_result",
				ToolUseID: t.current.toolID,
				Name:      t.current.toolName,
				Content:   resultText,
			},
		}},
		Event{Name: "content_block_stop", Data: contentBlockStopPayload{Type: "content_block_stop", Index: resultIndex}},
	)
	return events
}
