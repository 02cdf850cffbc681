// Package convert translates between the Anthropic-shaped request/response
// bodies this gateway's HTTP surface accepts and the body actually posted
// to Kiro.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kirogw/kiro-gateway/internal/utils"
)

// Request holds everything Convert needs beyond the raw client body: the
// model name already passed through MapModel, and the profileArn of the
// credential the retry engine selected for this attempt. Re-injecting
// both on every attempt (including after a credential rotation) keeps the
// body consistent with whichever credential ends up making the call.
type Request struct {
	Body        []byte
	Model       string
	ProfileArn  string
	Pipeline    Pipeline
	Compression CompressionOptions
}

// ToKiro produces the request body Convert will actually send upstream:
// system normalized to a single string, orphaned tool_use blocks dropped,
// placeholder text injected where required, the compression pipeline
// applied, and model/profileArn set to the caller-resolved values.
//
// Because every path converges on decoding into a map[string]any before
// the final marshal, a string and an equivalent array-of-text-blocks
// "system" value produce byte-identical output: encoding/json sorts map
// keys, so the normalization point, not the caller's original formatting,
// determines the wire bytes.
func ToKiro(r Request) ([]byte, error) {
	body, err := normalizeSystem(r.Body)
	if err != nil {
		return nil, fmt.Errorf("convert: normalize system: %w", err)
	}

	body, err = dropOrphanedToolUse(body)
	if err != nil {
		return nil, fmt.Errorf("convert: prune tool_use: %w", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("convert: decode request: %w", err)
	}

	pipeline := r.Pipeline
	if pipeline == nil {
		pipeline = NoopPipeline{}
	}
	if err := pipeline.Apply(req, r.Compression); err != nil {
		return nil, fmt.Errorf("convert: apply compression pipeline: %w", err)
	}

	if r.Model != "" {
		req["model"] = r.Model
	}
	if r.ProfileArn != "" {
		req["profileArn"] = r.ProfileArn
	}

	return utils.MarshalNoEscape(req)
}

// ReinjectProfileArn rewrites just the profileArn field of an already-built
// Kiro body, used by the retry engine when a retry rotates credentials
// after the body was assembled once.
func ReinjectProfileArn(body []byte, profileArn string) ([]byte, error) {
	return sjson.SetBytes(body, "profileArn", profileArn)
}

func normalizeSystem(body []byte) ([]byte, error) {
	sys := gjson.GetBytes(body, "system")
	if !sys.Exists() {
		return body, nil
	}
	var normalized string
	if sys.IsArray() {
		var parts []string
		for _, block := range sys.Array() {
			if block.Get("type").String() == "text" {
				parts = append(parts, block.Get("text").String())
			}
		}
		normalized = strings.Join(parts, "\n\n")
	} else {
		normalized = sys.String()
	}
	return sjson.SetBytes(body, "system", normalized)
}

func dropOrphanedToolUse(body []byte) ([]byte, error) {
	messagesRaw := gjson.GetBytes(body, "messages")
	if !messagesRaw.Exists() {
		return body, nil
	}

	var messages []map[string]any
	if err := json.Unmarshal([]byte(messagesRaw.Raw), &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	resultIDs := collectToolResultIDs(messages)
	for i, msg := range messages {
		if role, _ := msg["role"].(string); role == "assistant" {
			messages[i] = pruneAssistantMessage(msg, resultIDs)
		}
	}

	return sjson.SetBytes(body, "messages", messages)
}

func collectToolResultIDs(messages []map[string]any) map[string]bool {
	ids := map[string]bool{}
	for _, msg := range messages {
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		blocks, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if block["type"] == "tool_result" {
				if id, ok := block["tool_use_id"].(string); ok {
					ids[id] = true
				}
			}
		}
	}
	return ids
}

const placeholderText = "OK"

func pruneAssistantMessage(msg map[string]any, resultIDs map[string]bool) map[string]any {
	blocks, ok := msg["content"].([]any)
	if !ok {
		// Plain string content is text by construction; nothing to prune.
		return msg
	}

	var kept []any
	hasText := false
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok {
			kept = append(kept, b)
			continue
		}
		if block["type"] == "tool_use" {
			id, _ := block["id"].(string)
			if !resultIDs[id] {
				continue // orphaned: no later tool_result pairs with it
			}
		}
		if block["type"] == "text" {
			hasText = true
		}
		kept = append(kept, block)
	}

	if !hasText {
		kept = append([]any{map[string]any{"type": "text", "text": placeholderText}}, kept...)
	}
	msg["content"] = kept
	return msg
}
