// Package sse translates decoded eventstream.Frame values into
// Anthropic-compatible Server-Sent Events, and implements the buffered
// /cc/v1 variant that withholds everything until the stream completes so
// input_tokens can be corrected from the observed context-usage event.
package sse

import "strings"

// blockKind distinguishes the Anthropic content block types this
// translator can emit.
type blockKind string

const (
	blockText           blockKind = "text"
	blockThinking       blockKind = "thinking"
	blockToolUse        blockKind = "tool_use"
	blockServerToolUse  blockKind = "server_tool_use"
)

// blockState tracks one content block's lifecycle from start to stop.
type blockState struct {
	index   int
	kind    blockKind
	toolID  string
	toolName string
	json    strings.Builder
	open    bool
}

// usageTotals accumulates the context-usage frame's token counts, used by
// the buffered variant to rewrite message_start's input_tokens.
type usageTotals struct {
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	seen                     bool
}

func (u usageTotals) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}
