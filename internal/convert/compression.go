package convert

// ThinkingStrategy controls how thinking blocks in history survive
// compression.
type ThinkingStrategy string

const (
	ThinkingDiscard  ThinkingStrategy = "discard"
	ThinkingTruncate ThinkingStrategy = "truncate"
	ThinkingKeep     ThinkingStrategy = "keep"
)

// CompressionOptions configures a Pipeline. The heuristics themselves are
// an external collaborator (out of scope per spec §1); this struct and
// the Pipeline interface are the contract a real implementation plugs
// into.
type CompressionOptions struct {
	Enabled           bool
	ThinkingStrategy   ThinkingStrategy
	ToolResultMaxLines int
	ToolInputMaxChars  int
	ToolDescMaxChars   int
	HistoryPairKeep    int
}

// Pipeline transforms a decoded request body in place before it is
// re-marshaled to Kiro's wire shape. Implementations may coalesce
// whitespace, truncate tool_result/tool_use payloads, or drop history.
type Pipeline interface {
	Apply(req map[string]any, opts CompressionOptions) error
}

// NoopPipeline performs no compression; it is the default collaborator
// when compression is disabled in config.
type NoopPipeline struct{}

func (NoopPipeline) Apply(req map[string]any, opts CompressionOptions) error { return nil }

// WhitespacePipeline implements the one compression heuristic simple and
// safe enough to live in this module rather than behind the external
// collaborator boundary: coalescing runs of whitespace in text blocks.
type WhitespacePipeline struct{}

func (WhitespacePipeline) Apply(req map[string]any, opts CompressionOptions) error {
	if !opts.Enabled {
		return nil
	}
	messages, _ := req["messages"].([]any)
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		coalesceContentWhitespace(msg["content"])
	}
	return nil
}

func coalesceContentWhitespace(content any) {
	switch c := content.(type) {
	case string:
		// Top-level string content is replaced by the caller, not here;
		// nothing to coalesce in place on a non-addressable string.
	case []any:
		for _, block := range c {
			b, ok := block.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := b["text"].(string); ok {
				b["text"] = coalesceWhitespace(text)
			}
		}
	}
}

func coalesceWhitespace(s string) string {
	var out []byte
	lastSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		isSpace := c == ' ' || c == '\t'
		if isSpace && lastSpace {
			continue
		}
		out = append(out, c)
		lastSpace = isSpace
	}
	return string(out)
}
