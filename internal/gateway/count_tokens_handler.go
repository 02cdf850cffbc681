package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// encoding lazily loads the cl100k_base BPE table once per process; Kiro
// does not expose its own tokenizer, so this is an approximation of the
// real Claude count, close enough for client-side budget checks.
func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

type countTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// handleCountTokens serves both /v1/messages/count_tokens and
// /cc/v1/messages/count_tokens: it never calls upstream, it only counts
// the tokens the client's system prompt, messages and tool definitions
// would consume.
func (g *Gateway) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	req, ok := readRequestOrFail(w, r)
	if !ok {
		return
	}

	tk, err := encoding()
	if err != nil {
		log.Error().Err(err).Msg("gateway: failed to load tokenizer")
		writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", "token counting unavailable")
		return
	}

	text := extractCountableText(req.raw)
	tokens := len(tk.Encode(text, nil, nil))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(countTokensResponse{InputTokens: tokens})
}

// extractCountableText concatenates every text-bearing field of an
// Anthropic Messages request: the system prompt, every message's text
// content blocks, and tool name/description/schema, in the order Claude
// would actually consume them when computing its own input_tokens.
func extractCountableText(body []byte) string {
	var b strings.Builder

	sys := gjson.GetBytes(body, "system")
	if sys.IsArray() {
		sys.ForEach(func(_, block gjson.Result) bool {
			b.WriteString(block.Get("text").String())
			b.WriteString("\n")
			return true
		})
	} else {
		b.WriteString(sys.String())
		b.WriteString("\n")
	}

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.IsArray() {
			content.ForEach(func(_, block gjson.Result) bool {
				switch block.Get("type").String() {
				case "text":
					b.WriteString(block.Get("text").String())
				case "tool_use":
					b.WriteString(block.Get("input").Raw)
				case "tool_result":
					b.WriteString(block.Get("content").String())
				}
				b.WriteString("\n")
				return true
			})
		} else {
			b.WriteString(content.String())
			b.WriteString("\n")
		}
		return true
	})

	gjson.GetBytes(body, "tools").ForEach(func(_, tool gjson.Result) bool {
		b.WriteString(tool.Get("name").String())
		b.WriteString(tool.Get("description").String())
		b.WriteString(tool.Get("input_schema").Raw)
		b.WriteString("\n")
		return true
	})

	return b.String()
}
