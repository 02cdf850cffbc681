package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/kirogw/kiro-gateway/internal/convert"
	"github.com/kirogw/kiro-gateway/internal/utils"
)

// errBodyTooLarge is returned by readAnthropicRequest when the body
// exceeded the 50 MiB cap bodyLimitMiddleware installed on r.Body, so the
// handler can answer with the 413 envelope spec.md §6 requires instead of
// a generic 400.
var errBodyTooLarge = errors.New("gateway: request body too large")

// anthropicRequest is the subset of the client's request body this layer
// needs to read directly, before the rest is passed through to
// internal/convert untouched.
type anthropicRequest struct {
	raw      []byte
	model    string
	userID   string
	stream   bool
}

func readAnthropicRequest(r *http.Request) (anthropicRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return anthropicRequest{}, errBodyTooLarge
		}
		return anthropicRequest{}, err
	}
	return anthropicRequest{
		raw:    body,
		model:  gjson.GetBytes(body, "model").String(),
		userID: gjson.GetBytes(body, "metadata.user_id").String(),
		stream: gjson.GetBytes(body, "stream").Bool(),
	}, nil
}

// buildBody produces the final Kiro-bound body for one retry attempt,
// given the profileArn the retry engine selected for that attempt.
func (g *Gateway) buildBody(req anthropicRequest) func(profileArn string) ([]byte, error) {
	model := convert.MapModel(req.model)
	opts := g.compressionOptions()
	return func(profileArn string) ([]byte, error) {
		return convert.ToKiro(convert.Request{
			Body:        req.raw,
			Model:       model,
			ProfileArn:  profileArn,
			Pipeline:    g.Compression,
			Compression: opts,
		})
	}
}

// maskedUserID is the prefix+suffix masking spec.md §7 mandates for log
// lines that touch a caller-supplied user id.
func maskedUserID(id string) string { return utils.MaskUserID(id) }
