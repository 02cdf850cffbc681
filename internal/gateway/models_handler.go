package gateway

import (
	"encoding/json"
	"net/http"
)

type modelInfo struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

type modelsResponse struct {
	Data    []modelInfo `json:"data"`
	HasMore bool        `json:"has_more"`
}

// servedModels lists the Kiro-side ids MapModel ever targets; this is what
// GET /v1/models advertises, since Kiro itself does not expose a models
// listing endpoint.
var servedModels = []modelInfo{
	{ID: "claude-sonnet-4.5", Type: "model", DisplayName: "Claude Sonnet 4.5"},
	{ID: "claude-opus-4.5", Type: "model", DisplayName: "Claude Opus 4.5"},
	{ID: "claude-haiku-4.5", Type: "model", DisplayName: "Claude Haiku 4.5"},
}

func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(modelsResponse{Data: servedModels})
}
