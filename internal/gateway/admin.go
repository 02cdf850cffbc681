package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForPoolErr(err error) int {
	switch err {
	case pool.ErrCredentialNotFound:
		return http.StatusNotFound
	case pool.ErrDuplicateCredential:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// handleListCredentials serves GET /api/admin/credentials.
func (g *Gateway) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.Pool.AllSnapshots())
}

// handleAddCredential serves POST /api/admin/credentials, accepting the
// same raw shape the credentials file persists.
func (g *Gateway) handleAddCredential(w http.ResponseWriter, r *http.Request) {
	var raw config.RawCredential
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeBadRequest(w, "invalid credential body")
		return
	}
	id, err := g.Pool.Add(raw)
	if err != nil {
		writeAdminError(w, statusForPoolErr(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// handleDeleteCredential serves DELETE /api/admin/credentials/{id}.
func (g *Gateway) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeBadRequest(w, "invalid credential id")
		return
	}
	if err := g.Pool.Delete(id); err != nil {
		writeAdminError(w, statusForPoolErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetDisabled serves both enable and disable, which only differ in
// the boolean they close over.
func (g *Gateway) handleSetDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r)
		if err != nil {
			writeBadRequest(w, "invalid credential id")
			return
		}
		if err := g.Pool.SetDisabled(id, disabled); err != nil {
			writeAdminError(w, statusForPoolErr(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type setPriorityBody struct {
	Priority int `json:"priority"`
}

// handleSetPriority serves POST /api/admin/credentials/{id}/priority.
func (g *Gateway) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeBadRequest(w, "invalid credential id")
		return
	}
	var body setPriorityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if err := g.Pool.SetPriority(id, body.Priority); err != nil {
		writeAdminError(w, statusForPoolErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResetFailures serves POST /api/admin/credentials/{id}/reset-failures.
func (g *Gateway) handleResetFailures(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeBadRequest(w, "invalid credential id")
		return
	}
	if err := g.Pool.ResetFailures(id); err != nil {
		writeAdminError(w, statusForPoolErr(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type importResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// handleImportTokenJSON serves POST /api/admin/credentials/import-token-json,
// accepting either one credential object or an array, per spec.md §6.
func (g *Gateway) handleImportTokenJSON(w http.ResponseWriter, r *http.Request) {
	var raws []config.RawCredential
	var single config.RawCredential

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	if err := json.Unmarshal(body, &raws); err != nil {
		if err := json.Unmarshal(body, &single); err != nil {
			writeBadRequest(w, "invalid credential json")
			return
		}
		raws = []config.RawCredential{single}
	}

	imported, skipped, err := g.Pool.ImportFromTokenJSON(raws)
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, importResult{Imported: imported, Skipped: skipped})
}

type loadBalancingBody struct {
	Mode string `json:"mode"`
}

// handleGetLoadBalancing serves GET /api/admin/config/load-balancing.
func (g *Gateway) handleGetLoadBalancing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, loadBalancingBody{Mode: string(g.Pool.Mode())})
}

// handleSetLoadBalancing serves POST /api/admin/config/load-balancing.
func (g *Gateway) handleSetLoadBalancing(w http.ResponseWriter, r *http.Request) {
	var body loadBalancingBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid body")
		return
	}
	mode := pool.LoadBalancingMode(body.Mode)
	if mode != pool.ModePriority && mode != pool.ModeBalanced {
		writeBadRequest(w, "mode must be \"priority\" or \"balanced\"")
		return
	}
	g.Pool.SetMode(mode)
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Metrics      any `json:"metrics"`
	Credentials  any `json:"credentials"`
	Models       any `json:"modelsLast24h"`
	ByCredential any `json:"byCredentialLast24h"`
	Failures     any `json:"recentFailures"`
}

// handleStats serves GET /api/admin/stats: in-process counters, the
// credential pool snapshot, and the last 24h audit-log aggregates.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour)

	models, err := g.Usage.Totals(r.Context(), since)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, err)
		return
	}
	byCred, err := g.Usage.ByCredential(r.Context(), since)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, err)
		return
	}
	failures, err := g.Usage.RecentFailures(r.Context(), 50)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Metrics:      g.Metrics.FullStats(),
		Credentials:  g.Pool.AllSnapshots(),
		Models:       models,
		ByCredential: byCred,
		Failures:     failures,
	})
}

// handleStatsReset serves POST /api/admin/stats/reset: clears the audit
// log only, leaving pool-persisted call/token counters untouched since
// those live in the credentials file, not this store.
func (g *Gateway) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if err := g.Usage.Reset(r.Context()); err != nil {
		writeAdminError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
