package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pgtrickle/pgtrickle/internal/catalog"
	"github.com/pgtrickle/pgtrickle/internal/pgerrors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if pgerrors.Kind(err) == "fatal" {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleListStreamTables(w http.ResponseWriter, r *http.Request) {
	sts, err := h.Streams.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sts)
}

func (h *handler) handleGetStreamTable(w http.ResponseWriter, r *http.Request) {
	st, err := h.Streams.GetByName(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) handleStreamTableHistory(w http.ResponseWriter, r *http.Request) {
	st, err := h.Streams.GetByName(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	hist, err := h.History.Recent(r.Context(), st.PgsID, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// handleRefreshStreamTable triggers an out-of-band MANUAL refresh,
// synchronously — an operator hitting this endpoint waits for the
// result rather than polling, matching the single-shot semantics of
// the teacher's handleQuery/handleEdit handlers (do the work, return
// its outcome, no background job ID to track).
func (h *handler) handleRefreshStreamTable(w http.ResponseWriter, r *http.Request) {
	st, err := h.Streams.GetByName(r.Context(), chi.URLParam(r, "schema"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Engine.Refresh(r.Context(), st.PgsID, catalog.InitiatedManual)
	if err != nil {
		writeError(w, err)
		return
	}
	if res == nil {
		writeJSON(w, http.StatusOK, map[string]string{"action": "NO_DATA"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}
