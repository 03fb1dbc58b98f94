package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-labs/mnemo/internal/domain"
	"github.com/mnemo-labs/mnemo/internal/service"
)

type ArchiveHandler struct {
	manager *service.Manager
}

func NewArchiveHandler(manager *service.Manager) *ArchiveHandler {
	return &ArchiveHandler{manager: manager}
}

type archiveSearchResponse struct {
	Query   string                       `json:"query"`
	Results []domain.ArchiveSearchResult `json:"results"`
}

// Search recalls archived summaries relevant to the query.
func (h *ArchiveHandler) Search(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}

	topK := 0
	if v := r.URL.Query().Get("top_k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid top_k")
			return
		}
		topK = n
	}

	results, err := h.manager.Session(sessionID).SearchArchive(r.Context(), query, topK)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "archive search failed")
		return
	}
	if results == nil {
		results = []domain.ArchiveSearchResult{}
	}

	writeJSON(w, http.StatusOK, archiveSearchResponse{Query: query, Results: results})
}
