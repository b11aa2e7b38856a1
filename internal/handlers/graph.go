package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dovira/amlgraph-backend/internal/data/graph"
	"github.com/dovira/amlgraph-backend/internal/repos"
)

type GraphHandler struct {
	reader *graph.Reader
	runs   repos.IngestRunRepo
}

// runs may be nil when no audit store is configured.
func NewGraphHandler(reader *graph.Reader, runs repos.IngestRunRepo) *GraphHandler {
	return &GraphHandler{reader: reader, runs: runs}
}

// GET /api/graph/stats
func (h *GraphHandler) GetStats(c *gin.Context) {
	counts, err := h.reader.CountNodes(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusBadGateway, "graph_unavailable", err)
		return
	}

	out := gin.H{"nodes": counts}
	if h.runs != nil {
		if runCounts, err := h.runs.CountByStatus(c.Request.Context(), nil); err == nil {
			out["ingest_runs"] = runCounts
		}
	}
	RespondOK(c, out)
}

// GET /api/ingest/runs?limit=N
func (h *GraphHandler) ListIngestRuns(c *gin.Context) {
	if h.runs == nil {
		RespondError(c, http.StatusServiceUnavailable, "audit_disabled", nil)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	runs, err := h.runs.ListRecent(c.Request.Context(), nil, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "audit_unavailable", err)
		return
	}
	RespondOK(c, gin.H{"runs": runs})
}

// GET /api/persons?last_name=X&limit=N
func (h *GraphHandler) SearchPersons(c *gin.Context) {
	lastName := strings.TrimSpace(c.Query("last_name"))
	if lastName == "" {
		RespondError(c, http.StatusBadRequest, "missing_last_name", nil)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	hits, err := h.reader.SearchPersonsByName(c.Request.Context(), lastName, limit)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "graph_unavailable", err)
		return
	}
	RespondOK(c, gin.H{"persons": hits})
}

// GET /api/persons/:rnokpp/profile
func (h *GraphHandler) GetPersonProfile(c *gin.Context) {
	rnokpp := strings.TrimSpace(c.Param("rnokpp"))
	if rnokpp == "" {
		RespondError(c, http.StatusBadRequest, "missing_rnokpp", nil)
		return
	}

	profile, err := h.reader.LoadPersonProfile(c.Request.Context(), rnokpp)
	if err != nil {
		RespondError(c, http.StatusBadGateway, "graph_unavailable", err)
		return
	}
	if profile == nil {
		RespondError(c, http.StatusNotFound, "person_not_found", nil)
		return
	}
	RespondOK(c, gin.H{"profile": profile})
}
