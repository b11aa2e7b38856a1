package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dovira/amlgraph-backend/internal/ingest"
	"github.com/dovira/amlgraph-backend/internal/services"
)

type IngestHandler struct {
	ingestion *services.IngestionService
}

func NewIngestHandler(ingestion *services.IngestionService) *IngestHandler {
	return &IngestHandler{ingestion: ingestion}
}

type ingestRequest struct {
	Record         json.RawMessage `json:"record"`
	MaxFixAttempts *int            `json:"max_fix_attempts"`
}

// POST /api/ingest
// Body: {record: <object|string>, max_fix_attempts?: int}. The record is
// ingested synchronously; the response carries the run outcome either way.
func (h *IngestHandler) IngestRecord(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	if len(req.Record) == 0 {
		RespondError(c, http.StatusBadRequest, "missing_record", nil)
		return
	}

	record := rawRecord(req.Record)

	maxFixAttempts := -1
	if req.MaxFixAttempts != nil && *req.MaxFixAttempts >= 0 {
		maxFixAttempts = *req.MaxFixAttempts
	}

	source := c.Query("source")
	if source == "" {
		source = "api"
	}

	result, err := h.ingestion.IngestRecordWithAttempts(c.Request.Context(), record, source, maxFixAttempts)
	if err != nil {
		var runErr *ingest.RunError
		if errors.As(err, &runErr) {
			status := http.StatusUnprocessableEntity
			switch runErr.Reason {
			case ingest.ReasonInvalidInput, ingest.ReasonNotAnObject:
				status = http.StatusBadRequest
			case ingest.ReasonPersistFailed, ingest.ReasonNotPersistedUnknown:
				status = http.StatusBadGateway
			}
			c.JSON(status, gin.H{
				"run_id":     result.RunID,
				"reason":     result.Reason,
				"violations": result.Violations,
				"attempts":   result.FixAttempts,
			})
			return
		}
		RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
		return
	}

	RespondOK(c, result)
}

// rawRecord unwraps the record field: a JSON string becomes its text content
// (parsed downstream with the usual repairs), anything else passes through as
// raw JSON bytes.
func rawRecord(raw json.RawMessage) any {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return []byte(raw)
}
