package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/ingest"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/repos"
	"github.com/dovira/amlgraph-backend/internal/types"
)

// IngestionService drives single-record ingestion and writes the audit trail.
// Audit failures never fail the run; the graph write is the source of truth.
type IngestionService struct {
	machine        *ingest.Machine
	runs           repos.IngestRunRepo
	log            *logger.Logger
	maxFixAttempts int
}

type IngestResult struct {
	RunID       uuid.UUID                 `json:"run_id"`
	Persisted   bool                      `json:"persisted"`
	NodeCount   int                       `json:"node_count"`
	RelCount    int                       `json:"rel_count"`
	FixAttempts int                       `json:"fix_attempts"`
	Reason      string                    `json:"reason,omitempty"`
	Violations  []string                  `json:"violations,omitempty"`
	Payload     *domain.GraphFactsPayload `json:"payload,omitempty"`
}

// runs may be nil when no audit store is configured.
func NewIngestionService(machine *ingest.Machine, runs repos.IngestRunRepo, maxFixAttempts int, log *logger.Logger) *IngestionService {
	return &IngestionService{
		machine:        machine,
		runs:           runs,
		log:            log.With("service", "IngestionService"),
		maxFixAttempts: maxFixAttempts,
	}
}

// IngestRecord runs one record through the machine with the service's
// configured fix bound. The returned error is non-nil only for failed runs,
// and is always a *ingest.RunError.
func (s *IngestionService) IngestRecord(ctx context.Context, raw any, source string) (*IngestResult, error) {
	return s.IngestRecordWithAttempts(ctx, raw, source, s.maxFixAttempts)
}

// IngestRecordWithAttempts overrides the fix bound for one run. A negative
// maxFixAttempts falls back to the service default.
func (s *IngestionService) IngestRecordWithAttempts(ctx context.Context, raw any, source string, maxFixAttempts int) (*IngestResult, error) {
	if maxFixAttempts < 0 {
		maxFixAttempts = s.maxFixAttempts
	}

	started := time.Now()
	result := &IngestResult{RunID: uuid.New()}

	payload, err := s.machine.Run(ctx, raw, maxFixAttempts)
	elapsed := time.Since(started)

	if err != nil {
		var runErr *ingest.RunError
		if !errors.As(err, &runErr) {
			// The machine contract says this cannot happen; normalize anyway.
			runErr = &ingest.RunError{Reason: ingest.ReasonNotPersistedUnknown, Detail: err.Error()}
		}
		result.Reason = string(runErr.Reason)
		result.Violations = runErr.Violations
		result.FixAttempts = runErr.Attempts

		s.log.Warn("ingestion failed",
			"run_id", result.RunID,
			"source", source,
			"reason", runErr.Reason,
			"fix_attempts", runErr.Attempts,
			"duration", elapsed)
		s.audit(ctx, result, raw, source, elapsed)
		return result, runErr
	}

	result.Persisted = true
	result.Payload = payload
	result.NodeCount = len(payload.Nodes)
	result.RelCount = len(payload.Rels)
	if n, ok := payload.Meta["fix_attempts"].(int64); ok {
		result.FixAttempts = int(n)
	}

	s.log.Info("ingestion persisted",
		"run_id", result.RunID,
		"source", source,
		"nodes", result.NodeCount,
		"rels", result.RelCount,
		"fix_attempts", result.FixAttempts,
		"duration", elapsed)
	s.audit(ctx, result, raw, source, elapsed)
	return result, nil
}

func (s *IngestionService) audit(ctx context.Context, result *IngestResult, raw any, source string, elapsed time.Duration) {
	if s.runs == nil {
		return
	}

	run := &types.IngestRun{
		ID:          result.RunID,
		Source:      source,
		RecordHash:  recordHash(raw),
		Status:      types.IngestRunStatusPersisted,
		FixAttempts: result.FixAttempts,
		NodeCount:   result.NodeCount,
		RelCount:    result.RelCount,
		DurationMS:  elapsed.Milliseconds(),
	}
	if !result.Persisted {
		run.Status = types.IngestRunStatusFailed
		run.FailureReason = result.Reason
		if len(result.Violations) > 0 {
			if raw, err := json.Marshal(result.Violations); err == nil {
				run.Violations = datatypes.JSON(raw)
			}
		}
	}

	if _, err := s.runs.Create(ctx, nil, run); err != nil {
		s.log.Warn("audit write failed", "run_id", result.RunID, "error", err)
	}
}

func recordHash(raw any) string {
	var data []byte
	switch t := raw.(type) {
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			data = []byte(fmt.Sprintf("%v", t))
		} else {
			data = encoded
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
