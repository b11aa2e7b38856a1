package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// IngestRun is the audit row written once per ingestion run, success or
// failure. The graph itself stays append-free of provenance noise; operators
// look here.
type IngestRun struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Source        string         `gorm:"column:source;index" json:"source"`
	RecordHash    string         `gorm:"column:record_hash;index" json:"record_hash"`
	Status        string         `gorm:"column:status;not null;index" json:"status"`
	FailureReason string         `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	FixAttempts   int            `gorm:"column:fix_attempts;not null" json:"fix_attempts"`
	NodeCount     int            `gorm:"column:node_count;not null" json:"node_count"`
	RelCount      int            `gorm:"column:rel_count;not null" json:"rel_count"`
	Violations    datatypes.JSON `gorm:"column:violations;type:jsonb" json:"violations,omitempty"`
	DurationMS    int64          `gorm:"column:duration_ms;not null" json:"duration_ms"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
}

func (IngestRun) TableName() string {
	return "ingest_run"
}

const (
	IngestRunStatusPersisted = "persisted"
	IngestRunStatusFailed    = "failed"
)
