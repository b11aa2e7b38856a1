package ingest

import (
	"fmt"
	"strings"
)

// Reason classifies why an ingestion run did not end in persistence.
type Reason string

const (
	ReasonInvalidInput         Reason = "invalid_input"
	ReasonNotAnObject          Reason = "not_an_object"
	ReasonExtractionFailed     Reason = "extraction_failed"
	ReasonFixAttemptsExceeded  Reason = "fix_attempts_exceeded"
	ReasonUnresolvedViolations Reason = "unresolved_violations"
	ReasonPersistFailed        Reason = "persist_failed"
	ReasonNotPersistedUnknown  Reason = "not_persisted_unknown"
)

// RunError is the typed failure of a single ingestion run. Violations carries
// the last validation findings for reasons where they exist.
type RunError struct {
	Reason     Reason
	Detail     string
	Violations []string
	Attempts   int
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ingest failed: %s", e.Reason)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (fix attempts: %d)", e.Attempts)
	}
	if len(e.Violations) > 0 {
		fmt.Fprintf(&b, "; violations: %s", strings.Join(e.Violations, "; "))
	}
	return b.String()
}
