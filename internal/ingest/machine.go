package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
)

// Store is the mutation surface the machine persists through. The Neo4j
// mutator implements it; tests use an in-memory fake.
type Store interface {
	MergeNode(ctx context.Context, label domain.Label, keyProps, setProps map[string]any) error
	MergeRelationship(ctx context.Context, fromLabel domain.Label, fromID string, relType domain.RelType, toLabel domain.Label, toID string, relProps map[string]any) error
}

const DefaultMaxFixAttempts = 2

// Machine drives one record through parse, extract, normalize, validate, the
// bounded fix loop, and persist. It owns all retry policy; the oracle owns
// none.
type Machine struct {
	registry  *domain.Registry
	extractor Extractor
	fixer     Fixer
	store     Store
	log       *logger.Logger
}

func NewMachine(reg *domain.Registry, extractor Extractor, fixer Fixer, store Store, log *logger.Logger) *Machine {
	return &Machine{
		registry:  reg,
		extractor: extractor,
		fixer:     fixer,
		store:     store,
		log:       log,
	}
}

type stateName string

const (
	stateParse     stateName = "parse"
	stateExtract   stateName = "extract"
	stateNormalize stateName = "normalize"
	stateValidate  stateName = "validate"
	stateFix       stateName = "fix"
	statePersist   stateName = "persist"
	stateDone      stateName = "done"
)

// runState is the ephemeral per-run record. One per Run call, never shared.
type runState struct {
	raw              any
	record           map[string]any
	payload          *domain.GraphFactsPayload
	violations       []string
	fixAttempts      int
	maxFixAttempts   int
	validationPasses int
	persisted        bool
	fail             *RunError
	next             stateName
}

// Run executes one ingestion run. It returns the persisted payload (with run
// stats recorded in Meta) or a *RunError; it never panics and never returns
// any other error type. maxFixAttempts < 0 selects the default bound.
func (m *Machine) Run(ctx context.Context, raw any, maxFixAttempts int) (*domain.GraphFactsPayload, error) {
	if maxFixAttempts < 0 {
		maxFixAttempts = DefaultMaxFixAttempts
	}

	s := &runState{raw: raw, maxFixAttempts: maxFixAttempts, next: stateParse}

	for s.next != stateDone {
		stage := s.next
		m.runStage(ctx, stage, s)
		if s.fail != nil {
			s.next = stateDone
		}
	}

	if s.persisted {
		if s.payload.Meta == nil {
			s.payload.Meta = map[string]any{}
		}
		s.payload.Meta["fix_attempts"] = int64(s.fixAttempts)
		s.payload.Meta["validation_passes"] = int64(s.validationPasses)
		return s.payload, nil
	}

	if s.fail == nil {
		// Defensive terminal: the loop ended without persisting and without
		// recording a failure.
		if len(s.violations) > 0 {
			s.fail = &RunError{
				Reason:     ReasonUnresolvedViolations,
				Violations: s.violations,
				Attempts:   s.fixAttempts,
			}
		} else {
			s.fail = &RunError{Reason: ReasonNotPersistedUnknown, Attempts: s.fixAttempts}
		}
	}
	return nil, s.fail
}

// runStage executes one state's work behind a recover boundary so a fault in
// any stage becomes a terminal failure rather than an escaped panic.
func (m *Machine) runStage(ctx context.Context, stage stateName, s *runState) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("ingest stage panicked", "stage", string(stage), "panic", r)
			s.fail = &RunError{
				Reason:   panicReason(stage),
				Detail:   fmt.Sprintf("%s: %v", stage, r),
				Attempts: s.fixAttempts,
			}
		}
	}()

	switch stage {
	case stateParse:
		m.parse(s)
	case stateExtract:
		m.extract(ctx, s)
	case stateNormalize:
		m.normalize(s)
	case stateValidate:
		m.validate(s)
	case stateFix:
		m.fix(ctx, s)
	case statePersist:
		m.persist(ctx, s)
	default:
		s.fail = &RunError{Reason: ReasonNotPersistedUnknown, Detail: "unknown stage " + string(stage)}
	}
}

func panicReason(stage stateName) Reason {
	switch stage {
	case stateExtract:
		return ReasonExtractionFailed
	case statePersist:
		return ReasonPersistFailed
	default:
		return ReasonNotPersistedUnknown
	}
}

func (m *Machine) parse(s *runState) {
	record, err := domain.ParseRawRecord(s.raw)
	if err != nil {
		reason := ReasonInvalidInput
		if errors.Is(err, domain.ErrNotAnObject) {
			reason = ReasonNotAnObject
		}
		s.fail = &RunError{Reason: reason, Detail: err.Error()}
		return
	}
	s.record = record
	s.next = stateExtract
}

func (m *Machine) extract(ctx context.Context, s *runState) {
	payload, err := m.extractor.Extract(ctx, s.record)
	if err != nil {
		s.fail = &RunError{Reason: ReasonExtractionFailed, Detail: err.Error()}
		return
	}
	s.payload = payload
	s.next = stateNormalize
}

func (m *Machine) normalize(s *runState) {
	s.payload = Normalize(m.registry, s.payload)
	s.next = stateValidate
}

func (m *Machine) validate(s *runState) {
	s.validationPasses++
	s.violations = Validate(m.registry, s.payload)
	if len(s.violations) == 0 {
		s.next = statePersist
		return
	}
	m.log.Debug("payload invalid",
		"pass", s.validationPasses,
		"violations", len(s.violations))
	s.next = stateFix
}

func (m *Machine) fix(ctx context.Context, s *runState) {
	s.fixAttempts++
	if s.fixAttempts > s.maxFixAttempts {
		s.fail = &RunError{
			Reason:     ReasonFixAttemptsExceeded,
			Violations: s.violations,
			Attempts:   s.fixAttempts - 1,
		}
		return
	}

	fixed, err := m.fixer.Fix(ctx, s.payload.Clone(), s.violations)
	if err != nil {
		// A failed repair burns the attempt but keeps the run alive; the
		// current payload goes back through normalize and validate.
		m.log.Warn("fix attempt failed", "attempt", s.fixAttempts, "error", err)
	} else {
		s.payload = fixed
	}
	s.violations = nil
	s.next = stateNormalize
}

func (m *Machine) persist(ctx context.Context, s *runState) {
	for _, n := range s.payload.Nodes {
		if err := m.store.MergeNode(ctx, n.Label, n.KeyProps, n.SetProps); err != nil {
			s.fail = &RunError{
				Reason:   ReasonPersistFailed,
				Detail:   fmt.Sprintf("merge node %s: %v", n.Label, err),
				Attempts: s.fixAttempts,
			}
			return
		}
	}
	for _, r := range s.payload.Rels {
		if err := m.store.MergeRelationship(ctx, r.FromLabel, r.FromID, r.RelType, r.ToLabel, r.ToID, r.RelProps); err != nil {
			s.fail = &RunError{
				Reason:   ReasonPersistFailed,
				Detail:   fmt.Sprintf("merge rel %s: %v", r.RelType, err),
				Attempts: s.fixAttempts,
			}
			return
		}
	}
	s.persisted = true
	s.next = stateDone
}
