package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
)

type stubExtractor struct {
	payload *domain.GraphFactsPayload
	err     error
	panics  bool
	calls   int
}

func (s *stubExtractor) Extract(ctx context.Context, record map[string]any) (*domain.GraphFactsPayload, error) {
	s.calls++
	if s.panics {
		panic("extractor exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.payload.Clone(), nil
}

// scriptedFixer returns its payloads in order; once exhausted it repeats the
// last one. A nil script makes every call fail.
type scriptedFixer struct {
	script []*domain.GraphFactsPayload
	calls  int
}

func (f *scriptedFixer) Fix(ctx context.Context, payload *domain.GraphFactsPayload, violations []string) (*domain.GraphFactsPayload, error) {
	f.calls++
	if len(f.script) == 0 {
		return nil, errors.New("fixer unavailable")
	}
	i := f.calls - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i].Clone(), nil
}

type memNode struct {
	props map[string]any
}

// memStore mirrors the mutation-layer contract: nodes merge on
// (label, keyProps), set props overwrite, relationships require both
// endpoints.
type memStore struct {
	nodes    map[string]*memNode
	rels     map[string]map[string]any
	nodeErr  error
	relErr   error
	mergeOps int
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]*memNode{}, rels: map[string]map[string]any{}}
}

func nodeKey(label domain.Label, keyProps map[string]any) string {
	return fmt.Sprintf("%s|%v", label, keyProps)
}

func (s *memStore) MergeNode(ctx context.Context, label domain.Label, keyProps, setProps map[string]any) error {
	if s.nodeErr != nil {
		return s.nodeErr
	}
	s.mergeOps++
	key := nodeKey(label, keyProps)
	n, ok := s.nodes[key]
	if !ok {
		n = &memNode{props: map[string]any{}}
		for k, v := range keyProps {
			n.props[k] = v
		}
		s.nodes[key] = n
	}
	for k, v := range setProps {
		n.props[k] = v
	}
	return nil
}

func (s *memStore) MergeRelationship(ctx context.Context, fromLabel domain.Label, fromID string, relType domain.RelType, toLabel domain.Label, toID string, relProps map[string]any) error {
	if s.relErr != nil {
		return s.relErr
	}
	fromKey, toKey := "", ""
	for key := range s.nodes {
		if strings.HasPrefix(key, string(fromLabel)+"|") && strings.Contains(key, fromID) {
			fromKey = key
		}
		if strings.HasPrefix(key, string(toLabel)+"|") && strings.Contains(key, toID) {
			toKey = key
		}
	}
	if fromKey == "" || toKey == "" {
		return errors.New("relationship endpoint missing")
	}
	relKey := fmt.Sprintf("%s-[%s]->%s", fromKey, relType, toKey)
	props, ok := s.rels[relKey]
	if !ok {
		props = map[string]any{}
		s.rels[relKey] = props
	}
	for k, v := range relProps {
		props[k] = v
	}
	return nil
}

func personPayload() *domain.GraphFactsPayload {
	return &domain.GraphFactsPayload{
		Nodes: []domain.FactNode{{
			Label:    domain.LabelPerson,
			KeyProps: map[string]any{"rnokpp": "123"},
			SetProps: map[string]any{"last_name": "X"},
		}},
		Rels: []domain.FactRel{},
	}
}

func newTestMachine(extractor Extractor, fixer Fixer, store Store) *Machine {
	return NewMachine(domain.DefaultRegistry(), extractor, fixer, store, logger.NewNop())
}

func TestRunHappyPath(t *testing.T) {
	store := newMemStore()
	m := newTestMachine(&stubExtractor{payload: personPayload()}, &scriptedFixer{}, store)

	payload, err := m.Run(context.Background(), `{"RNOKPP":"123","last_name":"X"}`, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.nodes) != 1 {
		t.Fatalf("expected one node, got %d", len(store.nodes))
	}
	if payload.Meta["fix_attempts"] != int64(0) {
		t.Fatalf("fix_attempts = %v", payload.Meta["fix_attempts"])
	}
	if payload.Meta["validation_passes"] != int64(1) {
		t.Fatalf("validation_passes = %v", payload.Meta["validation_passes"])
	}
}

func TestRunInvalidInput(t *testing.T) {
	m := newTestMachine(&stubExtractor{payload: personPayload()}, &scriptedFixer{}, newMemStore())

	_, err := m.Run(context.Background(), "not json at all", 2)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonInvalidInput {
		t.Fatalf("reason = %s", runErr.Reason)
	}

	_, err = m.Run(context.Background(), `[1,2]`, 2)
	if asRunError(t, err).Reason != ReasonNotAnObject {
		t.Fatalf("reason = %s", asRunError(t, err).Reason)
	}
}

func TestRunExtractionFailure(t *testing.T) {
	m := newTestMachine(&stubExtractor{err: errors.New("oracle down")}, &scriptedFixer{}, newMemStore())

	_, err := m.Run(context.Background(), `{"a":1}`, 2)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonExtractionFailed {
		t.Fatalf("reason = %s", runErr.Reason)
	}
}

func TestRunExtractionPanicIsCaught(t *testing.T) {
	m := newTestMachine(&stubExtractor{panics: true}, &scriptedFixer{}, newMemStore())

	_, err := m.Run(context.Background(), `{"a":1}`, 2)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonExtractionFailed {
		t.Fatalf("reason = %s", runErr.Reason)
	}
	if !strings.Contains(runErr.Detail, "extractor exploded") {
		t.Fatalf("detail = %q", runErr.Detail)
	}
}

func TestRunRetryBound(t *testing.T) {
	bad := personPayload()
	bad.Nodes[0].Label = "Wizard"

	store := newMemStore()
	fixer := &scriptedFixer{script: []*domain.GraphFactsPayload{bad, bad, bad, bad}}
	m := newTestMachine(&stubExtractor{payload: bad}, fixer, store)

	const maxFix = 2
	_, err := m.Run(context.Background(), `{"a":1}`, maxFix)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonFixAttemptsExceeded {
		t.Fatalf("reason = %s", runErr.Reason)
	}
	if runErr.Attempts != maxFix {
		t.Fatalf("attempts = %d", runErr.Attempts)
	}
	// maxFix+1 validation passes means the fixer ran exactly maxFix times.
	if fixer.calls != maxFix {
		t.Fatalf("fixer calls = %d", fixer.calls)
	}
	if !containsSubstr(runErr.Violations, "label='Wizard' is not allowed") {
		t.Fatalf("violations = %v", runErr.Violations)
	}
	if len(store.nodes) != 0 || store.mergeOps != 0 {
		t.Fatal("persistence must never run on an invalid payload")
	}
}

func TestRunFixSucceedsOnSecondAttempt(t *testing.T) {
	bad := personPayload()
	bad.Nodes[0].Label = "Wizard"

	store := newMemStore()
	fixer := &scriptedFixer{script: []*domain.GraphFactsPayload{bad, personPayload()}}
	m := newTestMachine(&stubExtractor{payload: bad}, fixer, store)

	payload, err := m.Run(context.Background(), `{"a":1}`, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if payload.Meta["fix_attempts"] != int64(2) {
		t.Fatalf("fix_attempts = %v", payload.Meta["fix_attempts"])
	}
	if len(store.nodes) != 1 {
		t.Fatalf("expected one node, got %d", len(store.nodes))
	}
}

func TestRunFixerErrorBurnsAttempt(t *testing.T) {
	bad := personPayload()
	bad.Nodes[0].Label = "Wizard"

	m := newTestMachine(&stubExtractor{payload: bad}, &scriptedFixer{}, newMemStore())

	_, err := m.Run(context.Background(), `{"a":1}`, 1)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonFixAttemptsExceeded {
		t.Fatalf("reason = %s", runErr.Reason)
	}
	if runErr.Attempts != 1 {
		t.Fatalf("attempts = %d", runErr.Attempts)
	}
}

func TestRunRepairedPayloadIsRenormalized(t *testing.T) {
	// The repaired payload lacks an address identity; only re-normalization
	// can backfill it before the next validation pass.
	repaired := &domain.GraphFactsPayload{
		Nodes: []domain.FactNode{{
			Label:    domain.LabelAddress,
			KeyProps: map[string]any{},
			SetProps: map[string]any{"full_text": "Kyiv, Khreshchatyk 1"},
		}},
	}
	bad := personPayload()
	bad.Nodes[0].Label = "Wizard"

	store := newMemStore()
	fixer := &scriptedFixer{script: []*domain.GraphFactsPayload{repaired}}
	m := newTestMachine(&stubExtractor{payload: bad}, fixer, store)

	payload, err := m.Run(context.Background(), `{"a":1}`, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	id, _ := payload.Nodes[0].KeyProps["address_id"].(string)
	if !strings.HasPrefix(id, "addr:") {
		t.Fatalf("address_id = %q", id)
	}
}

func TestRunDanglingRelationshipBlocksPersistence(t *testing.T) {
	bad := personPayload()
	bad.Rels = []domain.FactRel{{
		FromLabel: domain.LabelPerson, FromID: "",
		RelType: domain.RelOwns,
		ToLabel: domain.LabelProperty, ToID: "prop:x",
	}}

	store := newMemStore()
	m := newTestMachine(&stubExtractor{payload: bad}, &scriptedFixer{}, store)

	_, err := m.Run(context.Background(), `{"a":1}`, 1)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonFixAttemptsExceeded {
		t.Fatalf("reason = %s", runErr.Reason)
	}
	if !containsSubstr(runErr.Violations, "from_id is empty") {
		t.Fatalf("violations = %v", runErr.Violations)
	}
	if store.mergeOps != 0 {
		t.Fatal("persistence must not run while the payload is invalid")
	}
}

func TestRunPersistFailure(t *testing.T) {
	store := newMemStore()
	store.nodeErr = errors.New("neo4j unavailable")
	m := newTestMachine(&stubExtractor{payload: personPayload()}, &scriptedFixer{}, store)

	_, err := m.Run(context.Background(), `{"a":1}`, 2)
	runErr := asRunError(t, err)
	if runErr.Reason != ReasonPersistFailed {
		t.Fatalf("reason = %s", runErr.Reason)
	}
	if !strings.Contains(runErr.Detail, "neo4j unavailable") {
		t.Fatalf("detail = %q", runErr.Detail)
	}
}

func TestMemStoreMergeIdempotence(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	key := map[string]any{"rnokpp": "123"}

	for i := 0; i < 5; i++ {
		set := map[string]any{"last_name": fmt.Sprintf("v%d", i)}
		if err := store.MergeNode(ctx, domain.LabelPerson, key, set); err != nil {
			t.Fatalf("MergeNode: %v", err)
		}
	}

	if len(store.nodes) != 1 {
		t.Fatalf("expected exactly one node, got %d", len(store.nodes))
	}
	n := store.nodes[nodeKey(domain.LabelPerson, key)]
	if n.props["last_name"] != "v4" {
		t.Fatalf("last writer must win, got %v", n.props["last_name"])
	}
}

func TestMemStoreRelationshipRequiresEndpoints(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	err := store.MergeRelationship(ctx, domain.LabelPerson, "123", domain.RelOwns, domain.LabelProperty, "prop:x", nil)
	if err == nil {
		t.Fatal("expected endpoint error")
	}
	if len(store.nodes) != 0 {
		t.Fatal("a failed relationship merge must not create nodes")
	}
}

func asRunError(t *testing.T, err error) *RunError {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected *RunError, got %T", err)
	}
	return runErr
}
