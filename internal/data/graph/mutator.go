package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/platform/neo4jdb"
)

// ErrEndpointMissing reports a relationship merge whose endpoint nodes do not
// both exist. The merge never creates nodes; callers must merge endpoints
// first.
var ErrEndpointMissing = errors.New("relationship endpoint missing")

var propNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Mutator is the only write path into the graph. Every write is a MERGE keyed
// by the registry's identity key, so repeated ingestion of the same facts is
// safe.
type Mutator struct {
	client   *neo4jdb.Client
	registry *domain.Registry
	log      *logger.Logger
}

func NewMutator(client *neo4jdb.Client, reg *domain.Registry, log *logger.Logger) *Mutator {
	return &Mutator{client: client, registry: reg, log: log.With("client", "GraphMutator")}
}

// EnsureConstraints creates a uniqueness constraint per (label, identityKey)
// and the registry's secondary indexes. Idempotent; safe before any data.
func (m *Mutator) EnsureConstraints(ctx context.Context) error {
	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	for _, stmt := range buildConstraintStatements(m.registry) {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
	}
	m.log.Info("graph constraints ensured", "labels", len(m.registry.Labels()))
	return nil
}

func buildConstraintStatements(reg *domain.Registry) []string {
	stmts := make([]string, 0)
	for _, label := range reg.Labels() {
		idKey, _ := reg.IdentityKey(label)
		name := strings.ToLower(string(label)) + "_" + idKey + "_unique"
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			name, label, idKey))
		for i, fields := range reg.Indexes(label) {
			cols := make([]string, len(fields))
			for j, f := range fields {
				cols[j] = "n." + f
			}
			idxName := fmt.Sprintf("%s_idx_%d", strings.ToLower(string(label)), i)
			stmts = append(stmts, fmt.Sprintf(
				"CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (%s)",
				idxName, label, strings.Join(cols, ", ")))
		}
	}
	return stmts
}

// MergeNode upserts the node identified solely by (label, keyProps). setProps
// overwrite on repeat calls; keyProps never change an existing node's
// identity.
func (m *Mutator) MergeNode(ctx context.Context, label domain.Label, keyProps, setProps map[string]any) error {
	query, params, err := buildMergeNodeQuery(m.registry, label, keyProps, setProps)
	if err != nil {
		return err
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("merge node %s: %w", label, err)
	}
	return nil
}

func buildMergeNodeQuery(reg *domain.Registry, label domain.Label, keyProps, setProps map[string]any) (string, map[string]any, error) {
	if !reg.ValidLabel(label) {
		return "", nil, &domain.ErrUnknownLabel{Label: label}
	}
	if len(keyProps) == 0 {
		return "", nil, fmt.Errorf("merge node %s: empty key props", label)
	}

	keys := sortedKeys(keyProps)
	params := map[string]any{}
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		if !propNameRe.MatchString(k) {
			return "", nil, fmt.Errorf("merge node %s: bad property name %q", label, k)
		}
		param := "key_" + k
		pairs = append(pairs, fmt.Sprintf("%s: $%s", k, param))
		params[param] = keyProps[k]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE (n:%s {%s})", label, strings.Join(pairs, ", "))
	if len(setProps) > 0 {
		for k := range setProps {
			if !propNameRe.MatchString(k) {
				return "", nil, fmt.Errorf("merge node %s: bad property name %q", label, k)
			}
		}
		b.WriteString("\nSET n += $set_props")
		params["set_props"] = setProps
	}
	b.WriteString("\nRETURN n")

	return b.String(), params, nil
}

// MergeRelationship upserts the typed relationship between two existing nodes.
// Both endpoints are matched by their identity key; when either is absent the
// call returns ErrEndpointMissing and writes nothing.
func (m *Mutator) MergeRelationship(ctx context.Context, fromLabel domain.Label, fromID string, relType domain.RelType, toLabel domain.Label, toID string, relProps map[string]any) error {
	query, params, err := buildMergeRelQuery(m.registry, fromLabel, fromID, relType, toLabel, toID, relProps)
	if err != nil {
		return err
	}

	session := m.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.client.Database,
	})
	defer session.Close(ctx)

	merged, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			// Zero rows means a MATCH found nothing.
			return false, nil
		}
		count, _ := record.Get("merged")
		n, _ := count.(int64)
		return n > 0, nil
	})
	if err != nil {
		return fmt.Errorf("merge rel %s: %w", relType, err)
	}
	if ok, _ := merged.(bool); !ok {
		return fmt.Errorf("merge rel (%s {%s})-[%s]->(%s {%s}): %w",
			fromLabel, fromID, relType, toLabel, toID, ErrEndpointMissing)
	}
	return nil
}

func buildMergeRelQuery(reg *domain.Registry, fromLabel domain.Label, fromID string, relType domain.RelType, toLabel domain.Label, toID string, relProps map[string]any) (string, map[string]any, error) {
	if !reg.ValidRelType(relType) {
		return "", nil, fmt.Errorf("merge rel: unknown relationship type %q", relType)
	}
	fromKey, err := reg.IdentityKey(fromLabel)
	if err != nil {
		return "", nil, err
	}
	toKey, err := reg.IdentityKey(toLabel)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return "", nil, fmt.Errorf("merge rel %s: empty endpoint id", relType)
	}

	params := map[string]any{
		"from_id": fromID,
		"to_id":   toID,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (a:%s {%s: $from_id})\n", fromLabel, fromKey)
	fmt.Fprintf(&b, "MATCH (b:%s {%s: $to_id})\n", toLabel, toKey)
	fmt.Fprintf(&b, "MERGE (a)-[r:%s]->(b)", relType)
	if len(relProps) > 0 {
		for k := range relProps {
			if !propNameRe.MatchString(k) {
				return "", nil, fmt.Errorf("merge rel %s: bad property name %q", relType, k)
			}
		}
		b.WriteString("\nSET r += $rel_props")
		params["rel_props"] = relProps
	}
	b.WriteString("\nRETURN count(r) AS merged")

	return b.String(), params, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
