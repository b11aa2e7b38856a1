package graph

import (
	"strings"
	"testing"

	"github.com/dovira/amlgraph-backend/internal/domain"
)

func TestBuildMergeNodeQuery(t *testing.T) {
	reg := domain.DefaultRegistry()

	query, params, err := buildMergeNodeQuery(reg, domain.LabelPerson,
		map[string]any{"rnokpp": "123"},
		map[string]any{"last_name": "Shevchenko"})
	if err != nil {
		t.Fatalf("buildMergeNodeQuery: %v", err)
	}

	if !strings.Contains(query, "MERGE (n:Person {rnokpp: $key_rnokpp})") {
		t.Fatalf("query:\n%s", query)
	}
	if !strings.Contains(query, "SET n += $set_props") {
		t.Fatalf("query:\n%s", query)
	}
	if params["key_rnokpp"] != "123" {
		t.Fatalf("params = %v", params)
	}
	if params["set_props"].(map[string]any)["last_name"] != "Shevchenko" {
		t.Fatalf("params = %v", params)
	}
}

func TestBuildMergeNodeQueryWithoutSetProps(t *testing.T) {
	reg := domain.DefaultRegistry()

	query, params, err := buildMergeNodeQuery(reg, domain.LabelOrganization,
		map[string]any{"edrpou": "00032112"}, nil)
	if err != nil {
		t.Fatalf("buildMergeNodeQuery: %v", err)
	}
	if strings.Contains(query, "SET") {
		t.Fatalf("no SET expected:\n%s", query)
	}
	if _, ok := params["set_props"]; ok {
		t.Fatal("set_props param must be absent")
	}
}

func TestBuildMergeNodeQueryRejectsBadInput(t *testing.T) {
	reg := domain.DefaultRegistry()

	if _, _, err := buildMergeNodeQuery(reg, "Wizard", map[string]any{"id": "1"}, nil); err == nil {
		t.Fatal("unknown label must be rejected")
	}
	if _, _, err := buildMergeNodeQuery(reg, domain.LabelPerson, map[string]any{}, nil); err == nil {
		t.Fatal("empty key props must be rejected")
	}
	if _, _, err := buildMergeNodeQuery(reg, domain.LabelPerson,
		map[string]any{"rnokpp`) DETACH DELETE n //": "1"}, nil); err == nil {
		t.Fatal("bad property name must be rejected")
	}
	if _, _, err := buildMergeNodeQuery(reg, domain.LabelPerson,
		map[string]any{"rnokpp": "1"},
		map[string]any{"bad name": true}); err == nil {
		t.Fatal("bad set property name must be rejected")
	}
}

func TestBuildMergeRelQuery(t *testing.T) {
	reg := domain.DefaultRegistry()

	query, params, err := buildMergeRelQuery(reg,
		domain.LabelPerson, "123",
		domain.RelDirectorOf,
		domain.LabelOrganization, "00032112",
		map[string]any{"since": "2020"})
	if err != nil {
		t.Fatalf("buildMergeRelQuery: %v", err)
	}

	for _, want := range []string{
		"MATCH (a:Person {rnokpp: $from_id})",
		"MATCH (b:Organization {edrpou: $to_id})",
		"MERGE (a)-[r:DIRECTOR_OF]->(b)",
		"SET r += $rel_props",
		"RETURN count(r) AS merged",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("query lacks %q:\n%s", want, query)
		}
	}
	if params["from_id"] != "123" || params["to_id"] != "00032112" {
		t.Fatalf("params = %v", params)
	}
}

func TestBuildMergeRelQueryRejectsBadInput(t *testing.T) {
	reg := domain.DefaultRegistry()

	if _, _, err := buildMergeRelQuery(reg, domain.LabelPerson, "1", "KNOWS", domain.LabelPerson, "2", nil); err == nil {
		t.Fatal("unknown rel type must be rejected")
	}
	if _, _, err := buildMergeRelQuery(reg, "Wizard", "1", domain.RelOwns, domain.LabelProperty, "2", nil); err == nil {
		t.Fatal("unknown from label must be rejected")
	}
	if _, _, err := buildMergeRelQuery(reg, domain.LabelPerson, " ", domain.RelOwns, domain.LabelProperty, "2", nil); err == nil {
		t.Fatal("empty from id must be rejected")
	}
}

func TestBuildConstraintStatements(t *testing.T) {
	reg := domain.DefaultRegistry()

	stmts := buildConstraintStatements(reg)
	if len(stmts) < len(reg.Labels()) {
		t.Fatalf("expected at least one statement per label, got %d", len(stmts))
	}

	joined := strings.Join(stmts, "\n")
	for _, want := range []string{
		"CREATE CONSTRAINT person_rnokpp_unique IF NOT EXISTS FOR (n:Person) REQUIRE n.rnokpp IS UNIQUE",
		"CREATE CONSTRAINT organization_edrpou_unique IF NOT EXISTS FOR (n:Organization) REQUIRE n.edrpou IS UNIQUE",
		"CREATE INDEX person_idx_0 IF NOT EXISTS FOR (n:Person) ON (n.last_name, n.first_name)",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing statement %q in:\n%s", want, joined)
		}
	}

	for _, s := range stmts {
		if !strings.Contains(s, "IF NOT EXISTS") {
			t.Fatalf("statement not idempotent: %s", s)
		}
	}
}
