package ingest

import (
	"fmt"
	"strings"

	"github.com/dovira/amlgraph-backend/internal/domain"
)

// Validate checks a payload against the schema registry and returns
// human-readable violations, one per problem. It is pure: no store access, no
// mutation. An empty result is exactly the condition for persistence.
func Validate(reg *domain.Registry, p *domain.GraphFactsPayload) []string {
	if p == nil {
		return []string{"payload is nil"}
	}

	var violations []string

	for i, n := range p.Nodes {
		if !reg.ValidLabel(n.Label) {
			violations = append(violations, fmt.Sprintf("nodes[%d].label='%s' is not allowed", i, n.Label))
		} else {
			idKey, _ := reg.IdentityKey(n.Label)
			if !hasIdentity(n.KeyProps, idKey) {
				violations = append(violations, fmt.Sprintf("nodes[%d].key_props.%s is missing or empty", i, idKey))
			}
			if len(n.KeyProps) > 1 {
				violations = append(violations, fmt.Sprintf("nodes[%d].key_props must contain exactly the identity key '%s'", i, idKey))
			}
		}
		if len(n.KeyProps) == 0 {
			violations = append(violations, fmt.Sprintf("nodes[%d].key_props is empty", i))
		}
		violations = append(violations, checkPropValues(fmt.Sprintf("nodes[%d].key_props", i), n.KeyProps)...)
		violations = append(violations, checkPropValues(fmt.Sprintf("nodes[%d].set_props", i), n.SetProps)...)
	}

	for i, r := range p.Rels {
		if !reg.ValidRelType(r.RelType) {
			violations = append(violations, fmt.Sprintf("rels[%d].rel_type='%s' is not allowed", i, r.RelType))
		}
		if !reg.ValidLabel(r.FromLabel) {
			violations = append(violations, fmt.Sprintf("rels[%d].from_label='%s' is not allowed", i, r.FromLabel))
		}
		if !reg.ValidLabel(r.ToLabel) {
			violations = append(violations, fmt.Sprintf("rels[%d].to_label='%s' is not allowed", i, r.ToLabel))
		}
		if strings.TrimSpace(r.FromID) == "" {
			violations = append(violations, fmt.Sprintf("rels[%d].from_id is empty", i))
		}
		if strings.TrimSpace(r.ToID) == "" {
			violations = append(violations, fmt.Sprintf("rels[%d].to_id is empty", i))
		}
		violations = append(violations, checkPropValues(fmt.Sprintf("rels[%d].rel_props", i), r.RelProps)...)
	}

	return violations
}

// checkPropValues flags values outside the scalar union
// {string, number, boolean, null, array-of-scalar}. Nested objects are never
// allowed in graph properties.
func checkPropValues(prefix string, props map[string]any) []string {
	var violations []string
	for k, v := range props {
		if _, ok := domain.ScalarValue(v); !ok {
			violations = append(violations, fmt.Sprintf("%s['%s'] has non-scalar value of type %T", prefix, k, v))
		}
	}
	return violations
}
