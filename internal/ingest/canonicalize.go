package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dovira/amlgraph-backend/internal/domain"
)

// syntheticRule names the canonical field subset hashed into a synthetic id
// for labels without a natural stable identifier. The fields are read from
// set_props first, then key_props, matching where extraction tends to put them.
type syntheticRule struct {
	prefix string
	fields []string
}

var syntheticRules = map[domain.Label]syntheticRule{
	domain.LabelAddress:     {prefix: "addr:", fields: []string{"full_text"}},
	domain.LabelPersonAlias: {prefix: "alias:", fields: []string{"full_name_raw", "date_birth"}},
	domain.LabelProperty:    {prefix: "prop:", fields: []string{"description", "government_reg_number", "address_text"}},
	domain.LabelDocument:    {prefix: "doc:", fields: []string{"doc_type", "series", "number"}},
}

// SyntheticID derives a stable identifier from a fixed field subset: the
// prefix plus the first 16 hex chars of sha256 over the canonical JSON of the
// fields. Identical field values produce an identical id on every invocation
// and across processes; the store treats identity as the sole merge key, so
// this must never depend on anything non-deterministic.
func SyntheticID(prefix string, fields map[string]any) string {
	raw, err := json.Marshal(fields) // map keys are sorted by encoding/json
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", fields))
	}
	sum := sha256.Sum256(raw)
	return prefix + hex.EncodeToString(sum[:])[:16]
}

// Normalize canonicalizes a payload in place and returns it:
// property values are coerced into the scalar union (nil values dropped,
// non-coercible values left for the validator to flag), and nodes whose label
// has a synthetic-id rule get a missing identity value backfilled.
// Calling Normalize twice is equivalent to calling it once: an identity value
// that is already present is never replaced.
func Normalize(reg *domain.Registry, p *domain.GraphFactsPayload) *domain.GraphFactsPayload {
	if p == nil {
		return nil
	}

	for i := range p.Nodes {
		n := &p.Nodes[i]
		n.KeyProps = coerceProps(n.KeyProps)
		n.SetProps = coerceProps(n.SetProps)

		idKey, err := reg.IdentityKey(n.Label)
		if err != nil {
			continue // unknown label; the validator reports it
		}
		if hasIdentity(n.KeyProps, idKey) {
			continue
		}

		rule, ok := syntheticRules[n.Label]
		if !ok {
			continue
		}
		fields := map[string]any{}
		populated := false
		for _, f := range rule.fields {
			v := propValue(n, f)
			fields[f] = v
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
				populated = true
			} else if v != nil && !isStr {
				populated = true
			}
		}
		if !populated {
			continue // nothing to hash; the validator reports the missing id
		}
		if n.KeyProps == nil {
			n.KeyProps = map[string]any{}
		}
		n.KeyProps[idKey] = SyntheticID(rule.prefix, fields)
	}

	for i := range p.Rels {
		r := &p.Rels[i]
		r.RelProps = coerceProps(r.RelProps)
		r.FromID = strings.TrimSpace(r.FromID)
		r.ToID = strings.TrimSpace(r.ToID)
	}

	return p
}

func hasIdentity(keyProps map[string]any, idKey string) bool {
	v, ok := keyProps[idKey]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func propValue(n *domain.FactNode, field string) any {
	if v, ok := n.SetProps[field]; ok && v != nil {
		return v
	}
	if v, ok := n.KeyProps[field]; ok && v != nil {
		return v
	}
	return nil
}

// coerceProps normalizes a property map: values are passed through
// domain.ScalarValue when possible and nil values dropped. Values the scalar
// union cannot represent are kept untouched so validation can name them.
func coerceProps(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil {
			continue
		}
		if sv, ok := domain.ScalarValue(v); ok {
			if sv == nil {
				continue
			}
			out[k] = sv
			continue
		}
		out[k] = v
	}
	return out
}
