package ingest

import (
	"fmt"
	"strings"

	"github.com/dovira/amlgraph-backend/internal/domain"
)

// The oracle prompts are generated from the registry so the closed schema the
// model sees is always the schema the validator enforces.

func extractSystemPrompt(reg *domain.Registry) string {
	var b strings.Builder

	b.WriteString(`You are a STRICT information extraction engine for a Neo4j knowledge graph.

Your ONLY job:
- Read the provided raw JSON record
- Extract graph entities and relationships
- Output ONLY a valid GraphFactsPayload JSON (no markdown, no explanations)

GRAPH SCHEMA GOVERNANCE (MUST FOLLOW)

Allowed node labels (exact strings):
`)
	for _, label := range reg.Labels() {
		fmt.Fprintf(&b, "- %s\n", label)
	}

	b.WriteString("\nAllowed relationship types (exact strings):\n")
	for _, rt := range reg.RelTypes() {
		fmt.Fprintf(&b, "- %s\n", rt)
	}

	b.WriteString(`
OUTPUT FORMAT (MUST MATCH GraphFactsPayload)

{
  "nodes": [
    {
      "label": "<one of allowed labels>",
      "key_props": { "<id_key>": "<unique id value>" },
      "set_props": { ... optional properties ... }
    }
  ],
  "rels": [
    {
      "from_label": "<label>", "from_id": "<id>",
      "rel_type": "<one of allowed relationship types>",
      "to_label": "<label>", "to_id": "<id>",
      "rel_props": { ... optional relationship properties ... }
    }
  ],
  "meta": { "source": "llm_extract" }
}

IMPORTANT:
- "nodes" and "rels" MUST be arrays (even if size=0).
- Property values MUST be strings, numbers, booleans, null, or arrays of those.
- Never output nested objects as property values.
- Do NOT invent new fields outside of nodes/rels/meta.

NODE IDENTITY KEYS (key_props MUST contain exactly this key)

`)
	for _, label := range reg.Labels() {
		idKey, _ := reg.IdentityKey(label)
		fmt.Fprintf(&b, "- %s -> %s\n", label, idKey)
	}

	b.WriteString(`
ID CREATION RULES (when a stable id is missing)

If a stable id does not exist in the input, generate a synthetic id as a
deterministic stable string based only on input fields (never random):

- address_id  = "addr:"  + hash(full_text)
- alias_id    = "alias:" + hash(full_name_raw + date_birth)
- income_id   = "inc:"   + hash(person_rnokpp + year + quarter_month + income_type_code + payer_edrpou)
- property_id = "prop:"  + hash(description + reg_number + address_text)
- land_id     = "land:"  + hash(cadastre_number + address_text)
- poa_id      = "poa:"   + hash(notarial_reg_number + attested_date + grantor + representative)
- doc_id      = "doc:"   + hash(doc_type + series + number)
- case_id     = "case:"  + hash(case_number + court_name + decision_date)
- executor_id = "exec:"  + hash(executor_rnokpp + executor_edrpou + full_name)

RULES:
1) Never invent ids, dates, names, or numbers that are not in the input.
2) A Person requires a non-empty rnokpp; without it emit a PersonAlias instead.
3) Relationship endpoints reference node identity values, never node objects.
`)

	return b.String()
}

func fixSystemPrompt(reg *domain.Registry) string {
	var b strings.Builder

	b.WriteString(`You REPAIR an invalid GraphFactsPayload for a Neo4j knowledge graph.

You receive the current payload and a list of validation errors. Return the
corrected payload as JSON ONLY (no markdown, no explanations). Fix EVERY listed
error and change nothing else. Do not invent values that are not already
implied by the payload.

Allowed node labels: `)
	b.WriteString(joinLabels(reg.Labels()))
	b.WriteString("\nAllowed relationship types: ")
	b.WriteString(joinRelTypes(reg.RelTypes()))
	b.WriteString("\n\nIdentity key per label:\n")
	for _, label := range reg.Labels() {
		idKey, _ := reg.IdentityKey(label)
		fmt.Fprintf(&b, "- %s -> %s\n", label, idKey)
	}
	b.WriteString(`
If an entity's label is not allowed, map it to the closest allowed label or
drop the entity and its relationships. If an identity value is missing and
cannot be derived from the payload, drop the entity.
`)

	return b.String()
}

func joinLabels(labels []domain.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return strings.Join(parts, ", ")
}

func joinRelTypes(relTypes []domain.RelType) string {
	parts := make([]string, len(relTypes))
	for i, rt := range relTypes {
		parts[i] = string(rt)
	}
	return strings.Join(parts, ", ")
}

// payloadJSONSchema is the strict structured-output schema handed to the LLM
// client for both extraction and repair.
func payloadJSONSchema(reg *domain.Registry) map[string]any {
	labels := make([]string, 0)
	for _, l := range reg.Labels() {
		labels = append(labels, string(l))
	}
	relTypes := make([]string, 0)
	for _, rt := range reg.RelTypes() {
		relTypes = append(relTypes, string(rt))
	}

	propMap := map[string]any{
		"type": "object",
		"additionalProperties": map[string]any{
			"type": []string{"string", "number", "boolean", "null", "array"},
		},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"nodes", "rels"},
		"properties": map[string]any{
			"nodes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"label", "key_props"},
					"properties": map[string]any{
						"label":     map[string]any{"type": "string", "enum": labels},
						"key_props": propMap,
						"set_props": propMap,
					},
				},
			},
			"rels": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"from_label", "from_id", "rel_type", "to_label", "to_id"},
					"properties": map[string]any{
						"from_label": map[string]any{"type": "string", "enum": labels},
						"from_id":    map[string]any{"type": "string"},
						"rel_type":   map[string]any{"type": "string", "enum": relTypes},
						"to_label":   map[string]any{"type": "string", "enum": labels},
						"to_id":      map[string]any{"type": "string"},
						"rel_props":  propMap,
					},
				},
			},
			"meta": propMap,
		},
	}
}
