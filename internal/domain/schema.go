package domain

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Label is a node label from the closed graph schema.
type Label string

// RelType is a relationship type from the closed graph schema.
type RelType string

const (
	LabelPerson          Label = "Person"
	LabelPersonAlias     Label = "PersonAlias"
	LabelOrganization    Label = "Organization"
	LabelKvedActivity    Label = "KvedActivity"
	LabelAddress         Label = "Address"
	LabelDocument        Label = "Document"
	LabelRequest         Label = "Request"
	LabelExecutor        Label = "Executor"
	LabelIncomeRecord    Label = "IncomeRecord"
	LabelProperty        Label = "Property"
	LabelLandParcel      Label = "LandParcel"
	LabelNotarialBlank   Label = "NotarialBlank"
	LabelPowerOfAttorney Label = "PowerOfAttorney"
	LabelCourtCase       Label = "CourtCase"
	LabelBirthRecord     Label = "BirthRecord"
)

const (
	RelDirectorOf        RelType = "DIRECTOR_OF"
	RelFounderOf         RelType = "FOUNDER_OF"
	RelHasKved           RelType = "HAS_KVED"
	RelChildOf           RelType = "CHILD_OF"
	RelSpouseOf          RelType = "SPOUSE_OF"
	RelEarnedIncome      RelType = "EARNED_INCOME"
	RelPaidBy            RelType = "PAID_BY"
	RelOwns              RelType = "OWNS"
	RelHasGrantor        RelType = "HAS_GRANTOR"
	RelHasRepresentative RelType = "HAS_REPRESENTATIVE"
	RelHasProperty       RelType = "HAS_PROPERTY"
	RelHasNotarialBlank  RelType = "HAS_NOTARIAL_BLANK"
	RelCreatedBy         RelType = "CREATED_BY"
	RelAbout             RelType = "ABOUT"
	RelProvided          RelType = "PROVIDED"
)

// ErrUnknownLabel reports a label outside the closed set. It carries the label
// so violation messages can name it.
type ErrUnknownLabel struct {
	Label Label
}

func (e *ErrUnknownLabel) Error() string {
	return fmt.Sprintf("unknown node label %q", string(e.Label))
}

// Registry is the single source of truth for the closed graph schema: allowed
// labels with their identity key, allowed relationship types, and the
// secondary lookup indexes created alongside the uniqueness constraints.
// It is immutable after construction; every component consults it instead of
// doing ad hoc label checks.
type Registry struct {
	identityKeys map[Label]string
	relTypes     map[RelType]struct{}
	indexes      map[Label][][]string
}

// DefaultRegistry returns the built-in schema table.
func DefaultRegistry() *Registry {
	reg, err := newRegistry(defaultIdentityKeys(), defaultRelTypes(), defaultIndexes())
	if err != nil {
		// The built-in table is validated by tests; a broken table is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return reg
}

func defaultIdentityKeys() map[Label]string {
	return map[Label]string{
		LabelPerson:          "rnokpp",
		LabelPersonAlias:     "alias_id",
		LabelOrganization:    "edrpou",
		LabelKvedActivity:    "code",
		LabelAddress:         "address_id",
		LabelDocument:        "doc_id",
		LabelRequest:         "request_id",
		LabelExecutor:        "executor_id",
		LabelIncomeRecord:    "income_id",
		LabelProperty:        "property_id",
		LabelLandParcel:      "land_id",
		LabelNotarialBlank:   "blank_id",
		LabelPowerOfAttorney: "poa_id",
		LabelCourtCase:       "case_id",
		LabelBirthRecord:     "record_id",
	}
}

func defaultRelTypes() []RelType {
	return []RelType{
		RelDirectorOf, RelFounderOf, RelHasKved,
		RelChildOf, RelSpouseOf,
		RelEarnedIncome, RelPaidBy,
		RelOwns,
		RelHasGrantor, RelHasRepresentative, RelHasProperty, RelHasNotarialBlank,
		RelCreatedBy, RelAbout, RelProvided,
	}
}

func defaultIndexes() map[Label][][]string {
	return map[Label][][]string{
		LabelPerson:       {{"last_name", "first_name"}, {"date_birth"}},
		LabelOrganization: {{"name"}, {"state"}},
		LabelIncomeRecord: {{"period_year"}, {"income_type_code"}},
		LabelRequest:      {{"application_date"}},
	}
}

func newRegistry(identityKeys map[Label]string, relTypes []RelType, indexes map[Label][][]string) (*Registry, error) {
	if len(identityKeys) == 0 {
		return nil, fmt.Errorf("schema registry: no labels configured")
	}
	keys := make(map[Label]string, len(identityKeys))
	for label, key := range identityKeys {
		if label == "" {
			return nil, fmt.Errorf("schema registry: empty label")
		}
		if key == "" {
			return nil, fmt.Errorf("schema registry: label %q has no identity key", label)
		}
		keys[label] = key
	}

	rels := make(map[RelType]struct{}, len(relTypes))
	for _, rt := range relTypes {
		if rt == "" {
			return nil, fmt.Errorf("schema registry: empty relationship type")
		}
		if _, dup := rels[rt]; dup {
			return nil, fmt.Errorf("schema registry: duplicate relationship type %q", rt)
		}
		rels[rt] = struct{}{}
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("schema registry: no relationship types configured")
	}

	idx := make(map[Label][][]string, len(indexes))
	for label, props := range indexes {
		if _, ok := keys[label]; !ok {
			return nil, fmt.Errorf("schema registry: index on unregistered label %q", label)
		}
		for _, ps := range props {
			if len(ps) == 0 {
				return nil, fmt.Errorf("schema registry: empty index property list for %q", label)
			}
		}
		idx[label] = props
	}

	return &Registry{identityKeys: keys, relTypes: rels, indexes: idx}, nil
}

// IdentityKey returns the single merge-key property name configured for label.
func (r *Registry) IdentityKey(label Label) (string, error) {
	key, ok := r.identityKeys[label]
	if !ok {
		return "", &ErrUnknownLabel{Label: label}
	}
	return key, nil
}

func (r *Registry) ValidLabel(label Label) bool {
	_, ok := r.identityKeys[label]
	return ok
}

func (r *Registry) ValidRelType(t RelType) bool {
	_, ok := r.relTypes[t]
	return ok
}

// Labels returns the closed label set in stable order.
func (r *Registry) Labels() []Label {
	out := make([]Label, 0, len(r.identityKeys))
	for label := range r.identityKeys {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RelTypes returns the closed relationship-type set in stable order.
func (r *Registry) RelTypes() []RelType {
	out := make([]RelType, 0, len(r.relTypes))
	for rt := range r.relTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Indexes returns the secondary index property lists for label.
func (r *Registry) Indexes(label Label) [][]string {
	return r.indexes[label]
}

type registryFile struct {
	Labels []struct {
		Label       string     `yaml:"label"`
		IdentityKey string     `yaml:"identity_key"`
		Indexes     [][]string `yaml:"indexes"`
	} `yaml:"labels"`
	RelTypes []string `yaml:"rel_types"`
}

// LoadRegistry builds a registry from a YAML schema table. The table is
// validated once here, at startup, so a misconfigured label fails the process
// instead of surfacing later as a runtime string mismatch.
func LoadRegistry(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("schema registry: parse yaml: %w", err)
	}

	keys := make(map[Label]string, len(file.Labels))
	indexes := make(map[Label][][]string)
	for _, entry := range file.Labels {
		label := Label(entry.Label)
		if _, dup := keys[label]; dup {
			return nil, fmt.Errorf("schema registry: duplicate label %q", entry.Label)
		}
		keys[label] = entry.IdentityKey
		if len(entry.Indexes) > 0 {
			indexes[label] = entry.Indexes
		}
	}

	rels := make([]RelType, 0, len(file.RelTypes))
	for _, rt := range file.RelTypes {
		rels = append(rels, RelType(rt))
	}

	return newRegistry(keys, rels, indexes)
}
