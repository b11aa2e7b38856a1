package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/dovira/amlgraph-backend/internal/domain"
	"github.com/dovira/amlgraph-backend/internal/platform/logger"
	"github.com/dovira/amlgraph-backend/internal/platform/neo4jdb"
)

// Reader serves the read endpoints. It never writes.
type Reader struct {
	client   *neo4jdb.Client
	registry *domain.Registry
	log      *logger.Logger
}

func NewReader(client *neo4jdb.Client, reg *domain.Registry, log *logger.Logger) *Reader {
	return &Reader{client: client, registry: reg, log: log.With("client", "GraphReader")}
}

type PersonHit struct {
	RNOKPP    string `json:"rnokpp"`
	LastName  string `json:"last_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Patronym  string `json:"patronym,omitempty"`
	DateBirth string `json:"date_birth,omitempty"`
}

type OrgLink struct {
	EDRPOU  string `json:"edrpou"`
	Name    string `json:"name,omitempty"`
	RelType string `json:"rel_type"`
}

type PersonProfile struct {
	Person        map[string]any   `json:"person"`
	Properties    []map[string]any `json:"properties"`
	Organizations []OrgLink        `json:"organizations"`
}

func (r *Reader) newSession(ctx context.Context) neo4j.SessionWithContext {
	return r.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: r.client.Database,
	})
}

// CountNodesByLabel returns the node count for one registered label.
func (r *Reader) CountNodesByLabel(ctx context.Context, label domain.Label) (int64, error) {
	if !r.registry.ValidLabel(label) {
		return 0, &domain.ErrUnknownLabel{Label: label}
	}

	session := r.newSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS c", label), nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, _ := record.Get("c")
		n, _ := v.(int64)
		return n, nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", label, err)
	}
	return out.(int64), nil
}

// CountNodes returns per-label node counts for every registered label.
func (r *Reader) CountNodes(ctx context.Context) (map[domain.Label]int64, error) {
	counts := make(map[domain.Label]int64, len(r.registry.Labels()))
	for _, label := range r.registry.Labels() {
		n, err := r.CountNodesByLabel(ctx, label)
		if err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, nil
}

// SearchPersonsByName matches on last_name (case-insensitive prefix).
func (r *Reader) SearchPersonsByName(ctx context.Context, lastName string, limit int) ([]PersonHit, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	session := r.newSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Person)
WHERE toLower(p.last_name) STARTS WITH toLower($last_name)
RETURN p.rnokpp AS rnokpp, p.last_name AS last_name, p.first_name AS first_name,
       p.patronym AS patronym, p.date_birth AS date_birth
ORDER BY p.last_name, p.first_name
LIMIT $limit
`, map[string]any{"last_name": lastName, "limit": limit})
		if err != nil {
			return nil, err
		}

		hits := make([]PersonHit, 0)
		for res.Next(ctx) {
			rec := res.Record()
			hits = append(hits, PersonHit{
				RNOKPP:    stringField(rec, "rnokpp"),
				LastName:  stringField(rec, "last_name"),
				FirstName: stringField(rec, "first_name"),
				Patronym:  stringField(rec, "patronym"),
				DateBirth: stringField(rec, "date_birth"),
			})
		}
		return hits, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	return out.([]PersonHit), nil
}

// LoadPersonProfile returns the person node with directly owned properties and
// organization links. A missing person returns (nil, nil).
func (r *Reader) LoadPersonProfile(ctx context.Context, rnokpp string) (*PersonProfile, error) {
	session := r.newSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Person {rnokpp: $rnokpp})
OPTIONAL MATCH (p)-[:OWNS]->(pr:Property)
OPTIONAL MATCH (p)-[d:DIRECTOR_OF|FOUNDER_OF]->(o:Organization)
RETURN properties(p) AS person,
       collect(DISTINCT properties(pr)) AS props,
       collect(DISTINCT {edrpou: o.edrpou, name: o.name, rel_type: type(d)}) AS orgs
`, map[string]any{"rnokpp": rnokpp})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, nil
		}

		personVal, _ := record.Get("person")
		person, ok := personVal.(map[string]any)
		if !ok || len(person) == 0 {
			return nil, nil
		}

		profile := &PersonProfile{Person: person}

		if propsVal, _ := record.Get("props"); propsVal != nil {
			for _, item := range propsVal.([]any) {
				if m, ok := item.(map[string]any); ok && len(m) > 0 {
					profile.Properties = append(profile.Properties, m)
				}
			}
		}
		if orgsVal, _ := record.Get("orgs"); orgsVal != nil {
			for _, item := range orgsVal.([]any) {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				edrpou, _ := m["edrpou"].(string)
				if edrpou == "" {
					continue
				}
				name, _ := m["name"].(string)
				relType, _ := m["rel_type"].(string)
				profile.Organizations = append(profile.Organizations, OrgLink{
					EDRPOU: edrpou, Name: name, RelType: relType,
				})
			}
		}
		return profile, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load person profile: %w", err)
	}
	profile, _ := out.(*PersonProfile)
	return profile, nil
}

func stringField(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}
