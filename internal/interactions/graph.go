// Package interactions mirrors strong phenotype correlations into Neo4j so
// that neighbourhood partners can be queried as a graph.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/minerva/colocmap/internal/models"
)

var ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")

type Relation string

const (
	RelationInteracts Relation = "INTERACTS"
	RelationAvoids    Relation = "AVOIDS"
)

// Edge is one phenotype pair whose coefficient passed the threshold.
type Edge struct {
	Source   models.Category `json:"source"`
	Target   models.Category `json:"target"`
	Rho      float64         `json:"rho"`
	Relation Relation        `json:"relation"`
}

// Edges picks the pairs with |rho| >= threshold from the upper triangle of m.
// The diagonal is never an edge. Results are ordered by strength.
func Edges(cats []models.Category, m models.CorrelationMatrix, threshold float64) ([]Edge, error) {
	if threshold <= 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if err := m.Validate(len(cats)); err != nil {
		return nil, err
	}

	var edges []Edge
	for i := range cats {
		for j := i + 1; j < len(cats); j++ {
			rho := m.At(i, j)
			switch {
			case rho >= threshold:
				edges = append(edges, Edge{Source: cats[i], Target: cats[j], Rho: rho, Relation: RelationInteracts})
			case rho <= -threshold:
				edges = append(edges, Edge{Source: cats[i], Target: cats[j], Rho: rho, Relation: RelationAvoids})
			}
		}
	}
	sort.SliceStable(edges, func(a, b int) bool {
		return math.Abs(edges[a].Rho) > math.Abs(edges[b].Rho)
	})
	return edges, nil
}

type Graph struct {
	driver neo4j.DriverWithContext
}

type Config struct {
	URI      string
	Username string
	Password string
}

func New(ctx context.Context, cfg Config) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verifying neo4j connectivity: %w", err)
	}

	g := &Graph{driver: driver}

	if err := g.createIndexes(ctx); err != nil {
		return nil, fmt.Errorf("creating indexes: %w", err)
	}

	return g, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) createIndexes(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS FOR (p:Phenotype) ON (p.dataset)",
		"CREATE INDEX IF NOT EXISTS FOR (p:Phenotype) ON (p.dataset, p.name)",
	}

	for _, idx := range indexes {
		_, err := session.Run(ctx, idx, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}

	return nil
}

// Sync replaces the dataset's subgraph with the edges that pass threshold
// and returns how many relationships were written.
func (g *Graph) Sync(ctx context.Context, datasetID uuid.UUID, cats []models.Category, m models.CorrelationMatrix, threshold float64) (int, error) {
	edges, err := Edges(cats, m, threshold)
	if err != nil {
		return 0, err
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	dataset := datasetID.String()
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (p:Phenotype {dataset: $dataset}) DETACH DELETE p`,
			map[string]any{"dataset": dataset}); err != nil {
			return nil, fmt.Errorf("clearing dataset: %w", err)
		}

		if _, err := tx.Run(ctx, `
			UNWIND $names AS name
			CREATE (:Phenotype {dataset: $dataset, name: name})
		`, map[string]any{
			"dataset": dataset,
			"names":   models.CategoryNames(cats),
		}); err != nil {
			return nil, fmt.Errorf("creating phenotypes: %w", err)
		}

		for _, rel := range []Relation{RelationInteracts, RelationAvoids} {
			rows := edgeParams(edges, rel)
			if len(rows) == 0 {
				continue
			}
			// Relationship types cannot be parameterised.
			query := `
				UNWIND $edges AS e
				MATCH (a:Phenotype {dataset: $dataset, name: e.source})
				MATCH (b:Phenotype {dataset: $dataset, name: e.target})
				CREATE (a)-[:` + string(rel) + ` {rho: e.rho}]->(b)
			`
			if _, err := tx.Run(ctx, query, map[string]any{
				"dataset": dataset,
				"edges":   rows,
			}); err != nil {
				return nil, fmt.Errorf("creating %s edges: %w", rel, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, err
	}

	return len(edges), nil
}

func edgeParams(edges []Edge, rel Relation) []map[string]any {
	var rows []map[string]any
	for _, e := range edges {
		if e.Relation != rel {
			continue
		}
		rows = append(rows, map[string]any{
			"source": string(e.Source),
			"target": string(e.Target),
			"rho":    e.Rho,
		})
	}
	return rows
}

// Partner is a phenotype connected to the queried one.
type Partner struct {
	Name     string   `json:"name"`
	Rho      float64  `json:"rho"`
	Relation Relation `json:"relation"`
}

// Partners returns the strongest neighbours of phenotype in either direction.
func (g *Graph) Partners(ctx context.Context, datasetID uuid.UUID, phenotype string, limit int) ([]Partner, error) {
	if limit <= 0 {
		limit = 10
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (p:Phenotype {dataset: $dataset, name: $name})-[r:INTERACTS|AVOIDS]-(o:Phenotype)
		RETURN o.name as partner,
			   r.rho as rho,
			   type(r) as relation
		ORDER BY abs(r.rho) DESC, partner ASC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]any{
		"dataset": datasetID.String(),
		"name":    phenotype,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	var partners []Partner
	for result.Next(ctx) {
		record := result.Record()
		name, _ := record.Get("partner")
		rho, _ := record.Get("rho")
		relation, _ := record.Get("relation")

		p := Partner{Relation: Relation(fmt.Sprint(relation))}
		if s, ok := name.(string); ok {
			p.Name = s
		}
		if f, ok := rho.(float64); ok {
			p.Rho = f
		}
		partners = append(partners, p)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reading partners: %w", err)
	}

	return partners, nil
}
