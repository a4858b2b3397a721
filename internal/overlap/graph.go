package overlap

import (
	"context"
	"fmt"
	"time"

	"contribledger/internal/models"
)

type GraphNode struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Contributor string         `json:"contributor"`
	Category    string         `json:"category,omitempty"`
	Status      models.Status  `json:"status"`
	Metals      []models.Metal `json:"metals"`
}

type GraphEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
	Band   Band    `json:"band"`
}

type Graph struct {
	Metric      string      `json:"metric"`
	GeneratedAt time.Time   `json:"generated_at"`
	Nodes       []GraphNode `json:"nodes"`
	Edges       []GraphEdge `json:"edges"`
}

// Graph builds the pairwise similarity graph of a snapshot. Only pairs at
// or above the related band become edges. The result is a derived view and
// can be regenerated at any time.
func (a *Analyzer) Graph(ctx context.Context, snapshot []models.Contribution) (Graph, error) {
	g := Graph{
		Metric:      a.sim.Name(),
		GeneratedAt: time.Now().UTC(),
		Nodes:       make([]GraphNode, 0, len(snapshot)),
		Edges:       []GraphEdge{},
	}
	for _, c := range snapshot {
		g.Nodes = append(g.Nodes, GraphNode{
			ID:          c.SubmissionID,
			Title:       c.Title,
			Contributor: c.Contributor,
			Category:    c.Category,
			Status:      c.Status,
			Metals:      append([]models.Metal{}, c.Metals...),
		})
	}
	for i := 0; i+1 < len(snapshot); i++ {
		if err := ctx.Err(); err != nil {
			return Graph{}, err
		}
		rest := snapshot[i+1:]
		scores, err := a.sim.Scores(ctx, snapshot[i], rest)
		if err != nil {
			return Graph{}, fmt.Errorf("graph row %s: %w", snapshot[i].SubmissionID, err)
		}
		for j, s := range scores {
			band := a.bands.Classify(s)
			if band == BandUnrelated {
				continue
			}
			g.Edges = append(g.Edges, GraphEdge{Source: snapshot[i].SubmissionID, Target: rest[j].SubmissionID, Weight: s, Band: band})
		}
	}
	return g, nil
}
