package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flow"
)

// insertEdge writes an edge row.
func insertEdge(ctx context.Context, db execer, graphID string, e *flow.Edge) error {
	e.GraphID = graphID
	_, err := db.Exec(ctx,
		`INSERT INTO flow_edges (id, graph_id, from_node_id, to_node_id) VALUES ($1, $2, $3, $4)`,
		e.ID, graphID, e.FromNodeID, e.ToNodeID,
	)
	if err != nil {
		return fmt.Errorf("flow: insert edge %s: %w", e.ID, err)
	}
	return nil
}

// AddEdge inserts a single edge into a graph.
// If edge.ID is empty, a UUID is auto-generated.
// Both endpoints must be nodes of the graph.
// Returns the edge ID (generated or provided).
func (s *PGStore) AddEdge(ctx context.Context, graphID string, edge *flow.Edge) (string, error) {
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}

	var n int
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM flow_nodes WHERE graph_id = $1 AND id IN ($2, $3)`,
		graphID, edge.FromNodeID, edge.ToNodeID,
	).Scan(&n); err != nil {
		return "", fmt.Errorf("flow: find edge nodes: %w", err)
	}
	want := 2
	if edge.FromNodeID == edge.ToNodeID {
		want = 1
	}
	if n != want {
		return "", flow.ErrNodeNotFound
	}

	if err := insertEdge(ctx, s.db, graphID, edge); err != nil {
		return "", err
	}
	return edge.ID, nil
}

// GetEdge fetches a single edge by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetEdge(ctx context.Context, edgeID string) (*flow.Edge, error) {
	var e flow.Edge
	err := s.db.QueryRow(ctx,
		`SELECT id, graph_id, from_node_id, to_node_id FROM flow_edges WHERE id = $1`, edgeID,
	).Scan(&e.ID, &e.GraphID, &e.FromNodeID, &e.ToNodeID)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get edge: %w", err)
	}

	return &e, nil
}

// DeleteEdge deletes an edge by its ID.
// No error if the edge doesn't exist.
func (s *PGStore) DeleteEdge(ctx context.Context, edgeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM flow_edges WHERE id = $1`, edgeID)
	if err != nil {
		return fmt.Errorf("flow: delete edge: %w", err)
	}
	return nil
}

// ListEdges returns all edges for a graphID, ordered by created_at.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListEdges(ctx context.Context, graphID string) ([]flow.Edge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, graph_id, from_node_id, to_node_id FROM flow_edges WHERE graph_id = $1 ORDER BY created_at, id`, graphID)
	if err != nil {
		return nil, fmt.Errorf("flow: list edges: %w", err)
	}
	defer rows.Close()

	edges := []flow.Edge{}
	for rows.Next() {
		var e flow.Edge
		if err := rows.Scan(&e.ID, &e.GraphID, &e.FromNodeID, &e.ToNodeID); err != nil {
			return nil, fmt.Errorf("flow: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows edges: %w", err)
	}

	return edges, nil
}
