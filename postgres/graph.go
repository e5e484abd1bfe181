package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flow"
)

// CreateGraph saves a full graph (nodes + edges) in one transaction.
// Nodes/edges without IDs get auto-generated UUIDs.
// Edge refs (FromNodeRef/ToNodeRef) are resolved to real node IDs.
// Returns the graph with all IDs filled in.
func (s *PGStore) CreateGraph(ctx context.Context, g *flow.Graph) (*flow.Graph, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	// Build ref → UUID mapping and assign IDs to nodes.
	refMap := make(map[string]string)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Ref != "" {
			refMap[n.Ref] = n.ID
		}
	}

	// Resolve edge refs and assign IDs to edges.
	for i := range g.Edges {
		e := &g.Edges[i]
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.FromNodeRef != "" {
			id, ok := refMap[e.FromNodeRef]
			if !ok {
				return nil, fmt.Errorf("flow: unknown from_node_ref %q", e.FromNodeRef)
			}
			e.FromNodeID = id
		}
		if e.ToNodeRef != "" {
			id, ok := refMap[e.ToNodeRef]
			if !ok {
				return nil, fmt.Errorf("flow: unknown to_node_ref %q", e.ToNodeRef)
			}
			e.ToNodeID = id
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Replace semantics: nodes and edges go with the graph row.
	if _, err := tx.Exec(ctx, `DELETE FROM flow_graphs WHERE id = $1`, g.ID); err != nil {
		return nil, fmt.Errorf("flow: delete graph: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO flow_graphs (id, project_id) VALUES ($1, $2)`, g.ID, g.ProjectID,
	); err != nil {
		return nil, fmt.Errorf("flow: insert graph: %w", err)
	}

	for i := range g.Nodes {
		if err := insertNode(ctx, tx, g.ID, &g.Nodes[i]); err != nil {
			return nil, err
		}
	}
	for i := range g.Edges {
		if err := insertEdge(ctx, tx, g.ID, &g.Edges[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("flow: commit: %w", err)
	}

	// Clear ref fields from response; they are not persisted.
	for i := range g.Nodes {
		g.Nodes[i].Ref = ""
	}
	for i := range g.Edges {
		g.Edges[i].FromNodeRef = ""
		g.Edges[i].ToNodeRef = ""
	}

	return g, nil
}

// GetGraph retrieves a full graph (nodes + edges) by its ID.
// Returns nil, nil if the graph doesn't exist.
func (s *PGStore) GetGraph(ctx context.Context, graphID string) (*flow.Graph, error) {
	g := &flow.Graph{ID: graphID}

	err := s.db.QueryRow(ctx,
		`SELECT project_id FROM flow_graphs WHERE id = $1`, graphID,
	).Scan(&g.ProjectID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get graph: %w", err)
	}

	if g.Nodes, err = s.ListNodes(ctx, graphID); err != nil {
		return nil, err
	}
	if g.Edges, err = s.ListEdges(ctx, graphID); err != nil {
		return nil, err
	}

	return g, nil
}

// DeleteGraph removes a graph with all its nodes and edges.
// No error if the graphID doesn't exist.
func (s *PGStore) DeleteGraph(ctx context.Context, graphID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM flow_graphs WHERE id = $1`, graphID); err != nil {
		return fmt.Errorf("flow: delete graph: %w", err)
	}
	return nil
}
