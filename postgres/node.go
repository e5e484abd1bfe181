package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/meikuraledutech/flow"
)

// execer is satisfied by *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const nodeColumns = `id, graph_id, action_type, status, label, config, notification_sent, order_confirmed, position_x, position_y`

// scanNode reads one row selected with nodeColumns.
func scanNode(row pgx.Row) (flow.Node, error) {
	var (
		n      flow.Node
		typ    string
		status string
		config []byte
	)
	err := row.Scan(&n.ID, &n.GraphID, &typ, &status, &n.Label, &config,
		&n.State.NotificationSent, &n.State.OrderConfirmed, &n.Position.X, &n.Position.Y)
	if err != nil {
		return n, err
	}
	n.Type = flow.ParseActionType(typ)
	n.Status = flow.Status(status)
	if len(config) > 0 {
		if err := json.Unmarshal(config, &n.Config); err != nil {
			return n, fmt.Errorf("flow: decode node %s config: %w", n.ID, err)
		}
	}
	return n, nil
}

// insertNode writes a node row. Empty status defaults to pending.
func insertNode(ctx context.Context, db execer, graphID string, n *flow.Node) error {
	config, err := json.Marshal(n.Config)
	if err != nil {
		return fmt.Errorf("flow: encode node config: %w", err)
	}
	if n.Status == "" {
		n.Status = flow.StatusPending
	}
	n.GraphID = graphID
	_, err = db.Exec(ctx,
		`INSERT INTO flow_nodes (id, graph_id, action_type, status, label, config, notification_sent, order_confirmed, position_x, position_y)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		n.ID, graphID, string(n.Type), string(n.Status), n.Label, config,
		n.State.NotificationSent, n.State.OrderConfirmed, n.Position.X, n.Position.Y,
	)
	if err != nil {
		return fmt.Errorf("flow: insert node %s: %w", n.ID, err)
	}
	return nil
}

// AddNode inserts a single node into a graph.
// If node.ID is empty, a UUID is auto-generated.
// Returns the node ID (generated or provided).
func (s *PGStore) AddNode(ctx context.Context, graphID string, node *flow.Node) (string, error) {
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.Ref = ""

	var exists bool
	if err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM flow_graphs WHERE id = $1)`, graphID,
	).Scan(&exists); err != nil {
		return "", fmt.Errorf("flow: find graph: %w", err)
	}
	if !exists {
		return "", flow.ErrGraphNotFound
	}

	if err := insertNode(ctx, s.db, graphID, node); err != nil {
		return "", err
	}
	return node.ID, nil
}

// GetNode fetches a single node by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetNode(ctx context.Context, nodeID string) (*flow.Node, error) {
	n, err := scanNode(s.db.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM flow_nodes WHERE id = $1`, nodeID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flow: get node: %w", err)
	}
	return &n, nil
}

// UpdateNode updates the editor-owned fields of an existing node:
// action type, label, config and position.
// Returns ErrNodeNotFound if the node doesn't exist.
func (s *PGStore) UpdateNode(ctx context.Context, node *flow.Node) error {
	config, err := json.Marshal(node.Config)
	if err != nil {
		return fmt.Errorf("flow: encode node config: %w", err)
	}
	ct, err := s.db.Exec(ctx,
		`UPDATE flow_nodes SET action_type = $1, label = $2, config = $3, position_x = $4, position_y = $5 WHERE id = $6`,
		string(node.Type), node.Label, config, node.Position.X, node.Position.Y, node.ID,
	)
	if err != nil {
		return fmt.Errorf("flow: update node: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flow.ErrNodeNotFound
	}
	return nil
}

// DeleteNode deletes a node by its ID.
// Associated edges are cascade-deleted by the DB.
// No error if the node doesn't exist.
func (s *PGStore) DeleteNode(ctx context.Context, nodeID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM flow_nodes WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("flow: delete node: %w", err)
	}
	return nil
}

// ListNodes returns all nodes for a graphID, ordered by created_at.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListNodes(ctx context.Context, graphID string) ([]flow.Node, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+nodeColumns+` FROM flow_nodes WHERE graph_id = $1 ORDER BY created_at, id`, graphID)
	if err != nil {
		return nil, fmt.Errorf("flow: list nodes: %w", err)
	}
	defer rows.Close()

	nodes := []flow.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("flow: scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flow: rows nodes: %w", err)
	}

	return nodes, nil
}

// UpdateNodeStatus sets the status of a node.
// Returns ErrNodeNotFound if the node doesn't exist.
func (s *PGStore) UpdateNodeStatus(ctx context.Context, nodeID string, status flow.Status) error {
	ct, err := s.db.Exec(ctx, `UPDATE flow_nodes SET status = $1 WHERE id = $2`, string(status), nodeID)
	if err != nil {
		return fmt.Errorf("flow: update node status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flow.ErrNodeNotFound
	}
	return nil
}

// UpdateNodeState sets the automation flags of a node.
// Returns ErrNodeNotFound if the node doesn't exist.
func (s *PGStore) UpdateNodeState(ctx context.Context, nodeID string, state flow.AutomationState) error {
	ct, err := s.db.Exec(ctx,
		`UPDATE flow_nodes SET notification_sent = $1, order_confirmed = $2 WHERE id = $3`,
		state.NotificationSent, state.OrderConfirmed, nodeID)
	if err != nil {
		return fmt.Errorf("flow: update node state: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return flow.ErrNodeNotFound
	}
	return nil
}

// ApplyNodeUpdates writes a batch of engine updates in one transaction.
func (s *PGStore) ApplyNodeUpdates(ctx context.Context, updates []flow.NodeUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("flow: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range updates {
		switch {
		case u.Status != nil && u.State != nil:
			batch.Queue(`UPDATE flow_nodes SET status = $1, notification_sent = $2, order_confirmed = $3 WHERE id = $4`,
				string(*u.Status), u.State.NotificationSent, u.State.OrderConfirmed, u.NodeID)
		case u.Status != nil:
			batch.Queue(`UPDATE flow_nodes SET status = $1 WHERE id = $2`, string(*u.Status), u.NodeID)
		case u.State != nil:
			batch.Queue(`UPDATE flow_nodes SET notification_sent = $1, order_confirmed = $2 WHERE id = $3`,
				u.State.NotificationSent, u.State.OrderConfirmed, u.NodeID)
		default:
			batch.Queue(`SELECT 1 FROM flow_nodes WHERE id = $1`, u.NodeID)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for _, u := range updates {
		ct, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("flow: apply update %s: %w", u.NodeID, err)
		}
		if ct.RowsAffected() == 0 {
			br.Close()
			return fmt.Errorf("%w: %s", flow.ErrNodeNotFound, u.NodeID)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("flow: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("flow: commit: %w", err)
	}
	return nil
}
