package engine

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// ConfirmMaterialOrder records the operator bypass on a material order node,
// letting it complete despite missing stock, then runs one integrity pass
// over its graph.
func (e *Engine) ConfirmMaterialOrder(ctx context.Context, nodeID string) (*Result, error) {
	n, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("flow: get node: %w", err)
	}
	if n == nil {
		return nil, flow.ErrNodeNotFound
	}
	if n.Type != flow.ActionMaterialOrder {
		return nil, fmt.Errorf("%w: %s is %s", flow.ErrNotMaterialOrder, nodeID, n.Type)
	}

	unlock, err := e.lockGraph(ctx, n.GraphID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock; a pass may have changed the flags meanwhile.
	if n, err = e.store.GetNode(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("flow: get node: %w", err)
	}
	if n == nil {
		return nil, flow.ErrNodeNotFound
	}
	if !n.State.OrderConfirmed {
		state := n.State
		state.OrderConfirmed = true
		if err := e.store.UpdateNodeState(ctx, nodeID, state); err != nil {
			return nil, fmt.Errorf("flow: confirm order: %w", err)
		}
		e.logger.Info().Str("graph_id", n.GraphID).Str("node_id", nodeID).Msg("material order confirmed")
	}

	return e.recompute(ctx, n.GraphID)
}
