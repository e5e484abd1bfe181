package engine

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
	"github.com/rs/zerolog"
)

// Step is one successor visited by a cascade.
type Step struct {
	NodeID  string          `json:"node_id"`
	Type    flow.ActionType `json:"action_type"`
	Status  flow.Status     `json:"status,omitempty"`
	Blocked bool            `json:"blocked,omitempty"`
	Message string          `json:"message"`
}

// CascadeResult reports what a cascade did.
type CascadeResult struct {
	GraphID string `json:"graph_id"`
	NodeID  string `json:"node_id"`
	Steps   []Step `json:"steps"`
	Summary string `json:"summary"`
}

// cascadeRun is the state of one OnNodeCompleted call.
type cascadeRun struct {
	graph   *flow.Graph
	topo    *topology
	project *flow.Project
	visited map[string]bool
	steps   []Step
	logger  zerolog.Logger
}

// CompleteNode marks a node done on behalf of an operator and cascades
// from it.
func (e *Engine) CompleteNode(ctx context.Context, nodeID string) (*CascadeResult, error) {
	n, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("flow: get node: %w", err)
	}
	if n == nil {
		return nil, flow.ErrNodeNotFound
	}

	unlock, err := e.lockGraph(ctx, n.GraphID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if n, err = e.store.GetNode(ctx, nodeID); err != nil {
		return nil, fmt.Errorf("flow: get node: %w", err)
	}
	if n == nil {
		return nil, flow.ErrNodeNotFound
	}
	if n.Status != flow.StatusDone {
		if err := e.store.UpdateNodeStatus(ctx, nodeID, flow.StatusDone); err != nil {
			return nil, fmt.Errorf("flow: complete node: %w", err)
		}
	}
	return e.onNodeCompleted(ctx, n.GraphID, nodeID)
}

// OnNodeCompleted walks forward from a node that was just set to done.
// Successors are handled one at a time in edge order; a successor that ends
// done is walked in turn, one that ends waiting or error stops the walk on
// its branch.
func (e *Engine) OnNodeCompleted(ctx context.Context, graphID, nodeID string) (*CascadeResult, error) {
	unlock, err := e.lockGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.onNodeCompleted(ctx, graphID, nodeID)
}

func (e *Engine) onNodeCompleted(ctx context.Context, graphID, nodeID string) (*CascadeResult, error) {
	g, err := e.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("flow: load graph: %w", err)
	}
	if g == nil {
		return nil, flow.ErrGraphNotFound
	}
	start := g.Node(nodeID)
	if start == nil {
		return nil, flow.ErrNodeNotFound
	}
	if start.Status != flow.StatusDone {
		return nil, fmt.Errorf("%w: %s is %s", flow.ErrNodeNotDone, nodeID, start.Status)
	}

	project, err := e.store.GetProject(ctx, g.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("flow: load project: %w", err)
	}

	run := &cascadeRun{
		graph:   g,
		topo:    newTopology(g),
		project: project,
		visited: map[string]bool{nodeID: true},
		logger:  e.logger.With().Str("graph_id", graphID).Logger(),
	}
	if err := e.walk(ctx, run, nodeID); err != nil {
		return nil, err
	}

	res := &CascadeResult{
		GraphID: graphID,
		NodeID:  nodeID,
		Steps:   run.steps,
		Summary: summarize(run.steps),
	}
	run.logger.Info().Str("node_id", nodeID).Int("steps", len(run.steps)).Msg(res.Summary)
	return res, nil
}

// walk handles the direct successors of id.
func (e *Engine) walk(ctx context.Context, run *cascadeRun, id string) error {
	for _, succ := range run.topo.children[id] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if run.visited[succ] {
			run.logger.Warn().Str("node_id", succ).Str("from", id).Msg("node already handled in this cascade, possible cycle")
			continue
		}

		// Re-read so this step sees what earlier steps committed.
		n, err := e.store.GetNode(ctx, succ)
		if err != nil {
			run.logger.Error().Err(err).Str("node_id", succ).Msg("read successor")
			run.steps = append(run.steps, Step{NodeID: succ, Type: run.topo.nodes[succ].Type, Message: err.Error()})
			continue
		}
		if n == nil {
			continue
		}

		blocked, err := e.blockedBy(ctx, run, succ)
		if err != nil {
			run.logger.Error().Err(err).Str("node_id", succ).Msg("read parents")
			run.steps = append(run.steps, Step{NodeID: succ, Type: n.Type, Message: err.Error()})
			continue
		}
		if blocked != "" {
			run.steps = append(run.steps, Step{
				NodeID:  succ,
				Type:    n.Type,
				Blocked: true,
				Message: fmt.Sprintf("waiting for parent %s", blocked),
			})
			continue
		}
		run.visited[succ] = true

		h, ok := handlers[n.Type]
		if !ok {
			h = (*Engine).handleManual
		}
		status, msg := h(e, ctx, run, *n)

		if status != n.Status {
			if err := e.store.UpdateNodeStatus(ctx, succ, status); err != nil {
				return fmt.Errorf("flow: update node %s: %w", succ, err)
			}
		}
		e.metrics.cascadeSteps.WithLabelValues(string(n.Type), string(status)).Inc()
		run.logger.Debug().Str("node_id", succ).Str("action_type", string(n.Type)).
			Str("status", string(status)).Msg(msg)
		run.steps = append(run.steps, Step{NodeID: succ, Type: n.Type, Status: status, Message: msg})

		if status != flow.StatusDone {
			continue
		}
		if err := e.pace(ctx); err != nil {
			return err
		}
		if err := e.walk(ctx, run, succ); err != nil {
			return err
		}
	}
	return nil
}

// blockedBy returns the id of a parent of id that is not done, or "".
func (e *Engine) blockedBy(ctx context.Context, run *cascadeRun, id string) (string, error) {
	for _, p := range run.topo.parents[id] {
		n, err := e.store.GetNode(ctx, p)
		if err != nil {
			return "", err
		}
		if n != nil && n.Status != flow.StatusDone {
			return p, nil
		}
	}
	return "", nil
}

func summarize(steps []Step) string {
	if len(steps) == 0 {
		return "no successors, end of chain"
	}
	var done, waiting, failed, blocked int
	for _, s := range steps {
		switch {
		case s.Blocked:
			blocked++
		case s.Status == flow.StatusDone:
			done++
		case s.Status == flow.StatusWaiting:
			waiting++
		default:
			failed++
		}
	}
	return fmt.Sprintf("%d step(s): %d done, %d waiting, %d error, %d blocked",
		len(steps), done, waiting, failed, blocked)
}
