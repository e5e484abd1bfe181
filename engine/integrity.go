package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/meikuraledutech/flow"
	"golang.org/x/sync/errgroup"
)

// Change is one node written by an integrity pass.
type Change struct {
	NodeID    string                `json:"node_id"`
	OldStatus flow.Status           `json:"old_status"`
	NewStatus flow.Status           `json:"new_status"`
	State     *flow.AutomationState `json:"automation_state,omitempty"`
}

// Result is the outcome of an integrity pass. Stable is true when nothing
// had to be written.
type Result struct {
	GraphID string   `json:"graph_id"`
	Changes []Change `json:"updated,omitempty"`
	Stable  bool     `json:"stable"`
}

// snapshot is everything a pass reads before deciding anything.
type snapshot struct {
	graph    *flow.Graph
	topo     *topology
	project  *flow.Project
	quotes   []flow.Quote
	invoices []flow.Invoice
	articles map[string]flow.Article
}

// decision is the evaluated target state of one node.
type decision struct {
	node   flow.Node
	status flow.Status
	state  flow.AutomationState
	notify *flow.Notification
	err    error
}

// evaluator decides a node whose parents are all done.
type evaluator func(e *Engine, ctx context.Context, s *snapshot, n flow.Node) (decision, error)

// evaluators has an entry for every flow.ActionType.
var evaluators = map[flow.ActionType]evaluator{
	flow.ActionLaunch:        keepStatus,
	flow.ActionQuote:         (*Engine).evalQuote,
	flow.ActionInvoice:       (*Engine).evalInvoice,
	flow.ActionClientChoice:  (*Engine).evalClientChoice,
	flow.ActionMaterialOrder: (*Engine).evalMaterialOrder,
	flow.ActionEmail:         (*Engine).evalEmail,
	flow.ActionCalendar:      keepStatus,
	flow.ActionManual:        keepStatus,
}

// Recompute runs an integrity pass over a graph: every node reachable from
// the launch node gets the status its parents and linked records call for.
// Repeating it without intervening changes yields a stable result.
func (e *Engine) Recompute(ctx context.Context, graphID string) (*Result, error) {
	unlock, err := e.lockGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.recompute(ctx, graphID)
}

func (e *Engine) recompute(ctx context.Context, graphID string) (*Result, error) {
	start := time.Now()
	defer func() { e.metrics.passDuration.Observe(time.Since(start).Seconds()) }()

	logger := e.logger.With().Str("graph_id", graphID).Logger()

	res, err := e.pass(ctx, graphID)
	switch {
	case err != nil:
		e.metrics.passes.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("integrity pass failed")
		return nil, err
	case res.Stable:
		e.metrics.passes.WithLabelValues("stable").Inc()
		logger.Debug().Msg("integrity pass stable")
	default:
		e.metrics.passes.WithLabelValues("updated").Inc()
		logger.Info().Int("count", len(res.Changes)).Msg("integrity pass updated nodes")
	}
	return res, nil
}

func (e *Engine) pass(ctx context.Context, graphID string) (*Result, error) {
	s, err := e.load(ctx, graphID)
	if err != nil {
		return nil, err
	}
	stable := &Result{GraphID: graphID, Stable: true}

	launch := s.graph.LaunchNode()
	if launch == nil {
		return nil, flow.ErrNoLaunchNode
	}
	if launch.Status != flow.StatusDone {
		return stable, nil
	}

	reach := s.topo.reachable(launch.ID)
	levels, cyclic := s.topo.levels(launch.ID, reach)
	if len(cyclic) > 0 {
		e.logger.Warn().Str("graph_id", graphID).Strs("node_ids", cyclic).Msg("graph has a cycle")
	}
	var order []string
	for _, level := range levels {
		order = append(order, level...)
	}
	order = append(order, cyclic...)

	// Each round guards against the statuses the previous round ended with,
	// starting from persisted state. Rounds repeat until nothing moves.
	working := make(map[string]flow.Node, len(order))
	for _, id := range order {
		working[id] = s.topo.nodes[id]
	}
	statuses := make(map[string]flow.Status, len(s.graph.Nodes))
	for _, n := range s.graph.Nodes {
		statuses[n.ID] = n.Status
	}
	notify := make(map[string]*flow.Notification)
	failed := make(map[string]bool)

	settled := false
	for round := 0; round <= len(order) && !settled; round++ {
		settled = true
		for _, d := range e.evalAll(ctx, s, statuses, working, order) {
			id := d.node.ID
			if d.err != nil {
				if !failed[id] {
					failed[id] = true
					e.metrics.evalErrors.Inc()
					e.logger.Warn().Err(d.err).Str("graph_id", graphID).Str("node_id", id).Msg("skipping node")
				}
				continue
			}
			if d.notify != nil {
				notify[id] = d.notify
			}
			if d.status != d.node.Status || d.state != d.node.State {
				settled = false
				n := working[id]
				n.Status, n.State = d.status, d.state
				working[id] = n
			}
		}
		for id, n := range working {
			statuses[id] = n.Status
		}
	}
	if !settled {
		e.logger.Warn().Str("graph_id", graphID).Msg("integrity pass did not settle")
	}

	var decisions []decision
	for _, id := range order {
		orig, n := s.topo.nodes[id], working[id]
		if orig.Status == n.Status && orig.State == n.State && notify[id] == nil {
			continue
		}
		decisions = append(decisions, decision{node: orig, status: n.Status, state: n.State, notify: notify[id]})
	}

	changes, err := e.apply(ctx, graphID, decisions)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return stable, nil
	}
	return &Result{GraphID: graphID, Changes: changes}, nil
}

// load is the pass's bulk read. Any failure aborts the pass before a write.
func (e *Engine) load(ctx context.Context, graphID string) (*snapshot, error) {
	g, err := e.store.GetGraph(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("flow: load graph: %w", err)
	}
	if g == nil {
		return nil, flow.ErrGraphNotFound
	}
	s := &snapshot{graph: g, topo: newTopology(g)}

	if s.project, err = e.store.GetProject(ctx, g.ProjectID); err != nil {
		return nil, fmt.Errorf("flow: load project: %w", err)
	}
	if s.quotes, err = e.store.ListQuotes(ctx, g.ProjectID); err != nil {
		return nil, fmt.Errorf("flow: load quotes: %w", err)
	}
	if s.invoices, err = e.store.ListInvoices(ctx, g.ProjectID); err != nil {
		return nil, fmt.Errorf("flow: load invoices: %w", err)
	}
	if s.articles, err = e.store.GetArticles(ctx, articleIDs(s.quotes...)); err != nil {
		return nil, fmt.Errorf("flow: load articles: %w", err)
	}
	return s, nil
}

// evalAll evaluates one round in parallel. statuses and working are only read.
func (e *Engine) evalAll(ctx context.Context, s *snapshot, statuses map[string]flow.Status, working map[string]flow.Node, ids []string) []decision {
	out := make([]decision, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = e.evaluate(gctx, s, statuses, working[id])
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// evaluate applies the ancestry guard, then the node's type evaluator.
func (e *Engine) evaluate(ctx context.Context, s *snapshot, statuses map[string]flow.Status, n flow.Node) decision {
	for _, p := range s.topo.parents[n.ID] {
		if statuses[p] != flow.StatusDone {
			return demote(n)
		}
	}

	ev, ok := evaluators[n.Type]
	if !ok {
		ev = keepStatus
	}
	d, err := ev(e, ctx, s, n)
	if err != nil {
		return decision{node: n, err: err}
	}
	return d
}

// apply inserts notifications, then writes every status and flag change in one batch.
func (e *Engine) apply(ctx context.Context, graphID string, decisions []decision) ([]Change, error) {
	var (
		updates []flow.NodeUpdate
		changes []Change
	)
	for _, d := range decisions {
		if d.notify != nil {
			if err := e.notifier.InsertNotification(ctx, d.notify); err != nil {
				e.metrics.notifications.WithLabelValues("failed").Inc()
				e.logger.Error().Err(err).Str("graph_id", graphID).Str("node_id", d.node.ID).Msg("insert shortfall notification")
				// Leave the flag unset so the next pass retries.
				d.state.NotificationSent = d.node.State.NotificationSent
			} else {
				e.metrics.notifications.WithLabelValues("sent").Inc()
			}
		}

		statusChanged := d.status != d.node.Status
		stateChanged := d.state != d.node.State
		if !statusChanged && !stateChanged {
			continue
		}

		u := flow.NodeUpdate{NodeID: d.node.ID}
		c := Change{NodeID: d.node.ID, OldStatus: d.node.Status, NewStatus: d.status}
		if statusChanged {
			status := d.status
			u.Status = &status
		}
		if stateChanged {
			state := d.state
			u.State = &state
			c.State = &state
		}
		updates = append(updates, u)
		changes = append(changes, c)
	}

	if len(updates) == 0 {
		return nil, nil
	}
	if err := e.store.ApplyNodeUpdates(ctx, updates); err != nil {
		return nil, fmt.Errorf("flow: apply node updates: %w", err)
	}
	for _, c := range changes {
		if c.OldStatus != c.NewStatus {
			e.metrics.nodeUpdates.WithLabelValues(string(c.NewStatus)).Inc()
		}
		e.logger.Debug().Str("graph_id", graphID).Str("node_id", c.NodeID).
			Str("from", string(c.OldStatus)).Str("to", string(c.NewStatus)).Msg("node updated")
	}
	return changes, nil
}

// demote keeps a node out of done.
func demote(n flow.Node) decision {
	d := decision{node: n, status: n.Status, state: n.State}
	if n.Status == flow.StatusDone {
		d.status = flow.StatusPending
	}
	return d
}

// promote marks a valid node done and demotes an invalid one.
func promote(n flow.Node, valid bool) decision {
	if valid {
		return decision{node: n, status: flow.StatusDone, state: n.State}
	}
	return demote(n)
}

func keepStatus(_ *Engine, _ context.Context, _ *snapshot, n flow.Node) (decision, error) {
	return decision{node: n, status: n.Status, state: n.State}, nil
}

func (e *Engine) evalQuote(ctx context.Context, s *snapshot, n flow.Node) (decision, error) {
	valid, err := e.validQuoteNode(ctx, n, s.quotes)
	if err != nil {
		return decision{}, err
	}
	return promote(n, valid), nil
}

func (e *Engine) evalInvoice(_ context.Context, s *snapshot, n flow.Node) (decision, error) {
	for _, inv := range s.invoices {
		if inv.Status == flow.InvoicePaid {
			return promote(n, true), nil
		}
	}
	return promote(n, false), nil
}

func (e *Engine) evalClientChoice(ctx context.Context, s *snapshot, n flow.Node) (decision, error) {
	q, err := e.resolveQuote(ctx, s.topo, n, s.quotes)
	if err != nil {
		return decision{}, err
	}
	return promote(n, q != nil && len(q.Lines) > 0 && clientChoiceStatuses[q.Status]), nil
}

func (e *Engine) evalMaterialOrder(ctx context.Context, s *snapshot, n flow.Node) (decision, error) {
	q, err := e.resolveQuote(ctx, s.topo, n, s.quotes)
	if err != nil {
		return decision{}, err
	}
	articles, err := e.fillArticles(ctx, q, s.articles)
	if err != nil {
		return decision{}, err
	}
	c := checkMaterialOrder(s.graph.ID, n, q, articles, s.project)
	return decision{node: n, status: c.status, state: c.state, notify: c.notify}, nil
}

func (e *Engine) evalEmail(_ context.Context, _ *snapshot, n flow.Node) (decision, error) {
	return promote(n, true), nil
}
