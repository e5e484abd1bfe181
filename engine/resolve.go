package engine

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flow"
)

// Quote statuses accepted by each node type.
var (
	quoteNodeStatuses = map[flow.QuoteStatus]bool{
		flow.QuotePendingApproval: true,
		flow.QuoteSigned:          true,
		flow.QuoteApproved:        true,
	}
	clientChoiceStatuses = map[flow.QuoteStatus]bool{
		flow.QuotePending:         true,
		flow.QuotePendingApproval: true,
		flow.QuoteSigned:          true,
		flow.QuoteApproved:        true,
	}
)

// quoteByID looks id up in the loaded project quotes, then in the store.
// A quote that doesn't exist resolves to nil.
func (e *Engine) quoteByID(ctx context.Context, id string, quotes []flow.Quote) (*flow.Quote, error) {
	for i := range quotes {
		if quotes[i].ID == id {
			return &quotes[i], nil
		}
	}
	q, err := e.store.GetQuote(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("flow: get quote %s: %w", id, err)
	}
	return q, nil
}

// resolveQuote finds the quote a client_choice or material_order node works
// on: the node's own link, else the link of its nearest quote ancestor, else
// the most recent project quote.
func (e *Engine) resolveQuote(ctx context.Context, t *topology, node flow.Node, quotes []flow.Quote) (*flow.Quote, error) {
	id := node.Config.QuoteID
	if id == "" {
		if anc := t.nearestQuoteAncestor(node.ID); anc != nil {
			id = anc.Config.QuoteID
		}
	}
	if id != "" {
		return e.quoteByID(ctx, id, quotes)
	}
	if len(quotes) == 0 {
		return nil, nil
	}
	return &quotes[0], nil
}

// validQuoteNode reports whether a quote node is satisfied: its explicit
// quote, or any project quote, is accepted and has items.
func (e *Engine) validQuoteNode(ctx context.Context, node flow.Node, quotes []flow.Quote) (bool, error) {
	accepted := func(q *flow.Quote) bool {
		return q != nil && quoteNodeStatuses[q.Status] && len(q.Lines) > 0
	}
	if id := node.Config.QuoteID; id != "" {
		q, err := e.quoteByID(ctx, id, quotes)
		if err != nil {
			return false, err
		}
		return accepted(q), nil
	}
	for i := range quotes {
		if accepted(&quotes[i]) {
			return true, nil
		}
	}
	return false, nil
}
