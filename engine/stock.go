package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meikuraledutech/flow"
)

// shortfall is a quote line that stock cannot serve.
type shortfall struct {
	ArticleID string  `json:"article_id"`
	Name      string  `json:"name"`
	Needed    float64 `json:"needed"`
	InStock   float64 `json:"in_stock"`
	Unit      string  `json:"unit,omitempty"`
}

// stockCheck is the decision for a material order node.
type stockCheck struct {
	status  flow.Status
	state   flow.AutomationState
	notify  *flow.Notification
	missing []shortfall
	message string
}

// articleIDs returns the distinct article ids referenced by the quotes' lines.
func articleIDs(quotes ...flow.Quote) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, q := range quotes {
		for _, l := range q.Lines {
			if l.ArticleID != "" && !seen[l.ArticleID] {
				seen[l.ArticleID] = true
				ids = append(ids, l.ArticleID)
			}
		}
	}
	return ids
}

// missingLines lists the lines whose article stock is below the quoted quantity.
// Free-text lines are not stock-checked; an unknown article has no stock.
func missingLines(q *flow.Quote, articles map[string]flow.Article) []shortfall {
	var missing []shortfall
	for _, l := range q.Lines {
		if l.ArticleID == "" {
			continue
		}
		a, ok := articles[l.ArticleID]
		if !ok {
			a = flow.Article{ID: l.ArticleID, Name: l.Description}
		}
		if a.Stock < l.Quantity {
			name := a.Name
			if name == "" {
				name = l.ArticleID
			}
			missing = append(missing, shortfall{
				ArticleID: l.ArticleID,
				Name:      name,
				Needed:    l.Quantity,
				InStock:   a.Stock,
				Unit:      a.Unit,
			})
		}
	}
	return missing
}

// checkMaterialOrder decides a material order node against its resolved quote
// and current stock. It has no side effects: a returned notify must be
// inserted by the caller before state.NotificationSent is persisted.
func checkMaterialOrder(graphID string, node flow.Node, q *flow.Quote, articles map[string]flow.Article, project *flow.Project) stockCheck {
	if q == nil || len(q.Lines) == 0 {
		return stockCheck{
			status:  flow.StatusWaiting,
			state:   node.State,
			message: "waiting for a quote with items",
		}
	}

	missing := missingLines(q, articles)
	switch {
	case len(missing) == 0:
		return stockCheck{
			status:  flow.StatusDone,
			state:   flow.AutomationState{},
			message: "all items in stock",
		}
	case node.State.OrderConfirmed:
		return stockCheck{
			status:  flow.StatusDone,
			state:   node.State,
			missing: missing,
			message: "order confirmed despite missing stock",
		}
	}

	c := stockCheck{
		status:  flow.StatusWaiting,
		state:   node.State,
		missing: missing,
		message: fmt.Sprintf("%d item(s) missing from stock", len(missing)),
	}
	if !node.State.NotificationSent {
		c.notify = shortfallNotification(graphID, node, q, missing, project)
		c.state.NotificationSent = true
	}
	return c
}

// shortfallNotification targets the quote creator, else the project owner,
// else everyone.
func shortfallNotification(graphID string, node flow.Node, q *flow.Quote, missing []shortfall, project *flow.Project) *flow.Notification {
	userID := q.CreatedBy
	if userID == "" && project != nil {
		userID = project.OwnerID
	}

	var b strings.Builder
	b.WriteString("Insufficient stock to order materials:")
	for _, m := range missing {
		fmt.Fprintf(&b, "\n- %s: need %s, have %s", m.Name, quantity(m.Needed, m.Unit), quantity(m.InStock, m.Unit))
	}

	data, _ := json.Marshal(struct {
		GraphID string      `json:"graph_id"`
		NodeID  string      `json:"node_id"`
		QuoteID string      `json:"quote_id"`
		Missing []shortfall `json:"missing"`
	}{graphID, node.ID, q.ID, missing})

	return &flow.Notification{
		UserID:  userID,
		Type:    flow.NotificationStockShortfall,
		Title:   "Material shortfall",
		Message: b.String(),
		Status:  flow.NotificationUnread,
		Data:    data,
	}
}

func quantity(v float64, unit string) string {
	s := fmt.Sprintf("%g", v)
	if unit != "" {
		s += " " + unit
	}
	return s
}

// fillArticles fetches articles referenced by q that are absent from known.
// known is not modified.
func (e *Engine) fillArticles(ctx context.Context, q *flow.Quote, known map[string]flow.Article) (map[string]flow.Article, error) {
	if q == nil {
		return known, nil
	}
	var absent []string
	for _, id := range articleIDs(*q) {
		if _, ok := known[id]; !ok {
			absent = append(absent, id)
		}
	}
	if len(absent) == 0 {
		return known, nil
	}
	fetched, err := e.store.GetArticles(ctx, absent)
	if err != nil {
		return nil, fmt.Errorf("flow: get articles: %w", err)
	}
	merged := make(map[string]flow.Article, len(known)+len(fetched))
	for k, v := range known {
		merged[k] = v
	}
	for k, v := range fetched {
		merged[k] = v
	}
	return merged, nil
}
