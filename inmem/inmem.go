// Package inmem implements the flow stores using mutex-guarded maps.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flow"
)

// InMem is an in-memory flow.Store, flow.RecordWriter and notification sink.
type InMem struct {
	mu sync.RWMutex

	// seq orders nodes and edges by insertion, like created_at in SQL.
	seq int64

	graphs map[string]string // graph id -> project id
	nodes  map[string]nodeRow
	edges  map[string]edgeRow

	projects      map[string]flow.Project
	quotes        map[string]flow.Quote
	invoices      map[string]flow.Invoice
	articles      map[string]flow.Article
	notifications []flow.Notification
}

type nodeRow struct {
	seq  int64
	node flow.Node
}

type edgeRow struct {
	seq  int64
	edge flow.Edge
}

// New creates an empty store.
func New() *InMem {
	s := &InMem{}
	s.reset()
	return s
}

func (s *InMem) reset() {
	s.graphs = make(map[string]string)
	s.nodes = make(map[string]nodeRow)
	s.edges = make(map[string]edgeRow)
	s.projects = make(map[string]flow.Project)
	s.quotes = make(map[string]flow.Quote)
	s.invoices = make(map[string]flow.Invoice)
	s.articles = make(map[string]flow.Article)
	s.notifications = nil
}

func (s *InMem) next() int64 {
	s.seq++
	return s.seq
}

// CreateSchema is a no-op.
func (s *InMem) CreateSchema(ctx context.Context) error { return nil }

// DropSchema discards all data.
func (s *InMem) DropSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// CreateGraph saves a full graph with replace semantics.
func (s *InMem) CreateGraph(ctx context.Context, g *flow.Graph) (*flow.Graph, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteGraph(g.ID)
	s.graphs[g.ID] = g.ProjectID
	for i := range g.Nodes {
		n := &g.Nodes[i]
		n.Ref = ""
		n.GraphID = g.ID
		if n.Status == "" {
			n.Status = flow.StatusPending
		}
		s.nodes[n.ID] = nodeRow{seq: s.next(), node: *n}
	}
	for i := range g.Edges {
		e := &g.Edges[i]
		e.FromNodeRef, e.ToNodeRef = "", ""
		e.GraphID = g.ID
		s.edges[e.ID] = edgeRow{seq: s.next(), edge: *e}
	}
	return g, nil
}

// GetGraph returns nil, nil if the graph does not exist.
func (s *InMem) GetGraph(ctx context.Context, graphID string) (*flow.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projectID, ok := s.graphs[graphID]
	if !ok {
		return nil, nil
	}
	return &flow.Graph{
		ID:        graphID,
		ProjectID: projectID,
		Nodes:     s.listNodes(graphID),
		Edges:     s.listEdges(graphID),
	}, nil
}

// DeleteGraph removes a graph with its nodes and edges.
func (s *InMem) DeleteGraph(ctx context.Context, graphID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteGraph(graphID)
	return nil
}

func (s *InMem) deleteGraph(graphID string) {
	for id, r := range s.edges {
		if r.edge.GraphID == graphID {
			delete(s.edges, id)
		}
	}
	for id, r := range s.nodes {
		if r.node.GraphID == graphID {
			delete(s.nodes, id)
		}
	}
	delete(s.graphs, graphID)
}

// AddNode inserts a node into an existing graph.
func (s *InMem) AddNode(ctx context.Context, graphID string, node *flow.Node) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[graphID]; !ok {
		return "", flow.ErrGraphNotFound
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.GraphID = graphID
	node.Ref = ""
	if node.Status == "" {
		node.Status = flow.StatusPending
	}
	s.nodes[node.ID] = nodeRow{seq: s.next(), node: *node}
	return node.ID, nil
}

// GetNode returns nil, nil if not found.
func (s *InMem) GetNode(ctx context.Context, nodeID string) (*flow.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	n := r.node
	return &n, nil
}

// UpdateNode updates the editor-owned fields of a node.
func (s *InMem) UpdateNode(ctx context.Context, node *flow.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.nodes[node.ID]
	if !ok {
		return flow.ErrNodeNotFound
	}
	r.node.Type = node.Type
	r.node.Label = node.Label
	r.node.Config = node.Config
	r.node.Position = node.Position
	s.nodes[node.ID] = r
	return nil
}

// DeleteNode deletes a node and the edges touching it.
func (s *InMem) DeleteNode(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, nodeID)
	for id, r := range s.edges {
		if r.edge.FromNodeID == nodeID || r.edge.ToNodeID == nodeID {
			delete(s.edges, id)
		}
	}
	return nil
}

// ListNodes returns the graph's nodes in insertion order.
func (s *InMem) ListNodes(ctx context.Context, graphID string) ([]flow.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listNodes(graphID), nil
}

func (s *InMem) listNodes(graphID string) []flow.Node {
	rows := []nodeRow{}
	for _, r := range s.nodes {
		if r.node.GraphID == graphID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	nodes := make([]flow.Node, 0, len(rows))
	for _, r := range rows {
		nodes = append(nodes, r.node)
	}
	return nodes
}

// AddEdge inserts an edge between two nodes of the graph.
func (s *InMem) AddEdge(ctx context.Context, graphID string, edge *flow.Edge) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.graphs[graphID]; !ok {
		return "", flow.ErrGraphNotFound
	}
	for _, id := range []string{edge.FromNodeID, edge.ToNodeID} {
		if r, ok := s.nodes[id]; !ok || r.node.GraphID != graphID {
			return "", fmt.Errorf("%w: %s", flow.ErrNodeNotFound, id)
		}
	}
	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	edge.GraphID = graphID
	s.edges[edge.ID] = edgeRow{seq: s.next(), edge: *edge}
	return edge.ID, nil
}

// GetEdge returns nil, nil if not found.
func (s *InMem) GetEdge(ctx context.Context, edgeID string) (*flow.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.edges[edgeID]
	if !ok {
		return nil, nil
	}
	e := r.edge
	return &e, nil
}

// DeleteEdge deletes an edge. No error if it doesn't exist.
func (s *InMem) DeleteEdge(ctx context.Context, edgeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeID)
	return nil
}

// ListEdges returns the graph's edges in insertion order.
func (s *InMem) ListEdges(ctx context.Context, graphID string) ([]flow.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listEdges(graphID), nil
}

func (s *InMem) listEdges(graphID string) []flow.Edge {
	rows := []edgeRow{}
	for _, r := range s.edges {
		if r.edge.GraphID == graphID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	edges := make([]flow.Edge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, r.edge)
	}
	return edges
}

// UpdateNodeStatus sets a node's status.
func (s *InMem) UpdateNodeStatus(ctx context.Context, nodeID string, status flow.Status) error {
	return s.ApplyNodeUpdates(ctx, []flow.NodeUpdate{{NodeID: nodeID, Status: &status}})
}

// UpdateNodeState sets a node's automation flags.
func (s *InMem) UpdateNodeState(ctx context.Context, nodeID string, state flow.AutomationState) error {
	return s.ApplyNodeUpdates(ctx, []flow.NodeUpdate{{NodeID: nodeID, State: &state}})
}

// ApplyNodeUpdates applies all updates or none.
func (s *InMem) ApplyNodeUpdates(ctx context.Context, updates []flow.NodeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		if _, ok := s.nodes[u.NodeID]; !ok {
			return fmt.Errorf("%w: %s", flow.ErrNodeNotFound, u.NodeID)
		}
	}
	for _, u := range updates {
		r := s.nodes[u.NodeID]
		if u.Status != nil {
			r.node.Status = *u.Status
		}
		if u.State != nil {
			r.node.State = *u.State
		}
		s.nodes[u.NodeID] = r
	}
	return nil
}

// GetProject returns nil, nil if not found.
func (s *InMem) GetProject(ctx context.Context, projectID string) (*flow.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ListQuotes returns the project's quotes, most recent first.
func (s *InMem) ListQuotes(ctx context.Context, projectID string) ([]flow.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quotes := []flow.Quote{}
	for _, q := range s.quotes {
		if q.ProjectID == projectID {
			quotes = append(quotes, copyQuote(q))
		}
	}
	sort.Slice(quotes, func(i, j int) bool {
		if quotes[i].CreatedAt.Equal(quotes[j].CreatedAt) {
			return quotes[i].ID > quotes[j].ID
		}
		return quotes[i].CreatedAt.After(quotes[j].CreatedAt)
	})
	return quotes, nil
}

// GetQuote returns nil, nil if not found.
func (s *InMem) GetQuote(ctx context.Context, quoteID string) (*flow.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[quoteID]
	if !ok {
		return nil, nil
	}
	q = copyQuote(q)
	return &q, nil
}

// ListInvoices returns the project's invoices, most recent first.
func (s *InMem) ListInvoices(ctx context.Context, projectID string) ([]flow.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invoices := []flow.Invoice{}
	for _, inv := range s.invoices {
		if inv.ProjectID == projectID {
			inv.Lines = append([]flow.InvoiceLine(nil), inv.Lines...)
			invoices = append(invoices, inv)
		}
	}
	sort.Slice(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// GetArticles returns the articles found among ids.
func (s *InMem) GetArticles(ctx context.Context, ids []string) (map[string]flow.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]flow.Article, len(ids))
	for _, id := range ids {
		if a, ok := s.articles[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

// PutProject inserts or replaces a project.
func (s *InMem) PutProject(ctx context.Context, p *flow.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.projects[p.ID] = *p
	return nil
}

// PutQuote inserts or replaces a quote with its lines.
func (s *InMem) PutQuote(ctx context.Context, q *flow.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	s.quotes[q.ID] = copyQuote(*q)
	return nil
}

// PutInvoice inserts or replaces an invoice with its lines.
func (s *InMem) PutInvoice(ctx context.Context, inv *flow.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	c := *inv
	c.Lines = append([]flow.InvoiceLine(nil), inv.Lines...)
	s.invoices[inv.ID] = c
	return nil
}

// PutArticle inserts or replaces an article.
func (s *InMem) PutArticle(ctx context.Context, a *flow.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.articles[a.ID] = *a
	return nil
}

// InsertNotification stores a notification.
func (s *InMem) InsertNotification(ctx context.Context, n *flow.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Status == "" {
		n.Status = flow.NotificationUnread
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications = append(s.notifications, *n)
	return nil
}

// ListNotifications returns the notifications addressed to userID, oldest first.
func (s *InMem) ListNotifications(ctx context.Context, userID string) ([]flow.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []flow.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

// Notifications returns every stored notification, oldest first.
func (s *InMem) Notifications() []flow.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]flow.Notification(nil), s.notifications...)
}

func copyQuote(q flow.Quote) flow.Quote {
	q.Lines = append([]flow.QuoteLine(nil), q.Lines...)
	return q
}
