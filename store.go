package flow

import (
	"context"
	"errors"
)

var (
	ErrCycleDetected    = errors.New("flow: cycle detected, graph is not acyclic")
	ErrGraphNotFound    = errors.New("flow: graph not found")
	ErrNodeNotFound     = errors.New("flow: node not found")
	ErrEdgeNotFound     = errors.New("flow: edge not found")
	ErrQuoteNotFound    = errors.New("flow: quote not found")
	ErrNoLaunchNode     = errors.New("flow: graph has no launch node")
	ErrNodeNotDone      = errors.New("flow: node is not done")
	ErrNotMaterialOrder = errors.New("flow: node is not a material order")
	ErrLockNotAcquired  = errors.New("flow: graph lock not acquired")
)

// NodeUpdate is one engine write to a node. Nil fields are left unchanged.
type NodeUpdate struct {
	NodeID string
	Status *Status
	State  *AutomationState
}

// GraphStore persists process graphs.
type GraphStore interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	// Graph (bulk operations)
	CreateGraph(ctx context.Context, g *Graph) (*Graph, error)
	GetGraph(ctx context.Context, graphID string) (*Graph, error)
	DeleteGraph(ctx context.Context, graphID string) error

	// Nodes
	AddNode(ctx context.Context, graphID string, node *Node) (string, error)
	GetNode(ctx context.Context, nodeID string) (*Node, error)
	UpdateNode(ctx context.Context, node *Node) error
	DeleteNode(ctx context.Context, nodeID string) error
	ListNodes(ctx context.Context, graphID string) ([]Node, error)

	// Edges
	AddEdge(ctx context.Context, graphID string, edge *Edge) (string, error)
	GetEdge(ctx context.Context, edgeID string) (*Edge, error)
	DeleteEdge(ctx context.Context, edgeID string) error
	ListEdges(ctx context.Context, graphID string) ([]Edge, error)

	// Engine-owned node fields
	UpdateNodeStatus(ctx context.Context, nodeID string, status Status) error
	UpdateNodeState(ctx context.Context, nodeID string, state AutomationState) error
	ApplyNodeUpdates(ctx context.Context, updates []NodeUpdate) error
}

// RecordStore reads the business records a graph is evaluated against.
type RecordStore interface {
	GetProject(ctx context.Context, projectID string) (*Project, error)

	// ListQuotes returns the project's quotes with their lines, most recent first.
	ListQuotes(ctx context.Context, projectID string) ([]Quote, error)
	GetQuote(ctx context.Context, quoteID string) (*Quote, error)
	ListInvoices(ctx context.Context, projectID string) ([]Invoice, error)

	// GetArticles returns the articles found among ids, keyed by id.
	GetArticles(ctx context.Context, ids []string) (map[string]Article, error)
}

// Store is everything the engine reads from and writes to.
type Store interface {
	GraphStore
	RecordStore
}

// RecordWriter writes business records. The engine never uses it; it exists
// for seeding and for the surrounding application.
type RecordWriter interface {
	PutProject(ctx context.Context, p *Project) error
	PutQuote(ctx context.Context, q *Quote) error
	PutInvoice(ctx context.Context, inv *Invoice) error
	PutArticle(ctx context.Context, a *Article) error
}

// NotificationSink receives notifications created by the engine.
// Implementations are built from a privileged credential since notifications
// may target users other than the one driving the automation.
type NotificationSink interface {
	InsertNotification(ctx context.Context, n *Notification) error
}

// NotificationReader lists notifications. An empty userID lists global notifications only.
type NotificationReader interface {
	ListNotifications(ctx context.Context, userID string) ([]Notification, error)
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, e Email) error
}
