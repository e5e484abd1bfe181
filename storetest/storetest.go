// Package storetest is a conformance suite shared by the flow store backends.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Storage is everything a backend provides.
type Storage interface {
	flow.Store
	flow.RecordWriter
	flow.NotificationSink
	flow.NotificationReader
}

// TestStore runs the suite. newStore must return an empty store on every call.
func TestStore(t *testing.T, newStore func(t *testing.T) Storage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Storage)
	}{
		{"CreateGraph", testCreateGraph},
		{"CreateGraphReplaces", testCreateGraphReplaces},
		{"DeleteGraph", testDeleteGraph},
		{"Nodes", testNodes},
		{"Edges", testEdges},
		{"EngineWrites", testEngineWrites},
		{"ApplyNodeUpdatesAtomic", testApplyNodeUpdatesAtomic},
		{"Records", testRecords},
		{"Notifications", testNotifications},
		{"Engine", testEngine},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// seedGraph creates launch > email > material order with node refs.
func seedGraph(t *testing.T, s Storage) *flow.Graph {
	t.Helper()
	g, err := s.CreateGraph(context.Background(), &flow.Graph{
		ID:        "g1",
		ProjectID: "p1",
		Nodes: []flow.Node{
			{Ref: "l", Type: flow.ActionLaunch, Label: "Start", Status: flow.StatusDone},
			{Ref: "e", Type: flow.ActionEmail, Label: "Welcome", Config: flow.NodeConfig{
				Recipient: "client@example.com",
				Subject:   "Welcome",
			}, Position: flow.Position{X: 120, Y: 40}},
			{Ref: "m", Type: flow.ActionMaterialOrder, Label: "Order", Config: flow.NodeConfig{QuoteID: "q1"}},
		},
		Edges: []flow.Edge{
			{FromNodeRef: "l", ToNodeRef: "e"},
			{FromNodeRef: "e", ToNodeRef: "m"},
		},
	})
	require.NoError(t, err)
	return g
}

func testCreateGraph(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)
	for _, n := range created.Nodes {
		assert.NotEmpty(t, n.ID)
		assert.Empty(t, n.Ref)
	}
	assert.Equal(t, created.Nodes[0].ID, created.Edges[0].FromNodeID)
	assert.Equal(t, created.Nodes[1].ID, created.Edges[0].ToNodeID)

	g, err := s.GetGraph(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "p1", g.ProjectID)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 2)

	assert.Equal(t, flow.ActionLaunch, g.Nodes[0].Type)
	assert.Equal(t, flow.StatusDone, g.Nodes[0].Status)
	assert.Equal(t, flow.StatusPending, g.Nodes[1].Status)
	assert.Equal(t, "client@example.com", g.Nodes[1].Config.Recipient)
	assert.Equal(t, flow.Position{X: 120, Y: 40}, g.Nodes[1].Position)
	assert.Equal(t, "q1", g.Nodes[2].Config.QuoteID)
	assert.Equal(t, "g1", g.Nodes[2].GraphID)
	assert.Equal(t, g.Nodes[1].ID, g.Edges[1].FromNodeID)
	assert.Equal(t, g.Nodes[2].ID, g.Edges[1].ToNodeID)
	assert.NotNil(t, g.LaunchNode())

	missing, err := s.GetGraph(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.CreateGraph(ctx, &flow.Graph{
		ID:    "g2",
		Nodes: []flow.Node{{Ref: "a", Type: flow.ActionLaunch}},
		Edges: []flow.Edge{{FromNodeRef: "a", ToNodeRef: "b"}},
	})
	assert.Error(t, err)
}

func testCreateGraphReplaces(t *testing.T, s Storage) {
	ctx := context.Background()
	seedGraph(t, s)

	_, err := s.CreateGraph(ctx, &flow.Graph{
		ID:        "g1",
		ProjectID: "p2",
		Nodes:     []flow.Node{{ID: "only", Type: flow.ActionLaunch}},
	})
	require.NoError(t, err)

	g, err := s.GetGraph(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, "p2", g.ProjectID)
	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "only", g.Nodes[0].ID)
	assert.Empty(t, g.Edges)
}

func testDeleteGraph(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)

	require.NoError(t, s.DeleteGraph(ctx, "g1"))
	g, err := s.GetGraph(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, g)

	n, err := s.GetNode(ctx, created.Nodes[0].ID)
	require.NoError(t, err)
	assert.Nil(t, n)
	e, err := s.GetEdge(ctx, created.Edges[0].ID)
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, s.DeleteGraph(ctx, "g1"))
}

func testNodes(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)

	_, err := s.AddNode(ctx, "nope", &flow.Node{Type: flow.ActionManual})
	require.ErrorIs(t, err, flow.ErrGraphNotFound)

	id, err := s.AddNode(ctx, "g1", &flow.Node{Type: flow.ActionInvoice, Label: "Deposit"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, flow.ActionInvoice, n.Type)
	assert.Equal(t, flow.StatusPending, n.Status)
	assert.Equal(t, "g1", n.GraphID)

	nodes, err := s.ListNodes(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, nodes, 4)
	assert.Equal(t, id, nodes[3].ID)

	// UpdateNode leaves engine-owned fields alone.
	require.NoError(t, s.UpdateNodeStatus(ctx, id, flow.StatusWaiting))
	require.NoError(t, s.UpdateNode(ctx, &flow.Node{
		ID:       id,
		Type:     flow.ActionEmail,
		Label:    "Reminder",
		Config:   flow.NodeConfig{Subject: "Reminder"},
		Position: flow.Position{X: 1, Y: 2},
		Status:   flow.StatusDone,
	}))
	n, err = s.GetNode(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, flow.ActionEmail, n.Type)
	assert.Equal(t, "Reminder", n.Label)
	assert.Equal(t, "Reminder", n.Config.Subject)
	assert.Equal(t, flow.Position{X: 1, Y: 2}, n.Position)
	assert.Equal(t, flow.StatusWaiting, n.Status)

	err = s.UpdateNode(ctx, &flow.Node{ID: "nope", Type: flow.ActionManual})
	require.ErrorIs(t, err, flow.ErrNodeNotFound)

	missing, err := s.GetNode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Deleting a node removes its edges.
	require.NoError(t, s.DeleteNode(ctx, created.Nodes[1].ID))
	edges, err := s.ListEdges(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, edges)
	require.NoError(t, s.DeleteNode(ctx, created.Nodes[1].ID))

	empty, err := s.ListNodes(ctx, "nope")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testEdges(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)
	launch, order := created.Nodes[0].ID, created.Nodes[2].ID

	id, err := s.AddEdge(ctx, "g1", &flow.Edge{FromNodeID: launch, ToNodeID: order})
	require.NoError(t, err)

	e, err := s.GetEdge(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, launch, e.FromNodeID)
	assert.Equal(t, order, e.ToNodeID)
	assert.Equal(t, "g1", e.GraphID)

	_, err = s.AddEdge(ctx, "g1", &flow.Edge{FromNodeID: launch, ToNodeID: "nope"})
	require.ErrorIs(t, err, flow.ErrNodeNotFound)

	_, err = s.CreateGraph(ctx, &flow.Graph{ID: "other", Nodes: []flow.Node{{ID: "foreign", Type: flow.ActionLaunch}}})
	require.NoError(t, err)
	_, err = s.AddEdge(ctx, "g1", &flow.Edge{FromNodeID: launch, ToNodeID: "foreign"})
	require.ErrorIs(t, err, flow.ErrNodeNotFound)

	edges, err := s.ListEdges(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, id, edges[2].ID)

	require.NoError(t, s.DeleteEdge(ctx, id))
	e, err = s.GetEdge(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, e)
	require.NoError(t, s.DeleteEdge(ctx, id))
}

func testEngineWrites(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)
	id := created.Nodes[2].ID

	require.NoError(t, s.UpdateNodeStatus(ctx, id, flow.StatusWaiting))
	state := flow.AutomationState{NotificationSent: true}
	require.NoError(t, s.UpdateNodeState(ctx, id, state))

	n, err := s.GetNode(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, flow.StatusWaiting, n.Status)
	assert.Equal(t, state, n.State)
	assert.Equal(t, "q1", n.Config.QuoteID)

	require.ErrorIs(t, s.UpdateNodeStatus(ctx, "nope", flow.StatusDone), flow.ErrNodeNotFound)
	require.ErrorIs(t, s.UpdateNodeState(ctx, "nope", state), flow.ErrNodeNotFound)

	done := flow.StatusDone
	cleared := flow.AutomationState{}
	require.NoError(t, s.ApplyNodeUpdates(ctx, []flow.NodeUpdate{
		{NodeID: created.Nodes[1].ID, Status: &done},
		{NodeID: id, Status: &done, State: &cleared},
	}))
	nodes, err := s.ListNodes(ctx, "g1")
	require.NoError(t, err)
	for _, n := range nodes {
		assert.Equal(t, flow.StatusDone, n.Status, n.Label)
		assert.Equal(t, flow.AutomationState{}, n.State, n.Label)
	}
	require.NoError(t, s.ApplyNodeUpdates(ctx, nil))
}

func testApplyNodeUpdatesAtomic(t *testing.T, s Storage) {
	ctx := context.Background()
	created := seedGraph(t, s)

	done := flow.StatusDone
	err := s.ApplyNodeUpdates(ctx, []flow.NodeUpdate{
		{NodeID: created.Nodes[1].ID, Status: &done},
		{NodeID: "nope", Status: &done},
	})
	require.ErrorIs(t, err, flow.ErrNodeNotFound)

	n, err := s.GetNode(ctx, created.Nodes[1].ID)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, flow.StatusPending, n.Status)
}

func testRecords(t *testing.T, s Storage) {
	ctx := context.Background()

	require.NoError(t, s.PutProject(ctx, &flow.Project{ID: "p1", Name: "Kitchen", OwnerID: "owner", ContactEmail: "client@example.com"}))
	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "owner", p.OwnerID)
	assert.Equal(t, "client@example.com", p.ContactEmail)
	p, err = s.GetProject(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, p)

	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	require.NoError(t, s.PutQuote(ctx, &flow.Quote{
		ID: "old", ProjectID: "p1", Status: flow.QuoteSigned, CreatedAt: base,
		Lines: []flow.QuoteLine{{ArticleID: "a1", Quantity: 2}, {Description: "labour", Quantity: 1}},
	}))
	require.NoError(t, s.PutQuote(ctx, &flow.Quote{
		ID: "new", ProjectID: "p1", Status: flow.QuoteDraft, CreatedBy: "creator", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.PutQuote(ctx, &flow.Quote{ID: "elsewhere", ProjectID: "p2", Status: flow.QuoteSigned}))

	quotes, err := s.ListQuotes(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "new", quotes[0].ID)
	assert.Equal(t, "creator", quotes[0].CreatedBy)
	assert.Empty(t, quotes[0].Lines)
	assert.Equal(t, "old", quotes[1].ID)
	require.Len(t, quotes[1].Lines, 2)
	assert.Equal(t, "a1", quotes[1].Lines[0].ArticleID)
	assert.Equal(t, 2.0, quotes[1].Lines[0].Quantity)
	assert.Equal(t, "labour", quotes[1].Lines[1].Description)
	assert.WithinDuration(t, base, quotes[1].CreatedAt, time.Millisecond)

	// Replacing a quote replaces its lines.
	require.NoError(t, s.PutQuote(ctx, &flow.Quote{
		ID: "old", ProjectID: "p1", Status: flow.QuoteRefused, CreatedAt: base,
		Lines: []flow.QuoteLine{{ArticleID: "a2", Quantity: 5}},
	}))
	q, err := s.GetQuote(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, flow.QuoteRefused, q.Status)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, "a2", q.Lines[0].ArticleID)
	q, err = s.GetQuote(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, q)

	empty, err := s.ListQuotes(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.PutInvoice(ctx, &flow.Invoice{
		ID: "i1", ProjectID: "p1", Status: flow.InvoicePaid,
		Lines: []flow.InvoiceLine{{Description: "Deposit", Quantity: 1, UnitPrice: 450}},
	}))
	invoices, err := s.ListInvoices(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, flow.InvoicePaid, invoices[0].Status)
	require.Len(t, invoices[0].Lines, 1)
	assert.Equal(t, 450.0, invoices[0].Lines[0].UnitPrice)

	require.NoError(t, s.PutArticle(ctx, &flow.Article{ID: "a1", Name: "Board", Stock: 3.5, Unit: "m2"}))
	require.NoError(t, s.PutArticle(ctx, &flow.Article{ID: "a2", Name: "Screw", Stock: 100}))
	articles, err := s.GetArticles(ctx, []string{"a1", "missing"})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, 3.5, articles["a1"].Stock)
	assert.Equal(t, "m2", articles["a1"].Unit)

	none, err := s.GetArticles(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNotifications(t *testing.T, s Storage) {
	ctx := context.Background()

	mine := &flow.Notification{
		UserID:  "u1",
		Type:    flow.NotificationStockShortfall,
		Title:   "Material shortfall",
		Message: "Board: need 4, have 1",
		Data:    []byte(`{"node_id":"m"}`),
	}
	require.NoError(t, s.InsertNotification(ctx, mine))
	assert.NotEmpty(t, mine.ID)
	assert.Equal(t, flow.NotificationUnread, mine.Status)
	require.NoError(t, s.InsertNotification(ctx, &flow.Notification{Type: flow.NotificationStockShortfall, Title: "global", Message: "x"}))

	got, err := s.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
	assert.Equal(t, "Material shortfall", got[0].Title)
	assert.JSONEq(t, `{"node_id":"m"}`, string(got[0].Data))

	global, err := s.ListNotifications(ctx, "")
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "global", global[0].Title)

	none, err := s.ListNotifications(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// testEngine runs an integrity pass and a cascade against the backend.
func testEngine(t *testing.T, s Storage) {
	ctx := context.Background()
	require.NoError(t, s.PutProject(ctx, &flow.Project{ID: "p1", Name: "Kitchen", OwnerID: "owner"}))
	require.NoError(t, s.PutArticle(ctx, &flow.Article{ID: "a1", Name: "Board", Stock: 1, Unit: "pcs"}))
	require.NoError(t, s.PutQuote(ctx, &flow.Quote{
		ID: "q1", ProjectID: "p1", Status: flow.QuoteSigned, CreatedBy: "creator",
		Lines: []flow.QuoteLine{{ArticleID: "a1", Quantity: 4}},
	}))
	created := seedGraph(t, s)
	email, order := created.Nodes[1].ID, created.Nodes[2].ID

	mailer := &recorder{}
	eng := engine.New(s, s, mailer)

	res, err := eng.Recompute(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, res.Changes, 2)

	n, err := s.GetNode(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusDone, n.Status)
	n, err = s.GetNode(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusWaiting, n.Status)
	assert.True(t, n.State.NotificationSent)

	notes, err := s.ListNotifications(ctx, "creator")
	require.NoError(t, err)
	require.Len(t, notes, 1)

	res, err = eng.Recompute(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, res.Stable)

	require.NoError(t, s.UpdateNodeStatus(ctx, email, flow.StatusPending))
	cascade, err := eng.CompleteNode(ctx, email)
	require.NoError(t, err)
	require.Len(t, cascade.Steps, 1)
	assert.Equal(t, flow.StatusWaiting, cascade.Steps[0].Status)

	notes, err = s.ListNotifications(ctx, "creator")
	require.NoError(t, err)
	assert.Len(t, notes, 1)

	_, err = eng.ConfirmMaterialOrder(ctx, order)
	require.NoError(t, err)
	n, err = s.GetNode(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusDone, n.Status)
	assert.True(t, n.State.OrderConfirmed)
	assert.Empty(t, mailer.sent)
}

type recorder struct {
	sent []flow.Email
}

func (r *recorder) Send(_ context.Context, e flow.Email) error {
	r.sent = append(r.sent, e)
	return nil
}
