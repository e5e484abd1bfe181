package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGraph   = "g1"
	testProject = "p1"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []flow.Email
	err  error
}

func (m *fakeMailer) Send(_ context.Context, e flow.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, e)
	return nil
}

func (m *fakeMailer) Sent() []flow.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]flow.Email(nil), m.sent...)
}

// flakyNotifier fails while err is set.
type flakyNotifier struct {
	flow.NotificationSink
	err error
}

func (n *flakyNotifier) InsertNotification(ctx context.Context, notif *flow.Notification) error {
	if n.err != nil {
		return n.err
	}
	return n.NotificationSink.InsertNotification(ctx, notif)
}

// faultyStore injects failures into an in-memory store.
type faultyStore struct {
	*inmem.InMem
	getQuoteErr   error
	listQuotesErr error
	applyErr      error
}

func (s *faultyStore) ApplyNodeUpdates(ctx context.Context, updates []flow.NodeUpdate) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	return s.InMem.ApplyNodeUpdates(ctx, updates)
}

func (s *faultyStore) GetQuote(ctx context.Context, id string) (*flow.Quote, error) {
	if s.getQuoteErr != nil {
		return nil, s.getQuoteErr
	}
	return s.InMem.GetQuote(ctx, id)
}

func (s *faultyStore) ListQuotes(ctx context.Context, projectID string) ([]flow.Quote, error) {
	if s.listQuotesErr != nil {
		return nil, s.listQuotesErr
	}
	return s.InMem.ListQuotes(ctx, projectID)
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	mem      *inmem.InMem
	store    *faultyStore
	notifier *flakyNotifier
	mailer   *fakeMailer
	eng      *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := inmem.New()
	f := &fixture{
		t:        t,
		ctx:      context.Background(),
		mem:      mem,
		store:    &faultyStore{InMem: mem},
		notifier: &flakyNotifier{NotificationSink: mem},
		mailer:   &fakeMailer{},
	}
	f.eng = New(f.store, f.notifier, f.mailer, opts...)
	require.NoError(t, mem.PutProject(f.ctx, &flow.Project{
		ID:           testProject,
		Name:         "Kitchen renovation",
		OwnerID:      "owner",
		ContactEmail: "client@example.com",
	}))
	return f
}

// n builds a node whose ID is also its label.
func n(id string, typ flow.ActionType, status flow.Status) flow.Node {
	return flow.Node{ID: id, Label: id, Type: typ, Status: status}
}

// graph creates testGraph from nodes and "from>to" edges.
func (f *fixture) graph(nodes []flow.Node, edges ...string) {
	f.t.Helper()
	g := &flow.Graph{ID: testGraph, ProjectID: testProject, Nodes: nodes}
	for _, e := range edges {
		var from, to string
		for i := range e {
			if e[i] == '>' {
				from, to = e[:i], e[i+1:]
			}
		}
		require.NotEmpty(f.t, from, "bad edge %q", e)
		g.Edges = append(g.Edges, flow.Edge{FromNodeID: from, ToNodeID: to})
	}
	_, err := f.mem.CreateGraph(f.ctx, g)
	require.NoError(f.t, err)
}

func (f *fixture) node(id string) flow.Node {
	f.t.Helper()
	got, err := f.mem.GetNode(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, got, "node %s", id)
	return *got
}

func (f *fixture) status(id string) flow.Status {
	f.t.Helper()
	return f.node(id).Status
}

func (f *fixture) quote(id string, status flow.QuoteStatus, createdBy string, lines ...flow.QuoteLine) {
	f.t.Helper()
	require.NoError(f.t, f.mem.PutQuote(f.ctx, &flow.Quote{
		ID:        id,
		ProjectID: testProject,
		Status:    status,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
		Lines:     lines,
	}))
}

func (f *fixture) article(id string, stock float64) {
	f.t.Helper()
	require.NoError(f.t, f.mem.PutArticle(f.ctx, &flow.Article{ID: id, Name: "Article " + id, Stock: stock, Unit: "pcs"}))
}

func (f *fixture) recompute() *Result {
	f.t.Helper()
	res, err := f.eng.Recompute(f.ctx, testGraph)
	require.NoError(f.t, err)
	return res
}

func TestHandlerTablesCoverAllActionTypes(t *testing.T) {
	for _, typ := range flow.ActionTypes {
		assert.Contains(t, evaluators, typ, "evaluator for %s", typ)
		assert.Contains(t, handlers, typ, "handler for %s", typ)
	}
	assert.Len(t, evaluators, len(flow.ActionTypes))
	assert.Len(t, handlers, len(flow.ActionTypes))
}

func TestWithPaceDelayHonorsContext(t *testing.T) {
	e := New(inmem.New(), inmem.New(), &fakeMailer{}, WithPaceDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.pace(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
