package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/meikuraledutech/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) complete(id string) *CascadeResult {
	f.t.Helper()
	res, err := f.eng.OnNodeCompleted(f.ctx, testGraph, id)
	require.NoError(f.t, err)
	return res
}

func TestCascadeStopsAtQuote(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("Q", flow.ActionQuote, flow.StatusPending),
		n("C", flow.ActionEmail, flow.StatusPending),
	}, "L>Q", "Q>C")

	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "Q", res.Steps[0].NodeID)
	assert.Equal(t, flow.StatusWaiting, res.Steps[0].Status)
	assert.Equal(t, flow.StatusWaiting, f.status("Q"))
	assert.Equal(t, flow.StatusPending, f.status("C"))
	assert.Empty(t, f.mailer.Sent())
}

func TestCascadeEmailChain(t *testing.T) {
	f := newFixture(t)
	e2 := n("E2", flow.ActionEmail, flow.StatusPending)
	e2.Config.Recipient = "site@example.com"
	e2.Config.Subject = "Works start Monday"
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("E1", flow.ActionEmail, flow.StatusPending),
		e2,
		n("I", flow.ActionInvoice, flow.StatusPending),
	}, "L>E1", "E1>E2", "E2>I")

	res := f.complete("L")
	require.Len(t, res.Steps, 3)
	assert.Equal(t, "3 step(s): 2 done, 1 waiting, 0 error, 0 blocked", res.Summary)
	assert.Equal(t, flow.StatusDone, f.status("E1"))
	assert.Equal(t, flow.StatusDone, f.status("E2"))
	assert.Equal(t, flow.StatusWaiting, f.status("I"))

	sent := f.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "client@example.com", sent[0].To)
	assert.Equal(t, "Update on Kitchen renovation", sent[0].Subject)
	assert.Equal(t, "site@example.com", sent[1].To)
	assert.Equal(t, "Works start Monday", sent[1].Subject)
}

func TestCascadeCalendarInvitation(t *testing.T) {
	f := newFixture(t)
	c := n("C", flow.ActionCalendar, flow.StatusPending)
	c.Config.EventTitle = "Site visit"
	c.Config.EventStart = "2026-11-02T09:00:00Z"
	c.Config.EventLocation = "12 rue des Lilas"
	f.graph([]flow.Node{n("L", flow.ActionLaunch, flow.StatusDone), c}, "L>C")

	f.complete("L")
	assert.Equal(t, flow.StatusDone, f.status("C"))
	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Invitation: Site visit", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "When: 2026-11-02T09:00:00Z")
	assert.Contains(t, sent[0].Body, "Where: 12 rue des Lilas")
}

func TestCascadeEmailWithoutRecipient(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.PutProject(f.ctx, &flow.Project{ID: testProject, Name: "Roof"}))
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("E", flow.ActionEmail, flow.StatusPending),
		n("N", flow.ActionEmail, flow.StatusPending),
	}, "L>E", "E>N")

	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "no recipient for email", res.Steps[0].Message)
	assert.Equal(t, flow.StatusError, f.status("E"))
	assert.Equal(t, flow.StatusPending, f.status("N"))
	assert.Empty(t, f.mailer.Sent())
}

func TestCascadeMailerFailure(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("connection refused")
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("E", flow.ActionEmail, flow.StatusPending),
		n("N", flow.ActionEmail, flow.StatusPending),
	}, "L>E", "E>N")

	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, flow.StatusError, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Message, "connection refused")
	assert.Equal(t, flow.StatusError, f.status("E"))
	assert.Equal(t, flow.StatusPending, f.status("N"))
}

func TestCascadeMaterialOrderShortfall(t *testing.T) {
	f := newFixture(t)
	f.article("X", 1)
	f.quote("q1", flow.QuoteSigned, "creator", flow.QuoteLine{ArticleID: "X", Quantity: 5})
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("M", flow.ActionMaterialOrder, flow.StatusPending),
		n("E", flow.ActionEmail, flow.StatusPending),
	}, "L>M", "M>E")

	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	m := f.node("M")
	assert.Equal(t, flow.StatusWaiting, m.Status)
	assert.True(t, m.State.NotificationSent)
	assert.Equal(t, flow.StatusPending, f.status("E"))
	require.Len(t, f.mem.Notifications(), 1)
	assert.Equal(t, "creator", f.mem.Notifications()[0].UserID)

	// The integrity pass agrees and does not notify again.
	assert.True(t, f.recompute().Stable)
	assert.Len(t, f.mem.Notifications(), 1)
}

func TestCascadeMaterialOrderStateWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.article("X", 1)
	f.quote("q1", flow.QuoteSigned, "creator", flow.QuoteLine{ArticleID: "X", Quantity: 5})
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("M", flow.ActionMaterialOrder, flow.StatusPending),
	}, "L>M")

	f.store.applyErr = errors.New("deadlock detected")
	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, flow.StatusError, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Message, "deadlock detected")
	assert.Equal(t, flow.StatusError, f.status("M"))
	assert.False(t, f.node("M").State.NotificationSent)
	assert.Empty(t, f.mem.Notifications())

	f.store.applyErr = nil
	f.recompute()
	m := f.node("M")
	assert.Equal(t, flow.StatusWaiting, m.Status)
	assert.True(t, m.State.NotificationSent)
	assert.Len(t, f.mem.Notifications(), 1)

	assert.True(t, f.recompute().Stable)
	assert.Len(t, f.mem.Notifications(), 1)
}

func TestCascadeMaterialOrderNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.article("X", 1)
	f.quote("q1", flow.QuoteSigned, "creator", flow.QuoteLine{ArticleID: "X", Quantity: 5})
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("M", flow.ActionMaterialOrder, flow.StatusPending),
	}, "L>M")

	f.notifier.err = errors.New("permission denied")
	res := f.complete("L")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, flow.StatusWaiting, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Message, "notification failed")
	assert.False(t, f.node("M").State.NotificationSent)

	f.notifier.err = nil
	f.recompute()
	assert.True(t, f.node("M").State.NotificationSent)
	assert.Len(t, f.mem.Notifications(), 1)
}

func TestCascadeMaterialOrderInStock(t *testing.T) {
	f := newFixture(t)
	f.article("X", 5)
	f.quote("q1", flow.QuoteSigned, "creator", flow.QuoteLine{ArticleID: "X", Quantity: 5})
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("M", flow.ActionMaterialOrder, flow.StatusPending),
		n("E", flow.ActionEmail, flow.StatusPending),
	}, "L>M", "M>E")

	res := f.complete("L")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, flow.StatusDone, f.status("M"))
	assert.Equal(t, flow.StatusDone, f.status("E"))
	assert.Empty(t, f.mem.Notifications())
}

func TestCascadeJoinWaitsForAllParents(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("A", flow.ActionEmail, flow.StatusPending),
		n("B", flow.ActionQuote, flow.StatusPending),
		n("C", flow.ActionEmail, flow.StatusPending),
	}, "L>A", "L>B", "A>C", "B>C")

	res := f.complete("L")
	require.Len(t, res.Steps, 3)
	assert.Equal(t, "C", res.Steps[1].NodeID)
	assert.True(t, res.Steps[1].Blocked)
	assert.Equal(t, "3 step(s): 1 done, 1 waiting, 0 error, 1 blocked", res.Summary)
	assert.Equal(t, flow.StatusPending, f.status("C"))
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestCascadeJoinCompletesOnLastParent(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("A", flow.ActionEmail, flow.StatusPending),
		n("B", flow.ActionEmail, flow.StatusPending),
		n("C", flow.ActionEmail, flow.StatusPending),
	}, "L>A", "L>B", "A>C", "B>C")

	f.complete("L")
	assert.Equal(t, flow.StatusDone, f.status("C"))
	assert.Len(t, f.mailer.Sent(), 3)
}

func TestCascadeTerminatesOnCycle(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("A", flow.ActionEmail, flow.StatusDone),
		n("B", flow.ActionEmail, flow.StatusPending),
	}, "L>A", "A>B", "B>A")

	res := f.complete("A")
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "B", res.Steps[0].NodeID)
	assert.Len(t, f.mailer.Sent(), 1)
}

func TestCascadeEndOfChain(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{n("L", flow.ActionLaunch, flow.StatusDone)})

	res := f.complete("L")
	assert.Empty(t, res.Steps)
	assert.Equal(t, "no successors, end of chain", res.Summary)
}

func TestCascadeRequiresDoneNode(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusPending),
		n("E", flow.ActionEmail, flow.StatusPending),
	}, "L>E")

	_, err := f.eng.OnNodeCompleted(f.ctx, testGraph, "L")
	require.ErrorIs(t, err, flow.ErrNodeNotDone)
	assert.Equal(t, flow.StatusPending, f.status("E"))

	_, err = f.eng.OnNodeCompleted(f.ctx, testGraph, "missing")
	require.ErrorIs(t, err, flow.ErrNodeNotFound)

	_, err = f.eng.OnNodeCompleted(f.ctx, "missing", "L")
	require.ErrorIs(t, err, flow.ErrGraphNotFound)
}

func TestCompleteNode(t *testing.T) {
	f := newFixture(t)
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("V", flow.ActionManual, flow.StatusWaiting),
		n("E", flow.ActionEmail, flow.StatusPending),
	}, "L>V", "V>E")

	res, err := f.eng.CompleteNode(f.ctx, "V")
	require.NoError(t, err)
	assert.Equal(t, testGraph, res.GraphID)
	assert.Equal(t, flow.StatusDone, f.status("V"))
	assert.Equal(t, flow.StatusDone, f.status("E"))

	_, err = f.eng.CompleteNode(f.ctx, "missing")
	require.ErrorIs(t, err, flow.ErrNodeNotFound)
}

// hookLocker runs acquired whenever a lock is taken.
type hookLocker struct {
	acquired func()
}

func (l *hookLocker) Lock(context.Context, string) (func(), error) {
	if l.acquired != nil {
		l.acquired()
	}
	return func() {}, nil
}

func TestCompleteNodeRereadsUnderLock(t *testing.T) {
	locker := &hookLocker{}
	f := newFixture(t, WithLocker(locker))
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("V", flow.ActionManual, flow.StatusWaiting),
		n("E", flow.ActionEmail, flow.StatusPending),
	}, "L>V", "V>E")

	// Removed by an editor while the caller waited for the lock.
	locker.acquired = func() {
		require.NoError(t, f.mem.DeleteNode(f.ctx, "V"))
	}
	_, err := f.eng.CompleteNode(f.ctx, "V")
	require.ErrorIs(t, err, flow.ErrNodeNotFound)
	assert.Equal(t, flow.StatusPending, f.status("E"))
	assert.Empty(t, f.mailer.Sent())
}

func TestCascadePacing(t *testing.T) {
	var calls int
	f := newFixture(t, WithPacing(func(context.Context) error {
		calls++
		return nil
	}))
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("E1", flow.ActionEmail, flow.StatusPending),
		n("E2", flow.ActionEmail, flow.StatusPending),
		n("Q", flow.ActionQuote, flow.StatusPending),
	}, "L>E1", "E1>E2", "E2>Q")

	f.complete("L")
	assert.Equal(t, 2, calls)
}

func TestCascadePacingCancelled(t *testing.T) {
	f := newFixture(t, WithPacing(func(context.Context) error {
		return context.Canceled
	}))
	f.graph([]flow.Node{
		n("L", flow.ActionLaunch, flow.StatusDone),
		n("E1", flow.ActionEmail, flow.StatusPending),
		n("E2", flow.ActionEmail, flow.StatusPending),
	}, "L>E1", "E1>E2")

	_, err := f.eng.OnNodeCompleted(f.ctx, testGraph, "L")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, flow.StatusDone, f.status("E1"))
	assert.Equal(t, flow.StatusPending, f.status("E2"))
}
