package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/meikuraledutech/flow"
)

// handler decides and performs one cascade step. Failed side effects are
// reported as StatusError with a message, never as a Go error.
type handler func(e *Engine, ctx context.Context, run *cascadeRun, n flow.Node) (flow.Status, string)

// handlers has an entry for every flow.ActionType. Only machine-checkable
// steps can complete here; human gates always wait.
var handlers = map[flow.ActionType]handler{
	flow.ActionLaunch:        (*Engine).handleManual,
	flow.ActionQuote:         (*Engine).handleQuote,
	flow.ActionInvoice:       (*Engine).handleInvoice,
	flow.ActionClientChoice:  (*Engine).handleManual,
	flow.ActionMaterialOrder: (*Engine).handleMaterialOrder,
	flow.ActionEmail:         (*Engine).handleEmail,
	flow.ActionCalendar:      (*Engine).handleCalendar,
	flow.ActionManual:        (*Engine).handleManual,
}

func (e *Engine) handleQuote(_ context.Context, _ *cascadeRun, _ flow.Node) (flow.Status, string) {
	return flow.StatusWaiting, "waiting for a quote to be prepared"
}

func (e *Engine) handleInvoice(_ context.Context, _ *cascadeRun, _ flow.Node) (flow.Status, string) {
	return flow.StatusWaiting, "waiting for payment"
}

func (e *Engine) handleManual(_ context.Context, _ *cascadeRun, n flow.Node) (flow.Status, string) {
	if n.Label != "" {
		return flow.StatusWaiting, fmt.Sprintf("waiting for %q to be completed", n.Label)
	}
	return flow.StatusWaiting, "waiting for manual completion"
}

// recipient returns the node override, else the project contact.
func (run *cascadeRun) recipient(n flow.Node) string {
	if r := strings.TrimSpace(n.Config.Recipient); r != "" {
		return r
	}
	if run.project != nil {
		return strings.TrimSpace(run.project.ContactEmail)
	}
	return ""
}

func (run *cascadeRun) projectName() string {
	if run.project != nil && run.project.Name != "" {
		return run.project.Name
	}
	return "your project"
}

func (e *Engine) handleEmail(ctx context.Context, run *cascadeRun, n flow.Node) (flow.Status, string) {
	to := run.recipient(n)
	if to == "" {
		return flow.StatusError, "no recipient for email"
	}

	subject := n.Config.Subject
	if subject == "" {
		subject = fmt.Sprintf("Update on %s", run.projectName())
	}
	body := n.Config.Message
	if body == "" {
		step := n.Label
		if step == "" {
			step = "the next step"
		}
		body = fmt.Sprintf("Hello,\n\nWe have moved on to %s of %s.\n", step, run.projectName())
	}

	return e.send(ctx, flow.Email{To: to, Subject: subject, Body: body})
}

func (e *Engine) handleCalendar(ctx context.Context, run *cascadeRun, n flow.Node) (flow.Status, string) {
	to := run.recipient(n)
	if to == "" {
		return flow.StatusError, "no recipient for invitation"
	}

	title := n.Config.EventTitle
	if title == "" {
		title = n.Label
	}
	if title == "" {
		title = "Appointment"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are invited: %s\n", title)
	fmt.Fprintf(&b, "Project: %s\n", run.projectName())
	if n.Config.EventStart != "" {
		fmt.Fprintf(&b, "When: %s\n", n.Config.EventStart)
	}
	if n.Config.EventLocation != "" {
		fmt.Fprintf(&b, "Where: %s\n", n.Config.EventLocation)
	}
	if n.Config.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", n.Config.Message)
	}

	return e.send(ctx, flow.Email{To: to, Subject: "Invitation: " + title, Body: b.String()})
}

func (e *Engine) send(ctx context.Context, m flow.Email) (flow.Status, string) {
	if err := e.mailer.Send(ctx, m); err != nil {
		e.metrics.emails.WithLabelValues("failed").Inc()
		return flow.StatusError, fmt.Sprintf("send email to %s: %v", m.To, err)
	}
	e.metrics.emails.WithLabelValues("sent").Inc()
	return flow.StatusDone, fmt.Sprintf("email sent to %s", m.To)
}

// handleMaterialOrder runs the same stock check as the integrity pass
// against freshly read records, and performs its notification right away.
// A failed state write ends the step in error without notifying.
func (e *Engine) handleMaterialOrder(ctx context.Context, run *cascadeRun, n flow.Node) (flow.Status, string) {
	quotes, err := e.store.ListQuotes(ctx, run.graph.ProjectID)
	if err != nil {
		return flow.StatusError, fmt.Sprintf("load quotes: %v", err)
	}
	q, err := e.resolveQuote(ctx, run.topo, n, quotes)
	if err != nil {
		return flow.StatusError, err.Error()
	}
	articles, err := e.fillArticles(ctx, q, map[string]flow.Article{})
	if err != nil {
		return flow.StatusError, err.Error()
	}

	c := checkMaterialOrder(run.graph.ID, n, q, articles, run.project)
	if c.state != n.State {
		// The flag is saved before the notification is inserted.
		if err := e.saveState(ctx, n.ID, c.state); err != nil {
			return flow.StatusError, fmt.Sprintf("save automation state: %v", err)
		}
	}
	if c.notify == nil {
		return c.status, c.message
	}

	if err := e.notifier.InsertNotification(ctx, c.notify); err != nil {
		e.metrics.notifications.WithLabelValues("failed").Inc()
		run.logger.Error().Err(err).Str("node_id", n.ID).Msg("insert shortfall notification")
		if err := e.saveState(ctx, n.ID, n.State); err != nil {
			run.logger.Error().Err(err).Str("node_id", n.ID).Msg("clear notification flag")
		}
		return c.status, fmt.Sprintf("%s, notification failed: %v", c.message, err)
	}
	e.metrics.notifications.WithLabelValues("sent").Inc()
	return c.status, c.message
}

func (e *Engine) saveState(ctx context.Context, nodeID string, state flow.AutomationState) error {
	return e.store.ApplyNodeUpdates(ctx, []flow.NodeUpdate{{NodeID: nodeID, State: &state}})
}
