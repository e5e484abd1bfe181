package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/engine"
	"github.com/meikuraledutech/flow/inmem"
	"github.com/meikuraledutech/flow/mail"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	ctx := context.Background()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	// The in-memory store stands in for Postgres behind the same interfaces.
	store := inmem.New()
	eng := engine.New(store, store, mail.NewLog(logger),
		engine.WithLogger(logger),
		engine.WithPaceDelay(100*time.Millisecond),
	)

	// ── Business records ──────────────────────────────────────────────
	must(store.PutProject(ctx, &flow.Project{
		ID: "kitchen", Name: "Kitchen renovation", OwnerID: "alex", ContactEmail: "client@example.com",
	}))
	must(store.PutArticle(ctx, &flow.Article{ID: "tile", Name: "Wall tile", Stock: 12, Unit: "m2"}))
	must(store.PutQuote(ctx, &flow.Quote{
		ID: "Q-2026-001", ProjectID: "kitchen", Status: flow.QuoteSigned, CreatedBy: "sam",
		Lines: []flow.QuoteLine{
			{ArticleID: "tile", Quantity: 18, Description: "Wall tile"},
			{Description: "Labour", Quantity: 3},
		},
	}))

	// ── Process graph (bulk with refs) ────────────────────────────────
	created, err := store.CreateGraph(ctx, &flow.Graph{
		ID:        "kitchen-process",
		ProjectID: "kitchen",
		Nodes: []flow.Node{
			{Ref: "start", Type: flow.ActionLaunch, Label: "Project start"},
			{Ref: "hello", Type: flow.ActionEmail, Label: "Welcome email"},
			{Ref: "quote", Type: flow.ParseActionType("devis"), Label: "Quote", Config: flow.NodeConfig{QuoteID: "Q-2026-001"}},
			{Ref: "order", Type: flow.ActionMaterialOrder, Label: "Order materials"},
			{Ref: "visit", Type: flow.ActionCalendar, Label: "Site visit", Config: flow.NodeConfig{
				EventTitle: "Site visit", EventStart: "2026-11-02 09:00", EventLocation: "On site",
			}},
		},
		Edges: []flow.Edge{
			{FromNodeRef: "start", ToNodeRef: "hello"},
			{FromNodeRef: "hello", ToNodeRef: "quote"},
			{FromNodeRef: "quote", ToNodeRef: "order"},
			{FromNodeRef: "order", ToNodeRef: "visit"},
		},
	})
	must(err)
	fmt.Println("graph created")
	start, order := created.Nodes[0].ID, created.Nodes[3].ID

	// ── Operator starts the project: cascade ──────────────────────────
	cascade, err := eng.CompleteNode(ctx, start)
	must(err)
	fmt.Println("\ncascade from launch:")
	printJSON(cascade)

	// ── Integrity pass: quote is signed, stock is short ───────────────
	res, err := eng.Recompute(ctx, created.ID)
	must(err)
	fmt.Println("\nintegrity pass:")
	printJSON(res)

	notes, err := store.ListNotifications(ctx, "sam")
	must(err)
	fmt.Printf("\nnotifications for sam (%d):\n", len(notes))
	printJSON(notes)

	// ── Stock arrives ─────────────────────────────────────────────────
	must(store.PutArticle(ctx, &flow.Article{ID: "tile", Name: "Wall tile", Stock: 20, Unit: "m2"}))
	res, err = eng.Recompute(ctx, created.ID)
	must(err)
	fmt.Println("\nintegrity pass after restock:")
	printJSON(res)

	cascade, err = eng.OnNodeCompleted(ctx, created.ID, order)
	must(err)
	fmt.Println("\ncascade from material order:")
	printJSON(cascade)

	g, err := store.GetGraph(ctx, created.ID)
	must(err)
	fmt.Println("\nfinal statuses:")
	for _, n := range g.Nodes {
		fmt.Printf("  %-16s %-15s %s\n", n.Label, n.Type, n.Status)
	}
}

func must(err error) {
	if err != nil {
		log.Fatal().Err(err).Msg("example failed")
	}
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
