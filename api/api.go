// Package api is the HTTP surface of the automation engine: graph editing,
// integrity passes, node completion and notifications.
package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store    flow.Store
	notes    flow.NotificationReader
	engine   *engine.Engine
	logger   zerolog.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer exposes g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New builds the fiber app.
func New(store flow.Store, notes flow.NotificationReader, eng *engine.Engine, opts ...Option) *fiber.App {
	s := &Server{
		store:  store,
		notes:  notes,
		engine: eng,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(s.logRequests)
	s.routes(app)
	return app
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("latency", time.Since(start)).
		Msg("request")
	return err
}

func (s *Server) routes(app *fiber.App) {
	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := s.store.CreateSchema(c.Context()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := s.store.DropSchema(c.Context()); err != nil {
			return fail(c, err)
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Graphs (bulk) ─────────────────────────────────────────────────
	app.Post("/graphs", func(c fiber.Ctx) error {
		var g flow.Graph
		if err := c.Bind().JSON(&g); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		if err := validateGraph(&g); err != nil {
			return fail(c, err)
		}
		result, err := s.store.CreateGraph(c.Context(), &g)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	app.Get("/graphs/:id", func(c fiber.Ctx) error {
		g, err := s.store.GetGraph(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		if g == nil {
			return fail(c, flow.ErrGraphNotFound)
		}
		return c.JSON(g)
	})

	app.Delete("/graphs/:id", func(c fiber.Ctx) error {
		if err := s.store.DeleteGraph(c.Context(), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// ── Nodes ─────────────────────────────────────────────────────────
	app.Post("/graphs/:id/nodes", func(c fiber.Ctx) error {
		var node flow.Node
		if err := c.Bind().JSON(&node); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		if node.Status != "" && !node.Status.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid status"})
		}
		id, err := s.store.AddNode(c.Context(), c.Params("id"), &node)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	})

	app.Get("/graphs/:id/nodes", func(c fiber.Ctx) error {
		nodes, err := s.store.ListNodes(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(nodes)
	})

	app.Get("/nodes/:id", func(c fiber.Ctx) error {
		n, err := s.store.GetNode(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		if n == nil {
			return fail(c, flow.ErrNodeNotFound)
		}
		return c.JSON(n)
	})

	app.Put("/nodes/:id", func(c fiber.Ctx) error {
		var node flow.Node
		if err := c.Bind().JSON(&node); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		node.ID = c.Params("id")
		if err := s.store.UpdateNode(c.Context(), &node); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/nodes/:id", func(c fiber.Ctx) error {
		if err := s.store.DeleteNode(c.Context(), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// ── Edges ─────────────────────────────────────────────────────────
	app.Post("/graphs/:id/edges", func(c fiber.Ctx) error {
		var edge flow.Edge
		if err := c.Bind().JSON(&edge); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
		g, err := s.store.GetGraph(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		if g == nil {
			return fail(c, flow.ErrGraphNotFound)
		}
		if err := flow.ValidateAcyclic(g.Nodes, append(g.Edges, edge)); err != nil {
			return fail(c, err)
		}
		id, err := s.store.AddEdge(c.Context(), g.ID, &edge)
		if err != nil {
			return fail(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	})

	app.Get("/graphs/:id/edges", func(c fiber.Ctx) error {
		edges, err := s.store.ListEdges(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(edges)
	})

	app.Get("/edges/:id", func(c fiber.Ctx) error {
		e, err := s.store.GetEdge(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		if e == nil {
			return fail(c, flow.ErrEdgeNotFound)
		}
		return c.JSON(e)
	})

	app.Delete("/edges/:id", func(c fiber.Ctx) error {
		if err := s.store.DeleteEdge(c.Context(), c.Params("id")); err != nil {
			return fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	// ── Automation ────────────────────────────────────────────────────
	app.Post("/graphs/:id/recompute", func(c fiber.Ctx) error {
		res, err := s.engine.Recompute(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(res)
	})

	app.Post("/graphs/:id/nodes/:node/cascade", func(c fiber.Ctx) error {
		res, err := s.engine.OnNodeCompleted(c.Context(), c.Params("id"), c.Params("node"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(res)
	})

	app.Post("/nodes/:id/complete", func(c fiber.Ctx) error {
		res, err := s.engine.CompleteNode(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(res)
	})

	app.Post("/nodes/:id/confirm-order", func(c fiber.Ctx) error {
		res, err := s.engine.ConfirmMaterialOrder(c.Context(), c.Params("id"))
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(res)
	})

	// ── Notifications ─────────────────────────────────────────────────
	app.Get("/notifications", func(c fiber.Ctx) error {
		userID := c.Query("user_id")
		if userID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
		}
		notes, err := s.notes.ListNotifications(c.Context(), userID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(notes)
	})

	if s.gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// validateGraph rejects a bulk graph whose edges, resolved through node refs, form a cycle.
func validateGraph(g *flow.Graph) error {
	key := func(id, ref string) string {
		if id != "" {
			return id
		}
		return "ref:" + ref
	}
	nodes := make([]flow.Node, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = flow.Node{ID: key(n.ID, n.Ref)}
	}
	edges := make([]flow.Edge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = flow.Edge{FromNodeID: key(e.FromNodeID, e.FromNodeRef), ToNodeID: key(e.ToNodeID, e.ToNodeRef)}
	}
	return flow.ValidateAcyclic(nodes, edges)
}

// fail maps err to a status code and a JSON error body.
func fail(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, flow.ErrGraphNotFound):
		status, msg = fiber.StatusNotFound, "graph not found"
	case errors.Is(err, flow.ErrNodeNotFound):
		status, msg = fiber.StatusNotFound, "node not found"
	case errors.Is(err, flow.ErrEdgeNotFound):
		status, msg = fiber.StatusNotFound, "edge not found"
	case errors.Is(err, flow.ErrCycleDetected):
		status, msg = fiber.StatusUnprocessableEntity, "cycle detected"
	case errors.Is(err, flow.ErrNoLaunchNode),
		errors.Is(err, flow.ErrNodeNotDone),
		errors.Is(err, flow.ErrNotMaterialOrder):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrLockNotAcquired):
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
