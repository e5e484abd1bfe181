package flow

import (
	"encoding/json"
	"strings"
)

// ActionType is the closed set of node categories understood by the engine.
type ActionType string

const (
	ActionLaunch        ActionType = "launch"
	ActionQuote         ActionType = "quote"
	ActionInvoice       ActionType = "invoice"
	ActionClientChoice  ActionType = "client_choice"
	ActionMaterialOrder ActionType = "material_order"
	ActionEmail         ActionType = "email"
	ActionCalendar      ActionType = "calendar"
	ActionManual        ActionType = "manual"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionLaunch,
	ActionQuote,
	ActionInvoice,
	ActionClientChoice,
	ActionMaterialOrder,
	ActionEmail,
	ActionCalendar,
	ActionManual,
}

// ParseActionType normalizes an editor-provided action type.
// Legacy aliases are folded into their canonical type and anything
// unrecognized becomes ActionManual.
func ParseActionType(s string) ActionType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "launch":
		return ActionLaunch
	case "quote", "create_quote", "devis":
		return ActionQuote
	case "invoice", "payment", "facture":
		return ActionInvoice
	case "client_choice":
		return ActionClientChoice
	case "material_order":
		return ActionMaterialOrder
	case "email":
		return ActionEmail
	case "calendar":
		return ActionCalendar
	default:
		return ActionManual
	}
}

// UnmarshalJSON accepts any string and normalizes it with ParseActionType.
func (t *ActionType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseActionType(s)
	return nil
}

// Status is the derived state of a node.
type Status string

const (
	StatusPending Status = "pending"
	StatusWaiting Status = "waiting"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusDone, StatusError:
		return true
	}
	return false
}

// Graph is the process graph of one project.
type Graph struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
}

// Node is a single step of a process graph.
// Ref is a temporary key used only during CreateGraph for edge wiring; it is never persisted.
type Node struct {
	ID       string          `json:"id,omitempty"`
	Ref      string          `json:"ref,omitempty"`
	GraphID  string          `json:"graph_id,omitempty"`
	Type     ActionType      `json:"action_type"`
	Status   Status          `json:"status"`
	Label    string          `json:"label,omitempty"`
	Config   NodeConfig      `json:"config"`
	State    AutomationState `json:"automation_state"`
	Position Position        `json:"position"`
}

// NodeConfig is operator-owned configuration set from the graph editor.
// The engine reads it but never writes it.
type NodeConfig struct {
	// QuoteID links the node to an explicit quote.
	QuoteID string `json:"quote_id,omitempty"`

	// Recipient overrides the project contact for email and calendar steps.
	Recipient string `json:"recipient,omitempty"`

	Subject string `json:"subject,omitempty"`
	Message string `json:"message,omitempty"`

	// EventTitle, EventStart and EventLocation describe a calendar invite.
	EventTitle    string `json:"event_title,omitempty"`
	EventStart    string `json:"event_start,omitempty"`
	EventLocation string `json:"event_location,omitempty"`
}

// AutomationState holds the flags owned by the engine.
type AutomationState struct {
	// NotificationSent is set once a stock shortfall notification was created
	// for the current unresolved shortfall.
	NotificationSent bool `json:"notification_sent"`

	// OrderConfirmed is the operator bypass letting a material order complete
	// despite insufficient stock.
	OrderConfirmed bool `json:"order_confirmed"`
}

// Position is the editor canvas position. The engine ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between two nodes.
// FromNodeRef / ToNodeRef are temporary keys used only during CreateGraph; they are never persisted.
type Edge struct {
	ID          string `json:"id,omitempty"`
	GraphID     string `json:"graph_id,omitempty"`
	FromNodeID  string `json:"from_node_id,omitempty"`
	ToNodeID    string `json:"to_node_id,omitempty"`
	FromNodeRef string `json:"from_node_ref,omitempty"`
	ToNodeRef   string `json:"to_node_ref,omitempty"`
}

// LaunchNode returns the graph's launch node, or nil if it has none.
func (g *Graph) LaunchNode() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Type == ActionLaunch {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// ValidateAcyclic checks that the edges don't form a cycle using DFS.
func ValidateAcyclic(nodes []Node, edges []Edge) error {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.FromNodeID] = append(adj[e.FromNodeID], e.ToNodeID)
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int)
	for _, n := range nodes {
		state[n.ID] = unvisited
	}
	// Also include nodes referenced only in edges.
	for _, e := range edges {
		if _, ok := state[e.FromNodeID]; !ok {
			state[e.FromNodeID] = unvisited
		}
		if _, ok := state[e.ToNodeID]; !ok {
			state[e.ToNodeID] = unvisited
		}
	}

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting
		for _, next := range adj[id] {
			switch state[next] {
			case visiting:
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}

	for id, s := range state {
		if s == unvisited {
			if dfs(id) {
				return ErrCycleDetected
			}
		}
	}

	return nil
}
