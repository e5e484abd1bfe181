package engine

import "github.com/meikuraledutech/flow"

// topology is the adjacency view of a graph, with nodes in store order.
type topology struct {
	order    []string
	nodes    map[string]flow.Node
	parents  map[string][]string
	children map[string][]string
}

func newTopology(g *flow.Graph) *topology {
	t := &topology{
		order:    make([]string, 0, len(g.Nodes)),
		nodes:    make(map[string]flow.Node, len(g.Nodes)),
		parents:  make(map[string][]string),
		children: make(map[string][]string),
	}
	for _, n := range g.Nodes {
		t.order = append(t.order, n.ID)
		t.nodes[n.ID] = n
	}
	for _, e := range g.Edges {
		// Edges to nodes outside the graph are ignored.
		if _, ok := t.nodes[e.FromNodeID]; !ok {
			continue
		}
		if _, ok := t.nodes[e.ToNodeID]; !ok {
			continue
		}
		t.children[e.FromNodeID] = append(t.children[e.FromNodeID], e.ToNodeID)
		t.parents[e.ToNodeID] = append(t.parents[e.ToNodeID], e.FromNodeID)
	}
	return t
}

// reachable returns the nodes reachable from root, root included.
func (t *topology) reachable(root string) map[string]bool {
	seen := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range t.children[id] {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	return seen
}

// levels orders the reachable nodes except root by Kahn's algorithm; a pass
// evaluates and reports nodes in this order.
// Every node of a level has all its reachable parents in earlier levels.
// Nodes that sit on or behind a cycle cannot be ordered and are returned
// separately, in store order.
func (t *topology) levels(root string, reach map[string]bool) (levels [][]string, cyclic []string) {
	indeg := make(map[string]int, len(reach))
	for id := range reach {
		for _, p := range t.parents[id] {
			if reach[p] {
				indeg[id]++
			}
		}
	}

	placed := map[string]bool{root: true}
	current := []string{root}
	for len(current) > 0 {
		var next []string
		for _, id := range current {
			for _, c := range t.children[id] {
				if !reach[c] {
					continue
				}
				indeg[c]--
				if indeg[c] == 0 && !placed[c] {
					placed[c] = true
					next = append(next, c)
				}
			}
		}
		if len(next) > 0 {
			levels = append(levels, t.sorted(next))
		}
		current = next
	}

	for _, id := range t.order {
		if reach[id] && !placed[id] {
			cyclic = append(cyclic, id)
		}
	}
	return levels, cyclic
}

// sorted returns ids in store order.
func (t *topology) sorted(ids []string) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range t.order {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}

// nearestQuoteAncestor walks parents breadth-first and returns the closest
// node of type quote, or nil.
func (t *topology) nearestQuoteAncestor(id string) *flow.Node {
	seen := map[string]bool{id: true}
	queue := append([]string(nil), t.parents[id]...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p] {
			continue
		}
		seen[p] = true
		if n := t.nodes[p]; n.Type == flow.ActionQuote {
			return &n
		}
		queue = append(queue, t.parents[p]...)
	}
	return nil
}
