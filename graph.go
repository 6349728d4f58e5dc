package bluebonnet

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// End is the terminal node name. An edge to End finishes the run.
const End = "END"

// NodeFunc is one pipeline stage: a pure function of the input state that
// returns a partial state patch. Nodes must observe ctx on every I/O call.
type NodeFunc func(ctx context.Context, s *State) (*Patch, error)

// RouteFunc picks the next node after a conditional edge.
type RouteFunc func(s *State) string

// Graph is a minimal typed pipeline graph: named nodes, static edges, and
// optional conditional edges. Execution is single-threaded per request;
// concurrency across requests is the caller's.
type Graph struct {
	entry     string
	nodes     map[string]NodeFunc
	edges     map[string]string
	routes    map[string]RouteFunc
	nodeOrder []string
	logger    *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// GraphLogger sets the structured logger for node transitions.
func GraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.logger = l }
}

// NewGraph creates an empty graph. Add nodes and edges, then set the entry
// point before running.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		nodes:  make(map[string]NodeFunc),
		edges:  make(map[string]string),
		routes: make(map[string]RouteFunc),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	return g
}

// AddNode registers a named node. Duplicate names error.
func (g *Graph) AddNode(name string, fn NodeFunc) error {
	if name == End {
		return fmt.Errorf("graph: %q is reserved", End)
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("graph: duplicate node %q", name)
	}
	g.nodes[name] = fn
	g.nodeOrder = append(g.nodeOrder, name)
	return nil
}

// AddEdge declares a static edge from one node to the next (or to End).
func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkEndpoint(from, false); err != nil {
		return err
	}
	if err := g.checkEndpoint(to, true); err != nil {
		return err
	}
	if _, exists := g.edges[from]; exists {
		return fmt.Errorf("graph: node %q already has an outgoing edge", from)
	}
	if _, exists := g.routes[from]; exists {
		return fmt.Errorf("graph: node %q already has a conditional edge", from)
	}
	g.edges[from] = to
	return nil
}

// AddConditionalEdge declares a routed edge: after from runs, route picks the
// next node by name. Every name route can return must be a registered node
// or End.
func (g *Graph) AddConditionalEdge(from string, route RouteFunc) error {
	if err := g.checkEndpoint(from, false); err != nil {
		return err
	}
	if _, exists := g.edges[from]; exists {
		return fmt.Errorf("graph: node %q already has an outgoing edge", from)
	}
	g.routes[from] = route
	return nil
}

// SetEntry sets the node execution starts at.
func (g *Graph) SetEntry(name string) error {
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("graph: entry node %q not registered", name)
	}
	g.entry = name
	return nil
}

func (g *Graph) checkEndpoint(name string, allowEnd bool) error {
	if name == End {
		if allowEnd {
			return nil
		}
		return fmt.Errorf("graph: %q cannot have outgoing edges", End)
	}
	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("graph: node %q not registered", name)
	}
	return nil
}

// Run executes the graph over s, applying each node's patch before following
// its edge. Cancellation is checked before every node; a context error stops
// the run immediately with no partial result applied beyond completed nodes.
// With s.Debug set, each node appends a DebugRecord to s.DebugInfo.
func (g *Graph) Run(ctx context.Context, s *State) error {
	if g.entry == "" {
		return fmt.Errorf("graph: no entry node set")
	}
	// Safety bound: the pipeline is acyclic, so visiting more nodes than
	// exist means a wiring bug.
	maxSteps := len(g.nodes) + 1

	current := g.entry
	for steps := 0; current != End; steps++ {
		if steps >= maxSteps {
			return fmt.Errorf("graph: exceeded %d steps at node %q (cycle?)", maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fn, ok := g.nodes[current]
		if !ok {
			return fmt.Errorf("graph: route led to unknown node %q", current)
		}

		start := time.Now()
		inputs := summarizeState(s)
		patch, err := fn(ctx, s)
		if err != nil {
			return fmt.Errorf("node %s: %w", current, err)
		}
		patch.apply(s)
		elapsed := time.Since(start)

		g.logger.Debug("node completed", "node", current, "elapsed", elapsed)
		if s.Debug {
			rec := DebugRecord{
				Node:      current,
				ElapsedMS: elapsed.Milliseconds(),
				Inputs:    inputs,
				Outputs:   summarizeState(s),
				At:        start,
				Elapsed:   elapsed,
			}
			if patch != nil && patch.DebugNote != "" {
				rec.Outputs += "; " + patch.DebugNote
			}
			s.DebugInfo = append(s.DebugInfo, rec)
		}

		next, err := g.next(current, s)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

func (g *Graph) next(from string, s *State) (string, error) {
	if route, ok := g.routes[from]; ok {
		next := route(s)
		if next != End {
			if _, ok := g.nodes[next]; !ok {
				return "", fmt.Errorf("graph: route from %q returned unknown node %q", from, next)
			}
		}
		return next, nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return "", fmt.Errorf("graph: node %q has no outgoing edge", from)
}

// summarizeState renders the load-bearing state fields for debug records.
func summarizeState(s *State) string {
	return fmt.Sprintf("query=%q reformulated=%q intent=%s retrieved=%d reranked=%d answer_len=%d",
		s.Query, s.ReformulatedQuery, s.Intent, len(s.RetrievedChunks), len(s.RerankedChunks), len(s.Answer))
}
