package graph

import "fmt"

// Graph is a dataflow graph: named nodes connected by data edges, an ordered
// list of declared outputs, and the subgraphs registered under it.
//
// A Graph is not safe for concurrent mutation.
type Graph struct {
	name   string
	nodes  []*Node
	byName map[string]*Node
	edges  []*Edge

	outputs []OutputRef

	subgraphs  []*Graph
	parent     *Graph
	parentNode *Node
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		byName: make(map[string]*Node),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// AddNode creates a node from spec. Node names are unique within the graph.
func (g *Graph) AddNode(spec NodeSpec) (*Node, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: node of type %s has no name", ErrEmptyName, spec.Type)
	}
	if _, exists := g.byName[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %q in graph %s", ErrDuplicateNode, spec.Name, g.name)
	}
	n, err := newNode(g, spec)
	if err != nil {
		return nil, err
	}
	g.nodes = append(g.nodes, n)
	g.byName[n.name] = n
	return n, nil
}

// RemoveNode deletes a node together with every edge touching it and every
// declared output it produces.
func (g *Graph) RemoveNode(name string) error {
	n, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q in graph %s", ErrNodeNotFound, name, g.name)
	}

	kept := g.edges[:0]
	for _, e := range g.edges {
		if e.Src.Node == n || e.Dst == n {
			e.Dst.inputs[e.DstIndex].edge = nil
			continue
		}
		kept = append(kept, e)
	}
	g.edges = kept

	outs := g.outputs[:0]
	for _, r := range g.outputs {
		if r.Node != n {
			outs = append(outs, r)
		}
	}
	g.outputs = outs

	for i, m := range g.nodes {
		if m == n {
			g.nodes = append(g.nodes[:i], g.nodes[i+1:]...)
			break
		}
	}
	delete(g.byName, name)
	n.owner = nil
	return nil
}

// Node returns the node with the given name, or nil.
func (g *Graph) Node(name string) *Node {
	return g.byName[name]
}

// Nodes returns the nodes in creation order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// AddDataEdge connects output srcIdx of src to input dstIdx of dst. Both
// nodes must belong to g and the input slot must be free.
func (g *Graph) AddDataEdge(src *Node, srcIdx int, dst *Node, dstIdx int) error {
	if src == nil || dst == nil {
		return fmt.Errorf("%w: nil endpoint", ErrNodeNotFound)
	}
	if src.owner != g {
		return fmt.Errorf("%w: %s is not in graph %s", ErrForeignNode, src.name, g.name)
	}
	if dst.owner != g {
		return fmt.Errorf("%w: %s is not in graph %s", ErrForeignNode, dst.name, g.name)
	}
	if srcIdx < 0 || srcIdx >= len(src.outputs) {
		return fmt.Errorf("%w: %s output %d of %d", ErrSlotOutOfRange, src.name, srcIdx, len(src.outputs))
	}
	if dstIdx < 0 || dstIdx >= len(dst.inputs) {
		return fmt.Errorf("%w: %s input %d of %d", ErrSlotOutOfRange, dst.name, dstIdx, len(dst.inputs))
	}
	if prev := dst.inputs[dstIdx].edge; prev != nil {
		return fmt.Errorf("%w: %s input %d is fed by %s", ErrSlotConnected, dst.name, dstIdx, prev.Src)
	}
	e := &Edge{Src: OutputRef{Node: src, Index: srcIdx}, Dst: dst, DstIndex: dstIdx}
	dst.inputs[dstIdx].edge = e
	g.edges = append(g.edges, e)
	return nil
}

// Edges returns the data edges in creation order.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Consumers returns the edges leaving the given output slot.
func (g *Graph) Consumers(ref OutputRef) []*Edge {
	var out []*Edge
	for _, e := range g.edges {
		if e.Src == ref {
			out = append(out, e)
		}
	}
	return out
}

// SetOutputs replaces the declared output list. Every reference must name an
// existing output slot of a node in g.
func (g *Graph) SetOutputs(refs []OutputRef) error {
	for i, r := range refs {
		if r.Node == nil || r.Node.owner != g {
			return fmt.Errorf("%w: output %d (%s) is not in graph %s", ErrForeignNode, i, r, g.name)
		}
		if r.Index < 0 || r.Index >= len(r.Node.outputs) {
			return fmt.Errorf("%w: output %d (%s)", ErrSlotOutOfRange, i, r)
		}
	}
	g.outputs = append([]OutputRef(nil), refs...)
	return nil
}

// Outputs returns the declared outputs in order.
func (g *Graph) Outputs() []OutputRef {
	return append([]OutputRef(nil), g.outputs...)
}

// ---------------------------------------------------------------------------
// Subgraphs
// ---------------------------------------------------------------------------

// AddSubgraph registers sg as a direct subgraph of g. Names are unique among
// g's direct subgraphs, sg must not be registered anywhere else, and sg must
// not be an ancestor of g.
func (g *Graph) AddSubgraph(sg *Graph) error {
	if sg == nil || sg == g {
		return fmt.Errorf("%w: invalid subgraph for %s", ErrSubgraphNotFound, g.name)
	}
	if sg.parent != nil {
		return fmt.Errorf("%w: %s is registered under %s", ErrSubgraphAttached, sg.name, sg.parent.name)
	}
	for a := g.parent; a != nil; a = a.parent {
		if a == sg {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrSubgraphCycle, sg.name, g.name)
		}
	}
	if g.Subgraph(sg.name) != nil {
		return fmt.Errorf("%w: %q under %s", ErrDuplicateSubgraph, sg.name, g.name)
	}
	g.subgraphs = append(g.subgraphs, sg)
	sg.parent = g
	return nil
}

// RemoveSubgraph unregisters the direct subgraph with the given name and
// returns it detached.
func (g *Graph) RemoveSubgraph(name string) (*Graph, error) {
	for i, sg := range g.subgraphs {
		if sg.name == name {
			g.subgraphs = append(g.subgraphs[:i], g.subgraphs[i+1:]...)
			sg.parent = nil
			return sg, nil
		}
	}
	return nil, fmt.Errorf("%w: %q under %s", ErrSubgraphNotFound, name, g.name)
}

// Subgraph returns the direct subgraph with the given name, or nil.
func (g *Graph) Subgraph(name string) *Graph {
	for _, sg := range g.subgraphs {
		if sg.name == name {
			return sg
		}
	}
	return nil
}

// Subgraphs returns the direct subgraphs in registration order.
func (g *Graph) Subgraphs() []*Graph {
	out := make([]*Graph, len(g.subgraphs))
	copy(out, g.subgraphs)
	return out
}

// Parent returns the graph sg is registered under, or nil for a root.
func (g *Graph) Parent() *Graph { return g.parent }

// ParentNode returns the node that invokes this graph (e.g. a control-flow
// op), or nil. It is independent of Parent: flattening moves registration
// to the root but keeps the invoking node.
func (g *Graph) ParentNode() *Node { return g.parentNode }

// SetParentNode records the node that invokes this graph.
func (g *Graph) SetParentNode(n *Node) { g.parentNode = n }

func (g *Graph) String() string {
	return fmt.Sprintf("graph %s (%d nodes, %d edges, %d subgraphs)", g.name, len(g.nodes), len(g.edges), len(g.subgraphs))
}
