// Package summary walks a finalized graph and produces a serializable view of
// it: nodes in dependency order, edges, inputs, outputs and subgraphs. One
// Graph summary is produced per graph, recursing into subgraphs.
package summary

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/hicann/ge-sub007/pkg/graph"
	"github.com/hicann/ge-sub007/pkg/symbolic"
)

// Tensor is the JSON form of a tensor descriptor.
type Tensor struct {
	DataType     string   `json:"dtype"`
	OriginFormat string   `json:"originFormat"`
	Format       string   `json:"format"`
	OriginShape  []int64  `json:"originShape"`
	Shape        []int64  `json:"shape"`
	SymbolShape  []string `json:"symbolShape,omitempty"`
}

// Node is the JSON form of a graph node.
type Node struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Inputs  []Tensor          `json:"inputs"`
	Outputs []Tensor          `json:"outputs"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Orphan  bool              `json:"orphan,omitempty"`
}

// Edge is a data edge between two node slots.
type Edge struct {
	Src      string `json:"src"`
	SrcIndex int    `json:"srcIndex"`
	Dst      string `json:"dst"`
	DstIndex int    `json:"dstIndex"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", e.Src, e.SrcIndex, e.Dst, e.DstIndex)
}

// Graph is the summary of one graph.
type Graph struct {
	Name      string   `json:"name"`
	Inputs    []string `json:"inputs"`
	Outputs   []string `json:"outputs"`
	Nodes     []Node   `json:"nodes"`
	Edges     []Edge   `json:"edges"`
	Subgraphs []Graph  `json:"subgraphs"`
}

// Summarize walks g from its declared outputs and NetOutput node toward the
// graph inputs. Nodes are listed producers first; nodes that feed no output
// follow in insertion order with Orphan set. Summarize never mutates g.
func Summarize(g *graph.Graph) (*Graph, error) {
	if g == nil {
		return nil, nil
	}

	s := &Graph{
		Name:      g.Name(),
		Inputs:    inputNames(g),
		Outputs:   lo.Map(g.Outputs(), func(r graph.OutputRef, _ int) string { return r.String() }),
		Nodes:     []Node{},
		Subgraphs: []Graph{},
	}

	w := &walker{visited: make(map[*graph.Node]bool)}
	for _, r := range g.Outputs() {
		if err := w.walk(r.Node); err != nil {
			return nil, fmt.Errorf("summary: walking output %s: %w", r, err)
		}
	}
	for _, n := range g.Nodes() {
		if n.Type() == graph.OpNetOutput {
			if err := w.walk(n); err != nil {
				return nil, fmt.Errorf("summary: walking %s: %w", n.Name(), err)
			}
		}
	}
	for _, n := range w.order {
		sn, err := summarizeNode(n)
		if err != nil {
			return nil, err
		}
		s.Nodes = append(s.Nodes, sn)
	}
	for _, n := range g.Nodes() {
		if w.visited[n] {
			continue
		}
		sn, err := summarizeNode(n)
		if err != nil {
			return nil, err
		}
		sn.Orphan = true
		s.Nodes = append(s.Nodes, sn)
	}

	s.Edges = lo.Map(g.Edges(), func(e *graph.Edge, _ int) Edge {
		return Edge{Src: e.Src.Node.Name(), SrcIndex: e.Src.Index, Dst: e.Dst.Name(), DstIndex: e.DstIndex}
	})

	for _, sg := range g.Subgraphs() {
		child, err := Summarize(sg)
		if err != nil {
			return nil, fmt.Errorf("summary: subgraph %s: %w", sg.Name(), err)
		}
		s.Subgraphs = append(s.Subgraphs, *child)
	}
	return s, nil
}

// walker records nodes in post-order: every producer before its consumers.
type walker struct {
	visited map[*graph.Node]bool
	order   []*graph.Node
}

func (w *walker) walk(n *graph.Node) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if w.visited[n] {
		return nil
	}
	w.visited[n] = true
	for i := 0; i < n.NumInputs(); i++ {
		src, ok := n.Producer(i)
		if !ok {
			continue
		}
		if err := w.walk(src.Node); err != nil {
			return err
		}
	}
	w.order = append(w.order, n)
	return nil
}

// inputNames lists graph input nodes by their index attribute.
func inputNames(g *graph.Graph) []string {
	inputs := lo.Filter(g.Nodes(), func(n *graph.Node, _ int) bool {
		return graph.IsGraphInputOp(n.Type())
	})
	sort.SliceStable(inputs, func(i, j int) bool {
		return inputIndex(inputs[i]) < inputIndex(inputs[j])
	})
	return lo.Map(inputs, func(n *graph.Node, _ int) string { return n.Name() })
}

func inputIndex(n *graph.Node) int64 {
	if v, ok := n.Attr("index"); ok {
		if i, ok := v.(int64); ok {
			return i
		}
	}
	return -1
}

func summarizeNode(n *graph.Node) (Node, error) {
	sn := Node{
		Name:    n.Name(),
		Type:    n.Type(),
		Inputs:  make([]Tensor, n.NumInputs()),
		Outputs: make([]Tensor, n.NumOutputs()),
	}
	for i := range sn.Inputs {
		d, err := n.InputDesc(i)
		if err != nil {
			return Node{}, fmt.Errorf("summary: %w", err)
		}
		sn.Inputs[i] = summarizeDesc(d)
	}
	for i := range sn.Outputs {
		d, err := n.OutputDesc(i)
		if err != nil {
			return Node{}, fmt.Errorf("summary: %w", err)
		}
		sn.Outputs[i] = summarizeDesc(d)
	}
	if names := n.AttrNames(); len(names) > 0 {
		sn.Attrs = make(map[string]string, len(names))
		for _, name := range names {
			v, _ := n.Attr(name)
			sn.Attrs[name] = formatAttr(v)
		}
	}
	return sn, nil
}

func summarizeDesc(d graph.TensorDesc) Tensor {
	t := Tensor{
		DataType:     d.DataType.String(),
		OriginFormat: d.OriginFormat.String(),
		Format:       d.Format.String(),
		OriginShape:  nonNil(d.OriginShape),
		Shape:        nonNil(d.Shape),
	}
	if grp, ok := d.AttrGroup(symbolic.GroupName); ok {
		if s, ok := grp.(symbolic.Shape); ok {
			t.SymbolShape = lo.Map(s, func(e symbolic.Expr, _ int) string { return e.String() })
		}
	}
	return t
}

// nonNil keeps scalar shapes as [] rather than null in JSON.
func nonNil(s graph.Shape) []int64 {
	if s == nil {
		return []int64{}
	}
	return []int64(s.Clone())
}

func formatAttr(v any) string {
	switch x := v.(type) {
	case graph.TensorValue:
		return fmt.Sprintf("%s (%d bytes)", x.Desc, len(x.Data))
	case []int64:
		return graph.Shape(x).String()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// Text renders s as indented plain text, one line per node.
func (s *Graph) Text() string {
	var sb strings.Builder
	s.writeText(&sb, "")
	return sb.String()
}

func (s *Graph) writeText(sb *strings.Builder, indent string) {
	fmt.Fprintf(sb, "%sgraph %s\n", indent, s.Name)
	fmt.Fprintf(sb, "%s  inputs:  [%s]\n", indent, strings.Join(s.Inputs, ", "))
	fmt.Fprintf(sb, "%s  outputs: [%s]\n", indent, strings.Join(s.Outputs, ", "))
	for _, n := range s.Nodes {
		outs := lo.Map(n.Outputs, func(t Tensor, _ int) string {
			return fmt.Sprintf("%s %s%s", t.DataType, t.Format, graph.Shape(t.Shape))
		})
		mark := ""
		if n.Orphan {
			mark = " (orphan)"
		}
		fmt.Fprintf(sb, "%s  %s %s -> [%s]%s\n", indent, n.Type, n.Name, strings.Join(outs, ", "), mark)
	}
	for _, e := range s.Edges {
		fmt.Fprintf(sb, "%s  edge %s\n", indent, e)
	}
	for i := range s.Subgraphs {
		s.Subgraphs[i].writeText(sb, indent+"  ")
	}
}
