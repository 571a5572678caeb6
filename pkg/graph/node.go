package graph

import (
	"fmt"
	"sort"
	"strconv"
)

// OutputRef names one output slot of a node.
type OutputRef struct {
	Node  *Node
	Index int
}

func (r OutputRef) String() string {
	if r.Node == nil {
		return "<nil>:" + strconv.Itoa(r.Index)
	}
	return r.Node.name + ":" + strconv.Itoa(r.Index)
}

// Edge is a data edge from a producer output slot to a consumer input slot.
type Edge struct {
	Src      OutputRef
	Dst      *Node
	DstIndex int
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s -> %s:%d", e.Src, e.Dst.name, e.DstIndex)
}

// NodeSpec describes a node to create. DynamicInputs and DynamicOutputs give
// the slot count for each dynamic input/output of the op definition; dynamic
// entries that are absent expand to zero slots.
type NodeSpec struct {
	Name           string
	Type           string
	DynamicInputs  map[string]int
	DynamicOutputs map[string]int
	Attrs          map[string]any
}

type port struct {
	name string
	desc TensorDesc
	edge *Edge // inputs only; nil when unconnected
	kind IOKind
}

// Node is one operator instance in a graph. Its slots are laid out in the
// order of the op definition, dynamic entries expanded to name0, name1, ...
type Node struct {
	name    string
	opType  string
	def     *OpDef
	inputs  []port
	outputs []port
	attrs   map[string]any
	owner   *Graph
}

func newNode(owner *Graph, spec NodeSpec) (*Node, error) {
	def, ok := LookupOp(spec.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q (node %q)", ErrUnknownOp, spec.Type, spec.Name)
	}
	inputs, err := expandIO(def.Type, def.Inputs, spec.DynamicInputs)
	if err != nil {
		return nil, err
	}
	outputs, err := expandIO(def.Type, def.Outputs, spec.DynamicOutputs)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]any, len(spec.Attrs))
	for name, v := range spec.Attrs {
		ad, ok := def.Attr(name)
		if !ok {
			return nil, fmt.Errorf("%w: op %s has no attribute %q", ErrBadAttr, def.Type, name)
		}
		if !ad.Kind.accepts(v) {
			return nil, fmt.Errorf("%w: attribute %q of op %s wants %s, got %T", ErrBadAttr, name, def.Type, ad.Kind, v)
		}
		attrs[name] = v
	}
	for _, ad := range def.Attrs {
		if _, ok := attrs[ad.Name]; ad.Required && !ok {
			return nil, fmt.Errorf("%w: op %s requires attribute %q", ErrBadAttr, def.Type, ad.Name)
		}
	}

	return &Node{
		name:    spec.Name,
		opType:  def.Type,
		def:     def,
		inputs:  inputs,
		outputs: outputs,
		attrs:   attrs,
		owner:   owner,
	}, nil
}

func expandIO(opType string, defs []IODef, dynamic map[string]int) ([]port, error) {
	for name, n := range dynamic {
		found := false
		for _, io := range defs {
			if io.Name == name && io.Kind == IODynamic {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: op %s has no dynamic %q", ErrBadIO, opType, name)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: op %s dynamic %q count %d", ErrBadIO, opType, name, n)
		}
	}
	var ports []port
	for _, io := range defs {
		if io.Kind != IODynamic {
			ports = append(ports, port{name: io.Name, kind: io.Kind})
			continue
		}
		for i := 0; i < dynamic[io.Name]; i++ {
			ports = append(ports, port{name: io.Name + strconv.Itoa(i), kind: IODynamic})
		}
	}
	return ports, nil
}

// Name returns the node name, unique within its graph.
func (n *Node) Name() string { return n.name }

// Type returns the operator type.
func (n *Node) Type() string { return n.opType }

// Def returns the operator definition the node was built from.
func (n *Node) Def() *OpDef { return n.def }

// Owner returns the graph that contains the node, or nil once removed.
func (n *Node) Owner() *Graph { return n.owner }

// NumInputs returns the number of input slots.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NumOutputs returns the number of output slots.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// InputName returns the slot name of input i, or "" when out of range.
func (n *Node) InputName(i int) string {
	if i < 0 || i >= len(n.inputs) {
		return ""
	}
	return n.inputs[i].name
}

// OutputName returns the slot name of output i, or "" when out of range.
func (n *Node) OutputName(i int) string {
	if i < 0 || i >= len(n.outputs) {
		return ""
	}
	return n.outputs[i].name
}

// OutputDesc returns a copy of output slot i's descriptor.
func (n *Node) OutputDesc(i int) (TensorDesc, error) {
	if i < 0 || i >= len(n.outputs) {
		return TensorDesc{}, fmt.Errorf("%w: node %s output %d of %d", ErrSlotOutOfRange, n.name, i, len(n.outputs))
	}
	return n.outputs[i].desc.Clone(), nil
}

// UpdateOutputDesc replaces output slot i's descriptor.
func (n *Node) UpdateOutputDesc(i int, d TensorDesc) error {
	if i < 0 || i >= len(n.outputs) {
		return fmt.Errorf("%w: node %s output %d of %d", ErrSlotOutOfRange, n.name, i, len(n.outputs))
	}
	n.outputs[i].desc = d.Clone()
	return nil
}

// InputDesc returns a copy of input slot i's descriptor.
func (n *Node) InputDesc(i int) (TensorDesc, error) {
	if i < 0 || i >= len(n.inputs) {
		return TensorDesc{}, fmt.Errorf("%w: node %s input %d of %d", ErrSlotOutOfRange, n.name, i, len(n.inputs))
	}
	return n.inputs[i].desc.Clone(), nil
}

// UpdateInputDesc replaces input slot i's descriptor.
func (n *Node) UpdateInputDesc(i int, d TensorDesc) error {
	if i < 0 || i >= len(n.inputs) {
		return fmt.Errorf("%w: node %s input %d of %d", ErrSlotOutOfRange, n.name, i, len(n.inputs))
	}
	n.inputs[i].desc = d.Clone()
	return nil
}

// Producer returns the output feeding input slot i. ok is false when the
// slot is unconnected or out of range.
func (n *Node) Producer(i int) (ref OutputRef, ok bool) {
	if i < 0 || i >= len(n.inputs) || n.inputs[i].edge == nil {
		return OutputRef{}, false
	}
	return n.inputs[i].edge.Src, true
}

// Attr returns the attribute value stored under name.
func (n *Node) Attr(name string) (any, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// SetAttr sets a declared attribute, checking its kind.
func (n *Node) SetAttr(name string, v any) error {
	ad, ok := n.def.Attr(name)
	if !ok {
		return fmt.Errorf("%w: op %s has no attribute %q", ErrBadAttr, n.opType, name)
	}
	if !ad.Kind.accepts(v) {
		return fmt.Errorf("%w: attribute %q of op %s wants %s, got %T", ErrBadAttr, name, n.opType, ad.Kind, v)
	}
	n.attrs[name] = v
	return nil
}

// AttrNames returns the names of the set attributes in sorted order.
func (n *Node) AttrNames() []string {
	names := make([]string, 0, len(n.attrs))
	for k := range n.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.name, n.opType)
}
