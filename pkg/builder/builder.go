package builder

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hicann/ge-sub007/pkg/graph"
)

// NetOutputName is the name of the sink node BuildGraphAndReset synthesizes.
const NetOutputName = "NetOutput"

// InputSpec describes a graph input. Empty Name defaults to "input_<index>"
// and empty Type to "Data".
type InputSpec struct {
	Name     string
	Type     string
	DataType graph.DataType
	Format   graph.Format
	Shape    graph.Shape
}

// GraphBuilder builds one graph. It moves from building to finalized exactly
// once, in BuildGraphAndReset.
type GraphBuilder struct {
	name  string
	graph *graph.Graph // nil once finalized

	nodeCounter int
	inputs      map[int]struct{}
	outputs     map[int]*TensorHandle

	arena   Arena
	closed  bool
	logger  *slog.Logger
	session uuid.UUID
}

// New returns a builder for a graph called name.
func New(name string, opts ...Option) *GraphBuilder {
	b := &GraphBuilder{
		name:    name,
		graph:   graph.New(name),
		inputs:  make(map[int]struct{}),
		outputs: make(map[int]*TensorHandle),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		session: uuid.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *GraphBuilder) log() *slog.Logger {
	return b.logger.With("graph", b.name, "session", b.session.String())
}

// Name returns the graph name.
func (b *GraphBuilder) Name() string { return b.name }

// SessionID returns the id carried by this builder's log records.
func (b *GraphBuilder) SessionID() uuid.UUID { return b.session }

// InputCount returns the number of registered graph inputs.
func (b *GraphBuilder) InputCount() int { return len(b.inputs) }

// OutputCount returns the number of registered graph outputs.
func (b *GraphBuilder) OutputCount() int { return len(b.outputs) }

// Finalized reports whether the graph has been handed off.
func (b *GraphBuilder) Finalized() bool { return b.graph == nil }

func (b *GraphBuilder) checkBuilding(op string) error {
	if b.closed {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if b.graph == nil {
		return fmt.Errorf("%s: %w", op, ErrFinalized)
	}
	return nil
}

// Graph returns the graph under construction, for call sites that need to
// create nodes or attach subgraphs directly.
func (b *GraphBuilder) Graph() (*graph.Graph, error) {
	if err := b.checkBuilding("Graph"); err != nil {
		return nil, err
	}
	return b.graph, nil
}

// GenerateNodeName returns "<opType>_<n>". n increases on every call and is
// never reused, even if the named node is later removed.
func (b *GraphBuilder) GenerateNodeName(opType string) string {
	name := opType + "_" + strconv.Itoa(b.nodeCounter)
	b.nodeCounter++
	return name
}

// AddGraphInput creates an input node for index and returns a handle to its
// output. All argument checks run before the graph is touched, and index is
// registered only once the node exists.
func (b *GraphBuilder) AddGraphInput(index int, spec InputSpec) (*TensorHandle, error) {
	if err := b.checkBuilding("AddGraphInput"); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("AddGraphInput: index %d: %w", index, ErrNegativeIndex)
	}
	opType := spec.Type
	if opType == "" {
		opType = graph.OpData
	}
	if !graph.IsGraphInputOp(opType) {
		return nil, fmt.Errorf("AddGraphInput: type %q (want Data, RefData, AippData or AnyData): %w",
			opType, ErrUnsupportedInputType)
	}
	if _, used := b.inputs[index]; used {
		return nil, fmt.Errorf("AddGraphInput: input index %d: %w", index, ErrDuplicateIndex)
	}
	name := spec.Name
	if name == "" {
		name = "input_" + strconv.Itoa(index)
	}

	n, err := b.graph.AddNode(graph.NodeSpec{
		Name:  name,
		Type:  opType,
		Attrs: map[string]any{"index": int64(index)},
	})
	if err != nil {
		return nil, err
	}
	desc := graph.NewTensorDesc(spec.DataType, spec.Format, spec.Shape)
	if err := n.UpdateInputDesc(0, desc); err != nil {
		return nil, err
	}
	if err := n.UpdateOutputDesc(0, desc); err != nil {
		return nil, err
	}
	b.inputs[index] = struct{}{}

	b.log().Debug("graph input added", "index", index, "node", name, "type", opType, "desc", desc.String())
	return b.newHandle(n, 0), nil
}

// AppendGraphInput adds an input at the next index, the current input count.
func (b *GraphBuilder) AppendGraphInput(spec InputSpec) (*TensorHandle, error) {
	return b.AddGraphInput(len(b.inputs), spec)
}

// SetGraphOutput records t as graph output outputIndex. The graph itself is
// not changed until BuildGraphAndReset.
func (b *GraphBuilder) SetGraphOutput(t *TensorHandle, outputIndex int) error {
	if err := b.checkBuilding("SetGraphOutput"); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("SetGraphOutput: output %d: %w", outputIndex, ErrNilTensor)
	}
	if !t.Valid() {
		return fmt.Errorf("SetGraphOutput: output %d: %w", outputIndex, ErrInvalidHandle)
	}
	if t.owner != b {
		return fmt.Errorf("SetGraphOutput: %s into graph %s: %w", t, b.name, ErrForeignTensor)
	}
	if outputIndex < 0 {
		return fmt.Errorf("SetGraphOutput: index %d: %w", outputIndex, ErrNegativeIndex)
	}
	if _, used := b.outputs[outputIndex]; used {
		return fmt.Errorf("SetGraphOutput: output index %d: %w", outputIndex, ErrDuplicateIndex)
	}
	b.outputs[outputIndex] = t
	b.log().Debug("graph output set", "index", outputIndex, "tensor", t.String())
	return nil
}

// AddOp creates a node of a registered op type, named by GenerateNodeName,
// and wires inputs to consecutive input slots. A nil input leaves its slot
// unconnected. If the op has a dynamic input, it receives every input past
// the fixed ones. Each output descriptor starts as a copy of the first
// connected input's descriptor.
func (b *GraphBuilder) AddOp(opType string, inputs []*TensorHandle, attrs map[string]any) ([]*TensorHandle, error) {
	if err := b.checkBuilding("AddOp"); err != nil {
		return nil, err
	}
	def, ok := graph.LookupOp(opType)
	if !ok {
		return nil, fmt.Errorf("AddOp: %w: %q", graph.ErrUnknownOp, opType)
	}
	for i, in := range inputs {
		if in == nil {
			continue
		}
		if !in.Valid() {
			return nil, fmt.Errorf("AddOp %s: input %d: %w", opType, i, ErrInvalidHandle)
		}
		if in.owner != b {
			return nil, fmt.Errorf("AddOp %s: input %d %s: %w", opType, i, in, ErrForeignTensor)
		}
	}

	spec := graph.NodeSpec{
		Name:  b.GenerateNodeName(opType),
		Type:  opType,
		Attrs: attrs,
	}
	dyn, fixed := dynamicInput(def)
	switch {
	case dyn != "" && len(inputs) > fixed:
		spec.DynamicInputs = map[string]int{dyn: len(inputs) - fixed}
	case dyn == "" && len(inputs) > fixed:
		return nil, fmt.Errorf("AddOp %s: %d inputs for %d slots: %w", opType, len(inputs), fixed, graph.ErrBadIO)
	}
	n, err := b.graph.AddNode(spec)
	if err != nil {
		return nil, err
	}

	var first *graph.TensorDesc
	for i, in := range inputs {
		if in == nil {
			continue
		}
		if err := b.graph.AddDataEdge(in.producer, in.index, n, i); err != nil {
			return nil, err
		}
		d, err := in.producer.OutputDesc(in.index)
		if err != nil {
			return nil, err
		}
		if err := n.UpdateInputDesc(i, d); err != nil {
			return nil, err
		}
		if first == nil {
			first = &d
		}
	}

	outs := make([]*TensorHandle, n.NumOutputs())
	for i := range outs {
		if first != nil {
			if err := n.UpdateOutputDesc(i, first.Clone()); err != nil {
				return nil, err
			}
		}
		outs[i] = b.newHandle(n, i)
	}
	b.log().Debug("op added", "node", n.Name(), "type", opType, "inputs", len(inputs))
	return outs, nil
}

// dynamicInput returns the name of def's dynamic input, if any, and the
// number of fixed inputs.
func dynamicInput(def *graph.OpDef) (string, int) {
	dyn := ""
	fixed := 0
	for _, io := range def.Inputs {
		if io.Kind == graph.IODynamic {
			if dyn == "" {
				dyn = io.Name
			}
			continue
		}
		fixed++
	}
	return dyn, fixed
}

// BuildGraphAndReset finalizes the graph and hands it to the caller. It
// succeeds at most once per builder.
//
// Index contiguity of inputs and outputs is checked before any mutation.
// Later steps (NetOutput synthesis, wiring and subgraph flattening) return
// graph errors unchanged and are not rolled back, so a failure there can
// leave the graph partially built.
func (b *GraphBuilder) BuildGraphAndReset() (*graph.Graph, error) {
	if err := b.checkBuilding("BuildGraphAndReset"); err != nil {
		return nil, err
	}
	if err := checkContiguous("input", lo.Keys(b.inputs)); err != nil {
		return nil, err
	}
	if err := checkContiguous("output", lo.Keys(b.outputs)); err != nil {
		return nil, err
	}

	g := b.graph
	count := len(b.outputs)
	netOutput, err := g.AddNode(graph.NodeSpec{
		Name:           NetOutputName,
		Type:           graph.OpNetOutput,
		DynamicInputs:  map[string]int{"x": count},
		DynamicOutputs: map[string]int{"y": count},
	})
	if err != nil {
		return nil, err
	}

	refs := make([]graph.OutputRef, 0, count)
	for i := 0; i < count; i++ {
		t := b.outputs[i]
		if !t.Valid() {
			return nil, fmt.Errorf("BuildGraphAndReset: output %d: %w", i, ErrInvalidHandle)
		}
		if err := g.AddDataEdge(t.producer, t.index, netOutput, i); err != nil {
			return nil, err
		}
		d, err := t.producer.OutputDesc(t.index)
		if err != nil {
			return nil, err
		}
		if err := netOutput.UpdateInputDesc(i, d); err != nil {
			return nil, err
		}
		if err := netOutput.UpdateOutputDesc(i, d); err != nil {
			return nil, err
		}
		refs = append(refs, graph.OutputRef{Node: t.producer, Index: t.index})
	}
	if err := g.SetOutputs(refs); err != nil {
		return nil, err
	}

	moved, err := flattenSubgraphs(g)
	if err != nil {
		return nil, err
	}

	b.graph = nil
	b.log().Info("graph built",
		"nodes", g.NodeCount(),
		"inputs", len(b.inputs),
		"outputs", count,
		"subgraphs", len(g.Subgraphs()),
		"flattened", moved)
	return g, nil
}

// checkContiguous fails unless indices is empty or exactly [0, len).
func checkContiguous(kind string, indices []int) error {
	if len(indices) == 0 {
		return nil
	}
	sort.Ints(indices)
	if lo.Min(indices) != 0 {
		return fmt.Errorf("BuildGraphAndReset: %s indices must start with 0, got %v: %w",
			kind, indices, ErrIndexNotContiguous)
	}
	if lo.Max(indices)+1 != len(indices) {
		return fmt.Errorf("BuildGraphAndReset: %s indices must be contiguous from 0 to %d, got %v: %w",
			kind, len(indices)-1, indices, ErrIndexNotContiguous)
	}
	return nil
}

// flattenSubgraphs moves every subgraph of a direct subgraph of root up to
// root. Only that one level is moved; deeper nesting stays where it is. A
// name already taken under root stops the walk with the child still under
// its old parent; children moved before that stay moved.
func flattenSubgraphs(root *graph.Graph) (int, error) {
	moved := 0
	for _, sg := range root.Subgraphs() {
		for _, child := range sg.Subgraphs() {
			if root.Subgraph(child.Name()) != nil {
				return moved, fmt.Errorf("BuildGraphAndReset: flattening %s from %s: %w",
					child.Name(), sg.Name(), graph.ErrDuplicateSubgraph)
			}
			if _, err := sg.RemoveSubgraph(child.Name()); err != nil {
				return moved, err
			}
			if err := root.AddSubgraph(child); err != nil {
				return moved, err
			}
			moved++
		}
	}
	return moved, nil
}

// Close releases the arena, invalidating every handle and running the
// release funcs of resources added with AddResource. An unfinalized graph
// is discarded. Close is idempotent.
func (b *GraphBuilder) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	held := b.arena.Len()
	b.arena.Release()
	b.graph = nil
	b.log().Debug("builder closed", "released", held)
	return nil
}
