package builder

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hicann/ge-sub007/pkg/graph"
)

func newBuilder(t *testing.T, name string, opts ...Option) *GraphBuilder {
	t.Helper()
	b := New(name, opts...)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func int64Input(name string) InputSpec {
	return InputSpec{Name: name, DataType: graph.DTInt64, Shape: graph.Shape{}}
}

// ----------------------------------------------------------------------------
// Graph inputs
// ----------------------------------------------------------------------------

func TestInputIndexPermutationsBuild(t *testing.T) {
	perms := [][]int{
		{0},
		{0, 1, 2, 3},
		{3, 1, 0, 2},
		{2, 0, 1},
		{4, 3, 2, 1, 0},
	}
	for _, perm := range perms {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			b := newBuilder(t, "g")
			for _, idx := range perm {
				_, err := b.AddGraphInput(idx, InputSpec{})
				require.NoError(t, err)
			}
			g, err := b.BuildGraphAndReset()
			require.NoError(t, err)
			for _, idx := range perm {
				n := g.Node(fmt.Sprintf("input_%d", idx))
				require.NotNil(t, n)
				v, _ := n.Attr("index")
				require.Equal(t, int64(idx), v)
			}
		})
	}
}

func TestInputIndexGapsFail(t *testing.T) {
	gaps := [][]int{
		{0, 2},
		{1},
		{1, 2},
		{0, 1, 3},
	}
	for _, idx := range gaps {
		t.Run(fmt.Sprint(idx), func(t *testing.T) {
			b := newBuilder(t, "g")
			for _, i := range idx {
				_, err := b.AddGraphInput(i, InputSpec{})
				require.NoError(t, err)
			}
			_, err := b.BuildGraphAndReset()
			require.ErrorIs(t, err, ErrIndexNotContiguous)
			require.Contains(t, err.Error(), "input indices")
		})
	}
}

func TestInputIndexMustStartWithZero(t *testing.T) {
	b := newBuilder(t, "g")
	_, err := b.AddGraphInput(1, int64Input("only"))
	require.NoError(t, err)

	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, ErrIndexNotContiguous)
	require.Contains(t, err.Error(), "must start with 0")
	require.Contains(t, err.Error(), "[1]")

	// Nothing was mutated: still building, no NetOutput.
	require.False(t, b.Finalized())
	g, err := b.Graph()
	require.NoError(t, err)
	require.Nil(t, g.Node(NetOutputName))
	require.Equal(t, 1, g.NodeCount())
}

func TestGapMessageListsIndices(t *testing.T) {
	b := newBuilder(t, "g")
	for _, i := range []int{2, 0, 5} {
		_, err := b.AddGraphInput(i, InputSpec{})
		require.NoError(t, err)
	}
	_, err := b.BuildGraphAndReset()
	require.ErrorIs(t, err, ErrIndexNotContiguous)
	require.Contains(t, err.Error(), "[0 2 5]")
}

func TestDuplicateInputIndex(t *testing.T) {
	b := newBuilder(t, "g")
	_, err := b.AddGraphInput(0, InputSpec{Name: "a"})
	require.NoError(t, err)

	_, err = b.AddGraphInput(0, InputSpec{Name: "b"})
	require.ErrorIs(t, err, ErrDuplicateIndex)
	require.Equal(t, 1, b.InputCount())

	g, err := b.Graph()
	require.NoError(t, err)
	require.Nil(t, g.Node("b"))
}

func TestNegativeInputIndex(t *testing.T) {
	b := newBuilder(t, "g")
	_, err := b.AddGraphInput(-1, InputSpec{Name: "neg"})
	require.ErrorIs(t, err, ErrNegativeIndex)
	require.Zero(t, b.InputCount())

	g, err := b.Graph()
	require.NoError(t, err)
	require.Zero(t, g.NodeCount())
}

func TestInputTypes(t *testing.T) {
	b := newBuilder(t, "g")

	h, err := b.AddGraphInput(0, InputSpec{})
	require.NoError(t, err)
	require.Equal(t, graph.OpData, h.Producer().Type())
	require.Equal(t, "input_0", h.Producer().Name())

	for i, typ := range []string{"RefData", "AippData", "AnyData"} {
		h, err := b.AddGraphInput(i+1, InputSpec{Type: typ})
		require.NoError(t, err)
		require.Equal(t, typ, h.Producer().Type())
	}

	_, err = b.AddGraphInput(4, InputSpec{Type: "Const"})
	require.ErrorIs(t, err, ErrUnsupportedInputType)
	_, err = b.AddGraphInput(4, InputSpec{Type: "data"})
	require.ErrorIs(t, err, ErrUnsupportedInputType)
	require.Equal(t, 4, b.InputCount())
}

func TestInputDescriptors(t *testing.T) {
	b := newBuilder(t, "g")
	h, err := b.AddGraphInput(0, InputSpec{
		Name:     "img",
		DataType: graph.DTFloat16,
		Format:   graph.FormatNCHW,
		Shape:    graph.Shape{1, 3, 224, 224},
	})
	require.NoError(t, err)

	want := graph.NewTensorDesc(graph.DTFloat16, graph.FormatNCHW, graph.Shape{1, 3, 224, 224})
	out, err := h.Desc()
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want.String(), out.String()))
	require.True(t, want.OriginShape.Equal(out.OriginShape))
	require.Equal(t, want.OriginFormat, out.OriginFormat)

	in, err := h.Producer().InputDesc(0)
	require.NoError(t, err)
	require.Equal(t, out.DataType, in.DataType)
	require.True(t, out.Shape.Equal(in.Shape))
}

func TestAppendGraphInput(t *testing.T) {
	b := newBuilder(t, "g")
	a, err := b.AppendGraphInput(InputSpec{Name: "a"})
	require.NoError(t, err)
	c, err := b.AppendGraphInput(InputSpec{})
	require.NoError(t, err)

	ia, _ := a.Producer().Attr("index")
	ic, _ := c.Producer().Attr("index")
	require.Equal(t, int64(0), ia)
	require.Equal(t, int64(1), ic)
	require.Equal(t, "input_1", c.Producer().Name())
}

func TestInputNameCollisionLeavesIndexFree(t *testing.T) {
	b := newBuilder(t, "g")
	_, err := b.AddGraphInput(0, InputSpec{Name: "x"})
	require.NoError(t, err)
	_, err = b.AddGraphInput(1, InputSpec{Name: "x"})
	require.ErrorIs(t, err, graph.ErrDuplicateNode)
	require.Equal(t, 1, b.InputCount())

	_, err = b.AddGraphInput(1, InputSpec{Name: "y"})
	require.NoError(t, err)
}

// ----------------------------------------------------------------------------
// Graph outputs
// ----------------------------------------------------------------------------

func TestSetGraphOutputErrors(t *testing.T) {
	b := newBuilder(t, "g")
	other := newBuilder(t, "other")

	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	foreign, err := other.AppendGraphInput(InputSpec{Name: "y"})
	require.NoError(t, err)

	require.ErrorIs(t, b.SetGraphOutput(nil, 0), ErrNilTensor)
	require.ErrorIs(t, b.SetGraphOutput(x, -1), ErrNegativeIndex)
	require.ErrorIs(t, b.SetGraphOutput(foreign, 0), ErrForeignTensor)

	require.NoError(t, b.SetGraphOutput(x, 0))
	require.ErrorIs(t, b.SetGraphOutput(x, 0), ErrDuplicateIndex)
	require.Equal(t, 1, b.OutputCount())

	// The same tensor may feed several outputs.
	require.NoError(t, b.SetGraphOutput(x, 1))
}

func TestSetGraphOutputDoesNotTouchGraph(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(x, 0))

	g, err := b.Graph()
	require.NoError(t, err)
	require.Equal(t, 1, g.NodeCount())
	require.Empty(t, g.Edges())
	require.Empty(t, g.Outputs())
}

func TestOutputIndexGapFails(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(x, 0))
	require.NoError(t, b.SetGraphOutput(x, 2))

	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, ErrIndexNotContiguous)
	require.Contains(t, err.Error(), "output indices")
	require.False(t, b.Finalized())
}

// ----------------------------------------------------------------------------
// BuildGraphAndReset
// ----------------------------------------------------------------------------

func TestBuildScenarioSingleOutput(t *testing.T) {
	b := newBuilder(t, "g")
	a, err := b.AddGraphInput(0, int64Input("a"))
	require.NoError(t, err)
	_, err = b.AddGraphInput(1, int64Input("b"))
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(a, 0))

	g, err := b.BuildGraphAndReset()
	require.NoError(t, err)
	require.Equal(t, "g", g.Name())

	net := g.Node(NetOutputName)
	require.NotNil(t, net)
	require.Equal(t, graph.OpNetOutput, net.Type())
	require.Equal(t, 1, net.NumInputs())
	require.Equal(t, 1, net.NumOutputs())

	src, ok := net.Producer(0)
	require.True(t, ok)
	require.Equal(t, "a", src.Node.Name())
	require.Equal(t, 0, src.Index)

	outs := g.Outputs()
	require.Len(t, outs, 1)
	require.Same(t, g.Node("a"), outs[0].Node)

	d, err := net.OutputDesc(0)
	require.NoError(t, err)
	require.Equal(t, graph.DTInt64, d.DataType)

	for _, e := range graph.Validate(g) {
		require.NotEqual(t, graph.SeverityError, e.Severity, e.Error())
	}
}

func TestNetOutputWiredByOutputIndex(t *testing.T) {
	b := newBuilder(t, "g")
	var ins []*TensorHandle
	for i := 0; i < 3; i++ {
		h, err := b.AppendGraphInput(InputSpec{Name: fmt.Sprintf("in%d", i), DataType: graph.DTFloat})
		require.NoError(t, err)
		ins = append(ins, h)
	}
	// Registered out of order; output i must come from want[i].
	want := []*TensorHandle{ins[2], ins[0], ins[1]}
	require.NoError(t, b.SetGraphOutput(want[2], 2))
	require.NoError(t, b.SetGraphOutput(want[0], 0))
	require.NoError(t, b.SetGraphOutput(want[1], 1))

	g, err := b.BuildGraphAndReset()
	require.NoError(t, err)
	net := g.Node(NetOutputName)
	require.Equal(t, 3, net.NumInputs())
	require.Equal(t, 3, net.NumOutputs())

	outs := g.Outputs()
	for i, h := range want {
		src, ok := net.Producer(i)
		require.True(t, ok)
		require.Same(t, h.Producer(), src.Node)
		require.Equal(t, h.OutIndex(), src.Index)
		require.Same(t, h.Producer(), outs[i].Node)
	}
}

func TestBuildWithoutOutputs(t *testing.T) {
	b := newBuilder(t, "empty")
	g, err := b.BuildGraphAndReset()
	require.NoError(t, err)
	net := g.Node(NetOutputName)
	require.NotNil(t, net)
	require.Zero(t, net.NumInputs())
	require.Empty(t, g.Outputs())
}

func TestBuildOnlyOnce(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(x, 0))

	g, err := b.BuildGraphAndReset()
	require.NoError(t, err)
	require.True(t, b.Finalized())

	g2, err := b.BuildGraphAndReset()
	require.ErrorIs(t, err, ErrFinalized)
	require.Contains(t, err.Error(), "cannot build again")
	require.Nil(t, g2)

	// The first graph is untouched by the failed call.
	require.Equal(t, 2, g.NodeCount())
	require.NotNil(t, g.Node(NetOutputName))
	require.Len(t, g.Outputs(), 1)
}

func TestOperationsAfterFinalize(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	_, err = b.BuildGraphAndReset()
	require.NoError(t, err)

	_, err = b.AddGraphInput(1, InputSpec{})
	require.ErrorIs(t, err, ErrFinalized)
	_, err = b.AppendGraphInput(InputSpec{})
	require.ErrorIs(t, err, ErrFinalized)
	require.ErrorIs(t, b.SetGraphOutput(x, 0), ErrFinalized)
	_, err = b.Graph()
	require.ErrorIs(t, err, ErrFinalized)
	_, err = b.AddOp("Identity", []*TensorHandle{x}, nil)
	require.ErrorIs(t, err, ErrFinalized)
	_, err = b.ConstInt64([]int64{1}, graph.Shape{})
	require.ErrorIs(t, err, ErrFinalized)

	// Handles stay usable until Close.
	require.NoError(t, x.SetDataType(graph.DTInt32))
}

func TestOperationsAfterClose(t *testing.T) {
	b := New("g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.AppendGraphInput(InputSpec{})
	require.ErrorIs(t, err, ErrClosed)
	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, b.SetGraphOutput(x, 0), ErrClosed)
}

func TestFlattenOneLevel(t *testing.T) {
	b := newBuilder(t, "root")
	root, err := b.Graph()
	require.NoError(t, err)

	body := graph.New("body")
	inner := graph.New("inner")
	deepest := graph.New("deepest")
	cond := graph.New("cond")
	require.NoError(t, inner.AddSubgraph(deepest))
	require.NoError(t, body.AddSubgraph(inner))
	require.NoError(t, root.AddSubgraph(body))
	require.NoError(t, root.AddSubgraph(cond))

	g, err := b.BuildGraphAndReset()
	require.NoError(t, err)
	require.Same(t, root, g)

	var names []string
	for _, sg := range g.Subgraphs() {
		names = append(names, sg.Name())
	}
	require.Equal(t, []string{"body", "cond", "inner"}, names)
	require.Same(t, g, inner.Parent())
	require.Empty(t, body.Subgraphs())

	// Only one level is moved.
	require.Same(t, inner, deepest.Parent())
	require.Nil(t, g.Subgraph("deepest"))
}

func TestFlattenNameCollisionIsNotRolledBack(t *testing.T) {
	b := newBuilder(t, "root")
	root, err := b.Graph()
	require.NoError(t, err)

	outer := graph.New("outer")
	require.NoError(t, outer.AddSubgraph(graph.New("branch")))
	require.NoError(t, root.AddSubgraph(outer))
	require.NoError(t, root.AddSubgraph(graph.New("branch")))

	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, graph.ErrDuplicateSubgraph)
	require.False(t, b.Finalized())

	// The colliding child stays under its old parent.
	nested := outer.Subgraph("branch")
	require.NotNil(t, nested)
	require.Same(t, outer, nested.Parent())

	// NetOutput from the failed attempt is still there, so a retry
	// collides with it.
	require.NotNil(t, root.Node(NetOutputName))
	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, graph.ErrDuplicateNode)
}

func TestBuildFailsWhenOutputProducerRemoved(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	id, err := Identity(FromTensor(x))
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(id, 0))

	g, err := b.Graph()
	require.NoError(t, err)
	require.NoError(t, g.RemoveNode(id.Producer().Name()))

	_, err = b.BuildGraphAndReset()
	require.ErrorIs(t, err, graph.ErrForeignNode)
}

// ----------------------------------------------------------------------------
// Node names, ops, session
// ----------------------------------------------------------------------------

func TestGenerateNodeNameMonotonic(t *testing.T) {
	b := newBuilder(t, "g")
	require.Equal(t, "Foo_0", b.GenerateNodeName("Foo"))

	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	outs, err := b.AddOp("Identity", []*TensorHandle{x}, nil)
	require.NoError(t, err)
	require.Equal(t, "Identity_1", outs[0].Producer().Name())

	require.Equal(t, "Bar_2", b.GenerateNodeName("Bar"))

	// Removing a node does not free its number.
	g, err := b.Graph()
	require.NoError(t, err)
	require.NoError(t, g.RemoveNode("Identity_1"))
	require.Equal(t, "Identity_3", b.GenerateNodeName("Identity"))

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := b.GenerateNodeName("N")
		require.False(t, seen[n], "name %s repeated", n)
		seen[n] = true
	}
}

func TestNodeNamesArePerBuilder(t *testing.T) {
	b1 := newBuilder(t, "a")
	b2 := newBuilder(t, "b")
	require.Equal(t, "Op_0", b1.GenerateNodeName("Op"))
	require.Equal(t, "Op_1", b1.GenerateNodeName("Op"))
	require.Equal(t, "Op_0", b2.GenerateNodeName("Op"))
}

func TestAddOp(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x", DataType: graph.DTFloat, Shape: graph.Shape{2, 3}})
	require.NoError(t, err)
	y, err := b.AppendGraphInput(InputSpec{Name: "y", DataType: graph.DTFloat, Shape: graph.Shape{2, 3}})
	require.NoError(t, err)

	outs, err := b.AddOp("Add", []*TensorHandle{x, y}, nil)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	n := outs[0].Producer()
	require.Equal(t, "Add", n.Type())
	for i, h := range []*TensorHandle{x, y} {
		src, ok := n.Producer(i)
		require.True(t, ok)
		require.Same(t, h.Producer(), src.Node)
	}
	d, err := outs[0].Desc()
	require.NoError(t, err)
	require.Equal(t, graph.DTFloat, d.DataType)
	require.Equal(t, graph.Shape{2, 3}, d.Shape)
}

func TestAddOpDynamicInputs(t *testing.T) {
	require.NoError(t, registerOnce(&graph.OpDef{
		Type:    "TestConcat",
		Inputs:  []graph.IODef{{Name: "axis", Kind: graph.IORequired}, {Name: "x", Kind: graph.IODynamic}},
		Outputs: []graph.IODef{{Name: "y", Kind: graph.IORequired}},
	}))
	b := newBuilder(t, "g")
	var ins []*TensorHandle
	for i := 0; i < 4; i++ {
		h, err := b.AppendGraphInput(InputSpec{})
		require.NoError(t, err)
		ins = append(ins, h)
	}
	outs, err := b.AddOp("TestConcat", ins, nil)
	require.NoError(t, err)
	n := outs[0].Producer()
	require.Equal(t, 4, n.NumInputs())
	require.Equal(t, "x2", n.InputName(3))
}

func registerOnce(def *graph.OpDef) error {
	if _, ok := graph.LookupOp(def.Type); ok {
		return nil
	}
	return graph.RegisterOp(def)
}

func TestAddOpErrors(t *testing.T) {
	b := newBuilder(t, "g")
	other := newBuilder(t, "other")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	foreign, err := other.AppendGraphInput(InputSpec{Name: "f"})
	require.NoError(t, err)

	_, err = b.AddOp("NoSuchOp", []*TensorHandle{x}, nil)
	require.ErrorIs(t, err, graph.ErrUnknownOp)

	_, err = b.AddOp("Add", []*TensorHandle{x, foreign}, nil)
	require.ErrorIs(t, err, ErrForeignTensor)

	_, err = b.AddOp("Identity", []*TensorHandle{x, x}, nil)
	require.ErrorIs(t, err, graph.ErrBadIO)

	_, err = b.AddOp("Cast", []*TensorHandle{x}, nil)
	require.ErrorIs(t, err, graph.ErrBadAttr)

	// Rejected calls leave no partial node behind.
	g, err := b.Graph()
	require.NoError(t, err)
	require.Equal(t, 1, g.NodeCount())
}

func TestAddOpNilInputLeavesSlotOpen(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x", DataType: graph.DTInt32})
	require.NoError(t, err)
	outs, err := b.AddOp("Add", []*TensorHandle{nil, x}, nil)
	require.NoError(t, err)

	n := outs[0].Producer()
	_, ok := n.Producer(0)
	require.False(t, ok)
	d, err := outs[0].Desc()
	require.NoError(t, err)
	require.Equal(t, graph.DTInt32, d.DataType)
}

func TestSessionAndLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	b := newBuilder(t, "logged", WithLogger(logger), WithSessionID(id))
	require.Equal(t, id, b.SessionID())
	require.Equal(t, "logged", b.Name())

	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.SetGraphOutput(x, 0))
	_, err = b.BuildGraphAndReset()
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "graph input added")
	require.Contains(t, out, "graph built")
	require.Contains(t, out, "session="+id.String())
	require.Contains(t, out, "graph=logged")
}

func TestDefaultSessionIDsDiffer(t *testing.T) {
	require.NotEqual(t, New("a").SessionID(), New("b").SessionID())
}

func TestNilLoggerOptionKeepsDefault(t *testing.T) {
	b := newBuilder(t, "g", WithLogger(nil))
	require.NotPanics(t, func() {
		_, _ = b.AppendGraphInput(InputSpec{})
	})
	require.Equal(t, 1, b.InputCount())
}
