package builder

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hicann/ge-sub007/pkg/graph"
	"github.com/hicann/ge-sub007/pkg/symbolic"
)

func TestHandleAccessors(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)

	require.Same(t, b, x.OwnerBuilder())
	require.Equal(t, 0, x.OutIndex())
	require.Equal(t, "x", x.Producer().Name())
	require.Equal(t, "x:0", x.String())
	require.True(t, x.Valid())
}

func TestHandleSetters(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x", DataType: graph.DTFloat, Shape: graph.Shape{4}})
	require.NoError(t, err)

	desc := func() graph.TensorDesc {
		d, err := x.Desc()
		require.NoError(t, err)
		return d
	}

	require.NoError(t, x.SetDataType(graph.DTInt8))
	require.Equal(t, graph.DTInt8, desc().DataType)

	require.NoError(t, x.SetOriginFormat(graph.FormatNHWC))
	require.Equal(t, graph.FormatNHWC, desc().OriginFormat)
	require.Equal(t, graph.FormatND, desc().Format)

	require.NoError(t, x.SetStorageFormat(graph.FormatNC1HWC0))
	require.Equal(t, graph.FormatNHWC, desc().OriginFormat)
	require.Equal(t, graph.FormatNC1HWC0, desc().Format)

	require.NoError(t, x.SetFormat(graph.FormatNCHW))
	require.Equal(t, graph.FormatNCHW, desc().OriginFormat)
	require.Equal(t, graph.FormatNCHW, desc().Format)

	require.NoError(t, x.SetOriginShape(graph.Shape{2, 2}))
	require.Equal(t, graph.Shape{2, 2}, desc().OriginShape)
	require.Equal(t, graph.Shape{4}, desc().Shape)

	require.NoError(t, x.SetStorageShape(graph.Shape{1, 4}))
	require.Equal(t, graph.Shape{1, 4}, desc().Shape)

	s := graph.Shape{8, -1}
	require.NoError(t, x.SetShape(s))
	require.Equal(t, graph.Shape{8, -1}, desc().OriginShape)
	require.Equal(t, graph.Shape{8, -1}, desc().Shape)

	// The descriptor does not alias the caller's slice.
	s[0] = 99
	require.Equal(t, int64(8), desc().Shape[0])
}

// Setters do not check compatibility; shape checks belong to validation.
func TestHandleSettersDoNotValidate(t *testing.T) {
	b := newBuilder(t, "g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, x.SetShape(graph.Shape{-7, 3}))
	require.NoError(t, x.SetFormat(graph.FormatFractalNZ))
}

func TestSetOriginSymbolShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	b := newBuilder(t, "g", WithLogger(logger))
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)

	require.NoError(t, x.SetOriginSymbolShape("s0", "s1 * 2"))
	require.NoError(t, x.SetOriginSymbolShape("s0", "s1 * 2", "16"))
	require.Equal(t, 2, strings.Count(buf.String(), "unstable"))
	require.Contains(t, buf.String(), "level=WARN")

	s, ok := x.SymbolShape()
	require.True(t, ok)
	require.Len(t, s, 3)
	require.Equal(t, "[s0, s1 * 2, 16]", s.String())
	dims, err := s.Eval(map[string]int64{"s0": 3, "s1": 5})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 10, 16}, dims)

	d, err := x.Desc()
	require.NoError(t, err)
	_, ok = d.AttrGroup(symbolic.GroupName)
	require.True(t, ok)
}

func TestSetOriginSymbolShapeParseError(t *testing.T) {
	var buf bytes.Buffer
	b := newBuilder(t, "g", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)

	err = x.SetOriginSymbolShape("s0", "s1 +")
	require.ErrorIs(t, err, symbolic.ErrSyntax)
	_, ok := x.SymbolShape()
	require.False(t, ok)
	require.Equal(t, 1, strings.Count(buf.String(), "unstable"))
}

func TestHandleInvalidAfterClose(t *testing.T) {
	b := New("g")
	x, err := b.AppendGraphInput(InputSpec{Name: "x"})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.False(t, x.Valid())
	require.Nil(t, x.Producer())
	require.Nil(t, x.OwnerBuilder())
	require.Equal(t, "<invalid tensor>", x.String())
	require.ErrorIs(t, x.SetDataType(graph.DTInt32), ErrInvalidHandle)
	require.ErrorIs(t, x.SetShape(graph.Shape{1}), ErrInvalidHandle)
	require.ErrorIs(t, x.SetOriginSymbolShape("s0"), ErrInvalidHandle)
	_, err = x.Desc()
	require.ErrorIs(t, err, ErrInvalidHandle)
	_, ok := x.SymbolShape()
	require.False(t, ok)
}
