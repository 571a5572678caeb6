package builder

import (
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hicann/ge-sub007/pkg/graph"
)

func constValue(t *testing.T, h *TensorHandle) graph.TensorValue {
	t.Helper()
	v, ok := h.Producer().Attr("value")
	require.True(t, ok)
	tv, ok := v.(graph.TensorValue)
	require.True(t, ok)
	return tv
}

func TestConstInt64Encoding(t *testing.T) {
	b := newBuilder(t, "g")
	h, err := b.ConstInt64([]int64{1, -2}, graph.Shape{2})
	require.NoError(t, err)

	tv := constValue(t, h)
	require.Len(t, tv.Data, 16)
	require.Equal(t, int64(1), int64(binary.LittleEndian.Uint64(tv.Data[0:])))
	require.Equal(t, int64(-2), int64(binary.LittleEndian.Uint64(tv.Data[8:])))
	require.Equal(t, graph.DTInt64, tv.Desc.DataType)
	require.Equal(t, "Const_0", h.Producer().Name())
}

func TestConstFloatEncoding(t *testing.T) {
	b := newBuilder(t, "g")
	h, err := b.ConstFloat([]float32{0.25}, graph.Shape{})
	require.NoError(t, err)
	tv := constValue(t, h)
	require.Len(t, tv.Data, 4)
	require.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(tv.Data)))
}

func TestCreateConst(t *testing.T) {
	b := newBuilder(t, "g")
	data := []byte{1, 0, 2, 0, 3, 0}
	h, err := b.CreateConst(data, ConstSpec{Name: "weights", DataType: graph.DTInt16, Shape: graph.Shape{3}})
	require.NoError(t, err)
	require.Equal(t, "weights", h.Producer().Name())

	// The attribute owns its bytes.
	data[0] = 9
	require.Equal(t, byte(1), constValue(t, h).Data[0])

	_, err = b.CreateConst([]byte{1, 2, 3}, ConstSpec{DataType: graph.DTInt16, Shape: graph.Shape{3}})
	require.ErrorIs(t, err, ErrConstSize)

	// Dynamic shapes skip the size check.
	_, err = b.CreateConst([]byte{1, 2}, ConstSpec{DataType: graph.DTInt16, Shape: graph.Shape{-1}})
	require.NoError(t, err)
}

func TestCreateFileConst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))

	b := newBuilder(t, "g")
	spec := ConstSpec{DataType: graph.DTInt32, Shape: graph.Shape{2}}

	h, err := b.CreateFileConst(path, 8, 0, spec)
	require.NoError(t, err)
	n := h.Producer()
	require.Equal(t, graph.OpFileConstant, n.Type())
	for name, want := range map[string]any{
		"file_path": path,
		"offset":    int64(8),
		"length":    int64(8),
		"dtype":     graph.DTInt32,
		"shape":     []int64{2},
	} {
		got, ok := n.Attr(name)
		require.True(t, ok, name)
		require.Equal(t, want, got, name)
	}
	d, err := h.Desc()
	require.NoError(t, err)
	require.Equal(t, graph.DTInt32, d.DataType)

	_, err = b.CreateFileConst(path, 12, 0, spec)
	require.ErrorIs(t, err, ErrConstSize)

	_, err = b.CreateFileConst(filepath.Join(dir, "missing.bin"), 0, 0, spec)
	require.ErrorIs(t, err, fs.ErrNotExist)

	_, err = b.CreateFileConst(dir, 0, 0, spec)
	require.Error(t, err)

	_, err = b.CreateFileConst(path, -1, 0, spec)
	require.ErrorIs(t, err, ErrNegativeIndex)
}
