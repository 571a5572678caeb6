package builder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/hicann/ge-sub007/pkg/graph"
)

// ConstSpec describes a constant tensor. Empty Name is generated from the
// op type.
type ConstSpec struct {
	Name     string
	DataType graph.DataType
	Format   graph.Format
	Shape    graph.Shape
}

func (b *GraphBuilder) constName(spec ConstSpec, opType string) string {
	if spec.Name != "" {
		return spec.Name
	}
	return b.GenerateNodeName(opType)
}

// expectedBytes returns the data length implied by spec, or -1 when the
// shape is not static or the type has no fixed size.
func (spec ConstSpec) expectedBytes() int64 {
	size := spec.DataType.Size()
	n := spec.Shape.NumElements()
	if size == 0 || n < 0 {
		return -1
	}
	return n * int64(size)
}

// CreateConst adds a Const node holding data, raw little-endian elements.
// For static shapes len(data) must match the shape and data type.
func (b *GraphBuilder) CreateConst(data []byte, spec ConstSpec) (*TensorHandle, error) {
	if err := b.checkBuilding("CreateConst"); err != nil {
		return nil, err
	}
	if want := spec.expectedBytes(); want >= 0 && int64(len(data)) != want {
		return nil, fmt.Errorf("CreateConst: %s%s wants %d bytes, got %d: %w",
			spec.DataType, spec.Shape, want, len(data), ErrConstSize)
	}
	desc := graph.NewTensorDesc(spec.DataType, spec.Format, spec.Shape)
	value := graph.TensorValue{Desc: desc.Clone(), Data: append([]byte(nil), data...)}

	n, err := b.graph.AddNode(graph.NodeSpec{
		Name:  b.constName(spec, graph.OpConst),
		Type:  graph.OpConst,
		Attrs: map[string]any{"value": value},
	})
	if err != nil {
		return nil, err
	}
	if err := n.UpdateOutputDesc(0, desc); err != nil {
		return nil, err
	}
	return b.newHandle(n, 0), nil
}

// ConstInt64 adds a DT_INT64 Const node.
func (b *GraphBuilder) ConstInt64(values []int64, shape graph.Shape) (*TensorHandle, error) {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], uint64(v))
	}
	return b.CreateConst(data, ConstSpec{DataType: graph.DTInt64, Format: graph.FormatND, Shape: shape})
}

// ConstFloat adds a DT_FLOAT Const node.
func (b *GraphBuilder) ConstFloat(values []float32, shape graph.Shape) (*TensorHandle, error) {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return b.CreateConst(data, ConstSpec{DataType: graph.DTFloat, Format: graph.FormatND, Shape: shape})
}

// CreateFileConst adds a FileConstant node reading length bytes at offset
// from path. A zero length means the size implied by spec's dtype and shape.
// The file must exist and hold the requested range; its contents are not read.
func (b *GraphBuilder) CreateFileConst(path string, offset, length int64, spec ConstSpec) (*TensorHandle, error) {
	if err := b.checkBuilding("CreateFileConst"); err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("CreateFileConst: offset %d length %d: %w", offset, length, ErrNegativeIndex)
	}
	if length == 0 {
		if want := spec.expectedBytes(); want > 0 {
			length = want
		}
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("CreateFileConst: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("CreateFileConst: %s is a directory", path)
	}
	if fi.Size() < offset+length {
		return nil, fmt.Errorf("CreateFileConst: %s has %d bytes, need %d at offset %d: %w",
			path, fi.Size(), length, offset, ErrConstSize)
	}

	shape := []int64(spec.Shape.Clone())
	if shape == nil {
		shape = []int64{}
	}
	n, err := b.graph.AddNode(graph.NodeSpec{
		Name: b.constName(spec, graph.OpFileConstant),
		Type: graph.OpFileConstant,
		Attrs: map[string]any{
			"file_path": path,
			"offset":    offset,
			"length":    length,
			"dtype":     spec.DataType,
			"shape":     shape,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := n.UpdateOutputDesc(0, graph.NewTensorDesc(spec.DataType, spec.Format, spec.Shape)); err != nil {
		return nil, err
	}
	return b.newHandle(n, 0), nil
}
