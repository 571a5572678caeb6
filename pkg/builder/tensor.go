package builder

import (
	"fmt"
	"strings"

	"github.com/hicann/ge-sub007/pkg/graph"
	"github.com/hicann/ge-sub007/pkg/symbolic"
)

// TensorHandle refers to one output slot of a node built by a GraphBuilder.
// Its identity (builder, producer, slot) never changes. Metadata setters
// read the producer's output descriptor, change one field and write it back.
//
// Handles are owned by the builder's arena and become invalid when the
// builder is closed.
type TensorHandle struct {
	owner    *GraphBuilder
	producer *graph.Node
	index    int
	valid    bool
}

func (b *GraphBuilder) newHandle(n *graph.Node, index int) *TensorHandle {
	h := &TensorHandle{owner: b, producer: n, index: index, valid: true}
	b.arena.Add(h, h.invalidate)
	return h
}

func (t *TensorHandle) invalidate() {
	t.valid = false
	t.producer = nil
	t.owner = nil
}

// Valid reports whether the handle can still be used.
func (t *TensorHandle) Valid() bool { return t != nil && t.valid }

// Producer returns the node that produces this tensor, or nil for a nil or
// invalidated handle.
func (t *TensorHandle) Producer() *graph.Node {
	if t == nil {
		return nil
	}
	return t.producer
}

// OutIndex returns the producer output slot, or -1 for a nil handle.
func (t *TensorHandle) OutIndex() int {
	if t == nil {
		return -1
	}
	return t.index
}

// OwnerBuilder returns the builder that created the handle, or nil for a nil
// or invalidated handle.
func (t *TensorHandle) OwnerBuilder() *GraphBuilder {
	if t == nil {
		return nil
	}
	return t.owner
}

// Desc returns a copy of the current output descriptor.
func (t *TensorHandle) Desc() (graph.TensorDesc, error) {
	if !t.Valid() {
		return graph.TensorDesc{}, ErrInvalidHandle
	}
	return t.producer.OutputDesc(t.index)
}

// update applies fn to the output descriptor in one read-modify-write.
func (t *TensorHandle) update(fn func(*graph.TensorDesc)) error {
	if !t.Valid() {
		return ErrInvalidHandle
	}
	d, err := t.producer.OutputDesc(t.index)
	if err != nil {
		return err
	}
	fn(&d)
	return t.producer.UpdateOutputDesc(t.index, d)
}

// SetDataType sets the element type.
func (t *TensorHandle) SetDataType(dt graph.DataType) error {
	return t.update(func(d *graph.TensorDesc) { d.DataType = dt })
}

// SetOriginFormat sets the format the tensor was declared with.
func (t *TensorHandle) SetOriginFormat(f graph.Format) error {
	return t.update(func(d *graph.TensorDesc) { d.OriginFormat = f })
}

// SetStorageFormat sets the storage layout format.
func (t *TensorHandle) SetStorageFormat(f graph.Format) error {
	return t.update(func(d *graph.TensorDesc) { d.Format = f })
}

// SetFormat sets the origin format, then the storage format. A failure of
// the second write leaves the first in place.
func (t *TensorHandle) SetFormat(f graph.Format) error {
	if err := t.SetOriginFormat(f); err != nil {
		return err
	}
	return t.SetStorageFormat(f)
}

// SetOriginShape sets the declared shape.
func (t *TensorHandle) SetOriginShape(s graph.Shape) error {
	return t.update(func(d *graph.TensorDesc) { d.OriginShape = s.Clone() })
}

// SetStorageShape sets the storage shape.
func (t *TensorHandle) SetStorageShape(s graph.Shape) error {
	return t.update(func(d *graph.TensorDesc) { d.Shape = s.Clone() })
}

// SetShape sets the origin shape, then the storage shape. Like SetFormat it
// is not rolled back if the second write fails.
func (t *TensorHandle) SetShape(s graph.Shape) error {
	if err := t.SetOriginShape(s); err != nil {
		return err
	}
	return t.SetStorageShape(s)
}

// SetOriginSymbolShape parses one symbolic expression per dimension and
// stores them as the symbolic_shape attribute group of the output
// descriptor.
//
// This API is unstable and carries no compatibility guarantee; every call
// logs a warning saying so.
func (t *TensorHandle) SetOriginSymbolShape(exprs ...string) error {
	if !t.Valid() {
		return ErrInvalidHandle
	}
	t.owner.log().Warn("SetOriginSymbolShape is unstable, no compatibility guarantee, use with caution",
		"tensor", t.String(), "dims", strings.Join(exprs, ","))
	shape, err := symbolic.ParseShape(exprs...)
	if err != nil {
		return fmt.Errorf("SetOriginSymbolShape: %w", err)
	}
	return t.update(func(d *graph.TensorDesc) { d.SetAttrGroup(shape) })
}

// SymbolShape returns the symbolic shape stored by SetOriginSymbolShape.
func (t *TensorHandle) SymbolShape() (symbolic.Shape, bool) {
	d, err := t.Desc()
	if err != nil {
		return nil, false
	}
	g, ok := d.AttrGroup(symbolic.GroupName)
	if !ok {
		return nil, false
	}
	s, ok := g.(symbolic.Shape)
	return s, ok
}

func (t *TensorHandle) String() string {
	if !t.Valid() {
		return "<invalid tensor>"
	}
	return fmt.Sprintf("%s:%d", t.producer.Name(), t.index)
}
