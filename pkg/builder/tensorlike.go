package builder

import (
	"fmt"

	"github.com/hicann/ge-sub007/pkg/graph"
)

// LikeKind tags the variant held by a TensorLike. The zero value is
// KindNull, so a zero TensorLike is the null marker.
type LikeKind int

const (
	KindNull LikeKind = iota
	KindTensor
	KindScalarInt64
	KindScalarFloat
	KindVectorInt64
	KindVectorFloat
)

func (k LikeKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindTensor:
		return "tensor"
	case KindScalarInt64:
		return "scalar_int64"
	case KindScalarFloat:
		return "scalar_float"
	case KindVectorInt64:
		return "vector_int64"
	case KindVectorFloat:
		return "vector_float"
	default:
		return "unknown"
	}
}

// TensorLike is an operator argument: an existing tensor, an explicit null,
// or an int64/float32 literal that is turned into a Const node on demand.
type TensorLike struct {
	kind   LikeKind
	tensor *TensorHandle
	ints   []int64
	floats []float32
}

// FromTensor wraps an existing handle. A nil handle yields a null TensorLike.
func FromTensor(t *TensorHandle) TensorLike {
	if t == nil {
		return Null()
	}
	return TensorLike{kind: KindTensor, tensor: t}
}

// Null returns the null marker, used for unconnected optional inputs.
func Null() TensorLike { return TensorLike{kind: KindNull} }

// ScalarInt64 returns a rank-0 int64 literal.
func ScalarInt64(v int64) TensorLike {
	return TensorLike{kind: KindScalarInt64, ints: []int64{v}}
}

// ScalarFloat returns a rank-0 float32 literal.
func ScalarFloat(v float32) TensorLike {
	return TensorLike{kind: KindScalarFloat, floats: []float32{v}}
}

// VectorInt64 returns a rank-1 int64 literal. v is copied.
func VectorInt64(v ...int64) TensorLike {
	return TensorLike{kind: KindVectorInt64, ints: append([]int64{}, v...)}
}

// VectorFloat returns a rank-1 float32 literal. v is copied.
func VectorFloat(v ...float32) TensorLike {
	return TensorLike{kind: KindVectorFloat, floats: append([]float32{}, v...)}
}

// Kind returns the variant tag. A tensor variant holding no handle reports
// KindNull.
func (l TensorLike) Kind() LikeKind {
	if l.kind == KindTensor && l.tensor == nil {
		return KindNull
	}
	return l.kind
}

// IsNull reports whether l is the null marker.
func (l TensorLike) IsNull() bool { return l.Kind() == KindNull }

// OwnerBuilder returns the builder of the wrapped handle, or nil for every
// variant other than a tensor.
func (l TensorLike) OwnerBuilder() *GraphBuilder {
	if l.Kind() != KindTensor {
		return nil
	}
	return l.tensor.OwnerBuilder()
}

// ToTensorHandle materializes l in b. A tensor is returned unchanged and a
// null yields (nil, nil). A literal becomes a new Const node on every call;
// results are not cached, so two calls give two distinct producers.
func (l TensorLike) ToTensorHandle(b *GraphBuilder) (*TensorHandle, error) {
	switch l.Kind() {
	case KindTensor:
		return l.tensor, nil
	case KindNull:
		return nil, nil
	}
	if b == nil {
		return nil, fmt.Errorf("ToTensorHandle: %s literal: %w", l.kind, ErrNoOwnerBuilder)
	}
	switch l.kind {
	case KindScalarInt64:
		return b.ConstInt64(l.ints, graph.Shape{})
	case KindScalarFloat:
		return b.ConstFloat(l.floats, graph.Shape{})
	case KindVectorInt64:
		return b.ConstInt64(l.ints, graph.Shape{int64(len(l.ints))})
	case KindVectorFloat:
		return b.ConstFloat(l.floats, graph.Shape{int64(len(l.floats))})
	}
	return nil, fmt.Errorf("ToTensorHandle: unknown kind %d", int(l.kind))
}

func (l TensorLike) String() string {
	switch l.Kind() {
	case KindTensor:
		return l.tensor.String()
	case KindNull:
		return "null"
	case KindScalarInt64:
		return fmt.Sprintf("%d", l.ints[0])
	case KindScalarFloat:
		return fmt.Sprintf("%g", l.floats[0])
	case KindVectorInt64:
		return fmt.Sprint(l.ints)
	case KindVectorFloat:
		return fmt.Sprint(l.floats)
	}
	return "unknown"
}
