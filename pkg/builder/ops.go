package builder

import (
	"fmt"

	"github.com/hicann/ge-sub007/pkg/graph"
)

// ownerOf returns the builder of the first tensor argument, or nil when
// every argument is a literal or null.
func ownerOf(args ...TensorLike) *GraphBuilder {
	for _, a := range args {
		if b := a.OwnerBuilder(); b != nil {
			return b
		}
	}
	return nil
}

// apply materializes args in the builder discovered from them and adds one
// node of opType, returning its first output. Every input of these ops is
// required, so a null argument is rejected before anything is built.
func apply(opType string, attrs map[string]any, args ...TensorLike) (*TensorHandle, error) {
	b := ownerOf(args...)
	if b == nil {
		return nil, fmt.Errorf("%s: %w", opType, ErrNoOwnerBuilder)
	}
	inputs := make([]*TensorHandle, len(args))
	for i, a := range args {
		if a.IsNull() {
			return nil, fmt.Errorf("%s: argument %d: %w", opType, i, ErrNilTensor)
		}
		h, err := a.ToTensorHandle(b)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %d: %w", opType, i, err)
		}
		inputs[i] = h
	}
	outs, err := b.AddOp(opType, inputs, attrs)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// Add returns x1 + x2. At least one argument must be a tensor; literals are
// materialized into its builder.
func Add(x1, x2 TensorLike) (*TensorHandle, error) { return apply("Add", nil, x1, x2) }

// Sub returns x1 - x2.
func Sub(x1, x2 TensorLike) (*TensorHandle, error) { return apply("Sub", nil, x1, x2) }

// Mul returns x1 * x2.
func Mul(x1, x2 TensorLike) (*TensorHandle, error) { return apply("Mul", nil, x1, x2) }

// Div returns x1 / x2.
func Div(x1, x2 TensorLike) (*TensorHandle, error) { return apply("Div", nil, x1, x2) }

// Identity returns a copy of x.
func Identity(x TensorLike) (*TensorHandle, error) { return apply("Identity", nil, x) }

// Cast converts x to dt. The result descriptor carries dt.
func Cast(x TensorLike, dt graph.DataType) (*TensorHandle, error) {
	out, err := apply("Cast", map[string]any{"dst_type": dt}, x)
	if err != nil {
		return nil, err
	}
	if err := out.SetDataType(dt); err != nil {
		return nil, err
	}
	return out, nil
}
