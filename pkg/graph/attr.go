package graph

import "fmt"

// ---------------------------------------------------------------------------
// Attribute kinds
// ---------------------------------------------------------------------------

// AttrKind enumerates the value types an operator attribute may hold.
type AttrKind int

const (
	AttrInt       AttrKind = iota // int64
	AttrFloat                     // float32
	AttrString                    // string
	AttrBool                      // bool
	AttrListInt                   // []int64
	AttrListFloat                 // []float32
	AttrDataType                  // DataType
	AttrTensor                    // TensorValue
)

func (k AttrKind) String() string {
	switch k {
	case AttrInt:
		return "int"
	case AttrFloat:
		return "float"
	case AttrString:
		return "string"
	case AttrBool:
		return "bool"
	case AttrListInt:
		return "list_int"
	case AttrListFloat:
		return "list_float"
	case AttrDataType:
		return "data_type"
	case AttrTensor:
		return "tensor"
	default:
		return "unknown"
	}
}

// accepts reports whether v is a legal value for the kind.
func (k AttrKind) accepts(v any) bool {
	switch k {
	case AttrInt:
		_, ok := v.(int64)
		return ok
	case AttrFloat:
		_, ok := v.(float32)
		return ok
	case AttrString:
		_, ok := v.(string)
		return ok
	case AttrBool:
		_, ok := v.(bool)
		return ok
	case AttrListInt:
		_, ok := v.([]int64)
		return ok
	case AttrListFloat:
		_, ok := v.([]float32)
		return ok
	case AttrDataType:
		_, ok := v.(DataType)
		return ok
	case AttrTensor:
		_, ok := v.(TensorValue)
		return ok
	}
	return false
}

// ---------------------------------------------------------------------------
// Tensor values
// ---------------------------------------------------------------------------

// TensorValue is a constant tensor stored as an attribute: a descriptor plus
// the raw little-endian element bytes.
type TensorValue struct {
	Desc TensorDesc
	Data []byte
}

func (t TensorValue) String() string {
	return fmt.Sprintf("tensor(%s, %d bytes)", t.Desc, len(t.Data))
}
