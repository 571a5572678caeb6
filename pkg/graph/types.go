// Package graph defines the core dataflow graph data structures.
package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the element type of a tensor.
type DataType int

const (
	DTUndefined DataType = iota
	DTFloat              // 32-bit float
	DTFloat16
	DTBFloat16
	DTDouble
	DTInt8
	DTInt16
	DTInt32
	DTInt64
	DTUint8
	DTBool
)

var dataTypeNames = map[DataType]string{
	DTUndefined: "DT_UNDEFINED",
	DTFloat:     "DT_FLOAT",
	DTFloat16:   "DT_FLOAT16",
	DTBFloat16:  "DT_BF16",
	DTDouble:    "DT_DOUBLE",
	DTInt8:      "DT_INT8",
	DTInt16:     "DT_INT16",
	DTInt32:     "DT_INT32",
	DTInt64:     "DT_INT64",
	DTUint8:     "DT_UINT8",
	DTBool:      "DT_BOOL",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// Size returns the byte size of one element, or 0 for DTUndefined.
func (d DataType) Size() int {
	switch d {
	case DTInt8, DTUint8, DTBool:
		return 1
	case DTFloat16, DTBFloat16, DTInt16:
		return 2
	case DTFloat, DTInt32:
		return 4
	case DTDouble, DTInt64:
		return 8
	default:
		return 0
	}
}

// ParseDataType accepts "DT_INT64", "int64" and similar spellings.
func ParseDataType(s string) (DataType, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(key, "DT_") {
		key = "DT_" + key
	}
	switch key {
	case "DT_FLOAT32":
		return DTFloat, nil
	case "DT_BFLOAT16":
		return DTBFloat16, nil
	case "DT_FLOAT64":
		return DTDouble, nil
	}
	for dt, name := range dataTypeNames {
		if name == key {
			return dt, nil
		}
	}
	return DTUndefined, fmt.Errorf("unknown data type %q", s)
}

// Format is the memory layout of a tensor.
type Format int

const (
	FormatND Format = iota
	FormatNCHW
	FormatNHWC
	FormatNC1HWC0
	FormatFractalNZ
	FormatReserved
)

var formatNames = map[Format]string{
	FormatND:        "ND",
	FormatNCHW:      "NCHW",
	FormatNHWC:      "NHWC",
	FormatNC1HWC0:   "NC1HWC0",
	FormatFractalNZ: "FRACTAL_NZ",
	FormatReserved:  "RESERVED",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat accepts format names case-insensitively ("nchw", "FRACTAL_NZ").
func ParseFormat(s string) (Format, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for f, name := range formatNames {
		if name == key {
			return f, nil
		}
	}
	return FormatReserved, fmt.Errorf("unknown format %q", s)
}

// Dimension sentinels.
const (
	UnknownDim  int64 = -1 // dimension size not known until runtime
	UnknownRank int64 = -2 // only valid as the sole dimension: rank not known
)

// Shape lists dimension sizes. An empty shape is a scalar.
type Shape []int64

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = strconv.FormatInt(d, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// IsScalar reports whether the shape has rank 0.
func (s Shape) IsScalar() bool { return len(s) == 0 }

// IsUnknownRank reports whether the shape is the unknown-rank marker [-2].
func (s Shape) IsUnknownRank() bool {
	return len(s) == 1 && s[0] == UnknownRank
}

// IsStatic reports whether every dimension is known.
func (s Shape) IsStatic() bool {
	for _, d := range s {
		if d < 0 {
			return false
		}
	}
	return true
}

// NumElements returns the element count, or -1 if the shape is not static.
func (s Shape) NumElements() int64 {
	if !s.IsStatic() {
		return -1
	}
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// Clone returns an independent copy. A nil shape stays nil.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// AttrGroup is a side attribute set attached to a tensor descriptor,
// keyed by its group name.
type AttrGroup interface {
	GroupName() string
}

// TensorDesc is the per-slot metadata of a node input or output.
// Origin fields describe the tensor as the user declared it; the
// unprefixed fields describe its storage layout.
type TensorDesc struct {
	DataType     DataType
	OriginFormat Format
	Format       Format
	OriginShape  Shape
	Shape        Shape

	groups map[string]AttrGroup
}

// NewTensorDesc returns a descriptor with identical origin and storage fields.
func NewTensorDesc(dt DataType, f Format, shape Shape) TensorDesc {
	return TensorDesc{
		DataType:     dt,
		OriginFormat: f,
		Format:       f,
		OriginShape:  shape.Clone(),
		Shape:        shape.Clone(),
	}
}

// SetAttrGroup stores g under g.GroupName(), replacing any previous group.
func (d *TensorDesc) SetAttrGroup(g AttrGroup) {
	if d.groups == nil {
		d.groups = make(map[string]AttrGroup)
	}
	d.groups[g.GroupName()] = g
}

// AttrGroup returns the group stored under name.
func (d TensorDesc) AttrGroup(name string) (AttrGroup, bool) {
	g, ok := d.groups[name]
	return g, ok
}

// Clone returns a copy whose shapes and group table are not shared.
// Group values themselves are shared.
func (d TensorDesc) Clone() TensorDesc {
	out := d
	out.OriginShape = d.OriginShape.Clone()
	out.Shape = d.Shape.Clone()
	if d.groups != nil {
		out.groups = make(map[string]AttrGroup, len(d.groups))
		for k, v := range d.groups {
			out.groups[k] = v
		}
	}
	return out
}

func (d TensorDesc) String() string {
	return fmt.Sprintf("%s %s%s", d.DataType, d.Format, d.Shape)
}
