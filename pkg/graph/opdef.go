package graph

import (
	"fmt"
	"sort"
	"sync"
)

// IOKind says how many slots an operator input or output expands to.
type IOKind int

const (
	IORequired IOKind = iota // exactly one slot, must be connected
	IOOptional               // exactly one slot, may stay unconnected
	IODynamic                // zero or more slots, count chosen per node
)

func (k IOKind) String() string {
	switch k {
	case IORequired:
		return "required"
	case IOOptional:
		return "optional"
	case IODynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// IODef declares one named input or output of an operator.
type IODef struct {
	Name string
	Kind IOKind
}

// AttrDef declares one attribute of an operator.
type AttrDef struct {
	Name     string
	Kind     AttrKind
	Required bool
}

// OpDef is the IR definition of an operator type: the inputs, outputs and
// attributes every node of that type carries.
type OpDef struct {
	Type    string
	Inputs  []IODef
	Outputs []IODef
	Attrs   []AttrDef
}

// Attr returns the attribute definition with the given name.
func (d *OpDef) Attr(name string) (AttrDef, bool) {
	for _, a := range d.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return AttrDef{}, false
}

// Input returns the input definition with the given name.
func (d *OpDef) Input(name string) (IODef, bool) {
	for _, io := range d.Inputs {
		if io.Name == name {
			return io, true
		}
	}
	return IODef{}, false
}

// Output returns the output definition with the given name.
func (d *OpDef) Output(name string) (IODef, bool) {
	for _, io := range d.Outputs {
		if io.Name == name {
			return io, true
		}
	}
	return IODef{}, false
}

// Input operator types. A graph input node is always one of these.
const (
	OpData     = "Data"
	OpRefData  = "RefData"
	OpAippData = "AippData"
	OpAnyData  = "AnyData"

	OpNetOutput    = "NetOutput"
	OpConst        = "Const"
	OpFileConstant = "FileConstant"
)

// IsGraphInputOp reports whether opType is one of the graph-input operators.
func IsGraphInputOp(opType string) bool {
	switch opType {
	case OpData, OpRefData, OpAippData, OpAnyData:
		return true
	}
	return false
}

// registry holds operator definitions by type. It is filled at init and by
// RegisterOp; definitions are never removed.
var (
	registryMu sync.RWMutex
	registry   = map[string]*OpDef{}
)

// RegisterOp adds an operator definition. Registering a type twice fails.
// It is safe to call concurrently with LookupOp.
func RegisterOp(def *OpDef) error {
	if def == nil || def.Type == "" {
		return fmt.Errorf("%w: op definition must have a type", ErrBadOpDef)
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[def.Type]; exists {
		return fmt.Errorf("%w: op type %q already registered", ErrBadOpDef, def.Type)
	}
	seen := make(map[string]bool)
	for _, io := range append(append([]IODef{}, def.Inputs...), def.Outputs...) {
		if io.Name == "" {
			return fmt.Errorf("%w: op %s has an unnamed input or output", ErrBadOpDef, def.Type)
		}
		if seen[io.Name] {
			return fmt.Errorf("%w: op %s declares %q twice", ErrBadOpDef, def.Type, io.Name)
		}
		seen[io.Name] = true
	}
	registry[def.Type] = def
	return nil
}

// LookupOp returns the definition registered for opType.
func LookupOp(opType string) (*OpDef, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[opType]
	return d, ok
}

// RegisteredOps returns all registered op types in sorted order.
func RegisteredOps() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func mustRegister(def *OpDef) {
	if err := RegisterOp(def); err != nil {
		panic(err)
	}
}

func inputOpDef(opType string) *OpDef {
	return &OpDef{
		Type:    opType,
		Inputs:  []IODef{{Name: "x", Kind: IORequired}},
		Outputs: []IODef{{Name: "y", Kind: IORequired}},
		Attrs:   []AttrDef{{Name: "index", Kind: AttrInt}},
	}
}

func binaryOpDef(opType string) *OpDef {
	return &OpDef{
		Type:    opType,
		Inputs:  []IODef{{Name: "x1", Kind: IORequired}, {Name: "x2", Kind: IORequired}},
		Outputs: []IODef{{Name: "y", Kind: IORequired}},
	}
}

func unaryOpDef(opType string) *OpDef {
	return &OpDef{
		Type:    opType,
		Inputs:  []IODef{{Name: "x", Kind: IORequired}},
		Outputs: []IODef{{Name: "y", Kind: IORequired}},
	}
}

func init() {
	for _, t := range []string{OpData, OpRefData, OpAippData, OpAnyData} {
		mustRegister(inputOpDef(t))
	}
	mustRegister(&OpDef{
		Type:    OpNetOutput,
		Inputs:  []IODef{{Name: "x", Kind: IODynamic}},
		Outputs: []IODef{{Name: "y", Kind: IODynamic}},
	})
	mustRegister(&OpDef{
		Type:    OpConst,
		Outputs: []IODef{{Name: "y", Kind: IORequired}},
		Attrs:   []AttrDef{{Name: "value", Kind: AttrTensor, Required: true}},
	})
	mustRegister(&OpDef{
		Type:    OpFileConstant,
		Outputs: []IODef{{Name: "y", Kind: IORequired}},
		Attrs: []AttrDef{
			{Name: "file_path", Kind: AttrString, Required: true},
			{Name: "offset", Kind: AttrInt},
			{Name: "length", Kind: AttrInt},
			{Name: "dtype", Kind: AttrDataType, Required: true},
			{Name: "shape", Kind: AttrListInt, Required: true},
		},
	})
	for _, t := range []string{"Add", "Sub", "Mul", "Div"} {
		mustRegister(binaryOpDef(t))
	}
	for _, t := range []string{"Identity", "Relu"} {
		mustRegister(unaryOpDef(t))
	}
	cast := unaryOpDef("Cast")
	cast.Attrs = []AttrDef{{Name: "dst_type", Kind: AttrDataType, Required: true}}
	mustRegister(cast)
}
