package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/hicann/ge-sub007/pkg/builder"
	"github.com/hicann/ge-sub007/pkg/graph"
)

// ---------------------------------------------------------------------------
// Source preprocessing
// ---------------------------------------------------------------------------

// preprocessSource transforms script source before passing it to zygomys.
// It performs two transformations:
//
//  1. Keyword conversion: :keyword -> "__kw_keyword" (string literal)
//     This avoids the need to register keyword symbols as globals, which
//     would conflict with user-defined variables of the same name.
//
//  2. Kebab-case to underscore: set-dtype -> set_dtype
//     zygomys does not allow hyphens in identifiers (it interprets them
//     as the subtraction operator). This converts kebab-case identifiers
//     to underscore form outside of strings and comments.
//
// Both transformations respect string literal boundaries and line comments.
func preprocessSource(source string) string {
	result := make([]byte, 0, len(source)+len(source)/4)
	b := []byte(source)
	i := 0
	for i < len(b) {
		// Skip double-quoted string literals.
		if b[i] == '"' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '"' {
				if b[i] == '\\' && i+1 < len(b) {
					result = append(result, b[i], b[i+1])
					i += 2
					continue
				}
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Skip backtick-quoted string literals.
		if b[i] == '`' {
			result = append(result, b[i])
			i++
			for i < len(b) && b[i] != '`' {
				result = append(result, b[i])
				i++
			}
			if i < len(b) {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Convert ; line comments to // comments for zygomys.
		// zygomys uses // for line comments, not the traditional Lisp ;.
		if b[i] == ';' {
			result = append(result, '/', '/')
			i++
			// Skip additional ; characters (;; style).
			for i < len(b) && b[i] == ';' {
				i++
			}
			for i < len(b) && b[i] != '\n' {
				result = append(result, b[i])
				i++
			}
			continue
		}
		// Transform :keyword to "__kw_keyword".
		if b[i] == ':' && i+1 < len(b) {
			// Preserve := (assignment operator).
			if b[i+1] == '=' {
				result = append(result, b[i], b[i+1])
				i += 2
				continue
			}
			// Check for keyword: colon followed by a letter.
			if isLetter(b[i+1]) {
				j := i + 1
				for j < len(b) && isKWChar(b[j]) {
					j++
				}
				kwName := string(b[i+1 : j])
				result = append(result, '"')
				result = append(result, []byte(kwPrefix)...)
				result = append(result, []byte(kwName)...)
				result = append(result, '"')
				i = j
				continue
			}
		}
		// Transform kebab-case identifiers: alpha-alpha -> alpha_alpha.
		// Only when hyphen sits between identifier characters (not a minus operator).
		if b[i] == '-' && i > 0 && i+1 < len(b) &&
			isIdentChar(b[i-1]) && isIdentStartChar(b[i+1]) {
			result = append(result, '_')
			i++
			continue
		}
		result = append(result, b[i])
		i++
	}
	return string(result)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isKWChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '-' || c == '_'
}

func isIdentChar(c byte) bool {
	return isLetter(c) || (c >= '0' && c <= '9') || c == '_'
}

func isIdentStartChar(c byte) bool {
	return isLetter(c)
}

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpTensor wraps a *builder.TensorHandle so it can be passed between
// builtins. A nil handle is the null tensor.
type sexpTensor struct {
	h *builder.TensorHandle
}

func (t *sexpTensor) SexpString(ps *zygo.PrintState) string {
	if t.h == nil {
		return "(null-tensor)"
	}
	return fmt.Sprintf("(tensor %s)", t.h)
}
func (t *sexpTensor) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toFloat64 extracts a float64 from a Sexp (SexpInt or SexpFloat).
func toFloat64(s zygo.Sexp) (float64, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float64(v.Val), nil
	case *zygo.SexpFloat:
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected number, got %T (%s)", s, s.SexpString(nil))
}

// toInt64 extracts an integer. Floats are rejected rather than truncated.
func toInt64(s zygo.Sexp) (int64, error) {
	if v, ok := s.(*zygo.SexpInt); ok {
		return v.Val, nil
	}
	return 0, fmt.Errorf("expected integer, got %T (%s)", s, s.SexpString(nil))
}

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_z) and plain strings ("z").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toDataType converts a keyword or string (:int64, "DT_FLOAT") to a DataType.
func toDataType(s zygo.Sexp) (graph.DataType, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return graph.DTUndefined, fmt.Errorf("expected data type keyword: %w", err)
	}
	return graph.ParseDataType(name)
}

// toFormat converts a keyword or string (:nchw, :fractal-nz) to a Format.
func toFormat(s zygo.Sexp) (graph.Format, error) {
	name, err := toKeywordString(s)
	if err != nil {
		return graph.FormatReserved, fmt.Errorf("expected format keyword: %w", err)
	}
	return graph.ParseFormat(name)
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// toShape converts a list or array of integers to a Shape. An empty list is
// a scalar shape.
func toShape(s zygo.Sexp) (graph.Shape, error) {
	items, err := sexpListToSlice(s)
	if err != nil {
		return nil, err
	}
	shape := make(graph.Shape, len(items))
	for i, item := range items {
		d, err := toInt64(item)
		if err != nil {
			return nil, fmt.Errorf("dimension %d: %w", i, err)
		}
		shape[i] = d
	}
	return shape, nil
}

// toTensor extracts a non-null tensor handle.
func toTensor(s zygo.Sexp) (*builder.TensorHandle, error) {
	if t, ok := s.(*sexpTensor); ok && t.h != nil {
		return t.h, nil
	}
	return nil, fmt.Errorf("expected tensor, got %T (%s)", s, s.SexpString(nil))
}

// toTensorLike converts a tensor, null tensor, number or list of numbers.
// A list holding any float becomes a float vector.
func toTensorLike(s zygo.Sexp) (builder.TensorLike, error) {
	switch v := s.(type) {
	case *sexpTensor:
		return builder.FromTensor(v.h), nil
	case *zygo.SexpInt:
		return builder.ScalarInt64(v.Val), nil
	case *zygo.SexpFloat:
		return builder.ScalarFloat(float32(v.Val)), nil
	}
	items, err := sexpListToSlice(s)
	if err != nil {
		return builder.TensorLike{}, fmt.Errorf("expected tensor, number or list of numbers, got %T (%s)", s, s.SexpString(nil))
	}
	ints := make([]int64, 0, len(items))
	floats := make([]float32, 0, len(items))
	allInt := true
	for i, item := range items {
		f, err := toFloat64(item)
		if err != nil {
			return builder.TensorLike{}, fmt.Errorf("element %d: %w", i, err)
		}
		if iv, ok := item.(*zygo.SexpInt); ok {
			ints = append(ints, iv.Val)
		} else {
			allInt = false
		}
		floats = append(floats, float32(f))
	}
	if allInt {
		return builder.VectorInt64(ints...), nil
	}
	return builder.VectorFloat(floats...), nil
}

// toAttr converts a Sexp to the Go value an attribute of kind k holds.
func toAttr(k graph.AttrKind, s zygo.Sexp) (any, error) {
	switch k {
	case graph.AttrInt:
		return toInt64(s)
	case graph.AttrFloat:
		f, err := toFloat64(s)
		return float32(f), err
	case graph.AttrString:
		return toKeywordString(s)
	case graph.AttrBool:
		if v, ok := s.(*zygo.SexpBool); ok {
			return v.Val, nil
		}
		return nil, fmt.Errorf("expected bool, got %T (%s)", s, s.SexpString(nil))
	case graph.AttrListInt:
		shape, err := toShape(s)
		return []int64(shape), err
	case graph.AttrListFloat:
		items, err := sexpListToSlice(s)
		if err != nil {
			return nil, err
		}
		out := make([]float32, len(items))
		for i, item := range items {
			f, err := toFloat64(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = float32(f)
		}
		return out, nil
	case graph.AttrDataType:
		return toDataType(s)
	}
	return nil, fmt.Errorf("%s attributes cannot be set from a script", k)
}

// encodeConst packs numbers as little-endian elements of dt.
func encodeConst(dt graph.DataType, items []zygo.Sexp) ([]byte, error) {
	size := dt.Size()
	switch dt {
	case graph.DTInt8, graph.DTUint8, graph.DTInt16, graph.DTInt32, graph.DTInt64,
		graph.DTBool, graph.DTFloat, graph.DTDouble:
	default:
		return nil, fmt.Errorf("cannot encode %s constants", dt)
	}
	data := make([]byte, size*len(items))
	for i, item := range items {
		f, err := toFloat64(item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		p := data[i*size:]
		switch dt {
		case graph.DTFloat:
			binary.LittleEndian.PutUint32(p, math.Float32bits(float32(f)))
		case graph.DTDouble:
			binary.LittleEndian.PutUint64(p, math.Float64bits(f))
		default:
			n, err := toInt64(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			switch size {
			case 1:
				p[0] = byte(n)
			case 2:
				binary.LittleEndian.PutUint16(p, uint16(n))
			case 4:
				binary.LittleEndian.PutUint32(p, uint32(n))
			case 8:
				binary.LittleEndian.PutUint64(p, uint64(n))
			}
		}
	}
	return data, nil
}

// parseInputSpec reads the :name :type :dtype :format :shape keywords.
func parseInputSpec(fn string, pa kwArgs) (builder.InputSpec, error) {
	var spec builder.InputSpec
	if v, ok := pa.kw["name"]; ok {
		s, err := toString(v)
		if err != nil {
			return spec, fmt.Errorf("%s: name: %w", fn, err)
		}
		spec.Name = s
	}
	if v, ok := pa.kw["type"]; ok {
		s, err := toKeywordString(v)
		if err != nil {
			return spec, fmt.Errorf("%s: type: %w", fn, err)
		}
		spec.Type = s
	}
	if v, ok := pa.kw["dtype"]; ok {
		dt, err := toDataType(v)
		if err != nil {
			return spec, fmt.Errorf("%s: dtype: %w", fn, err)
		}
		spec.DataType = dt
	}
	if v, ok := pa.kw["format"]; ok {
		f, err := toFormat(v)
		if err != nil {
			return spec, fmt.Errorf("%s: format: %w", fn, err)
		}
		spec.Format = f
	}
	if v, ok := pa.kw["shape"]; ok {
		s, err := toShape(v)
		if err != nil {
			return spec, fmt.Errorf("%s: shape: %w", fn, err)
		}
		spec.Shape = s
	}
	return spec, nil
}

// tensorResult wraps op outputs: one output is returned as a tensor, several
// as a list.
func tensorResult(outs []*builder.TensorHandle) zygo.Sexp {
	if len(outs) == 1 {
		return &sexpTensor{h: outs[0]}
	}
	items := make([]zygo.Sexp, len(outs))
	for i, h := range outs {
		items[i] = &sexpTensor{h: h}
	}
	return zygo.MakeList(items)
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the graph-construction builtins into a zygomys
// environment. Every builtin works against b.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals and
// kebab-case names match the underscore names registered here.
func registerBuiltins(env *zygo.Zlisp, b *builder.GraphBuilder) {

	// -----------------------------------------------------------------------
	// (input :index 0 :name "x" :type "Data" :dtype :float :format :nchw :shape [1 3])
	// Without :index the input is appended.
	// -----------------------------------------------------------------------
	env.AddFunction("input", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		spec, err := parseInputSpec("input", pa)
		if err != nil {
			return zygo.SexpNull, err
		}
		v, ok := pa.kw["index"]
		if !ok {
			h, err := b.AppendGraphInput(spec)
			if err != nil {
				return zygo.SexpNull, err
			}
			return &sexpTensor{h: h}, nil
		}
		idx, err := toInt64(v)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("input: index: %w", err)
		}
		h, err := b.AddGraphInput(int(idx), spec)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (append-input :name "x" :dtype :int64)
	// -----------------------------------------------------------------------
	env.AddFunction("append_input", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		spec, err := parseInputSpec("append-input", parseArgs(args))
		if err != nil {
			return zygo.SexpNull, err
		}
		h, err := b.AppendGraphInput(spec)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (output t 0) or (output t) for the next free index
	// -----------------------------------------------------------------------
	env.AddFunction("output", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("output requires a tensor argument")
		}
		h, err := toTensor(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("output: %w", err)
		}
		idx := int64(b.OutputCount())
		var idxArg zygo.Sexp
		if len(pa.positional) > 1 {
			idxArg = pa.positional[1]
		} else if v, ok := pa.kw["index"]; ok {
			idxArg = v
		}
		if idxArg != nil {
			if idx, err = toInt64(idxArg); err != nil {
				return zygo.SexpNull, fmt.Errorf("output: index: %w", err)
			}
		}
		if err := b.SetGraphOutput(h, int(idx)); err != nil {
			return zygo.SexpNull, err
		}
		return pa.positional[0], nil
	})

	// -----------------------------------------------------------------------
	// (constant [1 2 3] :dtype :int32 :shape [3] :format :nd :name "w")
	// -----------------------------------------------------------------------
	env.AddFunction("constant", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("constant requires a value")
		}
		spec := builder.ConstSpec{DataType: graph.DTInt64}
		items, err := sexpListToSlice(pa.positional[0])
		if err == nil {
			spec.Shape = graph.Shape{int64(len(items))}
		} else {
			items = []zygo.Sexp{pa.positional[0]}
			spec.Shape = graph.Shape{}
		}
		for _, item := range items {
			if _, ok := item.(*zygo.SexpFloat); ok {
				spec.DataType = graph.DTFloat
			}
		}
		if v, ok := pa.kw["dtype"]; ok {
			if spec.DataType, err = toDataType(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("constant: dtype: %w", err)
			}
		}
		if v, ok := pa.kw["shape"]; ok {
			if spec.Shape, err = toShape(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("constant: shape: %w", err)
			}
		}
		if v, ok := pa.kw["format"]; ok {
			if spec.Format, err = toFormat(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("constant: format: %w", err)
			}
		}
		if v, ok := pa.kw["name"]; ok {
			if spec.Name, err = toString(v); err != nil {
				return zygo.SexpNull, fmt.Errorf("constant: name: %w", err)
			}
		}
		data, err := encodeConst(spec.DataType, items)
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("constant: %w", err)
		}
		h, err := b.CreateConst(data, spec)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (tensor 7), (tensor [1.5 2]), (tensor t)
	// Literals become a new Const node on every call.
	// -----------------------------------------------------------------------
	env.AddFunction("tensor", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("tensor requires exactly 1 argument, got %d", len(args))
		}
		like, err := toTensorLike(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("tensor: %w", err)
		}
		h, err := like.ToTensorHandle(b)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (null-tensor)
	// -----------------------------------------------------------------------
	env.AddFunction("null_tensor", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return &sexpTensor{}, nil
	})

	// -----------------------------------------------------------------------
	// (add x y), (sub x 1), (mul 0.5 x), (div x y)
	// -----------------------------------------------------------------------
	binaryOps := map[string]func(x1, x2 builder.TensorLike) (*builder.TensorHandle, error){
		"add": builder.Add,
		"sub": builder.Sub,
		"mul": builder.Mul,
		"div": builder.Div,
	}
	for opName, fn := range binaryOps {
		opName, fn := opName, fn
		env.AddFunction(opName, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires exactly 2 arguments, got %d", opName, len(args))
			}
			x1, err := toTensorLike(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: x1: %w", opName, err)
			}
			x2, err := toTensorLike(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: x2: %w", opName, err)
			}
			h, err := fn(x1, x2)
			if err != nil {
				return zygo.SexpNull, err
			}
			return &sexpTensor{h: h}, nil
		})
	}

	// -----------------------------------------------------------------------
	// (cast x :float16)
	// -----------------------------------------------------------------------
	env.AddFunction("cast", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("cast requires a tensor and a data type")
		}
		x, err := toTensorLike(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cast: x: %w", err)
		}
		dt, err := toDataType(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("cast: dtype: %w", err)
		}
		h, err := builder.Cast(x, dt)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (identity x)
	// -----------------------------------------------------------------------
	env.AddFunction("identity", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("identity requires exactly 1 argument, got %d", len(args))
		}
		x, err := toTensorLike(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("identity: %w", err)
		}
		h, err := builder.Identity(x)
		if err != nil {
			return zygo.SexpNull, err
		}
		return &sexpTensor{h: h}, nil
	})

	// -----------------------------------------------------------------------
	// (op "Relu" x) or (op "Cast" x :dst-type :float16)
	// Keyword arguments are attributes, converted by the op definition.
	// -----------------------------------------------------------------------
	env.AddFunction("op", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if len(pa.positional) < 1 {
			return zygo.SexpNull, fmt.Errorf("op requires an op type")
		}
		opType, err := toKeywordString(pa.positional[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("op: type: %w", err)
		}
		def, ok := graph.LookupOp(opType)
		if !ok {
			return zygo.SexpNull, fmt.Errorf("op: unknown op type %q", opType)
		}

		attrs := make(map[string]any, len(pa.kw))
		for kw, v := range pa.kw {
			attrName := strings.ReplaceAll(kw, "-", "_")
			ad, ok := def.Attr(attrName)
			if !ok {
				return zygo.SexpNull, fmt.Errorf("op %s: no attribute %q", opType, attrName)
			}
			val, err := toAttr(ad.Kind, v)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("op %s: %s: %w", opType, attrName, err)
			}
			attrs[attrName] = val
		}

		inputs := make([]*builder.TensorHandle, 0, len(pa.positional)-1)
		for i, arg := range pa.positional[1:] {
			like, err := toTensorLike(arg)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("op %s: input %d: %w", opType, i, err)
			}
			h, err := like.ToTensorHandle(b)
			if err != nil {
				return zygo.SexpNull, err
			}
			inputs = append(inputs, h)
		}
		outs, err := b.AddOp(opType, inputs, attrs)
		if err != nil {
			return zygo.SexpNull, err
		}
		return tensorResult(outs), nil
	})

	// -----------------------------------------------------------------------
	// (set-dtype t :int32), (set-format t :nchw), (set-shape t [2 3]) ...
	// Each returns t.
	// -----------------------------------------------------------------------
	formatSetters := map[string]func(*builder.TensorHandle, graph.Format) error{
		"set_format":         (*builder.TensorHandle).SetFormat,
		"set_origin_format":  (*builder.TensorHandle).SetOriginFormat,
		"set_storage_format": (*builder.TensorHandle).SetStorageFormat,
	}
	for fnName, set := range formatSetters {
		fnName, set := fnName, set
		env.AddFunction(fnName, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires a tensor and a format", fnName)
			}
			h, err := toTensor(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fnName, err)
			}
			f, err := toFormat(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fnName, err)
			}
			if err := set(h, f); err != nil {
				return zygo.SexpNull, err
			}
			return args[0], nil
		})
	}

	shapeSetters := map[string]func(*builder.TensorHandle, graph.Shape) error{
		"set_shape":         (*builder.TensorHandle).SetShape,
		"set_origin_shape":  (*builder.TensorHandle).SetOriginShape,
		"set_storage_shape": (*builder.TensorHandle).SetStorageShape,
	}
	for fnName, set := range shapeSetters {
		fnName, set := fnName, set
		env.AddFunction(fnName, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires a tensor and a shape", fnName)
			}
			h, err := toTensor(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fnName, err)
			}
			s, err := toShape(args[1])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", fnName, err)
			}
			if err := set(h, s); err != nil {
				return zygo.SexpNull, err
			}
			return args[0], nil
		})
	}

	env.AddFunction("set_dtype", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("set-dtype requires a tensor and a data type")
		}
		h, err := toTensor(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-dtype: %w", err)
		}
		dt, err := toDataType(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-dtype: %w", err)
		}
		if err := h.SetDataType(dt); err != nil {
			return zygo.SexpNull, err
		}
		return args[0], nil
	})

	// -----------------------------------------------------------------------
	// (set-symbol-shape t "s0" "s1 * 2")
	// -----------------------------------------------------------------------
	env.AddFunction("set_symbol_shape", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("set-symbol-shape requires a tensor")
		}
		h, err := toTensor(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("set-symbol-shape: %w", err)
		}
		dims := make([]string, 0, len(args)-1)
		for i, a := range args[1:] {
			s, err := toString(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("set-symbol-shape: dimension %d: %w", i, err)
			}
			dims = append(dims, s)
		}
		if err := h.SetOriginSymbolShape(dims...); err != nil {
			return zygo.SexpNull, err
		}
		return args[0], nil
	})

	// -----------------------------------------------------------------------
	// (node-name t) returns the producer's name.
	// -----------------------------------------------------------------------
	env.AddFunction("node_name", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("node-name requires exactly 1 argument, got %d", len(args))
		}
		h, err := toTensor(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("node-name: %w", err)
		}
		return &zygo.SexpStr{S: h.Producer().Name()}, nil
	})

	// -----------------------------------------------------------------------
	// (gen-name "Conv2D") returns a fresh "Conv2D_<n>".
	// -----------------------------------------------------------------------
	env.AddFunction("gen_name", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("gen-name requires exactly 1 argument, got %d", len(args))
		}
		opType, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("gen-name: %w", err)
		}
		return &zygo.SexpStr{S: b.GenerateNodeName(opType)}, nil
	})
}
