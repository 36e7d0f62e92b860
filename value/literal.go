package value

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// ErrNotRenderable is returned when a value has no Go literal form.
var ErrNotRenderable = errors.New("value has no literal form")

// ErrNamedType is returned by ParseLiteral for literals of
// user-declared types, whose underlying kind is not recoverable from
// the text alone.
var ErrNamedType = errors.New("literal of a named type")

// typeNames maps predeclared kinds to the Go type spelled in
// conversions and composite literal element types.
var typeNames = map[Kind]string{
	Bool:    "bool",
	Int:     "int",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Uint:    "uint",
	Uint8:   "byte",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
	Rune:    "rune",
	String:  "string",
}

// kindNames is the inverse of typeNames, including aliases.
var kindNames = map[string]Kind{
	"bool":    Bool,
	"int":     Int,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"uint":    Uint,
	"uint8":   Uint8,
	"byte":    Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  Uint64,
	"float32": Float32,
	"float64": Float64,
	"rune":    Rune,
	"string":  String,
}

// Literal renders v as a Go expression that evaluates to an equal
// value of the same type. Every width other than the defaults for
// untyped constants is made explicit: int64(7), uint8(3),
// float64(3.14), float32(2.5). Strings are double-quoted and runes
// single-quoted with Go escapes.
func Literal(v Value) (string, error) {
	switch v.Kind {
	case Nil:
		return "nil", nil
	case Slice:
		return sliceLiteral(v)
	case Struct:
		return structLiteral(v)
	case Opaque:
		return "", fmt.Errorf("%w: %s", ErrNotRenderable, v.Type)
	}

	text, err := scalarText(v)
	if err != nil {
		return "", err
	}
	if v.Type != "" {
		return v.Type + "(" + text + ")", nil
	}
	switch v.Kind {
	case Bool, Int, Rune, String:
		return text, nil
	case Float32, Float64:
		if !isFinite(v.Float) && v.Kind == Float64 {
			return text, nil
		}
	}
	return typeNames[v.Kind] + "(" + text + ")", nil
}

// scalarText renders the untyped constant text for a scalar kind.
func scalarText(v Value) (string, error) {
	switch v.Kind {
	case Bool:
		return strconv.FormatBool(v.Bool), nil
	case Int, Int8, Int16, Int32, Int64:
		return strconv.FormatInt(v.Int, 10), nil
	case Uint, Uint8, Uint16, Uint32, Uint64:
		return strconv.FormatUint(v.Uint, 10), nil
	case Float32:
		return floatText(v.Float, 32), nil
	case Float64:
		return floatText(v.Float, 64), nil
	case Rune:
		return strconv.QuoteRune(rune(v.Int)), nil
	case String:
		return strconv.Quote(v.Str), nil
	}
	return "", fmt.Errorf("%w: kind %s", ErrNotRenderable, v.Kind)
}

func floatText(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "math.NaN()"
	case math.IsInf(f, 1):
		return "math.Inf(1)"
	case math.IsInf(f, -1):
		return "math.Inf(-1)"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sliceLiteral(v Value) (string, error) {
	typ := v.Type
	if typ == "" {
		name, ok := typeNames[v.Elem]
		if !ok {
			return "", fmt.Errorf("%w: slice without element type", ErrNotRenderable)
		}
		typ = "[]" + name
	}
	bare := v.Elem != ""
	parts := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		var (
			s   string
			err error
		)
		if bare && e.Type == "" && isScalar(e) {
			s, err = scalarText(e)
			if err == nil && (e.Kind == Float32 || e.Kind == Float64) && !isFinite(e.Float) {
				s = typeNames[e.Kind] + "(" + s + ")"
			}
		} else {
			s, err = Literal(e)
		}
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return typ + "{" + strings.Join(parts, ", ") + "}", nil
}

func structLiteral(v Value) (string, error) {
	typ := v.Type
	prefix := ""
	if strings.HasPrefix(typ, "*") {
		prefix, typ = "&", typ[1:]
	}
	parts := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		s, err := Literal(f.Value)
		if err != nil {
			return "", err
		}
		parts[i] = f.Name + ": " + s
	}
	return prefix + typ + "{" + strings.Join(parts, ", ") + "}", nil
}

func isScalar(v Value) bool {
	switch v.Kind {
	case Nil, Slice, Struct, Opaque:
		return false
	}
	return true
}

// ParseLiteral parses a literal produced by Literal back into a
// Value. Literals of predeclared types round-trip exactly; literals
// of user-declared types return ErrNamedType.
func ParseLiteral(src string) (Value, error) {
	expr, err := parser.ParseExpr(src)
	if err != nil {
		return Value{}, fmt.Errorf("parsing literal %q: %w", src, err)
	}
	return parseExpr(expr, "")
}

// parseExpr evaluates e. want is the element kind imposed by an
// enclosing composite literal, or empty.
func parseExpr(e ast.Expr, want Kind) (Value, error) {
	switch x := e.(type) {
	case *ast.Ident:
		switch x.Name {
		case "nil":
			return Value{Kind: Nil}, nil
		case "true", "false":
			return Value{Kind: Bool, Bool: x.Name == "true"}, nil
		}
		return Value{}, fmt.Errorf("unexpected identifier %q", x.Name)
	case *ast.ParenExpr:
		return parseExpr(x.X, want)
	case *ast.BasicLit:
		if x.Kind == token.CHAR && (want == "" || want == Rune) {
			return runeLiteral(x)
		}
		c, err := constValue(x)
		if err != nil {
			return Value{}, err
		}
		return fromConstant(c, want)
	case *ast.UnaryExpr:
		c, err := constValue(x)
		if err != nil {
			return Value{}, err
		}
		return fromConstant(c, want)
	case *ast.CallExpr:
		return parseCall(x, want)
	case *ast.CompositeLit:
		return parseComposite(x)
	}
	return Value{}, fmt.Errorf("unsupported literal syntax %T", e)
}

func constValue(e ast.Expr) (constant.Value, error) {
	switch x := e.(type) {
	case *ast.BasicLit:
		c := constant.MakeFromLiteral(x.Value, x.Kind, 0)
		if c.Kind() == constant.Unknown {
			return nil, fmt.Errorf("malformed literal %s", x.Value)
		}
		return c, nil
	case *ast.UnaryExpr:
		if x.Op != token.SUB && x.Op != token.ADD {
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		c, err := constValue(x.X)
		if err != nil {
			return nil, err
		}
		return constant.UnaryOp(x.Op, c, 0), nil
	case *ast.ParenExpr:
		return constValue(x.X)
	}
	return nil, fmt.Errorf("not a constant: %T", e)
}

// fromConstant converts an untyped constant to a Value of kind want,
// inferring the default kind when want is empty.
func fromConstant(c constant.Value, want Kind) (Value, error) {
	if want == "" {
		switch c.Kind() {
		case constant.Bool:
			want = Bool
		case constant.String:
			want = String
		case constant.Float:
			want = Float64
		case constant.Int:
			want = Int
		}
	}
	v := Value{Kind: want}
	switch want {
	case Bool:
		if c.Kind() != constant.Bool {
			return Value{}, fmt.Errorf("expected bool constant, got %s", c)
		}
		v.Bool = constant.BoolVal(c)
	case String:
		if c.Kind() != constant.String {
			return Value{}, fmt.Errorf("expected string constant, got %s", c)
		}
		v.Str = constant.StringVal(c)
	case Int, Int8, Int16, Int32, Int64, Rune:
		n, ok := constant.Int64Val(constant.ToInt(c))
		if !ok {
			return Value{}, fmt.Errorf("constant %s overflows %s", c, want)
		}
		v.Int = n
	case Uint, Uint8, Uint16, Uint32, Uint64:
		n, ok := constant.Uint64Val(constant.ToInt(c))
		if !ok {
			return Value{}, fmt.Errorf("constant %s overflows %s", c, want)
		}
		v.Uint = n
	case Float32:
		f, _ := constant.Float32Val(constant.ToFloat(c))
		v.Float = float64(f)
	case Float64:
		f, _ := constant.Float64Val(constant.ToFloat(c))
		v.Float = f
	default:
		return Value{}, fmt.Errorf("cannot convert constant %s to %s", c, want)
	}
	return v, nil
}

// runeLiteral decodes a character literal. go/constant would fold it
// to an untyped Int, losing the rune default type.
func runeLiteral(x *ast.BasicLit) (Value, error) {
	s, err := strconv.Unquote(x.Value)
	if err != nil {
		return Value{}, fmt.Errorf("malformed rune literal %s: %w", x.Value, err)
	}
	rs := []rune(s)
	if len(rs) != 1 {
		return Value{}, fmt.Errorf("malformed rune literal %s", x.Value)
	}
	return Value{Kind: Rune, Int: int64(rs[0])}, nil
}

func parseCall(call *ast.CallExpr, want Kind) (Value, error) {
	// math.NaN() and math.Inf(±1).
	if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
		pkg, _ := sel.X.(*ast.Ident)
		if pkg == nil || pkg.Name != "math" {
			return Value{}, ErrNamedType
		}
		kind := want
		if kind == "" {
			kind = Float64
		}
		switch sel.Sel.Name {
		case "NaN":
			return Value{Kind: kind, Float: math.NaN()}, nil
		case "Inf":
			if len(call.Args) != 1 {
				return Value{}, fmt.Errorf("math.Inf takes one argument")
			}
			c, err := constValue(call.Args[0])
			if err != nil {
				return Value{}, err
			}
			sign, _ := constant.Int64Val(constant.ToInt(c))
			return Value{Kind: kind, Float: math.Inf(int(sign))}, nil
		}
		return Value{}, fmt.Errorf("unsupported call math.%s", sel.Sel.Name)
	}

	// Conversions: int64(7), float32(2.5), rune('a').
	id, ok := call.Fun.(*ast.Ident)
	if !ok || len(call.Args) != 1 {
		return Value{}, ErrNamedType
	}
	kind, ok := kindNames[id.Name]
	if !ok {
		return Value{}, ErrNamedType
	}
	return parseExpr(call.Args[0], kind)
}

func parseComposite(lit *ast.CompositeLit) (Value, error) {
	arr, ok := lit.Type.(*ast.ArrayType)
	if !ok {
		return Value{}, ErrNamedType
	}
	elemIdent, ok := arr.Elt.(*ast.Ident)
	if !ok {
		return Value{}, ErrNamedType
	}
	elem, ok := kindNames[elemIdent.Name]
	if !ok {
		return Value{}, ErrNamedType
	}
	v := Value{Kind: Slice, Elem: elem, Elems: make([]Value, 0, len(lit.Elts))}
	if arr.Len != nil {
		n, ok := arr.Len.(*ast.BasicLit)
		if !ok {
			return Value{}, fmt.Errorf("unsupported array length %T", arr.Len)
		}
		v.Type = "[" + n.Value + "]" + elemIdent.Name
	}
	for _, e := range lit.Elts {
		ev, err := parseExpr(e, elem)
		if err != nil {
			return Value{}, err
		}
		v.Elems = append(v.Elems, ev)
	}
	return v, nil
}
