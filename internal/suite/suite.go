// Package suite models a generated test file: its imports and test
// functions, and how it renders to formatted Go source.
package suite

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/tools/imports"

	"github.com/unbound-force/amplify/internal/style"
)

// ObservePath is the import path of the observation helpers called by
// candidate tests.
const ObservePath = "github.com/unbound-force/amplify/observe"

// Header is the first line of every rendered file.
const Header = "// Code generated by amplify. DO NOT EDIT."

// FileSuffix ends the name of every generated file.
const FileSuffix = "_amplified_test.go"

// Method is one test function. Body holds its statements without the
// signature and closing brace.
type Method struct {
	Name string
	Body []string

	// Origin is the id of the method whose call the test was built
	// from.
	Origin string

	// Inlined marks tests that replay a copied body instead of calling
	// the method.
	Inlined bool

	// Panics marks tests whose body is expected to panic.
	Panics bool
}

// File is one generated _test.go file.
type File struct {
	// Package is the test package name, e.g. "geo_test".
	Package string

	// Name is the file name, e.g. "point_amplified_test.go".
	Name string

	// Type is the declaring type the tests exercise, or the package
	// name for package-level functions.
	Type string

	Idiom style.Idiom

	imports map[string]string
	methods []*Method
}

// New returns an empty file.
func New(pkg, name, typ string, idiom style.Idiom) *File {
	return &File{
		Package: pkg,
		Name:    name,
		Type:    typ,
		Idiom:   idiom,
		imports: make(map[string]string),
	}
}

// AddImport registers an import. A non-empty name is used as the
// import alias.
func (f *File) AddImport(path, name string) {
	if path == "" {
		return
	}
	if _, ok := f.imports[path]; ok && name == "" {
		return
	}
	f.imports[path] = name
}

// Imports returns the registered import paths, sorted.
func (f *File) Imports() []string {
	out := make([]string, 0, len(f.imports))
	for p := range f.imports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Add appends m. It returns an error when a method of the same name
// already exists.
func (f *File) Add(m *Method) error {
	if f.Method(m.Name) != nil {
		return fmt.Errorf("duplicate test %s in %s", m.Name, f.Name)
	}
	f.methods = append(f.methods, m)
	return nil
}

// Method returns the method called name, or nil.
func (f *File) Method(name string) *Method {
	for _, m := range f.methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Methods returns the methods in file order.
func (f *File) Methods() []*Method {
	return append([]*Method(nil), f.methods...)
}

// Names returns the method names in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.methods))
	for i, m := range f.methods {
		out[i] = m.Name
	}
	return out
}

// Len returns the number of methods.
func (f *File) Len() int { return len(f.methods) }

// Remove deletes the named method and reports whether it existed.
func (f *File) Remove(name string) bool {
	for i, m := range f.methods {
		if m.Name == name {
			f.methods = append(f.methods[:i], f.methods[i+1:]...)
			return true
		}
	}
	return false
}

// Span is the inclusive line range of a rendered method.
type Span struct {
	Start, End int
}

// Rendered is formatted source with the line span of every method.
type Rendered struct {
	Source []byte
	Spans  map[string]Span
}

// MethodAt returns the method whose span contains line.
func (r *Rendered) MethodAt(line int) (string, bool) {
	for name, s := range r.Spans {
		if line >= s.Start && line <= s.End {
			return name, true
		}
	}
	return "", false
}

// Render produces gofmt-formatted source. Unused imports are dropped.
func (f *File) Render() (*Rendered, error) {
	var b bytes.Buffer
	b.WriteString(Header + "\n\n")
	b.WriteString("package " + f.Package + "\n\n")

	paths := f.Imports()
	if f.Idiom != nil {
		for _, p := range f.Idiom.Imports() {
			if _, ok := f.imports[p]; !ok {
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)
	if len(paths) > 0 {
		b.WriteString("import (\n")
		for _, p := range paths {
			if name := f.imports[p]; name != "" {
				b.WriteString(name + " ")
			}
			b.WriteString(strconv.Quote(p) + "\n")
		}
		b.WriteString(")\n")
	}

	for _, m := range f.methods {
		b.WriteString("\n")
		b.WriteString(signature(f.Idiom, m.Name) + "\n")
		for _, line := range m.Body {
			b.WriteString(line + "\n")
		}
		b.WriteString("}\n")
	}

	src, err := imports.Process(f.Name, b.Bytes(), &imports.Options{
		Comments:  true,
		TabIndent: true,
		TabWidth:  8,
	})
	if err != nil {
		return nil, fmt.Errorf("formatting %s: %w", f.Name, err)
	}

	spans, err := spansOf(f.Name, src)
	if err != nil {
		return nil, err
	}
	return &Rendered{Source: src, Spans: spans}, nil
}

func signature(idiom style.Idiom, name string) string {
	if idiom == nil {
		return "func " + name + "(t *testing.T) {"
	}
	return idiom.TestSignature(name)
}

func spansOf(name string, src []byte) (map[string]Span, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, name, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parsing rendered %s: %w", name, err)
	}
	spans := make(map[string]Span)
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		spans[fd.Name.Name] = Span{
			Start: fset.Position(fd.Pos()).Line,
			End:   fset.Position(fd.End()).Line,
		}
	}
	return spans, nil
}

// ObservedExpr reports whether line is a single observation call such
// as observe.Value(t, "r0", r0), returning the observed expression
// text.
func ObservedExpr(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "observe.") {
		return "", false
	}
	expr, err := parser.ParseExpr(trimmed)
	if err != nil {
		return "", false
	}
	call, ok := expr.(*ast.CallExpr)
	if !ok || len(call.Args) != 3 {
		return "", false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", false
	}
	if pkg, ok := sel.X.(*ast.Ident); !ok || pkg.Name != "observe" {
		return "", false
	}
	lit, ok := call.Args[1].(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	text, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return text, true
}

// ReplaceObservations rewrites body, replacing every observation call
// with the statements returned by fn for its expression. Returning no
// statements drops the observation.
func ReplaceObservations(body []string, fn func(expr string) []string) []string {
	out := make([]string, 0, len(body))
	for _, line := range body {
		expr, ok := ObservedExpr(line)
		if !ok {
			out = append(out, line)
			continue
		}
		out = append(out, fn(expr)...)
	}
	return out
}
