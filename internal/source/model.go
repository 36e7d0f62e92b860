// Package source builds the static model of a target package that the
// candidate generator consults: which functions exist, whether they
// can be called from a black-box test, what they reference, and how
// their bodies read when lifted out of the package.
package source

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"os"
	"sort"
	"strings"

	"github.com/fzipp/gocyclo"
	"golang.org/x/tools/go/types/typeutil"

	"github.com/unbound-force/amplify/internal/loader"
)

// Param is one declared parameter.
type Param struct {
	Name string
	Type string
}

// Import is an import required by rendered code. Name is empty when
// the package is imported under its own name.
type Import struct {
	Name string
	Path string
}

// Method describes one function or method of the target package.
type Method struct {
	// ID is "pkgpath.Func", "pkgpath.(*T).M" or "pkgpath.(T).M",
	// the same identity the instrumentation passes to the recorder.
	ID string

	Name string

	// Recv is the receiver type name, empty for functions.
	Recv    string
	PtrRecv bool

	// Exported reports whether a test in another package can call
	// the method directly.
	Exported bool

	Params   []Param
	Variadic bool
	Results  []string

	// UsesReceiver reports whether the body refers to its receiver.
	UsesReceiver bool

	// UnexportedRefs reports whether the body refers to unexported
	// package members, fields or methods of the target package.
	UnexportedRefs bool

	// Calls lists the import paths of every function the body calls.
	Calls []string

	// Closure renders the function as a function literal that
	// compiles in the external test package. Empty when the body
	// cannot be lifted (it uses the receiver or unexported members).
	Closure string

	// ClosureImports lists the imports the closure refers to.
	ClosureImports []Import

	Complexity int
	File       string
	Line       int
}

// CallsInto reports whether the body calls into a package whose
// import path starts with one of prefixes.
func (m *Method) CallsInto(prefixes []string) bool {
	for _, c := range m.Calls {
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(c, p) {
				return true
			}
		}
	}
	return false
}

// Constructor is a NewT function returning T or *T.
type Constructor struct {
	ID     string
	Name   string
	Type   string
	Ptr    bool
	Params []Param
}

// Model is the static view of one target package.
type Model struct {
	PkgPath    string
	PkgName    string
	Dir        string
	ModulePath string
	ModuleDir  string

	methods      map[string]*Method
	order        []string
	constructors map[string][]*Constructor
}

// Package returns the import path and name of the package.
func (m *Model) Package() (path, name string) { return m.PkgPath, m.PkgName }

// Method returns the method with the given id.
func (m *Model) Method(id string) (*Method, bool) {
	meth, ok := m.methods[id]
	return meth, ok
}

// Methods returns every method in declaration order.
func (m *Model) Methods() []*Method {
	out := make([]*Method, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.methods[id])
	}
	return out
}

// Constructors returns the constructors of the named type.
func (m *Model) Constructors(typeName string) []*Constructor {
	return m.constructors[typeName]
}

// Load loads pattern relative to dir and builds its model.
func Load(dir, pattern string) (*Model, error) {
	res, err := loader.Load(dir, pattern)
	if err != nil {
		return nil, err
	}
	return Build(res)
}

// Build indexes an already loaded package.
func Build(res *loader.Result) (*Model, error) {
	pkg := res.Pkg
	m := &Model{
		PkgPath:      pkg.PkgPath,
		PkgName:      pkg.Name,
		Dir:          res.Dir,
		ModulePath:   res.ModulePath,
		ModuleDir:    res.ModuleDir,
		methods:      make(map[string]*Method),
		constructors: make(map[string][]*Constructor),
	}
	b := &builder{
		model:   m,
		pkg:     pkg.Types,
		info:    pkg.TypesInfo,
		fset:    res.Fset,
		sources: make(map[string][]byte),
	}

	var stats gocyclo.Stats
	for _, f := range pkg.Syntax {
		stats = gocyclo.AnalyzeASTFile(f, res.Fset, stats)
	}
	complexity := make(map[string]int, len(stats))
	for _, s := range stats {
		complexity[fmt.Sprintf("%s:%d", s.Pos.Filename, s.Pos.Line)] = s.Complexity
	}

	for _, f := range pkg.Syntax {
		for _, decl := range f.Decls {
			fd, ok := decl.(*ast.FuncDecl)
			if !ok || fd.Body == nil {
				continue
			}
			meth, err := b.method(fd)
			if err != nil {
				return nil, err
			}
			if meth == nil {
				continue
			}
			meth.Complexity = complexity[fmt.Sprintf("%s:%d", meth.File, meth.Line)]
			m.methods[meth.ID] = meth
			m.order = append(m.order, meth.ID)
			b.constructor(fd, meth)
		}
	}
	for _, cs := range m.constructors {
		sort.SliceStable(cs, func(i, j int) bool { return len(cs[i].Params) < len(cs[j].Params) })
	}
	return m, nil
}

// MethodID formats the identity of fn.
func MethodID(fn *types.Func) string {
	sig, ok := fn.Type().(*types.Signature)
	if !ok || sig.Recv() == nil {
		return fn.Pkg().Path() + "." + fn.Name()
	}
	name, ptr := recvName(sig.Recv().Type())
	if ptr {
		return fmt.Sprintf("%s.(*%s).%s", fn.Pkg().Path(), name, fn.Name())
	}
	return fmt.Sprintf("%s.(%s).%s", fn.Pkg().Path(), name, fn.Name())
}

func recvName(t types.Type) (string, bool) {
	ptr := false
	if p, ok := t.(*types.Pointer); ok {
		t, ptr = p.Elem(), true
	}
	if n, ok := t.(*types.Named); ok {
		return n.Obj().Name(), ptr
	}
	return types.TypeString(t, nil), ptr
}

type builder struct {
	model   *Model
	pkg     *types.Package
	info    *types.Info
	fset    *token.FileSet
	sources map[string][]byte
}

func (b *builder) method(fd *ast.FuncDecl) (*Method, error) {
	obj, ok := b.info.Defs[fd.Name].(*types.Func)
	if !ok || fd.Name.Name == "_" || fd.Name.Name == "init" {
		return nil, nil
	}
	sig := obj.Type().(*types.Signature)
	if sig.TypeParams().Len() > 0 || sig.RecvTypeParams().Len() > 0 {
		// Generic functions need instantiation the generator does
		// not attempt.
		return nil, nil
	}
	pos := b.fset.Position(fd.Pos())
	meth := &Method{
		ID:       MethodID(obj),
		Name:     obj.Name(),
		Exported: obj.Exported(),
		Variadic: sig.Variadic(),
		File:     pos.Filename,
		Line:     pos.Line,
	}

	var recvObj types.Object
	if recv := sig.Recv(); recv != nil {
		meth.Recv, meth.PtrRecv = recvName(recv.Type())
		meth.Exported = meth.Exported && token.IsExported(meth.Recv)
		recvObj = recv
	}

	qual := b.qualifier(nil)
	for i := 0; i < sig.Params().Len(); i++ {
		p := sig.Params().At(i)
		typ := types.TypeString(p.Type(), qual)
		if sig.Variadic() && i == sig.Params().Len()-1 {
			typ = "..." + strings.TrimPrefix(typ, "[]")
		}
		name := p.Name()
		if name == "" || name == "_" {
			name = fmt.Sprintf("p%d", i)
		}
		meth.Params = append(meth.Params, Param{Name: name, Type: typ})
	}
	for i := 0; i < sig.Results().Len(); i++ {
		meth.Results = append(meth.Results, types.TypeString(sig.Results().At(i).Type(), qual))
	}

	refs := b.references(fd.Body, recvObj)
	meth.UsesReceiver = refs.receiver
	meth.UnexportedRefs = refs.unexported
	meth.Calls = refs.calls

	if !meth.UsesReceiver && !meth.UnexportedRefs {
		closure, imports, err := b.closure(fd, meth, refs)
		if err != nil {
			return nil, fmt.Errorf("rendering body of %s: %w", meth.ID, err)
		}
		meth.Closure, meth.ClosureImports = closure, imports
	}
	return meth, nil
}

// constructor registers fd when it is a NewT function returning a
// single T or *T declared in the package.
func (b *builder) constructor(fd *ast.FuncDecl, meth *Method) {
	if fd.Recv != nil || !meth.Exported || !strings.HasPrefix(meth.Name, "New") {
		return
	}
	obj := b.info.Defs[fd.Name].(*types.Func)
	res := obj.Type().(*types.Signature).Results()
	if res.Len() != 1 {
		return
	}
	t := res.At(0).Type()
	ptr := false
	if p, ok := t.(*types.Pointer); ok {
		t, ptr = p.Elem(), true
	}
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() != b.pkg || !named.Obj().Exported() {
		return
	}
	name := named.Obj().Name()
	b.model.constructors[name] = append(b.model.constructors[name], &Constructor{
		ID:     meth.ID,
		Name:   meth.Name,
		Type:   name,
		Ptr:    ptr,
		Params: meth.Params,
	})
}

// qualifier names packages the way a black-box test file refers to
// them, collecting the imports used along the way.
func (b *builder) qualifier(used map[string]Import) types.Qualifier {
	return func(p *types.Package) string {
		if used != nil {
			used[p.Path()] = Import{Path: p.Path()}
		}
		return p.Name()
	}
}

type references struct {
	receiver   bool
	unexported bool
	calls      []string
	qualify    []*ast.Ident
	imports    map[string]Import
}

func (b *builder) references(body *ast.BlockStmt, recv types.Object) references {
	refs := references{imports: make(map[string]Import)}
	calls := make(map[string]bool)
	scope := b.pkg.Scope()

	ast.Inspect(body, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.Ident:
			obj := b.info.Uses[node]
			if obj == nil {
				return true
			}
			if recv != nil && obj == recv {
				refs.receiver = true
			}
			switch o := obj.(type) {
			case *types.PkgName:
				name := ""
				if o.Name() != o.Imported().Name() {
					name = o.Name()
				}
				refs.imports[o.Imported().Path()] = Import{Name: name, Path: o.Imported().Path()}
				return true
			}
			if obj.Pkg() != b.pkg {
				return true
			}
			if obj.Parent() == scope {
				if !obj.Exported() {
					refs.unexported = true
				}
				refs.qualify = append(refs.qualify, node)
				return true
			}
			if isMember(obj) && !obj.Exported() {
				refs.unexported = true
			}
		case *ast.CallExpr:
			if fn, ok := typeutil.Callee(b.info, node).(*types.Func); ok && fn.Pkg() != nil {
				calls[fn.Pkg().Path()] = true
			}
		}
		return true
	})

	for c := range calls {
		refs.calls = append(refs.calls, c)
	}
	sort.Strings(refs.calls)
	return refs
}

// isMember reports whether obj is a struct field or a method.
func isMember(obj types.Object) bool {
	switch o := obj.(type) {
	case *types.Var:
		return o.IsField()
	case *types.Func:
		sig, ok := o.Type().(*types.Signature)
		return ok && sig.Recv() != nil
	}
	return false
}

// closure renders fd as a function literal whose package-level
// identifiers are qualified with the package name.
func (b *builder) closure(fd *ast.FuncDecl, meth *Method, refs references) (string, []Import, error) {
	start := b.fset.Position(fd.Body.Pos())
	end := b.fset.Position(fd.Body.End())
	src, err := b.source(start.Filename)
	if err != nil {
		return "", nil, err
	}
	if end.Offset > len(src) || start.Offset > end.Offset {
		return "", nil, fmt.Errorf("body offsets out of range in %s", start.Filename)
	}

	// Splice qualifiers in from the back so earlier offsets stay valid.
	idents := append([]*ast.Ident(nil), refs.qualify...)
	sort.Slice(idents, func(i, j int) bool { return idents[i].Pos() > idents[j].Pos() })
	body := append([]byte(nil), src[start.Offset:end.Offset]...)
	for _, id := range idents {
		off := b.fset.Position(id.Pos()).Offset - start.Offset
		body = append(body[:off], append([]byte(b.model.PkgName+"."), body[off:]...)...)
	}

	used := make(map[string]Import)
	for p, imp := range refs.imports {
		used[p] = imp
	}
	qual := b.qualifier(used)
	obj := b.info.Defs[fd.Name].(*types.Func)
	sig := obj.Type().(*types.Signature)

	var params []string
	for i := 0; i < sig.Params().Len(); i++ {
		p := sig.Params().At(i)
		typ := types.TypeString(p.Type(), qual)
		if sig.Variadic() && i == sig.Params().Len()-1 {
			typ = "..." + strings.TrimPrefix(typ, "[]")
		}
		name := p.Name()
		if name == "" {
			name = "_"
		}
		params = append(params, name+" "+typ)
	}
	var results []string
	named := false
	for i := 0; i < sig.Results().Len(); i++ {
		r := sig.Results().At(i)
		typ := types.TypeString(r.Type(), qual)
		if r.Name() != "" {
			named = true
			typ = r.Name() + " " + typ
		}
		results = append(results, typ)
	}
	resText := ""
	switch {
	case len(results) == 1 && !named:
		resText = " " + results[0]
	case len(results) > 0:
		resText = " (" + strings.Join(results, ", ") + ")"
	}
	if len(refs.qualify) > 0 {
		used[b.model.PkgPath] = Import{Path: b.model.PkgPath}
	}

	imports := make([]Import, 0, len(used))
	for _, imp := range used {
		imports = append(imports, imp)
	}
	sort.Slice(imports, func(i, j int) bool { return imports[i].Path < imports[j].Path })

	text := "func(" + strings.Join(params, ", ") + ")" + resText + " " + string(body)
	return text, imports, nil
}

func (b *builder) source(path string) ([]byte, error) {
	if src, ok := b.sources[path]; ok {
		return src, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	b.sources[path] = src
	return src, nil
}
