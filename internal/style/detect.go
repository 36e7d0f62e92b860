package style

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Detector reports the assertion idiom of the tests in a package
// directory.
type Detector interface {
	Detect(dir string) (Kind, Counts, error)
}

// ASTDetector counts assertion sites in the existing _test.go files
// of a directory. Files whose name ends in SkipSuffix are ignored so
// previously generated tests do not vote.
type ASTDetector struct {
	// MaxDepth bounds recursion into helpers taking *testing.T.
	MaxDepth int

	// SkipSuffix excludes matching files.
	SkipSuffix string
}

// Detect parses every test file in dir and returns the majority
// idiom together with the per-idiom counts.
func (d ASTDetector) Detect(dir string) (Kind, Counts, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*_test.go"))
	if err != nil {
		return Stdlib, nil, fmt.Errorf("listing test files: %w", err)
	}
	sort.Strings(matches)

	fset := token.NewFileSet()
	var files []*ast.File
	for _, path := range matches {
		if d.SkipSuffix != "" && strings.HasSuffix(path, d.SkipSuffix) {
			continue
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return Stdlib, nil, fmt.Errorf("reading %s: %w", path, err)
		}
		f, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
		if err != nil {
			return Stdlib, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		files = append(files, f)
	}

	counts := CountAssertions(files, d.MaxDepth)
	return Select(counts), counts, nil
}

// CountAssertions walks every TestXxx function in files and counts
// assertion sites per idiom, following helper calls that pass the
// testing parameter up to maxDepth levels.
func CountAssertions(files []*ast.File, maxDepth int) Counts {
	d := &assertionDetector{
		files:    files,
		maxDepth: maxDepth,
		visited:  make(map[*ast.FuncDecl]bool),
		counts:   make(Counts),
	}
	for _, f := range files {
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			if !acceptsTestingParam(fn.Type) {
				continue
			}
			d.detect(fn.Body, 0)
		}
	}
	return d.counts
}

type assertionDetector struct {
	files    []*ast.File
	maxDepth int
	visited  map[*ast.FuncDecl]bool
	counts   Counts
}

func (d *assertionDetector) detect(body *ast.BlockStmt, depth int) {
	if body == nil {
		return
	}
	ast.Inspect(body, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.IfStmt:
			if isStdlibAssertion(node) {
				d.counts[Stdlib]++
			}
			if isGoCmpIf(node) {
				d.counts[GoCmp]++
			}
		case *ast.ExprStmt:
			if call, ok := node.X.(*ast.CallExpr); ok {
				if k, ok := testifyCall(call); ok {
					d.counts[k]++
				}
			}
		case *ast.CallExpr:
			if depth < d.maxDepth {
				if helper := d.helper(node); helper != nil {
					d.visited[helper] = true
					d.detect(helper.Body, depth+1)
				}
			}
		}
		return true
	})
}

// isStdlibAssertion matches "if <comparison> { t.Errorf(...) }".
func isStdlibAssertion(ifStmt *ast.IfStmt) bool {
	if _, ok := ifStmt.Cond.(*ast.BinaryExpr); !ok {
		if u, ok := ifStmt.Cond.(*ast.UnaryExpr); !ok || u.Op != token.NOT {
			return false
		}
	}
	if isDiffCheck(ifStmt) {
		return false
	}
	return bodyContainsTestFail(ifStmt.Body)
}

// isGoCmpIf matches "if diff := cmp.Diff(want, got); diff != "" {...}".
func isGoCmpIf(ifStmt *ast.IfStmt) bool {
	return isDiffCheck(ifStmt) && bodyContainsTestFail(ifStmt.Body)
}

func isDiffCheck(ifStmt *ast.IfStmt) bool {
	assign, ok := ifStmt.Init.(*ast.AssignStmt)
	if !ok || len(assign.Rhs) != 1 {
		return false
	}
	call, ok := assign.Rhs[0].(*ast.CallExpr)
	if !ok {
		return false
	}
	pkg, name := selector(call.Fun)
	return pkg == "cmp" && name == "Diff"
}

func bodyContainsTestFail(body *ast.BlockStmt) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		if found {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		switch sel.Sel.Name {
		case "Errorf", "Fatalf", "Error", "Fatal", "FailNow", "Fail":
			found = true
		}
		return !found
	})
	return found
}

// testifyCall classifies assert.X(...) and require.X(...) calls.
func testifyCall(call *ast.CallExpr) (Kind, bool) {
	pkg, name := selector(call.Fun)
	if name == "" || !isTestifyAssertion(name) {
		return "", false
	}
	switch pkg {
	case "assert":
		return TestifyAssert, true
	case "require":
		return TestifyRequire, true
	}
	return "", false
}

func isTestifyAssertion(method string) bool {
	switch method {
	case "Equal", "EqualValues", "EqualExportedValues", "Exactly",
		"JSONEq", "YAMLEq", "NotEqual", "NotEqualValues",
		"Contains", "NotContains", "ElementsMatch", "Subset", "NotSubset",
		"Len", "Empty", "NotEmpty", "True", "False",
		"Greater", "GreaterOrEqual", "Less", "LessOrEqual",
		"Regexp", "NotRegexp", "IsType", "Implements", "Same", "NotSame",
		"InDelta", "InDeltaSlice", "InEpsilon", "InEpsilonSlice",
		"Zero", "NotZero", "Nil", "NotNil",
		"NoError", "Error", "ErrorIs", "ErrorAs", "ErrorContains", "EqualError",
		"Panics", "PanicsWithValue", "PanicsWithError", "NotPanics":
		return true
	}
	return false
}

func selector(fun ast.Expr) (pkg, name string) {
	sel, ok := fun.(*ast.SelectorExpr)
	if !ok {
		return "", ""
	}
	id, ok := sel.X.(*ast.Ident)
	if !ok {
		return "", ""
	}
	return id.Name, sel.Sel.Name
}

// helper resolves an unqualified call passing t, tb or tt to a
// function declared in the test files that accepts a testing
// parameter.
func (d *assertionDetector) helper(call *ast.CallExpr) *ast.FuncDecl {
	id, ok := call.Fun.(*ast.Ident)
	if !ok {
		return nil
	}
	passesT := false
	for _, arg := range call.Args {
		if a, ok := arg.(*ast.Ident); ok && (a.Name == "t" || a.Name == "tb" || a.Name == "tt") {
			passesT = true
			break
		}
	}
	if !passesT {
		return nil
	}
	for _, f := range d.files {
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || fn.Name.Name != id.Name {
				continue
			}
			if d.visited[fn] || !acceptsTestingParam(fn.Type) {
				return nil
			}
			return fn
		}
	}
	return nil
}

func acceptsTestingParam(ft *ast.FuncType) bool {
	if ft.Params == nil {
		return false
	}
	for _, param := range ft.Params.List {
		star, ok := param.Type.(*ast.StarExpr)
		if ok {
			if pkg, name := selector(star.X); pkg == "testing" && (name == "T" || name == "B") {
				return true
			}
			continue
		}
		if pkg, name := selector(param.Type); pkg == "testing" && name == "TB" {
			return true
		}
	}
	return false
}
