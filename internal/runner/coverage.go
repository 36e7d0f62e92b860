package runner

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"

	"golang.org/x/tools/cover"

	"github.com/unbound-force/amplify/internal/prune"
	"github.com/unbound-force/amplify/internal/suite"
)

// Coverage implements prune.CoverageCollector. Each test runs alone
// in a coverage-instrumented binary and its profile is reduced to the
// ids of the blocks it executed.
func (r *Runner) Coverage(ctx context.Context, f *suite.File, names []string) (map[string]prune.CoverageResult, error) {
	bin, err := r.binary(ctx, f, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]prune.CoverageResult, len(names))
	for _, name := range names {
		profile := filepath.Join(r.scratch, "cover-"+name+".out")
		cmd := exec.CommandContext(ctx, bin, runPattern(name), "-test.count=1", "-test.coverprofile="+profile)
		cmd.Dir = r.dir
		output, err := cmd.CombinedOutput()
		if err != nil {
			_ = os.Remove(profile)
			return nil, fmt.Errorf("coverage run of %s: %w\n%s", name, err, output)
		}
		res, err := r.parseProfile(profile)
		_ = os.Remove(profile)
		if err != nil {
			return nil, err
		}
		out[name] = res
	}
	return out, nil
}

// parseProfile reduces a coverage profile to covered block ids and
// statement counts.
func (r *Runner) parseProfile(profilePath string) (prune.CoverageResult, error) {
	profiles, err := cover.ParseProfiles(profilePath)
	if err != nil {
		return prune.CoverageResult{}, fmt.Errorf("parsing coverage profile: %w", err)
	}
	var res prune.CoverageResult
	funcs := make(map[string]bool)
	for _, p := range profiles {
		name := path.Base(p.FileName)
		var extents []funcExtent
		if file := r.profileFile(p.FileName); file != "" {
			extents, _ = findFunctions(file)
		}
		for _, b := range p.Blocks {
			res.TotalStmts += int64(b.NumStmt)
			if b.Count == 0 {
				continue
			}
			res.CoveredStmts += int64(b.NumStmt)
			res.Branches = append(res.Branches, BlockID(name, b))
			for _, fn := range extents {
				if fn.contains(b) {
					funcs[fn.name] = true
				}
			}
		}
	}
	sort.Strings(res.Branches)
	for fn := range funcs {
		res.Functions = append(res.Functions, fn)
	}
	sort.Strings(res.Functions)
	return res, nil
}

// BlockID names a profile block as "file.go:sl.sc,el.ec".
func BlockID(file string, b cover.ProfileBlock) string {
	return fmt.Sprintf("%s:%d.%d,%d.%d", file, b.StartLine, b.StartCol, b.EndLine, b.EndCol)
}

// profileFile maps a profile file name ("example.com/geo/geo.go") to
// the file in the package directory.
func (r *Runner) profileFile(profileName string) string {
	if filepath.IsAbs(profileName) {
		if _, err := os.Stat(profileName); err == nil {
			return profileName
		}
	}
	candidate := filepath.Join(r.dir, path.Base(profileName))
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// funcExtent describes a function's source position.
type funcExtent struct {
	name      string
	startLine int
	startCol  int
	endLine   int
	endCol    int
}

// contains reports whether block b starts inside the function.
func (fn funcExtent) contains(b cover.ProfileBlock) bool {
	if b.StartLine < fn.startLine || (b.StartLine == fn.startLine && b.StartCol < fn.startCol) {
		return false
	}
	if b.StartLine > fn.endLine || (b.StartLine == fn.endLine && b.StartCol >= fn.endCol) {
		return false
	}
	return true
}

// findFunctions parses a Go source file and returns the extent of
// each function declaration.
func findFunctions(filePath string) ([]funcExtent, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filePath, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	var funcs []funcExtent
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		start := fset.Position(fn.Pos())
		end := fset.Position(fn.End())

		name := fn.Name.Name
		if fn.Recv != nil && fn.Recv.NumFields() > 0 {
			name = "(" + recvTypeString(fn.Recv.List[0].Type) + ")." + fn.Name.Name
		}
		funcs = append(funcs, funcExtent{
			name:      name,
			startLine: start.Line,
			startCol:  start.Column,
			endLine:   end.Line,
			endCol:    end.Column,
		})
	}
	return funcs, nil
}

// recvTypeString extracts the receiver type as a string.
func recvTypeString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return "*" + recvTypeString(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return recvTypeString(t.X) + "[" + recvTypeString(t.Index) + "]"
	default:
		return "?"
	}
}
