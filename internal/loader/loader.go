// Package loader wraps go/packages to load the package under
// amplification with full type information.
package loader

import (
	"fmt"
	"go/token"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

// LoadMode is the minimum set of flags needed to index functions,
// resolve their references and locate the enclosing module.
const LoadMode = packages.NeedName |
	packages.NeedFiles |
	packages.NeedCompiledGoFiles |
	packages.NeedImports |
	packages.NeedTypes |
	packages.NeedSyntax |
	packages.NeedTypesInfo |
	packages.NeedModule

// Result holds the loaded package along with convenience accessors.
type Result struct {
	// Pkg is the loaded package.
	Pkg *packages.Package

	// Fset is the shared file set for position information.
	Fset *token.FileSet

	// Dir is the directory holding the package sources.
	Dir string

	// ModulePath and ModuleDir describe the enclosing module, if any.
	ModulePath string
	ModuleDir  string
}

// Load loads the Go package matching pattern, resolved relative to
// dir (the working directory when empty). Test files are excluded so
// the model only describes production code.
func Load(dir, pattern string) (*Result, error) {
	cfg := &packages.Config{
		Mode:  LoadMode,
		Dir:   dir,
		Tests: false,
	}

	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("loading package %q: %w", pattern, err)
	}

	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found for pattern %q", pattern)
	}
	if len(pkgs) > 1 {
		return nil, fmt.Errorf("pattern %q matches %d packages; amplify one package at a time", pattern, len(pkgs))
	}

	pkg := pkgs[0]

	// Check for package-level errors (syntax, type errors, etc.).
	var errs []string
	for _, e := range pkg.Errors {
		errs = append(errs, e.Error())
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("package %q has errors:\n  %s",
			pattern, strings.Join(errs, "\n  "))
	}
	if len(pkg.GoFiles) == 0 {
		return nil, fmt.Errorf("package %q has no Go files", pattern)
	}

	res := &Result{
		Pkg:  pkg,
		Fset: pkg.Fset,
		Dir:  filepath.Dir(pkg.GoFiles[0]),
	}
	if pkg.Module != nil {
		res.ModulePath = pkg.Module.Path
		res.ModuleDir = pkg.Module.Dir
	}
	return res, nil
}
