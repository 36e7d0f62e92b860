package runner

import "github.com/unbound-force/amplify/internal/prune"

// Exported for testing.
var (
	ParseCompileErrors = parseCompileErrors
	Classify           = classify
	FindFunctions      = findFunctions
)

// FuncName returns the name of a function extent.
func FuncName(fn funcExtent) string { return fn.name }

// ParseProfile exposes profile parsing.
func (r *Runner) ParseProfile(path string) (prune.CoverageResult, error) {
	return r.parseProfile(path)
}
