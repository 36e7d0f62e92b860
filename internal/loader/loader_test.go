package loader_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/unbound-force/amplify/internal/loader"
)

func TestLoad_ValidPackage(t *testing.T) {
	// Load the loader package itself (it's a valid Go package).
	result, err := loader.Load("", "github.com/unbound-force/amplify/internal/loader")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if result.Pkg == nil {
		t.Fatal("expected non-nil Pkg")
	}
	if result.Fset == nil {
		t.Fatal("expected non-nil Fset")
	}
	if result.Pkg.PkgPath != "github.com/unbound-force/amplify/internal/loader" {
		t.Errorf("expected pkg path 'github.com/unbound-force/amplify/internal/loader', got %q",
			result.Pkg.PkgPath)
	}
	if result.ModulePath != "github.com/unbound-force/amplify" {
		t.Errorf("ModulePath = %q", result.ModulePath)
	}
	if filepath.Base(result.Dir) != "loader" {
		t.Errorf("Dir = %q, want the loader directory", result.Dir)
	}
}

func TestLoad_RelativeToDir(t *testing.T) {
	result, err := loader.Load("..", "./loader")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if !strings.HasSuffix(result.Pkg.PkgPath, "/internal/loader") {
		t.Errorf("PkgPath = %q", result.Pkg.PkgPath)
	}
}

func TestLoad_InvalidPattern(t *testing.T) {
	_, err := loader.Load("", "github.com/nonexistent/package/that/does/not/exist")
	if err == nil {
		t.Error("expected error for nonexistent package")
	}
}

func TestLoad_RejectsMultiplePackages(t *testing.T) {
	_, err := loader.Load("..", "./...")
	if err == nil {
		t.Fatal("expected an error for a multi-package pattern")
	}
	if !strings.Contains(err.Error(), "one package at a time") {
		t.Errorf("unexpected error: %v", err)
	}
}
