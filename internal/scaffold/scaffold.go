// Package scaffold prepares a Go module for amplification: it writes
// a commented .amplify.yaml and creates the trace log directory.
package scaffold

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/unbound-force/amplify/internal/config"
	"github.com/unbound-force/amplify/probe"
)

//go:embed assets/*
var assets embed.FS

// configTemplate is the embedded .amplify.yaml template.
const configTemplate = "assets/amplify.yaml.tmpl"

// Options configures the scaffold operation.
type Options struct {
	// TargetDir is the root directory to scaffold into.
	// Defaults to the current working directory.
	TargetDir string

	// Force overwrites an existing config file when true.
	// When false, an existing file is skipped.
	Force bool

	// Version is the amplify version string to embed in the
	// version marker comment. Set by ldflags at build time.
	// Defaults to "dev" for development builds.
	Version string

	// Stdout is the writer for summary output.
	// Defaults to os.Stdout.
	Stdout io.Writer
}

// Result reports what the scaffold operation did.
type Result struct {
	// Created lists files that were written for the first time.
	Created []string

	// Skipped lists files that already existed and were not
	// overwritten (Force was false).
	Skipped []string

	// Overwritten lists files that existed and were replaced
	// (Force was true).
	Overwritten []string
}

// versionMarker returns the version marker comment to prepend to the
// config file.
func versionMarker(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("# scaffolded by amplify %s\n", version)
}

// Run writes .amplify.yaml and log/info into the target directory.
// The log directory marker is never overwritten; the config file is
// replaced only when opts.Force is set.
func Run(opts Options) (*Result, error) {
	if opts.TargetDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		opts.TargetDir = cwd
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	module, err := modulePath(filepath.Join(opts.TargetDir, "go.mod"))
	if err != nil {
		fmt.Fprintln(opts.Stdout, "Warning: no go.mod found in current directory.")
		fmt.Fprintln(opts.Stdout, "Amplify works best in a Go module root.")
		fmt.Fprintln(opts.Stdout)
	}

	result := &Result{}

	infoRel := filepath.Join(probe.LogDirName, probe.InfoFile)
	infoExists := probe.IsLogDir(filepath.Join(opts.TargetDir, probe.LogDirName))
	if _, err := probe.InitLogDir(opts.TargetDir); err != nil {
		return nil, err
	}
	if infoExists {
		result.Skipped = append(result.Skipped, infoRel)
	} else {
		result.Created = append(result.Created, infoRel)
	}

	content, err := renderConfig(module)
	if err != nil {
		return nil, err
	}
	outPath := filepath.Join(opts.TargetDir, config.FileName)
	_, statErr := os.Stat(outPath)
	exists := statErr == nil
	switch {
	case exists && !opts.Force:
		result.Skipped = append(result.Skipped, config.FileName)
	default:
		out := append([]byte(versionMarker(opts.Version)), content...)
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return nil, fmt.Errorf("creating %s: %w", config.FileName, err)
		}
		if exists {
			result.Overwritten = append(result.Overwritten, config.FileName)
		} else {
			result.Created = append(result.Created, config.FileName)
		}
	}

	printSummary(opts.Stdout, result)
	return result, nil
}

// renderConfig fills the embedded template with the defaults.
func renderConfig(module string) ([]byte, error) {
	raw, err := assets.ReadFile(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("reading embedded asset %s: %w", configTemplate, err)
	}
	tmpl, err := template.New("config").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configTemplate, err)
	}
	def := config.DefaultConfig()
	if module == "" {
		module = "example.com/module"
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]any{
		"Module":       module,
		"Cap":          def.Generate.Cap,
		"Timeout":      def.Prune.Timeout,
		"BuildTimeout": def.Prune.BuildTimeout,
		"Runs":         def.Prune.Runs,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", configTemplate, err)
	}
	return buf.Bytes(), nil
}

// modulePath reads the module directive of a go.mod file.
func modulePath(goMod string) (string, error) {
	f, err := os.Open(goMod)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "module"); ok && rest != "" && (rest[0] == ' ' || rest[0] == '\t') {
			return strings.Trim(strings.TrimSpace(rest), `"`), nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s has no module directive", goMod)
}

// printSummary writes a human-readable summary of the scaffold
// operation to w.
func printSummary(w io.Writer, r *Result) {
	fmt.Fprintln(w, "Amplify initialized:")

	for _, f := range r.Created {
		fmt.Fprintf(w, "  created: %s\n", f)
	}
	for _, f := range r.Skipped {
		fmt.Fprintf(w, "  skipped: %s (already exists)\n", f)
	}
	for _, f := range r.Overwritten {
		fmt.Fprintf(w, "  overwritten: %s\n", f)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Record a trace into log/, then run 'amplify run <package>'.")

	for _, f := range r.Skipped {
		if f == config.FileName {
			fmt.Fprintf(w, "%s skipped (use --force to overwrite).\n", config.FileName)
		}
	}
}
