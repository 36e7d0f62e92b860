package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unbound-force/amplify/internal/config"
	"github.com/unbound-force/amplify/probe"
)

func writeGoMod(t *testing.T, dir, module string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module "+module+"\n\ngo 1.24\n"), 0o644); err != nil {
		t.Fatalf("creating go.mod: %v", err)
	}
}

func TestRun_CreatesFiles(t *testing.T) {
	dir := t.TempDir()
	writeGoMod(t, dir, "example.com/shapes")

	var buf bytes.Buffer
	result, err := Run(Options{
		TargetDir: dir,
		Version:   "1.2.3",
		Stdout:    &buf,
	})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	if len(result.Created) != 2 {
		t.Errorf("expected 2 created files, got %d: %v", len(result.Created), result.Created)
	}
	if len(result.Skipped) != 0 {
		t.Errorf("expected 0 skipped files, got %d: %v", len(result.Skipped), result.Skipped)
	}
	if !probe.IsLogDir(filepath.Join(dir, probe.LogDirName)) {
		t.Errorf("expected %s to hold an info marker", probe.LogDirName)
	}

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatalf("scaffolded config does not load: %v", err)
	}
	def := config.DefaultConfig()
	if cfg.Generate.Cap != def.Generate.Cap {
		t.Errorf("cap = %d, want %d", cfg.Generate.Cap, def.Generate.Cap)
	}
	if cfg.Prune.Timeout != def.Prune.Timeout {
		t.Errorf("timeout = %v, want %v", cfg.Prune.Timeout, def.Prune.Timeout)
	}
	if cfg.Prune.BuildTimeout != def.Prune.BuildTimeout {
		t.Errorf("build timeout = %v, want %v", cfg.Prune.BuildTimeout, def.Prune.BuildTimeout)
	}
	if len(cfg.Generate.Allowlist) != 1 || cfg.Generate.Allowlist[0] != "example.com/shapes" {
		t.Errorf("allowlist = %v, want [example.com/shapes]", cfg.Generate.Allowlist)
	}
	if _, ok := cfg.Idiom(); ok {
		t.Error("scaffolded config should leave idiom detection on")
	}

	output := buf.String()
	if !strings.Contains(output, "created:") {
		t.Errorf("summary should mention 'created:', got:\n%s", output)
	}
	if !strings.Contains(output, "amplify run") {
		t.Errorf("summary should contain hint, got:\n%s", output)
	}
	if strings.Contains(output, "Warning") {
		t.Errorf("unexpected go.mod warning:\n%s", output)
	}
}

func TestRun_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	writeGoMod(t, dir, "test")

	if _, err := Run(Options{TargetDir: dir, Stdout: &bytes.Buffer{}}); err != nil {
		t.Fatalf("first Run() returned error: %v", err)
	}

	var buf bytes.Buffer
	result, err := Run(Options{TargetDir: dir, Stdout: &buf})
	if err != nil {
		t.Fatalf("second Run() returned error: %v", err)
	}
	if len(result.Created) != 0 {
		t.Errorf("expected 0 created, got %d: %v", len(result.Created), result.Created)
	}
	if len(result.Skipped) != 2 {
		t.Errorf("expected 2 skipped, got %d: %v", len(result.Skipped), result.Skipped)
	}

	output := buf.String()
	if !strings.Contains(output, "skipped:") {
		t.Errorf("summary should mention 'skipped:', got:\n%s", output)
	}
	if !strings.Contains(output, "use --force to overwrite") {
		t.Errorf("summary should suggest --force, got:\n%s", output)
	}
}

func TestRun_ForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	writeGoMod(t, dir, "test")

	cfgPath := filepath.Join(dir, config.FileName)
	if err := os.WriteFile(cfgPath, []byte("generate:\n  cap: 7\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var buf bytes.Buffer
	result, err := Run(Options{TargetDir: dir, Force: true, Stdout: &buf})
	if err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if len(result.Overwritten) != 1 || result.Overwritten[0] != config.FileName {
		t.Errorf("expected %s overwritten, got %v", config.FileName, result.Overwritten)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generate.Cap == 7 {
		t.Error("config was not replaced")
	}
	if !strings.Contains(buf.String(), "overwritten:") {
		t.Errorf("summary should mention 'overwritten:', got:\n%s", buf.String())
	}
}

func TestRun_KeepsLogMarker(t *testing.T) {
	dir := t.TempDir()
	writeGoMod(t, dir, "test")
	logDir, err := probe.InitLogDir(dir)
	if err != nil {
		t.Fatalf("InitLogDir: %v", err)
	}
	marker := filepath.Join(logDir, probe.InfoFile)
	if err := os.WriteFile(marker, []byte("mine\n"), 0o644); err != nil {
		t.Fatalf("writing marker: %v", err)
	}

	if _, err := Run(Options{TargetDir: dir, Force: true, Stdout: &bytes.Buffer{}}); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if string(got) != "mine\n" {
		t.Errorf("marker rewritten: %q", got)
	}
}

func TestRun_VersionMarker(t *testing.T) {
	for _, tc := range []struct {
		version string
		want    string
	}{
		{"1.2.3", "# scaffolded by amplify 1.2.3\n"},
		{"", "# scaffolded by amplify dev\n"},
	} {
		dir := t.TempDir()
		writeGoMod(t, dir, "test")
		if _, err := Run(Options{TargetDir: dir, Version: tc.version, Stdout: &bytes.Buffer{}}); err != nil {
			t.Fatalf("Run() returned error: %v", err)
		}
		content, err := os.ReadFile(filepath.Join(dir, config.FileName))
		if err != nil {
			t.Fatalf("reading config: %v", err)
		}
		if !strings.HasPrefix(string(content), tc.want) {
			t.Errorf("version %q: file starts with %q, want %q",
				tc.version, strings.SplitN(string(content), "\n", 2)[0], tc.want)
		}
	}
}

func TestRun_NoGoMod_PrintsWarning(t *testing.T) {
	dir := t.TempDir()

	var buf bytes.Buffer
	if _, err := Run(Options{TargetDir: dir, Stdout: &buf}); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "Warning: no go.mod found") {
		t.Errorf("expected go.mod warning, got:\n%s", buf.String())
	}
	if _, err := config.Load(filepath.Join(dir, config.FileName)); err != nil {
		t.Errorf("config without a module path should still load: %v", err)
	}
}

func TestModulePath(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", "module example.com/a\n", "example.com/a", false},
		{"quoted", "// comment\nmodule \"example.com/b\"\n", "example.com/b", false},
		{"modulepath prefix", "modulex foo\n", "", true},
		{"missing", "go 1.24\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "go.mod")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := modulePath(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("modulePath() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("modulePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
