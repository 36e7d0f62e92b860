// Package taxonomy defines the report data model of an amplification
// run and stable IDs for the tests it keeps.
package taxonomy

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// StageOutcome is the result of one pruning stage on one file.
type StageOutcome string

// Stage outcome constants.
const (
	OutcomeCompleted StageOutcome = "completed"
	OutcomeCorrupted StageOutcome = "corrupted"
	OutcomeSkipped   StageOutcome = "skipped"

	// OutcomeNotRun marks a stage never reached because the file was
	// already empty.
	OutcomeNotRun StageOutcome = "not_run"
)

// Strategy records how a kept test invokes its target.
type Strategy string

// Strategy constants.
const (
	StrategyDirect  Strategy = "direct"
	StrategyInlined Strategy = "inlined"
)

// MethodTarget identifies the production method a test was built
// from.
type MethodTarget struct {
	// ID is the trace method id, e.g. "example.com/geo.(*Point).Move".
	ID string `json:"id"`

	// Function is the function or method name.
	Function string `json:"function"`

	// Receiver is the receiver type for methods (e.g., "*Point"),
	// empty for package-level functions.
	Receiver string `json:"receiver,omitempty"`

	// Complexity is the cyclomatic complexity of the method.
	Complexity int `json:"complexity"`

	// Location is the source position of the declaration.
	Location string `json:"location,omitempty"`
}

// QualifiedName returns the method name including receiver if
// present. E.g., "(*Point).Move" or "Double".
func (mt MethodTarget) QualifiedName() string {
	if mt.Receiver != "" {
		return fmt.Sprintf("(%s).%s", mt.Receiver, mt.Function)
	}
	return mt.Function
}

// Metadata holds run metadata.
type Metadata struct {
	AmplifyVersion string        `json:"amplify_version"`
	GoVersion      string        `json:"go_version"`
	RunID          string        `json:"run_id"`
	Timestamp      time.Time     `json:"-"`
	Duration       time.Duration `json:"-"`
	Warnings       []string      `json:"warnings"`
}

// MarshalJSON customizes JSON encoding to use duration_ms and
// ISO 8601 timestamp.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type Alias Metadata
	ts := ""
	if !m.Timestamp.IsZero() {
		ts = m.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(&struct {
		Alias
		DurationMS int64  `json:"duration_ms"`
		Timestamp  string `json:"timestamp,omitempty"`
	}{
		Alias:      Alias(m),
		DurationMS: m.Duration.Milliseconds(),
		Timestamp:  ts,
	})
}

// UnmarshalJSON reverses MarshalJSON.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type Alias Metadata
	aux := struct {
		*Alias
		DurationMS int64  `json:"duration_ms"`
		Timestamp  string `json:"timestamp"`
	}{Alias: (*Alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Duration = time.Duration(aux.DurationMS) * time.Millisecond
	m.Timestamp = time.Time{}
	if aux.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parsing timestamp: %w", err)
		}
		m.Timestamp = ts
	}
	return nil
}

// TraceSummary describes the trace logs a run consumed.
type TraceSummary struct {
	LogDir string `json:"log_dir"`

	// Files is the number of log files read.
	Files int `json:"files"`

	// Calls is the number of call records loaded.
	Calls int `json:"calls"`

	// Methods is the number of distinct traced methods.
	Methods int `json:"methods"`

	// Malformed counts skipped log lines.
	Malformed int `json:"malformed"`

	// Unreadable lists log files that could not be read to the end.
	Unreadable []string `json:"unreadable,omitempty"`
}

// GenerationSummary counts candidate generation outcomes.
type GenerationSummary struct {
	// Seed is the sampler seed; rerunning with it reproduces the
	// sample.
	Seed uint64 `json:"seed"`

	Attempted  int `json:"attempted"`
	Direct     int `json:"direct"`
	Inlined    int `json:"inlined"`
	Ineligible int `json:"ineligible"`
	Failed     int `json:"failed"`
	Duplicate  int `json:"duplicate"`

	// Ratio is generated / attempted (0.0-1.0).
	Ratio float64 `json:"ratio"`
}

// StageReport is the outcome of one pruning stage.
type StageReport struct {
	Outcome StageOutcome `json:"outcome"`

	// Removed lists the tests the stage removed.
	Removed []string `json:"removed"`

	// Error is the stage's error text, if any.
	Error string `json:"error,omitempty"`
}

// TestReport describes one kept test.
type TestReport struct {
	// ID is a stable identifier for diffing across runs.
	ID string `json:"id"`

	Name     string       `json:"name"`
	Target   MethodTarget `json:"target"`
	Strategy Strategy     `json:"strategy"`

	// Panics marks tests that expect a panic.
	Panics bool `json:"panics,omitempty"`

	// Branches is the number of blocks the test covers. Zero when
	// minimization was skipped.
	Branches int `json:"branches"`

	// CoveragePercent is the statement coverage of the target package
	// reached by this test alone (0-100).
	CoveragePercent float64 `json:"coverage_percent"`
}

// FileReport is the outcome of one generated test file.
type FileReport struct {
	File string `json:"file"`

	// Type is the declaring type, or the package name for functions.
	Type string `json:"type"`

	Generated  int         `json:"generated"`
	Smoke      StageReport `json:"smoke"`
	Minimize   StageReport `json:"minimize"`
	Synthesize StageReport `json:"synthesize"`

	// Tests lists the surviving tests in file order.
	Tests []TestReport `json:"tests"`

	// Written reports whether the file was written to disk.
	Written bool `json:"written"`
}

// RunSummary aggregates a run.
type RunSummary struct {
	Files     int `json:"files"`
	Written   int `json:"written"`
	Generated int `json:"generated"`
	Kept      int `json:"kept"`

	// Removed counts removed tests per stage name.
	Removed map[string]int `json:"removed"`
}

// RunReport is the complete output of one amplification run.
type RunReport struct {
	// Package is the import path of the amplified package.
	Package string `json:"package"`

	// Idiom is the assertion idiom the tests were written in.
	Idiom string `json:"idiom"`

	Trace      TraceSummary      `json:"trace"`
	Generation GenerationSummary `json:"generation"`
	Files      []FileReport      `json:"files"`
	Summary    RunSummary        `json:"summary"`
	Metadata   Metadata          `json:"metadata"`
}

// Summarize recomputes r.Summary from r.Files.
func (r *RunReport) Summarize() {
	s := RunSummary{Files: len(r.Files), Removed: make(map[string]int)}
	for _, f := range r.Files {
		s.Generated += f.Generated
		s.Kept += len(f.Tests)
		if f.Written {
			s.Written++
		}
		s.Removed["smoke"] += len(f.Smoke.Removed)
		s.Removed["minimize"] += len(f.Minimize.Removed)
		s.Removed["synthesize"] += len(f.Synthesize.Removed)
	}
	r.Summary = s
}

// GenerateID produces a stable, deterministic ID for a kept test
// based on its package, file and name. The ID is a sha256 hash
// truncated to 8 hex characters, prefixed with "at-".
func GenerateID(pkg, file, test string) string {
	input := fmt.Sprintf("%s:%s:%s", pkg, file, test)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("at-%x", hash[:4])
}
