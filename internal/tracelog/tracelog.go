// Package tracelog loads the call and primitive records persisted by
// probe sinks back into memory.
package tracelog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

// PrimitiveKey identifies one argument slot of a constructor.
type PrimitiveKey struct {
	ConstructorID string
	ArgIndex      int
}

// Trace is the content of one log directory.
type Trace struct {
	// Calls holds every call record in file name order, then line
	// order within a file.
	Calls []probe.CallRecord

	// Primitives holds the distinct literal arguments seen per
	// constructor slot, in first-seen order.
	Primitives map[PrimitiveKey][]value.Value

	// Malformed counts lines that could not be decoded.
	Malformed int

	// Unreadable lists log files that failed part way through. Records
	// read before the failure are kept.
	Unreadable []string

	// Files counts the log files read.
	Files int
}

// Loader reads a trace from a log directory.
type Loader interface {
	Load(dir string) (*Trace, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(dir string) (*Trace, error)

// Load calls f.
func (f LoaderFunc) Load(dir string) (*Trace, error) { return f(dir) }

// Default is the file-based loader.
var Default Loader = LoaderFunc(Load)

// Load reads every log file in dir. The info marker and
// subdirectories are skipped.
func Load(dir string) (*Trace, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading log directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || e.Name() == probe.InfoFile || !strings.HasPrefix(e.Name(), "log") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	t := &Trace{Primitives: make(map[PrimitiveKey][]value.Value)}
	for _, name := range names {
		if err := t.readFile(filepath.Join(dir, name)); err != nil {
			t.Unreadable = append(t.Unreadable, name)
		}
		t.Files++
	}
	return t, nil
}

func (t *Trace) readFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, probe.CompressedSuffix) {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	return t.read(r)
}

// read consumes lines until EOF. A final line without a terminator,
// as left by an interrupted writer, is still decoded.
func (t *Trace) read(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			t.decode(line)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (t *Trace) decode(line string) {
	keyword, _, _ := strings.Cut(line, probe.Separator)
	switch keyword {
	case probe.CallKeyword:
		rec, err := probe.DecodeCall(line)
		if err != nil {
			t.Malformed++
			return
		}
		t.Calls = append(t.Calls, rec)
	case probe.PrimitiveKeyword:
		p, err := probe.DecodePrimitive(line)
		if err != nil {
			t.Malformed++
			return
		}
		t.addPrimitive(p)
	default:
		if strings.TrimSpace(line) != "" {
			t.Malformed++
		}
	}
}

func (t *Trace) addPrimitive(p probe.PrimitiveRecord) {
	key := PrimitiveKey{ConstructorID: p.ConstructorID, ArgIndex: p.ArgIndex}
	for _, v := range t.Primitives[key] {
		if value.Equal(v, p.Value) {
			return
		}
	}
	t.Primitives[key] = append(t.Primitives[key], p.Value)
}

// ByMethod groups calls by method id, preserving load order within a
// group.
func (t *Trace) ByMethod() map[string][]probe.CallRecord {
	out := make(map[string][]probe.CallRecord)
	for _, c := range t.Calls {
		out[c.MethodID] = append(out[c.MethodID], c)
	}
	return out
}

// MethodIDs returns the distinct method ids in first-seen order.
func (t *Trace) MethodIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range t.Calls {
		if !seen[c.MethodID] {
			seen[c.MethodID] = true
			out = append(out, c.MethodID)
		}
	}
	return out
}

// Primitive returns the first literal seen for a constructor slot.
func (t *Trace) Primitive(constructorID string, argIndex int) (value.Value, bool) {
	vs := t.Primitives[PrimitiveKey{ConstructorID: constructorID, ArgIndex: argIndex}]
	if len(vs) == 0 {
		return value.Value{}, false
	}
	return vs[0], true
}
