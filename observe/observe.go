// Package observe captures values at observation points of generated
// tests.
//
// A candidate test calls Value at each point whose runtime value may
// become an assertion. When the AMPLIFY_OBSERVATIONS environment
// variable names a file, every call appends one JSON line to it;
// otherwise the calls do nothing, so candidates also run as plain
// tests.
package observe

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/unbound-force/amplify/value"
)

// EnvFile names the environment variable holding the output path.
const EnvFile = "AMPLIFY_OBSERVATIONS"

// Entry is one observation.
type Entry struct {
	Test  string      `json:"test"`
	Expr  string      `json:"expr"`
	Value value.Value `json:"value"`
}

// TB is the subset of testing.TB used here.
type TB interface {
	Name() string
	Helper()
}

var mu sync.Mutex

// Value records v for the expression text expr of the running test.
func Value(t TB, expr string, v any) {
	t.Helper()
	write(t.Name(), expr, value.Of(v))
}

// Rune records r as a rune rather than an int32.
func Rune(t TB, expr string, r rune) {
	t.Helper()
	write(t.Name(), expr, value.OfRune(r))
}

// Runes records rs as a rune slice.
func Runes(t TB, expr string, rs []rune) {
	t.Helper()
	write(t.Name(), expr, value.OfRunes(rs))
}

func write(test, expr string, v value.Value) {
	path := os.Getenv(EnvFile)
	if path == "" {
		return
	}
	line, err := json.Marshal(Entry{Test: test, Expr: expr, Value: v})
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}

// Read parses an observation file. A missing file yields no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening observations: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for n := 1; sc.Scan(); n++ {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("observation line %d: %w", n, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading observations: %w", err)
	}
	return entries, nil
}
