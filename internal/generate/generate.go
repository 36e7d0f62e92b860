// Package generate turns captured calls into candidate test functions.
//
// A call of an exported method is rebuilt as a direct invocation with
// the captured arguments. When that is not possible, a method whose
// body neither touches its receiver nor unexported members, and which
// calls into an allow-listed package, is replayed by copying its body
// into the test as a function literal. Every other call is dropped.
// Each observation point of a candidate is an observe call that the
// pruning stage later replaces with an assertion.
package generate

import (
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/unbound-force/amplify/internal/source"
	"github.com/unbound-force/amplify/internal/style"
	"github.com/unbound-force/amplify/internal/suite"
	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

// SourceModel is the static view of the target package.
type SourceModel interface {
	Package() (path, name string)
	Method(id string) (*source.Method, bool)
	Constructors(typeName string) []*source.Constructor
}

// Primitives looks up literal arguments captured at constructor
// calls.
type Primitives interface {
	Primitive(constructorID string, argIndex int) (value.Value, bool)
}

// Strategy says how a candidate was built, or why none was.
type Strategy int

// Strategies.
const (
	Direct Strategy = iota
	Inlined
	Ineligible
	Failed
	Duplicate
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Inlined:
		return "inlined"
	case Ineligible:
		return "ineligible"
	case Failed:
		return "failed"
	case Duplicate:
		return "duplicate"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// Counters tallies Generate outcomes.
type Counters struct {
	Attempted  int
	Direct     int
	Inlined    int
	Ineligible int
	Failed     int
	Duplicate  int
}

// Generated is the number of candidates produced.
func (c Counters) Generated() int { return c.Direct + c.Inlined }

// Ratio is generated over attempted, or zero before any attempt.
func (c Counters) Ratio() float64 {
	if c.Attempted == 0 {
		return 0
	}
	return float64(c.Generated()) / float64(c.Attempted)
}

// Options configures a Generator.
type Options struct {
	// Cap bounds the calls sampled per method. Zero means DefaultCap.
	Cap int

	Seed uint64

	// Allowlist holds import path prefixes whose callers may be
	// replayed by body copying.
	Allowlist []string

	Idiom  style.Idiom
	Logger *log.Logger
}

// Candidate is one generated test before it is placed in a file.
type Candidate struct {
	// Type is the receiver type name, empty for package functions.
	Type    string
	Method  *suite.Method
	Imports []source.Import
}

// Generator builds candidates for one target package.
type Generator struct {
	model    SourceModel
	prims    Primitives
	opts     Options
	rng      *rand.Rand
	logger   *log.Logger
	pkgPath  string
	pkgName  string
	counters Counters
	seen     map[uint64]bool
	next     map[string]int
}

// New returns a generator.
func New(model SourceModel, prims Primitives, opts Options) *Generator {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.Idiom == nil {
		opts.Idiom = style.For(style.Stdlib)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	path, name := model.Package()
	return &Generator{
		model:   model,
		prims:   prims,
		opts:    opts,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		logger:  logger,
		pkgPath: path,
		pkgName: name,
		seen:    make(map[uint64]bool),
		next:    make(map[string]int),
	}
}

// Counters returns the outcome tallies so far.
func (g *Generator) Counters() Counters { return g.counters }

// Generate builds a candidate for call. The candidate is nil unless
// the strategy is Direct or Inlined.
func (g *Generator) Generate(call probe.CallRecord) (*Candidate, Strategy) {
	g.counters.Attempted++
	c, s := g.generate(call)
	if c != nil {
		h := xxhash.Sum64String(c.Type + "\x00" + strings.Join(c.Method.Body, "\n"))
		if g.seen[h] {
			c, s = nil, Duplicate
		} else {
			g.seen[h] = true
		}
	}
	switch s {
	case Direct:
		g.counters.Direct++
	case Inlined:
		g.counters.Inlined++
	case Ineligible:
		g.counters.Ineligible++
	case Failed:
		g.counters.Failed++
	case Duplicate:
		g.counters.Duplicate++
	}
	if c != nil {
		c.Method.Name = g.testName(call.MethodID, c.Type)
		c.Method.Origin = call.MethodID
	}
	return c, s
}

func (g *Generator) generate(call probe.CallRecord) (*Candidate, Strategy) {
	m, ok := g.model.Method(call.MethodID)
	if !ok {
		return nil, Ineligible
	}
	tried := false
	if m.Exported {
		tried = true
		c, err := g.direct(m, call)
		if err == nil {
			return c, Direct
		}
		g.logger.Debug("direct invocation failed", "method", m.ID, "err", err)
	}
	if g.inlinable(m) {
		c, err := g.inline(m, call)
		if err == nil {
			return c, Inlined
		}
		g.logger.Debug("body inlining failed", "method", m.ID, "err", err)
		return nil, Failed
	}
	if tried {
		return nil, Failed
	}
	return nil, Ineligible
}

func (g *Generator) inlinable(m *source.Method) bool {
	return m.Closure != "" && !m.UsesReceiver && !m.UnexportedRefs && m.CallsInto(g.opts.Allowlist)
}

// params returns the captured arguments matching m's parameters. For
// methods the receiver is passed first and is not a parameter.
func params(m *source.Method, call probe.CallRecord) ([]value.Value, error) {
	args := call.Args
	if m.Recv != "" {
		if len(args) == 0 {
			return nil, fmt.Errorf("no receiver captured")
		}
		args = args[1:]
	}
	if len(args) != len(m.Params) {
		return nil, fmt.Errorf("captured %d arguments for %d parameters", len(args), len(m.Params))
	}
	return args, nil
}

type body struct {
	lines   []string
	imports map[string]source.Import
}

func newBody() *body {
	return &body{imports: make(map[string]source.Import)}
}

func (b *body) add(lines ...string) { b.lines = append(b.lines, lines...) }

func (b *body) use(imps ...source.Import) {
	for _, imp := range imps {
		if imp.Path != "" {
			b.imports[imp.Path] = imp
		}
	}
}

func (b *body) literal(v value.Value) (string, error) {
	if !v.Renderable() || !v.Portable() {
		return "", fmt.Errorf("%w: %s", value.ErrNotRenderable, v.Type)
	}
	lit, err := value.Literal(v)
	if err != nil {
		return "", err
	}
	for _, p := range v.Imports() {
		b.use(source.Import{Path: p})
	}
	return lit, nil
}

func (b *body) arguments(m *source.Method, args []value.Value) (string, error) {
	texts := make([]string, 0, len(args))
	for i, a := range args {
		last := m.Variadic && i == len(args)-1
		if last && a.Kind == value.Nil {
			continue
		}
		lit, err := b.literal(a)
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", i, err)
		}
		if last {
			lit += "..."
		}
		texts = append(texts, lit)
	}
	return strings.Join(texts, ", "), nil
}

// call binds the results of expr and observes each of them.
func (b *body) call(m *source.Method, expr string) {
	if len(m.Results) == 0 {
		b.add(expr)
		return
	}
	names := make([]string, len(m.Results))
	for i := range names {
		names[i] = "r" + strconv.Itoa(i)
	}
	b.add(strings.Join(names, ", ") + " := " + expr)
	for _, n := range names {
		b.add(observeLine(n))
	}
}

func observeLine(expr string) string {
	return "observe.Value(t, " + strconv.Quote(expr) + ", " + expr + ")"
}

func (g *Generator) direct(m *source.Method, call probe.CallRecord) (*Candidate, error) {
	args, err := params(m, call)
	if err != nil {
		return nil, err
	}
	b := newBody()
	b.use(source.Import{Path: g.pkgPath}, source.Import{Path: suite.ObservePath})

	target := g.pkgName + "." + m.Name
	if m.Recv != "" {
		if err := g.receiver(b, m, call.Args[0]); err != nil {
			return nil, err
		}
		target = "recv." + m.Name
	}
	argText, err := b.arguments(m, args)
	if err != nil {
		return nil, err
	}
	b.call(m, target+"("+argText+")")
	if m.Recv != "" && m.PtrRecv {
		b.add(observeLine("recv"))
	}
	return g.candidate(m, b, false), nil
}

// receiver declares recv, preferring the captured receiver snapshot
// and falling back to a constructor whose arguments were all captured.
func (g *Generator) receiver(b *body, m *source.Method, snap value.Value) error {
	if snap.Kind == value.Struct {
		if lit, err := b.literal(snap); err == nil {
			b.add("recv := " + lit)
			return nil
		}
	}
	for _, ctor := range g.model.Constructors(m.Recv) {
		args := make([]string, len(ctor.Params))
		complete := true
		for i := range ctor.Params {
			v, ok := g.prims.Primitive(ctor.ID, i)
			if !ok {
				complete = false
				break
			}
			lit, err := b.literal(v)
			if err != nil {
				complete = false
				break
			}
			args[i] = lit
		}
		if complete {
			b.add("recv := " + g.pkgName + "." + ctor.Name + "(" + strings.Join(args, ", ") + ")")
			return nil
		}
	}
	return fmt.Errorf("no way to construct a %s receiver", m.Recv)
}

func (g *Generator) inline(m *source.Method, call probe.CallRecord) (*Candidate, error) {
	args, err := params(m, call)
	if err != nil {
		return nil, err
	}
	b := newBody()
	b.use(source.Import{Path: suite.ObservePath})
	b.use(m.ClosureImports...)
	argText, err := b.arguments(m, args)
	if err != nil {
		return nil, err
	}
	b.add("fn := " + m.Closure)
	b.call(m, "fn("+argText+")")
	return g.candidate(m, b, true), nil
}

func (g *Generator) candidate(m *source.Method, b *body, inlined bool) *Candidate {
	imps := make([]source.Import, 0, len(b.imports))
	for _, imp := range b.imports {
		imps = append(imps, imp)
	}
	sort.Slice(imps, func(i, j int) bool { return imps[i].Path < imps[j].Path })
	return &Candidate{
		Type:    m.Recv,
		Method:  &suite.Method{Body: b.lines, Inlined: inlined},
		Imports: imps,
	}
}

func (g *Generator) testName(methodID, typ string) string {
	m, _ := g.model.Method(methodID)
	base := "Test"
	if typ != "" {
		base += exportName(typ) + "_"
	}
	base += exportName(m.Name) + "_Amplified"
	n := g.next[base]
	g.next[base] = n + 1
	return base + strconv.Itoa(n)
}

func exportName(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// funcsInfix marks the file holding tests of package functions, so it
// never shares a name with a type named like the package.
const funcsInfix = "_funcs"

// FileName returns the generated file name for tests of typ. An empty
// typ names the package-function file.
func FileName(pkgName, typ string) string {
	if typ == "" {
		return strings.ToLower(pkgName) + funcsInfix + suite.FileSuffix
	}
	return strings.ToLower(typ) + suite.FileSuffix
}

// Build samples every group, generates candidates and collects them
// into one file per declaring type. Groups are visited in the order of
// ids; files are returned sorted by name.
func (g *Generator) Build(ids []string, groups map[string][]probe.CallRecord) ([]*suite.File, error) {
	files := make(map[string]*suite.File)
	for _, id := range ids {
		sampled := Sample(groups[id], g.opts.Cap, g.rng)
		for _, call := range sampled {
			c, s := g.Generate(call)
			if c == nil {
				g.logger.Debug("call dropped", "method", id, "strategy", s)
				continue
			}
			name := FileName(g.pkgName, c.Type)
			f, ok := files[name]
			if !ok {
				typ := c.Type
				if typ == "" {
					typ = g.pkgName
				}
				f = suite.New(g.pkgName+"_test", name, typ, g.opts.Idiom)
				files[name] = f
			}
			for _, imp := range c.Imports {
				f.AddImport(imp.Path, imp.Name)
			}
			if err := f.Add(c.Method); err != nil {
				return nil, err
			}
		}
		ct := g.counters
		g.logger.Debug("method sampled", "method", id, "calls", len(groups[id]),
			"sampled", len(sampled), "generated", ct.Generated(), "attempted", ct.Attempted,
			"ratio", fmt.Sprintf("%.2f", ct.Ratio()))
	}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*suite.File, len(names))
	for i, n := range names {
		out[i] = files[n]
	}
	return out, nil
}
