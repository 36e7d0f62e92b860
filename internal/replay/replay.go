// Package replay drives probe recorders from a stream of JSON Lines
// events, so traces captured by an external agent or an earlier
// session can be turned into trace logs.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/unbound-force/amplify/probe"
	"github.com/unbound-force/amplify/value"
)

// Op names a recorder operation.
type Op string

// Event operations.
const (
	Enter     Op = "enter"
	Exit      Op = "exit"
	Write     Op = "write"
	Read      Op = "read"
	Primitive Op = "primitive"
)

// Event is one instrumentation event. Receivers are opaque object
// identifiers; an empty receiver denotes package-level state.
type Event struct {
	Thread      string        `json:"thread"`
	Op          Op            `json:"op"`
	Method      string        `json:"method"`
	Args        []value.Value `json:"args,omitempty"`
	Target      *value.Value  `json:"target,omitempty"`
	Receiver    string        `json:"receiver,omitempty"`
	Field       string        `json:"field,omitempty"`
	Constructor string        `json:"constructor,omitempty"`
	Index       int           `json:"index,omitempty"`
	Value       *value.Value  `json:"value,omitempty"`
}

// Counts summarizes a replay.
type Counts struct {
	Events    int
	Malformed int
	Threads   int
	Outcomes  map[probe.Outcome]int
}

// Options configures Run.
type Options struct {
	Logger *log.Logger

	// Buffer is the per-thread event queue length.
	Buffer int
}

// Run reads events from r and applies each to the recorder of its
// thread. Every thread is driven by its own goroutine, so the events
// of one thread are applied in stream order while threads proceed
// independently. Lines that do not decode are counted and skipped.
func Run(ctx context.Context, s *probe.Session, r io.Reader, opts Options) (Counts, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	buf := opts.Buffer
	if buf <= 0 {
		buf = 64
	}

	g, gctx := errgroup.WithContext(ctx)
	var (
		mu     sync.Mutex
		counts = Counts{Outcomes: make(map[probe.Outcome]int)}
		queues = make(map[string]chan Event)
	)

	worker := func(rec *probe.Recorder, events <-chan Event) func() error {
		return func() error {
			local := make(map[probe.Outcome]int)
			for ev := range events {
				local[apply(rec, ev)]++
			}
			mu.Lock()
			for o, n := range local {
				counts.Outcomes[o] += n
			}
			mu.Unlock()
			return nil
		}
	}

	readErr := func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		br := bufio.NewReader(r)
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				var ev Event
				if jerr := json.Unmarshal(line, &ev); jerr != nil || !ev.Op.valid() {
					counts.Malformed++
					logger.Debug("skipping malformed event", "err", jerr)
				} else {
					q, ok := queues[ev.Thread]
					if !ok {
						q = make(chan Event, buf)
						queues[ev.Thread] = q
						g.Go(worker(s.Recorder(ev.Thread), q))
					}
					select {
					case q <- ev:
						counts.Events++
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading events: %w", err)
			}
		}
	}()

	waitErr := g.Wait()
	counts.Threads = len(queues)
	if readErr != nil {
		return counts, readErr
	}
	return counts, waitErr
}

func (o Op) valid() bool {
	switch o {
	case Enter, Exit, Write, Read, Primitive:
		return true
	}
	return false
}

func apply(rec *probe.Recorder, ev Event) probe.Outcome {
	var receiver any
	if ev.Receiver != "" {
		receiver = ev.Receiver
	}
	switch ev.Op {
	case Enter:
		args := make([]any, len(ev.Args))
		for i, a := range ev.Args {
			args[i] = a
		}
		return rec.OnEnter(ev.Method, args...)
	case Exit:
		return rec.OnExit(ev.Method, snapshot(ev.Target))
	case Write:
		return rec.OnFieldWrite(ev.Method, receiver, ev.Field)
	case Read:
		return rec.OnFieldRead(ev.Method, receiver, ev.Field)
	case Primitive:
		return rec.OnPrimitive(ev.Method, ev.Constructor, ev.Index, snapshot(ev.Value))
	}
	return probe.Skipped
}

func snapshot(v *value.Value) any {
	if v == nil {
		return nil
	}
	return *v
}
