// Package probe records call traces from instrumented Go code.
//
// Instrumented functions call a Recorder at entry, exit, field access
// and literal argument sites. Each goroutine that executes
// instrumented code owns its own Recorder, obtained from a Session and
// passed explicitly to the instrumentation calls, so recorders share
// no mutable state and need no locking. Recorder methods never panic.
package probe

import (
	"fmt"

	"github.com/unbound-force/amplify/value"
)

// Outcome reports what a recorder operation did.
type Outcome int

const (
	// Completed means the operation was applied.
	Completed Outcome = iota

	// Corrupted means the recorder lost track of the call structure
	// and cleared every open frame on its thread.
	Corrupted

	// Skipped means the operation was deliberately ignored, for
	// example an exit that does not match the innermost open frame or
	// a literal that was already logged.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Corrupted:
		return "corrupted"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stats counts recorder activity.
type Stats struct {
	Finalized  int // records finalized by a matching exit
	Written    int // records handed to the sink after deduplication
	Primitives int // primitive records written
	Collapsed  int // frames merged away by field reads
	Discarded  int // stale or mismatched frames dropped
	Cleared    int // times all open state was cleared
	SinkErrors int
}

type draft struct {
	methodID string
	depth    int
	args     []value.Value
}

// Recorder reconstructs the call structure of one goroutine from flat
// instrumentation events.
type Recorder struct {
	thread     string
	sink       *Sink
	objects    *arena
	scopes     ScopeTracker
	drafts     []draft
	depth      int
	seq        uint64
	written    map[uint64]struct{}
	primitives *PrimitiveCache
	stats      Stats
	lastErr    error
}

// NewRecorder returns a recorder writing to sink. A nil sink keeps
// records in memory only, which is useful in tests.
func NewRecorder(thread string, sink *Sink) *Recorder {
	return &Recorder{
		thread:     thread,
		sink:       sink,
		objects:    newArena(),
		written:    make(map[uint64]struct{}),
		primitives: NewPrimitiveCache(),
	}
}

// Thread returns the name the recorder was created with.
func (r *Recorder) Thread() string { return r.thread }

// Depth returns the current call depth.
func (r *Recorder) Depth() int { return r.depth }

// OpenFrames returns the number of frames with an unfinalized draft.
func (r *Recorder) OpenFrames() int { return len(r.drafts) }

// Tracked returns the number of receivers the recorder currently
// holds handles for.
func (r *Recorder) Tracked() int { return r.objects.len() }

// Scopes exposes the scope stack for inspection.
func (r *Recorder) Scopes() *ScopeTracker { return &r.scopes }

// Stats returns a copy of the activity counters.
func (r *Recorder) Stats() Stats { return r.stats }

// Err returns the last sink error, if any.
func (r *Recorder) Err() error { return r.lastErr }

// OnEnter opens a frame for methodID with snapshots of its arguments.
func (r *Recorder) OnEnter(methodID string, args ...any) (o Outcome) {
	defer r.guard(&o)
	// A draft at this depth or deeper belongs to a frame that already
	// returned without a matching exit.
	for len(r.drafts) > 0 && r.drafts[len(r.drafts)-1].depth >= r.depth {
		r.popFrame()
		r.stats.Discarded++
	}
	snap := make([]value.Value, len(args))
	for i, a := range args {
		snap[i] = value.Of(a)
	}
	r.drafts = append(r.drafts, draft{methodID: methodID, depth: r.depth, args: snap})
	r.scopes.Push()
	r.depth++
	return Completed
}

// OnExit closes the innermost frame. The frame is finalized into a
// CallRecord only when it was opened by methodID at the depth being
// returned to; a frame at that depth opened by another method is
// discarded. Deeper frames whose exits were never reported are
// discarded first.
func (r *Recorder) OnExit(methodID string, target any) (o Outcome) {
	defer r.guard(&o)
	if r.depth == 0 {
		return Skipped
	}
	r.depth--
	for len(r.drafts) > 0 && r.drafts[len(r.drafts)-1].depth > r.depth {
		r.popFrame()
		r.stats.Discarded++
	}
	if len(r.drafts) == 0 {
		return Skipped
	}
	top := r.drafts[len(r.drafts)-1]
	if top.depth != r.depth {
		return Skipped
	}
	if top.methodID != methodID {
		// The frame returned under another name; it never completes.
		r.popFrame()
		r.stats.Discarded++
		return Skipped
	}
	r.popFrame()
	rec := CallRecord{
		MethodID: methodID,
		Depth:    top.depth,
		Args:     top.args,
		Target:   value.Of(target),
		Seq:      r.seq,
	}
	r.seq++
	r.stats.Finalized++
	r.persist(rec)
	return Completed
}

// OnFieldWrite attributes a write of fieldID on receiver to the
// innermost open frame. A nil receiver denotes package-level state.
func (r *Recorder) OnFieldWrite(methodID string, receiver any, fieldID string) (o Outcome) {
	defer r.guard(&o)
	top := r.scopes.Top()
	if top == nil {
		return Skipped
	}
	h, ok := r.objects.handleOf(receiver)
	if !ok {
		return Skipped
	}
	top.add(h, fieldID)
	return Completed
}

// OnFieldRead resolves which open frame wrote fieldID of receiver.
// The frames above the writer are collapsed into it; when no open
// frame wrote the field, every open frame is cleared.
func (r *Recorder) OnFieldRead(methodID string, receiver any, fieldID string) (o Outcome) {
	defer r.guard(&o)
	if r.scopes.Len() == 0 {
		return Skipped
	}
	h, ok := r.objects.handleOf(receiver)
	if !ok {
		return Skipped
	}
	k := r.scopes.Find(h, fieldID)
	switch {
	case k < 0:
		r.reset()
		return Corrupted
	case k > 0:
		r.scopes.Collapse(k)
		r.drafts = r.drafts[:len(r.drafts)-k]
		r.stats.Collapsed += k
	}
	return Completed
}

// OnPrimitive logs a literal argument the first time the (constructor,
// argument index, value) triple is seen.
func (r *Recorder) OnPrimitive(methodID, constructorID string, argIndex int, v any) (o Outcome) {
	defer r.guard(&o)
	snap := value.Of(v)
	if !snap.Renderable() {
		return Skipped
	}
	if r.primitives.AlreadyLogged(constructorID, argIndex, snap) {
		return Skipped
	}
	rec := PrimitiveRecord{
		MethodID:      methodID,
		ConstructorID: constructorID,
		ArgIndex:      argIndex,
		Value:         snap,
	}
	line, err := rec.Encode()
	if err != nil {
		r.sinkError(err)
		return Skipped
	}
	if r.sink != nil {
		if err := r.sink.WriteLine(line); err != nil {
			r.sinkError(err)
			return Completed
		}
	}
	r.stats.Primitives++
	return Completed
}

func (r *Recorder) persist(rec CallRecord) {
	h, err := rec.Hash()
	if err != nil {
		r.sinkError(err)
		return
	}
	if _, dup := r.written[h]; dup {
		return
	}
	r.written[h] = struct{}{}
	line, err := rec.Encode()
	if err != nil {
		r.sinkError(err)
		return
	}
	if r.sink != nil {
		if err := r.sink.WriteLine(line); err != nil {
			r.sinkError(err)
			return
		}
	}
	r.stats.Written++
}

func (r *Recorder) popFrame() {
	r.drafts = r.drafts[:len(r.drafts)-1]
	r.scopes.Pop()
	if r.scopes.Len() == 0 {
		r.objects.release()
	}
}

// reset drops every open frame and scope. The depth counter is kept
// so exits of the cleared frames still unwind it.
func (r *Recorder) reset() {
	r.drafts = r.drafts[:0]
	r.scopes.Clear()
	r.objects.release()
	r.stats.Cleared++
}

func (r *Recorder) sinkError(err error) {
	r.lastErr = err
	r.stats.SinkErrors++
}

// guard converts a panic inside a recorder operation into Corrupted
// and clears the thread's open state.
func (r *Recorder) guard(o *Outcome) {
	if p := recover(); p != nil {
		r.drafts = nil
		r.scopes = ScopeTracker{}
		r.objects = newArena()
		r.stats.Cleared++
		r.lastErr = fmt.Errorf("recorder panic: %v", p)
		*o = Corrupted
	}
}
