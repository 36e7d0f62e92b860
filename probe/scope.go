package probe

import "reflect"

// Handle is a stable integer identity assigned to a tracked object
// the first time a recorder sees it. Handle 0 stands for "no
// receiver" (package-level state).
type Handle uint32

// arena assigns handles. It retains every tracked object, so a
// handle can never be reused for a different object while a frame
// that may hold it is open. The recorder releases the arena whenever
// its scope stack empties.
type arena struct {
	handles map[any]Handle
	next    Handle
}

func newArena() *arena {
	return &arena{handles: make(map[any]Handle), next: 1}
}

// handleOf returns the handle for obj, assigning one on first sight.
// Values whose dynamic type is not comparable, and values unequal to
// themselves such as structs holding a NaN, cannot be tracked.
func (a *arena) handleOf(obj any) (Handle, bool) {
	if obj == nil {
		return 0, true
	}
	if !reflect.TypeOf(obj).Comparable() {
		return 0, false
	}
	if h, ok := a.handles[obj]; ok {
		return h, true
	}
	if obj != obj {
		return 0, false
	}
	h := a.next
	a.next++
	a.handles[obj] = h
	return h, true
}

func (a *arena) len() int { return len(a.handles) }

func (a *arena) release() {
	if len(a.handles) > 0 {
		a.handles = make(map[any]Handle)
	}
}

type fieldKey struct {
	obj   Handle
	field string
}

// Scope is the set of (object, field) writes attributable to one open
// call frame, including frames that were collapsed into it.
type Scope struct {
	writes map[fieldKey]struct{}
}

func newScope() *Scope {
	return &Scope{writes: make(map[fieldKey]struct{})}
}

func (s *Scope) add(obj Handle, field string) {
	s.writes[fieldKey{obj, field}] = struct{}{}
}

// Contains reports whether field of obj was written in this scope.
func (s *Scope) Contains(obj Handle, field string) bool {
	_, ok := s.writes[fieldKey{obj, field}]
	return ok
}

// Len returns the number of distinct writes in the scope.
func (s *Scope) Len() int { return len(s.writes) }

func (s *Scope) merge(o *Scope) {
	for k := range o.writes {
		s.writes[k] = struct{}{}
	}
}

// ScopeTracker is the stack of scopes for the open frames of one
// thread, innermost last.
type ScopeTracker struct {
	scopes []*Scope
}

// Push opens an empty scope for a new frame.
func (t *ScopeTracker) Push() { t.scopes = append(t.scopes, newScope()) }

// Pop discards the innermost scope.
func (t *ScopeTracker) Pop() {
	if len(t.scopes) > 0 {
		t.scopes = t.scopes[:len(t.scopes)-1]
	}
}

// Top returns the innermost scope, or nil when no frame is open.
func (t *ScopeTracker) Top() *Scope {
	if len(t.scopes) == 0 {
		return nil
	}
	return t.scopes[len(t.scopes)-1]
}

// Len returns the number of open scopes.
func (t *ScopeTracker) Len() int { return len(t.scopes) }

// Find searches from the innermost scope outwards for a write to
// field of obj. It returns how many scopes lie above the writer, or
// -1 when no open scope recorded the write.
func (t *ScopeTracker) Find(obj Handle, field string) int {
	for k := 0; k < len(t.scopes); k++ {
		if t.scopes[len(t.scopes)-1-k].Contains(obj, field) {
			return k
		}
	}
	return -1
}

// Collapse merges the k innermost scopes into the scope below them
// and removes them from the stack.
func (t *ScopeTracker) Collapse(k int) {
	if k <= 0 || k >= len(t.scopes) {
		return
	}
	into := t.scopes[len(t.scopes)-1-k]
	for _, s := range t.scopes[len(t.scopes)-k:] {
		into.merge(s)
	}
	t.scopes = t.scopes[:len(t.scopes)-k]
}

// Clear drops every open scope.
func (t *ScopeTracker) Clear() { t.scopes = t.scopes[:0] }
