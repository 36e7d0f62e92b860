package probe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/unbound-force/amplify/value"
)

// Wire format tokens shared by the log writer and the trace loader.
// Values are JSON encoded, which escapes every control character,
// so Separator can never occur inside a field.
const (
	Separator        = "\x1f"
	EndLine          = "\n"
	CallKeyword      = "CALL"
	PrimitiveKeyword = "PRIMITIVE"
)

// CallRecord is a finalized snapshot of one completed invocation.
type CallRecord struct {
	// MethodID identifies the invoked function, e.g.
	// "example.com/geo.(*Point).Scale".
	MethodID string `json:"method_id"`

	// Depth is the call depth of the frame on its thread.
	Depth int `json:"depth"`

	// Args holds the argument snapshots taken at entry.
	Args []value.Value `json:"args"`

	// Target is the receiver (or result holder) snapshot taken at
	// exit.
	Target value.Value `json:"target"`

	// Seq orders records finalized by one recorder.
	Seq uint64 `json:"seq"`
}

// PrimitiveRecord is one distinct literal argument passed to a
// constructor or method.
type PrimitiveRecord struct {
	MethodID      string      `json:"method_id"`
	ConstructorID string      `json:"constructor_id"`
	ArgIndex      int         `json:"arg_index"`
	Value         value.Value `json:"value"`
}

// Encode serializes r as one CALL line.
func (r CallRecord) Encode() (string, error) {
	target, err := json.Marshal(r.Target)
	if err != nil {
		return "", fmt.Errorf("encoding target of %s: %w", r.MethodID, err)
	}
	args := r.Args
	if args == nil {
		args = []value.Value{}
	}
	argText, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encoding arguments of %s: %w", r.MethodID, err)
	}
	var b strings.Builder
	b.WriteString(CallKeyword)
	b.WriteString(Separator)
	b.WriteString(r.MethodID)
	b.WriteString(Separator)
	b.WriteString(strconv.Itoa(r.Depth))
	b.WriteString(Separator)
	b.WriteString(strconv.FormatUint(r.Seq, 10))
	b.WriteString(Separator)
	b.Write(target)
	b.WriteString(Separator)
	b.Write(argText)
	b.WriteString(EndLine)
	return b.String(), nil
}

// Hash returns the structural hash used to deduplicate records. The
// sequence number is excluded so repeated identical calls collapse.
func (r CallRecord) Hash() (uint64, error) {
	r.Seq = 0
	line, err := r.Encode()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(line), nil
}

// Encode serializes p as one PRIMITIVE line.
func (p PrimitiveRecord) Encode() (string, error) {
	v, err := json.Marshal(p.Value)
	if err != nil {
		return "", fmt.Errorf("encoding primitive for %s: %w", p.ConstructorID, err)
	}
	return PrimitiveKeyword + Separator +
		p.MethodID + Separator +
		p.ConstructorID + Separator +
		strconv.Itoa(p.ArgIndex) + Separator +
		string(v) + EndLine, nil
}

// DecodeCall parses a CALL line (with or without its terminator).
func DecodeCall(line string) (CallRecord, error) {
	parts := strings.Split(strings.TrimSuffix(line, EndLine), Separator)
	if len(parts) != 6 || parts[0] != CallKeyword {
		return CallRecord{}, fmt.Errorf("malformed call record: %d fields", len(parts))
	}
	depth, err := strconv.Atoi(parts[2])
	if err != nil {
		return CallRecord{}, fmt.Errorf("malformed call depth %q: %w", parts[2], err)
	}
	seq, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return CallRecord{}, fmt.Errorf("malformed call sequence %q: %w", parts[3], err)
	}
	r := CallRecord{MethodID: parts[1], Depth: depth, Seq: seq}
	if err := json.Unmarshal([]byte(parts[4]), &r.Target); err != nil {
		return CallRecord{}, fmt.Errorf("malformed call target: %w", err)
	}
	if err := json.Unmarshal([]byte(parts[5]), &r.Args); err != nil {
		return CallRecord{}, fmt.Errorf("malformed call arguments: %w", err)
	}
	return r, nil
}

// DecodePrimitive parses a PRIMITIVE line (with or without its
// terminator).
func DecodePrimitive(line string) (PrimitiveRecord, error) {
	parts := strings.Split(strings.TrimSuffix(line, EndLine), Separator)
	if len(parts) != 5 || parts[0] != PrimitiveKeyword {
		return PrimitiveRecord{}, fmt.Errorf("malformed primitive record: %d fields", len(parts))
	}
	idx, err := strconv.Atoi(parts[3])
	if err != nil {
		return PrimitiveRecord{}, fmt.Errorf("malformed argument index %q: %w", parts[3], err)
	}
	p := PrimitiveRecord{MethodID: parts[1], ConstructorID: parts[2], ArgIndex: idx}
	if err := json.Unmarshal([]byte(parts[4]), &p.Value); err != nil {
		return PrimitiveRecord{}, fmt.Errorf("malformed primitive value: %w", err)
	}
	return p, nil
}
