package value

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// wireValue is the compact JSON form of a Value. Floats travel as
// text so NaN and the infinities survive encoding/json.
type wireValue struct {
	Kind   Kind        `json:"k"`
	Type   string      `json:"t,omitempty"`
	Pkg    string      `json:"p,omitempty"`
	Bool   bool        `json:"b,omitempty"`
	Int    int64       `json:"i,omitempty"`
	Uint   uint64      `json:"u,omitempty"`
	Float  string      `json:"f,omitempty"`
	Str    string      `json:"s,omitempty"`
	Elem   Kind        `json:"e,omitempty"`
	Elems  []Value     `json:"x,omitempty"`
	Fields []wireField `json:"fs,omitempty"`
}

type wireField struct {
	Name  string `json:"n"`
	Value Value  `json:"v"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{
		Kind:  v.Kind,
		Type:  v.Type,
		Pkg:   v.Pkg,
		Bool:  v.Bool,
		Int:   v.Int,
		Uint:  v.Uint,
		Str:   v.Str,
		Elem:  v.Elem,
		Elems: v.Elems,
	}
	if v.Kind == Float32 || v.Kind == Float64 {
		w.Float = strconv.FormatFloat(v.Float, 'g', -1, 64)
	}
	for _, f := range v.Fields {
		w.Fields = append(w.Fields, wireField{Name: f.Name, Value: f.Value})
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind == "" {
		return fmt.Errorf("value without kind")
	}
	*v = Value{
		Kind:  w.Kind,
		Type:  w.Type,
		Pkg:   w.Pkg,
		Bool:  w.Bool,
		Int:   w.Int,
		Uint:  w.Uint,
		Str:   w.Str,
		Elem:  w.Elem,
		Elems: w.Elems,
	}
	if w.Float != "" {
		f, err := strconv.ParseFloat(w.Float, 64)
		if err != nil {
			return fmt.Errorf("decoding float %q: %w", w.Float, err)
		}
		v.Float = f
	}
	for _, f := range w.Fields {
		v.Fields = append(v.Fields, Field{Name: f.Name, Value: f.Value})
	}
	return nil
}
