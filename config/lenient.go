package config

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// leadingNumber matches the numeric token at the start of a raw value such
// as "40  # minutes" or "-5.0 (percent)".
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// ParseLeadingFloat parses the leading numeric token of raw and ignores any
// trailing annotation. ok is false when raw does not start with a number.
func ParseLeadingFloat(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, "#;"); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	tok := leadingNumber.FindString(s)
	if tok == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseLeadingInt is ParseLeadingFloat truncated toward zero.
func ParseLeadingInt(raw string) (int, bool) {
	f, ok := ParseLeadingFloat(raw)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Int is an integer option that tolerates trailing annotations in its raw
// form. An unparseable value leaves it unset so the default applies.
type Int struct {
	v   int
	set bool
}

// IntOf returns a set Int.
func IntOf(v int) Int { return Int{v: v, set: true} }

func (i Int) Value() int  { return i.v }
func (i Int) IsSet() bool { return i.set }

// Or returns the value, or def when unset.
func (i Int) Or(def int) int {
	if !i.set {
		return def
	}
	return i.v
}

func (i *Int) setRaw(raw string) {
	v, ok := ParseLeadingInt(raw)
	*i = Int{v: v, set: ok}
}

func (i *Int) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		*i = Int{}
		return nil
	}
	i.setRaw(n.Value)
	return nil
}

func (i Int) MarshalYAML() (any, error) {
	if !i.set {
		return nil, nil
	}
	return i.v, nil
}

func (i *Int) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*i = IntOf(int(x))
	case float64:
		*i = IntOf(int(x))
	case string:
		i.setRaw(x)
	default:
		*i = Int{}
	}
	return nil
}

func (i *Int) UnmarshalJSON(b []byte) error {
	i.setRaw(strings.Trim(string(b), `"`))
	return nil
}

func (i Int) MarshalJSON() ([]byte, error) {
	if !i.set {
		return []byte("null"), nil
	}
	return json.Marshal(i.v)
}

// Float is the floating point counterpart of Int.
type Float struct {
	v   float64
	set bool
}

// FloatOf returns a set Float.
func FloatOf(v float64) Float { return Float{v: v, set: true} }

func (f Float) Value() float64 { return f.v }
func (f Float) IsSet() bool    { return f.set }

func (f Float) Or(def float64) float64 {
	if !f.set {
		return def
	}
	return f.v
}

func (f *Float) setRaw(raw string) {
	v, ok := ParseLeadingFloat(raw)
	*f = Float{v: v, set: ok}
}

func (f *Float) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		*f = Float{}
		return nil
	}
	f.setRaw(n.Value)
	return nil
}

func (f Float) MarshalYAML() (any, error) {
	if !f.set {
		return nil, nil
	}
	return f.v, nil
}

func (f *Float) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case int64:
		*f = FloatOf(float64(x))
	case float64:
		*f = FloatOf(x)
	case string:
		f.setRaw(x)
	default:
		*f = Float{}
	}
	return nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	f.setRaw(strings.Trim(string(b), `"`))
	return nil
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// List is a string list given either as a sequence or as one comma
// separated string ("EUR,USD,JPY").
type List []string

func splitList(s string) List {
	var out List
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *List) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*l = splitList(n.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := n.Decode(&items); err != nil {
			return fmt.Errorf("decode list: %w", err)
		}
		*l = splitList(strings.Join(items, ","))
		return nil
	}
	return fmt.Errorf("line %d: expected list or comma separated string", n.Line)
}

func (l *List) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		*l = splitList(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			parts = append(parts, fmt.Sprint(e))
		}
		*l = splitList(strings.Join(parts, ","))
	default:
		return fmt.Errorf("expected list or comma separated string, got %T", v)
	}
	return nil
}

func (l *List) UnmarshalJSON(b []byte) error {
	var items []string
	if err := json.Unmarshal(b, &items); err == nil {
		*l = splitList(strings.Join(items, ","))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected list or comma separated string: %w", err)
	}
	*l = splitList(s)
	return nil
}
