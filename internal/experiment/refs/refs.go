// Package refs implements the $name reference syntax used inside step
// argument structures. A reference is a string of the form "$name",
// "$step" or "$step.output"; "$$" escapes a literal leading dollar sign.
package refs

import (
	"fmt"
	"strings"
)

// IsReference reports whether value is syntactically a reference token.
// The bare string "$" and "$$"-escaped strings are not references.
func IsReference(value string) bool {
	if value == "$" {
		return false
	}
	if !strings.HasPrefix(value, "$") {
		return false
	}
	return !strings.HasPrefix(value, "$$")
}

// Unescape strips the escape prefix from a "$$"-escaped literal. Other
// values are returned unchanged.
func Unescape(value string) string {
	if strings.HasPrefix(value, "$$") {
		return value[1:]
	}
	return value
}

// Name returns the ref-name of a reference token, without the leading "$".
func Name(value string) string {
	return strings.TrimPrefix(value, "$")
}

// Split separates a ref-name into its target prefix (the part before the
// first dot) and an optional output name.
func Split(refName string) (target, output string) {
	if idx := strings.Index(refName, "."); idx >= 0 {
		return refName[:idx], refName[idx+1:]
	}
	return refName, ""
}

// Arg is one node of a step's argument structure: a literal, a reference,
// or a nested list or map of further Args. The tree is built once at parse
// time so later walks never need to inspect raw YAML shapes.
type Arg interface {
	isArg()
}

// Literal is a plain value (string, number, bool, nil).
type Literal struct {
	Value any
}

// Reference is a parsed "$name" token; Name carries the ref-name without
// the dollar sign.
type Reference struct {
	Name string
}

// List is an ordered sequence of Args.
type List struct {
	Items []Arg
}

// Map is a mapping of Args that remembers YAML document key order.
type Map struct {
	Keys   []string
	Values map[string]Arg
}

func (Literal) isArg()   {}
func (Reference) isArg() {}
func (List) isArg()      {}
func (Map) isArg()       {}

// FromValue converts a decoded YAML value into an Arg tree, recognizing
// reference tokens and unescaping "$$" literals. Map key order follows Go
// map iteration and is therefore unspecified; parsing from a yaml.Node via
// the experiment package preserves document order.
func FromValue(value any) (Arg, error) {
	switch v := value.(type) {
	case string:
		if IsReference(v) {
			return Reference{Name: Name(v)}, nil
		}
		return Literal{Value: Unescape(v)}, nil
	case []any:
		items := make([]Arg, 0, len(v))
		for _, item := range v {
			arg, err := FromValue(item)
			if err != nil {
				return nil, err
			}
			items = append(items, arg)
		}
		return List{Items: items}, nil
	case map[string]any:
		m := Map{Values: make(map[string]Arg, len(v))}
		for key, item := range v {
			arg, err := FromValue(item)
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
			m.Values[key] = arg
		}
		return m, nil
	case map[any]any:
		return nil, fmt.Errorf("argument mappings must use string keys")
	default:
		return Literal{Value: v}, nil
	}
}

// References walks the Arg tree in order and returns every ref-name found.
// It is purely syntactic; no resolution or validation happens here.
func References(arg Arg) []string {
	var out []string
	walk(arg, func(name string) {
		out = append(out, name)
	})
	return out
}

func walk(arg Arg, visit func(string)) {
	switch v := arg.(type) {
	case Reference:
		visit(v.Name)
	case List:
		for _, item := range v.Items {
			walk(item, visit)
		}
	case Map:
		for _, key := range v.Keys {
			walk(v.Values[key], visit)
		}
	}
}
