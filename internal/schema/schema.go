// Package schema models the subset of JSON Schema used by operation contracts
// and validates decoded message bodies against it.
//
// Schemas live in a Bundle: an arena of nodes addressed by JSON pointer keys.
// A node is either a reference (Ref set) or an inline definition whose
// children are owned by it. Cycles can only be formed through references, so
// a schema graph is inert until a validator walks it with actual data.
package schema

import (
	"regexp"
	"sort"
	"strings"
)

type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeNull    Type = "null"
)

func (t Type) valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeObject, TypeArray, TypeNull:
		return true
	default:
		return false
	}
}

// Property is a named child schema. Properties keep declaration order because
// diagnostics are emitted in that order.
type Property struct {
	Name   string
	Schema *Node
}

type Node struct {
	Ref string

	Types    []Type
	Nullable bool

	Required             []string
	Properties           []Property
	AdditionalProperties *Node
	// DenyAdditional is set for additionalProperties: false.
	DenyAdditional bool

	Items *Node

	Enum []any

	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum *float64
	ExclusiveMaximum *float64

	MinLength *int
	MaxLength *int
	Pattern   string

	MinItems *int
	MaxItems *int

	AllOf []*Node
	AnyOf []*Node
	OneOf []*Node

	pattern *regexp.Regexp
}

// IsRef reports whether the node only points at another node in the bundle.
func (n *Node) IsRef() bool {
	return n != nil && n.Ref != ""
}

// Property returns the child schema declared for name.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, p := range n.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

func (n *Node) hasType(t Type) bool {
	for _, declared := range n.Types {
		if declared == t {
			return true
		}
	}
	return false
}

// children lists the inline sub-schemas owned by n, in a stable order.
func (n *Node) children() []*Node {
	var out []*Node
	for _, p := range n.Properties {
		out = append(out, p.Schema)
	}
	if n.AdditionalProperties != nil {
		out = append(out, n.AdditionalProperties)
	}
	if n.Items != nil {
		out = append(out, n.Items)
	}
	out = append(out, n.AllOf...)
	out = append(out, n.AnyOf...)
	out = append(out, n.OneOf...)
	return out
}

// Bundle is the shared store of schema fragments that references point into.
type Bundle struct {
	nodes map[string]*Node
}

func NewBundle() *Bundle {
	return &Bundle{nodes: map[string]*Node{}}
}

func (b *Bundle) Add(key string, n *Node) {
	if b.nodes == nil {
		b.nodes = map[string]*Node{}
	}
	b.nodes[key] = n
}

func (b *Bundle) Lookup(key string) (*Node, bool) {
	if b == nil {
		return nil, false
	}
	n, ok := b.nodes[key]
	return n, ok
}

func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.nodes)
}

func (b *Bundle) Keys() []string {
	if b == nil {
		return nil
	}
	keys := make([]string, 0, len(b.nodes))
	for key := range b.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// With returns a new bundle holding the fragments of b overlaid with other.
// Nodes are shared, not copied.
func (b *Bundle) With(other *Bundle) *Bundle {
	out := NewBundle()
	if b != nil {
		for key, n := range b.nodes {
			out.nodes[key] = n
		}
	}
	if other != nil {
		for key, n := range other.nodes {
			out.nodes[key] = n
		}
	}
	return out
}

// Pointer builds a local JSON pointer reference ("#/a/b") from raw segments.
func Pointer(segments ...string) string {
	var b strings.Builder
	b.WriteString("#")
	for _, seg := range segments {
		b.WriteByte('/')
		seg = strings.ReplaceAll(seg, "~", "~0")
		seg = strings.ReplaceAll(seg, "/", "~1")
		b.WriteString(seg)
	}
	return b.String()
}
