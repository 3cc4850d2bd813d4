package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
)

var (
	ErrUnresolved = errors.New("unresolved reference")
	ErrRefCycle   = errors.New("reference cycle without a definition")
)

// ConfigError lists structural problems found in a bundle at load time.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "schema: " + e.Problems[0]
	}
	return fmt.Sprintf("schema: %d problem(s)", len(e.Problems))
}

// Resolve follows a chain of references until it reaches an inline node.
// It never descends into children, so it is safe on cyclic graphs.
func (b *Bundle) Resolve(n *Node) (*Node, error) {
	if n == nil {
		return nil, nil
	}
	if !n.IsRef() {
		return n, nil
	}

	seen := map[string]struct{}{}
	current := n
	for current.IsRef() {
		key := current.Ref
		if _, loop := seen[key]; loop {
			return nil, fmt.Errorf("%w: %s", ErrRefCycle, key)
		}
		seen[key] = struct{}{}

		next, ok := b.Lookup(key)
		if !ok || next == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnresolved, key)
		}
		current = next
	}
	return current, nil
}

// Prepare checks that every reference reachable from the roots and from the
// bundle itself resolves, and compiles string patterns. It must run before the
// bundle is shared between goroutines.
func (b *Bundle) Prepare(roots ...*Node) error {
	cfgErr := &ConfigError{}
	reported := map[string]struct{}{}
	report := func(msg string) {
		if _, dup := reported[msg]; dup {
			return
		}
		reported[msg] = struct{}{}
		cfgErr.add("%s", msg)
	}

	stack := make([]*Node, 0, len(roots)+b.Len())
	for _, root := range roots {
		if root != nil {
			stack = append(stack, root)
		}
	}
	for _, key := range b.Keys() {
		stack = append(stack, b.nodes[key])
	}

	visited := map[*Node]struct{}{}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if _, done := visited[n]; done {
			continue
		}
		visited[n] = struct{}{}

		if n.IsRef() {
			if _, err := b.Resolve(n); err != nil {
				report(err.Error())
			}
			continue
		}

		for _, t := range n.Types {
			if !t.valid() {
				report(fmt.Sprintf("unknown type %q", t))
			}
		}
		if n.Pattern != "" && n.pattern == nil {
			re, err := regexp.Compile(n.Pattern)
			if err != nil {
				report(fmt.Sprintf("invalid pattern %q: %v", n.Pattern, err))
			} else {
				n.pattern = re
			}
		}
		stack = append(stack, n.children()...)
	}

	if len(cfgErr.Problems) > 0 {
		sort.Strings(cfgErr.Problems)
		return cfgErr
	}
	return nil
}
