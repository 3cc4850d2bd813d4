package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/prabodh-fiddler/prism/internal/diagnostic"
)

const (
	SubjectRequest  = "Request body"
	SubjectResponse = "Response body"
)

// Validator walks a schema and a decoded value together. Recursion follows the
// data: a reference is only resolved when a value exists at that position, so
// cyclic schemas terminate on finite payloads.
//
// A Validator holds no per-call state and may be shared between goroutines.
type Validator struct {
	bundle  *Bundle
	subject string
	coerce  bool
}

type Option func(*Validator)

// WithSubject sets the message prefix, "Request body" by default.
func WithSubject(subject string) Option {
	return func(v *Validator) {
		v.subject = subject
	}
}

// WithCoercion makes string scalars convert to the declared scalar type before
// checking, which is how form encoded fields are validated.
func WithCoercion(enabled bool) Option {
	return func(v *Validator) {
		v.coerce = enabled
	}
}

func NewValidator(bundle *Bundle, opts ...Option) *Validator {
	v := &Validator{bundle: bundle, subject: SubjectRequest}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the diagnostics for value against n. Locations are prefixed
// with root, for example ["body"]. A nil schema accepts anything.
func (v *Validator) Validate(n *Node, value any, root []string) []diagnostic.Diagnostic {
	if n == nil {
		return nil
	}
	w := &walk{v: v, root: root}
	w.node(n, value, nil, nil)
	return w.diags
}

type walk struct {
	v     *Validator
	root  []string
	diags []diagnostic.Diagnostic
}

func (w *walk) location(rel []string) []string {
	out := make([]string, 0, len(w.root)+len(rel))
	out = append(out, w.root...)
	return append(out, rel...)
}

func (w *walk) subject(rel []string) string {
	if len(rel) == 0 {
		return w.v.subject
	}
	return w.v.subject + " property " + strings.Join(rel, ".")
}

func (w *walk) emit(code string, rel []string, format string, args ...any) {
	w.diags = append(w.diags, diagnostic.Diagnostic{
		Code:     code,
		Location: w.location(rel),
		Message:  w.subject(rel) + " " + fmt.Sprintf(format, args...),
		Severity: diagnostic.SeverityError,
	})
}

// node validates one value position. seen holds the nodes already applied to
// this exact value through composition, so that a self-referencing allOf
// cannot loop without consuming data.
func (w *walk) node(n *Node, value any, rel []string, seen map[*Node]struct{}) any {
	resolved, err := w.v.bundle.Resolve(n)
	if err != nil || resolved == nil {
		// Unresolvable references are rejected when contracts load.
		return value
	}
	n = resolved
	if _, again := seen[n]; again {
		return value
	}

	if w.v.coerce {
		value = coerce(value, n.Types)
	}

	k := kindOf(value)
	if k == kindNull && n.Nullable {
		return value
	}
	if !w.checkType(n, k, rel) {
		return value
	}

	if len(n.Enum) > 0 && !inEnum(n.Enum, value) {
		w.emit("enum", rel, "must be equal to one of the allowed values: %s", formatValues(n.Enum))
	}

	switch k {
	case kindInteger, kindNumber:
		w.number(n, value, rel)
	case kindString:
		w.string(n, value.(string), rel)
	case kindObject:
		value = w.object(n, value.(map[string]any), rel)
	case kindArray:
		value = w.array(n, value.([]any), rel)
	}

	if len(n.AllOf) > 0 || len(n.AnyOf) > 0 || len(n.OneOf) > 0 {
		w.composition(n, value, rel, seen)
	}
	return value
}

func (w *walk) checkType(n *Node, k kind, rel []string) bool {
	if len(n.Types) == 0 {
		return true
	}
	for _, t := range n.Types {
		if matchesType(k, t) {
			return true
		}
	}
	names := make([]string, len(n.Types))
	for i, t := range n.Types {
		names[i] = string(t)
	}
	w.emit("type", rel, "must be %s", strings.Join(names, ","))
	return false
}

func inEnum(enum []any, value any) bool {
	for _, allowed := range enum {
		if equalValues(allowed, value) {
			return true
		}
	}
	return false
}

func (w *walk) number(n *Node, value any, rel []string) {
	f, ok := toFloat(value)
	if !ok {
		return
	}
	if n.Minimum != nil && f < *n.Minimum {
		w.emit("minimum", rel, "must be >= %s", formatNumber(*n.Minimum))
	}
	if n.Maximum != nil && f > *n.Maximum {
		w.emit("maximum", rel, "must be <= %s", formatNumber(*n.Maximum))
	}
	if n.ExclusiveMinimum != nil && f <= *n.ExclusiveMinimum {
		w.emit("exclusiveMinimum", rel, "must be > %s", formatNumber(*n.ExclusiveMinimum))
	}
	if n.ExclusiveMaximum != nil && f >= *n.ExclusiveMaximum {
		w.emit("exclusiveMaximum", rel, "must be < %s", formatNumber(*n.ExclusiveMaximum))
	}
}

func (w *walk) string(n *Node, s string, rel []string) {
	length := utf8.RuneCountInString(s)
	if n.MinLength != nil && length < *n.MinLength {
		w.emit("minLength", rel, "must NOT have fewer than %d characters", *n.MinLength)
	}
	if n.MaxLength != nil && length > *n.MaxLength {
		w.emit("maxLength", rel, "must NOT have more than %d characters", *n.MaxLength)
	}
	if n.Pattern != "" {
		re := n.pattern
		if re == nil {
			compiled, err := regexp.Compile(n.Pattern)
			if err != nil {
				return
			}
			re = compiled
		}
		if !re.MatchString(s) {
			w.emit("pattern", rel, "must match pattern %q", n.Pattern)
		}
	}
}

// object reports missing required properties first, in declaration order and
// located at the container, then walks declared properties in declaration
// order. Coerced children are written to a copy, never to the caller's map.
func (w *walk) object(n *Node, obj map[string]any, rel []string) any {
	for _, name := range n.Required {
		if _, ok := obj[name]; !ok {
			w.emit("required", rel, "must have required property '%s'", name)
		}
	}

	out := obj
	if w.v.coerce {
		out = make(map[string]any, len(obj))
		for key, val := range obj {
			out[key] = val
		}
	}

	for _, prop := range n.Properties {
		child, ok := obj[prop.Name]
		if !ok {
			continue
		}
		out[prop.Name] = w.node(prop.Schema, child, extend(rel, prop.Name), nil)
	}

	if n.DenyAdditional || n.AdditionalProperties != nil {
		for _, key := range sortedKeys(obj) {
			if _, declared := n.Property(key); declared {
				continue
			}
			if n.DenyAdditional {
				w.emit("additionalProperties", rel, "must NOT have additional properties")
				continue
			}
			out[key] = w.node(n.AdditionalProperties, obj[key], extend(rel, key), nil)
		}
	}
	return out
}

func (w *walk) array(n *Node, arr []any, rel []string) any {
	if n.MinItems != nil && len(arr) < *n.MinItems {
		w.emit("minItems", rel, "must NOT have fewer than %d items", *n.MinItems)
	}
	if n.MaxItems != nil && len(arr) > *n.MaxItems {
		w.emit("maxItems", rel, "must NOT have more than %d items", *n.MaxItems)
	}
	if n.Items == nil {
		return arr
	}
	out := arr
	if w.v.coerce {
		out = make([]any, len(arr))
		copy(out, arr)
	}
	for i, item := range arr {
		out[i] = w.node(n.Items, item, extend(rel, fmt.Sprint(i)), nil)
	}
	return out
}

func (w *walk) composition(n *Node, value any, rel []string, seen map[*Node]struct{}) {
	inner := make(map[*Node]struct{}, len(seen)+1)
	for key := range seen {
		inner[key] = struct{}{}
	}
	inner[n] = struct{}{}

	for _, member := range n.AllOf {
		w.node(member, value, rel, inner)
	}

	if len(n.AnyOf) > 0 {
		matched := false
		for _, member := range n.AnyOf {
			if w.passes(member, value, rel, inner) {
				matched = true
				break
			}
		}
		if !matched {
			w.emit("anyOf", rel, "must match a schema in anyOf")
		}
	}

	if len(n.OneOf) > 0 {
		matches := 0
		for _, member := range n.OneOf {
			if w.passes(member, value, rel, inner) {
				matches++
			}
		}
		if matches != 1 {
			w.emit("oneOf", rel, "must match exactly one schema in oneOf")
		}
	}
}

// passes runs a member schema on a scratch walk and reports whether it
// produced no errors.
func (w *walk) passes(member *Node, value any, rel []string, seen map[*Node]struct{}) bool {
	scratch := &walk{v: w.v, root: w.root}
	scratch.node(member, value, rel, seen)
	return !diagnostic.HasErrors(scratch.diags)
}

func extend(rel []string, seg string) []string {
	out := make([]string, len(rel)+1)
	copy(out, rel)
	out[len(rel)] = seg
	return out
}
