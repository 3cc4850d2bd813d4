package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/prabodh-fiddler/prism/internal/diagnostic"
)

func parseNode(t *testing.T, src string) *Node {
	t.Helper()
	n := &Node{}
	require.NoError(t, yaml.Unmarshal([]byte(src), n))
	return n
}

func decodeJSON(t *testing.T, src string) any {
	t.Helper()
	var v any
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&v))
	return v
}

var body = []string{"body"}

const orderSchema = `
type: object
required: [id]
properties:
  id:
    type: integer
    minimum: -9223372036854776000
    maximum: 9223372036854776000
  status:
    type: string
    enum: [placed, approved, delivered]
`

func TestValidator_TypeMismatch(t *testing.T) {
	v := NewValidator(NewBundle())
	diags := v.Validate(parseNode(t, orderSchema), decodeJSON(t, `{"id":"string"}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, "type", diags[0].Code)
	assert.Equal(t, []string{"body", "id"}, diags[0].Location)
	assert.Equal(t, "Request body property id must be integer", diags[0].Message)
	assert.Equal(t, diagnostic.SeverityError, diags[0].Severity)
}

func TestValidator_RequiredAtRoot(t *testing.T) {
	v := NewValidator(NewBundle())
	diags := v.Validate(parseNode(t, orderSchema), decodeJSON(t, `{}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, "required", diags[0].Code)
	assert.Equal(t, []string{"body"}, diags[0].Location)
	assert.Equal(t, "Request body must have required property 'id'", diags[0].Message)
}

func TestValidator_Enum(t *testing.T) {
	v := NewValidator(NewBundle())
	diags := v.Validate(parseNode(t, orderSchema), decodeJSON(t, `{"id":1,"status":"string"}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, "enum", diags[0].Code)
	assert.Equal(t, []string{"body", "status"}, diags[0].Location)
	assert.Equal(t,
		"Request body property status must be equal to one of the allowed values: placed, approved, delivered",
		diags[0].Message)
}

func TestValidator_ValidPayload(t *testing.T) {
	v := NewValidator(NewBundle())
	diags := v.Validate(parseNode(t, orderSchema), decodeJSON(t, `{"id":100,"status":"placed"}`), body)
	assert.Empty(t, diags)
}

func TestValidator_NilSchemaAcceptsAnything(t *testing.T) {
	v := NewValidator(NewBundle())
	assert.Empty(t, v.Validate(nil, decodeJSON(t, `{"anything":[1,2]}`), body))
}

func cyclicBundle(t *testing.T) (*Bundle, *Node) {
	t.Helper()
	b := NewBundle()
	b.Add("#/__bundled__/schemas", parseNode(t, `
type: object
required: [id]
properties:
  id:
    type: integer
  self:
    $ref: '#/__bundled__/schemas'
`))
	root := &Node{Ref: "#/__bundled__/schemas"}
	require.NoError(t, b.Prepare(root))
	return b, root
}

func TestValidator_CyclicSchema(t *testing.T) {
	b, root := cyclicBundle(t)
	v := NewValidator(b)

	diags := v.Validate(root, decodeJSON(t, `{"id":123,"self":{}}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, "required", diags[0].Code)
	assert.Equal(t, []string{"body", "self"}, diags[0].Location)
	assert.Equal(t, "Request body property self must have required property 'id'", diags[0].Message)
}

func TestValidator_CyclicSchemaNestedType(t *testing.T) {
	b, root := cyclicBundle(t)
	v := NewValidator(b)

	diags := v.Validate(root, decodeJSON(t, `{"id":1,"self":{"id":"x"}}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, []string{"body", "self", "id"}, diags[0].Location)
	assert.Equal(t, "Request body property self.id must be integer", diags[0].Message)
}

func TestValidator_CyclicSchemaDeepData(t *testing.T) {
	b, root := cyclicBundle(t)
	v := NewValidator(b)

	value := map[string]any{"id": json.Number("0")}
	for i := 1; i < 500; i++ {
		value = map[string]any{"id": json.Number("1"), "self": value}
	}
	assert.Empty(t, v.Validate(root, value, body))
}

func TestValidator_SelfReferencingAllOfTerminates(t *testing.T) {
	b := NewBundle()
	b.Add("#/a", parseNode(t, `
type: object
required: [x]
allOf:
  - $ref: '#/a'
`))
	root := &Node{Ref: "#/a"}
	require.NoError(t, b.Prepare(root))

	diags := NewValidator(b).Validate(root, map[string]any{}, body)
	require.Len(t, diags, 1)
	assert.Equal(t, "required", diags[0].Code)
}

func TestValidator_Idempotent(t *testing.T) {
	b, root := cyclicBundle(t)
	v := NewValidator(b)
	value := decodeJSON(t, `{"id":"a","self":{"self":{}}}`)

	first := v.Validate(root, value, body)
	second := v.Validate(root, value, body)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func TestValidator_DiagnosticOrder(t *testing.T) {
	n := parseNode(t, `
type: object
required: [b, a]
properties:
  z: {type: integer}
  y: {type: integer}
`)
	diags := NewValidator(NewBundle()).Validate(n, decodeJSON(t, `{"y":"1","z":"2"}`), body)

	require.Len(t, diags, 4)
	assert.Equal(t, []string{"required", "required", "type", "type"}, diagnostic.Codes(diags))
	assert.Contains(t, diags[0].Message, "'b'")
	assert.Contains(t, diags[1].Message, "'a'")
	assert.Equal(t, []string{"body", "z"}, diags[2].Location)
	assert.Equal(t, []string{"body", "y"}, diags[3].Location)
}

func TestValidator_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		schema  string
		value   any
		code    string
		message string
	}{
		{"minimum", "{type: number, minimum: 1}", json.Number("0"), "minimum", "Request body must be >= 1"},
		{"maximum", "{type: number, maximum: 2.5}", json.Number("3"), "maximum", "Request body must be <= 2.5"},
		{"exclusive minimum boolean form", "{type: integer, minimum: 0, exclusiveMinimum: true}", json.Number("0"), "exclusiveMinimum", "Request body must be > 0"},
		{"exclusive maximum number form", "{type: integer, exclusiveMaximum: 10}", json.Number("10"), "exclusiveMaximum", "Request body must be < 10"},
		{"min length", "{type: string, minLength: 3}", "ab", "minLength", "Request body must NOT have fewer than 3 characters"},
		{"max length", "{type: string, maxLength: 2}", "abc", "maxLength", "Request body must NOT have more than 2 characters"},
		{"pattern", "{type: string, pattern: '^[a-z]+$'}", "A1", "pattern", `Request body must match pattern "^[a-z]+$"`},
		{"min items", "{type: array, minItems: 2}", []any{"a"}, "minItems", "Request body must NOT have fewer than 2 items"},
		{"max items", "{type: array, maxItems: 1}", []any{"a", "b"}, "maxItems", "Request body must NOT have more than 1 items"},
		{"type list", "{type: [string, integer]}", true, "type", "Request body must be string,integer"},
	}

	v := NewValidator(NewBundle())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := v.Validate(parseNode(t, tt.schema), tt.value, body)
			require.Len(t, diags, 1)
			assert.Equal(t, tt.code, diags[0].Code)
			assert.Equal(t, tt.message, diags[0].Message)
			assert.Equal(t, body, diags[0].Location)
		})
	}
}

func TestValidator_LengthCountsRunes(t *testing.T) {
	v := NewValidator(NewBundle())
	assert.Empty(t, v.Validate(parseNode(t, "{type: string, maxLength: 5}"), "héllo", body))
}

func TestValidator_Nullable(t *testing.T) {
	v := NewValidator(NewBundle())
	assert.Empty(t, v.Validate(parseNode(t, "{type: string, nullable: true}"), nil, body))

	diags := v.Validate(parseNode(t, "{type: string}"), nil, body)
	require.Len(t, diags, 1)
	assert.Equal(t, "type", diags[0].Code)
}

func TestValidator_TypeMismatchStopsNode(t *testing.T) {
	n := parseNode(t, "{type: integer, enum: [1, 2], minimum: 5}")
	diags := NewValidator(NewBundle()).Validate(n, "x", body)
	assert.Equal(t, []string{"type"}, diagnostic.Codes(diags))
}

func TestValidator_EnumNumbers(t *testing.T) {
	n := parseNode(t, "{type: integer, enum: [1, 2]}")
	v := NewValidator(NewBundle())
	assert.Empty(t, v.Validate(n, json.Number("2"), body))

	diags := v.Validate(n, json.Number("3"), body)
	require.Len(t, diags, 1)
	assert.Equal(t, "Request body must be equal to one of the allowed values: 1, 2", diags[0].Message)
}

func TestValidator_AdditionalProperties(t *testing.T) {
	v := NewValidator(NewBundle())

	closed := parseNode(t, `
type: object
properties:
  a: {type: string}
additionalProperties: false
`)
	diags := v.Validate(closed, decodeJSON(t, `{"a":"x","c":1,"b":2}`), body)
	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.Equal(t, "additionalProperties", d.Code)
		assert.Equal(t, body, d.Location)
		assert.Equal(t, "Request body must NOT have additional properties", d.Message)
	}

	typed := parseNode(t, `
type: object
additionalProperties:
  type: integer
`)
	diags = v.Validate(typed, decodeJSON(t, `{"b":1,"a":"x"}`), body)
	require.Len(t, diags, 1)
	assert.Equal(t, []string{"body", "a"}, diags[0].Location)
}

func TestValidator_Items(t *testing.T) {
	n := parseNode(t, `
type: object
properties:
  tags:
    type: array
    items: {type: string}
`)
	diags := NewValidator(NewBundle()).Validate(n, decodeJSON(t, `{"tags":["a",1]}`), body)

	require.Len(t, diags, 1)
	assert.Equal(t, []string{"body", "tags", "1"}, diags[0].Location)
	assert.Equal(t, "Request body property tags.1 must be string", diags[0].Message)
}

func TestValidator_Composition(t *testing.T) {
	v := NewValidator(NewBundle())

	anyOf := parseNode(t, "{anyOf: [{type: integer}, {type: boolean}]}")
	assert.Empty(t, v.Validate(anyOf, true, body))
	diags := v.Validate(anyOf, "x", body)
	require.Len(t, diags, 1)
	assert.Equal(t, "Request body must match a schema in anyOf", diags[0].Message)

	oneOf := parseNode(t, "{oneOf: [{type: string}, {type: string, maxLength: 3}]}")
	assert.Empty(t, v.Validate(oneOf, "abcdef", body))
	diags = v.Validate(oneOf, "ab", body)
	require.Len(t, diags, 1)
	assert.Equal(t, "oneOf", diags[0].Code)

	allOf := parseNode(t, "{allOf: [{type: object, required: [a]}, {type: object, required: [b]}]}")
	diags = v.Validate(allOf, map[string]any{}, body)
	assert.Equal(t, []string{"required", "required"}, diagnostic.Codes(diags))
}

func TestValidator_FormCoercion(t *testing.T) {
	n := parseNode(t, `
type: object
properties:
  id:
    type: integer
  status:
    type: string
    enum: [open, close]
required: [id, status]
`)
	v := NewValidator(NewBundle(), WithCoercion(true))

	diags := v.Validate(n, map[string]any{"success": "false"}, body)
	require.Len(t, diags, 2)
	assert.Equal(t, "Request body must have required property 'id'", diags[0].Message)
	assert.Equal(t, "Request body must have required property 'status'", diags[1].Message)

	input := map[string]any{"id": "not integer", "status": "somerundomestuff"}
	diags = v.Validate(n, input, body)
	require.Len(t, diags, 2)
	assert.Equal(t, "type", diags[0].Code)
	assert.Equal(t, []string{"body", "id"}, diags[0].Location)
	assert.Equal(t, "Request body property id must be integer", diags[0].Message)
	assert.Equal(t, "enum", diags[1].Code)
	assert.Equal(t,
		"Request body property status must be equal to one of the allowed values: open, close",
		diags[1].Message)

	input = map[string]any{"id": "123", "status": "open"}
	assert.Empty(t, v.Validate(n, input, body))
	assert.Equal(t, "123", input["id"], "input must not be modified")

	strict := NewValidator(NewBundle())
	assert.Len(t, strict.Validate(n, input, body), 1)
}

func TestValidator_ResponseSubject(t *testing.T) {
	v := NewValidator(NewBundle(), WithSubject(SubjectResponse))
	diags := v.Validate(parseNode(t, orderSchema), map[string]any{}, body)
	require.Len(t, diags, 1)
	assert.Equal(t, "Response body must have required property 'id'", diags[0].Message)
}

func TestValidator_ConcurrentUse(t *testing.T) {
	b, root := cyclicBundle(t)
	v := NewValidator(b)
	value := decodeJSON(t, `{"id":1,"self":{"id":2,"self":{}}}`)

	done := make(chan []diagnostic.Diagnostic, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- v.Validate(root, value, body)
		}()
	}
	for i := 0; i < 8; i++ {
		diags := <-done
		require.Len(t, diags, 1)
		assert.Equal(t, []string{"body", "self", "self"}, diags[0].Location)
	}
}
