package contract

import (
	"fmt"
	"strings"

	"github.com/pb33f/libopenapi"
	"github.com/pb33f/libopenapi/datamodel/high/base"
	v3 "github.com/pb33f/libopenapi/datamodel/high/v3"
	"github.com/pb33f/libopenapi/orderedmap"
	"go.yaml.in/yaml/v4"

	"github.com/prabodh-fiddler/prism/internal/schema"
)

// ParseOpenAPI converts an OpenAPI 3.x description into operations. Component
// schemas are shared through the bundle under #/components/schemas/<name>;
// references anywhere else stay references and are resolved lazily.
func ParseOpenAPI(data []byte) ([]*Operation, error) {
	doc, err := libopenapi.NewDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse OpenAPI document: %w", err)
	}

	version := doc.GetVersion()
	if !strings.HasPrefix(version, "3.") {
		return nil, fmt.Errorf("unsupported OpenAPI version: %s (only 3.x supported)", version)
	}

	model, err := doc.BuildV3Model()
	if err != nil {
		return nil, fmt.Errorf("build OpenAPI model: %w", err)
	}

	c := &converter{problems: &ValidationError{}}
	spec := model.Model

	shared := schema.NewBundle()
	if spec.Components != nil && spec.Components.Schemas != nil {
		for name, proxy := range spec.Components.Schemas.FromOldest() {
			shared.Add(schema.Pointer("components", "schemas", name), c.proxy(proxy))
		}
	}

	var ops []*Operation
	if spec.Paths != nil && spec.Paths.PathItems != nil {
		for path, item := range spec.Paths.PathItems.FromOldest() {
			for _, m := range pathOperations(item) {
				op := c.operation(m.method, path, item, m.op)
				op.Schemas = shared
				for _, p := range op.check() {
					c.problems.Add("%s: %s", op.Key(), p)
				}
				ops = append(ops, op)
			}
		}
	}
	if err := c.problems.result(); err != nil {
		return nil, err
	}

	if err := shared.Prepare(rootsOf(ops)...); err != nil {
		return nil, err
	}
	return ops, nil
}

type methodOperation struct {
	method string
	op     *v3.Operation
}

func pathOperations(item *v3.PathItem) []methodOperation {
	all := []methodOperation{
		{"GET", item.Get},
		{"PUT", item.Put},
		{"POST", item.Post},
		{"DELETE", item.Delete},
		{"OPTIONS", item.Options},
		{"HEAD", item.Head},
		{"PATCH", item.Patch},
		{"TRACE", item.Trace},
	}
	out := all[:0]
	for _, m := range all {
		if m.op != nil {
			out = append(out, m)
		}
	}
	return out
}

func rootsOf(ops []*Operation) []*schema.Node {
	var out []*schema.Node
	for _, op := range ops {
		out = append(out, op.roots()...)
	}
	return out
}

type converter struct {
	problems *ValidationError
}

func (c *converter) operation(method, path string, item *v3.PathItem, src *v3.Operation) *Operation {
	op := &Operation{
		ID:      src.OperationId,
		Method:  method,
		Path:    path,
		Request: &Request{},
	}

	params := append([]*v3.Parameter{}, item.Parameters...)
	params = append(params, src.Parameters...)
	for _, p := range params {
		param := Parameter{Name: p.Name, Required: deref(p.Required), Schema: c.proxy(p.Schema)}
		switch strings.ToLower(p.In) {
		case "header":
			op.Request.Headers = append(op.Request.Headers, param)
		case "query":
			op.Request.Query = append(op.Request.Query, param)
		case "cookie":
			op.Request.Cookie = append(op.Request.Cookie, param)
		case "path":
			op.Request.Path = append(op.Request.Path, param)
		}
	}

	if src.RequestBody != nil {
		op.Request.Body = &Body{
			Required: deref(src.RequestBody.Required),
			Contents: c.contents(src.RequestBody.Content),
		}
	}

	if src.Responses != nil {
		if src.Responses.Codes != nil {
			for code, resp := range src.Responses.Codes.FromOldest() {
				op.Responses = append(op.Responses, c.response(code, resp))
			}
		}
		if src.Responses.Default != nil {
			op.Responses = append(op.Responses, c.response("default", src.Responses.Default))
		}
	}
	return op
}

func (c *converter) response(code string, src *v3.Response) *Response {
	resp := &Response{Code: code, Contents: c.contents(src.Content)}
	if src.Headers != nil {
		for name, h := range src.Headers.FromOldest() {
			resp.Headers = append(resp.Headers, Parameter{Name: name, Required: h.Required, Schema: c.proxy(h.Schema)})
		}
	}
	return resp
}

func (c *converter) contents(src *orderedmap.Map[string, *v3.MediaType]) []*Content {
	if src == nil {
		return nil
	}
	var out []*Content
	for mediaType, mt := range src.FromOldest() {
		content := &Content{MediaType: mediaType, Schema: c.proxy(mt.Schema)}
		if mt.Example != nil {
			content.Examples = append(content.Examples, Example{Key: "default", Value: c.value(mt.Example)})
		}
		if mt.Examples != nil {
			for key, ex := range mt.Examples.FromOldest() {
				if ex == nil || ex.Value == nil {
					continue
				}
				content.Examples = append(content.Examples, Example{Key: key, Value: c.value(ex.Value)})
			}
		}
		if mt.Encoding != nil {
			for prop, enc := range mt.Encoding.FromOldest() {
				content.Encodings = append(content.Encodings, Encoding{Property: prop, ContentType: enc.ContentType})
			}
		}
		out = append(out, content)
	}
	return out
}

func (c *converter) value(n *yaml.Node) any {
	var v any
	if err := n.Decode(&v); err != nil {
		c.problems.Add("line %d: example: %v", n.Line, err)
		return nil
	}
	return normalizeYAML(v)
}

// proxy converts a schema without following references, so recursive
// components cost nothing here.
func (c *converter) proxy(p *base.SchemaProxy) *schema.Node {
	if p == nil {
		return nil
	}
	if p.IsReference() {
		return &schema.Node{Ref: p.GetReference()}
	}
	s := p.Schema()
	if s == nil {
		if err := p.GetBuildError(); err != nil {
			c.problems.Add("schema: %v", err)
		}
		return &schema.Node{}
	}
	return c.schema(s)
}

func (c *converter) schema(s *base.Schema) *schema.Node {
	n := &schema.Node{
		Nullable: deref(s.Nullable),
		Required: s.Required,
		Pattern:  s.Pattern,
		Minimum:  s.Minimum,
		Maximum:  s.Maximum,
	}
	for _, t := range s.Type {
		n.Types = append(n.Types, schema.Type(t))
	}

	if s.Properties != nil {
		for name, prop := range s.Properties.FromOldest() {
			n.Properties = append(n.Properties, schema.Property{Name: name, Schema: c.proxy(prop)})
		}
	}
	if s.Items != nil && s.Items.IsA() {
		n.Items = c.proxy(s.Items.A)
	}
	if s.AdditionalProperties != nil {
		if s.AdditionalProperties.IsA() {
			n.AdditionalProperties = c.proxy(s.AdditionalProperties.A)
		} else {
			n.DenyAdditional = !s.AdditionalProperties.B
		}
	}

	for _, e := range s.Enum {
		n.Enum = append(n.Enum, c.value(e))
	}

	if s.ExclusiveMinimum != nil {
		if s.ExclusiveMinimum.IsA() {
			if s.ExclusiveMinimum.A && n.Minimum != nil {
				n.ExclusiveMinimum, n.Minimum = n.Minimum, nil
			}
		} else {
			v := s.ExclusiveMinimum.B
			n.ExclusiveMinimum = &v
		}
	}
	if s.ExclusiveMaximum != nil {
		if s.ExclusiveMaximum.IsA() {
			if s.ExclusiveMaximum.A && n.Maximum != nil {
				n.ExclusiveMaximum, n.Maximum = n.Maximum, nil
			}
		} else {
			v := s.ExclusiveMaximum.B
			n.ExclusiveMaximum = &v
		}
	}

	n.MinLength = intPtr(s.MinLength)
	n.MaxLength = intPtr(s.MaxLength)
	n.MinItems = intPtr(s.MinItems)
	n.MaxItems = intPtr(s.MaxItems)

	for _, p := range s.AllOf {
		n.AllOf = append(n.AllOf, c.proxy(p))
	}
	for _, p := range s.AnyOf {
		n.AnyOf = append(n.AnyOf, c.proxy(p))
	}
	for _, p := range s.OneOf {
		n.OneOf = append(n.OneOf, c.proxy(p))
	}
	return n
}

func deref(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func intPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
