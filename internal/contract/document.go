package contract

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/prabodh-fiddler/prism/internal/schema"
)

// document is the native contract format: a list of operations with inline
// schemas, plus shared component schemas. JSON documents parse as YAML.
type document struct {
	Operations []operationDoc `yaml:"operations"`
	Components struct {
		Schemas map[string]*schema.Node `yaml:"schemas"`
	} `yaml:"components"`
}

type operationDoc struct {
	ID        string                  `yaml:"id"`
	Method    string                  `yaml:"method"`
	Path      string                  `yaml:"path"`
	Request   *requestDoc             `yaml:"request"`
	Responses []responseDoc           `yaml:"responses"`
	Bundled   map[string]*schema.Node `yaml:"__bundled__"`
}

type requestDoc struct {
	Body    *bodyDoc       `yaml:"body"`
	Headers []parameterDoc `yaml:"headers"`
	Query   []parameterDoc `yaml:"query"`
	Cookie  []parameterDoc `yaml:"cookie"`
	Path    []parameterDoc `yaml:"path"`
}

type parameterDoc struct {
	Name     string       `yaml:"name"`
	Required bool         `yaml:"required"`
	Schema   *schema.Node `yaml:"schema"`
}

type bodyDoc struct {
	Required bool         `yaml:"required"`
	Contents []contentDoc `yaml:"contents"`
}

type contentDoc struct {
	MediaType string        `yaml:"mediaType"`
	Schema    *schema.Node  `yaml:"schema"`
	Examples  []exampleDoc  `yaml:"examples"`
	Encodings []encodingDoc `yaml:"encodings"`
}

type exampleDoc struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

type encodingDoc struct {
	Property    string `yaml:"property"`
	ContentType string `yaml:"contentType"`
}

type responseDoc struct {
	Code     string         `yaml:"code"`
	Headers  []parameterDoc `yaml:"headers"`
	Contents []contentDoc   `yaml:"contents"`
}

// ParseDocument builds operations from a native contract document. Every
// operation gets its own bundle holding the shared components and its
// bundled fragments, and every reference must resolve.
func ParseDocument(data []byte) ([]*Operation, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse contract document: %w", err)
	}

	shared := schema.NewBundle()
	for name, n := range doc.Components.Schemas {
		shared.Add(schema.Pointer("components", "schemas", name), n)
	}

	v := &ValidationError{}
	ops := make([]*Operation, 0, len(doc.Operations))
	for i, raw := range doc.Operations {
		op := raw.build(shared)
		if problems := op.check(); len(problems) > 0 {
			for _, p := range problems {
				v.Add("operations[%d]: %s", i, p)
			}
			continue
		}
		if err := op.Schemas.Prepare(op.roots()...); err != nil {
			v.Add("operations[%d] %s: %v", i, op.Key(), err)
			continue
		}
		ops = append(ops, op)
	}

	if err := v.result(); err != nil {
		return nil, err
	}
	return ops, nil
}

func (raw operationDoc) build(shared *schema.Bundle) *Operation {
	bundled := schema.NewBundle()
	for name, n := range raw.Bundled {
		bundled.Add(schema.Pointer("__bundled__", name), n)
	}

	op := &Operation{
		ID:      raw.ID,
		Method:  strings.ToUpper(raw.Method),
		Path:    raw.Path,
		Schemas: shared.With(bundled),
	}
	if raw.Request != nil {
		op.Request = &Request{
			Headers: buildParameters(raw.Request.Headers),
			Query:   buildParameters(raw.Request.Query),
			Cookie:  buildParameters(raw.Request.Cookie),
			Path:    buildParameters(raw.Request.Path),
		}
		if raw.Request.Body != nil {
			op.Request.Body = &Body{
				Required: raw.Request.Body.Required,
				Contents: buildContents(raw.Request.Body.Contents),
			}
		}
	}
	for _, r := range raw.Responses {
		op.Responses = append(op.Responses, &Response{
			Code:     r.Code,
			Headers:  buildParameters(r.Headers),
			Contents: buildContents(r.Contents),
		})
	}
	return op
}

func buildParameters(raw []parameterDoc) []Parameter {
	if len(raw) == 0 {
		return nil
	}
	out := make([]Parameter, len(raw))
	for i, p := range raw {
		out[i] = Parameter{Name: p.Name, Required: p.Required, Schema: p.Schema}
	}
	return out
}

func buildContents(raw []contentDoc) []*Content {
	out := make([]*Content, 0, len(raw))
	for _, c := range raw {
		content := &Content{MediaType: c.MediaType, Schema: c.Schema}
		for _, ex := range c.Examples {
			content.Examples = append(content.Examples, Example{Key: ex.Key, Value: normalizeYAML(ex.Value)})
		}
		for _, enc := range c.Encodings {
			content.Encodings = append(content.Encodings, Encoding{Property: enc.Property, ContentType: enc.ContentType})
		}
		out = append(out, content)
	}
	return out
}

// normalizeYAML turns the map[any]any values some YAML mappings decode to
// into map[string]any so examples can be encoded as JSON.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
