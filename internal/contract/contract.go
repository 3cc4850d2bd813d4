// Package contract holds the operation contracts that requests are validated
// against, and loads them from prism documents or OpenAPI 3.x descriptions.
package contract

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/prabodh-fiddler/prism/internal/schema"
)

type Operation struct {
	ID        string
	Method    string
	Path      string
	Request   *Request
	Responses []*Response

	// Schemas is the arena that references in this operation point into. It
	// holds the document's components and the operation's bundled fragments.
	Schemas *schema.Bundle
}

type Request struct {
	Body    *Body
	Headers []Parameter
	Query   []Parameter
	Cookie  []Parameter
	Path    []Parameter
}

// Parameter is carried for completeness; only bodies are validated.
type Parameter struct {
	Name     string
	Required bool
	Schema   *schema.Node
}

type Body struct {
	Required bool
	Contents []*Content
}

// Content is one declared media type. An empty MediaType is the catch-all and
// a nil Schema accepts any payload.
type Content struct {
	MediaType string
	Schema    *schema.Node
	Examples  []Example
	Encodings []Encoding
}

type Example struct {
	Key   string
	Value any
}

type Encoding struct {
	Property    string
	ContentType string
}

type Response struct {
	Code     string
	Headers  []Parameter
	Contents []*Content
}

// Body returns the request body contract, or nil when none is declared.
func (op *Operation) Body() *Body {
	if op == nil || op.Request == nil {
		return nil
	}
	return op.Request.Body
}

// Response returns the response declared with exactly code ("415", "default").
func (op *Operation) Response(code string) *Response {
	if op == nil {
		return nil
	}
	for _, r := range op.Responses {
		if strings.EqualFold(r.Code, code) {
			return r
		}
	}
	return nil
}

// MatchResponse picks the response for an actual status: the exact code, then
// its range ("4XX"), then default.
func (op *Operation) MatchResponse(status int) *Response {
	code := strconv.Itoa(status)
	if r := op.Response(code); r != nil {
		return r
	}
	if r := op.Response(code[:1] + "XX"); r != nil {
		return r
	}
	return op.Response("default")
}

// SuccessResponse picks the response a mock serves for a valid request: the
// lowest declared 2xx code, then default, then the first declared response.
func (op *Operation) SuccessResponse() (*Response, int) {
	if op == nil || len(op.Responses) == 0 {
		return nil, http.StatusOK
	}

	var codes []int
	byCode := map[int]*Response{}
	for _, r := range op.Responses {
		status, err := strconv.Atoi(r.Code)
		if err != nil || status < 200 || status > 299 {
			continue
		}
		if _, dup := byCode[status]; !dup {
			codes = append(codes, status)
			byCode[status] = r
		}
	}
	if len(codes) > 0 {
		sort.Ints(codes)
		return byCode[codes[0]], codes[0]
	}

	if r := op.Response("default"); r != nil {
		return r, http.StatusOK
	}

	first := op.Responses[0]
	if status, err := strconv.Atoi(first.Code); err == nil {
		return first, status
	}
	return first, http.StatusOK
}

// Example returns the first example of the first content that carries one.
func (r *Response) Example() (*Content, Example, bool) {
	if r == nil {
		return nil, Example{}, false
	}
	for _, c := range r.Contents {
		if len(c.Examples) > 0 {
			return c, c.Examples[0], true
		}
	}
	return nil, Example{}, false
}

// roots lists every schema root declared by the operation.
func (op *Operation) roots() []*schema.Node {
	var out []*schema.Node
	if body := op.Body(); body != nil {
		for _, c := range body.Contents {
			out = append(out, c.Schema)
		}
	}
	if op.Request != nil {
		for _, group := range [][]Parameter{op.Request.Headers, op.Request.Query, op.Request.Cookie, op.Request.Path} {
			for _, p := range group {
				out = append(out, p.Schema)
			}
		}
	}
	for _, r := range op.Responses {
		for _, c := range r.Contents {
			out = append(out, c.Schema)
		}
		for _, h := range r.Headers {
			out = append(out, h.Schema)
		}
	}
	return out
}

// Key identifies an operation by method and path template.
func (op *Operation) Key() string {
	return strings.ToUpper(op.Method) + " " + op.Path
}

// Name is the operation id, or the key when no id is declared.
func (op *Operation) Name() string {
	if op.ID != "" {
		return op.ID
	}
	return op.Key()
}
