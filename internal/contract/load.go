package contract

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatAuto    Format = ""
	FormatPrism   Format = "prism"
	FormatOpenAPI Format = "openapi"
)

// ValidationError lists every structural problem found in a contract source.
// A source with problems is rejected as a whole.
type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	if len(v.Problems) == 1 {
		return "invalid contract: " + v.Problems[0]
	}
	return fmt.Sprintf("invalid contract: %d problem(s)", len(v.Problems))
}

func (v *ValidationError) result() error {
	if len(v.Problems) == 0 {
		return nil
	}
	sort.Strings(v.Problems)
	return v
}

var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

func (op *Operation) check() []string {
	var problems []string
	if _, ok := methods[op.Method]; !ok {
		problems = append(problems, fmt.Sprintf("method %q is not supported", op.Method))
	}
	if !strings.HasPrefix(op.Path, "/") {
		problems = append(problems, fmt.Sprintf("path %q must start with /", op.Path))
	}
	if body := op.Body(); body != nil {
		seen := map[string]struct{}{}
		for _, c := range body.Contents {
			key := strings.ToLower(c.MediaType)
			if _, dup := seen[key]; dup {
				problems = append(problems, fmt.Sprintf("request body media type %q is duplicated", c.MediaType))
			}
			seen[key] = struct{}{}
		}
	}
	for _, r := range op.Responses {
		if r.Code == "" {
			problems = append(problems, "response code is required")
		}
	}
	return problems
}

// Load reads one contract file. FormatAuto picks OpenAPI when the document
// carries a top level openapi field.
func Load(path string, format Format) ([]*Operation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}

	if format == FormatAuto {
		format = detect(data)
	}

	var ops []*Operation
	switch format {
	case FormatPrism:
		ops, err = ParseDocument(data)
	case FormatOpenAPI:
		ops, err = ParseOpenAPI(data)
	default:
		return nil, fmt.Errorf("contract %s: unknown format %q", path, format)
	}
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", path, err)
	}
	return ops, nil
}

func detect(data []byte) Format {
	var probe struct {
		OpenAPI string `yaml:"openapi"`
	}
	if err := yaml.Unmarshal(bytes.TrimSpace(data), &probe); err == nil && probe.OpenAPI != "" {
		return FormatOpenAPI
	}
	return FormatPrism
}

// Catalog is the read-only set of operations served by one process.
type Catalog struct {
	ops   []*Operation
	byKey map[string]*Operation
}

// NewCatalog indexes operations by method and path. Two operations on the
// same method and path are a configuration error.
func NewCatalog(ops ...*Operation) (*Catalog, error) {
	c := &Catalog{byKey: map[string]*Operation{}}
	v := &ValidationError{}
	for _, op := range ops {
		key := op.Key()
		if _, dup := c.byKey[key]; dup {
			v.Add("operation %s is declared more than once", key)
			continue
		}
		c.byKey[key] = op
		c.ops = append(c.ops, op)
	}
	if err := v.result(); err != nil {
		return nil, err
	}
	return c, nil
}

// Operations returns operations in load order.
func (c *Catalog) Operations() []*Operation {
	return c.ops
}

func (c *Catalog) Lookup(method, path string) (*Operation, bool) {
	op, ok := c.byKey[strings.ToUpper(method)+" "+path]
	return op, ok
}

func (c *Catalog) Len() int {
	return len(c.ops)
}
