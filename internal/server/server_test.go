package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prabodh-fiddler/prism/internal/contract"
	"github.com/prabodh-fiddler/prism/internal/diagnostic"
	"github.com/prabodh-fiddler/prism/internal/logging"
	"github.com/prabodh-fiddler/prism/internal/observability"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	ops, err := contract.Load("testdata/operations.yaml", contract.FormatPrism)
	if err != nil {
		t.Fatalf("load contract: %v", err)
	}
	catalog, err := contract.NewCatalog(ops...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	srv, err := New(catalog, opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func do(srv http.Handler, method, path, contentType, payload string) *httptest.ResponseRecorder {
	var reader io.Reader
	if payload != "" {
		reader = strings.NewReader(payload)
	}
	req := httptest.NewRequest(method, "http://prism.test"+path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

type problemBody struct {
	Type       string                  `json:"type"`
	Title      string                  `json:"title"`
	Status     int                     `json:"status"`
	Validation []diagnostic.Diagnostic `json:"validation"`
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problemBody {
	t.Helper()
	var p problemBody
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem %q: %v", rec.Body.String(), err)
	}
	return p
}

func TestInvalidBodyReturns422(t *testing.T) {
	srv := newTestServer(t, Options{})

	cases := []struct {
		name     string
		path     string
		payload  string
		code     string
		location []string
		message  string
	}{
		{
			name:     "type mismatch",
			path:     "/json-body-required",
			payload:  `{"id":"string"}`,
			code:     "type",
			location: []string{"body", "id"},
			message:  "Request body property id must be integer",
		},
		{
			name:     "enum mismatch",
			path:     "/json-body-required",
			payload:  `{"status":"string"}`,
			code:     "enum",
			location: []string{"body", "status"},
			message:  "Request body property status must be equal to one of the allowed values: placed, approved, delivered",
		},
		{
			name:     "missing property",
			path:     "/json-body-property-required",
			payload:  `{}`,
			code:     "required",
			location: []string{"body"},
			message:  "Request body must have required property 'id'",
		},
		{
			name:     "circular schema",
			path:     "/json-body-circular-property-required",
			payload:  `{"id":123,"self":{}}`,
			code:     "required",
			location: []string{"body", "self"},
			message:  "Request body property self must have required property 'id'",
		},
		{
			name:     "catch-all content",
			path:     "/json-body-no-request-content-type",
			payload:  `{"id":"string"}`,
			code:     "type",
			location: []string{"body", "id"},
			message:  "Request body property id must be integer",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, tc.path, "application/json", tc.payload)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != problemJSON {
				t.Fatalf("expected problem content type, got %q", ct)
			}
			p := decodeProblem(t, rec)
			if p.Type != "https://stoplight.io/prism/errors#UNPROCESSABLE_ENTITY" {
				t.Fatalf("unexpected type %q", p.Type)
			}
			if p.Status != http.StatusUnprocessableEntity {
				t.Fatalf("unexpected status %d", p.Status)
			}
			if len(p.Validation) != 1 {
				t.Fatalf("expected 1 diagnostic, got %v", p.Validation)
			}
			d := p.Validation[0]
			if d.Code != tc.code || d.Message != tc.message || d.Severity != diagnostic.SeverityError {
				t.Fatalf("unexpected diagnostic %+v", d)
			}
			if strings.Join(d.Location, ".") != strings.Join(tc.location, ".") {
				t.Fatalf("expected location %v, got %v", tc.location, d.Location)
			}
		})
	}
}

func TestRequiredBodyMissing(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv, http.MethodPost, "/json-body-required", "", "")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	p := decodeProblem(t, rec)
	if len(p.Validation) != 1 || p.Validation[0].Message != "Body parameter is required" {
		t.Fatalf("unexpected validation %v", p.Validation)
	}
}

func TestValidBodies(t *testing.T) {
	srv := newTestServer(t, Options{})

	cases := []struct {
		name        string
		method      string
		path        string
		contentType string
		payload     string
	}{
		{"optional body absent", http.MethodPost, "/json-body-optional", "", ""},
		{"suffix content type", http.MethodPost, "/json-body-required", "application/vnd1+json", `{"id":100,"status":"placed"}`},
		{"no body contract with json header", http.MethodGet, "/empty-body", "application/json", ""},
		{"form body", http.MethodPost, "/path", "application/x-www-form-urlencoded", "id=123&status=open"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(srv, tc.method, tc.path, tc.contentType, tc.payload)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEmptyBodyWithContentLengthZero(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, ct := range []string{"text/plain", "application/json"} {
		req := httptest.NewRequest(http.MethodGet, "http://prism.test/empty-body", nil)
		req.Header.Set("Content-Type", ct)
		req.Header.Set("Content-Length", "0")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", ct, rec.Code)
		}
	}
}

func TestMockServesExample(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv, http.MethodGet, "/empty-body", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("expected example body, got %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestFormBodyDiagnostics(t *testing.T) {
	srv := newTestServer(t, Options{})
	ct := "application/x-www-form-urlencoded"

	rec := do(srv, http.MethodPost, "/path", ct, "success=false")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	p := decodeProblem(t, rec)
	if len(p.Validation) != 2 {
		t.Fatalf("expected 2 diagnostics, got %v", p.Validation)
	}
	if p.Validation[0].Message != "Request body must have required property 'id'" ||
		p.Validation[1].Message != "Request body must have required property 'status'" {
		t.Fatalf("unexpected messages %v", p.Validation)
	}

	rec = do(srv, http.MethodPost, "/path", ct, "id=not+integer&status=somerundomestuff")
	p = decodeProblem(t, rec)
	if len(p.Validation) != 2 || p.Validation[0].Code != "type" || p.Validation[1].Code != "enum" {
		t.Fatalf("unexpected diagnostics %v", p.Validation)
	}
}

func TestTooLargeReturns413(t *testing.T) {
	srv := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodPost, "http://prism.test/json-body-required", strings.NewReader("A"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", "524288001")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	want := `{"error":{"code":"request_entity_too_large","message":"Body exceeded 10mb limit"}}`
	if rec.Body.String() != want {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestTooLargeStreamedBody(t *testing.T) {
	srv := newTestServer(t, Options{MaxBodyBytes: 1 << 10})
	rec := do(srv, http.MethodPost, "/json-body-required", "application/json", strings.Repeat("A", 1<<10+1))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Body exceeded 1kb limit") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestUnsupportedContentType(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(srv, http.MethodPost, "/json-body-optional", "application/xml", "some xml")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	p := decodeProblem(t, rec)
	if p.Type != "https://stoplight.io/prism/errors#INVALID_CONTENT_TYPE" {
		t.Fatalf("unexpected type %q", p.Type)
	}

	rec = do(srv, http.MethodPost, "/json-body-property-required-with-custom-415", "application/csv", "type,name\nfoo,foobar")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	if rec.Body.String() != `{"type":"foo"}` {
		t.Fatalf("expected custom example, got %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
}

func TestDeclared422Example(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv, http.MethodPost, "/custom-422", "application/json", `{}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if rec.Body.String() != `{"message":"custom 422"}` {
		t.Fatalf("expected declared example, got %s", rec.Body.String())
	}

	rec = do(srv, http.MethodPost, "/custom-422", "application/json", `{"id":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
}

func TestUnmatchedRoutes(t *testing.T) {
	srv := newTestServer(t, Options{})

	rec := do(srv, http.MethodGet, "/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "https://stoplight.io/prism/errors#NO_PATH_MATCHED_ERROR" {
		t.Fatalf("unexpected type %q", p.Type)
	}

	rec = do(srv, http.MethodDelete, "/path", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "https://stoplight.io/prism/errors#NO_METHOD_MATCHED_ERROR" {
		t.Fatalf("unexpected type %q", p.Type)
	}
}

func TestResponseViolationsHeader(t *testing.T) {
	srv := newTestServer(t, Options{ValidateResponses: true})
	rec := do(srv, http.MethodGet, "/pets/1", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	raw := rec.Header().Get(violationsHeader)
	if raw == "" {
		t.Fatalf("expected %s header", violationsHeader)
	}
	var diags []diagnostic.Diagnostic
	if err := json.Unmarshal([]byte(raw), &diags); err != nil {
		t.Fatalf("decode violations: %v", err)
	}
	if len(diags) != 2 {
		t.Fatalf("expected 2 violations, got %v", diags)
	}
	if diags[0].Code != "required" || diags[1].Code != "type" {
		t.Fatalf("unexpected violations %v", diags)
	}
	if diags[1].Message != "Response body property id must be integer" {
		t.Fatalf("unexpected message %q", diags[1].Message)
	}

	plain := newTestServer(t, Options{})
	rec = do(plain, http.MethodGet, "/pets/1", "", "")
	if rec.Header().Get(violationsHeader) != "" {
		t.Fatalf("expected no violations header without response validation")
	}
}

func TestSkipRequestValidation(t *testing.T) {
	srv := newTestServer(t, Options{SkipRequestValidation: true})
	rec := do(srv, http.MethodPost, "/json-body-required", "application/json", `{"id":"string"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Options{CORS: true})
	req := httptest.NewRequest(http.MethodGet, "http://prism.test/empty-body", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

type brokenBody struct{}

func (brokenBody) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestReadErrorReturns400(t *testing.T) {
	srv := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "http://prism.test/json-body-required", nil)
	req.Body = io.NopCloser(brokenBody{})
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDecisionsAreLoggedAndCounted(t *testing.T) {
	srv := newTestServer(t, Options{})
	var buf bytes.Buffer
	srv.SetDecisionLogger(logging.NewDecisionLogger(&buf))
	reg := prometheus.NewRegistry()
	srv.SetMetrics(observability.NewMetrics(reg))

	do(srv, http.MethodPost, "/json-body-required", "application/json", `{"id":"string"}`)
	do(srv, http.MethodGet, "/nope", "", "")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(lines))
	}

	var first logging.Decision
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if first.Operation != "json-body-required" || first.Outcome != "invalid" || first.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected decision %+v", first)
	}
	if first.RequestID == "" || len(first.Diagnostics) != 1 {
		t.Fatalf("expected request id and diagnostics, got %+v", first)
	}

	var second logging.Decision
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if second.Operation != "" || second.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected decision %+v", second)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "prism_requests_total" {
			found = len(family.GetMetric()) == 2
		}
	}
	if !found {
		t.Fatalf("expected two request series")
	}
}
