package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/prabodh-fiddler/prism/internal/body"
	"github.com/prabodh-fiddler/prism/internal/contract"
	"github.com/prabodh-fiddler/prism/internal/diagnostic"
	"github.com/prabodh-fiddler/prism/internal/mediatype"
)

const (
	errorTypeBase    = "https://stoplight.io/prism/errors#"
	problemJSON      = "application/problem+json"
	violationsHeader = "sl-violations"
)

type problem struct {
	Type       string                  `json:"type"`
	Title      string                  `json:"title"`
	Status     int                     `json:"status"`
	Detail     string                  `json:"detail"`
	Validation []diagnostic.Diagnostic `json:"validation,omitempty"`
}

type tooLargeBody struct {
	Error tooLargeError `json:"error"`
}

type tooLargeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorType(code string) string {
	return errorTypeBase + code
}

func writeProblem(w http.ResponseWriter, p problem) {
	writeJSON(w, p.Status, problemJSON, p)
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "response encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeTooLarge(w http.ResponseWriter, limit int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, "application/json", tooLargeBody{
		Error: tooLargeError{
			Code:    "request_entity_too_large",
			Message: "Body exceeded " + body.FormatLimit(limit) + " limit",
		},
	})
}

// writeInvalid answers 422. A declared 422 response with an example wins over
// the generated problem document.
func (s *Server) writeInvalid(w http.ResponseWriter, op *contract.Operation, diags []diagnostic.Diagnostic) {
	if s.writeDeclared(w, op, http.StatusUnprocessableEntity) {
		return
	}
	writeProblem(w, problem{
		Type:       errorType("UNPROCESSABLE_ENTITY"),
		Title:      "Invalid request",
		Status:     http.StatusUnprocessableEntity,
		Detail:     "Your request is not valid and no HTTP validation response was found in the contract, so Prism is generating this error for you.",
		Validation: diagnostic.Errors(diags),
	})
}

func (s *Server) writeUnsupported(w http.ResponseWriter, op *contract.Operation, contentType string) {
	if s.writeDeclared(w, op, http.StatusUnsupportedMediaType) {
		return
	}

	var supported []string
	if b := op.Body(); b != nil {
		for _, c := range b.Contents {
			if c.MediaType != "" {
				supported = append(supported, c.MediaType)
			}
		}
	}
	writeProblem(w, problem{
		Type:   errorType("INVALID_CONTENT_TYPE"),
		Title:  "Invalid content type",
		Status: http.StatusUnsupportedMediaType,
		Detail: fmt.Sprintf("Content type %q is not supported. Supported content types: %s", contentType, strings.Join(supported, ", ")),
	})
}

// writeDeclared serves the first example of the response declared for status.
// It reports false when there is nothing to serve.
func (s *Server) writeDeclared(w http.ResponseWriter, op *contract.Operation, status int) bool {
	content, example, ok := op.Response(strconv.Itoa(status)).Example()
	if !ok {
		return false
	}
	data, contentType, err := encodeExample(content.MediaType, example.Value)
	if err != nil {
		s.logger.Warn("example encoding failed", "operation", op.Name(), "example", example.Key, "error", err)
		return false
	}
	writeRaw(w, status, contentType, data)
	return true
}

// serveMock answers a valid request with the success response and returns the
// response diagnostics when response validation is on.
func (s *Server) serveMock(w http.ResponseWriter, op *contract.Operation) []diagnostic.Diagnostic {
	resp, status := op.SuccessResponse()

	var (
		data        []byte
		contentType string
	)
	if content, example, ok := resp.Example(); ok {
		encoded, ct, err := encodeExample(content.MediaType, example.Value)
		if err != nil {
			s.logger.Warn("example encoding failed", "operation", op.Name(), "example", example.Key, "error", err)
		} else {
			data, contentType = encoded, ct
		}
	} else if resp != nil && len(resp.Contents) > 0 && concrete(resp.Contents[0].MediaType) {
		contentType = resp.Contents[0].MediaType
	}

	var diags []diagnostic.Diagnostic
	if resp != nil {
		diags = s.checkResponse(w, op, status, contentType, data)
	}
	writeRaw(w, status, contentType, data)
	return diags
}

func writeRaw(w http.ResponseWriter, status int, contentType string, data []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if len(data) > 0 {
		_, _ = w.Write(data)
	}
}

// encodeExample renders an example for the declared media type. Strings are
// written as is for non JSON types. Wildcard or empty media types fall back to
// JSON, or text/plain for string examples.
func encodeExample(mediaType string, value any) ([]byte, string, error) {
	base, _ := mediatype.Parse(mediaType)
	text, isString := value.(string)

	switch {
	case concrete(base) && mediatype.IsJSON(base):
		data, err := json.Marshal(value)
		return data, mediaType, err
	case concrete(base) && isString:
		return []byte(text), mediaType, nil
	case isString:
		return []byte(text), "text/plain", nil
	default:
		data, err := json.Marshal(value)
		if concrete(base) {
			return data, mediaType, err
		}
		return data, "application/json", err
	}
}

func concrete(mediaType string) bool {
	return mediaType != "" && !strings.Contains(mediaType, "*")
}
