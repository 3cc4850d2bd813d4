// Package validation runs one message through the body pipeline: read under
// the ceiling, negotiate the content, decode and check it against the schema.
// Every request ends in exactly one Outcome.
package validation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prabodh-fiddler/prism/internal/body"
	"github.com/prabodh-fiddler/prism/internal/contract"
	"github.com/prabodh-fiddler/prism/internal/diagnostic"
	"github.com/prabodh-fiddler/prism/internal/mediatype"
	"github.com/prabodh-fiddler/prism/internal/schema"
)

type Outcome int

const (
	OutcomeValid Outcome = iota
	OutcomeInvalid
	OutcomeTooLarge
	OutcomeUnsupported
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeTooLarge:
		return "too_large"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Result is the classification of one message. Diagnostics is only populated
// for Invalid, except that Valid may carry warnings.
type Result struct {
	Outcome     Outcome
	Diagnostics []diagnostic.Diagnostic

	// ContentType is the header that was negotiated, or attempted when the
	// outcome is Unsupported.
	ContentType string
	Content     *contract.Content

	// Limit is the ceiling that was exceeded for TooLarge.
	Limit     int64
	BodyBytes int64
}

var bodyLocation = []string{"body"}

// Validator holds the per-process settings of the pipeline. It keeps no
// per-request state and is safe for concurrent use.
type Validator struct {
	limit int64
}

type Option func(*Validator)

// WithLimit sets the body ceiling in bytes. Non-positive values select
// body.DefaultLimit.
func WithLimit(limit int64) Option {
	return func(v *Validator) {
		v.limit = limit
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{limit: body.DefaultLimit}
	for _, opt := range opts {
		opt(v)
	}
	if v.limit <= 0 {
		v.limit = body.DefaultLimit
	}
	return v
}

func (v *Validator) Limit() int64 {
	return v.limit
}

// ValidateRequest classifies the request body of op. Only I/O failures and
// cancellation are returned as errors; every payload problem is a Result.
func (v *Validator) ValidateRequest(ctx context.Context, op *contract.Operation, header http.Header, r io.Reader) (Result, error) {
	if header == nil {
		header = http.Header{}
	}

	contractBody := op.Body()
	if contractBody == nil {
		n, err := body.Drain(ctx, r, v.limit)
		if errors.Is(err, body.ErrTooLarge) {
			return Result{Outcome: OutcomeTooLarge, Limit: v.limit, BodyBytes: n}, nil
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeValid, BodyBytes: n}, nil
	}

	payload, err := body.Read(ctx, r, header, v.limit)
	if err != nil {
		var tooLarge *body.TooLargeError
		if errors.As(err, &tooLarge) {
			return Result{Outcome: OutcomeTooLarge, Limit: tooLarge.Limit}, nil
		}
		return Result{}, err
	}

	res := Result{ContentType: payload.ContentType, BodyBytes: int64(len(payload.Data))}
	empty := payload.Empty()

	if empty && contractBody.Required {
		res.Outcome = OutcomeInvalid
		res.Diagnostics = []diagnostic.Diagnostic{{
			Code:     "required",
			Location: append([]string(nil), bodyLocation...),
			Message:  "Body parameter is required",
			Severity: diagnostic.SeverityError,
		}}
		return res, nil
	}
	if empty && strings.TrimSpace(payload.ContentType) == "" {
		res.Outcome = OutcomeValid
		return res, nil
	}

	match, ok := mediatype.Select(contractBody.Contents, mediatype.Request{
		Header:   payload.ContentType,
		Empty:    empty,
		Required: contractBody.Required,
	})
	if !ok {
		res.Outcome = OutcomeUnsupported
		return res, nil
	}
	res.Content = match.Content
	if match.Skip || empty {
		res.Outcome = OutcomeValid
		return res, nil
	}

	res.Diagnostics = check(op, match, payload.Data, schema.SubjectRequest)
	res.Outcome = outcomeOf(res.Diagnostics)
	return res, nil
}

// ValidateResponse checks a produced response against the declared response
// for status: the exact code, then its range, then default.
func (v *Validator) ValidateResponse(op *contract.Operation, status int, header http.Header, data []byte) Result {
	if header == nil {
		header = http.Header{}
	}
	res := Result{ContentType: header.Get("Content-Type"), BodyBytes: int64(len(data))}

	resp := op.MatchResponse(status)
	if resp == nil {
		res.Diagnostics = []diagnostic.Diagnostic{{
			Code:     "status",
			Location: []string{"status"},
			Message:  "Unable to match the returned status code " + strconv.Itoa(status) + " with those defined in the document: " + declaredCodes(op),
			Severity: diagnostic.SeverityWarning,
		}}
		return res
	}
	if len(resp.Contents) == 0 || len(data) == 0 {
		return res
	}

	match, ok := mediatype.Select(resp.Contents, mediatype.Request{Header: res.ContentType})
	if !ok {
		res.Outcome = OutcomeUnsupported
		return res
	}
	res.Content = match.Content
	if match.Skip {
		return res
	}

	res.Diagnostics = check(op, match, data, schema.SubjectResponse)
	res.Outcome = outcomeOf(res.Diagnostics)
	return res
}

func check(op *contract.Operation, match mediatype.Match, data []byte, subject string) []diagnostic.Diagnostic {
	if match.Content == nil || match.Content.Schema == nil {
		return nil
	}

	mediaType := match.MediaType
	if mediaType == "" {
		mediaType, _ = mediatype.Parse(match.Content.MediaType)
	}
	value, coerce, err := body.Decode(mediaType, match.Params, data)
	if err != nil {
		return []diagnostic.Diagnostic{{
			Code:     "unmarshal",
			Location: append([]string(nil), bodyLocation...),
			Message:  fmt.Sprintf("%s could not be parsed as %s: %v", subject, mediaType, errors.Unwrap(err)),
			Severity: diagnostic.SeverityError,
		}}
	}

	validator := schema.NewValidator(op.Schemas, schema.WithSubject(subject), schema.WithCoercion(coerce))
	return validator.Validate(match.Content.Schema, value, bodyLocation)
}

func outcomeOf(diags []diagnostic.Diagnostic) Outcome {
	if diagnostic.HasErrors(diags) {
		return OutcomeInvalid
	}
	return OutcomeValid
}

func declaredCodes(op *contract.Operation) string {
	codes := make([]string, 0, len(op.Responses))
	for _, r := range op.Responses {
		codes = append(codes, r.Code)
	}
	return strings.Join(codes, ",")
}
