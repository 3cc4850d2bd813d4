// Package server exposes a contract catalog over HTTP. Each declared
// operation validates its request body and, when valid, answers with the
// pinned example of its success response.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/prabodh-fiddler/prism/internal/contract"
	"github.com/prabodh-fiddler/prism/internal/diagnostic"
	"github.com/prabodh-fiddler/prism/internal/logging"
	"github.com/prabodh-fiddler/prism/internal/observability"
	"github.com/prabodh-fiddler/prism/internal/validation"
)

const requestIDHeader = "X-Request-Id"

type Options struct {
	// MaxBodyBytes is the request body ceiling. Zero selects the default.
	MaxBodyBytes int64

	// SkipRequestValidation serves the mock without looking at the body.
	SkipRequestValidation bool
	ValidateResponses     bool

	CORS           bool
	AllowedOrigins []string

	Logger *slog.Logger
}

type Server struct {
	catalog   *contract.Catalog
	validator *validation.Validator
	opts      Options
	router    chi.Router
	logger    *slog.Logger

	decisionLog *logging.DecisionLogger
	metrics     *observability.Metrics
}

func New(catalog *contract.Catalog, opts Options) (*Server, error) {
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		catalog:   catalog,
		validator: validation.New(validation.WithLimit(opts.MaxBodyBytes)),
		opts:      opts,
		router:    chi.NewRouter(),
		logger:    logger,
	}
	s.routes()
	return s, nil
}

func (s *Server) SetDecisionLogger(logger *logging.DecisionLogger) {
	s.decisionLog = logger
}

func (s *Server) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *Server) Validator() *validation.Validator {
	return s.validator
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.CleanPath)
	if s.opts.CORS {
		origins := s.opts.AllowedOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD", "TRACE"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{violationsHeader, requestIDHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	for _, op := range s.catalog.Operations() {
		s.router.MethodFunc(strings.ToUpper(op.Method), op.Path, s.handleOperation(op))
	}

	s.router.NotFound(s.handleUnmatched(http.StatusNotFound))
	s.router.MethodNotAllowed(s.handleUnmatched(http.StatusMethodNotAllowed))
}

func (s *Server) handleOperation(op *contract.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		decision := s.newDecision(r)
		decision.Operation = op.Name()
		w.Header().Set(requestIDHeader, decision.RequestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if s.opts.SkipRequestValidation {
			decision.Outcome = validation.OutcomeValid.String()
			decision.ResponseViolations = s.serveMock(rec, op)
			decision.StatusCode = rec.status
			s.writeDecision(decision, start)
			return
		}

		res, err := s.validator.ValidateRequest(r.Context(), op, r.Header, r.Body)
		if err != nil {
			decision.Outcome = "error"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				decision.StatusCode = 499
				s.writeDecision(decision, start)
				return
			}
			s.logger.Warn("request body read failed", "operation", op.Name(), "request_id", decision.RequestID, "error", err)
			writeProblem(rec, problem{
				Type:   errorType("BAD_REQUEST"),
				Title:  "Unable to read the request body",
				Status: http.StatusBadRequest,
				Detail: err.Error(),
			})
			decision.StatusCode = rec.status
			s.writeDecision(decision, start)
			return
		}

		decision.Outcome = res.Outcome.String()
		decision.ContentType = res.ContentType
		decision.BodyBytes = res.BodyBytes
		decision.Diagnostics = res.Diagnostics

		switch res.Outcome {
		case validation.OutcomeInvalid:
			s.writeInvalid(rec, op, res.Diagnostics)
		case validation.OutcomeTooLarge:
			writeTooLarge(rec, res.Limit)
		case validation.OutcomeUnsupported:
			s.writeUnsupported(rec, op, res.ContentType)
		default:
			decision.ResponseViolations = s.serveMock(rec, op)
		}

		decision.StatusCode = rec.status
		s.writeDecision(decision, start)
	}
}

func (s *Server) handleUnmatched(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		decision := s.newDecision(r)
		w.Header().Set(requestIDHeader, decision.RequestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if status == http.StatusMethodNotAllowed {
			writeProblem(rec, problem{
				Type:   errorType("NO_METHOD_MATCHED_ERROR"),
				Title:  "Route resolved, but no method matched",
				Status: http.StatusMethodNotAllowed,
				Detail: "The route " + r.URL.Path + " has been matched, but it does not have \"" + strings.ToLower(r.Method) + "\" method defined",
			})
		} else {
			writeProblem(rec, problem{
				Type:   errorType("NO_PATH_MATCHED_ERROR"),
				Title:  "Route not resolved, no path matched",
				Status: http.StatusNotFound,
				Detail: "The route " + r.URL.Path + " hasn't been found in the contract document",
			})
		}

		decision.StatusCode = rec.status
		s.writeDecision(decision, start)
	}
}

func (s *Server) newDecision(r *http.Request) logging.Decision {
	return logging.Decision{
		Timestamp: time.Now().UTC(),
		RequestID: uuid.NewString(),
		ClientIP:  clientIP(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     r.URL.RawQuery,
	}
}

func (s *Server) writeDecision(decision logging.Decision, start time.Time) {
	decision.DurationMS = time.Since(start).Milliseconds()
	if s.decisionLog != nil {
		if err := s.decisionLog.Write(decision); err != nil {
			s.logger.Error("decision log write failed", "request_id", decision.RequestID, "error", err)
		}
	}
	s.metrics.Observe(decision)
}

// checkResponse validates a produced mock when response validation is on and
// reports the findings in the violations header.
func (s *Server) checkResponse(w http.ResponseWriter, op *contract.Operation, status int, contentType string, data []byte) []diagnostic.Diagnostic {
	if !s.opts.ValidateResponses {
		return nil
	}
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	res := s.validator.ValidateResponse(op, status, header, data)
	if len(res.Diagnostics) > 0 {
		w.Header().Set(violationsHeader, diagnostic.Header(res.Diagnostics))
	}
	return res.Diagnostics
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
