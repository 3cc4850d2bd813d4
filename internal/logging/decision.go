package logging

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prabodh-fiddler/prism/internal/diagnostic"
)

const (
	maxMessage     = 256
	maxDiagnostics = 50
)

// Decision is written as a single JSON object per request.
type Decision struct {
	Timestamp          time.Time               `json:"ts"`
	RequestID          string                  `json:"request_id"`
	ClientIP           string                  `json:"client_ip"`
	Method             string                  `json:"method"`
	Path               string                  `json:"path"`
	Query              string                  `json:"query"`
	Operation          string                  `json:"operation"`
	Outcome            string                  `json:"outcome"`
	StatusCode         int                     `json:"status_code"`
	ContentType        string                  `json:"content_type,omitempty"`
	BodyBytes          int64                   `json:"body_bytes"`
	Diagnostics        []diagnostic.Diagnostic `json:"diagnostics"`
	ResponseViolations []diagnostic.Diagnostic `json:"response_violations,omitempty"`
	DurationMS         int64                   `json:"duration_ms"`
}

// DecisionLogger appends decisions as JSON lines. Writes are serialized so
// one logger can be shared by concurrent requests.
type DecisionLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDecisionLogger(w io.Writer) *DecisionLogger {
	return &DecisionLogger{w: w}
}

func OpenDecisionLog(path string) (*DecisionLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewDecisionLogger(file), file.Close, nil
}

func (l *DecisionLogger) Write(decision Decision) error {
	decision.Diagnostics = sanitizeDiagnostics(decision.Diagnostics)
	decision.ResponseViolations = sanitizeDiagnostics(decision.ResponseViolations)

	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

// sanitizeDiagnostics bounds what one request can put in the log: at most
// maxDiagnostics entries with messages cut to maxMessage bytes.
func sanitizeDiagnostics(diags []diagnostic.Diagnostic) []diagnostic.Diagnostic {
	if len(diags) == 0 {
		return nil
	}
	if len(diags) > maxDiagnostics {
		diags = diags[:maxDiagnostics]
	}
	out := make([]diagnostic.Diagnostic, len(diags))
	for i, d := range diags {
		out[i] = d
		if len(d.Message) > maxMessage {
			out[i].Message = d.Message[:maxMessage]
		}
	}
	return out
}
