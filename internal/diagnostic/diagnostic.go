// Package diagnostic holds the structured findings produced while validating
// an HTTP message against its contract.
package diagnostic

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warning"
	case SeverityInfo:
		return "Info"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "error":
		*s = SeverityError
	case "warning":
		*s = SeverityWarning
	case "info":
		*s = SeverityInfo
	default:
		return fmt.Errorf("unknown severity %q", string(text))
	}
	return nil
}

// Diagnostic is one validation finding. Location is the ordered path to the
// offending container or value, starting with the message part ("body").
type Diagnostic struct {
	Code     string   `json:"code"`
	Location []string `json:"location,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", d.Severity, d.Code, strings.Join(d.Location, "."), d.Message)
}

// Errors returns the Error severity diagnostics in their original order.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Codes lists the diagnostic codes in order, mostly for logs and metrics.
func Codes(diags []Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.Code
	}
	return out
}

// Header renders diagnostics as a compact JSON array for response headers.
func Header(diags []Diagnostic) string {
	if len(diags) == 0 {
		return ""
	}
	data, err := json.Marshal(diags)
	if err != nil {
		return ""
	}
	return string(data)
}
