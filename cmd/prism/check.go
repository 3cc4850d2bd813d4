package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/prabodh-fiddler/prism/internal/diagnostic"
	"github.com/prabodh-fiddler/prism/internal/server"
)

type checkOptions struct {
	configPath  string
	method      string
	path        string
	contentType string
	data        string
	colorMode   string
}

func newCheckCmd() *cobra.Command {
	opts := checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one request through the configured contracts without opening a listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodGet, "Request method")
	cmd.Flags().StringVar(&opts.path, "path", "/", "Request path and query")
	cmd.Flags().StringVarP(&opts.contentType, "content-type", "H", "", "Request Content-Type")
	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "Request body, or @file to read it from a file")
	cmd.Flags().StringVar(&opts.colorMode, "color", "auto", "Colorize output: auto|always|never")

	return cmd
}

func runCheck(out io.Writer, opts checkOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	srv, err := server.New(catalog, serverOptions(cfg, newLogger("error")))
	if err != nil {
		return err
	}

	if !strings.HasPrefix(opts.path, "/") {
		return fmt.Errorf("path %q must start with /", opts.path)
	}
	payload, err := readPayload(opts.data)
	if err != nil {
		return err
	}

	var reader io.Reader
	if payload != "" {
		reader = strings.NewReader(payload)
	}
	req := httptest.NewRequest(strings.ToUpper(opts.method), opts.path, reader)
	if opts.contentType != "" {
		req.Header.Set("Content-Type", opts.contentType)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	p := newPrinter(out, opts.colorMode)
	p.result(rec)
	return nil
}

func readPayload(data string) (string, error) {
	name, ok := strings.CutPrefix(data, "@")
	if !ok {
		return data, nil
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read request body: %w", err)
	}
	return string(content), nil
}

type printer struct {
	out  io.Writer
	ok   *color.Color
	warn *color.Color
	fail *color.Color
	dim  *color.Color
}

func newPrinter(out io.Writer, mode string) *printer {
	p := &printer{
		out:  out,
		ok:   color.New(color.FgGreen, color.Bold),
		warn: color.New(color.FgYellow),
		fail: color.New(color.FgRed, color.Bold),
		dim:  color.New(color.Faint),
	}
	enabled := useColor(out, mode)
	for _, c := range []*color.Color{p.ok, p.warn, p.fail, p.dim} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func useColor(out io.Writer, mode string) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) result(rec *httptest.ResponseRecorder) {
	status := fmt.Sprintf("%d %s", rec.Code, http.StatusText(rec.Code))
	switch {
	case rec.Code < 300:
		p.ok.Fprintln(p.out, status)
	case rec.Code < 500:
		p.fail.Fprintln(p.out, status)
	default:
		p.warn.Fprintln(p.out, status)
	}

	var doc struct {
		Title      string                  `json:"title"`
		Validation []diagnostic.Diagnostic `json:"validation"`
	}
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &doc)
	}
	if doc.Title != "" {
		fmt.Fprintln(p.out, doc.Title)
	}
	for _, d := range doc.Validation {
		p.diagnostic(d)
	}

	if raw := rec.Header().Get("sl-violations"); raw != "" {
		var violations []diagnostic.Diagnostic
		if err := json.Unmarshal([]byte(raw), &violations); err == nil {
			p.warn.Fprintln(p.out, "response violations:")
			for _, d := range violations {
				p.diagnostic(d)
			}
		}
	}

	if len(doc.Validation) == 0 && rec.Body.Len() > 0 {
		p.dim.Fprintln(p.out, rec.Body.String())
	}
}

func (p *printer) diagnostic(d diagnostic.Diagnostic) {
	c := p.fail
	if d.Severity != diagnostic.SeverityError {
		c = p.warn
	}
	c.Fprintf(p.out, "  %-8s", d.Code)
	p.dim.Fprintf(p.out, " %s ", strings.Join(d.Location, "."))
	fmt.Fprintln(p.out, d.Message)
}
