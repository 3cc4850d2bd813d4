// Package mediatype selects the declared content a request body is validated
// against, given its Content-Type header.
package mediatype

import (
	"mime"
	"strings"

	"github.com/prabodh-fiddler/prism/internal/contract"
)

// Match is the outcome of a successful negotiation. Skip is set when no body
// was sent for an optional body and there is nothing to validate; Content is
// nil in that case.
type Match struct {
	Content   *contract.Content
	MediaType string
	Params    map[string]string
	Skip      bool
}

// suffixes maps structured syntax suffixes to the media type they extend.
var suffixes = map[string]string{
	"+json": "application/json",
	"+xml":  "application/xml",
	"+yaml": "application/yaml",
	"+cbor": "application/cbor",
}

// Request describes the message being negotiated.
type Request struct {
	// Header is the raw Content-Type value, "" when absent.
	Header string
	// Empty reports that no body bytes were sent.
	Empty bool
	// Required mirrors the body contract.
	Required bool
}

// Select picks the content for req. The second result is false for NoMatch.
// Candidates are tried in order: exact media type, structured syntax suffix,
// declared ranges (type/*, then */*), and the empty catch-all key.
func Select(contents []*contract.Content, req Request) (Match, bool) {
	mediaType, params := Parse(req.Header)

	if mediaType != "" {
		if c := find(contents, mediaType); c != nil {
			return Match{Content: c, MediaType: mediaType, Params: params}, true
		}
		if canonical := Canonical(mediaType); canonical != mediaType {
			if c := find(contents, canonical); c != nil {
				return Match{Content: c, MediaType: mediaType, Params: params}, true
			}
		}
		if major, _, ok := strings.Cut(mediaType, "/"); ok {
			if c := find(contents, major+"/*"); c != nil {
				return Match{Content: c, MediaType: mediaType, Params: params}, true
			}
		}
		if c := find(contents, "*/*"); c != nil {
			return Match{Content: c, MediaType: mediaType, Params: params}, true
		}
	}

	if c := find(contents, ""); c != nil {
		return Match{Content: c, MediaType: mediaType, Params: params}, true
	}

	if req.Header == "" && req.Empty && !req.Required {
		return Match{Skip: true}, true
	}
	return Match{MediaType: mediaType, Params: params}, false
}

// Parse strips parameters from a Content-Type value and lower-cases the media
// type. Values mime cannot parse fall back to the text before ';'.
func Parse(header string) (string, map[string]string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		base, _, _ := strings.Cut(header, ";")
		return strings.ToLower(strings.TrimSpace(base)), nil
	}
	return mediaType, params
}

// Canonical returns the media type a structured syntax suffix stands for, so
// application/vnd.api+json becomes application/json. Other types are
// returned unchanged.
func Canonical(mediaType string) string {
	for suffix, canonical := range suffixes {
		if strings.HasSuffix(mediaType, suffix) {
			return canonical
		}
	}
	return mediaType
}

// IsJSON reports whether mediaType carries JSON.
func IsJSON(mediaType string) bool {
	return Canonical(mediaType) == "application/json"
}

func find(contents []*contract.Content, mediaType string) *contract.Content {
	for _, c := range contents {
		declared, _ := Parse(c.MediaType)
		if declared == mediaType {
			return c
		}
	}
	return nil
}
