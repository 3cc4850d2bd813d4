package body

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"

	"github.com/prabodh-fiddler/prism/internal/mediatype"
)

const (
	FormURLEncoded = "application/x-www-form-urlencoded"
	MultipartForm  = "multipart/form-data"
)

// DecodeError wraps a payload that does not parse as its declared media type.
type DecodeError struct {
	MediaType string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s body: %v", e.MediaType, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode turns a body into a value for schema validation. JSON keeps numbers
// as json.Number. Form encodings produce an object of strings, with repeated
// fields as arrays; coerce is true for them because every field arrives as
// text. Without a media type, JSON is tried before falling back to text. Any
// other media type is validated as a single string.
func Decode(mediaType string, params map[string]string, data []byte) (value any, coerce bool, err error) {
	switch {
	case mediaType == "":
		if value, err = decodeJSON(data); err != nil {
			value, err = string(data), nil
		}
	case mediatype.IsJSON(mediaType):
		value, err = decodeJSON(data)
	case mediaType == FormURLEncoded:
		value, err = decodeForm(data)
		coerce = true
	case mediaType == MultipartForm:
		value, err = decodeMultipart(data, params["boundary"])
		coerce = true
	default:
		value = string(data)
	}
	if err != nil {
		return nil, false, &DecodeError{MediaType: mediaType, Err: err}
	}
	return value, coerce, nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeForm(data []byte) (any, error) {
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, err
	}
	return fields(values), nil
}

func decodeMultipart(data []byte, boundary string) (any, error) {
	if boundary == "" {
		return nil, errors.New("missing boundary")
	}

	values := url.Values{}
	reader := multipart.NewReader(bytes.NewReader(data), boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := part.FormName()
		content, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}
		values.Add(name, string(content))
	}
	return fields(values), nil
}

func fields(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			out[key] = vals[0]
			continue
		}
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		out[key] = list
	}
	return out
}
