// Package body reads request bodies under a size ceiling and decodes them
// into values the schema validator understands.
package body

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// DefaultLimit is the body ceiling used when none is configured.
const DefaultLimit int64 = 10 << 20

const chunkSize = 32 << 10

var ErrTooLarge = errors.New("request entity too large")

// TooLargeError reports a body that exceeded Limit bytes. Reading stops as
// soon as the ceiling is crossed.
type TooLargeError struct {
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("body exceeded %s limit", FormatLimit(e.Limit))
}

func (e *TooLargeError) Is(target error) bool {
	return target == ErrTooLarge
}

// FormatLimit renders a byte count the way limit messages spell it: 10mb,
// 512kb, 100b.
func FormatLimit(limit int64) string {
	switch {
	case limit > 0 && limit%(1<<20) == 0:
		return strconv.FormatInt(limit>>20, 10) + "mb"
	case limit > 0 && limit%(1<<10) == 0:
		return strconv.FormatInt(limit>>10, 10) + "kb"
	default:
		return strconv.FormatInt(limit, 10) + "b"
	}
}

// Payload is a fully read body. ContentLength is -1 when the header is absent.
type Payload struct {
	Data          []byte
	ContentType   string
	ContentLength int64
}

func (p *Payload) Empty() bool {
	return p == nil || len(p.Data) == 0
}

// Read consumes r up to limit bytes. A declared Content-Length above the limit
// is rejected before anything is read. ctx is checked between chunks.
func Read(ctx context.Context, r io.Reader, header http.Header, limit int64) (*Payload, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	p := &Payload{
		ContentType:   header.Get("Content-Type"),
		ContentLength: declaredLength(header),
	}
	if p.ContentLength > limit {
		return nil, &TooLargeError{Limit: limit}
	}
	if r == nil || r == http.NoBody {
		return p, nil
	}

	var buf bytes.Buffer
	if p.ContentLength > 0 {
		buf.Grow(int(p.ContentLength))
	}
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if int64(buf.Len()+n) > limit {
				return nil, &TooLargeError{Limit: limit}
			}
			buf.Write(chunk[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}

	p.Data = buf.Bytes()
	return p, nil
}

// Drain discards r without interpreting it, still enforcing limit, and
// returns the number of bytes consumed.
func Drain(ctx context.Context, r io.Reader, limit int64) (int64, error) {
	if r == nil || r == http.NoBody {
		return 0, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var total int64
	chunk := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.Read(chunk)
		total += int64(n)
		if total > limit {
			return total, &TooLargeError{Limit: limit}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("drain body: %w", err)
		}
	}
}

func declaredLength(header http.Header) int64 {
	raw := strings.TrimSpace(header.Get("Content-Length"))
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
