package payload

import (
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/urlparse"
)

// Header is one request header line. Order and duplicates are significant,
// so headers are always handled as a slice.
type Header struct {
	Name  string
	Value string

	// Bare marks a line that had no colon at all. Such lines are kept so
	// that obfuscated headers survive a rebuild.
	Bare bool
}

// String renders the header as it appears on the wire, without CRLF.
func (h Header) String() string {
	if h.Bare {
		return h.Name
	}
	return h.Name + ": " + h.Value
}

// Conforms reports whether the header would be accepted by a strict
// RFC 7230 parser. Deliberately obfuscated headers report false.
func (h Header) Conforms() bool {
	if h.Bare {
		return false
	}
	return httpguts.ValidHeaderFieldName(h.Name) && httpguts.ValidHeaderFieldValue(h.Value)
}

// ParseHeaders splits the header block of req into its request line and
// ordered headers. Names are kept verbatim; values are trimmed.
func ParseHeaders(req string) (string, []Header, error) {
	head, _, ok := splitRequest(req)
	if !ok {
		return "", nil, errors.NewTemplateError("missing header/body separator")
	}

	lines := strings.Split(head, crlf)
	headers := make([]Header, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			headers = append(headers, Header{Name: line, Bare: true})
			continue
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return lines[0], headers, nil
}

// ReplaceHeaders rebuilds req with its original request line, the given
// headers in order, and the original body.
func ReplaceHeaders(req string, headers []Header) string {
	requestLine, rest, _ := strings.Cut(req, crlf)
	_, body, _ := splitRequest(crlf + rest)

	var b strings.Builder
	b.WriteString(requestLine)
	b.WriteString(crlf)
	for _, h := range headers {
		b.WriteString(h.String())
		b.WriteString(crlf)
	}
	b.WriteString(crlf)
	b.WriteString(body)
	return b.String()
}

// HeaderValue returns the trimmed value of the first header called name
// (case-insensitive) in the header block of req.
func HeaderValue(req, name string) (string, bool) {
	head, _, _ := splitRequest(req)
	return headerValue(head, name)
}

func headerValue(head, name string) (string, bool) {
	lines := strings.Split(head, crlf)
	for i := 1; i < len(lines); i++ {
		if hasHeaderPrefix(lines[i], name) {
			return strings.TrimSpace(lines[i][len(name)+1:]), true
		}
	}
	return "", false
}

// hasHeaderPrefix reports whether line starts with "name:" in any case.
func hasHeaderPrefix(line, name string) bool {
	return len(line) > len(name) &&
		line[len(name)] == ':' &&
		strings.EqualFold(line[:len(name)], name)
}

// DefaultRequest returns a minimal GET request for u, matching what an
// intercepting proxy would show for a fresh target.
func DefaultRequest(u urlparse.URL) string {
	return "GET " + u.RequestURI() + " HTTP/1.1" + crlf +
		"Host: " + u.HostHeader() + crlf +
		"User-Agent: " + constants.DefaultUserAgent + crlf +
		"Accept: */*" + crlf +
		"Connection: close" + crlf +
		crlf
}
