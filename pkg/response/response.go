// Package response parses collected response bytes for display.
//
// Parsing is best effort: the bytes came from a collector that stops on
// heuristics, so bodies are often cut short. A short body is reported with
// Truncated rather than as an error.
package response

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/payload"
)

// Response represents a parsed HTTP response.
type Response struct {
	StatusLine  string
	HTTPVersion string
	StatusCode  int
	Reason      string
	Headers     []payload.Header
	Body        []byte // de-chunked when the response is chunked
	RawBody     []byte // bytes after the header block, untouched
	Truncated   bool
	Chunked     bool
}

// Header returns the first value of the named header (case-insensitive).
func (r *Response) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(h.Name), name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value of the named header in order.
func (r *Response) Values(name string) []string {
	var out []string
	for _, h := range r.Headers {
		if strings.EqualFold(strings.TrimSpace(h.Name), name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// Parse parses raw response bytes.
func Parse(raw []byte) (*Response, error) {
	if len(raw) == 0 {
		return nil, errors.NewProtocolError("empty response", nil)
	}
	if string(raw) == constants.NoResponseText {
		return nil, errors.NewProtocolError("no response received", nil)
	}

	reader := bufio.NewReader(bytes.NewReader(raw))
	resp := &Response{}

	statusLine, err := readLine(reader)
	if err != nil && statusLine == "" {
		return nil, errors.NewProtocolError("reading status line", err)
	}
	if err := parseStatusLine(statusLine, resp); err != nil {
		return nil, err
	}

	headers, complete := readHeaders(reader)
	resp.Headers = headers
	if !complete {
		resp.Truncated = true
		return resp, nil
	}

	rest, _ := io.ReadAll(reader)
	resp.RawBody = rest
	readBody(resp, rest)
	return resp, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if len(line) >= 2 && line[len(line)-2:] == "\r\n" {
		return line[:len(line)-2], err
	}
	return strings.TrimRight(line, "\n"), err
}

func parseStatusLine(statusLine string, response *Response) error {
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return errors.NewProtocolError("invalid status line format", nil)
	}

	response.StatusLine = statusLine
	response.HTTPVersion = parts[0]

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return errors.NewProtocolError("invalid status code", err)
	}
	response.StatusCode = code
	if len(parts) == 3 {
		response.Reason = parts[2]
	}
	return nil
}

// readHeaders reads header lines up to the blank line. It reports false when
// the data ended before the header block did.
func readHeaders(reader *bufio.Reader) ([]payload.Header, bool) {
	var headers []payload.Header
	total := 0

	for {
		line, err := reader.ReadString('\n')
		total += len(line)
		if line == "\r\n" || line == "\n" {
			return headers, true
		}
		if err != nil || total > constants.MaxHeaderBytes {
			if trimmed := strings.TrimRight(line, "\r\n"); trimmed != "" {
				headers = appendHeader(headers, trimmed)
			}
			return headers, false
		}
		headers = appendHeader(headers, strings.TrimRight(line, "\r\n"))
	}
}

func appendHeader(headers []payload.Header, line string) []payload.Header {
	// Header continuation (RFC 7230 Section 3.2.4)
	if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(headers) > 0 {
		last := &headers[len(headers)-1]
		last.Value += " " + strings.TrimSpace(line)
		return headers
	}

	name, value, found := strings.Cut(line, ":")
	if !found {
		return append(headers, payload.Header{Name: line, Bare: true})
	}
	return append(headers, payload.Header{Name: name, Value: strings.TrimSpace(value)})
}

func readBody(resp *Response, rest []byte) {
	transferEncoding := resp.Header("Transfer-Encoding")
	contentLength := resp.Header("Content-Length")

	switch {
	case strings.Contains(strings.ToLower(transferEncoding), "chunked"):
		resp.Chunked = true
		body, ok := dechunk(rest)
		resp.Body = body
		resp.Truncated = !ok
	case contentLength != "":
		length, err := strconv.Atoi(strings.TrimSpace(contentLength))
		if err != nil || length < 0 {
			resp.Body = rest
			return
		}
		if length > len(rest) {
			resp.Body = rest
			resp.Truncated = true
			return
		}
		resp.Body = rest[:length]
	default:
		resp.Body = rest
	}
}

// dechunk decodes a chunked body. It returns what it could decode and
// whether the terminating zero chunk was reached.
func dechunk(data []byte) ([]byte, bool) {
	var out []byte
	for {
		idx := bytes.Index(data, []byte("\r\n"))
		if idx < 0 {
			return out, false
		}
		sizeField := strings.TrimSpace(strings.SplitN(string(data[:idx]), ";", 2)[0])
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil || size < 0 {
			return out, false
		}
		data = data[idx+2:]
		if size == 0 {
			return out, true
		}
		if int64(len(data)) < size {
			return append(out, data...), false
		}
		out = append(out, data[:size]...)
		data = data[size:]
		if !bytes.HasPrefix(data, []byte("\r\n")) {
			return out, false
		}
		data = data[2:]
	}
}
