// Package desync sends hand-written HTTP/1.1 requests over raw TCP or TLS
// sockets and builds request-smuggling probes. Bytes go on the wire exactly
// as written; responses are collected without trusting HTTP framing.
package desync

import (
	"context"

	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/length"
	"github.com/WhileEndless/go-desync/pkg/payload"
	"github.com/WhileEndless/go-desync/pkg/response"
	"github.com/WhileEndless/go-desync/pkg/timing"
	"github.com/WhileEndless/go-desync/pkg/urlparse"
)

// Version is the current version of the desync library
const Version = "1.0.0"

// GetVersion returns the current version of the library
func GetVersion() string {
	return Version
}

// Re-export key types for easier usage
type (
	// Engine runs raw transactions.
	Engine = engine.Engine

	// Options controls how the Engine connects and reads responses.
	Options = engine.Options

	// Target is a host, port and TLS flag.
	Target = engine.Target

	// Result is the outcome of one transaction.
	Result = engine.Result

	// Response is a parsed HTTP response.
	Response = response.Response

	// URL is a parsed target URL.
	URL = urlparse.URL

	// Metrics captures detailed timing information for a transaction.
	Metrics = timing.Metrics

	// Error represents a structured error with context information.
	Error = errors.Error
)

// Re-export error types for convenience
const (
	ErrorTypeURL        = errors.ErrorTypeURL
	ErrorTypeDNS        = errors.ErrorTypeDNS
	ErrorTypeConnection = errors.ErrorTypeConnection
	ErrorTypeTLS        = errors.ErrorTypeTLS
	ErrorTypeTimeout    = errors.ErrorTypeTimeout
	ErrorTypeTemplate   = errors.ErrorTypeTemplate
	ErrorTypeProtocol   = errors.ErrorTypeProtocol
	ErrorTypeIO         = errors.ErrorTypeIO
	ErrorTypeValidation = errors.ErrorTypeValidation
)

// NewEngine returns an Engine. Zero option fields take the defaults.
func NewEngine(opts Options) *Engine {
	return engine.New(opts)
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return engine.DefaultOptions()
}

// Send runs one transaction with default options. TLS is used iff port is 443.
func Send(ctx context.Context, host string, port int, raw string) Result {
	return engine.New(engine.DefaultOptions()).Send(ctx, host, port, raw)
}

// ParseURL splits a URL into host, port, path and scheme.
func ParseURL(raw string) (URL, error) {
	return urlparse.Parse(raw)
}

// ContentLength returns the transmission length of s, counting a bare LF
// as the CRLF it is sent as.
func ContentLength(s string) int {
	return length.Count(s)
}

// UpdateContentLength sets Content-Length to the body's transmission length.
func UpdateContentLength(req string) (string, error) {
	return payload.UpdateContentLength(req)
}

// BuildTECLPrefix turns req into a TE.CL probe.
func BuildTECLPrefix(req string, opts ...payload.Option) (string, error) {
	return payload.BuildTECLPrefix(req, opts...)
}

// BuildCLTEPrefix turns req into a CL.TE probe.
func BuildCLTEPrefix(req string, opts ...payload.Option) (string, error) {
	return payload.BuildCLTEPrefix(req, opts...)
}

// RecomputeChunkSize fixes the first chunk size of a chunked body.
func RecomputeChunkSize(req string) (string, error) {
	return payload.RecomputeChunkSize(req)
}

// DefaultRequest returns a minimal GET request for u.
func DefaultRequest(u URL) string {
	return payload.DefaultRequest(u)
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsTemplateError reports whether err is a malformed template error.
func IsTemplateError(err error) bool {
	return errors.IsTemplateError(err)
}

// GetErrorType returns the error type as a string.
func GetErrorType(err error) string {
	return string(errors.GetErrorType(err))
}
