package engine

import (
	"time"

	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/metrics"
	"github.com/WhileEndless/go-desync/pkg/response"
	"github.com/WhileEndless/go-desync/pkg/timing"
	"github.com/WhileEndless/go-desync/pkg/transport"
)

// Result is the outcome of one transaction. Exactly one of Response and Err
// is set. A target that never answered is not an error: NoResponse is true
// and Response holds the "No response received from server" text.
type Result struct {
	ID         string
	Target     Target
	Request    []byte // bytes actually written
	Response   []byte
	Elapsed    time.Duration
	Err        error
	NoResponse bool
	Attempts   int
	Timings    timing.Metrics
	Conn       transport.ConnInfo
}

// ElapsedMillis returns Elapsed in whole milliseconds.
func (r Result) ElapsedMillis() int64 {
	return r.Elapsed.Milliseconds()
}

// Error returns the error text, or "" for a successful transaction.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// OK reports whether the transaction produced a response (including the
// no-response sentinel).
func (r Result) OK() bool {
	return r.Err == nil
}

// Parse parses the collected response bytes.
func (r Result) Parse() (*response.Response, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	return response.Parse(r.Response)
}

// Outcome classifies the result for metrics and display.
func (r Result) Outcome() metrics.Outcome {
	switch {
	case r.Err == nil && r.NoResponse:
		return metrics.OutcomeNoResponse
	case r.Err == nil:
		return metrics.OutcomeResponse
	case errors.IsContextCanceled(r.Err):
		return metrics.OutcomeCanceled
	case errors.IsConnectError(r.Err):
		return metrics.OutcomeConnectError
	case errors.IsTimeoutError(r.Err):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}
