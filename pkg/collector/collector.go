// Package collector reads a response off a raw connection without trusting
// the response to be well formed.
//
// Probe targets routinely send truncated, duplicated or never-ending
// responses, so reading is bounded by an attempt budget instead of by HTTP
// framing. Each attempt either drains bytes already buffered or performs one
// deadline-bounded blocking read, and the outcome drives a small state
// machine:
//
//	AwaitingFirstByte --data--> Accumulating --complete/EOF/timeout--> Complete
//	AwaitingFirstByte --timeout on first attempt--> Failed
//	AwaitingFirstByte --budget exhausted--> Complete (NoResponse)
package collector

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/logging"
)

// Conn is the part of a network connection the collector needs.
type Conn interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// State is the collector's position in the read state machine.
type State int

const (
	AwaitingFirstByte State = iota
	Accumulating
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case AwaitingFirstByte:
		return "awaiting_first_byte"
	case Accumulating:
		return "accumulating"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config tunes the read loop. Zero values take the package defaults.
type Config struct {
	MaxAttempts int
	ReadTimeout time.Duration // per blocking read
	ReadPause   time.Duration // after a read that did not complete the response
	EmptyPause  time.Duration // after end-of-stream with nothing read yet
	BufferSize  int
	Logger      *slog.Logger

	// OnFirstByte, when set, is called once as soon as any response byte arrives.
	OnFirstByte func()
}

// DefaultConfig returns the default read loop settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: constants.DefaultMaxAttempts,
		ReadTimeout: constants.DefaultReadTimeout,
		ReadPause:   constants.DefaultReadPause,
		EmptyPause:  constants.DefaultEmptyPause,
		BufferSize:  constants.DefaultReadBufferSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.ReadPause < 0 {
		c.ReadPause = 0
	}
	if c.EmptyPause < 0 {
		c.EmptyPause = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}

// Result is what a read produced.
type Result struct {
	Data       []byte
	State      State
	Attempts   int
	NoResponse bool
}

// Collector runs the read loop. It holds no per-read state and may be shared.
type Collector struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Collector. Zero fields in cfg take the defaults.
func New(cfg Config) *Collector {
	cfg = cfg.withDefaults()
	return &Collector{cfg: cfg, logger: logging.OrDefault(cfg.Logger)}
}

// Config returns the effective configuration.
func (c *Collector) Config() Config {
	return c.cfg
}

// Read collects a response from conn. A Failed read returns a non-nil error;
// a read that saw no bytes at all within the budget is not an error and
// returns the NoResponse sentinel as its data.
func (c *Collector) Read(ctx context.Context, conn Conn) (Result, error) {
	// The bufio layer is larger than one attempt's buffer, so a fill can
	// leave bytes behind for the next attempt to drain without blocking.
	r := reader{
		cfg:    c.cfg,
		logger: c.logger,
		conn:   conn,
		br:     bufio.NewReaderSize(conn, 2*c.cfg.BufferSize),
		buf:    make([]byte, c.cfg.BufferSize),
		state:  AwaitingFirstByte,
	}
	return r.run(ctx)
}

type reader struct {
	cfg    Config
	logger *slog.Logger
	conn   Conn
	br     *bufio.Reader
	buf    []byte

	state    State
	data     []byte
	attempts int
}

func (r *reader) run(ctx context.Context) (Result, error) {
	r.logger.Debug("reading response", "max_attempts", r.cfg.MaxAttempts)

	for r.attempts < r.cfg.MaxAttempts && r.state < Complete {
		if err := ctx.Err(); err != nil {
			return r.interrupted(err)
		}
		r.attempts++

		n, err := r.readOnce()
		if n > 0 {
			r.accept(r.buf[:n])
		}

		if err == nil {
			if r.state == Accumulating && r.isComplete() {
				r.state = Complete
				break
			}
			r.pause(ctx, r.cfg.ReadPause)
			continue
		}

		switch {
		case err == io.EOF:
			if len(r.data) > 0 {
				r.logger.Debug("end of stream", "attempt", r.attempts, "bytes", len(r.data))
				r.state = Complete
				break
			}
			r.logger.Debug("end of stream before first byte", "attempt", r.attempts)
			r.pause(ctx, r.cfg.EmptyPause)

		case errors.IsTimeoutError(err) && ctx.Err() == nil:
			if len(r.data) > 0 {
				r.logger.Debug("read timeout after data, treating as end of response", "attempt", r.attempts)
				r.state = Complete
				break
			}
			if r.attempts == 1 {
				r.state = Failed
				return r.result(), errors.NewTimeoutError("read response", r.cfg.ReadTimeout)
			}
			r.logger.Debug("read timeout", "attempt", r.attempts)

		default:
			if ctx.Err() != nil {
				return r.interrupted(ctx.Err())
			}
			if len(r.data) > 0 {
				r.state = Complete
				break
			}
			r.state = Failed
			return r.result(), errors.NewIOError("read response", err)
		}
	}

	res := r.result()
	if len(r.data) == 0 {
		r.logger.Debug("no bytes received", "attempts", r.attempts)
		res.State = Complete
		res.NoResponse = true
		res.Data = []byte(constants.NoResponseText)
		return res, nil
	}

	res.State = Complete
	r.logger.Debug("finished reading response", "bytes", len(r.data), "attempts", r.attempts)
	return res, nil
}

// readOnce drains what is already buffered, or blocks for one read bounded
// by the read timeout.
func (r *reader) readOnce() (int, error) {
	if avail := r.br.Buffered(); avail > 0 {
		return r.br.Read(r.buf[:min(avail, len(r.buf))])
	}
	if err := r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
		return 0, err
	}
	return r.br.Read(r.buf)
}

func (r *reader) accept(chunk []byte) {
	if r.state == AwaitingFirstByte {
		r.state = Accumulating
		if r.cfg.OnFirstByte != nil {
			r.cfg.OnFirstByte()
		}
	}
	r.data = append(r.data, chunk...)
	r.logger.Debug("received bytes", "attempt", r.attempts, "n", len(chunk), "hex", logging.Dump(chunk))
}

// isComplete applies the early-stop rules once the header block is in.
func (r *reader) isComplete() bool {
	return IsComplete(r.data)
}

// pause sleeps between attempts, but never after the last one.
func (r *reader) pause(ctx context.Context, d time.Duration) {
	if d <= 0 || r.attempts >= r.cfg.MaxAttempts {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// interrupted ends the read after cancellation. Bytes already read still
// make a response.
func (r *reader) interrupted(cause error) (Result, error) {
	if len(r.data) > 0 {
		r.state = Complete
		return r.result(), nil
	}
	r.state = Failed
	return r.result(), errors.NewIOError("read response", cause)
}

func (r *reader) result() Result {
	return Result{Data: r.data, State: r.state, Attempts: r.attempts}
}

var (
	headerEnd    = []byte("\r\n\r\n")
	chunkedFinal = []byte("0\r\n\r\n")
)

// IsComplete reports whether data already holds a whole response by the
// collector's rules: the header block has ended and either some body bytes
// follow it, the headers declare Content-Length 0, or the headers declare
// chunked encoding and data ends with the zero chunk.
func IsComplete(data []byte) bool {
	idx := bytes.Index(data, headerEnd)
	if idx < 0 {
		return false
	}
	if len(data) > idx+len(headerEnd) {
		return true
	}

	var zeroLength, chunked bool
	for _, line := range strings.Split(string(data[:idx]), "\r\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch {
		case strings.EqualFold(name, "Content-Length"):
			zeroLength = zeroLength || value == "0"
		case strings.EqualFold(name, "Transfer-Encoding"):
			chunked = chunked || strings.Contains(strings.ToLower(value), "chunked")
		}
	}
	return zeroLength || (chunked && bytes.HasSuffix(data, chunkedFinal))
}
