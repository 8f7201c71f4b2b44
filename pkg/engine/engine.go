// Package engine runs raw HTTP transactions: connect, write the request
// bytes exactly as given, collect whatever comes back, close.
//
// A transaction never returns an error value and never panics out. Every
// failure is captured in Result.Err so callers always get a result to show.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WhileEndless/go-desync/pkg/collector"
	"github.com/WhileEndless/go-desync/pkg/constants"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/length"
	"github.com/WhileEndless/go-desync/pkg/logging"
	"github.com/WhileEndless/go-desync/pkg/metrics"
	"github.com/WhileEndless/go-desync/pkg/timing"
	"github.com/WhileEndless/go-desync/pkg/transport"
	"github.com/WhileEndless/go-desync/pkg/urlparse"
)

const tracerName = "github.com/WhileEndless/go-desync/pkg/engine"

// Options controls how the Engine connects, writes and reads.
type Options struct {
	ConnTimeout  time.Duration
	DNSTimeout   time.Duration
	WriteTimeout time.Duration

	// TransactionTimeout bounds a whole transaction. Zero means the
	// connect and read budgets are the only bound.
	TransactionTimeout time.Duration

	// Collector tunes the response read loop.
	Collector collector.Config

	// SendAsTyped skips CRLF normalization so bare LFs reach the wire.
	SendAsTyped bool

	ConnectIP   string
	SNI         string
	TLSVersion  uint16
	Fingerprint string

	// Proxy tunnels the socket through an upstream HTTP CONNECT or SOCKS5 proxy.
	Proxy *transport.ProxyConfig

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		ConnTimeout:  constants.DefaultConnTimeout,
		DNSTimeout:   constants.DefaultDNSTimeout,
		WriteTimeout: constants.DefaultWriteTimeout,
		Collector:    collector.DefaultConfig(),
	}
}

// Target is where a transaction goes.
type Target struct {
	Host   string
	Port   int
	Secure bool
}

// TargetFor builds a Target from host and port. TLS is used iff the port is 443.
func TargetFor(host string, port int) Target {
	return Target{Host: host, Port: port, Secure: port == constants.DefaultHTTPSPort}
}

// TargetFromURL builds a Target from a parsed URL, honoring its scheme.
func TargetFromURL(u urlparse.URL) Target {
	return Target{Host: u.Host, Port: u.Port, Secure: u.Secure}
}

func (t Target) String() string {
	scheme := "http"
	if t.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

// Engine executes raw transactions. It holds only read-only configuration
// and is safe for concurrent use.
type Engine struct {
	opts      Options
	transport *transport.Transport
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New returns an Engine. Zero option fields take the defaults.
func New(opts Options) *Engine {
	return NewWithTransport(opts, transport.New())
}

// NewWithTransport creates an Engine with a custom transport.
func NewWithTransport(opts Options, t *transport.Transport) *Engine {
	d := DefaultOptions()
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = d.ConnTimeout
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = d.DNSTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	logger := logging.OrDefault(opts.Logger)
	if opts.Collector.Logger == nil {
		opts.Collector.Logger = logger
	}
	return &Engine{
		opts:      opts,
		transport: t,
		logger:    logger,
		tracer:    tracer,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Send runs one transaction against host:port.
func (e *Engine) Send(ctx context.Context, host string, port int, raw string) Result {
	return e.SendTarget(ctx, TargetFor(host, port), raw)
}

// SendURL runs one transaction against the host, port and scheme of rawURL.
// The request text is sent as given; the URL path is not injected into it.
func (e *Engine) SendURL(ctx context.Context, rawURL, raw string) Result {
	u, err := urlparse.Parse(rawURL)
	if err != nil {
		return Result{ID: uuid.NewString(), Err: err}
	}
	return e.SendTarget(ctx, TargetFromURL(u), raw)
}

// SendAsync runs Send on its own goroutine. The returned channel receives
// exactly one Result and is then closed. Canceling ctx closes the socket.
func (e *Engine) SendAsync(ctx context.Context, host string, port int, raw string) <-chan Result {
	return e.SendTargetAsync(ctx, TargetFor(host, port), raw)
}

// SendTargetAsync is SendAsync for an explicit Target.
func (e *Engine) SendTargetAsync(ctx context.Context, target Target, raw string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- e.SendTarget(ctx, target, raw)
	}()
	return ch
}

// SendTarget runs one transaction.
func (e *Engine) SendTarget(ctx context.Context, target Target, raw string) (res Result) {
	timer := timing.NewTimer()
	res = Result{ID: uuid.NewString(), Target: target}

	ctx, span := e.tracer.Start(ctx, "desync.transaction",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("transaction_id", res.ID),
			attribute.String("target", target.String()),
		),
	)
	e.opts.Metrics.Started()

	defer func() {
		if p := recover(); p != nil {
			res.Response = nil
			res.NoResponse = false
			res.Err = errors.NewIOError("transaction", fmt.Errorf("panic: %v", p))
		}
		res.Elapsed = timer.Elapsed()
		res.Timings = timer.GetMetrics()
		e.finish(span, res)
	}()

	if e.opts.TransactionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.TransactionTimeout)
		defer cancel()
	}

	if raw == "" {
		res.Err = errors.NewValidationError("request cannot be empty")
		return res
	}

	wire := raw
	if !e.opts.SendAsTyped {
		wire = length.NormalizeCRLF(raw)
	}
	res.Request = []byte(wire)

	e.logger.Debug("sending request",
		"id", res.ID,
		"target", target.String(),
		"bytes", len(res.Request),
		"hex", logging.Dump(res.Request),
	)

	conn, err := e.transport.Connect(ctx, transport.Config{
		Host:        target.Host,
		Port:        target.Port,
		Secure:      target.Secure,
		ConnectIP:   e.opts.ConnectIP,
		SNI:         e.opts.SNI,
		ConnTimeout: e.opts.ConnTimeout,
		DNSTimeout:  e.opts.DNSTimeout,
		TLSVersion:  e.opts.TLSVersion,
		Fingerprint: e.opts.Fingerprint,
		Proxy:       e.opts.Proxy,
	}, timer)
	if err != nil {
		res.Err = err
		return res
	}
	defer conn.Close()

	// A done context closes the socket so a blocked read returns.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	res.Conn = transport.Info(conn)
	e.logger.Debug("connected",
		"id", res.ID,
		"remote", res.Conn.RemoteAddr,
		"tls_version", res.Conn.TLSVersion,
		"cipher", res.Conn.CipherSuite,
	)

	if err := writeAll(ctx, conn, res.Request, e.opts.WriteTimeout); err != nil {
		res.Err = err
		return res
	}

	timer.StartTTFB()
	cfg := e.opts.Collector
	cfg.OnFirstByte = timer.EndTTFB

	collected, err := collector.New(cfg).Read(ctx, conn)
	res.Attempts = collected.Attempts
	if err != nil {
		res.Err = err
		return res
	}
	res.Response = collected.Data
	res.NoResponse = collected.NoResponse
	return res
}

func writeAll(ctx context.Context, conn net.Conn, b []byte, timeout time.Duration) error {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return errors.NewIOError("setting write deadline", err)
	}
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			if ctx.Err() != nil {
				return errors.NewIOError("write request", ctx.Err())
			}
			if errors.IsTimeoutError(err) {
				return errors.NewTimeoutError("write request", timeout)
			}
			return errors.NewIOError("write request", err)
		}
		b = b[n:]
	}
	return nil
}

func (e *Engine) finish(span trace.Span, res Result) {
	outcome := res.Outcome()
	e.opts.Metrics.Finished(outcome, res.Elapsed, len(res.Response))

	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int64("elapsed_ms", res.ElapsedMillis()),
		attribute.Int("response_bytes", len(res.Response)),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if res.Err != nil {
		e.logger.Info("transaction failed",
			"id", res.ID,
			"target", res.Target.String(),
			"elapsed_ms", res.ElapsedMillis(),
			"error", res.Err,
		)
		return
	}
	e.logger.Info("transaction finished",
		"id", res.ID,
		"target", res.Target.String(),
		"elapsed_ms", res.ElapsedMillis(),
		"bytes", len(res.Response),
		"no_response", res.NoResponse,
	)
	e.logger.Debug("response bytes", "id", res.ID, "hex", logging.Dump(res.Response))
}
