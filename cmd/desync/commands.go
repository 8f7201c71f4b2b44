package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/WhileEndless/go-desync/pkg/batch"
	"github.com/WhileEndless/go-desync/pkg/config"
	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/length"
	"github.com/WhileEndless/go-desync/pkg/payload"
	"github.com/WhileEndless/go-desync/pkg/tlsconfig"
	"github.com/WhileEndless/go-desync/pkg/transport"
	"github.com/WhileEndless/go-desync/pkg/urlparse"
)

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// prepare reads request text and normalizes it unless typed is set.
func (c *cli) prepare(path string, typed bool) (string, error) {
	text, err := readInput(path, c.stdin)
	if err != nil {
		return "", err
	}
	if !typed {
		text = length.NormalizeCRLF(text)
	}
	return text, nil
}

// checkHeaders warns about header lines a strict parser would reject.
// Probes are often malformed on purpose, so this never fails the command.
func (c *cli) checkHeaders(req string) {
	_, headers, err := payload.ParseHeaders(req)
	if err != nil {
		c.warnf("%v", err)
		return
	}
	for _, h := range headers {
		if !h.Conforms() {
			c.warnf("non-conforming header line %q", h.String())
		}
	}
}

func (c *cli) runSend(ctx context.Context, args []string) int {
	fs := c.newFlagSet("send")
	var common commonFlags
	common.register(fs)
	rawURL := fs.String("u", "", "target URL (scheme, host and port)")
	file := fs.String("f", "-", "request file, - for stdin")
	typed := fs.Bool("typed", false, "send line endings exactly as typed")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	timeout := fs.Duration("timeout", 0, "bound the whole transaction")
	connectIP := fs.String("connect-ip", "", "connect here instead of resolving the host")
	fingerprint := fs.String("fingerprint", "", "TLS ClientHello fingerprint (see desync fingerprints)")
	proxyURL := fs.String("proxy", "", "upstream proxy: http://host:port, socks5://, socks5h://")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rawURL == "" {
		return c.errorf("-u is required")
	}
	u, err := urlparse.Parse(*rawURL)
	if err != nil {
		return c.errorf("%v", err)
	}

	e, err := common.setup(ctx, c.stderr)
	if err != nil {
		return c.errorf("%v", err)
	}
	defer e.Close()

	req, err := c.prepare(*file, *typed || e.cfg.SendAsTyped)
	if err != nil {
		return c.errorf("reading request: %v", err)
	}
	if strings.TrimSpace(req) == "" {
		req = payload.DefaultRequest(u)
	}
	c.checkHeaders(req)

	opts, err := e.cfg.EngineOptions()
	if err != nil {
		return c.errorf("%v", err)
	}
	opts.SendAsTyped = opts.SendAsTyped || *typed
	if *timeout > 0 {
		opts.TransactionTimeout = *timeout
	}
	if *connectIP != "" {
		opts.ConnectIP = *connectIP
	}
	if *fingerprint != "" {
		opts.Fingerprint = *fingerprint
	}
	if *proxyURL != "" {
		if opts.Proxy, err = transport.ParseProxyURL(*proxyURL); err != nil {
			return c.errorf("%v", err)
		}
	}
	opts.Logger = e.logger
	opts.Metrics = e.metrics

	res := <-engine.New(opts).SendTargetAsync(ctx, engine.TargetFromURL(u), req)

	if *asJSON {
		if err := writeJSON(c.stdout, newResultView("", res)); err != nil {
			return c.errorf("encoding result: %v", err)
		}
	} else {
		printResult(c.stdout, "", res)
	}
	if res.Err != nil {
		return 1
	}
	return 0
}

func (c *cli) runLength(args []string) int {
	fs := c.newFlagSet("length")
	file := fs.String("f", "-", "request file, - for stdin")
	typed := fs.Bool("typed", false, "count line endings exactly as typed")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	req, err := c.prepare(*file, *typed)
	if err != nil {
		return c.errorf("reading request: %v", err)
	}
	n := payload.BodyLength(req)
	fmt.Fprintf(c.stdout, "%d (0x%s)\n", n, length.Hex(n))
	return 0
}

func (c *cli) runTransform(name string, args []string) int {
	fs := c.newFlagSet(name)
	file := fs.String("f", "-", "request file, - for stdin")
	typed := fs.Bool("typed", false, "keep line endings exactly as typed")
	probePath := fs.String("path", "", "path of the smuggled request (te-cl, cl-te)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	req, err := c.prepare(*file, *typed)
	if err != nil {
		return c.errorf("reading request: %v", err)
	}

	out, err := config.ApplyTransform(name, req, payload.WithProbePath(*probePath))
	fmt.Fprint(c.stdout, out)
	if err != nil {
		// The text is still usable; it is printed unchanged.
		c.warnf("%v", err)
		return 1
	}
	return 0
}

func (c *cli) runTemplate(args []string) int {
	fs := c.newFlagSet("template")
	rawURL := fs.String("u", "", "target URL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *rawURL == "" && fs.NArg() > 0 {
		*rawURL = fs.Arg(0)
	}
	if *rawURL == "" {
		return c.errorf("-u is required")
	}

	u, err := urlparse.Parse(*rawURL)
	if err != nil {
		return c.errorf("%v", err)
	}
	fmt.Fprint(c.stdout, payload.DefaultRequest(u))
	return 0
}

func (c *cli) runBatch(ctx context.Context, args []string) int {
	fs := c.newFlagSet("batch")
	var common commonFlags
	common.register(fs)
	file := fs.String("f", "", "YAML request file")
	workers := fs.Int("workers", 0, "concurrent transactions")
	rps := fs.Float64("rps", 0, "max transactions started per second, 0 for no limit")
	asJSON := fs.Bool("json", false, "print results as JSON")
	proxyURL := fs.String("proxy", "", "upstream proxy: http://host:port, socks5://, socks5h://")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		return c.errorf("-f is required")
	}

	e, err := common.setup(ctx, c.stderr)
	if err != nil {
		return c.errorf("%v", err)
	}
	defer e.Close()

	jobs, err := config.LoadRequests(*file)
	if err != nil {
		return c.errorf("%v", err)
	}

	opts, err := e.cfg.EngineOptions()
	if err != nil {
		return c.errorf("%v", err)
	}
	if *proxyURL != "" {
		if opts.Proxy, err = transport.ParseProxyURL(*proxyURL); err != nil {
			return c.errorf("%v", err)
		}
	}
	opts.Logger = e.logger
	opts.Metrics = e.metrics
	// Request text was already prepared by LoadRequests.
	opts.SendAsTyped = true

	if *workers <= 0 {
		*workers = e.cfg.Workers
	}
	if *rps <= 0 {
		*rps = e.cfg.RPS
	}

	runner := batch.New(engine.New(opts), batch.Options{
		Workers: *workers,
		RPS:     *rps,
		Metrics: e.metrics,
		Logger:  e.logger,
	})

	start := time.Now()
	failed := 0
	var views []resultView
	for res := range runner.Run(ctx, jobs) {
		if res.Err != nil {
			failed++
		}
		if *asJSON {
			views = append(views, newResultView(res.Job.Name, res.Result))
			continue
		}
		printBatchLine(c.stdout, res)
	}

	if *asJSON {
		if err := writeJSON(c.stdout, views); err != nil {
			return c.errorf("encoding results: %v", err)
		}
	} else {
		fmt.Fprintf(c.stdout, "\n%s %d sent, %d failed, peak %d in flight, %s\n",
			labelStyle.Render("done:"), len(jobs), failed, runner.Peak(),
			time.Since(start).Round(time.Millisecond))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func (c *cli) runFingerprints() int {
	for _, name := range tlsconfig.FingerprintNames() {
		fmt.Fprintln(c.stdout, name)
	}
	return 0
}
