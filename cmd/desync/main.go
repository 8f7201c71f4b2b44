// Command desync sends raw HTTP/1.1 requests and builds request-smuggling
// probes from the command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	desync "github.com/WhileEndless/go-desync"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// cli carries the process streams so commands can be driven from tests.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}

	if len(args) < 1 {
		c.usage()
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "send":
		return c.runSend(ctx, rest)
	case "length", "len":
		return c.runLength(rest)
	case "update-cl", "te-cl", "cl-te", "rechunk":
		return c.runTransform(cmd, rest)
	case "template":
		return c.runTemplate(rest)
	case "batch":
		return c.runBatch(ctx, rest)
	case "fingerprints":
		return c.runFingerprints()
	case "-h", "--help", "help":
		c.usage()
		return 0
	case "-v", "--version", "version":
		fmt.Fprintln(stdout, "desync", desync.Version)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		c.usage()
		return 2
	}
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, titleStyle.Render("desync "+desync.Version))
	fmt.Fprint(c.stderr, `
Usage:
  desync send -u URL [-f file|-] [-typed] [-json] [-timeout d] [-proxy URL]
  desync length [-f file] [-typed]
  desync update-cl | te-cl | cl-te | rechunk [-f file] [-path p] [-typed]
  desync template -u URL
  desync batch -f requests.yaml [-workers n] [-rps r] [-json] [-proxy URL]
  desync fingerprints

Common flags (send, batch):
  -config file       YAML settings (DESYNC_* environment variables override)
  -log-file file     rotated log file
  -log-level level   debug, info, warn, error
  -metrics-addr addr expose /metrics while running

Request text is read from -f or stdin. Line endings are normalized to CRLF
unless -typed is given.
`)
}

func (c *cli) errorf(format string, args ...any) int {
	fmt.Fprintln(c.stderr, errorStyle.Render("error:"), fmt.Sprintf(format, args...))
	return 1
}

func (c *cli) warnf(format string, args ...any) {
	fmt.Fprintln(c.stderr, warnStyle.Render("warning:"), fmt.Sprintf(format, args...))
}
