package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/WhileEndless/go-desync/pkg/batch"
	"github.com/WhileEndless/go-desync/pkg/engine"
	"github.com/WhileEndless/go-desync/pkg/errors"
	"github.com/WhileEndless/go-desync/pkg/metrics"
)

var (
	primary = lipgloss.Color("#7D56F4")
	success = lipgloss.Color("#00D26A")
	warning = lipgloss.Color("#FFB800")
	failure = lipgloss.Color("#FF3838")
	muted   = lipgloss.Color("#6B7280")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(primary).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(failure).Bold(true)
)

func outcomeStyle(o metrics.Outcome) lipgloss.Style {
	switch o {
	case metrics.OutcomeResponse:
		return successStyle
	case metrics.OutcomeNoResponse, metrics.OutcomeCanceled:
		return warnStyle
	default:
		return errorStyle
	}
}

// resultView is the JSON shape of one transaction.
type resultView struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	Target     string      `json:"target"`
	Outcome    string      `json:"outcome"`
	ElapsedMS  int64       `json:"elapsed_ms"`
	Attempts   int         `json:"attempts"`
	NoResponse bool        `json:"no_response"`
	Error      string      `json:"error,omitempty"`
	ErrorType  string      `json:"error_type,omitempty"`
	Status     int         `json:"status,omitzero"`
	TLSVersion string      `json:"tls_version,omitempty"`
	Cipher     string      `json:"cipher,omitempty"`
	Timings    timingsView `json:"timings"`
	Request    string      `json:"request"`
	Response   string      `json:"response,omitempty"`
}

type timingsView struct {
	DNSMS  float64 `json:"dns_ms"`
	TCPMS  float64 `json:"tcp_ms"`
	TLSMS  float64 `json:"tls_ms"`
	TTFBMS float64 `json:"ttfb_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func newResultView(name string, res engine.Result) resultView {
	v := resultView{
		ID:         res.ID,
		Name:       name,
		Target:     res.Target.String(),
		Outcome:    string(res.Outcome()),
		ElapsedMS:  res.ElapsedMillis(),
		Attempts:   res.Attempts,
		NoResponse: res.NoResponse,
		Error:      res.Error(),
		ErrorType:  string(errors.GetErrorType(res.Err)),
		TLSVersion: res.Conn.TLSVersion,
		Cipher:     res.Conn.CipherSuite,
		Timings: timingsView{
			DNSMS:  millis(res.Timings.DNSLookup),
			TCPMS:  millis(res.Timings.TCPConnect),
			TLSMS:  millis(res.Timings.TLSHandshake),
			TTFBMS: millis(res.Timings.TTFB),
		},
		Request:  string(res.Request),
		Response: string(res.Response),
	}
	if parsed, err := res.Parse(); err == nil {
		v.Status = parsed.StatusCode
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v, jsontext.WithIndent("  "))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printResult renders one transaction for a terminal.
func printResult(w io.Writer, name string, res engine.Result) {
	v := newResultView(name, res)

	header := v.Target
	if name != "" {
		header = name + "  " + header
	}
	fmt.Fprintln(w, titleStyle.Render(header))
	fmt.Fprintf(w, "%s %s  %s %dms  %s %d\n",
		labelStyle.Render("outcome"), outcomeStyle(res.Outcome()).Render(v.Outcome),
		labelStyle.Render("elapsed"), v.ElapsedMS,
		labelStyle.Render("attempts"), v.Attempts,
	)
	if v.TLSVersion != "" {
		fmt.Fprintf(w, "%s %s  %s %s\n",
			labelStyle.Render("tls"), v.TLSVersion,
			labelStyle.Render("cipher"), v.Cipher,
		)
	}
	if res.Err != nil {
		fmt.Fprintln(w, errorStyle.Render(v.Error))
		return
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, v.Response)
	if !strings.HasSuffix(v.Response, "\n") {
		fmt.Fprintln(w)
	}
}

// printBatchLine renders one batch result as a single summary line.
func printBatchLine(w io.Writer, res batch.Result) {
	name := res.Job.Name
	status := "-"
	if parsed, err := res.Parse(); err == nil {
		status = fmt.Sprint(parsed.StatusCode)
	}
	detail := res.Error()
	if detail == "" {
		detail = fmt.Sprintf("%d bytes", len(res.Response))
	}
	fmt.Fprintf(w, "%-20s %-14s %4s %6dms  %s\n",
		name,
		outcomeStyle(res.Outcome()).Render(string(res.Outcome())),
		status,
		res.ElapsedMillis(),
		labelStyle.Render(detail),
	)
}
