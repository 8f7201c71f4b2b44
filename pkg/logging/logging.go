// Package logging wires slog for go-desync and renders wire bytes for debug
// output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// File receives a rotated copy of every record. Empty disables file output.
	File  string
	Level slog.Level
	// Console receives every record as well; defaults to os.Stderr.
	Console io.Writer
}

// Setup installs a text handler writing to the console and, when
// configured, a rotating log file. The returned closer flushes the file.
func Setup(opts Options) (*slog.Logger, io.Closer) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	w := console
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				slog.Debug("log directory creation failed", "error", err)
			}
		}
		logWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    25,
			MaxBackups: 10,
			MaxAge:     14,
			Compress:   true,
		}
		w = io.MultiWriter(console, logWriter)
		closer = logWriter
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OrDefault returns l if non-nil, otherwise slog.Default().
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// ParseLevel maps debug/info/warn/error to a slog level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HexDump renders b as space-separated hex, sixteen bytes per line, with
// carriage returns and line feeds flagged as [CR] and [LF] so that stray
// bare LFs stand out.
func HexDump(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		fmt.Fprintf(&sb, "%02x ", c)
		switch c {
		case '\r':
			sb.WriteString("[CR]")
		case '\n':
			sb.WriteString("[LF]")
		}
		if (i+1)%16 == 0 && i+1 < len(b) {
			sb.WriteByte('\n')
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// Dump is a slog.LogValuer that renders its bytes with HexDump only when the
// record is actually emitted.
type Dump []byte

// LogValue implements slog.LogValuer.
func (d Dump) LogValue() slog.Value {
	return slog.StringValue(HexDump(d))
}
