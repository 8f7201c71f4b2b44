package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/WhileEndless/go-desync/pkg/config"
	"github.com/WhileEndless/go-desync/pkg/logging"
	"github.com/WhileEndless/go-desync/pkg/metrics"
)

// commonFlags are shared by the commands that touch the network.
type commonFlags struct {
	configPath  string
	logFile     string
	logLevel    string
	metricsAddr string
}

func (f *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "YAML settings file")
	fs.StringVar(&f.logFile, "log-file", "", "rotated log file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
}

// env is what a network command runs with.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	closer  io.Closer
}

func (e *env) Close() error {
	return e.closer.Close()
}

// setup loads settings, installs logging and starts the metrics endpoint.
// Flags win over the config file and environment.
func (f *commonFlags) setup(ctx context.Context, stderr io.Writer) (*env, error) {
	var (
		cfg *config.Config
		err error
	)
	if f.configPath != "" {
		cfg, err = config.LoadFile(f.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if f.logFile != "" {
		cfg.LogFile = f.logFile
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.metricsAddr != "" {
		cfg.MetricsAddr = f.metricsAddr
	}

	logger, closer := logging.Setup(logging.Options{
		File:    cfg.LogFile,
		Level:   logging.ParseLevel(cfg.LogLevel),
		Console: stderr,
	})

	e := &env{cfg: cfg, logger: logger, closer: closer}
	if cfg.MetricsAddr != "" {
		e.metrics = metrics.New()
		go func() {
			if err := e.metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics endpoint stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}
	return e, nil
}

// readInput reads request text from path, or from stdin when path is "" or "-".
func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
