// Command sqlrun splits SQL scripts into statements and runs them against a
// configured database.
//
// Usage:
//
//	sqlrun [flags] script.sql [script.sql ...]
//
// With -split the statements are printed instead of executed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/prometheus/client_golang/prometheus"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ieshan/sqlrun"
	"github.com/ieshan/sqlrun/internal/config"
	"github.com/ieshan/sqlrun/s3source"
)

// varsFlag collects repeated -var name=value flags.
type varsFlag map[string]string

func (v varsFlag) String() string {
	parts := make([]string, 0, len(v))
	for k, val := range v {
		parts = append(parts, k+"="+val)
	}
	return strings.Join(parts, ",")
}

func (v varsFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	v[name] = value
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sqlrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config file")
	dir := fs.String("dir", "", "directory script names are resolved in (default: plain file paths)")
	conn := fs.String("conn", "", "connection name")
	driver := fs.String("driver", "", "database driver: sqlite, postgres, mysql")
	dsn := fs.String("dsn", "", "data source name")
	delimiter := fs.String("delimiter", "", "statement delimiter character")
	reset := fs.String("reset", "", "reset tables before each script: none, flush, drop")
	statementTimeout := fs.Duration("statement-timeout", 0, "per-statement timeout, e.g. 30s (0 disables)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	splitOnly := fs.Bool("split", false, "print statements instead of executing them")
	progress := fs.Bool("progress", false, "show a progress bar per script")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")
	vars := varsFlag{}
	fs.Var(vars, "var", "template variable name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Source.Dir = *dir
		case "conn":
			cfg.Connection = *conn
		case "delimiter":
			cfg.Delimiter = *delimiter
		case "reset":
			cfg.Reset = *reset
		case "statement-timeout":
			cfg.StatementTimeout = statementTimeout.String()
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if *driver != "" || *dsn != "" {
		cfg.SetConnection(config.Connection{Name: cfg.Connection, Driver: *driver, DSN: *dsn})
	}
	if len(vars) > 0 && cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}
	for k, v := range vars {
		cfg.Vars[k] = v
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "invalid configuration:", err)
		return 1
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	opts, _ := cfg.RunOptions()

	scripts := fs.Args()
	if len(scripts) == 0 {
		scripts = cfg.Scripts
	}
	if len(scripts) == 0 {
		fmt.Fprintln(stderr, "no scripts given")
		fs.Usage()
		return 2
	}

	src, err := openSource(ctx, cfg)
	if err != nil {
		logger.Error("open script source", "error", err)
		return 1
	}

	if *splitOnly {
		return printStatements(ctx, logger, src, scripts, opts, stdout)
	}
	if len(cfg.Connections) == 0 {
		fmt.Fprintln(stderr, "no database connection configured; use -driver and -dsn or a config file")
		return 1
	}

	gormLevel := gormlogger.Warn
	if level <= slog.LevelDebug {
		gormLevel = gormlogger.Info
	}
	manager := sqlrun.NewConnectionManager()
	manager.SetLogger(logger, gormLevel)
	registry := prometheus.NewRegistry()
	manager.SetMetrics(sqlrun.NewMetrics(registry))
	for _, c := range cfg.Connections {
		manager.SetDsn(c.Name, c.Driver, c.DSN)
	}
	defer func() {
		if err := manager.CloseAll(); err != nil {
			logger.Warn("close connections", "error", err)
		}
	}()

	code := 0
	for _, script := range scripts {
		scriptOpts := opts
		var bar *pb.ProgressBar
		if *progress {
			bar = pb.New(0).Set("prefix", script+" ")
			bar.SetWriter(stderr)
			bar.Start()
			scriptOpts.Progress = func(done, total int) {
				bar.SetTotal(int64(total))
				bar.SetCurrent(int64(done))
			}
		}
		_, err := manager.RunScriptFile(ctx, cfg.Connection, src, script, scriptOpts)
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			logger.Error("script failed", "script", script, "error", err)
			code = 1
			break
		}
	}

	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, registry); err != nil {
			logger.Error("write metrics", "path", *metricsFile, "error", err)
			code = 1
		}
	}
	return code
}

func openSource(ctx context.Context, cfg config.Config) (sqlrun.Source, error) {
	if s3cfg, ok := cfg.S3Config(); ok {
		return s3source.New(ctx, s3cfg)
	}
	if cfg.Source.Dir != "" {
		return sqlrun.NewDirSource(cfg.Source.Dir), nil
	}
	return sqlrun.OSSource{}, nil
}

func printStatements(ctx context.Context, logger *slog.Logger, src sqlrun.Source, scripts []string, opts sqlrun.RunOptions, stdout io.Writer) int {
	delimiter := string(opts.Delimiter)
	for _, script := range scripts {
		text, err := sqlrun.ReadScript(ctx, src, script)
		if err != nil {
			logger.Error("read script", "script", script, "error", err)
			return 1
		}
		statements, err := sqlrun.PrepareStatements(text, opts)
		if err != nil {
			var unresolved *sqlrun.UnresolvedVariableError
			if errors.As(err, &unresolved) {
				logger.Error("missing template variable; pass -var "+unresolved.Name+"=...", "script", script)
			} else {
				logger.Error("prepare script", "script", script, "error", err)
			}
			return 1
		}
		for _, statement := range statements {
			fmt.Fprintf(stdout, "%s%s\n", statement, delimiter)
		}
	}
	return 0
}
