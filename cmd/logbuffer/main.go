package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Pharos-AI/utils/buffer"
	"github.com/Pharos-AI/utils/config"
	"github.com/Pharos-AI/utils/correlation"
	"github.com/Pharos-AI/utils/entry"
	"github.com/Pharos-AI/utils/ingest"
	"github.com/Pharos-AI/utils/logging"
	"github.com/Pharos-AI/utils/metrics"
	"github.com/Pharos-AI/utils/sink"
	"github.com/Pharos-AI/utils/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	app := NewApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func NewApp() *cli.App {
	return &cli.App{
		Name:    "logbuffer",
		Usage:   "buffer structured log entries and ship them in batches",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"LOGBUFFER_CONFIG"},
				Usage:   "path to TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "diagnostic log level (debug, info, warn, error); overrides config",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "write diagnostic logs to file instead of stderr",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "diagnostic logs in JSONL format",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			sendCommand(),
			listCommand(),
			pruneCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the ingest server backed by SQLite",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (overrides ingest.addr)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "database path (overrides storage.path)",
			},
		},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(rt *env) error {
				if addr := c.String("addr"); addr != "" {
					rt.cfg.Ingest.Addr = addr
				}
				if db := c.String("db"); db != "" {
					rt.cfg.Storage.Path = db
				}
				return runServe(rt)
			})
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "build one entry and flush it through the configured sink",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Value: string(entry.CategoryEvent), Usage: "Error, Warning, Event or Debug"},
			&cli.StringFlag{Name: "level", Usage: "ERROR, WARNING, INFO, DEBUG, FINE, FINER or FINEST"},
			&cli.StringFlag{Name: "type", Usage: "entry type, e.g. Frontend or Backend"},
			&cli.StringFlag{Name: "area", Usage: "functional area"},
			&cli.StringFlag{Name: "summary", Usage: "short description"},
			&cli.StringFlag{Name: "details", Usage: "long description"},
			&cli.StringFlag{Name: "record-id", Usage: "related record id"},
			&cli.StringFlag{Name: "object", Usage: "related object API name"},
			&cli.StringFlag{Name: "transaction-id", Usage: "correlation id (generated when empty)"},
			&cli.DurationFlag{Name: "duration", Usage: "elapsed time of the logged operation"},
			&cli.StringFlag{Name: "error", Usage: "error message to attach"},
			&cli.StringFlag{Name: "stack", Usage: "stack text used for provenance instead of the local stack"},
			&cli.StringFlag{Name: "metrics-file", Usage: "write flush metrics to this file in Prometheus text format"},
		},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(rt *env) error {
				return runSend(c, rt)
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "print stored entries as JSON lines",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "maximum entries"},
			&cli.StringFlag{Name: "transaction-id", Usage: "only entries of this transaction"},
			&cli.StringFlag{Name: "category", Usage: "only entries of this category"},
			&cli.StringFlag{Name: "db", Usage: "database path (overrides storage.path)"},
		},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(rt *env) error {
				if db := c.String("db"); db != "" {
					rt.cfg.Storage.Path = db
				}
				return runList(c, rt)
			})
		},
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "delete stored entries older than a duration",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "older-than", Value: 30 * 24 * time.Hour, Usage: "age cutoff"},
			&cli.StringFlag{Name: "db", Usage: "database path (overrides storage.path)"},
		},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(rt *env) error {
				if db := c.String("db"); db != "" {
					rt.cfg.Storage.Path = db
				}
				olderThan := c.Duration("older-than")
				if olderThan <= 0 {
					return fmt.Errorf("--older-than must be positive")
				}
				return runPrune(c, rt, olderThan)
			})
		},
	}
}

type env struct {
	cfg    *config.Config
	logger logging.Logger
	out    io.Writer
}

// withEnv loads the config, applies the global log flags and builds the
// diagnostic logger for one command.
func withEnv(c *cli.Context, fn func(rt *env) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if c.Bool("json") {
		cfg.Log.Format = "json"
	}

	logger, cleanup, err := initLogger(cfg.Log.Format == "json", cfg.Log.Level, c.String("log-file"), true)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(&env{cfg: cfg, logger: logger, out: c.App.Writer})
}

func initLogger(jsonOutput bool, level, logFile string, sanitize bool) (logging.Logger, func(), error) {
	var out io.Writer = os.Stderr
	cleanup := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		cleanup = func() { f.Close() }
	}

	format := "human"
	if jsonOutput {
		format = "json"
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Output:    out,
		Formatter: logging.NewFormatter(format, out),
		Level:     logging.ParseLevel(level),
		Sanitize:  sanitize,
	})
	return logger, cleanup, nil
}

func runServe(rt *env) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenDB(rt.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	var scrubber *storage.Scrubber
	if rt.cfg.Scrub.Enabled {
		ruleRepo := storage.NewSQLiteScrubRuleRepo(db)
		if err := ruleRepo.Seed(); err != nil {
			return fmt.Errorf("seed scrub rules: %w", err)
		}
		if scrubber, err = storage.NewScrubberWithRepo(ruleRepo); err != nil {
			return fmt.Errorf("init scrubber: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := ingest.NewServer(ingest.ServerConfig{
		Addr:           rt.cfg.Ingest.Addr,
		APIKey:         rt.cfg.Ingest.APIKey,
		MaxBodyBytes:   rt.cfg.Ingest.MaxBodyBytes,
		Repo:           storage.NewSQLiteEntryRepo(db),
		Scrubber:       scrubber,
		RequestsPerMin: rt.cfg.Ingest.RequestsPerMin,
		MaxConns:       rt.cfg.Ingest.MaxConns,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Logger:         rt.logger,
	})
	if err != nil {
		return err
	}

	srv.SetReadyCallback(func() {
		fmt.Fprintf(rt.out, "Ingest server ready on %s (db: %s)\n", srv.Addr(), rt.cfg.Storage.Path)
	})

	return srv.Start(ctx)
}

// flushResult records the outcome of the single flush issued by send, so
// the command can exit non-zero when delivery failed.
type flushResult struct {
	err error
}

func (r *flushResult) ObserveFlush(_ int, _ time.Duration, err error) {
	r.err = err
}

func runSend(c *cli.Context, rt *env) error {
	category, ok := entry.ParseCategory(c.String("category"))
	if !ok {
		return fmt.Errorf("unknown category %q", c.String("category"))
	}
	var level entry.Level
	if l := c.String("level"); l != "" {
		if level, ok = entry.ParseLevel(l); !ok {
			return fmt.Errorf("unknown level %q", l)
		}
	}

	s, closeSink, err := buildSink(rt.cfg, rt.out)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx := correlation.WithTransactionID(context.Background(), c.String("transaction-id"))
	ctx, txID := correlation.Ensure(ctx)

	entryOpts := []entry.Option{entry.WithRules(rt.cfg.Stack.Rules())}
	if stack := c.String("stack"); stack != "" {
		entryOpts = append(entryOpts, entry.WithStackSource(func() string { return stack }))
	}

	result := &flushResult{}
	opts := []buffer.Option{
		buffer.WithLogger(rt.logger),
		buffer.WithObserver(result),
		buffer.WithTimeout(rt.cfg.Sink.Timeout.Duration),
		buffer.WithEntryOptions(entryOpts...),
	}
	metricsFile := c.String("metrics-file")
	reg := prometheus.NewRegistry()
	if metricsFile != "" {
		opts = append(opts, buffer.WithObserver(metrics.New(reg)))
	}
	b := buffer.FromContext(ctx, s, opts...)

	e := b.NewEntry(category).
		SetLevel(level).
		SetType(c.String("type")).
		SetArea(c.String("area")).
		SetSummary(c.String("summary")).
		SetDetails(c.String("details")).
		SetRecordID(c.String("record-id")).
		SetObjectAPIName(c.String("object")).
		SetDuration(c.Duration("duration"))
	if msg := c.String("error"); msg != "" {
		e.SetErrorInfo(entry.ErrorInfo{Message: msg, Stack: c.String("stack")})
	}

	b.Flush(ctx)
	b.Wait()

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if result.err != nil {
		return fmt.Errorf("send entry: %w", result.err)
	}
	rt.logger.WithTransactionID(txID).WithFields(logging.Fields{"id": e.ID(), "sink": rt.cfg.Sink.Kind}).
		Info("send", "flush", "Entry sent")
	return nil
}

// buildSink returns the configured sink and a func releasing what it holds.
func buildSink(cfg *config.Config, stdout io.Writer) (buffer.Sink, func(), error) {
	noop := func() {}

	switch cfg.Sink.Kind {
	case config.SinkHTTP:
		s, err := sink.NewHTTP(sink.HTTPConfig{
			URL:     cfg.Sink.URL,
			APIKey:  cfg.Sink.APIKey,
			Gzip:    cfg.Sink.Gzip,
			Timeout: cfg.Sink.Timeout.Duration,
		})
		return s, noop, err

	case config.SinkWebSocket:
		s, err := sink.NewWebSocket(sink.WebSocketConfig{
			URL:     cfg.Sink.URL,
			APIKey:  cfg.Sink.APIKey,
			Timeout: cfg.Sink.Timeout.Duration,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.SinkStdout:
		if cfg.Scrub.Enabled {
			return sink.NewWriter(stdout, storage.NewScrubber(storage.DefaultScrubPatterns...)), noop, nil
		}
		return sink.NewWriter(stdout, nil), noop, nil

	case config.SinkDB:
		db, err := storage.OpenDB(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		var scrubber *storage.Scrubber
		if cfg.Scrub.Enabled {
			scrubber = storage.NewScrubber(storage.DefaultScrubPatterns...)
		}
		return storage.NewDBSink(storage.NewSQLiteEntryRepo(db), scrubber), func() { db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}

func runList(c *cli.Context, rt *env) error {
	opts := storage.ListOptions{
		TransactionID: c.String("transaction-id"),
		Limit:         c.Int("limit"),
	}
	if cat := c.String("category"); cat != "" {
		category, ok := entry.ParseCategory(cat)
		if !ok {
			return fmt.Errorf("unknown category %q", cat)
		}
		opts.Category = category
	}

	db, err := storage.OpenDB(rt.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	records, err := storage.NewSQLiteEntryRepo(db).List(opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(rt.out)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write entry: %w", err)
		}
	}
	return nil
}

func runPrune(c *cli.Context, rt *env, olderThan time.Duration) error {
	db, err := storage.OpenDB(rt.cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	n, err := storage.NewSQLiteEntryRepo(db).Prune(time.Now().Add(-olderThan))
	if err != nil {
		return err
	}

	rt.logger.WithFields(logging.Fields{"deleted": n, "older_than": olderThan.String()}).
		Info("prune", "delete", "Entries pruned")
	fmt.Fprintf(rt.out, "Deleted %d entries\n", n)
	return nil
}
