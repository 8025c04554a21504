// Command smartboot probes pages with the experiment bootstrap loader.
//
// Usage:
//
//	smartboot -resolve https://shop.example/?id=42           # print config and request URL
//	smartboot -combination '_vis_opt_exp_12_combi=1,2'       # print the combination token
//	smartboot -probe https://shop.example/ -driver browser   # run one probe and exit
//	smartboot -config smartboot.yaml                         # probe configured pages, serve the API
//	smartboot -mcp -db runs.db                               # serve MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/smartboot"
	"github.com/hazyhaar/smartboot/bootstrap"
	"github.com/hazyhaar/smartboot/internal/api"
	"github.com/hazyhaar/smartboot/internal/store"
)

const version = "1.0.0"

type options struct {
	configPath  string
	resolveURL  string
	combination string
	probeURL    string
	driver      string
	cookie      string
	dbPath      string
	addr        string
	mcp         bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to smartboot.yaml config file")
	flag.StringVar(&o.resolveURL, "resolve", "", "print the resolved config for a page address and exit")
	flag.StringVar(&o.combination, "combination", "", "print the combination token for a cookie string and exit")
	flag.StringVar(&o.probeURL, "probe", "", "probe a single page and exit")
	flag.StringVar(&o.driver, "driver", "html", "probe driver: html or browser")
	flag.StringVar(&o.cookie, "cookie", "", "cookie string sent with -probe and used by -resolve")
	flag.StringVar(&o.dbPath, "db", "", "path to the run database (overrides config)")
	flag.StringVar(&o.addr, "addr", "", "HTTP API listen address (overrides config)")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("smartboot: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	switch {
	case o.resolveURL != "":
		return printJSON(smartboot.Resolve(o.resolveURL, o.cookie, cfg.Overrides()))
	case o.combination != "":
		fmt.Println(bootstrap.EncodeCombination(o.combination))
		return nil
	case o.probeURL != "":
		return runProbe(ctx, logger, cfg, o)
	case o.mcp:
		return runMCP(ctx, logger, cfg)
	case o.configPath != "":
		return runServe(ctx, logger, cfg)
	}

	fmt.Fprintln(os.Stderr, "usage: smartboot -resolve <url> | -combination <cookie> | -probe <url> | -config <file> | -mcp")
	os.Exit(2)
	return nil
}

func loadConfig(o options) (*smartboot.Config, error) {
	var (
		cfg *smartboot.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = smartboot.LoadConfigFile(o.configPath)
	} else {
		cfg, err = smartboot.DefaultConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.Store.Path = o.dbPath
	}
	if o.addr != "" {
		cfg.HTTP.Addr = o.addr
	}
	return cfg, nil
}

// newProber wires the configured sinks and, when a database path is set,
// the run store. The store is closed with the prober.
func newProber(logger *slog.Logger, cfg *smartboot.Config, extra ...smartboot.Sink) (*smartboot.Prober, *store.Store, error) {
	sinks, err := smartboot.SinksFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, extra...)

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		sinks = append(sinks, st)
	}
	return smartboot.New(cfg, logger, smartboot.WithSinks(sinks...)), st, nil
}

func runProbe(ctx context.Context, logger *slog.Logger, cfg *smartboot.Config, o options) error {
	cfg.Sinks = nil
	p, _, err := newProber(logger, cfg, smartboot.NewStdoutSink(os.Stdout))
	if err != nil {
		return err
	}
	defer p.Close()

	_, err = p.Probe(ctx, smartboot.ProbeRequest{
		URL:    o.probeURL,
		Driver: smartboot.Driver(o.driver),
		Cookie: o.cookie,
	})
	return err
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *smartboot.Config) error {
	p, st, err := newProber(logger, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := mcp.NewServer(&mcp.Implementation{Name: "smartboot", Version: version}, nil)
	var runs smartboot.RunReader
	if st != nil {
		runs = st
	}
	p.RegisterMCP(srv, runs)

	logger.Info("smartboot: mcp serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func runServe(ctx context.Context, logger *slog.Logger, cfg *smartboot.Config) error {
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []smartboot.SinkConfig{{Type: "stdout"}}
	}
	p, st, err := newProber(logger, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	probed := make(chan struct{})
	go func() {
		defer close(probed)
		p.ProbeConfigured(ctx)
	}()
	defer func() {
		cancel()
		<-probed
	}()

	var runs smartboot.RunReader
	if st != nil {
		runs = st
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.New(p, runs, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("smartboot: http starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	}

	logger.Info("smartboot: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("smartboot: shutdown", "error", err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
