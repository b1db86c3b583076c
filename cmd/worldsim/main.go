// Command worldsim runs social grid episodes with the scripted policy, or
// serves environments to external policies over HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/socialgrid/internal/api"
	"github.com/talgya/socialgrid/internal/config"
	"github.com/talgya/socialgrid/internal/engine"
	"github.com/talgya/socialgrid/internal/persistence"
)

func main() {
	var (
		cfgPath     = flag.String("config", "", "task YAML file (default: built-in task)")
		episodes    = flag.Int("episodes", 1, "episodes to run")
		seed        = flag.Int64("seed", 0, "seed of the first episode; 0 uses the task seed")
		policySeed  = flag.Int64("policy-seed", 1, "seed of the scripted policy")
		speed       = flag.Float64("speed", 0, "ticks per second; 0 runs unpaced")
		dbPath      = flag.String("db", os.Getenv("SOCIALGRID_DB"), "SQLite file to record runs into")
		tracePath   = flag.String("trace", "", "zstd JSONL observation trace to write")
		serveAddr   = flag.String("serve", os.Getenv("SOCIALGRID_ADDR"), "serve the API on this address instead of running episodes")
		metricsAddr = flag.String("metrics", "", "expose Prometheus metrics on this address while running episodes")
		origins     = flag.String("cors", "", "comma-separated allowed origins for the API")
		logLevel    = flag.String("log-level", "info", "debug, info, warn or error")
	)
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "bad -log-level %q\n", *logLevel)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg := config.Default()
	task := "default"
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		task = strings.TrimSuffix(filepath.Base(*cfgPath), filepath.Ext(*cfgPath))
	}
	slog.Info("task loaded",
		"task", task,
		"players", cfg.PlayerCount(),
		"max_length", cfg.Task.MaxLength,
		"negotiation_steps", cfg.Task.Negotiation.NegotiationSteps,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── API mode ─────────────────────────────────────────────────────
	if *serveAddr != "" {
		opts := api.Options{}
		if *origins != "" {
			opts.CORSOrigins = strings.Split(*origins, ",")
		}
		srv := api.NewServer(cfg, opts)
		defer srv.Close()
		if err := srv.ListenAndServe(ctx, *serveAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// ── Episode mode ─────────────────────────────────────────────────
	env := engine.NewEnvironment(cfg)
	runner := engine.NewScriptedRunner(env, *policySeed)
	runner.Speed = *speed
	api.Instrument(runner)

	if *dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
			slog.Error("failed to create database directory", "error", err)
			os.Exit(1)
		}
		db, err := persistence.Open(*dbPath)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		rec, err := db.NewRecorder(task)
		if err != nil {
			slog.Error("failed to start run", "error", err)
			os.Exit(1)
		}
		rec.Attach(runner)
	}

	var trace *persistence.TraceWriter
	if *tracePath != "" {
		var err error
		trace, err = persistence.CreateTrace(*tracePath)
		if err != nil {
			slog.Error("failed to create trace", "error", err)
			os.Exit(1)
		}
		trace.Attach(runner)
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", api.MetricsHandler())
		go func() {
			slog.Info("metrics listening", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	prev := runner.OnEpisode
	runner.OnEpisode = func(sum engine.EpisodeSummary) {
		total := 0.0
		for _, r := range sum.Returns {
			total += r
		}
		slog.Info("episode done",
			"episode", sum.Episode,
			"seed", sum.Seed,
			"steps", sum.Steps,
			"groups", sum.Groups,
			"total_return", fmt.Sprintf("%.2f", total),
			"duration", sum.Duration.Round(time.Millisecond),
		)
		if prev != nil {
			prev(sum)
		}
	}

	first := *seed
	if first == 0 {
		first = cfg.Task.Seed
	}
	start := time.Now()
	sums, runErr := runner.Run(ctx, *episodes, first)

	if trace != nil {
		if err := trace.Close(); err != nil {
			slog.Error("failed to close trace", "error", err)
		} else if st, err := os.Stat(*tracePath); err == nil {
			slog.Info("trace written",
				"path", *tracePath,
				"frames", humanize.Comma(int64(trace.Lines())),
				"size", humanize.Bytes(uint64(st.Size())),
			)
		}
	}

	ticks := 0
	for _, s := range sums {
		ticks += s.Steps
	}
	slog.Info("run finished",
		"episodes", len(sums),
		"ticks", humanize.Comma(int64(ticks)),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			slog.Info("interrupted")
			return
		}
		slog.Error("episode aborted", "error", runErr)
		os.Exit(1)
	}
}
