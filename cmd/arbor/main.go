package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/adrg/xdg"
	"github.com/bluesky-social/arbor/util/cliutil"
	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	return newApp().Run(args)
}

func newApp() *cli.App {
	app := &cli.App{
		Name:    "arbor",
		Usage:   "rooted tree store with parent-pointer and materialized-path engines",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "engine",
			Usage:   "tree encoding: pp (parent pointer) or mp (materialized path); demo also takes both",
			Value:   "pp",
			EnvVars: []string{"ARBOR_ENGINE"},
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "storage backend: memory, pebble, badger, sqlite or postgres",
			Value:   "pebble",
			EnvVars: []string{"ARBOR_STORE"},
		},
		&cli.StringFlag{
			Name:    "db-path",
			Usage:   "directory for pebble and badger data",
			Value:   filepath.Join(xdg.DataHome, "arbor"),
			EnvVars: []string{"ARBOR_DB_PATH"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database for the sqlite and postgres stores (default: arbor.sqlite under --db-path)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   4,
			EnvVars: []string{"ARBOR_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "separator",
			Usage:   "path segment separator for the mp engine",
			Value:   ".",
			EnvVars: []string{"ARBOR_SEPARATOR"},
		},
		&cli.StringFlag{
			Name:    "move-policy",
			Usage:   "detach (children stay behind) or subtree",
			Value:   "detach",
			EnvVars: []string{"ARBOR_MOVE_POLICY"},
		},
		&cli.StringFlag{
			Name:    "siblings",
			Usage:   "override sibling inclusivity: inclusive or exclusive (default depends on engine)",
			EnvVars: []string{"ARBOR_SIBLINGS"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "node record cache size for the pp engine, 0 disables",
			Value:   10_000,
			EnvVars: []string{"ARBOR_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"ARBOR_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			EnvVars: []string{"ARBOR_LOG_FMT"},
		},
		&cli.StringFlag{
			Name:    "otel-exporter-otlp-endpoint",
			Usage:   "send engine and database spans to this OTLP HTTP collector",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "trace SQL statements of the sqlite and postgres stores",
			EnvVars: []string{"ARBOR_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "serve prometheus metrics on this address while the command runs",
			EnvVars: []string{"ARBOR_METRICS_LISTEN"},
		},
	}

	shutdownTracing := func(context.Context) error { return nil }
	app.Before = func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		if err != nil {
			return err
		}
		shutdown, err := cliutil.SetupTracing(cctx.Context, "arbor", cctx.String("otel-exporter-otlp-endpoint"))
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		shutdownTracing = shutdown
		if addr := cctx.String("metrics-listen"); addr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(addr, mux); err != nil {
					logger.Error("metrics server", "err", err)
				}
			}()
			logger.Info("serving metrics", "addr", addr)
		}
		return nil
	}

	app.After = func(cctx *cli.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
		return nil
	}

	app.Commands = []*cli.Command{
		cmdDemo,
		cmdInsert,
		cmdPush,
		cmdRemove,
		cmdMove,
		cmdQuery,
		cmdCheck,
		cmdPrint,
		cmdGen,
	}
	return app
}

func logger() *slog.Logger {
	return slog.Default().With("system", "arbor")
}
