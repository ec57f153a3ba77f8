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
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-inventory/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-inventory/internal/app"
	"github.com/odyssey-erp/odyssey-inventory/internal/inventory"
	"github.com/odyssey-erp/odyssey-inventory/internal/observability"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-inventory/internal/platform/db"
	"github.com/odyssey-erp/odyssey-inventory/jobs"
)

func main() {
	if app.SkipStartup(nil, "odyssey") {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "history":
		code = runHistory(ctx, cfg, logger, args)
	case "cache":
		code = runCache(ctx, cfg, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, jobs, history or cache)\n", cmd)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer dbpool.Close()

	redisClient := cache.NewClient(cfg.RedisOptions())
	redisHealth := cache.HealthCheck{Client: redisClient, Timeout: 2 * time.Second}
	if err := redisHealth.Ping(ctx); err != nil {
		logger.Warn("redis ping, reference cache disabled until redis recovers", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics(observability.ProcessAPI)
	service := app.NewInventoryService(cfg, logger, dbpool, redisClient, metrics.Registerer())
	inventoryHandler := inventory.NewHandler(logger, service)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventoryHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
		Health: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    redisHealth,
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("http server", slog.Any("error", err))
		code = 1
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return code
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	asOf := fs.String("as-of", "", "expiry cut-off (RFC3339) for inventory:lot_expiry")
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: odyssey jobs trigger <task> [--as-of RFC3339] | jobs stats | jobs schedule")
		return 2
	}
	sub := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()

	switch sub {
	case "trigger":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "jobs trigger: task name required")
			return 2
		}
		var cutoff time.Time
		if *asOf != "" {
			cutoff, err = time.Parse(time.RFC3339, *asOf)
			if err != nil {
				fmt.Fprintf(os.Stderr, "jobs trigger: invalid --as-of: %v\n", err)
				return 2
			}
		}
		info, err := jobsCLI.Trigger(ctx, fs.Arg(0), cutoff)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "schedule":
		lines, err := jobsCLI.Schedule(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs schedule: %v\n", err)
			return 1
		}
		for _, l := range lines {
			fmt.Printf("%-32s %-12s next=%s\n", l.Task, l.Spec, l.Next.UTC().Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %q\n", sub)
		return 2
	}
	return 0
}

func runHistory(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "verify" {
		fmt.Fprintln(os.Stderr, "usage: odyssey history verify [--after SEQ] [--page N] [--json]")
		return 2
	}
	fs := flag.NewFlagSet("history verify", flag.ContinueOnError)
	after := fs.Int64("after", 0, "resume after this history seq")
	page := fs.Int("page", 0, "rows per page")
	asJSON := fs.Bool("json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	return cli.NewHistoryCLI(inventory.NewRepository(pool)).VerifyCommand(ctx, cli.HistoryVerifyOptions{
		AfterSeq:   *after,
		PageSize:   *page,
		JSONOutput: *asJSON,
	})
}

func runCache(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) != 1 || args[0] != "invalidate" {
		fmt.Fprintln(os.Stderr, "usage: odyssey cache invalidate")
		return 2
	}
	client, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		return 1
	}
	defer func() { _ = client.Close() }()

	refs := inventory.NewCachedReferenceSource(nil, app.NewReferenceCache(cfg, client), nil)
	if err := refs.Invalidate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cache invalidate: %v\n", err)
		return 1
	}
	fmt.Println("reference cache invalidated")
	return 0
}
