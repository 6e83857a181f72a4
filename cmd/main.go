// Command parts-workflow serves the parts workflow API and runs the reminder
// and warranty scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/parts-workflow/internal/config"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/handlers"
	"github.com/ukydev/parts-workflow/internal/history"
	"github.com/ukydev/parts-workflow/internal/middleware"
	"github.com/ukydev/parts-workflow/internal/notify"
	"github.com/ukydev/parts-workflow/internal/reconcile"
	"github.com/ukydev/parts-workflow/internal/scheduler"
	"github.com/ukydev/parts-workflow/internal/workflow"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions holds the global flags.
type rootOptions struct {
	envFile string
	memory  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "parts-workflow",
		Short:         "Parts workflow state and history service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file read before the environment")
	cmd.PersistentFlags().BoolVar(&opts.memory, "memory", false, "keep state in memory instead of MongoDB")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newScanCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}
}

func newScanCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one reminder and warranty scan and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.close()
			res := a.sched.Scan(time.Now())
			a.engine.Wait()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// app wires the engine, the notification feed and the scheduler.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	registry *prometheus.Registry
	engine   *workflow.Engine
	feed     *notify.Feed
	sched    *scheduler.Scheduler
	limiter  *middleware.RateLimitMiddleware
	closers  []func()
}

func setup(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, registry: prometheus.NewRegistry(), limiter: middleware.NewRateLimitMiddleware()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	remote, audit, err := a.openStore(ctx, opts.memory)
	if err != nil {
		return nil, err
	}

	a.engine = workflow.New(remote, workflow.Options{
		Logger:   logger,
		Location: loc,
		Metrics:  reconcile.NewMetrics(a.registry),
		History: history.Options{
			DebounceWindow: cfg.DebounceWindow,
			Retention:      cfg.AuditRetention,
			Logger:         logger,
			Audit:          audit,
		},
	})
	a.closers = append(a.closers, a.engine.Close)
	if err := a.engine.Hydrate(ctx); err != nil {
		a.close()
		return nil, err
	}

	var publisher notify.Publisher
	if cfg.MQTTBroker != "" {
		p, err := notify.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			// notifications still reach the API feed
			logger.WithError(err).WithField("broker", cfg.MQTTBroker).Warn("MQTT unavailable, publishing disabled")
		} else {
			publisher = p
			a.closers = append(a.closers, p.Close)
		}
	}
	a.feed = notify.NewFeed(notify.FeedOptions{Publisher: publisher, Logger: logger})
	a.closers = append(a.closers, a.feed.Close)

	a.sched = scheduler.New(a.engine, a.feed, scheduler.Options{
		Interval:     cfg.ScanInterval,
		StartupDelay: cfg.ScanStartupDelay,
		WarnWindow:   cfg.WarnWindow(),
		Location:     loc,
		Logger:       logger,
	})
	return a, nil
}

// openStore returns the remote store and the audit collection.
func (a *app) openStore(ctx context.Context, memory bool) (db.RecordCollection, db.AuditCollection, error) {
	if memory {
		a.log.Warn("Using in-memory store, state is lost on exit")
		return db.NewMemoryRecordStore(), nil, nil
	}
	client, err := db.ConnectMongo(ctx, a.cfg.MongoURI)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = client.Disconnect(ctx)
	})
	database := client.Database(a.cfg.MongoDB)
	store := db.NewMongoRecordStore(database)
	if err := store.EnsureIndexes(ctx); err != nil {
		a.close()
		return nil, nil, err
	}
	a.log.WithField("database", a.cfg.MongoDB).Info("Connected to MongoDB")
	return store, db.NewMongoAuditStore(database), nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) router() http.Handler {
	return handlers.NewRouter(a.engine, a.feed, handlers.Options{
		RequireAttachment: a.cfg.RequireAttachment,
		RateLimit:         a.cfg.RateLimit,
		RateLimitWindow:   a.cfg.RateLimitWindow,
		Limiter:           a.limiter,
		Gatherer:          a.registry,
		Scanner:           a.sched,
		Logger:            a.log,
	})
}

// serve runs the scheduler and the HTTP server until ctx is done.
func (a *app) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan error, 1)
	go func() { schedDone <- a.sched.Run(ctx) }()
	if a.cfg.RateLimitWindow > 0 {
		go a.limiter.PruneEvery(ctx, a.cfg.RateLimitWindow)
	}

	srvErr := make(chan error, 1)
	go func() {
		a.log.WithField("port", a.cfg.Port).Info("HTTP server listening")
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.log.Info("Shutting down")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	cancel()
	<-schedDone
	a.engine.Wait()
	return nil
}
