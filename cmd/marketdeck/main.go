package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"marketdeck/internal/api"
	"marketdeck/internal/catalog"
	"marketdeck/internal/category"
	"marketdeck/internal/config"
	"marketdeck/internal/enrich"
	"marketdeck/internal/marketplace"
	"marketdeck/internal/metrics"
	"marketdeck/internal/scrape"
	"marketdeck/internal/version"
)

var cfgFile string

func main() {
	// Configure logging
	logrus.SetLevel(logrus.InfoLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	root := &cobra.Command{
		Use:     "marketdeck",
		Short:   "Marketplace listing ingestion engine",
		Version: version.Version,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "config.json", "path to config file")

	root.AddCommand(serveCmd(), scrapeCmd(), enrichCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine bundles the wired components shared by every command
type engine struct {
	cfg          *config.Config
	store        *catalog.Store
	filter       *category.Filter
	pool         *enrich.Pool
	orchestrator *scrape.Orchestrator
	tracker      *metrics.Tracker
}

func newEngine() (*engine, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := catalog.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	logrus.Infof("Database initialized: %s", cfg.DBPath)

	signer, err := marketplace.NewSigner()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize request signer: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	clients := map[string]marketplace.Client{
		marketplace.Mercari: marketplace.NewMercariClient(signer, cfg.Mercari.APIBaseURL, cfg.Mercari.SiteBaseURL, timeout),
		marketplace.Yahoo:   marketplace.NewYahooClient(cfg.Yahoo.APIBaseURL, cfg.Yahoo.SiteBaseURL, timeout),
	}

	cache := category.NewCache(store)
	filter := category.NewFilter(store, cache)
	tracker := metrics.NewTracker()
	pool := enrich.NewPool(cfg, store, clients, cache, tracker)
	orchestrator := scrape.NewOrchestrator(cfg, store, clients, filter, pool, scrape.NewTracker(), tracker)

	return &engine{
		cfg:          cfg,
		store:        store,
		filter:       filter,
		pool:         pool,
		orchestrator: orchestrator,
		tracker:      tracker,
	}, nil
}

func (e *engine) close(reason string) {
	logrus.Info("Final stats: " + e.tracker.LogProgress())
	if e.cfg.MetricsPath != "" {
		if err := e.tracker.WriteToFile(e.cfg.MetricsPath, reason); err != nil {
			logrus.Errorf("Failed to write metrics: %v", err)
		} else {
			logrus.Infof("Metrics written to %s", e.cfg.MetricsPath)
		}
	}
	if err := e.store.Close(); err != nil {
		logrus.Errorf("Failed to close database: %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and enrichment pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.Infof("marketdeck v%s starting...", version.Version)

			eng, err := newEngine()
			if err != nil {
				logrus.Fatalf("%v", err)
			}

			if err := eng.pool.Start(); err != nil {
				logrus.Fatalf("Failed to start enrichment pool: %v", err)
			}

			// Background scrapes (scheduled or API-triggered) run under
			// this context so shutdown can abort them before the store
			// closes underneath them.
			runCtx, stopScrapes := context.WithCancel(context.Background())
			defer stopScrapes()

			// Optional periodic full scrape
			var scheduler *cron.Cron
			if eng.cfg.ScrapeSchedule != "" {
				scheduler = cron.New()
				_, err := scheduler.AddFunc(eng.cfg.ScrapeSchedule, func() {
					if err := eng.orchestrator.StartAll(runCtx); err != nil {
						logrus.Warnf("Scheduled scrape skipped: %v", err)
					}
				})
				if err != nil {
					logrus.Fatalf("Invalid scrape schedule %q: %v", eng.cfg.ScrapeSchedule, err)
				}
				scheduler.Start()
				logrus.Infof("Scheduled full scrapes: %s", eng.cfg.ScrapeSchedule)
			}

			server := &http.Server{
				Addr:    eng.cfg.HTTPAddr,
				Handler: api.NewServer(runCtx, eng.store, eng.orchestrator, eng.filter, eng.pool).Handler(),
			}

			go func() {
				logrus.Infof("HTTP API listening on %s", eng.cfg.HTTPAddr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logrus.Fatalf("HTTP server failed: %v", err)
				}
			}()

			// Wait for signal
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			sig := <-sigChan
			logrus.Infof("Received signal: %v", sig)

			logrus.Info("Initiating graceful shutdown...")
			logrus.Info("Step 1/5: Stopping HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logrus.Warnf("HTTP shutdown incomplete: %v", err)
			}

			logrus.Info("Step 2/5: Stopping scheduler...")
			if scheduler != nil {
				<-scheduler.Stop().Done()
			}

			logrus.Info("Step 3/5: Stopping in-flight scrape...")
			stopScrapes()
			for eng.orchestrator.Status().GetSnapshot().Running {
				time.Sleep(100 * time.Millisecond)
			}

			logrus.Info("Step 4/5: Draining enrichment pool...")
			eng.pool.Stop()

			logrus.Info("Step 5/5: Writing metrics and closing database...")
			eng.close("signal")

			logrus.Info("Graceful shutdown complete. Goodbye!")
			return nil
		},
	}
}

func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [keyword-id]",
		Short: "Run a full scrape, or a single keyword, and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.Infof("marketdeck v%s starting...", version.Version)

			eng, err := newEngine()
			if err != nil {
				logrus.Fatalf("%v", err)
			}

			if err := eng.pool.Start(); err != nil {
				logrus.Fatalf("Failed to start enrichment pool: %v", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reason := "completed"
			if len(args) == 1 {
				var keywordID int64
				if _, err := fmt.Sscanf(args[0], "%d", &keywordID); err != nil {
					logrus.Fatalf("Invalid keyword id %q", args[0])
				}
				res, err := eng.orchestrator.RunKeyword(ctx, keywordID)
				if err != nil {
					logrus.Fatalf("Scrape failed: %v", err)
				}
				if res.Err != nil {
					reason = "keyword_failed"
				}
			} else {
				if _, err := eng.orchestrator.RunAll(ctx); err != nil {
					reason = "cancelled"
					logrus.Warnf("Scrape ended early: %v", err)
				}
			}

			logrus.Info("Draining enrichment backlog...")
			eng.pool.Stop()
			eng.close(reason)
			return nil
		},
	}
}

func enrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Drain the pending enrichment backlog and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logrus.Infof("marketdeck v%s starting...", version.Version)

			eng, err := newEngine()
			if err != nil {
				logrus.Fatalf("%v", err)
			}

			if err := eng.pool.Start(); err != nil {
				logrus.Fatalf("Failed to start enrichment pool: %v", err)
			}
			logrus.Infof("Draining %d pending tasks...", eng.pool.Backlog())

			// Poll until the queue empties, then let Stop finish in-flight work
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

			reason := "backlog_drained"
		drain:
			for {
				select {
				case <-ticker.C:
					if eng.pool.Backlog() == 0 {
						break drain
					}
				case sig := <-sigChan:
					logrus.Infof("Received signal: %v", sig)
					reason = "signal"
					break drain
				}
			}

			eng.pool.Stop()
			eng.close(reason)
			return nil
		},
	}
}
