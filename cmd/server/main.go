package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"

	"github.com/cachemq/cachemq/internal/config"
	"github.com/cachemq/cachemq/internal/messagestore"
	"github.com/cachemq/cachemq/internal/metrics"
	"github.com/cachemq/cachemq/internal/pubsub"
)

func main() {
	cmd := &cli.Command{
		Name:  "cachemq-server",
		Usage: "Run the pub/sub dispatch server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("CACHEMQ_CONFIG"),
				Value:   "config.yaml",
			},
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address (overrides config)",
				Sources: cli.EnvVars("CACHEMQ_ADDR"),
			},
			&cli.StringFlag{
				Name:    "journal",
				Usage:   "path to the message journal database (overrides config)",
				Sources: cli.EnvVars("CACHEMQ_JOURNAL"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if journal := c.String("journal"); journal != "" {
		cfg.Store.JournalPath = journal
	}

	storeOpts := []messagestore.Option{}
	if cfg.Store.JournalPath != "" {
		journal, err := messagestore.OpenJournal(cfg.Store.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()

		storeOpts = append(storeOpts, messagestore.WithJournal(journal))
		slog.Info("message journal enabled", "path", cfg.Store.JournalPath)
	}

	store, err := messagestore.New(storeOpts...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	stats := metrics.NewPubSub(reg)

	notify := func(clientID string, eventCode int, eventType pubsub.EventType) {
		slog.Debug("client poll hint", "client", clientID, "code", eventCode, "type", eventType)
	}

	mgr := pubsub.NewManager(store, notify, cfg.Engine(), pubsub.WithStats(stats))
	mgr.Start()
	defer mgr.Stop()

	mux := http.NewServeMux()
	attachAPI(mux, store, mgr)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-signals:
		slog.Info("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
