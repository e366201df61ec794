package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/idswatch/internal/backend"
	"github.com/rewired-gh/idswatch/internal/config"
	"github.com/rewired-gh/idswatch/internal/cue"
	"github.com/rewired-gh/idswatch/internal/logger"
	"github.com/rewired-gh/idswatch/internal/metrics"
	"github.com/rewired-gh/idswatch/internal/monitor"
	"github.com/rewired-gh/idswatch/internal/poller"
	"github.com/rewired-gh/idswatch/internal/server"
	"github.com/rewired-gh/idswatch/internal/storage"
	"github.com/rewired-gh/idswatch/internal/stream"
	"github.com/rewired-gh/idswatch/internal/telegram"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "idswatch",
		Short: "Live monitor for an anomaly-detection backend",
		Long: `idswatch follows the alert stream of an intrusion detection backend,
keeps a bounded live view with a rolling risk score, and raises a cue for
critical alerts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultPath, "Path to configuration file")
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("idswatch %s\n", version)
			fmt.Printf("commit: %s\n", commit)
			fmt.Printf("built: %s\n", date)
		},
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.InitWithFile(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logger.Close()
	logger.Info("Configuration loaded from %s", configPath)

	store, err := storage.New(cfg.Cue.JournalMaxRecords, cfg.Cue.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to initialize cue journal: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close cue journal: %v", err)
		}
	}()

	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, backend.ClientConfig{
		StatusTimeout:   cfg.Backend.StatusTimeout,
		MaxRetries:      cfg.Backend.MaxRetries,
		ExplainArtifact: cfg.Backend.ExplainArtifact,
	})

	mon := monitor.New(monitor.Config{
		AlertCapacity:    cfg.Buffers.AlertCapacity,
		TimelineCapacity: cfg.Buffers.TimelineCapacity,
		RiskWindow:       cfg.Buffers.RiskWindow,
	})
	collector := metrics.New(mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cleaning up...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var sinks []cue.Sink
	if cfg.Cue.Bell {
		sinks = append(sinks, cue.NewBell(nil))
	}
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		telegramClient.ListenForCommands(ctx, func() string {
			a := mon.Risk()
			return fmt.Sprintf("Risk %d/10 (%s), backend %s", a.Score, a.Confidence, mon.Status())
		})
		sinks = append(sinks, telegramClient)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}
	if cfg.NATS.Enabled {
		publisher, err := cue.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
		logger.Info("Publishing critical alerts to NATS subject %s", cfg.NATS.Subject)
	}

	dispatcher := cue.NewDispatcher(cue.Options{
		Cooldown:      cfg.Cue.Cooldown,
		RatePerMinute: cfg.Cue.RatePerMinute,
		Observer:      collector,
	}, store, sinks...)
	defer dispatcher.Wait()

	streamManager := stream.NewManager(stream.Options{
		URL:              cfg.StreamURL(),
		ReconnectDelay:   cfg.Stream.ReconnectDelay,
		HandshakeTimeout: cfg.Stream.HandshakeTimeout,
		ReadLimit:        cfg.Stream.ReadLimit,
		Notifier:         dispatcher,
		Observer:         collector,
	}, mon)

	snapshotPoller := poller.New(client, mon, cfg.Poller.Interval, cfg.Backend.AlertsLimit, collector)

	var listener net.Listener
	if cfg.Server.Enabled {
		listener, err = server.Listen(cfg.Server.ListenAddress)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return streamManager.Run(gctx) })
	g.Go(func() error { return snapshotPoller.Run(gctx) })
	if listener != nil {
		handler := &server.Handler{
			View:     mon,
			Stream:   streamManager,
			Explain:  client,
			Journal:  store,
			Registry: collector.Registry(),
		}
		g.Go(func() error { return serveView(gctx, listener, handler.Router()) })
	}

	logger.Info("Watching %s (poll interval: %v, reconnect delay: %v)",
		cfg.Backend.BaseURL, cfg.Poller.Interval, cfg.Stream.ReconnectDelay)

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Service stopped")
	return nil
}

// serveView runs the HTTP view. A server failure is logged and never stops
// ingestion.
func serveView(ctx context.Context, ln net.Listener, handler http.Handler) error {
	if err := server.Serve(ctx, ln, handler); err != nil {
		logger.Error("HTTP server failed: %v", err)
	}
	return nil
}
