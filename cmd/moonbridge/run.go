package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/printforge/moonbridge/internal/config"
	"github.com/printforge/moonbridge/internal/database"
	"github.com/printforge/moonbridge/internal/escalate"
	"github.com/printforge/moonbridge/internal/phase"
	"github.com/printforge/moonbridge/internal/recorder"
	"github.com/printforge/moonbridge/internal/rpc"
	"github.com/printforge/moonbridge/internal/version"
)

var errReconnectExhausted = errors.New("reconnect attempts exhausted")

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath)
		},
	}
}

func runDaemon(configPath string) error {
	logger := slog.Default()

	logger.Info("starting moonbridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded",
		"printer_url", cfg.Printer.URL,
		"recorder_enabled", cfg.Recorder.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database when archival is on
	var pool *pgxpool.Pool
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Recorder.Database.Host,
			"port", cfg.Recorder.Database.Port,
			"database", cfg.Recorder.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Recorder.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		logger.Info("database connected")
	}

	client := rpc.NewClient(rpc.Config{
		HandshakeTimeout:     cfg.Transport.HandshakeTimeout,
		WriteTimeout:         cfg.Transport.WriteTimeout,
		MaxFrameSize:         cfg.Transport.MaxFrameSize,
		ReconnectMinDelay:    cfg.Transport.ReconnectMinDelay,
		ReconnectMaxDelay:    cfg.Transport.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		DefaultTimeout:       cfg.Transport.DefaultTimeout,
		SweepInterval:        cfg.Transport.SweepInterval,
	}, logger)

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec = recorder.NewRecorder(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, client, pool, logger)
	}

	// Terminal reconnect failure shuts the daemon down; everything else is
	// archived and logged.
	failed := make(chan struct{})
	var failOnce sync.Once
	client.Events().RegisterHandler(func(ev rpc.Event) {
		if rec != nil {
			rec.RecordEvent(ev)
		}
		if ev.Kind == rpc.EventReconnectFailed {
			failOnce.Do(func() { close(failed) })
		}
	})

	policy := escalate.NewPolicy(client, escalate.Config{
		GraceWindow: cfg.Escalation.GraceWindow,
	}, logger)
	policy.Start()
	defer policy.Stop()

	detector := phase.NewDetector(client, func(from, to phase.Phase) {
		logger.Info("print phase changed", "from", from, "to", to)
	}, logger)
	detector.Start()
	defer detector.Stop()

	onConnected := func() {
		detector.Reset()
		client.Discover(cfg.Printer.ClientName, version.Version, func(res *rpc.DiscoveryResult) {
			logger.Info("daemon discovery complete", "objects", len(res.Objects))
		}, func(err *rpc.RPCError) {
			logger.Error("daemon discovery failed", "method", err.Method, "error", err)
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	if rec != nil {
		if err := rec.Start(gctx); err != nil {
			return fmt.Errorf("start recorder: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return rec.Stop(stopCtx)
		})
	}

	g.Go(func() error {
		if err := client.Connect(cfg.Printer.URL, onConnected, nil); err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.Printer.URL, err)
		}
		select {
		case <-gctx.Done():
			client.Close()
			return gctx.Err()
		case <-failed:
			client.Close()
			return errReconnectExhausted
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("moonbridge stopped")
		return nil
	}
	return err
}
