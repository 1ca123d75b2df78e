package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/transitops/stationlink/internal/opsserver"
	"github.com/transitops/stationlink/pkg/client"
	"github.com/transitops/stationlink/pkg/discovery"
)

func runCmd() *cobra.Command {
	var (
		stationID      string
		opsAddr        string
		discoveryHosts []string
		discoveryPorts []int
		tokenFile      string
		requireAuth    bool
		subscriptions  []string
		heartbeat      time.Duration
		logFormat      string
		logLevel       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the synchronization client",
		Long: `Run the synchronization client against the station's dispatch server.

Examples:
  stationlinkd run --station-id S1
  stationlinkd run --station-id S1 --discovery-hosts 10.8.0.10,10.8.0.11 \
      --discovery-ports 8720,8721 --subscribe queue,booking,finance \
      --token-file /var/lib/stationlink/token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger(logFormat, logLevel)
			if err != nil {
				return err
			}
			return runDaemon(daemonOptions{
				stationID:      stationID,
				opsAddr:        opsAddr,
				discoveryHosts: discoveryHosts,
				discoveryPorts: discoveryPorts,
				tokenFile:      tokenFile,
				requireAuth:    requireAuth,
				subscriptions:  subscriptions,
				heartbeat:      heartbeat,
				logger:         logger,
			})
		},
	}

	cmd.Flags().StringVar(&stationID, "station-id", "", "Station identifier (required)")
	cmd.Flags().StringVar(&opsAddr, "ops-addr", ":9190", "Listen address for /healthz, /status, /metrics")
	cmd.Flags().StringSliceVar(&discoveryHosts, "discovery-hosts", []string{"127.0.0.1"}, "Hosts probed for a station server")
	cmd.Flags().IntSliceVar(&discoveryPorts, "discovery-ports", []int{discovery.DefaultPort}, "Ports probed on each host")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "File containing the bearer credential (optional)")
	cmd.Flags().BoolVar(&requireAuth, "require-auth", false, "Hold the connection idle until authentication succeeds")
	cmd.Flags().StringSliceVar(&subscriptions, "subscribe", []string{"queue", "booking", "finance"}, "Entity types to stream")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat-interval", 30*time.Second, "Liveness probe interval")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	cmd.MarkFlagRequired("station-id")

	return cmd
}

type daemonOptions struct {
	stationID      string
	opsAddr        string
	discoveryHosts []string
	discoveryPorts []int
	tokenFile      string
	requireAuth    bool
	subscriptions  []string
	heartbeat      time.Duration
	logger         *slog.Logger
}

func runDaemon(opts daemonOptions) error {
	finder := discovery.NewFinder(discovery.Config{
		Hosts:  opts.discoveryHosts,
		Ports:  opts.discoveryPorts,
		Logger: opts.logger,
	})

	cfg := client.DefaultConfig()
	cfg.StationID = opts.stationID
	cfg.Discoverer = finder
	cfg.HeartbeatInterval = opts.heartbeat
	cfg.RequireAuth = opts.requireAuth
	cfg.Logger = opts.logger
	if opts.tokenFile != "" {
		cfg.TokenSource = fileTokenSource(opts.tokenFile)
	}

	c, err := client.New(cfg)
	if err != nil {
		return err
	}

	logEvents(c, opts.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, entity := range opts.subscriptions {
		if err := c.Subscribe(strings.TrimSpace(entity)); err != nil {
			return err
		}
	}
	if err := c.Connect(ctx); err != nil {
		// Non-fatal: the reconnection scheduler keeps trying; the daemon
		// stays up so operators can watch /status.
		opts.logger.Warn("initial connect failed", "error", err)
	}

	ops := opsserver.New(c, opts.logger)
	err = ops.ListenAndServe(ctx, opts.opsAddr)

	c.Disconnect("daemon shutdown")
	return err
}

// logEvents mirrors the client's event surface into the daemon log.
func logEvents(c *client.Client, logger *slog.Logger) {
	c.On(client.EventStateChanged, func(data any) {
		if change, ok := data.(client.StateChange); ok {
			logger.Info("sync state", "old", change.Old.String(), "new", change.New.String())
		}
	})
	c.On(client.EventQualityChanged, func(data any) {
		logger.Info("link quality", "quality", data)
	})
	c.On(client.EventSendError, func(data any) {
		if failure, ok := data.(client.SendFailure); ok {
			logger.Error("message lost",
				"type", failure.Type, "id", failure.MessageID,
				"attempts", failure.Attempts, "error", failure.Err)
		}
	})
	c.On(client.EventAuthError, func(data any) {
		logger.Error("authentication rejected", "detail", data)
	})
}

// fileTokenSource reads the bearer credential on every authentication
// attempt so a login performed while the daemon runs is picked up.
func fileTokenSource(path string) client.TokenSource {
	return func() (string, bool) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}
		token := strings.TrimSpace(string(data))
		return token, token != ""
	}
}

func buildLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}
