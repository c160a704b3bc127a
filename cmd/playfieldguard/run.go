// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/bridge"
	"github.com/holomush/playfieldguard/internal/config"
	"github.com/holomush/playfieldguard/internal/core"
	"github.com/holomush/playfieldguard/internal/engine"
	"github.com/holomush/playfieldguard/internal/logging"
	"github.com/holomush/playfieldguard/internal/observability"
	"github.com/holomush/playfieldguard/pkg/errutil"
)

var (
	errBridgeDown    = errors.New("host bridge not connected")
	errEngineStopped = errors.New("engine not running")
)

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the game host and enforce home world restrictions",
		Long: `Connect to the game host bridge, track players as they move between
playfields, and teleport players out of home worlds owned by another faction.

Exits when the bridge connection is lost so a supervisor can restart it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithDeps(cmd.Context(), cmd, nil)
		},
	}
	addConfigFlags(cmd)
	return cmd
}

// addConfigFlags registers the flags that override config file values.
// Only flags set on the command line take effect.
func addConfigFlags(cmd *cobra.Command) {
	defaults := config.Default()
	cmd.Flags().String("fallback-playfield", "", "playfield for players without a usable history")
	cmd.Flags().String("admin-config", "", "path of the host adminconfig.yaml")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("bridge-url", defaults.Bridge.URL, "host bridge websocket URL")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
}

// runWithDeps runs the guard with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cmd *cobra.Command, deps *RunDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(config.Options{Path: configFile, Flags: cmd.Flags()})
	if err != nil {
		return oops.In("run").Wrapf(err, "invalid configuration")
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return oops.In("run").Code(config.CodeInvalid).Wrap(err)
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, level)

	logger.Info("starting playfieldguard",
		"version", version,
		"bridge_url", cfg.Bridge.URL,
		"fallback_playfield", cfg.FallbackPlayfield,
		"restricted_playfields", len(cfg.FactionHomeWorlds),
	)

	perms, err := deps.PermissionLoader(cfg.AdminConfig)
	if err != nil {
		return oops.In("run").Wrapf(err, "failed to load admin config")
	}
	if cfg.AdminConfig != "" {
		logger.Info("admin config loaded", "path", cfg.AdminConfig, "accounts", perms.Len())
		if err := perms.Watch(cfg.AdminConfig, logger); err != nil {
			errutil.LogWarnContext(ctx, logger, "admin config changes will not be picked up", err,
				"path", cfg.AdminConfig)
		}
		defer func() {
			if err := perms.Unwatch(); err != nil {
				logger.Debug("error stopping admin config watch", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The engine's subscription exists before the bridge can publish, so
	// events arriving during the handshake are queued rather than dropped.
	events := core.NewBroadcaster(0)
	early := engine.Subscribe(events)
	defer events.Unsubscribe(early)

	hostBridge, err := deps.BridgeDialer(ctx, bridge.Config{
		URL:            cfg.Bridge.URL,
		Token:          cfg.Bridge.Token,
		RequestTimeout: cfg.Bridge.RequestTimeout,
		DialAttempts:   cfg.Bridge.DialAttempts,
		APIVersion:     cfg.Bridge.APIVersion,
	}, events, logger)
	if err != nil {
		return oops.In("run").Wrapf(err, "failed to connect to game host")
	}
	defer logger.Info("shutdown complete")
	defer func() {
		if err := hostBridge.Close(); err != nil {
			logger.Debug("error closing host bridge", "error", err)
		}
	}()

	var eng *engine.Engine
	var obsServer ObservabilityServer
	var metrics *engine.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, map[string]observability.ReadinessCheck{
			"bridge": func() error {
				if !hostBridge.Connected() {
					return errBridgeDown
				}
				return nil
			},
			"engine": func() error {
				if eng == nil || !eng.Running() {
					return errEngineStopped
				}
				return nil
			},
		})
		metrics = engine.NewMetrics(obsServer.Registry())
		obsServer.Metrics().BuildInfo.WithLabelValues(version).Set(1)
	}

	eng, err = engine.New(hostBridge, perms, engineSettings(cfg),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	)
	if err != nil {
		return oops.In("run").Wrapf(err, "failed to create engine")
	}
	if err := eng.StartSubscribed(ctx, events, early); err != nil {
		return oops.In("run").Wrapf(err, "failed to start engine")
	}
	defer eng.Stop()

	if obsServer != nil {
		engine.RegisterTrackedGauge(obsServer.Registry(), eng)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.In("run").Wrapf(err, "failed to start observability server")
		}
		defer stopObservability(obsServer, logger)
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		go obsServer.Metrics().TrackBridge(ctx, hostBridge.Done())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("PlayfieldGuard started")
	logger.Info("playfieldguard ready", "host_version", hostVersion(hostBridge))

	// Wait for shutdown signal, bridge loss or cancellation
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-hostBridge.Done():
		cause := hostBridge.Err()
		if cause == nil {
			cause = errors.New("connection closed")
		}
		runErr = oops.In("run").Code(bridge.CodeClosed).Wrapf(cause, "host bridge connection lost")
		errutil.LogErrorContext(ctx, logger, "shutting down", runErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	return runErr
}

func stopObservability(srv ObservabilityServer, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

func engineSettings(cfg *config.Config) engine.Settings {
	return engine.Settings{
		Policy:            access.NewPolicy(cfg.FactionHomeWorlds, cfg.ImmunePermissionLevel),
		FallbackPlayfield: cfg.FallbackPlayfield,
		BootMessage:       cfg.BootMessage,
		MessagePriority:   cfg.Message.Priority,
		MessageDuration:   cfg.Message.Duration,
		TeleportOffset:    float32(cfg.DistanceFromPlanet),
		HistoryCapacity:   cfg.HistoryCapacity,
		EventTimeout:      cfg.EventTimeout,
	}
}

func hostVersion(b HostBridge) string {
	if v, ok := b.(interface{ HostVersion() string }); ok {
		return v.HostVersion()
	}
	return ""
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
