// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/bridge"
	"github.com/holomush/playfieldguard/internal/engine"
	"github.com/holomush/playfieldguard/internal/observability"
)

// RunDeps contains injectable dependencies for the run command.
// All fields with nil values will use their default implementations.
type RunDeps struct {
	// BridgeDialer connects to the game host.
	// Default: bridge.Dial
	BridgeDialer func(ctx context.Context, cfg bridge.Config, events bridge.Publisher, logger *slog.Logger) (HostBridge, error)

	// PermissionLoader reads the host admin config.
	// Default: access.LoadPermissionTable
	PermissionLoader func(path string) (*access.PermissionTable, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checks map[string]observability.ReadinessCheck) ObservabilityServer
}

// HostBridge interface wraps the methods used from bridge.Client.
type HostBridge interface {
	engine.Host
	Connected() bool
	Done() <-chan struct{}
	Err() error
	Close() error
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Registry() prometheus.Registerer
	Metrics() *observability.Metrics
}

func (d *RunDeps) withDefaults() *RunDeps {
	out := RunDeps{}
	if d != nil {
		out = *d
	}
	if out.BridgeDialer == nil {
		out.BridgeDialer = func(ctx context.Context, cfg bridge.Config, events bridge.Publisher, logger *slog.Logger) (HostBridge, error) {
			return bridge.Dial(ctx, cfg, events, bridge.WithLogger(logger))
		}
	}
	if out.PermissionLoader == nil {
		out.PermissionLoader = access.LoadPermissionTable
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checks map[string]observability.ReadinessCheck) ObservabilityServer {
			return observability.NewServer(addr, checks)
		}
	}
	return &out
}
