// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianXref/services/xref"
	"github.com/AleutianAI/AleutianXref/services/xref/config"
	"github.com/AleutianAI/AleutianXref/services/xref/telemetry"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runScan executes the scan command.
func runScan(cmd *cobra.Command, args []string) {
	os.Exit(executeScan(args[0]))
}

// executeScan runs one scan and returns the process exit code. Split
// from runScan so deferred cleanups run before os.Exit.
func executeScan(target string) int {
	logger, err := setupLogging()
	if err != nil {
		return usageError(err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// SIGINT/SIGTERM cancel the run context; the session shutdown path
	// still runs.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = "aleutian-xref"
	tcfg.TraceExporter = flagTraceExporter
	tcfg.MetricExporter = flagMetricExporter

	shutdownTelemetry, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return usageError(err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if flagMetricsAddr != "" {
		stopMetrics, err := telemetry.ListenAndServeMetrics(flagMetricsAddr)
		if err != nil {
			return usageError(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = stopMetrics(stopCtx)
		}()
	}

	registry, err := config.GetServerRegistry(ctx)
	if err != nil {
		slog.Error("Server registry load failed", slog.String("error", err.Error()))
		return ExitError
	}

	var server *config.ServerConfig
	if flagServer != "" {
		server, err = registry.Get(flagServer)
		if err != nil {
			return usageError(err)
		}
		config.RecordServerSelection(server.Name, "flag")
	} else {
		server, err = registry.ForTarget(target)
		if err != nil {
			return usageError(err)
		}
		config.RecordServerSelection(server.Name, "extension")
	}

	runID := uuid.NewString()

	err = xref.Run(ctx, xref.Config{
		Root:         flagRoot,
		Target:       target,
		Server:       server,
		ParseTimeout: flagParseTimeout,
		Out:          os.Stdout,
		RunID:        runID,
	})
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, xref.ErrTargetUnsupported):
		return usageError(err)
	default:
		slog.Error("Scan failed",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
		return ExitError
	}
}
