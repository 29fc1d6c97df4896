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
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianXref/pkg/logging"
	"github.com/AleutianAI/AleutianXref/services/xref"
	"github.com/AleutianAI/AleutianXref/services/xref/telemetry"
)

// Exit codes for xref commands.
const (
	ExitSuccess = 0 // Scan completed (even with zero records)
	ExitError   = 1 // Scan failed (spawn, handshake, ingest, parse timeout)
	ExitBadArgs = 2 // Invalid arguments or configuration
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	// Root persistent flags
	flagLogLevel       string
	flagLogJSON        bool
	flagLogDir         string
	flagQuiet          bool
	flagTraceExporter  string
	flagMetricExporter string
	flagMetricsAddr    string

	// Scan flags
	flagRoot         string
	flagServer       string
	flagParseTimeout time.Duration
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// rootCmd is the xref entrypoint.
var rootCmd = &cobra.Command{
	Use:   "xref",
	Short: "Cross-reference every symbol of a file across its workspace",
	Long: `xref drives a language server over stdio to find every reference
to every symbol declared in a target file, across the whole workspace.

The report is written to stdout, one line per reference; all diagnostics
go to stderr. Pipe stdout freely.

Examples:
  xref scan services/auth/token.go
  xref scan --root ~/src/webapp --server intelephense src/Billing.php
  xref servers`,
	Version:       "0.1.0",
	SilenceErrors: true,
}

// scanCmd runs one cross-reference scan.
var scanCmd = &cobra.Command{
	Use:   "scan TARGET",
	Short: "Report every reference to every symbol declared in TARGET",
	Long: `Scan spawns the language server for TARGET's file type, opens every
matching file under the workspace root, waits for the server to finish
parsing, then walks TARGET's symbol outline and queries the references
of each symbol.

Output format (stdout), one line per reference:

  NAME origin:L:C -> target:L:C	referencing source line
  NAME origin:L:C -> no references

Positions are 1-indexed and workspace-relative.

Examples:
  xref scan pkg/parser/lexer.go
  xref scan --root . --parse-timeout 2m src/main.c
  xref scan --server phpls legacy/Cart.php`,
	Args: cobra.ExactArgs(1),
	Run:  runScan,
}

// serversCmd lists the registered language servers.
var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered language servers and whether they are installed",
	Args:  cobra.NoArgs,
	Run:   runServers,
}

// =============================================================================
// COMMAND INITIALIZATION
// =============================================================================

func init() {
	// Telemetry flag defaults come from the environment so standard OTel
	// variables keep working; explicit flags override them.
	tcfg := telemetry.DefaultConfig()

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", defaultLogJSON(),
		"Log as JSON (default true when stderr is not a terminal)")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "",
		"Also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false,
		"Suppress stderr logs below error")
	rootCmd.PersistentFlags().StringVar(&flagTraceExporter, "trace-exporter", tcfg.TraceExporter,
		"Trace exporter: none, stdout, otlp")
	rootCmd.PersistentFlags().StringVar(&flagMetricExporter, "metric-exporter", tcfg.MetricExporter,
		"Metric exporter: none, stdout, prometheus")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "",
		"Serve /metrics on this address (requires --metric-exporter=prometheus)")

	scanCmd.Flags().StringVar(&flagRoot, "root", ".",
		"Workspace root directory")
	scanCmd.Flags().StringVar(&flagServer, "server", "",
		"Registry token of the server to use (default: inferred from TARGET's extension)")
	scanCmd.Flags().DurationVar(&flagParseTimeout, "parse-timeout", xref.DefaultParseTimeout,
		"How long to wait for the server to confirm parsing of all opened files")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serversCmd)
}

// defaultLogJSON returns true when stderr is not an interactive terminal,
// so redirected diagnostics stay machine-parseable.
func defaultLogJSON() bool {
	fd := os.Stderr.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

// setupLogging builds the process logger from the persistent flags and
// installs it as the slog default.
func setupLogging() (*logging.Logger, error) {
	level, err := logging.ParseLevel(flagLogLevel)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  flagLogDir,
		Service: "xref",
		JSON:    flagLogJSON,
		Quiet:   flagQuiet,
	})
	return logger, nil
}

// usageError prints a configuration error the way cobra prints argument
// errors, to stderr, without a stack of log decoration.
func usageError(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitBadArgs
}
