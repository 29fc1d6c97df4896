// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package xref runs a whole-workspace cross-reference scan.
//
// A scan drives one language server session through a fixed sequence:
// spawn and initialize, open every analyzable file in the workspace,
// wait for the server to confirm it parsed them, query the target
// document's symbol outline, then issue one reference query per symbol
// and stream the findings to the report writer. The report goes to
// stdout; everything else goes to the structured logger on stderr.
//
// Reference queries against a single server session are issued one at
// a time and the walk has no mid-run cancellation beyond the caller's
// context; the only background work is the session's own reader and
// stderr drain.
package xref

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianXref/services/xref/config"
	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
	"github.com/AleutianAI/AleutianXref/services/xref/report"
	"github.com/AleutianAI/AleutianXref/services/xref/walker"
	"github.com/AleutianAI/AleutianXref/services/xref/workspace"
)

const (
	// DefaultParseTimeout bounds the wait for the server to confirm it
	// parsed every opened document.
	DefaultParseTimeout = 30 * time.Second

	// shutdownTimeout bounds the clean shutdown attempt on every exit
	// path, including error paths whose context is already done.
	shutdownTimeout = 10 * time.Second
)

var (
	// ErrTargetNotInWorkspace indicates the target file was not among
	// the ingested workspace documents.
	ErrTargetNotInWorkspace = errors.New("target file not found in workspace")

	// ErrTargetUnsupported indicates the selected server does not
	// analyze the target file's extension.
	ErrTargetUnsupported = errors.New("target extension not supported by server")
)

// Config describes one scan.
type Config struct {
	// Root is the workspace root directory.
	Root string

	// Target is the file whose symbols are cross-referenced.
	Target string

	// Server is the language server to drive.
	Server *config.ServerConfig

	// ParseTimeout bounds the parse barrier wait. Zero means
	// DefaultParseTimeout.
	ParseTimeout time.Duration

	// Out receives the report. Usually os.Stdout.
	Out io.Writer

	// RunID correlates log lines from one scan.
	RunID string
}

// Run executes a scan against a freshly spawned language server.
//
// Description:
//
//	Resolves paths, builds the production session from the server
//	configuration, and runs the scan sequence. The session is shut down
//	on every exit path, successful or not.
//
// Inputs:
//
//	ctx - Context for cancellation. No mid-run cancellation is issued
//	      beyond this context.
//	cfg - Scan description. Server and Out must be set.
//
// Outputs:
//
//	error - Non-nil if the scan failed. A target whose server rejects
//	        symbol queries is not a failure; the scan completes with an
//	        empty report.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return fmt.Errorf("xref.Run: server configuration must not be nil")
	}
	if cfg.Out == nil {
		return fmt.Errorf("xref.Run: output writer must not be nil")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}
	cfg.Root = root

	target, err := filepath.Abs(cfg.Target)
	if err != nil {
		return fmt.Errorf("resolving target: %w", err)
	}
	cfg.Target = target

	client := lsp.NewClient(lsp.Options{
		Server:                cfg.Server.Name,
		Command:               cfg.Server.Command,
		Args:                  cfg.Server.Args,
		RootPath:              cfg.Root,
		InitializationOptions: cfg.Server.InitializationOptions,
	})

	return run(ctx, cfg, client)
}

// run is the scan sequence against any session. Split from Run so
// tests can substitute a fake session; Run resolves paths before
// calling it.
func run(ctx context.Context, cfg Config, sess Session) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "xref.Scan")
	span.SetAttributes(
		attribute.String("scan.target", cfg.Target),
		attribute.String("scan.server", cfg.Server.Name),
		attribute.String("scan.run_id", cfg.RunID),
	)
	defer span.End()

	if cfg.ParseTimeout <= 0 {
		cfg.ParseTimeout = DefaultParseTimeout
	}

	slog.Info("Scan started",
		slog.String("run_id", cfg.RunID),
		slog.String("target", cfg.Target),
		slog.String("server", cfg.Server.Name),
		slog.String("root", cfg.Root),
	)

	ext := filepath.Ext(cfg.Target)
	if _, ok := cfg.Server.LanguageID(ext); !ok {
		return scanFailed(ctx, span,
			fmt.Errorf("%w: %s does not analyze %q", ErrTargetUnsupported, cfg.Server.Name, ext))
	}

	warnMissingRootMarkers(cfg.Root, cfg.Server)

	// The event stream must be in hand before any document is opened;
	// confirmations arriving before the barrier starts would otherwise
	// be lost.
	events := sess.ParseEvents()

	if err := sess.Start(ctx); err != nil {
		return scanFailed(ctx, span, fmt.Errorf("starting %s: %w", cfg.Server.Name, err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sess.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server shutdown failed",
				slog.String("server", cfg.Server.Name),
				slog.String("error", err.Error()))
		}
	}()

	cache, err := workspace.NewIngester(sess, cfg.Server.Languages).Ingest(ctx, cfg.Root)
	if err != nil {
		return scanFailed(ctx, span, fmt.Errorf("ingesting workspace: %w", err))
	}

	doc, ok := cache.ByPath(cfg.Target)
	if !ok {
		return scanFailed(ctx, span, fmt.Errorf("%w: %s", ErrTargetNotInWorkspace, cfg.Target))
	}

	barrier := workspace.NewBarrier(cache.URIs(), events)
	if err := barrier.Await(ctx, cfg.ParseTimeout); err != nil {
		return scanFailed(ctx, span, fmt.Errorf("awaiting workspace parse: %w", err))
	}

	resp, err := sess.DocumentSymbols(ctx, doc.URI)
	if err != nil {
		if errors.Is(err, lsp.ErrUnsupportedRequest) {
			// Old servers reject documentSymbol outright. The scan is
			// not a failure; the report is empty.
			slog.Warn("Symbol query not supported by server, report is empty",
				slog.String("run_id", cfg.RunID),
				slog.String("server", cfg.Server.Name),
				slog.String("error", err.Error()))
			span.SetAttributes(attribute.String("scan.status", "unsupported"))
			recordScanMetrics(ctx, "unsupported", cache.Len(), time.Since(start))
			return nil
		}
		return scanFailed(ctx, span, fmt.Errorf("querying symbols for %s: %w", cfg.Target, err))
	}

	var symbols []walker.Symbol
	if resp.IsHierarchical() {
		symbols = walker.FromDocumentSymbols(doc.URI, resp.Hierarchical)
	} else {
		symbols = walker.FromSymbolInformation(resp.Flat)
	}

	emitter := report.NewEmitter(cfg.Out, cache, cfg.Root)
	if err := walker.New(sess).Walk(ctx, symbols, emitter.Write); err != nil {
		return scanFailed(ctx, span, fmt.Errorf("walking symbols: %w", err))
	}

	span.SetAttributes(
		attribute.String("scan.status", "completed"),
		attribute.Int("scan.records", emitter.Emitted()),
	)
	recordScanMetrics(ctx, "completed", cache.Len(), time.Since(start))

	slog.Info("Scan complete",
		slog.String("run_id", cfg.RunID),
		slog.Int("files", cache.Len()),
		slog.Int("records", emitter.Emitted()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// scanFailed stamps the span and failure counter and passes the error
// through.
func scanFailed(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "scan failed")
	if initMetrics() == nil {
		scansTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "failed")))
	}
	return err
}

// warnMissingRootMarkers logs when the workspace root carries none of
// the server's project markers. The server may still index the tree,
// but results are often incomplete.
func warnMissingRootMarkers(root string, server *config.ServerConfig) {
	if len(server.RootMarkers) == 0 {
		return
	}
	for _, marker := range server.RootMarkers {
		if _, err := os.Stat(filepath.Join(root, marker)); err == nil {
			return
		}
	}
	slog.Warn("Workspace root has no project marker for server",
		slog.String("root", root),
		slog.String("server", server.Name),
		slog.String("markers", fmt.Sprintf("%v", server.RootMarkers)),
	)
}

// =============================================================================
// METRICS
// =============================================================================

var (
	tracer = otel.Tracer("aleutian.xref.scan")
	meter  = otel.Meter("aleutian.xref.scan")

	scansTotal   metric.Int64Counter
	scanDuration metric.Float64Histogram
	filesOpened  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		scansTotal, err = meter.Int64Counter(
			"xref_scans_total",
			metric.WithDescription("Scans by terminal status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		scanDuration, err = meter.Float64Histogram(
			"xref_scan_duration_seconds",
			metric.WithDescription("End-to-end scan duration"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesOpened, err = meter.Int64Counter(
			"xref_scan_files_opened_total",
			metric.WithDescription("Workspace documents opened across scans"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordScanMetrics(ctx context.Context, status string, files int, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	scansTotal.Add(ctx, 1, attrs)
	scanDuration.Record(ctx, d.Seconds(), attrs)
	filesOpened.Add(ctx, int64(files), attrs)
}
