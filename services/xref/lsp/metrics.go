// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for language server operations.
var (
	tracer = otel.Tracer("aleutian.xref.lsp")
	meter  = otel.Meter("aleutian.xref.lsp")
)

// Metrics for language server operations.
var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	serverSpawns     metric.Int64Counter
	resultCount      metric.Int64Histogram
	parseEventsLost  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"xref_lsp_operation_duration_seconds",
			metric.WithDescription("Duration of language server operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"xref_lsp_operation_total",
			metric.WithDescription("Total number of language server operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"xref_lsp_server_spawns_total",
			metric.WithDescription("Total number of language server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"xref_lsp_result_count",
			metric.WithDescription("Number of results returned by language server operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseEventsLost, err = meter.Int64Counter(
			"xref_lsp_parse_events_dropped_total",
			metric.WithDescription("Parse confirmations dropped because the event buffer was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startOperationSpan creates a span for a language server operation.
func startOperationSpan(ctx context.Context, operation, server, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Client."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.server", server),
			attribute.String("lsp.uri", uri),
		),
	)
}

// setOperationSpanResult sets the result attributes on an operation span.
func setOperationSpanResult(span trace.Span, resultCnt int, success bool) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", resultCnt),
		attribute.Bool("lsp.success", success),
	)
}

// recordOperationMetrics records metrics for a language server operation.
func recordOperationMetrics(ctx context.Context, operation, server string, duration time.Duration, resultCnt int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("server", server),
		attribute.Bool("success", success),
	)

	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success {
		resultCount.Record(ctx, int64(resultCnt), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// recordServerSpawn records a server spawn event.
func recordServerSpawn(ctx context.Context, server string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
		attribute.Bool("success", success),
	))
}

// recordParseEventDropped records a parse confirmation lost to backpressure.
func recordParseEventDropped(ctx context.Context, server string) {
	if err := initMetrics(); err != nil {
		return
	}
	parseEventsLost.Add(ctx, 1, metric.WithAttributes(
		attribute.String("server", server),
	))
}
