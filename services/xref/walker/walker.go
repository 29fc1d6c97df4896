// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package walker traverses a document's symbol tree and collects every
// workspace location referencing each symbol.
package walker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
)

// FlatSymbolLineOffset compensates for flat SymbolInformation results
// whose reported range starts at the declaration's leading metadata
// (doc block, visibility modifiers) instead of the identifier, one line
// above it. This is a workaround for a positional quirk of older
// servers, not a protocol guarantee; hierarchical results carry a
// selection range and never need it.
const FlatSymbolLineOffset = 1

// includeDeclaration is sent with every reference query. The server's
// reported set is taken as authoritative; no deduplication of the
// declaration site is attempted.
const includeDeclaration = true

// =============================================================================
// SYMBOL TREE
// =============================================================================

// Symbol is one node of a document's symbol tree, unified over the two
// wire shapes. Construction through FromDocumentSymbols or
// FromSymbolInformation is the single dispatch point between them;
// traversal afterwards is shape-blind.
type Symbol struct {
	// Name is the symbol's declared name.
	Name string

	// Kind is the symbol kind.
	Kind lsp.SymbolKind

	// URI is the document the query anchor points into.
	URI string

	// Anchor is the position reference queries are issued at, already
	// compensated for flat results.
	Anchor lsp.Position

	// Children are nested symbols in declared order. Always empty for
	// symbols built from flat results.
	Children []Symbol
}

// Count returns the number of nodes in the subtree rooted at s,
// including s itself.
func (s *Symbol) Count() int {
	n := 1
	for i := range s.Children {
		n += s.Children[i].Count()
	}
	return n
}

// FromDocumentSymbols builds the symbol tree from hierarchical results.
//
// Description:
//
//	Anchors each node at the selection range start: the identifier
//	position, not the declaration range's start, which may take in
//	modifiers and doc blocks. Children keep their declared order.
func FromDocumentSymbols(uri string, symbols []lsp.DocumentSymbol) []Symbol {
	out := make([]Symbol, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, Symbol{
			Name:     sym.Name,
			Kind:     sym.Kind,
			URI:      uri,
			Anchor:   sym.SelectionRange.Start,
			Children: FromDocumentSymbols(uri, sym.Children),
		})
	}
	return out
}

// FromSymbolInformation builds a flat symbol list from older servers.
//
// Description:
//
//	Flat results carry no hierarchy, so every symbol becomes a leaf. The
//	reported position targets surrounding declaration metadata rather
//	than the identifier, so FlatSymbolLineOffset is applied before the
//	anchor is recorded.
func FromSymbolInformation(symbols []lsp.SymbolInformation) []Symbol {
	out := make([]Symbol, 0, len(symbols))
	for _, sym := range symbols {
		anchor := sym.Location.Range.Start
		anchor.Line += FlatSymbolLineOffset
		out = append(out, Symbol{
			Name:   sym.Name,
			Kind:   sym.Kind,
			URI:    sym.Location.URI,
			Anchor: anchor,
		})
	}
	return out
}

// =============================================================================
// RECORDS
// =============================================================================

// Record is one reference finding: either a concrete target location or
// an explicit no-references marker. A symbol with zero usages still
// produces exactly one record, keeping "zero usages found" distinct
// from "not processed".
type Record struct {
	// SymbolName is the originating symbol's name.
	SymbolName string

	// Kind is the originating symbol's kind.
	Kind lsp.SymbolKind

	// OriginURI is the document the symbol was queried in.
	OriginURI string

	// Origin is the anchor position the query was issued at.
	Origin lsp.Position

	// Target is the referencing location. Nil when NoReferences is set.
	Target *lsp.Location

	// NoReferences marks a symbol the server reported no usages for.
	NoReferences bool
}

// =============================================================================
// WALKER
// =============================================================================

// Querier is the slice of the session the walker needs.
type Querier interface {
	References(ctx context.Context, uri string, pos lsp.Position, includeDeclaration bool) ([]lsp.Location, error)
}

// Walker visits every node of a symbol tree and queries its references.
type Walker struct {
	querier Querier
}

// New creates a walker issuing queries through the given querier.
func New(querier Querier) *Walker {
	return &Walker{querier: querier}
}

// Walk traverses the tree pre-order and streams one record per
// reference through visit.
//
// Description:
//
//	Visits each node exactly once, parent strictly before children,
//	children in declared order, issuing one reference query per node and
//	awaiting it before moving on. Records stream through the callback
//	rather than accumulating, so arbitrarily large result sets stay
//	flat in memory. A query or callback error aborts the walk.
//
// Inputs:
//
//	ctx - Context for cancellation
//	symbols - Root symbols in declared order
//	visit - Callback receiving each record; a non-nil return aborts
//
// Outputs:
//
//	error - First query or callback error, nil on full traversal
func (w *Walker) Walk(ctx context.Context, symbols []Symbol, visit func(Record) error) error {
	ctx, span := tracer.Start(ctx, "Walker.Walk")
	defer span.End()

	var st walkState
	err := w.walk(ctx, symbols, visit, &st)

	span.SetAttributes(
		attribute.Int("walk.symbols", st.visited),
		attribute.Int("walk.references", st.found),
	)
	recordWalkMetrics(ctx, st.visited, st.found, err == nil)

	if err != nil {
		return err
	}

	slog.Info("Symbol walk complete",
		slog.Int("symbols", st.visited),
		slog.Int("references", st.found),
	)
	return nil
}

// walkState accumulates traversal counts across the recursion.
type walkState struct {
	visited int
	found   int
}

func (w *Walker) walk(ctx context.Context, symbols []Symbol, visit func(Record) error, st *walkState) error {
	for i := range symbols {
		sym := &symbols[i]

		locations, err := w.querier.References(ctx, sym.URI, sym.Anchor, includeDeclaration)
		if err != nil {
			return fmt.Errorf("references for %s %q: %w", sym.Kind, sym.Name, err)
		}
		st.visited++

		if len(locations) == 0 {
			rec := Record{
				SymbolName:   sym.Name,
				Kind:         sym.Kind,
				OriginURI:    sym.URI,
				Origin:       sym.Anchor,
				NoReferences: true,
			}
			if err := visit(rec); err != nil {
				return err
			}
		} else {
			for j := range locations {
				rec := Record{
					SymbolName: sym.Name,
					Kind:       sym.Kind,
					OriginURI:  sym.URI,
					Origin:     sym.Anchor,
					Target:     &locations[j],
				}
				if err := visit(rec); err != nil {
					return err
				}
			}
			st.found += len(locations)
		}

		if err := w.walk(ctx, sym.Children, visit, st); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// METRICS
// =============================================================================

var (
	tracer = otel.Tracer("aleutian.xref.walk")
	meter  = otel.Meter("aleutian.xref.walk")

	symbolsVisited  metric.Int64Counter
	referencesFound metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		symbolsVisited, err = meter.Int64Counter(
			"xref_walk_symbols_total",
			metric.WithDescription("Symbols visited during reference walks"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		referencesFound, err = meter.Int64Counter(
			"xref_walk_references_total",
			metric.WithDescription("References found during reference walks"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordWalkMetrics(ctx context.Context, visited, found int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	symbolsVisited.Add(ctx, int64(visited), attrs)
	referencesFound.Add(ctx, int64(found), attrs)
}
