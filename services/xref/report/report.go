// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders reference records as flat, line-resolved report
// lines for downstream tooling.
//
// One record renders as one line:
//
//	NAME origin:L:C -> target:L:C<TAB>literal target line
//	NAME origin:L:C -> no references
//
// Positions are 1-indexed, paths workspace-relative where possible. The
// literal line comes from the ingestion snapshot; references into files
// that were never opened render an explicit placeholder instead.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
	"github.com/AleutianAI/AleutianXref/services/xref/walker"
)

// UnresolvedLine is rendered when a target's source line cannot be
// resolved because its document was never opened.
const UnresolvedLine = "<source line unavailable>"

// NoReferencesMarker is rendered for symbols without any usage.
const NoReferencesMarker = "no references"

// LineResolver resolves a 0-indexed source line from an opened document.
type LineResolver interface {
	ResolveLine(uri string, line int) (string, bool)
}

// Emitter renders records to a single output stream.
//
// Description:
//
//	Writes exclusively to its writer; diagnostics belong to the log, so
//	report output never interleaves with them. Not safe for concurrent
//	use; the walk delivers records sequentially.
type Emitter struct {
	w       io.Writer
	lines   LineResolver
	root    string
	emitted int
}

// NewEmitter creates an emitter writing to w, resolving literal lines
// through lines and relativizing paths against root.
func NewEmitter(w io.Writer, lines LineResolver, root string) *Emitter {
	return &Emitter{
		w:     w,
		lines: lines,
		root:  root,
	}
}

// Write renders one record as one report line.
func (e *Emitter) Write(rec walker.Record) error {
	origin := e.place(rec.OriginURI, rec.Origin)

	var err error
	if rec.NoReferences {
		_, err = fmt.Fprintf(e.w, "%s %s -> %s\n", rec.SymbolName, origin, NoReferencesMarker)
	} else {
		target := e.place(rec.Target.URI, rec.Target.Range.Start)
		line, ok := e.lines.ResolveLine(rec.Target.URI, rec.Target.Range.Start.Line)
		if !ok {
			line = UnresolvedLine
		}
		_, err = fmt.Fprintf(e.w, "%s %s -> %s\t%s\n", rec.SymbolName, origin, target, line)
	}
	if err != nil {
		return fmt.Errorf("write report line: %w", err)
	}

	e.emitted++
	return nil
}

// Emitted returns the number of lines written so far.
func (e *Emitter) Emitted() int {
	return e.emitted
}

// place renders a URI and position as path:line:col with 1-indexed
// line and column.
func (e *Emitter) place(uri string, pos lsp.Position) string {
	path := lsp.URIToPath(uri)
	if rel, err := filepath.Rel(e.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	return fmt.Sprintf("%s:%d:%d", path, pos.Line+1, pos.Character+1)
}
