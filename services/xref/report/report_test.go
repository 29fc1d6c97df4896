// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
	"github.com/AleutianAI/AleutianXref/services/xref/walker"
)

// fakeResolver resolves lines from canned documents keyed by URI.
type fakeResolver struct {
	docs map[string][]string
}

func (f *fakeResolver) ResolveLine(uri string, line int) (string, bool) {
	lines, ok := f.docs[uri]
	if !ok || line < 0 || line >= len(lines) {
		return "", false
	}
	return lines[line], true
}

func refRecord(name, originURI string, origin lsp.Position, targetURI string, target lsp.Position) walker.Record {
	return walker.Record{
		SymbolName: name,
		Kind:       lsp.SymbolKindFunction,
		OriginURI:  originURI,
		Origin:     origin,
		Target: &lsp.Location{
			URI: targetURI,
			Range: lsp.Range{
				Start: target,
				End:   lsp.Position{Line: target.Line, Character: target.Character + len(name)},
			},
		},
	}
}

// TestEmitter_Write_Reference tests the reference line format: both
// positions 1-indexed, paths workspace-relative, literal line appended
// after a tab.
func TestEmitter_Write_Reference(t *testing.T) {
	resolver := &fakeResolver{
		docs: map[string][]string{
			"file:///work/src/main.go": {
				"package main",
				"",
				"func main() {",
				"    handleRequest(nil)",
				"}",
			},
		},
	}

	var buf bytes.Buffer
	e := NewEmitter(&buf, resolver, "/work")

	rec := refRecord("handleRequest",
		"file:///work/src/server.go", lsp.Position{Line: 4, Character: 9},
		"file:///work/src/main.go", lsp.Position{Line: 3, Character: 4},
	)
	if err := e.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "handleRequest src/server.go:5:10 -> src/main.go:4:5\t    handleRequest(nil)\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
	if e.Emitted() != 1 {
		t.Errorf("Emitted() = %d, want 1", e.Emitted())
	}
}

// TestEmitter_Write_NoReferences tests the zero-usage marker line.
func TestEmitter_Write_NoReferences(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeResolver{}, "/work")

	rec := walker.Record{
		SymbolName:   "unusedHelper",
		Kind:         lsp.SymbolKindFunction,
		OriginURI:    "file:///work/src/util.go",
		Origin:       lsp.Position{Line: 2, Character: 0},
		NoReferences: true,
	}
	if err := e.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "unusedHelper src/util.go:3:1 -> no references\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

// TestEmitter_Write_UnresolvedLine tests the placeholder for targets in
// files that were never opened.
func TestEmitter_Write_UnresolvedLine(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeResolver{}, "/work")

	rec := refRecord("foo",
		"file:///work/a.go", lsp.Position{Line: 0, Character: 0},
		"file:///work/generated.go", lsp.Position{Line: 9, Character: 0},
	)
	if err := e.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if !strings.Contains(buf.String(), UnresolvedLine) {
		t.Errorf("output %q should contain %q", buf.String(), UnresolvedLine)
	}
}

// TestEmitter_Write_OutsideRoot tests that paths outside the workspace
// stay absolute instead of sprouting dot-dot prefixes.
func TestEmitter_Write_OutsideRoot(t *testing.T) {
	resolver := &fakeResolver{
		docs: map[string][]string{
			"file:///elsewhere/lib.go": {"package lib"},
		},
	}

	var buf bytes.Buffer
	e := NewEmitter(&buf, resolver, "/work")

	rec := refRecord("foo",
		"file:///work/a.go", lsp.Position{Line: 0, Character: 0},
		"file:///elsewhere/lib.go", lsp.Position{Line: 0, Character: 0},
	)
	if err := e.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "..") {
		t.Errorf("output %q should not contain relative escapes", out)
	}
	if !strings.Contains(out, "/elsewhere/lib.go:1:1") {
		t.Errorf("output %q should keep the absolute path", out)
	}
}

// TestEmitter_Write_EscapedURI tests that encoded URIs render as
// decoded workspace-relative paths.
func TestEmitter_Write_EscapedURI(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeResolver{}, "/work")

	rec := walker.Record{
		SymbolName:   "foo",
		OriginURI:    "file:///work/my%20dir/a.go",
		Origin:       lsp.Position{Line: 0, Character: 0},
		NoReferences: true,
	}
	if err := e.Write(rec); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "foo my dir/a.go:1:1 -> no references\n"
	if got := buf.String(); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

// TestEmitter_Write_Error tests write failure propagation.
func TestEmitter_Write_Error(t *testing.T) {
	e := NewEmitter(&failingWriter{}, &fakeResolver{}, "/work")

	rec := walker.Record{
		SymbolName:   "foo",
		OriginURI:    "file:///work/a.go",
		NoReferences: true,
	}
	if err := e.Write(rec); err == nil {
		t.Fatal("expected error from failing writer")
	}
	if e.Emitted() != 0 {
		t.Errorf("Emitted() = %d after failed write, want 0", e.Emitted())
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("pipe closed")
}

// TestEmitter_Emitted tests the running line count.
func TestEmitter_Emitted(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, &fakeResolver{}, "/work")

	for i := 0; i < 3; i++ {
		rec := walker.Record{
			SymbolName:   "foo",
			OriginURI:    "file:///work/a.go",
			Origin:       lsp.Position{Line: i, Character: 0},
			NoReferences: true,
		}
		if err := e.Write(rec); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	if e.Emitted() != 3 {
		t.Errorf("Emitted() = %d, want 3", e.Emitted())
	}
}
