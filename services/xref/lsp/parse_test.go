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
	"encoding/json"
	"errors"
	"testing"
)

// TestPathToURI tests path to file URI conversion.
func TestPathToURI(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{
			name: "plain absolute path",
			path: "/work/project/main.go",
			want: "file:///work/project/main.go",
		},
		{
			name: "path with spaces",
			path: "/work/my project/main.go",
			want: "file:///work/my%20project/main.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathToURI(tt.path); got != tt.want {
				t.Errorf("PathToURI(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestURIToPath tests file URI to path conversion.
func TestURIToPath(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{
			name: "plain file uri",
			uri:  "file:///work/project/main.go",
			want: "/work/project/main.go",
		},
		{
			name: "encoded space",
			uri:  "file:///work/my%20project/main.go",
			want: "/work/my project/main.go",
		},
		{
			name: "bare path passes through",
			uri:  "/work/project/main.go",
			want: "/work/project/main.go",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URIToPath(tt.uri); got != tt.want {
				t.Errorf("URIToPath(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}

// TestURIRoundTrip tests that encoding then decoding returns the path.
func TestURIRoundTrip(t *testing.T) {
	paths := []string{
		"/work/project/main.go",
		"/work/my project/sub dir/üñïçödé.go",
		"/work/a+b/c#d.go",
	}

	for _, path := range paths {
		if got := URIToPath(PathToURI(path)); got != path {
			t.Errorf("round trip of %q = %q", path, got)
		}
	}
}

// TestParseSymbolResponse_Hierarchical tests the nested result shape.
func TestParseSymbolResponse_Hierarchical(t *testing.T) {
	data := json.RawMessage(`[
		{
			"name": "Config",
			"kind": 23,
			"range": {"start": {"line": 4, "character": 0}, "end": {"line": 9, "character": 1}},
			"selectionRange": {"start": {"line": 4, "character": 5}, "end": {"line": 4, "character": 11}},
			"children": [
				{
					"name": "Timeout",
					"kind": 8,
					"range": {"start": {"line": 5, "character": 1}, "end": {"line": 5, "character": 20}},
					"selectionRange": {"start": {"line": 5, "character": 1}, "end": {"line": 5, "character": 8}}
				}
			]
		}
	]`)

	resp, err := parseSymbolResponse(data)
	if err != nil {
		t.Fatalf("parseSymbolResponse failed: %v", err)
	}

	if !resp.IsHierarchical() {
		t.Fatal("IsHierarchical() = false, want true")
	}
	if len(resp.Flat) != 0 {
		t.Errorf("Flat has %d entries, want 0", len(resp.Flat))
	}
	if len(resp.Hierarchical) != 1 {
		t.Fatalf("Hierarchical has %d entries, want 1", len(resp.Hierarchical))
	}

	sym := resp.Hierarchical[0]
	if sym.Name != "Config" {
		t.Errorf("name = %q, want Config", sym.Name)
	}
	if sym.Kind != SymbolKindStruct {
		t.Errorf("kind = %v, want struct", sym.Kind)
	}
	if sym.SelectionRange.Start.Line != 4 || sym.SelectionRange.Start.Character != 5 {
		t.Errorf("selection start = %+v, want 4:5", sym.SelectionRange.Start)
	}
	if len(sym.Children) != 1 || sym.Children[0].Name != "Timeout" {
		t.Errorf("children = %+v, want one child Timeout", sym.Children)
	}
}

// TestParseSymbolResponse_Flat tests the flat result shape.
func TestParseSymbolResponse_Flat(t *testing.T) {
	data := json.RawMessage(`[
		{
			"name": "process_data",
			"kind": 12,
			"location": {
				"uri": "file:///srv/app/util.php",
				"range": {"start": {"line": 10, "character": 0}, "end": {"line": 20, "character": 1}}
			}
		}
	]`)

	resp, err := parseSymbolResponse(data)
	if err != nil {
		t.Fatalf("parseSymbolResponse failed: %v", err)
	}

	if resp.IsHierarchical() {
		t.Fatal("IsHierarchical() = true, want false")
	}
	if len(resp.Flat) != 1 {
		t.Fatalf("Flat has %d entries, want 1", len(resp.Flat))
	}

	sym := resp.Flat[0]
	if sym.Name != "process_data" {
		t.Errorf("name = %q, want process_data", sym.Name)
	}
	if sym.Location.URI != "file:///srv/app/util.php" {
		t.Errorf("uri = %q, want file:///srv/app/util.php", sym.Location.URI)
	}
	if sym.Location.Range.Start.Line != 10 {
		t.Errorf("start line = %d, want 10", sym.Location.Range.Start.Line)
	}
}

// TestParseSymbolResponse_Empty tests null and empty results.
func TestParseSymbolResponse_Empty(t *testing.T) {
	for _, data := range []string{"null", "[]", ""} {
		resp, err := parseSymbolResponse(json.RawMessage(data))
		if err != nil {
			t.Errorf("parseSymbolResponse(%q) failed: %v", data, err)
			continue
		}
		if !resp.Empty() {
			t.Errorf("parseSymbolResponse(%q).Empty() = false, want true", data)
		}
		if resp.IsHierarchical() {
			t.Errorf("parseSymbolResponse(%q).IsHierarchical() = true, want false", data)
		}
	}
}

// TestParseSymbolResponse_Invalid tests malformed results.
func TestParseSymbolResponse_Invalid(t *testing.T) {
	for _, data := range []string{`{"not":"an array"}`, `42`, `"text"`} {
		_, err := parseSymbolResponse(json.RawMessage(data))
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("parseSymbolResponse(%q) error = %v, want ErrInvalidResponse", data, err)
		}
	}
}

// TestParseLocationResponse_Array tests the plain location array shape.
func TestParseLocationResponse_Array(t *testing.T) {
	data := json.RawMessage(`[
		{"uri": "file:///work/a.go", "range": {"start": {"line": 2, "character": 5}, "end": {"line": 2, "character": 8}}},
		{"uri": "file:///work/b.go", "range": {"start": {"line": 7, "character": 1}, "end": {"line": 7, "character": 4}}}
	]`)

	locs, err := parseLocationResponse(data)
	if err != nil {
		t.Fatalf("parseLocationResponse failed: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("got %d locations, want 2", len(locs))
	}
	if locs[0].URI != "file:///work/a.go" || locs[0].Range.Start.Line != 2 {
		t.Errorf("first location = %+v", locs[0])
	}
	if locs[1].URI != "file:///work/b.go" || locs[1].Range.Start.Character != 1 {
		t.Errorf("second location = %+v", locs[1])
	}
}

// TestParseLocationResponse_Single tests the bare single-location shape.
func TestParseLocationResponse_Single(t *testing.T) {
	data := json.RawMessage(`{"uri": "file:///work/a.go", "range": {"start": {"line": 1, "character": 0}, "end": {"line": 1, "character": 3}}}`)

	locs, err := parseLocationResponse(data)
	if err != nil {
		t.Fatalf("parseLocationResponse failed: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
	if locs[0].URI != "file:///work/a.go" {
		t.Errorf("uri = %q, want file:///work/a.go", locs[0].URI)
	}
}

// TestParseLocationResponse_LocationLinks tests the link shape used by
// definition-style responses, mapped down to plain locations.
func TestParseLocationResponse_LocationLinks(t *testing.T) {
	data := json.RawMessage(`[
		{
			"targetUri": "file:///work/a.go",
			"targetRange": {"start": {"line": 0, "character": 0}, "end": {"line": 10, "character": 1}},
			"targetSelectionRange": {"start": {"line": 2, "character": 5}, "end": {"line": 2, "character": 8}}
		}
	]`)

	locs, err := parseLocationResponse(data)
	if err != nil {
		t.Fatalf("parseLocationResponse failed: %v", err)
	}
	if len(locs) != 1 {
		t.Fatalf("got %d locations, want 1", len(locs))
	}
	if locs[0].URI != "file:///work/a.go" {
		t.Errorf("uri = %q, want file:///work/a.go", locs[0].URI)
	}
	// The selection range, not the full range, becomes the location.
	if locs[0].Range.Start.Line != 2 || locs[0].Range.Start.Character != 5 {
		t.Errorf("range start = %+v, want 2:5", locs[0].Range.Start)
	}
}

// TestParseLocationResponse_Null tests null and empty results.
func TestParseLocationResponse_Null(t *testing.T) {
	for _, data := range []string{"null", ""} {
		locs, err := parseLocationResponse(json.RawMessage(data))
		if err != nil {
			t.Errorf("parseLocationResponse(%q) failed: %v", data, err)
		}
		if locs != nil {
			t.Errorf("parseLocationResponse(%q) = %v, want nil", data, locs)
		}
	}
}

// TestParseLocationResponse_Invalid tests malformed results.
func TestParseLocationResponse_Invalid(t *testing.T) {
	for _, data := range []string{`42`, `"text"`} {
		_, err := parseLocationResponse(json.RawMessage(data))
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("parseLocationResponse(%q) error = %v, want ErrInvalidResponse", data, err)
		}
	}
}
