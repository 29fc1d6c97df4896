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
	"net/url"
	"path/filepath"
	"strings"
)

// =============================================================================
// URI MAPPING
// =============================================================================

// PathToURI converts an absolute file path to a file:// URI.
//
// Description:
//
//	Properly encodes the path for use in a file:// URI, handling special
//	characters like spaces, unicode, and other reserved characters.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
	}

	u := &url.URL{
		Scheme: "file",
		Path:   path,
	}
	return u.String()
}

// URIToPath converts a file:// URI to an absolute file path.
//
// Description:
//
//	Properly decodes URL-encoded characters in the URI path.
func URIToPath(uri string) string {
	if u, err := url.Parse(uri); err == nil && u.Scheme == "file" {
		return u.Path
	}
	return strings.TrimPrefix(uri, "file://")
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// parseLocationResponse parses a location or array of locations response.
func parseLocationResponse(data json.RawMessage) ([]Location, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	// Check if it's an array by looking at the first character
	if data[0] == '[' {
		// Try array of LocationLinks first (has targetUri field)
		var links []LocationLink
		if err := json.Unmarshal(data, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
			locations := make([]Location, len(links))
			for i, link := range links {
				locations[i] = Location{
					URI:   link.TargetURI,
					Range: link.TargetSelectionRange,
				}
			}
			return locations, nil
		}

		// Try array of Locations
		var locations []Location
		if err := json.Unmarshal(data, &locations); err == nil {
			return locations, nil
		}
	}

	// Try single location
	var single Location
	if err := json.Unmarshal(data, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}

	return nil, ErrInvalidResponse
}

// parseSymbolResponse parses a documentSymbol result in either of its two
// wire shapes. Flat SymbolInformation carries a location with a URI;
// hierarchical DocumentSymbol carries range/selectionRange and never a
// location, so the URI presence discriminates.
func parseSymbolResponse(data json.RawMessage) (*SymbolResponse, error) {
	if len(data) == 0 || string(data) == "null" {
		return &SymbolResponse{}, nil
	}

	if data[0] != '[' {
		return nil, ErrInvalidResponse
	}

	var flat []SymbolInformation
	if err := json.Unmarshal(data, &flat); err == nil && len(flat) > 0 && flat[0].Location.URI != "" {
		return &SymbolResponse{Flat: flat}, nil
	}

	var nested []DocumentSymbol
	if err := json.Unmarshal(data, &nested); err == nil {
		return &SymbolResponse{Hierarchical: nested}, nil
	}

	return nil, ErrInvalidResponse
}
