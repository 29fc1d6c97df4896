// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package xref

import (
	"context"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
)

// Session is the slice of a language server client a scan drives.
//
// The scan runner owns the session lifecycle: it starts the session,
// opens every workspace document through it, queries symbols and
// references, and shuts it down on every exit path. *lsp.Client is the
// production implementation; tests substitute fakes.
type Session interface {
	// Start spawns the server and completes the initialize handshake.
	Start(ctx context.Context) error

	// DidOpen announces a document to the server.
	DidOpen(ctx context.Context, uri, languageID, text string) error

	// DocumentSymbols returns the symbol outline of a document.
	DocumentSymbols(ctx context.Context, uri string) (*lsp.SymbolResponse, error)

	// References returns every location referencing the symbol at pos.
	References(ctx context.Context, uri string, pos lsp.Position, includeDeclaration bool) ([]lsp.Location, error)

	// ParseEvents exposes the stream of document URIs the server has
	// finished analyzing.
	ParseEvents() <-chan string

	// Shutdown terminates the server. Safe to call more than once.
	Shutdown(ctx context.Context) error
}

var _ Session = (*lsp.Client)(nil)
