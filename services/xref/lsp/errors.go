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
	"errors"
	"fmt"
)

// Sentinel errors for language server sessions.
var (
	// ErrServerNotRunning indicates the language server is not in a ready state.
	ErrServerNotRunning = errors.New("language server not running")

	// ErrServerNotInstalled indicates the language server binary was not found.
	ErrServerNotInstalled = errors.New("language server not installed")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("initialize handshake failed")

	// ErrRequestTimeout indicates a request exceeded its deadline.
	ErrRequestTimeout = errors.New("language server request timeout")

	// ErrServerCrashed indicates the server process terminated unexpectedly.
	ErrServerCrashed = errors.New("language server crashed")

	// ErrInvalidResponse indicates a response could not be parsed.
	ErrInvalidResponse = errors.New("invalid language server response")

	// ErrServerAlreadyStarted indicates Start was called on a running client.
	ErrServerAlreadyStarted = errors.New("client already started")

	// ErrUnsupportedRequest indicates the server rejected an optional request,
	// typically because it predates support for the method.
	ErrUnsupportedRequest = errors.New("request not supported by server")
)

// LSPError represents an error returned by the language server via JSON-RPC.
//
// Error codes follow the JSON-RPC spec plus LSP-specific codes:
//   - -32700: Parse error
//   - -32600: Invalid request
//   - -32601: Method not found
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32099 to -32000: Server error (reserved)
//   - -32802: Server not initialized
//   - -32800: Request cancelled
type LSPError struct {
	// Code is the JSON-RPC error code.
	Code int

	// Message is the error message from the server.
	Message string

	// Data contains optional additional data about the error.
	Data interface{}
}

// Error implements the error interface.
func (e *LSPError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("LSP error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("LSP error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound returns true if the method is not supported by the server.
func (e *LSPError) IsMethodNotFound() bool {
	return e.Code == -32601
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *LSPError) IsServerNotInitialized() bool {
	return e.Code == -32802
}
