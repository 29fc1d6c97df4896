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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// oversizedRequestTimeout is the backstop deadline applied to requests
	// whose context carries none. Individual reference and symbol queries
	// have no meaningful per-call bound; run-level limits live with the
	// caller.
	oversizedRequestTimeout = 99999999 * time.Second

	// parseEventBuffer sizes the channel carrying parse confirmations from
	// the dispatch goroutine. The handler must never block; confirmations
	// beyond the buffer are counted and dropped.
	parseEventBuffer = 1024

	// documentVersion is the version sent with every didOpen. Documents
	// are never edited after opening.
	documentVersion = 1

	// shutdownGrace bounds the wait for the server process to exit after
	// the shutdown/exit sequence before it is killed.
	shutdownGrace = 5 * time.Second
)

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState represents the lifecycle state of a language server process.
type ServerState int

const (
	// ServerStateUninitialized is the initial state before Start is called.
	ServerStateUninitialized ServerState = iota

	// ServerStateStarting means the server process is starting.
	ServerStateStarting

	// ServerStateReady means the server is initialized and ready for requests.
	ServerStateReady

	// ServerStateStopping means the server is shutting down.
	ServerStateStopping

	// ServerStateStopped means the server has terminated.
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// CLIENT
// =============================================================================

// Options configures a Client.
type Options struct {
	// Server is the registry token naming this server, used in logs and
	// metric attributes.
	Server string

	// Command is the executable to launch.
	Command string

	// Args are the arguments passed to the executable.
	Args []string

	// RootPath is the absolute path to the workspace root.
	RootPath string

	// InitializationOptions are server-specific options sent in the
	// initialize request, straight from the registry entry.
	InitializationOptions interface{}
}

// Client owns one language server process and the session over it.
//
// Description:
//
//	Spawns the server, drains its stderr, runs the protocol read loop,
//	performs the initialize handshake, and exposes the typed requests
//	and notifications the scan needs. Parse confirmations extracted from
//	textDocument/publishDiagnostics notifications are surfaced on the
//	ParseEvents channel.
//
// Thread Safety:
//
//	Safe for concurrent use after Start() returns successfully.
type Client struct {
	opts Options

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities
	serverInfo   *ServerInfo

	state   ServerState
	stateMu sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	readDone  chan struct{}
	drainDone chan struct{}

	parseEvents chan string
}

// NewClient creates a client instance (not started).
//
// Inputs:
//
//	opts - Server launch configuration
//
// Outputs:
//
//	*Client - The configured (but not started) client
func NewClient(opts Options) *Client {
	return &Client{
		opts:        opts,
		state:       ServerStateUninitialized,
		readDone:    make(chan struct{}),
		drainDone:   make(chan struct{}),
		parseEvents: make(chan string, parseEventBuffer),
	}
}

// Start starts the language server process and initializes it.
//
// Description:
//
//	Starts the server process, wires the stderr drain and the protocol
//	read loop, and performs the initialize handshake. On success the
//	client is ready to receive requests.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//
// Outputs:
//
//	error - Non-nil if the server failed to start or initialize
//
// Errors:
//
//	ErrServerNotInstalled - Server binary not found
//	ErrServerAlreadyStarted - Start called on a non-uninitialized client
//	ErrInitializeFailed - Initialize handshake failed
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	c.stateMu.Lock()
	if c.state != ServerStateUninitialized {
		c.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	c.state = ServerStateStarting
	c.stateMu.Unlock()

	path, err := exec.LookPath(c.opts.Command)
	if err != nil {
		c.setState(ServerStateStopped)
		recordServerSpawn(ctx, c.opts.Server, false)
		slog.Warn("Language server not installed",
			slog.String("server", c.opts.Server),
			slog.String("command", c.opts.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, c.opts.Command)
	}

	slog.Info("Starting language server",
		slog.String("server", c.opts.Server),
		slog.String("command", path),
		slog.String("root_path", c.opts.RootPath),
	)

	// Server context outlives the caller's: teardown happens in Shutdown,
	// not on request cancellation.
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.cmd = exec.CommandContext(c.ctx, path, c.opts.Args...)
	c.cmd.Dir = c.opts.RootPath

	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stdin pipe: %w", err)
	}

	c.stdout, err = c.cmd.StdoutPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	c.stderr, err = c.cmd.StderrPipe()
	if err != nil {
		c.cleanup()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := c.cmd.Start(); err != nil {
		c.cleanup()
		recordServerSpawn(ctx, c.opts.Server, false)
		return fmt.Errorf("start process: %w", err)
	}
	recordServerSpawn(ctx, c.opts.Server, true)

	c.protocol = NewProtocol(c.stdout, c.stdin)
	c.protocol.OnNotification(c.dispatchNotification)

	go func() {
		defer close(c.readDone)
		_ = c.protocol.ReadLoop(c.ctx)
	}()

	// Stderr must drain for the process lifetime so a server blocking on
	// stderr output cannot stall the stdin/stdout exchange.
	go c.drainStderr()

	if err := c.initialize(ctx); err != nil {
		c.Shutdown(ctx)
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	c.setState(ServerStateReady)

	slog.Info("Language server ready",
		slog.String("server", c.opts.Server),
		slog.Bool("document_symbol", c.capabilities.HasDocumentSymbolProvider()),
		slog.Bool("references", c.capabilities.HasReferencesProvider()),
	)

	return nil
}

// initialize performs the initialize handshake.
//
// The capability descriptor is fixed for the session: hierarchical
// document symbols, markdown/plaintext documentation, applyEdit with
// documentChanges. It is never renegotiated mid-run.
func (c *Client) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   PathToURI(c.opts.RootPath),
		RootPath:  c.opts.RootPath,
		Capabilities: ClientCapabilities{
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{
					DidSave: true,
				},
				DocumentSymbol: &DocumentSymbolCapabilities{
					HierarchicalDocumentSymbolSupport: true,
				},
				References: &ReferencesCapabilities{},
				Hover: &HoverCapabilities{
					ContentFormat: []string{"markdown", "plaintext"},
				},
				PublishDiagnostics: &PublishDiagnosticsCapabilities{
					RelatedInformation: true,
				},
			},
			Workspace: WorkspaceClientCapabilities{
				ApplyEdit: true,
				WorkspaceEdit: &WorkspaceEditClientCapabilities{
					DocumentChanges: true,
				},
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{
				URI:  PathToURI(c.opts.RootPath),
				Name: "workspace",
			},
		},
	}

	if c.opts.InitializationOptions != nil {
		params.InitializationOptions = c.opts.InitializationOptions
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.protocol.SendRequest(reqCtx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo

	if result.ServerInfo != nil {
		slog.Debug("Initialize handshake complete",
			slog.String("server_name", result.ServerInfo.Name),
			slog.String("server_version", result.ServerInfo.Version),
		)
	}

	if err := c.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
//
// Description:
//
//	Sends shutdown and exit messages to the server, then waits for the
//	process to terminate. If the server doesn't respond, it is killed.
//	Runs on every exit path where a process handle exists so the process
//	is never leaked.
//
// Thread Safety:
//
//	Safe for concurrent use. Multiple calls are idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == ServerStateStopped || c.state == ServerStateStopping {
		c.stateMu.Unlock()
		return nil
	}
	c.state = ServerStateStopping
	c.stateMu.Unlock()

	slog.Info("Shutting down language server",
		slog.String("server", c.opts.Server),
	)

	defer c.cleanup()

	// Try graceful shutdown
	if c.protocol != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
		defer cancel()

		// Send shutdown request (ignoring errors)
		_, _ = c.protocol.SendRequest(shutdownCtx, "shutdown", nil)

		// Send exit notification
		_ = c.protocol.SendNotification("exit", nil)

		c.protocol.Close()
	}

	// Close stdin to signal EOF to server
	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	// Wait for process with timeout
	if c.cmd != nil && c.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()

		select {
		case <-time.After(shutdownGrace):
			_ = c.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	// Wait for background tasks to finish
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.readDone:
	case <-time.After(time.Second):
	}

	select {
	case <-c.drainDone:
	case <-time.After(time.Second):
	}

	return nil
}

// cleanup releases resources and sets state to stopped.
func (c *Client) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.stderr != nil {
		_ = c.stderr.Close()
	}
	c.setState(ServerStateStopped)
}

// =============================================================================
// BACKGROUND TASKS
// =============================================================================

// drainStderr forwards server stderr lines to the log for the process
// lifetime. Pipe closure ends the drain and is not an error.
func (c *Client) drainStderr() {
	defer close(c.drainDone)

	scanner := bufio.NewScanner(c.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		slog.Debug("Language server stderr",
			slog.String("server", c.opts.Server),
			slog.String("line", scanner.Text()),
		)
	}

	if err := scanner.Err(); err != nil && c.State() != ServerStateStopping && c.State() != ServerStateStopped {
		slog.Debug("Language server stderr drain ended",
			slog.String("server", c.opts.Server),
			slog.String("error", err.Error()),
		)
	}
}

// dispatchNotification routes server-initiated notifications. Runs on the
// read loop goroutine; the publishDiagnostics arm performs a single
// non-blocking channel send and nothing else.
func (c *Client) dispatchNotification(method string, params json.RawMessage) {
	switch method {
	case "textDocument/publishDiagnostics":
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		select {
		case c.parseEvents <- p.URI:
		default:
			recordParseEventDropped(c.ctx, c.opts.Server)
			slog.Warn("Parse confirmation dropped, event buffer full",
				slog.String("server", c.opts.Server),
				slog.String("uri", p.URI),
			)
		}
	case "window/logMessage":
		var p LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		slog.Debug("Language server log",
			slog.String("server", c.opts.Server),
			slog.Int("type", p.Type),
			slog.String("message", p.Message),
		)
	default:
		slog.Debug("Unhandled server notification",
			slog.String("server", c.opts.Server),
			slog.String("method", method),
		)
	}
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// DidOpen notifies the server that a document was opened.
//
// Inputs:
//
//	ctx - Context, checked for prior cancellation
//	uri - Document URI (file:// scheme)
//	languageID - Language identifier from the registry entry
//	text - Full document text
func (c *Client) DidOpen(ctx context.Context, uri, languageID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.State() != ServerStateReady {
		return ErrServerNotRunning
	}

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    documentVersion,
			Text:       text,
		},
	}
	return c.protocol.SendNotification("textDocument/didOpen", params)
}

// DocumentSymbols returns the symbols declared in a document.
//
// Description:
//
//	Sends textDocument/documentSymbol and decodes whichever result shape
//	the server produced. A JSON-RPC error response means this server
//	cannot serve the request (older servers reject it outright) and is
//	surfaced as ErrUnsupportedRequest.
//
// Outputs:
//
//	*SymbolResponse - Hierarchical or flat symbols; may be empty
//	error - ErrUnsupportedRequest, ErrServerNotRunning, or transport failure
func (c *Client) DocumentSymbols(ctx context.Context, uri string) (*SymbolResponse, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}

	ctx, span := startOperationSpan(ctx, "DocumentSymbols", c.opts.Server, uri)
	defer span.End()
	start := time.Now()

	params := DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.protocol.SendRequest(reqCtx, "textDocument/documentSymbol", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", c.opts.Server, time.Since(start), 0, false)

		var lspErr *LSPError
		if errors.As(err, &lspErr) {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedRequest, lspErr)
		}
		return nil, fmt.Errorf("documentSymbol request: %w", err)
	}

	symbols, err := parseSymbolResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "document_symbol", c.opts.Server, time.Since(start), 0, false)
		return nil, err
	}

	count := len(symbols.Hierarchical) + len(symbols.Flat)
	setOperationSpanResult(span, count, true)
	recordOperationMetrics(ctx, "document_symbol", c.opts.Server, time.Since(start), count, true)
	return symbols, nil
}

// References returns every location referencing the symbol at a position.
//
// Description:
//
//	Sends textDocument/references anchored at the given position. The
//	result may be empty; emptiness is meaningful to callers and is not
//	an error.
//
// Inputs:
//
//	ctx - Context for cancellation
//	uri - Document URI (file:// scheme)
//	pos - 0-indexed anchor position
//	includeDeclaration - Whether the declaration site counts as a reference
//
// Outputs:
//
//	[]Location - Reference locations as reported, order preserved
//	error - Non-nil on failure
func (c *Client) References(ctx context.Context, uri string, pos Position, includeDeclaration bool) ([]Location, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if c.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}

	ctx, span := startOperationSpan(ctx, "References", c.opts.Server, uri)
	defer span.End()
	start := time.Now()

	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDeclaration},
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	resp, err := c.protocol.SendRequest(reqCtx, "textDocument/references", params)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "references", c.opts.Server, time.Since(start), 0, false)
		return nil, fmt.Errorf("references request: %w", err)
	}

	locations, err := parseLocationResponse(resp.Result)
	if err != nil {
		setOperationSpanResult(span, 0, false)
		recordOperationMetrics(ctx, "references", c.opts.Server, time.Since(start), 0, false)
		return nil, err
	}

	setOperationSpanResult(span, len(locations), true)
	recordOperationMetrics(ctx, "references", c.opts.Server, time.Since(start), len(locations), true)
	return locations, nil
}

// ParseEvents returns the channel of URIs confirmed parsed by the server.
//
// Description:
//
//	One URI is delivered per publishDiagnostics notification. The channel
//	is buffered; it is never closed while the client lives.
func (c *Client) ParseEvents() <-chan string {
	return c.parseEvents
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current server state.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (c *Client) State() ServerState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Capabilities returns the capabilities reported during initialization.
// Zero value before the handshake completes.
func (c *Client) Capabilities() ServerCapabilities {
	return c.capabilities
}

// Server returns the registry token naming this server.
func (c *Client) Server() string {
	return c.opts.Server
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

func (c *Client) setState(state ServerState) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// requestContext applies the oversized backstop deadline when the caller
// supplied none.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, oversizedRequestTimeout)
}
