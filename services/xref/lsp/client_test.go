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
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// TestNewClient_InitialState tests the state of an unstarted client.
func TestNewClient_InitialState(t *testing.T) {
	c := NewClient(Options{Server: "gopls", Command: "gopls"})

	if c.State() != ServerStateUninitialized {
		t.Errorf("State() = %v, want uninitialized", c.State())
	}
	if c.Server() != "gopls" {
		t.Errorf("Server() = %q, want gopls", c.Server())
	}
}

// TestClient_Start_NotInstalled tests spawning a nonexistent binary.
func TestClient_Start_NotInstalled(t *testing.T) {
	c := NewClient(Options{
		Server:   "ghost",
		Command:  "definitely-not-a-real-language-server",
		RootPath: t.TempDir(),
	})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrServerNotInstalled) {
		t.Errorf("Start error = %v, want ErrServerNotInstalled", err)
	}
	if c.State() != ServerStateStopped {
		t.Errorf("State() = %v, want stopped", c.State())
	}
}

// TestClient_Start_NilContext tests nil context rejection.
func TestClient_Start_NilContext(t *testing.T) {
	c := NewClient(Options{Server: "gopls", Command: "gopls"})
	if err := c.Start(nil); err == nil {
		t.Error("expected error for nil context")
	}
}

// TestClient_RequestsBeforeStart tests operations on an unstarted client.
func TestClient_RequestsBeforeStart(t *testing.T) {
	c := NewClient(Options{Server: "gopls"})
	ctx := context.Background()

	if err := c.DidOpen(ctx, "file:///a.go", "go", "package a"); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("DidOpen error = %v, want ErrServerNotRunning", err)
	}

	if _, err := c.DocumentSymbols(ctx, "file:///a.go"); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("DocumentSymbols error = %v, want ErrServerNotRunning", err)
	}

	if _, err := c.References(ctx, "file:///a.go", Position{}, true); !errors.Is(err, ErrServerNotRunning) {
		t.Errorf("References error = %v, want ErrServerNotRunning", err)
	}
}

// TestClient_DispatchNotification_ParseEvent tests that a diagnostics
// notification surfaces the document URI on the parse event channel.
func TestClient_DispatchNotification_ParseEvent(t *testing.T) {
	c := NewClient(Options{Server: "test"})

	params := json.RawMessage(`{"uri":"file:///work/a.go","diagnostics":[]}`)
	c.dispatchNotification("textDocument/publishDiagnostics", params)

	select {
	case uri := <-c.ParseEvents():
		if uri != "file:///work/a.go" {
			t.Errorf("event uri = %q, want file:///work/a.go", uri)
		}
	default:
		t.Fatal("no parse event delivered")
	}
}

// TestClient_DispatchNotification_IgnoresOthers tests that unrelated
// notifications produce no parse events.
func TestClient_DispatchNotification_IgnoresOthers(t *testing.T) {
	c := NewClient(Options{Server: "test"})

	c.dispatchNotification("window/logMessage", json.RawMessage(`{"type":3,"message":"indexing"}`))
	c.dispatchNotification("$/progress", json.RawMessage(`{}`))
	c.dispatchNotification("textDocument/publishDiagnostics", json.RawMessage(`not json`))

	select {
	case uri := <-c.ParseEvents():
		t.Errorf("unexpected parse event %q", uri)
	default:
	}
}

// TestClient_ParseEventOverflow tests that a full event buffer never
// blocks the dispatcher.
func TestClient_ParseEventOverflow(t *testing.T) {
	c := NewClient(Options{Server: "test"})
	params := json.RawMessage(`{"uri":"file:///work/a.go","diagnostics":[]}`)

	for i := 0; i < parseEventBuffer; i++ {
		c.dispatchNotification("textDocument/publishDiagnostics", params)
	}

	done := make(chan struct{})
	go func() {
		c.dispatchNotification("textDocument/publishDiagnostics", params)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked on full event buffer")
	}

	if got := len(c.parseEvents); got != parseEventBuffer {
		t.Errorf("buffered events = %d, want %d", got, parseEventBuffer)
	}
}

// TestClient_RequestContext tests the backstop deadline behavior.
func TestClient_RequestContext(t *testing.T) {
	c := NewClient(Options{Server: "test"})

	rctx, cancel := c.requestContext(context.Background())
	defer cancel()
	if _, ok := rctx.Deadline(); !ok {
		t.Error("expected a backstop deadline on a deadline-free context")
	}

	dctx, dcancel := context.WithTimeout(context.Background(), time.Minute)
	defer dcancel()
	rctx2, cancel2 := c.requestContext(dctx)
	defer cancel2()
	if rctx2 != dctx {
		t.Error("caller deadline should pass through unchanged")
	}
}
