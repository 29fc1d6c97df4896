// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianXref/services/xref/config"
)

// resetCmd restores the root command's IO and argument state after a
// test drives Execute directly.
func resetCmd(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
}

// useEmbeddedRegistry pins the registry to the embedded default so
// command tests do not depend on files in the working directory.
func useEmbeddedRegistry(t *testing.T) {
	t.Helper()
	t.Setenv("XREF_SERVER_REGISTRY", filepath.Join(t.TempDir(), "missing.yaml"))
	config.ResetServerRegistry()
	t.Cleanup(config.ResetServerRegistry)
}

// TestExitCodes tests the documented exit code contract.
func TestExitCodes(t *testing.T) {
	if ExitSuccess != 0 {
		t.Errorf("ExitSuccess = %d, want 0", ExitSuccess)
	}
	if ExitError != 1 {
		t.Errorf("ExitError = %d, want 1", ExitError)
	}
	if ExitBadArgs != 2 {
		t.Errorf("ExitBadArgs = %d, want 2", ExitBadArgs)
	}
}

// TestRootCmd_Help tests that help lists both subcommands.
func TestRootCmd_Help(t *testing.T) {
	resetCmd(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute(--help) failed: %v", err)
	}

	help := out.String()
	if !strings.Contains(help, "scan") {
		t.Error("help should list the scan command")
	}
	if !strings.Contains(help, "servers") {
		t.Error("help should list the servers command")
	}
}

// TestRootCmd_ScanRequiresTarget tests argument validation on scan.
func TestRootCmd_ScanRequiresTarget(t *testing.T) {
	resetCmd(t)

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"scan"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for scan without a target")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("error = %v, want arg count message", err)
	}
}

// TestRootCmd_ServersRejectsArgs tests argument validation on servers.
func TestRootCmd_ServersRejectsArgs(t *testing.T) {
	resetCmd(t)

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"servers", "extra"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for servers with arguments")
	}
}

// TestRootCmd_UnknownCommand tests rejection of unknown subcommands.
func TestRootCmd_UnknownCommand(t *testing.T) {
	resetCmd(t)

	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"frobnicate"})

	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v, want unknown command message", err)
	}
}

// TestSetupLogging tests flag-driven logger construction.
func TestSetupLogging(t *testing.T) {
	saved := flagLogLevel
	defer func() { flagLogLevel = saved }()

	flagLogLevel = "debug"
	logger, err := setupLogging()
	if err != nil {
		t.Fatalf("setupLogging failed: %v", err)
	}
	logger.Close()

	flagLogLevel = "verbose"
	if _, err := setupLogging(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// TestExecuteServers tests the server listing end to end against the
// embedded registry.
func TestExecuteServers(t *testing.T) {
	useEmbeddedRegistry(t)

	savedStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe failed: %v", err)
	}
	os.Stdout = w
	code := executeServers()
	w.Close()
	os.Stdout = savedStdout

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading listing failed: %v", err)
	}

	if code != ExitSuccess {
		t.Fatalf("executeServers() = %d, want %d", code, ExitSuccess)
	}

	listing := string(out)
	if !strings.Contains(listing, "NAME") {
		t.Error("listing should have a header row")
	}
	for _, name := range []string{"clangd", "intelephense", "phpls", "gopls", "pyright"} {
		if !strings.Contains(listing, name) {
			t.Errorf("listing missing server %s", name)
		}
	}
	if !strings.Contains(listing, ".go") {
		t.Error("listing should show claimed extensions")
	}
}

// pinTelemetryOff disables telemetry exporters for one test regardless
// of inherited OTel environment variables.
func pinTelemetryOff(t *testing.T) {
	t.Helper()
	savedTrace, savedMetric := flagTraceExporter, flagMetricExporter
	flagTraceExporter, flagMetricExporter = "none", "none"
	t.Cleanup(func() {
		flagTraceExporter, flagMetricExporter = savedTrace, savedMetric
	})
}

// TestExecuteScan_UnknownServer tests that a bad --server value is a
// usage error, before any server is spawned.
func TestExecuteScan_UnknownServer(t *testing.T) {
	useEmbeddedRegistry(t)
	pinTelemetryOff(t)

	saved := flagServer
	defer func() { flagServer = saved }()
	flagServer = "definitely-not-registered"

	if code := executeScan("main.go"); code != ExitBadArgs {
		t.Errorf("executeScan() = %d, want %d", code, ExitBadArgs)
	}
}

// TestExecuteScan_UnsupportedTarget tests that a target no server
// claims is a usage error.
func TestExecuteScan_UnsupportedTarget(t *testing.T) {
	useEmbeddedRegistry(t)
	pinTelemetryOff(t)

	saved := flagServer
	defer func() { flagServer = saved }()
	flagServer = ""

	if code := executeScan("Makefile"); code != ExitBadArgs {
		t.Errorf("executeScan() = %d, want %d", code, ExitBadArgs)
	}
}
