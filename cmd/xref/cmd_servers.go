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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianXref/services/xref/config"
)

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

// runServers executes the servers command.
func runServers(cmd *cobra.Command, args []string) {
	os.Exit(executeServers())
}

// executeServers lists registry entries with an installed check.
func executeServers() int {
	logger, err := setupLogging()
	if err != nil {
		return usageError(err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	registry, err := config.GetServerRegistry(context.Background())
	if err != nil {
		slog.Error("Server registry load failed", slog.String("error", err.Error()))
		return ExitError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMMAND\tEXTENSIONS\tSTATUS")
	for _, name := range registry.Names() {
		server, err := registry.Get(name)
		if err != nil {
			continue
		}

		status := "installed"
		if _, err := exec.LookPath(server.Command); err != nil {
			status = "missing"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			server.Name,
			server.Command,
			strings.Join(server.Extensions(), " "),
			status,
		)
	}
	if err := w.Flush(); err != nil {
		slog.Error("Writing server listing failed", slog.String("error", err.Error()))
		return ExitError
	}

	return ExitSuccess
}
