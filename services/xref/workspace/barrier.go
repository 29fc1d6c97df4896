// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
)

// ErrParseTimeout indicates not every opened document was confirmed
// parsed within the barrier's timeout.
var ErrParseTimeout = errors.New("parse confirmation timed out")

// parsePollInterval is the coarse interval at which the barrier checks
// whether the parsed set covers its targets.
const parsePollInterval = 200 * time.Millisecond

// Barrier waits for the server to confirm every opened document parsed.
//
// Description:
//
//	Each barrier owns its parsed set, parameterized by the target URIs at
//	construction, so concurrent scans of different workspaces never share
//	state. Confirmations arrive on the events channel, fed by the
//	transport's dispatch goroutine; the barrier drains them at each poll
//	tick. URIs are normalized to paths before comparison so escaping
//	differences between client and server cannot wedge the wait.
type Barrier struct {
	targets map[string]struct{}
	parsed  map[string]struct{}
	events  <-chan string
}

// NewBarrier creates a barrier for the given target URIs, fed by events.
func NewBarrier(targets []string, events <-chan string) *Barrier {
	b := &Barrier{
		targets: make(map[string]struct{}, len(targets)),
		parsed:  make(map[string]struct{}),
		events:  events,
	}
	for _, uri := range targets {
		b.targets[lsp.URIToPath(uri)] = struct{}{}
	}
	return b
}

// Await blocks until every target is confirmed parsed or the timeout
// elapses.
//
// Description:
//
//	Polls at a coarse fixed interval; the set only grows, so the first
//	tick observing full coverage releases the barrier. On timeout the
//	unconfirmed files are named in the returned error and the log.
//
// Inputs:
//
//	ctx - Context for cancellation
//	timeout - Maximum total wait
//
// Outputs:
//
//	error - Nil once parsed covers targets; ErrParseTimeout otherwise
func (b *Barrier) Await(ctx context.Context, timeout time.Duration) error {
	start := time.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(parsePollInterval)
	defer ticker.Stop()

	for {
		b.drainEvents()
		if b.satisfied() {
			slog.Info("All documents confirmed parsed",
				slog.Int("files", len(b.targets)),
				slog.Duration("elapsed", time.Since(start)),
			)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			missing := b.missing()
			slog.Warn("Parse confirmations missing at timeout",
				slog.Int("confirmed", len(b.targets)-len(missing)),
				slog.Int("missing", len(missing)),
				slog.Duration("timeout", timeout),
			)
			return fmt.Errorf("%w after %s: unconfirmed files: %v", ErrParseTimeout, timeout, missing)
		case <-ticker.C:
		}
	}
}

// drainEvents moves every queued confirmation into the parsed set
// without blocking.
func (b *Barrier) drainEvents() {
	for {
		select {
		case uri := <-b.events:
			b.parsed[lsp.URIToPath(uri)] = struct{}{}
		default:
			return
		}
	}
}

// satisfied reports whether the parsed set covers every target.
func (b *Barrier) satisfied() bool {
	for path := range b.targets {
		if _, ok := b.parsed[path]; !ok {
			return false
		}
	}
	return true
}

// missing returns the unconfirmed target paths, sorted.
func (b *Barrier) missing() []string {
	var paths []string
	for path := range b.targets {
		if _, ok := b.parsed[path]; !ok {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}
