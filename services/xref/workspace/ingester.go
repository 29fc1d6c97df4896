// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace discovers and opens the source files a scan covers,
// retains their text for line lookups, and synchronizes on the server's
// parse confirmations.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianXref/services/xref/lsp"
)

// maxConcurrentReads bounds the file-read fan-out during ingestion.
const maxConcurrentReads = 8

// ignoredDirs are directory names skipped during discovery.
var ignoredDirs = map[string]struct{}{
	".git":         {},
	".hg":          {},
	".svn":         {},
	"vendor":       {},
	"node_modules": {},
	"testdata":     {},
}

// =============================================================================
// DOCUMENT & CACHE
// =============================================================================

// Document is an immutable snapshot of a source file taken at open time.
type Document struct {
	// URI is the file:// URI sent to the server.
	URI string

	// Path is the absolute filesystem path.
	Path string

	// LanguageID is the language identifier from the registry entry.
	LanguageID string

	// Version is the document version sent with didOpen, always 1.
	Version int

	// Text is the full file content at open time.
	Text string

	lines []string
}

func newDocument(path, languageID, text string) *Document {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return &Document{
		URI:        lsp.PathToURI(path),
		Path:       path,
		LanguageID: languageID,
		Version:    1,
		Text:       text,
		lines:      lines,
	}
}

// Line returns the 0-indexed line of the snapshot, without its trailing
// newline. The second result is false when the line does not exist.
func (d *Document) Line(n int) (string, bool) {
	if n < 0 || n >= len(d.lines) {
		return "", false
	}
	return d.lines[n], true
}

// LineCount returns the number of lines in the snapshot.
func (d *Document) LineCount() int {
	return len(d.lines)
}

// Cache holds every Document opened for a scan, keyed by absolute path
// and by URI. Populated during ingestion, read-only afterwards.
type Cache struct {
	byPath map[string]*Document
	byURI  map[string]*Document
}

func newCache() *Cache {
	return &Cache{
		byPath: make(map[string]*Document),
		byURI:  make(map[string]*Document),
	}
}

func (c *Cache) add(doc *Document) {
	c.byPath[doc.Path] = doc
	c.byURI[doc.URI] = doc
}

// ByPath returns the document for an absolute path.
func (c *Cache) ByPath(path string) (*Document, bool) {
	doc, ok := c.byPath[path]
	return doc, ok
}

// ByURI returns the document for a file:// URI, tolerating escaping
// differences by falling back to the decoded path.
func (c *Cache) ByURI(uri string) (*Document, bool) {
	if doc, ok := c.byURI[uri]; ok {
		return doc, true
	}
	doc, ok := c.byPath[lsp.URIToPath(uri)]
	return doc, ok
}

// ResolveLine returns the 0-indexed line of the document with the given
// URI. False when the document is not cached or the line is out of range.
func (c *Cache) ResolveLine(uri string, line int) (string, bool) {
	doc, ok := c.ByURI(uri)
	if !ok {
		return "", false
	}
	return doc.Line(line)
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	return len(c.byPath)
}

// URIs returns the URIs of every cached document, sorted.
func (c *Cache) URIs() []string {
	uris := make([]string, 0, len(c.byURI))
	for uri := range c.byURI {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// =============================================================================
// INGESTER
// =============================================================================

// DocumentOpener is the slice of the session the ingester needs.
type DocumentOpener interface {
	DidOpen(ctx context.Context, uri, languageID, text string) error
}

// Ingester discovers eligible source files under a root and opens each
// one on the server, retaining the text for later line resolution.
//
// Description:
//
//	Discovery walks the tree once, skipping well-known junk directories.
//	File contents are read concurrently, but a single read failure aborts
//	the whole ingest: the parse barrier's target set must be fully
//	determined before any confirmation can reference it. Open
//	notifications are then sent sequentially in path order.
type Ingester struct {
	opener DocumentOpener

	// languages maps file extensions (with dot) to language identifiers,
	// from the selected registry entry.
	languages map[string]string
}

// NewIngester creates an ingester for the given extension set.
func NewIngester(opener DocumentOpener, languages map[string]string) *Ingester {
	return &Ingester{
		opener:    opener,
		languages: languages,
	}
}

// Ingest discovers, reads, and opens every eligible file under root.
//
// Inputs:
//
//	ctx - Context for cancellation
//	root - Workspace root directory
//
// Outputs:
//
//	*Cache - Exactly one document per discovered file, keyed uniquely
//	error - Non-nil if discovery or any single read or open failed
func (ing *Ingester) Ingest(ctx context.Context, root string) (*Cache, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	start := time.Now()

	paths, err := ing.discover(rootAbs)
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	texts := make([]string, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			texts[i] = string(data)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cache := newCache()
	for i, path := range paths {
		doc := newDocument(path, ing.languages[filepath.Ext(path)], texts[i])
		if err := ing.opener.DidOpen(ctx, doc.URI, doc.LanguageID, doc.Text); err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		cache.add(doc)
	}

	slog.Info("Workspace ingested",
		slog.String("root", rootAbs),
		slog.Int("files", cache.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)

	return cache, nil
}

// discover walks the tree collecting files whose extension the selected
// server handles. Discovery order is path order but callers must not
// rely on it.
func (ing *Ingester) discover(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, skip := ignoredDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := ing.languages[filepath.Ext(path)]; ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paths, nil
}
