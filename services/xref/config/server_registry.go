// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides the language server registry for the xref scanner.
//
// The registry maps server names and file extensions to launch vectors for
// stdio language servers. A default registry ships embedded in the binary;
// an external YAML file can override it for local customization.
//
// Thread Safety:
//
//	All exported functions and types are safe for concurrent use.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxYAMLFileSize is the maximum allowed YAML file size (1MB).
	MaxYAMLFileSize = 1024 * 1024

	// MaxServersInRegistry is the maximum server entries allowed in the registry.
	MaxServersInRegistry = 50

	// MaxExtensionsPerServer is the maximum file extensions allowed per server.
	MaxExtensionsPerServer = 20

	// registryPathEnv names the environment variable overriding the
	// registry file location.
	registryPathEnv = "XREF_SERVER_REGISTRY"
)

// =============================================================================
// Embedded Default Registry
// =============================================================================

//go:embed server_registry.yaml
var defaultServerRegistryYAML []byte

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	registryLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xref_server_registry_load_errors_total",
		Help: "Total server registry load errors",
	})

	registryLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xref_server_registry_load_duration_seconds",
		Help:    "Duration of server registry loading",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5},
	})

	serverSelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xref_server_selections_total",
		Help: "Total server selections by server and source",
	}, []string{"server", "source"})
)

// =============================================================================
// OTel Tracer
// =============================================================================

var registryTracer = otel.Tracer("aleutian.xref.config")

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrUnknownServer indicates a server name not present in the registry.
	ErrUnknownServer = errors.New("unknown language server")

	// ErrUnsupportedExtension indicates a file extension no registered
	// server claims.
	ErrUnsupportedExtension = errors.New("no language server registered for extension")
)

// =============================================================================
// Types
// =============================================================================

// ServerRegistryYAML is the root structure for YAML deserialization.
type ServerRegistryYAML struct {
	Servers []ServerEntryYAML `yaml:"servers"`
}

// ServerEntryYAML represents a single server entry in the YAML file.
type ServerEntryYAML struct {
	Name                  string                 `yaml:"name"`
	Command               string                 `yaml:"command"`
	Args                  []string               `yaml:"args,omitempty"`
	Languages             []LanguageYAML         `yaml:"languages"`
	RootMarkers           []string               `yaml:"root_markers,omitempty"`
	InitializationOptions map[string]interface{} `yaml:"initialization_options,omitempty"`
}

// LanguageYAML maps a language identifier to the extensions it claims.
type LanguageYAML struct {
	ID         string   `yaml:"id"`
	Extensions []string `yaml:"extensions"`
}

// ServerConfig describes how to launch one language server and which
// files it analyzes.
type ServerConfig struct {
	// Name is the registry token for this server.
	Name string

	// Command is the binary to spawn.
	Command string

	// Args are the arguments passed to the binary.
	Args []string

	// Languages maps lowercase file extensions (with leading dot) to the
	// language identifier sent in didOpen.
	Languages map[string]string

	// RootMarkers are filenames whose presence under the workspace root
	// suggests the server will index it correctly.
	RootMarkers []string

	// InitializationOptions are server-specific options forwarded in the
	// initialize request.
	InitializationOptions map[string]interface{}
}

// Registry resolves server names and file extensions to launch vectors.
//
// Thread Safety: Safe for concurrent use after initialization.
type Registry struct {
	// entries maps server name to its configuration.
	entries map[string]*ServerConfig

	// order preserves YAML declaration order for listings.
	order []string

	// extIndex maps lowercase extensions to the first server claiming them.
	extIndex map[string]string
}

// =============================================================================
// Singleton Registry
// =============================================================================

var (
	registryMu      sync.RWMutex
	registryOnce    sync.Once
	cachedRegistry  *Registry
	registryLoadErr error
)

// GetServerRegistry returns the cached server registry.
//
// Description:
//
//	Loads the server registry on first call and caches it for subsequent
//	calls. Uses sync.Once for thread-safe initialization.
//
// Inputs:
//
//	ctx - Context for tracing. Must not be nil.
//
// Outputs:
//
//	*Registry - The loaded registry. Never nil on success.
//	error - Non-nil if loading failed.
//
// Thread Safety: Safe for concurrent use via sync.Once.
//
// Example:
//
//	registry, err := config.GetServerRegistry(ctx)
//	if err != nil {
//	    return fmt.Errorf("loading server registry: %w", err)
//	}
//	server, err := registry.ForTarget("cmd/main.go")
func GetServerRegistry(ctx context.Context) (*Registry, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetServerRegistry: ctx must not be nil")
	}

	registryMu.RLock()
	if cachedRegistry != nil || registryLoadErr != nil {
		reg, err := cachedRegistry, registryLoadErr
		registryMu.RUnlock()
		return reg, err
	}
	registryMu.RUnlock()

	registryMu.Lock()
	defer registryMu.Unlock()

	if cachedRegistry != nil || registryLoadErr != nil {
		return cachedRegistry, registryLoadErr
	}

	registryOnce.Do(func() {
		cachedRegistry, registryLoadErr = loadServerRegistry(ctx)
	})

	return cachedRegistry, registryLoadErr
}

// ResetServerRegistry resets the cached registry for testing.
//
// Description:
//
//	Clears the cached registry and sync.Once state to allow re-loading the
//	registry on the next call to GetServerRegistry.
//
// Thread Safety:
//
//	Safe for concurrent use. Uses mutex to protect against data races when
//	called concurrently with GetServerRegistry.
//
// WARNING: This function is intended for testing only.
func ResetServerRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registryOnce = sync.Once{}
	cachedRegistry = nil
	registryLoadErr = nil
}

// =============================================================================
// Loading Logic
// =============================================================================

// loadServerRegistry loads the registry from YAML.
//
// Falls back to the embedded default when no external file is configured
// or the external file cannot be read.
func loadServerRegistry(ctx context.Context) (*Registry, error) {
	ctx, span := registryTracer.Start(ctx, "serverregistry.Load")
	defer span.End()

	startTime := time.Now()
	defer func() {
		registryLoadDuration.Observe(time.Since(startTime).Seconds())
	}()

	externalPath := getExternalRegistryPath()
	var yamlData []byte
	var source string

	if externalPath != "" {
		data, err := loadExternalYAML(ctx, externalPath)
		if err == nil {
			yamlData = data
			source = "external"
			slog.Info("Loaded server registry from external file",
				slog.String("path", externalPath))
		} else {
			slog.Warn("External server registry not available, using embedded default",
				slog.String("path", externalPath),
				slog.String("error", err.Error()))
		}
	}

	if yamlData == nil {
		yamlData = defaultServerRegistryYAML
		source = "embedded"
		slog.Debug("Using embedded server registry")
	}

	span.SetAttributes(
		attribute.String("source", source),
		attribute.Int("yaml_size", len(yamlData)),
	)

	registry, err := parseServerRegistryYAML(ctx, yamlData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		registryLoadErrors.Inc()
		return nil, fmt.Errorf("parsing server registry YAML: %w", err)
	}

	span.SetAttributes(
		attribute.Int("server_count", len(registry.entries)),
		attribute.Int("extension_count", len(registry.extIndex)),
	)

	slog.Info("Server registry loaded",
		slog.Int("server_count", len(registry.entries)),
		slog.Int("extension_count", len(registry.extIndex)),
		slog.String("source", source))

	return registry, nil
}

// getExternalRegistryPath returns the path to an external registry file.
// Returns empty string if no external path is configured.
func getExternalRegistryPath() string {
	if path := os.Getenv(registryPathEnv); path != "" {
		return path
	}

	locations := []string{
		"./server_registry.yaml",
		"./config/server_registry.yaml",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			absPath, _ := filepath.Abs(loc)
			return absPath
		}
	}

	return ""
}

// loadExternalYAML loads YAML from an external file with path and size checks.
func loadExternalYAML(ctx context.Context, path string) ([]byte, error) {
	ctx, span := registryTracer.Start(ctx, "serverregistry.LoadExternal",
		trace.WithAttributes(attribute.String("path", path)),
	)
	defer span.End()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	if strings.Contains(absPath, "..") {
		return nil, fmt.Errorf("loadExternalYAML: path traversal not allowed: %s", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("YAML file too large: %d bytes (max %d)", info.Size(), MaxYAMLFileSize)
	}

	span.SetAttributes(attribute.Int64("file_size", info.Size()))

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return data, nil
}

// parseServerRegistryYAML parses YAML data into a registry.
//
// Validates entries and builds the extension index. When two servers claim
// the same extension, the earlier entry wins.
func parseServerRegistryYAML(ctx context.Context, data []byte) (*Registry, error) {
	ctx, span := registryTracer.Start(ctx, "serverregistry.Parse")
	defer span.End()

	var yamlReg ServerRegistryYAML
	if err := yaml.Unmarshal(data, &yamlReg); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if len(yamlReg.Servers) == 0 {
		return nil, fmt.Errorf("parseServerRegistryYAML: registry has no servers")
	}
	if len(yamlReg.Servers) > MaxServersInRegistry {
		return nil, fmt.Errorf("too many servers: %d (max %d)", len(yamlReg.Servers), MaxServersInRegistry)
	}

	registry := &Registry{
		entries:  make(map[string]*ServerConfig, len(yamlReg.Servers)),
		order:    make([]string, 0, len(yamlReg.Servers)),
		extIndex: make(map[string]string),
	}

	for i, srv := range yamlReg.Servers {
		if srv.Name == "" {
			return nil, fmt.Errorf("parseServerRegistryYAML: server at index %d has empty name", i)
		}
		if srv.Command == "" {
			return nil, fmt.Errorf("server %s has empty command", srv.Name)
		}
		if _, dup := registry.entries[srv.Name]; dup {
			return nil, fmt.Errorf("duplicate server name: %s", srv.Name)
		}
		if len(srv.Languages) == 0 {
			return nil, fmt.Errorf("server %s declares no languages", srv.Name)
		}

		languages := make(map[string]string)
		for _, lang := range srv.Languages {
			if lang.ID == "" {
				return nil, fmt.Errorf("server %s has a language with empty id", srv.Name)
			}
			if len(lang.Extensions) == 0 {
				return nil, fmt.Errorf("server %s language %s declares no extensions", srv.Name, lang.ID)
			}
			for _, ext := range lang.Extensions {
				ext = strings.ToLower(ext)
				if !strings.HasPrefix(ext, ".") {
					return nil, fmt.Errorf("server %s extension %q must start with a dot", srv.Name, ext)
				}
				if prev, claimed := languages[ext]; claimed {
					return nil, fmt.Errorf("server %s claims %q for both %s and %s", srv.Name, ext, prev, lang.ID)
				}
				languages[ext] = lang.ID
			}
		}
		if len(languages) > MaxExtensionsPerServer {
			return nil, fmt.Errorf("server %s has too many extensions: %d (max %d)",
				srv.Name, len(languages), MaxExtensionsPerServer)
		}

		entry := &ServerConfig{
			Name:                  srv.Name,
			Command:               srv.Command,
			Args:                  srv.Args,
			Languages:             languages,
			RootMarkers:           srv.RootMarkers,
			InitializationOptions: srv.InitializationOptions,
		}
		registry.entries[srv.Name] = entry
		registry.order = append(registry.order, srv.Name)

		for ext := range languages {
			if _, claimed := registry.extIndex[ext]; !claimed {
				registry.extIndex[ext] = srv.Name
			}
		}
	}

	span.SetAttributes(
		attribute.Int("server_count", len(registry.entries)),
		attribute.Int("extension_count", len(registry.extIndex)),
	)

	return registry, nil
}

// =============================================================================
// Registry Methods
// =============================================================================

// Get returns the configuration for a server name.
//
// Inputs:
//
//	name - The registry token, as passed to --server.
//
// Outputs:
//
//	*ServerConfig - The configuration. Never nil on success.
//	error - ErrUnknownServer if the name is not registered.
func (r *Registry) Get(name string) (*ServerConfig, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)",
			ErrUnknownServer, name, strings.Join(r.Names(), ", "))
	}
	return entry, nil
}

// ForExtension returns the first server claiming a file extension.
//
// Inputs:
//
//	ext - Lowercase extension with leading dot, e.g. ".go".
//
// Outputs:
//
//	*ServerConfig - The configuration. Never nil on success.
//	error - ErrUnsupportedExtension if no server claims the extension.
func (r *Registry) ForExtension(ext string) (*ServerConfig, error) {
	name, ok := r.extIndex[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	return r.entries[name], nil
}

// ForTarget returns the first server claiming the target file's extension.
//
// Inputs:
//
//	target - Path to the file being scanned. Only the extension is read.
//
// Outputs:
//
//	*ServerConfig - The configuration. Never nil on success.
//	error - ErrUnsupportedExtension if no server claims the extension.
func (r *Registry) ForTarget(target string) (*ServerConfig, error) {
	ext := filepath.Ext(target)
	if ext == "" {
		return nil, fmt.Errorf("%w: %q has no extension", ErrUnsupportedExtension, target)
	}
	return r.ForExtension(ext)
}

// Names returns server names in declaration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of servers in the registry.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// LanguageID returns the didOpen language identifier for an extension.
//
// Outputs:
//
//	string - The language identifier, e.g. "go".
//	bool - True if this server claims the extension.
func (s *ServerConfig) LanguageID(ext string) (string, bool) {
	id, ok := s.Languages[strings.ToLower(ext)]
	return id, ok
}

// Extensions returns the extensions this server claims, sorted.
func (s *ServerConfig) Extensions() []string {
	exts := make([]string, 0, len(s.Languages))
	for ext := range s.Languages {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// =============================================================================
// Metric Helpers
// =============================================================================

// RecordServerSelection records which server a scan selected and how.
//
// Inputs:
//
//	server - The selected server name.
//	source - The selection source, "flag" or "extension".
//
// Thread Safety: Safe for concurrent use.
func RecordServerSelection(server, source string) {
	serverSelections.WithLabelValues(server, source).Inc()
}
