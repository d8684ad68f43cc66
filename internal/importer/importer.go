// Package importer resolves import requests into concrete sources and
// materializes them into the game library.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrImporterNotFound is returned when a named importer is not registered.
	ErrImporterNotFound = errors.New("importer not found")
	// ErrIDUnsupported is returned when a named importer cannot import by id.
	ErrIDUnsupported = errors.New("importer does not support ID import")
	// ErrGameNotFound is returned when a source site has no link for a title.
	// It is distinct from transport errors.
	ErrGameNotFound = errors.New("game not found")
)

// Request is an import request: an opaque id (URL, title id, or an
// importer-specific token) plus optional custom headers for remote fetches.
type Request struct {
	ID      string
	Headers map[string]string
}

// Importer turns a request into a Source plan. The set of importers is
// closed and registered explicitly; no runtime downcasting.
type Importer interface {
	Name() string
	DisplayName() string
	Description() string
	SupportsID() bool
	Import(ctx context.Context, req Request) (*Source, error)
}

// Registry maps importer names to instances, preserving registration order
// for the fallback selection heuristic.
type Registry struct {
	order     []string
	importers map[string]Importer
}

// NewRegistry creates an empty importer registry.
func NewRegistry() *Registry {
	return &Registry{importers: make(map[string]Importer)}
}

// Register adds an importer under its own name.
func (r *Registry) Register(imp Importer) {
	name := imp.Name()
	if _, exists := r.importers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.importers[name] = imp
}

// Get looks up an importer by name.
func (r *Registry) Get(name string) (Importer, bool) {
	imp, ok := r.importers[name]
	return imp, ok
}

// Names returns registered importer names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// ResolveForID selects the importer for an opaque id. An explicit name is
// validated against the registry and must support id import. Otherwise:
// a percent-encoded URL selects the URL importer, a 16-hex-character id
// selects the title-id importer, and anything else falls back to the first
// registered importer capable of id import.
func (r *Registry) ResolveForID(name, id string) (Importer, error) {
	if name != "" {
		imp, ok := r.importers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrImporterNotFound, name)
		}
		if !imp.SupportsID() {
			return nil, fmt.Errorf("%w: %s", ErrIDUnsupported, name)
		}
		return imp, nil
	}

	if LooksLikeURL(id) {
		if imp, ok := r.importers["url"]; ok {
			return imp, nil
		}
	}
	if IsTitleID(id) {
		if imp, ok := r.importers["titleid"]; ok {
			return imp, nil
		}
	}

	for _, n := range r.order {
		if imp := r.importers[n]; imp.SupportsID() {
			return imp, nil
		}
	}
	return nil, fmt.Errorf("%w: no importer can handle id %q", ErrImporterNotFound, id)
}

// LooksLikeURL reports whether id is a (possibly percent-encoded) http(s) URL.
func LooksLikeURL(id string) bool {
	decoded, err := url.QueryUnescape(id)
	if err != nil {
		decoded = id
	}
	u, err := url.Parse(decoded)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// IsTitleID reports whether id is exactly 16 hexadecimal characters.
func IsTitleID(id string) bool {
	if len(id) != 16 {
		return false
	}
	for _, c := range strings.ToLower(id) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
