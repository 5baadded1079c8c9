// Package source fetches product catalogs from storefront APIs. Each source
// knows how to turn a stored query URL into API page requests and how to
// parse the responses into catalog items.
package source

import (
	"context"

	"prijswacht/internal/catalog"
)

// Result is the outcome of one full paginated fetch.
//
// Items may be non-empty even when FetchAll also returns an error: pages
// fetched before a mid-pagination failure are kept, and the caller decides
// what to do with the partial batch.
type Result struct {
	Items      []catalog.Item
	Success    bool   // at least one item was seen
	StatusCode int    // last HTTP status, 0 when no response arrived
	Pages      int    // pages fetched without error
	APIURL     string // resolved API URL, recorded in the audit trail
}

// Source fetches one storefront's catalog.
type Source interface {
	Name() string
	Matches(queryURL string) bool
	FetchAll(ctx context.Context, queryURL string) (Result, error)
}

// Registry picks the source for a query URL. URLs matching no source fall
// back to the first registered one.
type Registry struct {
	sources []Source
}

func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

func (r *Registry) For(queryURL string) Source {
	for _, s := range r.sources {
		if s.Matches(queryURL) {
			return s
		}
	}
	if len(r.sources) > 0 {
		return r.sources[0]
	}
	return nil
}
