// Package catalog defines the searchable tool catalog contract. The backing
// store is an external ranked-lookup capability (a vector index populated by
// webhook-driven pipelines); the core only reads ranked entries and, for the
// indexing side, upserts or purges them by namespace.
package catalog

import "context"

// DefaultNamespace is used when no per-user namespace applies.
const DefaultNamespace = "__default__"

// Entry is one indexed tool: derived id, owning integration, tool key and
// the description text the ranking is computed against.
type Entry struct {
	ID             string `json:"id"`
	IntegrationKey string `json:"integrationKey"`
	ToolKey        string `json:"toolKey"`
	Text           string `json:"text"`
	UserID         string `json:"userId,omitempty"`
}

// Scope narrows a search to a namespace and optionally one integration.
type Scope struct {
	// Namespace is the per-user namespace, DefaultNamespace when empty.
	Namespace string

	// IntegrationKey filters entries to a single app when non-empty.
	IntegrationKey string
}

func (s Scope) NamespaceOrDefault() string {
	if s.Namespace == "" {
		return DefaultNamespace
	}
	return s.Namespace
}

// Searcher is the ranked-lookup capability: given a text query and a scope it
// returns entries ordered by relevance.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, scope Scope) ([]Entry, error)
}

// Writer is the indexing-side capability used by webhook handlers and the
// forced re-index escape hatch. Upserts are append/overwrite by id so
// last-write-wins is acceptable.
type Writer interface {
	Upsert(ctx context.Context, namespace string, entries []Entry) error
	DeleteByIntegration(ctx context.Context, namespace, integrationKey string) error
}

// Index combines search and write capabilities.
type Index interface {
	Searcher
	Writer
}
