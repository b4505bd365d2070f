// Package relevance resolves free-text intent into ranked candidate app
// keys. Resolution is a pure read: lookup failures degrade to an empty
// result with an explanatory answer instead of aborting the conversation.
package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/membranehq/ai-agent-example/genai/catalog"
	"github.com/sirupsen/logrus"
)

// Result carries the ranked app candidates and a user-facing explanation.
type Result struct {
	Apps   []string `json:"apps"`
	Query  string   `json:"query"`
	Answer string   `json:"answer"`
}

// Resolver ranks candidate apps for a query. The user-scoped index covers
// apps the user has connected; the broad index covers the full catalog and
// serves the "search more broadly" fallback.
type Resolver struct {
	index      catalog.Searcher
	broadIndex catalog.Searcher
	topK       int
	log        *logrus.Logger
}

// Option customises Resolver behaviour.
type Option func(*Resolver)

// WithTopK overrides the default ranked-lookup size.
func WithTopK(topK int) Option {
	return func(r *Resolver) {
		if topK > 0 {
			r.topK = topK
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Logger) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a Resolver. broadIndex may equal index when no wider catalog
// exists.
func New(index, broadIndex catalog.Searcher, opts ...Option) *Resolver {
	r := &Resolver{index: index, broadIndex: broadIndex, topK: 10, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// AppPrefix extracts the explicit "app-name: action" prefix from a query,
// returning the app name and true when present.
func AppPrefix(query string) (string, bool) {
	app, _, found := strings.Cut(query, ":")
	app = strings.TrimSpace(app)
	if !found || app == "" || strings.Contains(app, " ") {
		return "", false
	}
	return app, true
}

// Resolve returns ranked candidate apps for the query within the supplied
// scope. Queries with an explicit "app-name: action" prefix short-circuit to
// an exact-match check first.
func (r *Resolver) Resolve(ctx context.Context, query string, scope catalog.Scope) Result {
	return r.resolve(ctx, r.index, query, scope)
}

// ResolveBroader re-runs the resolution against the broad, unscoped catalog.
// Used when the scoped lookup found nothing relevant.
func (r *Resolver) ResolveBroader(ctx context.Context, query string) Result {
	return r.resolve(ctx, r.broadIndex, query, catalog.Scope{})
}

func (r *Resolver) resolve(ctx context.Context, index catalog.Searcher, query string, scope catalog.Scope) Result {
	appName, hasPrefix := AppPrefix(query)
	if hasPrefix {
		scope.IntegrationKey = ""
	}

	entries, err := index.Search(ctx, query, r.topK, scope)
	if err != nil {
		r.log.WithError(err).WithField("query", query).Warn("relevance lookup failed")
		return Result{Apps: []string{}, Query: query, Answer: "An error occurred while trying to find relevant apps"}
	}

	apps := dedupeApps(entries)

	if hasPrefix {
		for _, app := range apps {
			if app == appName {
				return Result{Apps: []string{appName}, Query: query, Answer: fmt.Sprintf("Proceeding with %s", appName)}
			}
		}
		if len(apps) > 0 {
			return Result{
				Apps:   apps,
				Query:  query,
				Answer: fmt.Sprintf("I couldn't find a match for %s, do you mean %s?", appName, strings.Join(apps, ", ")),
			}
		}
	}

	if len(apps) == 0 {
		return Result{Apps: []string{}, Query: query, Answer: fmt.Sprintf("I couldn't find any relevant apps for %q", query)}
	}

	return Result{
		Apps:  apps,
		Query: query,
		Answer: fmt.Sprintf("Based on your prompt, %q, I found these relevant apps: %s, please select which ones you'd like to use.",
			query, strings.Join(apps, ", ")),
	}
}

// dedupeApps collapses entries to unique app keys preserving rank order.
func dedupeApps(entries []catalog.Entry) []string {
	seen := make(map[string]bool)
	var apps []string
	for _, entry := range entries {
		if entry.IntegrationKey == "" || seen[entry.IntegrationKey] {
			continue
		}
		seen[entry.IntegrationKey] = true
		apps = append(apps, entry.IntegrationKey)
	}
	return apps
}
