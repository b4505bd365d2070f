package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemIndex is an in-process Index used for local mode and tests. Ranking is
// naive token overlap between the query and the entry text plus keys, which
// is close enough to exercise the orchestration paths that normally sit on
// top of an external vector index.
type MemIndex struct {
	mux  sync.RWMutex
	data map[string]map[string]Entry // namespace -> entry id -> entry
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{data: make(map[string]map[string]Entry)}
}

func (m *MemIndex) Upsert(ctx context.Context, namespace string, entries []Entry) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	if m.data[namespace] == nil {
		m.data[namespace] = make(map[string]Entry)
	}
	for _, entry := range entries {
		m.data[namespace][entry.ID] = entry
	}
	return nil
}

func (m *MemIndex) DeleteByIntegration(ctx context.Context, namespace, integrationKey string) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	for id, entry := range m.data[namespace] {
		if entry.IntegrationKey == integrationKey {
			delete(m.data[namespace], id)
		}
	}
	return nil
}

func (m *MemIndex) Search(ctx context.Context, query string, topK int, scope Scope) ([]Entry, error) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	type scored struct {
		entry Entry
		score int
	}
	terms := tokenize(query)
	var hits []scored
	for _, entry := range m.data[scope.NamespaceOrDefault()] {
		if scope.IntegrationKey != "" && entry.IntegrationKey != scope.IntegrationKey {
			continue
		}
		score := overlap(terms, tokenize(entry.Text+" "+entry.IntegrationKey+" "+entry.ToolKey))
		if score == 0 {
			continue
		}
		hits = append(hits, scored{entry: entry, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].entry.ID < hits[j].entry.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	result := make([]Entry, 0, len(hits))
	for _, hit := range hits {
		result = append(result, hit.entry)
	}
	return result, nil
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ':' || r == ',' || r == '.' || r == '-' || r == '_'
	}) {
		if tok != "" {
			tokens[tok] = true
		}
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	count := 0
	for tok := range a {
		if b[tok] {
			count++
		}
	}
	return count
}
