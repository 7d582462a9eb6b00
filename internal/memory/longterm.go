package memory

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/store"
)

// DefaultSearchLimit caps search results when the caller asks for none.
const DefaultSearchLimit = 10

// ScopeKey derives the long-term memory bucket for a background agent.
// Shared scope pools memory across every background agent bound to the same
// base agent; per-agent scope isolates it.
func ScopeKey(cfg background.MemoryConfig, baseAgentID, backgroundID string) string {
	if cfg.Scope == background.ScopePerAgent {
		return "bg:" + backgroundID
	}
	return "agent:" + baseAgentID
}

// LongTerm persists memory entries across runs and answers substring
// searches over them.
type LongTerm struct {
	store *store.Store
}

// NewLongTerm creates the long-term memory manager.
func NewLongTerm(s *store.Store) *LongTerm {
	return &LongTerm{store: s}
}

// Save persists one untitled entry under the given scope.
func (l *LongTerm) Save(scopeKey, content string) error {
	return l.SaveEntry(scopeKey, "", content, nil)
}

// SaveEntry persists one entry with an optional title and tags.
func (l *LongTerm) SaveEntry(scopeKey, title, content string, tags []string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("memory content is empty")
	}
	return l.store.SaveMemory(&store.MemoryEntry{
		ID:       uuid.NewString(),
		ScopeKey: scopeKey,
		Title:    strings.TrimSpace(title),
		Content:  content,
		Tags:     cleanTags(tags),
	})
}

// Delete removes one entry from a scope.
func (l *LongTerm) Delete(scopeKey, id string) error {
	return l.store.DeleteMemory(scopeKey, id)
}

// Clear wipes every entry in a scope and reports how many were removed.
func (l *LongTerm) Clear(scopeKey string) (int, error) {
	return l.store.ClearMemory(scopeKey)
}

// Search returns entries whose title, content, or tags contain the query,
// newest first. Matching is case-insensitive after NFKC normalization, so
// full-width and composed forms compare equal.
func (l *LongTerm) Search(scopeKey, query string, limit int) ([]*store.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	// Scan a window larger than the limit; entries are small and recency
	// already bounds the candidate set.
	entries, err := l.store.ListMemory(scopeKey, limit*20)
	if err != nil {
		return nil, err
	}

	needle := normalize(query)
	if needle == "" {
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return entries, nil
	}

	var out []*store.MemoryEntry
	for _, e := range entries {
		haystack := normalize(e.Title + " " + e.Content + " " + strings.Join(e.Tags, " "))
		if strings.Contains(haystack, needle) {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Recent returns the newest entries for a scope without filtering.
func (l *LongTerm) Recent(scopeKey string, limit int) ([]*store.MemoryEntry, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return l.store.ListMemory(scopeKey, limit)
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(strings.TrimSpace(s)))
}

func cleanTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
