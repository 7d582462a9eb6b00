// Package secrets holds credential values agents may reference by name.
// Commands and request headers use $NAME placeholders that are resolved just
// before execution, so raw secret values never enter the conversation
// history or the event stream.
package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const (
	MaxCount       = 50
	MaxKeyLength   = 64
	MaxValueLength = 64 * 1024
)

var keyRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Store is an in-memory secret table keyed by uppercase names.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

// Set adds or replaces a secret.
func (s *Store) Set(key, value string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("invalid secret key %q: must be UPPER_SNAKE_CASE", key)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("secret key too long: %s", key)
	}
	if len(value) > MaxValueLength {
		return fmt.Errorf("secret value too large: %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; !exists && len(s.values) >= MaxCount {
		return fmt.Errorf("too many secrets: limit is %d", MaxCount)
	}
	s.values[key] = value
	return nil
}

// Get returns a secret value.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return v, nil
}

// Delete removes a secret.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys lists the stored secret names. Values are never listed.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}

var refRe = regexp.MustCompile(`\$([A-Z][A-Z0-9_]*)`)

// Resolve substitutes $NAME references with stored values. Unknown names
// are left untouched so shell variables like $HOME pass through.
func (s *Store) Resolve(input string) string {
	return refRe.ReplaceAllStringFunc(input, func(match string) string {
		key := match[1:]
		s.mu.RLock()
		v, ok := s.values[key]
		s.mu.RUnlock()
		if !ok {
			return match
		}
		return v
	})
}

// Redact replaces any stored secret values appearing in the text with
// [REDACTED]. Applied to tool output before it is logged or streamed.
func (s *Store) Redact(text string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.values {
		if v == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, "[REDACTED]")
	}
	return text
}
