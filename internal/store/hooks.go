package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/nightshift-run/nightshift/internal/hooks"
)

// SaveHook inserts or replaces a hook.
func (s *Store) SaveHook(h *hooks.Hook) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal hook: %w", err)
	}
	enabled := 0
	if h.Enabled {
		enabled = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO hooks (id, enabled, data)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			data = excluded.data`,
		h.ID, enabled, string(data),
	)
	if err != nil {
		return fmt.Errorf("save hook: %w", err)
	}
	return nil
}

// GetHook loads one hook by id.
func (s *Store) GetHook(id string) (*hooks.Hook, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM hooks WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get hook: %w", err)
	}
	return decodeHook(data)
}

// ListHooks returns all hooks.
func (s *Store) ListHooks() ([]*hooks.Hook, error) {
	return s.queryHooks(`SELECT data FROM hooks ORDER BY id`)
}

// EnabledHooks returns only hooks that can fire. This is the dispatch query.
func (s *Store) EnabledHooks() ([]*hooks.Hook, error) {
	return s.queryHooks(`SELECT data FROM hooks WHERE enabled = 1 ORDER BY id`)
}

// DeleteHook removes a hook.
func (s *Store) DeleteHook(id string) error {
	res, err := s.db.Exec(`DELETE FROM hooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete hook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hook %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) queryHooks(query string, args ...any) ([]*hooks.Hook, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query hooks: %w", err)
	}
	defer rows.Close()

	var out []*hooks.Hook
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		h, err := decodeHook(data)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func decodeHook(data string) (*hooks.Hook, error) {
	var h hooks.Hook
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return nil, fmt.Errorf("decode hook: %w", err)
	}
	return &h, nil
}
