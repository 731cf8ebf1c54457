package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lmplayground/model-store/internal/port"
)

// GetMeta returns the value stored under key
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value.String, true, nil
}

// SetMeta stores value under key
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli())
	return err
}

// DeleteMeta removes key
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM meta WHERE key = ?", key)
	return err
}

// ConfigStore exposes the meta table as the persistent configuration store
type ConfigStore struct {
	meta port.MetaRepository
}

var _ port.ConfigStore = (*ConfigStore)(nil)

// NewConfigStore creates a ConfigStore backed by meta
func NewConfigStore(meta port.MetaRepository) *ConfigStore {
	return &ConfigStore{meta: meta}
}

// Get returns the value for key
func (c *ConfigStore) Get(ctx context.Context, key string) (string, bool, error) {
	return c.meta.GetMeta(ctx, key)
}

// Set stores value under key
func (c *ConfigStore) Set(ctx context.Context, key, value string) error {
	return c.meta.SetMeta(ctx, key, value)
}

// Clear removes key
func (c *ConfigStore) Clear(ctx context.Context, key string) error {
	return c.meta.DeleteMeta(ctx, key)
}
