package repository

import "context"

// MetaRepository is a small key/value table for durable settings
type MetaRepository interface {
	// GetMeta returns the value for key; ok is false when the key is absent
	GetMeta(ctx context.Context, key string) (value string, ok bool, err error)

	// SetMeta stores value under key
	SetMeta(ctx context.Context, key, value string) error

	// DeleteMeta removes key; removing an absent key is not an error
	DeleteMeta(ctx context.Context, key string) error
}

// Store combines all repository interfaces
type Store interface {
	MetaRepository
	DownloadRecordRepository

	// Close closes the database connection
	Close() error

	// Ping checks database connectivity
	Ping() error
}
