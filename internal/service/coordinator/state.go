package coordinator

import (
	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/service/registry"
)

// State is an immutable snapshot of everything the presentation layer shows.
// A new value is published on every change; published values are never
// modified.
type State struct {
	Version uint64 `json:"version"`

	IsConfigured bool            `json:"is_configured"`
	Location     string          `json:"location"`
	Usage        *registry.Usage `json:"usage,omitempty"`
	StorageError string          `json:"storage_error,omitempty"`

	Catalog []domain.AssetStatus `json:"catalog"`
	Stored  []domain.StoredAsset `json:"stored"`

	ActiveDownloads map[string]domain.DownloadProgress `json:"active_downloads"`

	MigrationState    domain.MigrationState     `json:"migration_state"`
	PendingMigration  *domain.MigrationPlan     `json:"pending_migration,omitempty"`
	MigrationProgress *domain.MigrationProgress `json:"migration_progress,omitempty"`

	Notice string `json:"notice,omitempty"`
}

// IsDownloaded reports whether the catalog entry id is present in storage
func (s State) IsDownloaded(id string) bool {
	for _, st := range s.Catalog {
		if st.Descriptor.ID == id {
			return st.IsDownloaded
		}
	}
	return false
}
