package domain

import (
	"path/filepath"
	"strings"
)

// ModelExtension is the file extension of model assets kept in storage.
const ModelExtension = ".gguf"

// AssetDescriptor is a static catalog entry. It is never mutated after the
// catalog is built.
type AssetDescriptor struct {
	ID            string   `yaml:"id" json:"id"`
	Name          string   `yaml:"name" json:"name"`
	Filename      string   `yaml:"filename" json:"filename"`
	RemoteLocator string   `yaml:"remote_locator" json:"remote_locator"`
	Description   string   `yaml:"description" json:"description"`
	InputPrefix   string   `yaml:"input_prefix,omitempty" json:"input_prefix,omitempty"`
	InputSuffix   string   `yaml:"input_suffix,omitempty" json:"input_suffix,omitempty"`
	AntiPrompt    []string `yaml:"anti_prompt,omitempty" json:"anti_prompt,omitempty"`
	Obsolete      bool     `yaml:"obsolete,omitempty" json:"obsolete,omitempty"`
}

// Validate checks the fields every descriptor must carry
func (d AssetDescriptor) Validate() error {
	if d.ID == "" || d.Filename == "" || d.RemoteLocator == "" {
		return ErrInvalidInput
	}
	if strings.ContainsAny(d.Filename, `/\`) {
		return ErrInvalidInput
	}
	return nil
}

// StoredAsset is a file found in a storage location. It is derived from a
// listing and never persisted on its own.
type StoredAsset struct {
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name"`
	SizeBytes   int64  `json:"size_bytes"`
	// Handle is opaque and only resolvable by the backend that listed it.
	Handle string `json:"-"`
}

// AssetStatus joins a descriptor with presence in the active location
type AssetStatus struct {
	Descriptor   AssetDescriptor `json:"descriptor"`
	IsDownloaded bool            `json:"is_downloaded"`
}

// IsModelFile reports whether a storage entry name looks like a model asset
func IsModelFile(name string) bool {
	return strings.HasSuffix(name, ModelExtension)
}

// StripExtension returns the filename without its final extension
func StripExtension(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
