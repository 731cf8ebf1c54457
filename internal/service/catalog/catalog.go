package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lmplayground/model-store/internal/domain"
	"github.com/lmplayground/model-store/internal/port"
)

// Catalog is the immutable set of known assets. It is safe for concurrent use.
type Catalog struct {
	entries    []domain.AssetDescriptor
	byID       map[string]int
	byFilename map[string]int
	byLocator  map[string]int
}

// New builds a catalog. Ids, filenames and locators must be unique.
func New(descs []domain.AssetDescriptor) (*Catalog, error) {
	c := &Catalog{
		entries:    make([]domain.AssetDescriptor, 0, len(descs)),
		byID:       make(map[string]int, len(descs)),
		byFilename: make(map[string]int, len(descs)),
		byLocator:  make(map[string]int, len(descs)),
	}

	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", d.ID, err)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate id: %w", d.ID, domain.ErrInvalidInput)
		}
		if _, dup := c.byFilename[d.Filename]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate filename %q: %w", d.ID, d.Filename, domain.ErrInvalidInput)
		}
		if _, dup := c.byLocator[d.RemoteLocator]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate locator: %w", d.ID, domain.ErrInvalidInput)
		}
		if d.Name == "" {
			d.Name = domain.StripExtension(d.Filename)
		}
		d.AntiPrompt = append([]string(nil), d.AntiPrompt...)

		i := len(c.entries)
		c.entries = append(c.entries, d)
		c.byID[d.ID] = i
		c.byFilename[d.Filename] = i
		c.byLocator[d.RemoteLocator] = i
	}

	return c, nil
}

// NewBuiltin returns the catalog shipped with the binary
func NewBuiltin() *Catalog {
	c, err := New(Builtin())
	if err != nil {
		panic(err)
	}
	return c
}

type fileFormat struct {
	Models []domain.AssetDescriptor `yaml:"models"`
}

// LoadFile reads a YAML catalog. An empty path yields the built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return NewBuiltin(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, fmt.Errorf("catalog file %s has no models: %w", path, domain.ErrInvalidInput)
	}

	return New(f.Models)
}

// ListAll returns every descriptor, obsolete ones included, in catalog order
func (c *Catalog) ListAll() []domain.AssetDescriptor {
	out := make([]domain.AssetDescriptor, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of descriptors
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Lookup finds a descriptor by id
func (c *Catalog) Lookup(id string) (domain.AssetDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return domain.AssetDescriptor{}, false
	}
	return c.entries[i], true
}

// ByFilename finds a descriptor by storage filename
func (c *Catalog) ByFilename(filename string) (domain.AssetDescriptor, bool) {
	i, ok := c.byFilename[filename]
	if !ok {
		return domain.AssetDescriptor{}, false
	}
	return c.entries[i], true
}

// ByLocator finds a descriptor by remote locator
func (c *Catalog) ByLocator(locator string) (domain.AssetDescriptor, bool) {
	i, ok := c.byLocator[locator]
	if !ok {
		return domain.AssetDescriptor{}, false
	}
	return c.entries[i], true
}

// IsKnown reports whether filename belongs to a catalog entry
func (c *Catalog) IsKnown(filename string) bool {
	_, ok := c.byFilename[filename]
	return ok
}

// KnownFilenames returns the set of all catalog filenames
func (c *Catalog) KnownFilenames() map[string]struct{} {
	out := make(map[string]struct{}, len(c.entries))
	for _, d := range c.entries {
		out[d.Filename] = struct{}{}
	}
	return out
}

// DisplayName returns the catalog name for filename, or the filename
// without its extension when no entry matches.
func (c *Catalog) DisplayName(filename string) string {
	if d, ok := c.ByFilename(filename); ok {
		return d.Name
	}
	return domain.StripExtension(filename)
}

// StatusOf joins a descriptor with the set of present filenames
func (c *Catalog) StatusOf(desc domain.AssetDescriptor, present map[string]struct{}) domain.AssetStatus {
	_, ok := present[desc.Filename]
	return domain.AssetStatus{Descriptor: desc, IsDownloaded: ok}
}

// Visible returns the externally visible catalog with status. Obsolete
// entries are listed only while a file with their filename is present.
func (c *Catalog) Visible(present map[string]struct{}) []domain.AssetStatus {
	out := make([]domain.AssetStatus, 0, len(c.entries))
	for _, d := range c.entries {
		st := c.StatusOf(d, present)
		if d.Obsolete && !st.IsDownloaded {
			continue
		}
		out = append(out, st)
	}
	return out
}

// StoredAssets converts a storage listing into stored assets. Only model
// files are kept.
func (c *Catalog) StoredAssets(entries []port.StorageEntry) []domain.StoredAsset {
	out := make([]domain.StoredAsset, 0, len(entries))
	for _, e := range entries {
		if !domain.IsModelFile(e.Name) {
			continue
		}
		out = append(out, domain.StoredAsset{
			Filename:    e.Name,
			DisplayName: c.DisplayName(e.Name),
			SizeBytes:   e.SizeBytes,
			Handle:      e.Handle,
		})
	}
	return out
}

// KnownOnly keeps the stored assets whose filename is in the catalog
func (c *Catalog) KnownOnly(assets []domain.StoredAsset) []domain.StoredAsset {
	out := make([]domain.StoredAsset, 0, len(assets))
	for _, a := range assets {
		if c.IsKnown(a.Filename) {
			out = append(out, a)
		}
	}
	return out
}

// PresentSet returns the filenames of assets as a set
func PresentSet(assets []domain.StoredAsset) map[string]struct{} {
	out := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		out[a.Filename] = struct{}{}
	}
	return out
}
