package domain

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Location schemes understood by the resolver
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
)

// legacyIdentifier marks the implicit pre-configuration downloads area.
// It can never be produced by ParseStorageLocation.
const legacyIdentifier = "legacy-default:"

// StorageLocation identifies where assets are persisted. The zero value is
// the unconfigured location.
type StorageLocation struct {
	Identifier string `json:"identifier"`
}

// LegacyDefaultLocation is the conventional downloads directory inspected
// during first-run setup. It is read-only and never becomes active.
var LegacyDefaultLocation = StorageLocation{Identifier: legacyIdentifier}

// ParseStorageLocation validates and normalizes a user supplied identifier.
// Accepted forms: an absolute path, a file:// URI, or s3://bucket[/prefix].
func ParseStorageLocation(raw string) (StorageLocation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StorageLocation{}, ErrInvalidLocation
	}

	if filepath.IsAbs(raw) {
		return StorageLocation{Identifier: "file://" + filepath.ToSlash(filepath.Clean(raw))}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageLocation{}, ErrInvalidLocation
	}

	switch u.Scheme {
	case SchemeFile:
		if u.Path == "" || !strings.HasPrefix(u.Path, "/") {
			return StorageLocation{}, ErrInvalidLocation
		}
		return StorageLocation{Identifier: "file://" + filepath.ToSlash(filepath.Clean(u.Path))}, nil
	case SchemeS3:
		if u.Host == "" {
			return StorageLocation{}, ErrInvalidLocation
		}
		prefix := strings.Trim(u.Path, "/")
		if prefix == "" {
			return StorageLocation{Identifier: "s3://" + u.Host}, nil
		}
		return StorageLocation{Identifier: "s3://" + u.Host + "/" + prefix}, nil
	default:
		return StorageLocation{}, ErrInvalidLocation
	}
}

// Configured reports whether the location refers to real storage
func (l StorageLocation) Configured() bool {
	return l.Identifier != "" && !l.IsLegacyDefault()
}

// IsLegacyDefault reports whether this is the implicit legacy location
func (l StorageLocation) IsLegacyDefault() bool {
	return l.Identifier == legacyIdentifier
}

// Scheme returns the identifier scheme ("file" or "s3")
func (l StorageLocation) Scheme() string {
	if i := strings.Index(l.Identifier, "://"); i > 0 {
		return l.Identifier[:i]
	}
	return ""
}

// Path returns the identifier without its scheme. For file locations this
// is the absolute directory; for s3 it is "bucket[/prefix]".
func (l StorageLocation) Path() string {
	if i := strings.Index(l.Identifier, "://"); i > 0 {
		return l.Identifier[i+3:]
	}
	return l.Identifier
}

// Equal compares two locations by identifier
func (l StorageLocation) Equal(other StorageLocation) bool {
	return l.Identifier == other.Identifier
}

// String returns a display form of the location
func (l StorageLocation) String() string {
	switch {
	case l.IsLegacyDefault():
		return "legacy downloads folder"
	case l.Identifier == "":
		return "Not configured"
	default:
		return l.Identifier
	}
}
