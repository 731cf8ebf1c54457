package vo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a non-negative size in bytes with human-readable formatting.
type ByteSize int64

const (
	KB ByteSize = 1024
	MB ByteSize = 1024 * KB
	GB ByteSize = 1024 * MB
	TB ByteSize = 1024 * GB
)

var (
	ErrNegativeSize = errors.New("size cannot be negative")
	ErrInvalidSize  = errors.New("invalid size")
)

// NewByteSize validates a raw byte count.
func NewByteSize(bytes int64) (ByteSize, error) {
	if bytes < 0 {
		return 0, ErrNegativeSize
	}
	return ByteSize(bytes), nil
}

// ParseByteSize parses values such as "512", "64KB", "1.5 GB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrInvalidSize
	}

	unit := ByteSize(1)
	for _, u := range []struct {
		suffix string
		size   ByteSize
	}{
		{"TB", TB}, {"GB", GB}, {"MB", MB}, {"KB", KB}, {"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			unit = u.size
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	if v < 0 {
		return 0, ErrNegativeSize
	}
	return ByteSize(v * float64(unit)), nil
}

// Bytes returns the size in bytes.
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// GB returns the size in gigabytes.
func (b ByteSize) GB() float64 {
	return float64(b) / float64(GB)
}

// Sub returns b-other, floored at zero.
func (b ByteSize) Sub(other ByteSize) ByteSize {
	if other >= b {
		return 0
	}
	return b - other
}

// String returns a human-readable string representation.
func (b ByteSize) String() string {
	switch {
	case b < KB:
		return fmt.Sprintf("%d B", int64(b))
	case b < MB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	case b < GB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b < TB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	default:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	}
}
