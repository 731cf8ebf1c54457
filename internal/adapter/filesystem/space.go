package filesystem

import (
	"context"

	"github.com/lmplayground/model-store/internal/port"
)

// SpaceChecker checks free space of the staging filesystem before transfers
type SpaceChecker struct {
	path            string
	usage           DiskUsageFunc
	reserveBytes    int64
	maxDiskUsagePct float64
}

// Ensure SpaceChecker implements port.SpaceChecker
var _ port.SpaceChecker = (*SpaceChecker)(nil)

// NewSpaceChecker creates a SpaceChecker for the filesystem holding path.
// reserveBytes is kept free; maxDiskUsagePct <= 0 disables the percentage limit.
func NewSpaceChecker(path string, reserveBytes int64, maxDiskUsagePct float64) *SpaceChecker {
	return &SpaceChecker{
		path:            path,
		usage:           GetDiskUsage,
		reserveBytes:    reserveBytes,
		maxDiskUsagePct: maxDiskUsagePct,
	}
}

// WithUsageFunc replaces the usage source
func (sc *SpaceChecker) WithUsageFunc(fn DiskUsageFunc) *SpaceChecker {
	sc.usage = fn
	return sc
}

// CheckSpace checks if remainingBytes fit on the filesystem
func (sc *SpaceChecker) CheckSpace(remainingBytes int64) (*port.SpaceCheckResult, error) {
	usage, err := sc.usage(context.Background(), sc.path)
	if err != nil {
		return nil, err
	}

	result := &port.SpaceCheckResult{
		RequiredBytes:  remainingBytes,
		AvailableBytes: int64(usage.Free),
		ReserveBytes:   sc.reserveBytes,
		DiskUsedPct:    usage.UsedPct,
	}

	if int64(usage.Free)-sc.reserveBytes < remainingBytes {
		return result, nil
	}

	if sc.maxDiskUsagePct > 0 && usage.Total > 0 {
		newUsedPct := float64(usage.Used+uint64(remainingBytes)) / float64(usage.Total) * 100
		if newUsedPct >= sc.maxDiskUsagePct {
			return result, nil
		}
	}

	result.HasSpace = true
	return result, nil
}
