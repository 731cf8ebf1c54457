package filesystem

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// DiskUsageFunc reports usage of the filesystem holding path
type DiskUsageFunc func(ctx context.Context, path string) (*DiskUsage, error)

// GetDiskUsage returns disk usage of the filesystem holding path
func GetDiskUsage(ctx context.Context, path string) (*DiskUsage, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk stats: %w", mapOSError(err))
	}

	return &DiskUsage{
		Total:   stat.Total,
		Used:    stat.Used,
		Free:    stat.Free,
		UsedPct: stat.UsedPercent,
	}, nil
}
