package port

// SpaceCheckResult contains detailed space availability information
type SpaceCheckResult struct {
	HasSpace       bool
	RequiredBytes  int64
	AvailableBytes int64
	ReserveBytes   int64
	DiskUsedPct    float64
}

// SpaceChecker reports whether a transfer of the given size fits
type SpaceChecker interface {
	// CheckSpace checks if there's enough space for the remaining bytes of a
	// transfer and returns detailed information about space availability
	CheckSpace(remainingBytes int64) (*SpaceCheckResult, error)
}
