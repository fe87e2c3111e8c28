package app

import "syscall"

// minFreeBytes is the free space below which the database volume is
// reported unhealthy.
const minFreeBytes = 64 << 20

type diskStats struct {
	TotalBytes     uint64 `json:"total_bytes"`
	UsedBytes      uint64 `json:"used_bytes"`
	AvailableBytes uint64 `json:"available_bytes"`
}

// diskUsage reports usage of the filesystem holding dir.
func diskUsage(dir string) (diskStats, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return diskStats{}, err
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	avail := st.Bavail * bsize
	return diskStats{
		TotalBytes:     total,
		UsedBytes:      total - st.Bfree*bsize,
		AvailableBytes: avail,
	}, nil
}
