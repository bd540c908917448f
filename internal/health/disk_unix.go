//go:build !windows

package health

import "golang.org/x/sys/unix"

// DiskStats returns the used and available bytes of the filesystem
// holding dir
func DiskStats(dir string) (used, available int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, 0, err
	}
	bsize := int64(stat.Bsize)
	available = int64(stat.Bavail) * bsize
	used = int64(stat.Blocks)*bsize - int64(stat.Bfree)*bsize
	return used, available, nil
}
