package health

import "golang.org/x/sys/windows"

// DiskStats returns the used and available bytes of the volume holding dir
func DiskStats(dir string) (used, available int64, err error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, 0, err
	}
	var free, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(path, &free, &total, &totalFree); err != nil {
		return 0, 0, err
	}
	return int64(total - totalFree), int64(free), nil
}
