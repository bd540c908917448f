//go:build windows

package dataset

import (
	"io"
	"os"
)

// mapFile reads the whole file; datasets are not memory-mapped on windows
func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
