//go:build windows

package filesystem

import (
	"fmt"

	"github.com/pkg/sftp"
	"golang.org/x/sys/windows"
)

// StatFS returns the capacity of the volume that holds path
func (FS *LocalFS) StatFS(path string) (*sftp.StatVFS, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("error getting file system info for %s: %w", path, err)
	}

	var freeBytesAvailable, totalNumberOfBytes, totalNumberOfFreeBytes uint64
	err = windows.GetDiskFreeSpaceEx(dir, &freeBytesAvailable, &totalNumberOfBytes, &totalNumberOfFreeBytes)
	if err != nil {
		return nil, fmt.Errorf("error getting file system info for %s: %w", path, err)
	}

	// the cluster size is not reported here, 4096 is close enough for a free space check
	const bsize = 4096
	return &sftp.StatVFS{
		Bsize:   bsize,
		Frsize:  bsize,
		Blocks:  totalNumberOfBytes / bsize,
		Bfree:   totalNumberOfFreeBytes / bsize,
		Bavail:  freeBytesAvailable / bsize,
		Namemax: 255,
	}, nil
}
