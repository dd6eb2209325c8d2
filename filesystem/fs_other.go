//go:build !linux && !darwin && !windows && !plan9

package filesystem

import (
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

// StatFS is not implemented for this OS
func (FS *LocalFS) StatFS(path string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w: %s", ErrStatFSUnsupported, runtime.GOOS)
}
