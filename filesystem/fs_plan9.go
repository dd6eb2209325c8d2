package filesystem

import (
	"fmt"
	"runtime"

	"github.com/pkg/sftp"
)

// StatFS is not available on plan9
func (FS *LocalFS) StatFS(path string) (*sftp.StatVFS, error) {
	return nil, fmt.Errorf("%w: %s", ErrStatFSUnsupported, runtime.GOOS)
}
