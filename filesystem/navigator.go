package filesystem

import (
	"path/filepath"
)

// Navigator is the working directory cursor of one connection.
// It is not safe for concurrent use; each connection owns its own Navigator.
type Navigator struct {
	fs  FS
	cwd string
}

// NewNavigator returns a cursor positioned at the root of fs
func NewNavigator(fs FS) *Navigator {
	return &Navigator{
		fs:  fs,
		cwd: fs.RootDir(),
	}
}

// Cwd returns the current directory
func (n *Navigator) Cwd() string {
	return n.cwd
}

// Up moves the cursor to its parent directory and returns the new cursor.
// At the root it does nothing.
func (n *Navigator) Up() string {
	if filepath.Clean(n.cwd) == filepath.Clean(n.fs.RootDir()) {
		return n.cwd
	}
	parent := filepath.Join(n.cwd, "..")
	if n.fs.CheckDir(parent) == nil {
		n.cwd = parent
	}
	return n.cwd
}

// Change moves the cursor to name when it resolves to an existing directory.
// moved is false and err nil when the target does not exist.
func (n *Navigator) Change(name string) (moved bool, err error) {
	target, err := n.fs.Resolve(n.cwd, name)
	if err != nil {
		return false, err
	}
	if n.fs.CheckDir(target) != nil {
		return false, nil
	}
	n.cwd = target
	return true, nil
}

// MakeDir creates name relative to the cursor and returns its path.
// An existing target yields an error wrapping fs.ErrExist together with the path.
func (n *Navigator) MakeDir(name string) (string, error) {
	target, err := n.fs.Resolve(n.cwd, name)
	if err != nil {
		return "", err
	}
	return target, n.fs.MakeDir(target)
}

// List returns the children of the current directory
func (n *Navigator) List() ([]Entry, error) {
	return n.fs.Dir(n.cwd)
}

// ReadLines resolves name against the cursor and reads it line by line
func (n *Navigator) ReadLines(name string, fn func(line string) error) error {
	target, err := n.fs.Resolve(n.cwd, name)
	if err != nil {
		return err
	}
	return n.fs.ReadLines(target, fn)
}
