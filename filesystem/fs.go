package filesystem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/sftp"
)

// ErrPathNotSupported is returned when a name cannot be turned into a usable path
var ErrPathNotSupported = errors.New("path not supported")

// ErrNotDir is returned by CheckDir when the path exists but is not a directory
var ErrNotDir = errors.New("not a directory")

// ErrStatFSUnsupported is returned by StatFS on platforms without a capacity query
var ErrStatFSUnsupported = errors.New("file system status not supported")

// maxLineSize is the longest line ReadLines accepts
const maxLineSize = 1 << 20

// FS is the interface that wraps the storage methods used by the browse and transfer servers.
// Paths handed to and returned from FS are host paths, they are not rewritten to a virtual root.
// RootDir returns the storage root
// Resolve joins a name to a base directory
// Dir lists the children of a directory
// CheckDir checks that a directory exists
// MakeDir creates a single directory
// ReadLines calls fn for every line of a text file
// Create opens a file under the root for writing
// StatFS reports the capacity of the file system holding the path
type FS interface {
	// RootDir returns the storage root
	RootDir() string
	// Resolve joins name to base, absolute names replace base
	Resolve(base, name string) (string, error)
	// Dir returns the children of the given directory sorted by name
	Dir(dirName string) ([]Entry, error)
	// CheckDir checks if the given directory exists
	CheckDir(dirName string) error
	// MakeDir creates a new directory, the parent must exist
	MakeDir(dirName string) error
	// ReadLines reads a text file and calls fn once per line, without the line terminator
	ReadLines(fileName string, fn func(line string) error) error
	// Create creates or truncates the file fileName relative to the root
	Create(fileName string) (io.WriteCloser, error)
	// StatFS returns the file system status of the file system containing the path
	StatFS(path string) (*sftp.StatVFS, error)
}

// Ensure that LocalFS implements the FS interface
var _ FS = &LocalFS{}

// Entry is a single directory listing line
type Entry struct {
	Path  string
	IsDir bool
}

// String returns the path, directories get a trailing separator
func (e Entry) String() string {
	if e.IsDir {
		return e.Path + string(filepath.Separator)
	}
	return e.Path
}

// LocalFS is a local file system rooted at a host directory.
// Resolution is plain path joining; parent traversal can leave the root unless sandboxing is on.
type LocalFS struct {
	root    string // host directory that acts as the storage root
	sandbox bool   // reject paths that resolve outside root
}

// NewLocalFS returns a LocalFS rooted at localDir, sandboxing is off
func NewLocalFS(localDir string) *LocalFS {
	return &LocalFS{
		root: filepath.Clean(localDir),
	}
}

// SetSandbox turns confinement of resolved paths to the root on or off
func (FS *LocalFS) SetSandbox(enabled bool) {
	FS.sandbox = enabled
}

// Sandboxed reports whether resolved paths are confined to the root
func (FS *LocalFS) Sandboxed() bool {
	return FS.sandbox
}

// RootDir returns the Root directory of the file system
func (FS *LocalFS) RootDir() string {
	return FS.root
}

// MakeRoot creates the root directory and its parents if they are absent
func (FS *LocalFS) MakeRoot() error {
	err := os.MkdirAll(FS.root, 0777)
	if err != nil {
		return fmt.Errorf("error creating root directory: %w", err)
	}
	return nil
}

// Resolve joins name to base. An empty name resolves to base itself.
func (FS *LocalFS) Resolve(base, name string) (string, error) {
	if strings.ContainsRune(name, 0) || !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: %q", ErrPathNotSupported, name)
	}

	var pathName string
	if filepath.IsAbs(name) {
		pathName = filepath.Clean(name)
	} else {
		pathName = filepath.Join(base, name)
	}

	if FS.sandbox {
		return FS.securePath(pathName)
	}
	return pathName, nil
}

// CheckDir checks if the given directory exists
func (FS *LocalFS) CheckDir(dirName string) error {
	info, err := os.Stat(dirName)
	if err != nil {
		return fmt.Errorf("error checking directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("error checking directory %s: %w", dirName, ErrNotDir)
	}
	return nil
}

// Dir returns a list of files in the given directory
func (FS *LocalFS) Dir(dirName string) ([]Entry, error) {
	entries, err := os.ReadDir(dirName)
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	list := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		entryPath := filepath.Join(dirName, entry.Name())
		isDir := entry.IsDir()
		if entry.Type()&fs.ModeSymlink != 0 {
			// follow the link so linked directories list as directories
			if info, err := os.Stat(entryPath); err == nil {
				isDir = info.IsDir()
			}
		}
		list = append(list, Entry{Path: entryPath, IsDir: isDir})
	}

	return list, nil
}

// MakeDir creates a new directory with the given name
func (FS *LocalFS) MakeDir(dirName string) error {
	err := os.Mkdir(dirName, 0777)
	if err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	return nil
}

// ReadLines reads the file and calls fn for every line.
// Both "\n" and "\r\n" terminate a line and a final terminator does not produce an empty line.
func (FS *LocalFS) ReadLines(fileName string, fn func(line string) error) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("error getting file info: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("error opening file %s: is a directory", fileName)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	return nil
}

// Create creates or truncates fileName under the root and opens it for writing.
// The name is concatenated to the root, so an absolute name still lands below it.
func (FS *LocalFS) Create(fileName string) (io.WriteCloser, error) {
	if strings.ContainsRune(fileName, 0) || !utf8.ValidString(fileName) {
		return nil, fmt.Errorf("%w: %q", ErrPathNotSupported, fileName)
	}
	pathName := filepath.Join(FS.root, fileName)
	if FS.sandbox {
		var err error
		pathName, err = FS.securePath(pathName)
		if err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(pathName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("creating file error: %w", err)
	}
	return file, nil
}

// securePath ensures that the given path does not go outside the root directory
func (FS *LocalFS) securePath(pathName string) (string, error) {
	relPath, err := filepath.Rel(FS.root, pathName)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathNotSupported, err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the root directory", ErrPathNotSupported, pathName)
	}
	return pathName, nil
}
