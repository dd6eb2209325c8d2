package browse

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/telebroad/cloudstorage/filesystem"
	"github.com/telebroad/cloudstorage/metrics"
)

//go:embed rule.txt
var defaultHelp string

// errCloseSession is returned by a command that ends the connection without an error
var errCloseSession = errors.New("session closed by client")

type handlerMap map[string]func(cmd, arg string) error

// Session is the command protocol state of one connection.
// Only the readiness loop touches it, so it has no locks.
type Session struct {
	ID       uint64 // assigned by the server on accept
	Remote   string // peer address
	writer   io.Writer
	fs       filesystem.FS
	nav      *filesystem.Navigator
	helpFile string
	logger   *slog.Logger
	handlers handlerMap
}

func newSession(id uint64, remote string, w io.Writer, fsys filesystem.FS, helpFile string, logger *slog.Logger) *Session {
	s := &Session{
		ID:       id,
		Remote:   remote,
		writer:   w,
		fs:       fsys,
		nav:      filesystem.NewNavigator(fsys),
		helpFile: helpFile,
		logger:   logger.With("session", id),
	}
	s.handlers = handlerMap{
		LS:    s.ListCommand,                    // ls lists the current directory
		CAT:   s.CatCommand,                     // cat prints a text file
		CD:    s.ChangeDirectoryCommand,         // cd changes the current directory
		CDUP:  s.ChangeDirectoryToParentCommand, // cd.. moves to the parent directory
		MKDIR: s.MakeDirectoryCommand,           // mkdir creates a directory
		HELP:  s.HelpCommand,                    // help prints the help text
		EXIT:  s.CloseCommand,                   // exit closes the connection
	}
	return s
}

// Cwd returns the current directory of the session
func (s *Session) Cwd() string {
	return s.nav.Cwd()
}

// Handle dispatches one trimmed line and writes its reply.
// A non nil error means the connection has to be closed; errCloseSession marks a requested close.
func (s *Session) Handle(line string) error {
	cmd := ParseCommand(line)
	if cmd.Name == "" {
		return nil
	}
	if command, ok := s.handlers[cmd.Name]; ok {
		metrics.RecordCommand(cmd.Name)
		return command(cmd.Name, cmd.Arg)
	}
	metrics.RecordCommand(metrics.CommandUnknown)
	return s.UnknownCommand(cmd.Line)
}

// reply writes one line terminated by LineEnd
func (s *Session) reply(format string, args ...any) error {
	_, err := fmt.Fprintf(s.writer, format+LineEnd, args...)
	if err != nil {
		return fmt.Errorf("error writing reply: %w", err)
	}
	return nil
}

func (s *Session) replyDir(dir string) error {
	return s.reply("%s", filesystem.Entry{Path: dir, IsDir: true})
}

// ListCommand handles ls, one line per entry of the current directory
func (s *Session) ListCommand(cmd, arg string) error {
	entries, err := s.nav.List()
	if err != nil {
		s.logger.Error("Error listing directory", "dir", s.nav.Cwd(), "error", err)
		return s.reply("cannot list directory: %s", s.nav.Cwd())
	}
	for _, entry := range entries {
		if err := s.reply("%s", entry); err != nil {
			return err
		}
	}
	return nil
}

// CatCommand handles cat, the file is echoed line by line
func (s *Session) CatCommand(cmd, arg string) error {
	if arg == "" {
		return s.reply("file not specified")
	}

	var writeErr error
	err := s.nav.ReadLines(arg, func(line string) error {
		writeErr = s.reply("%s", line)
		return writeErr
	})
	if writeErr != nil {
		return writeErr
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, filesystem.ErrPathNotSupported):
		return s.reply("path not supported: %s", arg)
	case errors.Is(err, fs.ErrNotExist):
		return s.reply("file not found: %s", arg)
	default:
		s.logger.Error("Error reading file", "file", arg, "error", err)
		return s.reply("cannot read file: %s", arg)
	}
}

// ChangeDirectoryCommand handles cd.
// A target that does not exist gets no reply at all.
func (s *Session) ChangeDirectoryCommand(cmd, arg string) error {
	if arg == parentDir {
		return s.ChangeDirectoryToParentCommand(cmd, arg)
	}

	moved, err := s.nav.Change(arg)
	if err != nil {
		s.logger.Debug("Unsupported path", "path", arg, "error", err)
		return s.reply("path not supported: %s", arg)
	}
	if !moved {
		s.logger.Debug("Directory not found", "path", arg)
		return nil
	}
	return s.replyDir(s.nav.Cwd())
}

// ChangeDirectoryToParentCommand handles cd.. and cd ..
func (s *Session) ChangeDirectoryToParentCommand(cmd, arg string) error {
	return s.replyDir(s.nav.Up())
}

// MakeDirectoryCommand handles mkdir
func (s *Session) MakeDirectoryCommand(cmd, arg string) error {
	if arg == "" {
		return s.reply("directory not specified")
	}

	dir, err := s.nav.MakeDir(arg)
	switch {
	case err == nil:
		return s.reply("directory created: %s", filesystem.Entry{Path: dir, IsDir: true})
	case errors.Is(err, filesystem.ErrPathNotSupported):
		return s.reply("path not supported: %s", arg)
	case errors.Is(err, fs.ErrExist):
		return s.reply("%s already exists", dir)
	default:
		s.logger.Error("Error creating directory", "dir", dir, "error", err)
		return s.reply("cannot create directory: %s", dir)
	}
}

// HelpCommand prints the help file with the same framing as cat.
// The embedded text is used when no help file is configured or it cannot be read.
func (s *Session) HelpCommand(cmd, arg string) error {
	lines := s.helpLines()
	for _, line := range lines {
		if err := s.reply("%s", line); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) helpLines() []string {
	if s.helpFile != "" {
		var lines []string
		err := s.fs.ReadLines(s.helpFile, func(line string) error {
			lines = append(lines, line)
			return nil
		})
		if err == nil {
			return lines
		}
		s.logger.Warn("Error reading help file, using the built in help", "file", s.helpFile, "error", err)
	}
	return strings.Split(strings.TrimRight(defaultHelp, "\r\n"), "\n")
}

// CloseCommand handles exit, nothing is written back
func (s *Session) CloseCommand(cmd, arg string) error {
	return errCloseSession
}

// UnknownCommand echoes a line that does not start with a known command
func (s *Session) UnknownCommand(line string) error {
	return s.reply("unrecognized command: %s", line)
}
