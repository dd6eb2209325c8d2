// Package browse implements the remote filesystem browsing service.
// One goroutine runs a poll(2) readiness loop over non-blocking sockets and serves every
// connection; commands (ls, cat, cd, mkdir, help, exit) are plain text and every reply
// line ends with "\n\r".
package browse

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telebroad/cloudstorage/filesystem"
)

// DefaultAddr is the address the command protocol listens on when Addr is empty
const DefaultAddr = ":8189"

// readBufferSize is the size of a single non-blocking read while draining a connection
const readBufferSize = 256

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("browse: server closed")

// ErrUnsupportedPlatform is returned by Listen where the readiness loop is not available
var ErrUnsupportedPlatform = errors.New("browse: readiness loop not supported on this platform")

// Server is the command protocol server
type Server struct {
	// Addr is the TCP address to listen on, DefaultAddr when empty
	Addr string
	// FS is the storage every session navigates
	FS filesystem.FS
	// HelpFile is the text file printed by help, the built in text is used when empty
	HelpFile string
	// Framing selects how received bytes are cut into command lines
	Framing Framing

	logger   *slog.Logger
	sessions *sessionManager
	nextID   atomic.Uint64

	mu         sync.Mutex
	listenAddr net.Addr
	closed     bool
	serving    bool
	done       chan struct{}
	reactor    *reactor
}

// NewServer returns a server for addr that serves fs with the default framing
func NewServer(addr string, fs filesystem.FS) *Server {
	return &Server{
		Addr:     addr,
		FS:       fs,
		Framing:  FramingCycle,
		sessions: newSessionManager(),
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "browse-server")
	}
	return s.logger
}

// ListenAddr returns the bound address once Listen succeeded, nil before
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// Sessions returns the number of open connections
func (s *Server) Sessions() int {
	return s.sessions.Len()
}

// ListenAndServe binds Addr and runs the readiness loop until Close
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// TryListenAndServe binds Addr and starts the loop in the background.
// A bind failure is returned directly, a loop failure only if it happens within d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errC := make(chan error, 1)
	go func() {
		err := s.Serve()
		if err != nil && !errors.Is(err, ErrServerClosed) {
			s.Logger().Error("Readiness loop stopped", "error", err)
		}
		errC <- err
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

func (s *Server) addr() string {
	if s.Addr == "" {
		return DefaultAddr
	}
	return s.Addr
}
