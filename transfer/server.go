package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telebroad/cloudstorage/filesystem"
	"github.com/telebroad/cloudstorage/metrics"
	"github.com/telebroad/cloudstorage/tools"
)

// DefaultAddr is the address the transfer protocol listens on when Addr is empty
const DefaultAddr = ":8190"

// DefaultMaxWorkers is the number of connections served at once when MaxWorkers is not positive
const DefaultMaxWorkers = 64

// ErrServerClosed is returned by Serve after Close
var ErrServerClosed = errors.New("transfer: server closed")

// Server accepts upload connections and serves each one on its own goroutine
type Server struct {
	// Addr is the TCP address to listen on, DefaultAddr when empty
	Addr string
	// FS receives the uploaded files below its root
	FS filesystem.FS
	// MaxWorkers limits the connections served at once. Further connections wait in the kernel backlog.
	MaxWorkers int

	logger   *slog.Logger
	nextUser atomic.Uint64

	mu         sync.Mutex
	listener   net.Listener
	activeConn map[net.Conn]struct{}
	closed     bool
	ctx        context.Context
	cancel     context.CancelFunc
	workers    sync.WaitGroup
}

// NewServer returns a transfer server for addr storing into fs
func NewServer(addr string, fs filesystem.FS) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Addr:       addr,
		FS:         fs,
		MaxWorkers: DefaultMaxWorkers,
		activeConn: make(map[net.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		s.logger = slog.Default().With("module", "transfer-server")
	}
	return s.logger
}

// Listen binds Addr
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.listener != nil {
		return errors.New("transfer: already listening")
	}

	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = l
	s.Logger().Info("Server started", "addr", l.Addr().String(), "workers", s.maxWorkers())
	return nil
}

// ListenAddr returns the bound address once Listen succeeded, nil before
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Active returns the number of connections being served
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConn)
}

// Serve accepts connections until Close and returns ErrServerClosed
func (s *Server) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("transfer: Serve called before Listen")
	}

	sem := make(chan struct{}, s.maxWorkers())
	for {
		select {
		case sem <- struct{}{}:
		case <-s.ctx.Done():
			return ErrServerClosed
		}

		conn, err := l.Accept()
		if err != nil {
			<-sem
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			s.Logger().Error("Error accepting connection", "error", err)
			continue
		}

		if !s.track(conn) {
			<-sem
			conn.Close()
			return ErrServerClosed
		}
		go func() {
			defer func() { <-sem }()
			s.handleConnection(conn)
		}()
	}
}

// ListenAndServe binds Addr and serves until Close
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// TryListenAndServe binds Addr and serves in the background.
// A bind failure is returned directly, a serve failure only if it happens within d.
func (s *Server) TryListenAndServe(d time.Duration) error {
	if err := s.Listen(); err != nil {
		return err
	}

	errC := make(chan error, 1)
	go func() {
		errC <- s.Serve()
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Close cancels the running uploads, closes the listener and every connection
// and waits for the workers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.activeConn {
		conn.Close()
	}
	s.mu.Unlock()

	s.workers.Wait()
	s.Logger().Info("Server stopped")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("error closing listener: %w", err)
	}
	return nil
}

func (s *Server) maxWorkers() int {
	if s.MaxWorkers <= 0 {
		return DefaultMaxWorkers
	}
	return s.MaxWorkers
}

// track registers conn as active, it reports false once the server is closed
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.activeConn[conn] = struct{}{}
	s.workers.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeConn, conn)
}

func (s *Server) handleConnection(conn net.Conn) {
	name := fmt.Sprintf("User#%d", s.nextUser.Add(1))
	logger := s.Logger().With("remote", conn.RemoteAddr().String())

	metrics.TransferConnected()
	defer s.workers.Done()
	defer metrics.TransferDisconnected()
	defer s.untrack(conn)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic", "user", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger.Info("Client connected", "user", name)
	reader := bufio.NewReaderSize(tools.NewLogReader(conn, logger.With("user", name)), ChunkSize)
	handler := NewHandler(name, s.FS, logger)

	err := handler.Serve(s.ctx, reader, conn)
	if err != nil && s.ctx.Err() == nil {
		logger.Info("Client disconnected", "user", name, "error", err)
		return
	}
	logger.Info("Client disconnected", "user", name)
}
