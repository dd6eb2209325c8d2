//go:build linux || darwin

package browse

import (
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/telebroad/cloudstorage/metrics"
	"github.com/telebroad/cloudstorage/tools"
	"golang.org/x/sys/unix"
)

// acceptRetry is how long the listener is left out of the poll set after a failed accept
const acceptRetry = time.Second

// conn is one accepted non-blocking socket
type conn struct {
	fd          int
	wake        int // read end of the server wake pipe
	remote      string
	session     *Session
	reassembler *Reassembler
}

// Write writes all of b. When the socket buffer is full it waits for write readiness
// of this socket, which stalls the loop until the peer reads or Close wakes it.
func (c *conn) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		n, err := unix.Write(c.fd, b[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if err := waitWritable(c.fd, c.wake); err != nil {
				return written, err
			}
		default:
			return written, fmt.Errorf("error writing to %s: %w", c.remote, err)
		}
	}
	return written, nil
}

// waitWritable blocks until fd is writable. It returns ErrServerClosed when wake becomes readable first.
func waitWritable(fd, wake int) error {
	fds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLOUT},
		{Fd: int32(wake), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("error waiting for write readiness: %w", err)
		}
		if fds[1].Revents != 0 {
			return ErrServerClosed
		}
		if fds[0].Revents&unix.POLLOUT == 0 {
			return fmt.Errorf("error waiting for write readiness: revents %#x", fds[0].Revents)
		}
		return nil
	}
}

// reactor holds the descriptors of the readiness loop
type reactor struct {
	listenFD     int
	wake         [2]int // self pipe, Close writes to wake[1]
	pollFDs      []unix.PollFd
	buf          []byte
	acceptPaused bool // the listener is not polled after a failed accept
}

// pollSet rebuilds the descriptors for the next poll and returns its timeout in milliseconds.
// The wake pipe is always first and the listener second, a paused listener is polled for nothing.
func (r *reactor) pollSet(conns []*conn) int {
	listenEvents := int16(unix.POLLIN)
	timeout := -1
	if r.acceptPaused {
		listenEvents = 0
		timeout = int(acceptRetry / time.Millisecond)
	}

	r.pollFDs = r.pollFDs[:0]
	r.pollFDs = append(r.pollFDs,
		unix.PollFd{Fd: int32(r.wake[0]), Events: unix.POLLIN},
		unix.PollFd{Fd: int32(r.listenFD), Events: listenEvents},
	)
	for _, c := range conns {
		r.pollFDs = append(r.pollFDs, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
	}
	return timeout
}

func (r *reactor) close() {
	unix.Close(r.listenFD)
	unix.Close(r.wake[0])
	unix.Close(r.wake[1])
}

// Listen creates the non-blocking listening socket and the wake pipe.
// Any failure here is a setup failure and nothing is left open.
func (s *Server) Listen() (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.reactor != nil {
		return errors.New("browse: already listening")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", s.addr())
	if err != nil {
		return fmt.Errorf("error resolving %s: %w", s.addr(), err)
	}
	sa, family := toSockaddr(tcpAddr)

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("error creating socket: %w", err)
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()
	unix.CloseOnExec(fd)

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("error setting SO_REUSEADDR: %w", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("error binding %s: %w", s.addr(), err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return fmt.Errorf("error listening on %s: %w", s.addr(), err)
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("error setting listener non-blocking: %w", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fmt.Errorf("error reading bound address: %w", err)
	}

	r := &reactor{listenFD: fd, buf: make([]byte, readBufferSize)}
	if err = unix.Pipe(r.wake[:]); err != nil {
		return fmt.Errorf("error creating wake pipe: %w", err)
	}
	for _, p := range r.wake {
		unix.CloseOnExec(p)
		if err = unix.SetNonblock(p, true); err != nil {
			unix.Close(r.wake[0])
			unix.Close(r.wake[1])
			return fmt.Errorf("error setting wake pipe non-blocking: %w", err)
		}
	}

	s.reactor = r
	s.listenAddr = fromSockaddr(bound)
	s.Logger().Info("Server started", "addr", s.listenAddr.String(), "framing", s.Framing.String())
	return nil
}

// Serve runs the readiness loop. It blocks without timeout until at least one descriptor is
// ready, handles every ready descriptor once and blocks again. It returns ErrServerClosed after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.reactor == nil {
		s.mu.Unlock()
		return errors.New("browse: Serve called before Listen")
	}
	if s.serving {
		s.mu.Unlock()
		return errors.New("browse: already serving")
	}
	s.serving = true
	r := s.reactor
	s.mu.Unlock()

	defer close(s.done)
	defer s.shutdown()

	for {
		timeout := r.pollSet(s.sessions.All())

		n, err := unix.Poll(r.pollFDs, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("error waiting for readiness: %w", err)
		}
		if n == 0 {
			r.acceptPaused = false
			continue
		}

		if r.pollFDs[0].Revents != 0 {
			return ErrServerClosed
		}
		if r.pollFDs[1].Revents&unix.POLLIN != 0 {
			s.handleAccept(r)
		}
		for _, pfd := range r.pollFDs[2:] {
			if pfd.Revents == 0 {
				continue
			}
			if c, ok := s.sessions.Get(int(pfd.Fd)); ok {
				s.handleRead(r, c)
			}
		}
	}
}

// Close stops the loop and closes every connection and the listener.
// It waits for Serve to return when the loop is running.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	r, serving := s.reactor, s.serving
	s.mu.Unlock()

	if r == nil {
		return nil
	}
	if !serving {
		r.close()
		return nil
	}

	_, err := unix.Write(r.wake[1], []byte{0})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("error waking readiness loop: %w", err)
	}
	<-s.done
	return nil
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	for _, c := range s.sessions.All() {
		s.closeConn(c, nil)
	}
	s.reactor.close()
	s.Logger().Info("Server stopped")
}

// handleAccept accepts every pending connection and registers it for read readiness.
// Any other accept failure (EMFILE, ENFILE, ENOBUFS...) pauses the listener until a connection
// closes or acceptRetry passes.
func (s *Server) handleAccept(r *reactor) {
	for {
		fd, sa, err := unix.Accept(r.listenFD)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				s.Logger().Error("Error accepting connection, pausing accepts", "error", err, "retry", acceptRetry.String())
				r.acceptPaused = true
			}
			return
		}

		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			s.Logger().Error("Error setting connection non-blocking", "error", err)
			unix.Close(fd)
			continue
		}

		remote := "unknown"
		if addr := fromSockaddr(sa); addr != nil {
			remote = addr.String()
		}
		id := s.nextID.Add(1)
		c := &conn{
			fd:          fd,
			wake:        r.wake[0],
			remote:      remote,
			reassembler: NewReassembler(s.Framing),
		}
		logger := s.Logger().With("remote", remote)
		c.session = newSession(id, remote, tools.NewLogWriter(c, logger.With("session", id)), s.FS, s.HelpFile, logger)
		s.sessions.Add(fd, c)
		metrics.BrowseConnected()
		logger.Info("Client connected", "session", id)
	}
}

// handleRead drains the connection until it would block, then dispatches the reassembled lines.
// A peer close while draining drops the bytes drained in this cycle.
func (s *Server) handleRead(r *reactor, c *conn) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Logger().Error("Recovered from panic", "session", c.session.ID, "panic", rec, "stack", string(debug.Stack()))
			s.closeConn(c, fmt.Errorf("panic: %v", rec))
		}
	}()

	for {
		n, err := unix.Read(c.fd, r.buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			s.closeConn(c, err)
			return
		}
		if n == 0 {
			s.closeConn(c, nil)
			return
		}
		c.reassembler.Write(r.buf[:n])
	}

	for _, line := range c.reassembler.Lines() {
		s.Logger().Debug("Received", "session", c.session.ID, "line", tools.IsPrintable(line))
		err := c.session.Handle(line)
		if errors.Is(err, errCloseSession) {
			s.closeConn(c, nil)
			return
		}
		if err != nil {
			s.closeConn(c, err)
			return
		}
	}
}

func (s *Server) closeConn(c *conn, cause error) {
	if _, ok := s.sessions.Get(c.fd); !ok {
		return
	}
	s.sessions.Remove(c.fd)
	unix.Close(c.fd)
	metrics.BrowseDisconnected()
	if s.reactor != nil {
		s.reactor.acceptPaused = false
	}
	if cause != nil {
		s.Logger().Info("Client disconnected", "session", c.session.ID, "remote", c.remote, "error", cause)
		return
	}
	s.Logger().Info("Client disconnected", "session", c.session.ID, "remote", c.remote)
}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int) {
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}
	return sa, unix.AF_INET6
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3]), Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	}
	return nil
}
