//go:build !linux && !darwin

package browse

// conn is a placeholder, no socket is ever accepted on this platform
type conn struct{}

type reactor struct{}

// Listen always fails, the readiness loop needs poll(2)
func (s *Server) Listen() error {
	return ErrUnsupportedPlatform
}

// Serve always fails, the readiness loop needs poll(2)
func (s *Server) Serve() error {
	return ErrUnsupportedPlatform
}

// Close marks the server closed
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
