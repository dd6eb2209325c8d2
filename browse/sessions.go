package browse

import (
	"sync"
)

// sessionManager keeps the open connections by socket descriptor.
// The loop is its only writer; the lock lets other goroutines read the count.
type sessionManager struct {
	conns map[int]*conn // Map of open connections
	lock  sync.RWMutex  // Protects the conns map
}

func newSessionManager() *sessionManager {
	return &sessionManager{
		conns: make(map[int]*conn),
	}
}

// Add adds a new connection.
func (manager *sessionManager) Add(fd int, c *conn) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.conns[fd] = c
}

// Get retrieves a connection by its descriptor.
func (manager *sessionManager) Get(fd int) (*conn, bool) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	c, exists := manager.conns[fd]
	return c, exists
}

// Remove removes a connection by its descriptor.
func (manager *sessionManager) Remove(fd int) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.conns, fd)
}

// Len returns the number of connections.
func (manager *sessionManager) Len() int {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return len(manager.conns)
}

// All returns a snapshot of the connections.
func (manager *sessionManager) All() []*conn {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	all := make([]*conn, 0, len(manager.conns))
	for _, c := range manager.conns {
		all = append(all, c)
	}
	return all
}
