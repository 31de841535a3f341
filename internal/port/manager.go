package port

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNoAvailablePorts = errors.New("no available ports in range")
	ErrPortNotAllocated = errors.New("port not allocated")
)

// allocation tracks one port lease
type allocation struct {
	RuntimeID   string
	AllocatedAt time.Time
	ReleasedAt  *time.Time // nil while the runtime still owns the port
}

// Manager hands out host ports for spawned inference servers. Released ports
// sit out a grace period before reuse so a restarting server never collides
// with lingering sockets from the previous owner.
type Manager struct {
	mu          sync.Mutex
	minPort     int
	maxPort     int
	gracePeriod time.Duration
	allocations map[int]*allocation
}

// NewManager creates a port manager over the inclusive range
// [minPort, maxPort].
func NewManager(minPort, maxPort int, gracePeriod time.Duration) *Manager {
	return &Manager{
		minPort:     minPort,
		maxPort:     maxPort,
		gracePeriod: gracePeriod,
		allocations: make(map[int]*allocation),
	}
}

// Allocate reserves an available port for the given runtime.
func (m *Manager) Allocate(runtimeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for p := m.minPort; p <= m.maxPort; p++ {
		alloc, exists := m.allocations[p]
		if exists && (alloc.ReleasedAt == nil || now.Sub(*alloc.ReleasedAt) < m.gracePeriod) {
			continue
		}
		m.allocations[p] = &allocation{RuntimeID: runtimeID, AllocatedAt: now}
		return p, nil
	}
	return 0, ErrNoAvailablePorts
}

// Release returns a port to the pool; reuse begins after the grace period.
func (m *Manager) Release(p int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, exists := m.allocations[p]
	if !exists || alloc.ReleasedAt != nil {
		return ErrPortNotAllocated
	}
	now := time.Now()
	alloc.ReleasedAt = &now
	return nil
}

// Owner reports which runtime currently holds the port.
func (m *Manager) Owner(p int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, exists := m.allocations[p]
	if !exists || alloc.ReleasedAt != nil {
		return "", false
	}
	return alloc.RuntimeID, true
}

// AvailableCount returns how many ports could be allocated right now.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := time.Now()
	for p := m.minPort; p <= m.maxPort; p++ {
		alloc, exists := m.allocations[p]
		if !exists || (alloc.ReleasedAt != nil && now.Sub(*alloc.ReleasedAt) >= m.gracePeriod) {
			count++
		}
	}
	return count
}
