// Package abort implements domain.AbortRegistry: cooperative cancellation
// flags keyed by session id, in process memory or in Redis for multi-replica
// deployments.
package abort

import (
	"context"
	"fmt"
	"sync"

	"github.com/zeroatsteel/zero-agent/internal/domain"
)

// Memory is a mutex-guarded in-process registry.
type Memory struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewMemory returns an empty registry.
func NewMemory() *Memory { return &Memory{flags: make(map[string]bool)} }

// Register records sessionID with the flag cleared.
func (m *Memory) Register(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[sessionID] = false
	return nil
}

// Cancel sets the flag for a registered session.
func (m *Memory) Cancel(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flags[sessionID]; !ok {
		return fmt.Errorf("op=abort.cancel: %w", domain.ErrNotFound)
	}
	m.flags[sessionID] = true
	return nil
}

// Cancelled reports whether a cancel was requested for sessionID.
func (m *Memory) Cancelled(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags[sessionID], nil
}

// Release forgets sessionID.
func (m *Memory) Release(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, sessionID)
	return nil
}

// Len returns the number of registered sessions.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flags)
}
