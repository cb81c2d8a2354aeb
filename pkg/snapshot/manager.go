// Package snapshot tracks node snapshots taken between test runs and tells
// observers when chain history is rewound.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Chain is the node that takes and restores snapshots.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Snapshot(ctx context.Context) (string, error)
	Revert(ctx context.Context, id string) (bool, error)
}

// Observer is told the chain height after every revert.
type Observer interface {
	OnRevert(height uint64)
}

// Snapshot holds a point-in-time chain capture.
type Snapshot struct {
	ID          uint64
	NodeID      string
	BlockNumber uint64
}

// Manager manages chain snapshots.
type Manager struct {
	chain Chain

	snapshots map[uint64]*Snapshot
	nextID    uint64
	observers []Observer

	mu sync.RWMutex
}

// NewManager creates a new snapshot manager.
func NewManager(chain Chain) *Manager {
	return &Manager{
		chain:     chain,
		snapshots: make(map[uint64]*Snapshot),
		nextID:    1,
	}
}

// Register adds an observer. Registering twice has no effect.
func (m *Manager) Register(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.observers {
		if existing == o {
			return
		}
	}
	m.observers = append(m.observers, o)
}

// Deregister removes an observer.
func (m *Manager) Deregister(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			return
		}
	}
}

// Snapshot creates a new snapshot and returns its ID.
func (m *Manager) Snapshot(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Record current block number
	blockNumber, err := m.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}
	nodeID, err := m.chain.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}

	snap := &Snapshot{
		ID:          m.nextID,
		NodeID:      nodeID,
		BlockNumber: blockNumber,
	}
	m.snapshots[m.nextID] = snap
	m.nextID++

	return snap.ID, nil
}

// Revert reverts to a previous snapshot. It reports false for unknown ids
// and ids the node refused.
func (m *Manager) Revert(ctx context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	snap, exists := m.snapshots[id]
	if !exists {
		m.mu.Unlock()
		return false, nil
	}
	ok, err := m.chain.Revert(ctx, snap.NodeID)
	if err != nil || !ok {
		m.mu.Unlock()
		return false, err
	}

	// Remove all snapshots with ID >= this one
	for snapID := range m.snapshots {
		if snapID >= id {
			delete(m.snapshots, snapID)
		}
	}
	observers := append([]Observer(nil), m.observers...)
	m.mu.Unlock()

	for _, o := range observers {
		o.OnRevert(snap.BlockNumber)
	}
	return true, nil
}

// Delete removes a snapshot.
func (m *Manager) Delete(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[id]; !exists {
		return false
	}

	delete(m.snapshots, id)
	return true
}

// List returns all snapshot IDs in ascending order.
func (m *Manager) List() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear removes all snapshots.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots = make(map[uint64]*Snapshot)
}

// Count returns the number of snapshots.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.snapshots)
}

// Get retrieves a snapshot by ID.
func (m *Manager) Get(id uint64) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, exists := m.snapshots[id]
	return snap, exists
}
