// Package mirror holds the client-side copy of the device state and image
// list.
package mirror

import (
	"sync"

	"github.com/koios/openmatrix/pkg/models"
)

// Snapshot is a point-in-time copy of the mirror
type Snapshot struct {
	State  models.DeviceState       `json:"state"`
	Images []models.ImageDescriptor `json:"images"`
}

// Mirror is the single owner of the last-known device state. All writes go
// through Update, Replace, Reset and SetImages; readers get deep copies.
type Mirror struct {
	mu          sync.RWMutex
	state       models.DeviceState
	images      []models.ImageDescriptor
	subscribers map[int]chan Snapshot
	nextID      int
}

// New creates an empty mirror
func New() *Mirror {
	return &Mirror{
		images:      []models.ImageDescriptor{},
		subscribers: make(map[int]chan Snapshot),
	}
}

// State returns a copy of the current device state
func (m *Mirror) State() models.DeviceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Images returns a copy of the current image list
func (m *Mirror) Images() []models.ImageDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneImages(m.images)
}

// Snapshot returns a copy of both state and images
func (m *Mirror) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Replace swaps the whole state
func (m *Mirror) Replace(state models.DeviceState) {
	m.mutate(func() { m.state = state.Clone() })
}

// Reset empties the state, meaning "unknown"
func (m *Mirror) Reset() {
	m.mutate(func() { m.state = models.DeviceState{} })
}

// Update applies fn to the state under the write lock
func (m *Mirror) Update(fn func(*models.DeviceState)) {
	m.mutate(func() { fn(&m.state) })
}

// SetImages replaces the image list. A nil list is stored as empty.
func (m *Mirror) SetImages(images []models.ImageDescriptor) {
	m.mutate(func() {
		if images == nil {
			m.images = []models.ImageDescriptor{}
			return
		}
		m.images = cloneImages(images)
	})
}

// UpdateImages applies fn to the image list under the write lock
func (m *Mirror) UpdateImages(fn func([]models.ImageDescriptor) []models.ImageDescriptor) {
	m.mutate(func() {
		m.images = fn(m.images)
		if m.images == nil {
			m.images = []models.ImageDescriptor{}
		}
	})
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow subscribers only see the most recent snapshot. The returned
// func unsubscribes and closes the channel.
func (m *Mirror) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

func (m *Mirror) mutate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn()
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for _, ch := range m.subscribers {
		publish(ch, snap)
	}
}

func (m *Mirror) snapshotLocked() Snapshot {
	return Snapshot{State: m.state.Clone(), Images: cloneImages(m.images)}
}

// publish replaces any undelivered snapshot with snap
func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneImages(images []models.ImageDescriptor) []models.ImageDescriptor {
	out := make([]models.ImageDescriptor, len(images))
	copy(out, images)
	return out
}
