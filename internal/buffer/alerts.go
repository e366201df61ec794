// Package buffer provides the fixed-capacity alert and timeline buffers.
package buffer

import (
	"sync"

	"github.com/rewired-gh/idswatch/internal/models"
)

// DefaultAlertCapacity is the maximum number of alerts kept for display.
const DefaultAlertCapacity = 500

// AlertBuffer holds the most recent alerts, newest first.
// It is safe for concurrent use.
type AlertBuffer struct {
	mu       sync.RWMutex
	alerts   []models.Alert
	capacity int
	live     bool
}

func NewAlertBuffer(capacity int) *AlertBuffer {
	if capacity <= 0 {
		capacity = DefaultAlertCapacity
	}
	return &AlertBuffer{capacity: capacity}
}

// Prepend places batch in front of the existing alerts, preserving the order
// within the batch, truncates to capacity, and returns the new contents.
// After the first call, Seed no longer has any effect.
func (b *AlertBuffer) Prepend(batch []models.Alert) []models.Alert {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.live = true

	n := len(batch) + len(b.alerts)
	if n > b.capacity {
		n = b.capacity
	}
	next := make([]models.Alert, 0, n)
	next = append(next, batch[:min(len(batch), n)]...)
	next = append(next, b.alerts[:n-len(next)]...)
	b.alerts = next

	return b.snapshotLocked()
}

// Seed replaces the contents with initial, truncated to capacity. It applies
// only while no live batch has been prepended and reports whether it did.
func (b *AlertBuffer) Seed(initial []models.Alert) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.live {
		return false
	}
	n := min(len(initial), b.capacity)
	b.alerts = append([]models.Alert(nil), initial[:n]...)
	return true
}

// Snapshot returns a copy of the current contents, newest first.
func (b *AlertBuffer) Snapshot() []models.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

// Recent returns a copy of at most n newest alerts.
func (b *AlertBuffer) Recent(n int) []models.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	n = min(n, len(b.alerts))
	return append([]models.Alert(nil), b.alerts[:n]...)
}

func (b *AlertBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.alerts)
}

func (b *AlertBuffer) Capacity() int {
	return b.capacity
}

// Live reports whether any live batch has been received.
func (b *AlertBuffer) Live() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.live
}

func (b *AlertBuffer) snapshotLocked() []models.Alert {
	return append([]models.Alert(nil), b.alerts...)
}
