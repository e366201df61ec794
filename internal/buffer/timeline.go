package buffer

import (
	"sync"

	"github.com/rewired-gh/idswatch/internal/models"
)

// DefaultTimelineCapacity is the number of samples shown on the timeline.
const DefaultTimelineCapacity = 30

// TimelineBuffer is a fixed-size ring of timeline samples in chronological
// order. The oldest sample is evicted when full.
type TimelineBuffer struct {
	mu       sync.RWMutex
	data     []models.TimelineSample
	capacity int
	head     int // next write position
	size     int
}

func NewTimelineBuffer(capacity int) *TimelineBuffer {
	if capacity <= 0 {
		capacity = DefaultTimelineCapacity
	}
	return &TimelineBuffer{
		data:     make([]models.TimelineSample, capacity),
		capacity: capacity,
	}
}

// Append adds a sample, evicting the oldest if at capacity.
func (b *TimelineBuffer) Append(s models.TimelineSample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushLocked(s)
}

// Replace discards all samples and loads samples in order. When samples
// exceeds capacity only the newest are kept.
func (b *TimelineBuffer) Replace(samples []models.TimelineSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.data)
	b.head, b.size = 0, 0
	if len(samples) > b.capacity {
		samples = samples[len(samples)-b.capacity:]
	}
	for _, s := range samples {
		b.pushLocked(s)
	}
}

// Samples returns all samples, oldest first.
func (b *TimelineBuffer) Samples() []models.TimelineSample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}
	result := make([]models.TimelineSample, b.size)
	oldest := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		result[i] = b.data[(oldest+i)%b.capacity]
	}
	return result
}

func (b *TimelineBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *TimelineBuffer) Capacity() int {
	return b.capacity
}

func (b *TimelineBuffer) pushLocked(s models.TimelineSample) {
	b.data[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}
