package stream

import (
	"sync"

	audit "procflow/pkg/platform/audit"
)

// RingBuffer holds entries that could not be published while the stream was
// unhealthy. When full, the oldest entry is dropped.
type RingBuffer struct {
	mu       sync.Mutex
	entries  []audit.Entry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
	dropped  int64
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{
		entries:  make([]audit.Entry, capacity),
		capacity: capacity,
	}
}

// Enqueue adds an entry, dropping the oldest if necessary.
func (b *RingBuffer) Enqueue(entry audit.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count >= b.capacity {
		b.tail = (b.tail + 1) % b.capacity
		b.count--
		b.dropped++
	}
	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	b.count++
}

// Requeue puts entries back at the front in their original order.
// Entries that no longer fit are counted as dropped.
func (b *RingBuffer) Requeue(entries []audit.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		if b.count >= b.capacity {
			b.dropped += int64(i + 1)
			return
		}
		b.tail = (b.tail - 1 + b.capacity) % b.capacity
		b.entries[b.tail] = entries[i]
		b.count++
	}
}

// DequeueBatch removes up to n entries, oldest first.
func (b *RingBuffer) DequeueBatch(n int) []audit.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	n = min(n, b.count)
	result := make([]audit.Entry, n)
	for i := range n {
		result[i] = b.entries[b.tail]
		b.entries[b.tail] = audit.Entry{}
		b.tail = (b.tail + 1) % b.capacity
	}
	b.count -= n
	return result
}

func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *RingBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
