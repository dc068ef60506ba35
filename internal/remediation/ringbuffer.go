package remediation

import "sync"

// RingBuffer keeps the last size bytes written to it. Long-running remediation
// commands can print without bound; only the tail is worth reporting.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	size    int
	head    int
	full    bool
	dropped int64
}

// NewRingBuffer creates a buffer holding at most size bytes (64KB when size <= 0).
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 64 * 1024
	}
	return &RingBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer. It never fails; the oldest bytes are overwritten.
func (r *RingBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(p)
	if n >= r.size {
		r.dropped += int64(r.length() + n - r.size)
		copy(r.buf, p[n-r.size:])
		r.head = 0
		r.full = true
		return n, nil
	}
	for _, b := range p {
		if r.full {
			r.dropped++
		}
		r.buf[r.head] = b
		r.head = (r.head + 1) % r.size
		if r.head == 0 {
			r.full = true
		}
	}
	return n, nil
}

// length returns the buffered length. The caller must hold the lock.
func (r *RingBuffer) length() int {
	if r.full {
		return r.size
	}
	return r.head
}

// String returns the buffered bytes in write order.
func (r *RingBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return string(r.buf[:r.head])
	}
	return string(r.buf[r.head:]) + string(r.buf[:r.head])
}

// Truncated reports whether any output was discarded.
func (r *RingBuffer) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped > 0
}
