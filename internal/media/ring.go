package media

import "sync"

// Ring is a fixed-capacity byte ring smoothing the hand-off between the
// microphone reader and the recognition stream writer. One slot is reserved
// to distinguish full from empty.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	size int
	r    int
	w    int
}

// NewRing creates a ring holding up to size-1 bytes.
func NewRing(size int) *Ring {
	return &Ring{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write copies data in, returning how many bytes fit.
func (rb *Ring) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, b := range data {
		if (rb.w+1)%rb.size == rb.r {
			break
		}
		rb.buf[rb.w] = b
		rb.w = (rb.w + 1) % rb.size
		written++
	}
	return written
}

// Read copies buffered bytes out, returning how many were read.
func (rb *Ring) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for i := range data {
		if rb.r == rb.w {
			break
		}
		data[i] = rb.buf[rb.r]
		rb.r = (rb.r + 1) % rb.size
		read++
	}
	return read
}

// Available returns the number of bytes ready to read.
func (rb *Ring) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.availableLocked()
}

func (rb *Ring) availableLocked() int {
	if rb.w >= rb.r {
		return rb.w - rb.r
	}
	return rb.size - rb.r + rb.w
}

// Space returns the number of bytes that can still be written.
func (rb *Ring) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.availableLocked() - 1
}

// Clear drops all buffered bytes.
func (rb *Ring) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.r = 0
	rb.w = 0
}

// IsEmpty reports whether no bytes are buffered.
func (rb *Ring) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.r == rb.w
}
