package kfmt

import "io"

// earlyLogSize is the number of bytes of log output retained while no sink
// is attached. It must be a power of 2.
const earlyLogSize = 4096

// ringBuffer keeps the most recent earlyLogSize bytes of log output. Once it
// is full every new byte evicts the oldest one and bumps the dropped count,
// so a late sink can tell that the head of the boot log is gone.
type ringBuffer struct {
	data    [earlyLogSize]byte
	head    int
	size    int
	dropped uint64
}

func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.data[(rb.head+rb.size)&(earlyLogSize-1)] = b
		if rb.size == earlyLogSize {
			rb.head = (rb.head + 1) & (earlyLogSize - 1)
			rb.dropped++
			continue
		}
		rb.size++
	}
	return len(p), nil
}

// Read drains buffered output in the order it was written. It returns io.EOF
// once the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.size == 0 {
		return 0, io.EOF
	}

	// Copy the contiguous run up to the end of the backing array; the
	// wrapped part is picked up by the next call.
	n := min(rb.size, earlyLogSize-rb.head, len(p))
	copy(p, rb.data[rb.head:rb.head+n])
	rb.head = (rb.head + n) & (earlyLogSize - 1)
	rb.size -= n
	return n, nil
}

// Len returns the number of unread bytes.
func (rb *ringBuffer) Len() int { return rb.size }

// Dropped returns the number of bytes evicted since the last Reset.
func (rb *ringBuffer) Dropped() uint64 { return rb.dropped }

// Reset discards any unread output and clears the dropped count.
func (rb *ringBuffer) Reset() {
	rb.head, rb.size, rb.dropped = 0, 0, 0
}
