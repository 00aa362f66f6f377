package pmm

import (
	"math/bits"

	"kobzar/kernel/mm"
)

const bitmapWords = mm.SlicesPerSuperpage / 64

// Bitmap512 tracks the occupancy of the slices of a divided superpage. Bit i
// is stored in word i/64 at position i%64 and is set while slice i is
// allocated.
type Bitmap512 [bitmapWords]uint64

// Set marks slice index as allocated.
func (b *Bitmap512) Set(index uint16) {
	b[index>>6] |= 1 << (index & 63)
}

// Clear marks slice index as free.
func (b *Bitmap512) Clear(index uint16) {
	b[index>>6] &^= 1 << (index & 63)
}

// IsSet returns true if slice index is allocated.
func (b *Bitmap512) IsSet(index uint16) bool {
	return b[index>>6]&(1<<(index&63)) != 0
}

// FirstClear returns the lowest index whose bit is not set. The second
// return value is false if all bits are set.
func (b *Bitmap512) FirstClear() (uint16, bool) {
	for wordIndex, word := range b {
		if word == ^uint64(0) {
			continue
		}

		return uint16(wordIndex<<6 + bits.TrailingZeros64(^word)), true
	}

	return 0, false
}

// Count returns the number of set bits.
func (b *Bitmap512) Count() int {
	var count int
	for _, word := range b {
		count += bits.OnesCount64(word)
	}
	return count
}

// IsZero returns true if no bit is set.
func (b *Bitmap512) IsZero() bool {
	for _, word := range b {
		if word != 0 {
			return false
		}
	}
	return true
}

// IsFull returns true if every bit is set.
func (b *Bitmap512) IsFull() bool {
	for _, word := range b {
		if word != ^uint64(0) {
			return false
		}
	}
	return true
}
