package pmm

// maxRecycledDivisions caps the number of detached division blocks kept for
// reuse.
const maxRecycledDivisions = 16

// divisionHeap recycles the slice state of merged superpages so that
// dividing a superpage after a merge does not allocate.
type divisionHeap struct {
	free []*division
}

// get returns a zeroed division or nil if none is available.
func (h *divisionHeap) get() *division {
	n := len(h.free)
	if n == 0 {
		return nil
	}

	d := h.free[n-1]
	h.free[n-1] = nil
	h.free = h.free[:n-1]
	return d
}

// put stores d for reuse. d must have no slices in use.
func (h *divisionHeap) put(d *division) {
	if d == nil || len(h.free) >= maxRecycledDivisions {
		return
	}

	// Counters are already zero when the bitmap is empty.
	d.bitmap = Bitmap512{}
	h.free = append(h.free, d)
}

// Len returns the number of recycled divisions.
func (h *divisionHeap) Len() int { return len(h.free) }
