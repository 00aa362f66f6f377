// Package physmem emulates physical RAM for running the page allocator on a
// host. Each memory window is backed by an anonymous private mapping so that
// physical addresses handed out by the allocator can be read and written.
package physmem

import (
	"sort"

	"github.com/pkg/errors"

	"kobzar/kernel/mm"
)

type region struct {
	window mm.Window
	data   []byte
}

// Arena holds one mapping per memory window.
type Arena struct {
	regions []region
}

// New maps a zeroed buffer for every window. Windows must not overlap.
func New(windows []mm.Window) (*Arena, error) {
	sorted := append([]mm.Window(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	a := &Arena{}
	var last mm.Window
	for _, w := range sorted {
		if w.Length == 0 {
			continue
		}
		if last.Overlaps(w) {
			_ = a.Close()
			return nil, errors.Errorf("window %s overlaps %s", w, last)
		}
		if w.End() > last.End() {
			last = w
		}

		data, err := mapAnon(int(w.Length))
		if err != nil {
			_ = a.Close()
			return nil, errors.Wrapf(err, "mapping window %s", w)
		}
		a.regions = append(a.regions, region{window: w, data: data})
	}
	return a, nil
}

// Size returns the number of bytes backed by the arena.
func (a *Arena) Size() mm.Size {
	var size mm.Size
	for _, r := range a.regions {
		size += r.window.Length
	}
	return size
}

// Bytes returns the backing memory for the physical range [addr, addr+size).
// The range must not cross a window boundary.
func (a *Arena) Bytes(addr uintptr, size mm.Size) ([]byte, error) {
	index := sort.Search(len(a.regions), func(i int) bool {
		return a.regions[i].window.End() > addr
	})
	if index == len(a.regions) || !a.regions[index].window.Contains(addr) {
		return nil, errors.Errorf("address 0x%x is not backed", addr)
	}

	r := a.regions[index]
	off := addr - r.window.Base
	if uint64(off)+uint64(size) > uint64(r.window.Length) {
		return nil, errors.Errorf("range 0x%x+0x%x crosses the end of window %s", addr, uint64(size), r.window)
	}
	return r.data[off : off+uintptr(size)], nil
}

// Scrub zeroes the physical range [addr, addr+size). Unbacked ranges are
// ignored.
func (a *Arena) Scrub(addr uintptr, size mm.Size) {
	b, err := a.Bytes(addr, size)
	if err != nil {
		return
	}
	clear(b)
}

// Close unmaps all windows. The arena must not be used afterwards.
func (a *Arena) Close() error {
	var firstErr error
	for _, r := range a.regions {
		if err := unmap(r.data); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "unmapping window %s", r.window)
		}
	}
	a.regions = nil
	return firstErr
}
