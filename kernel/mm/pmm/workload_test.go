package pmm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"kobzar/kernel/mm"
)

// heldPage is an allocation owned by the workload together with the number
// of references it holds.
type heldPage struct {
	whole Page2MHandle
	small Page4KHandle
	is4K  bool
	refs  int
}

type workload struct {
	t     *testing.T
	rng   *rand.Rand
	alloc *Allocator

	held    []*heldPage
	owned2M map[mm.Page2M]bool
	owned4K map[mm.Page4K]bool
	slices  map[mm.Page2M]int
}

func newWorkload(t *testing.T, seed int64, alloc *Allocator) *workload {
	return &workload{
		t:       t,
		rng:     rand.New(rand.NewSource(seed)),
		alloc:   alloc,
		owned2M: make(map[mm.Page2M]bool),
		owned4K: make(map[mm.Page4K]bool),
		slices:  make(map[mm.Page2M]int),
	}
}

func (w *workload) step() {
	switch op := w.rng.Intn(10); {
	case op < 2:
		h, err := w.alloc.Alloc2M()
		if err == ErrNoMorePages {
			return
		}
		require.Nil(w.t, err)
		require.False(w.t, w.owned2M[h.Page()], "superpage %s handed out twice", h.Page())
		require.Zero(w.t, w.slices[h.Page()], "superpage %s has live slices", h.Page())
		w.owned2M[h.Page()] = true
		w.held = append(w.held, &heldPage{whole: h, refs: 1})
	case op < 5:
		h, err := w.alloc.Alloc4K()
		if err == ErrNoMorePages {
			return
		}
		require.Nil(w.t, err)
		require.False(w.t, w.owned4K[h.Page()], "page %s handed out twice", h.Page())
		require.False(w.t, w.owned2M[h.Page().Base], "slice of allocated superpage %s", h.Page().Base)
		w.owned4K[h.Page()] = true
		w.slices[h.Page().Base]++
		w.held = append(w.held, &heldPage{small: h, is4K: true, refs: 1})
	case op < 6:
		if p := w.pick(); p != nil {
			var err error
			if p.is4K {
				_, err = w.alloc.Retain4K(p.small)
			} else {
				_, err = w.alloc.Retain2M(p.whole)
			}
			require.Nil(w.t, err)
			p.refs++
		}
	case op < 9:
		w.release()
	default:
		w.maintain()
	}
}

func (w *workload) pick() *heldPage {
	if len(w.held) == 0 {
		return nil
	}
	return w.held[w.rng.Intn(len(w.held))]
}

func (w *workload) release() {
	if len(w.held) == 0 {
		return
	}

	index := w.rng.Intn(len(w.held))
	p := w.held[index]
	if p.is4K {
		require.Nil(w.t, w.alloc.Release4K(p.small))
	} else {
		require.Nil(w.t, w.alloc.Release2M(p.whole))
	}

	if p.refs--; p.refs > 0 {
		return
	}

	if p.is4K {
		delete(w.owned4K, p.small.Page())
		w.slices[p.small.Page().Base]--
		// With AutoMerge the superpage may already be whole again.
		err := w.alloc.Release4K(p.small)
		require.True(w.t, ErrCounterUnderflow.SameKind(err), "unexpected error %v", err)
	} else {
		delete(w.owned2M, p.whole.Page())
		require.Equal(w.t, ErrCounterUnderflow, w.alloc.Release2M(p.whole))
	}

	w.held[index] = w.held[len(w.held)-1]
	w.held = w.held[:len(w.held)-1]
}

// maintain merges or retires a random tracked superpage. Failures are
// expected when the page is in use.
func (w *workload) maintain() {
	windows := w.alloc.Windows()
	win := windows[w.rng.Intn(len(windows))]
	page := mm.Page2M(win.Base + uintptr(w.rng.Int63n(int64(win.Length.Superpages())))<<mm.SuperpageShift)

	info := w.alloc.Lookup(page.Address())
	if w.rng.Intn(2) == 0 {
		err := w.alloc.Merge(page)
		switch {
		case !info.Tracked:
			require.Equal(w.t, ErrNotTracked, err)
		case !info.Divided:
			require.Equal(w.t, ErrNotDivided, err)
		case w.slices[page] > 0:
			require.Equal(w.t, ErrUsed, err)
		default:
			require.Nil(w.t, err)
		}
		return
	}

	err := w.alloc.Retire(page)
	switch {
	case !info.Tracked:
		require.Equal(w.t, ErrNotTracked, err)
	case info.Divided || w.owned2M[page]:
		require.Equal(w.t, ErrNotRetirable, err)
	default:
		require.Nil(w.t, err)
	}
}

func TestRandomWorkload(t *testing.T) {
	for _, spec := range []struct {
		name string
		cfg  Config
		seed int64
	}{
		{"manual merge", Config{}, 1},
		{"auto merge", Config{AutoMerge: true}, 2},
		{"small index degree", Config{IndexDegree: 2}, 3},
	} {
		t.Run(spec.name, func(t *testing.T) {
			alloc := newTestAllocator(t, spec.cfg, window(1, 3), window(6, 2), window(40, 4))
			w := newWorkload(t, spec.seed, alloc)

			for i := 0; i < 3000; i++ {
				w.step()
				requireConsistent(t, alloc)
			}

			// Drain everything; memory must be fully free again.
			for len(w.held) > 0 {
				w.release()
			}
			requireConsistent(t, alloc)
			require.Equal(t, alloc.Total2MPages(), alloc.Allocated2MPages()+alloc.Free2MPages())
			require.Zero(t, alloc.Stats().Allocated2M-alloc.Stats().Divided2M)
		})
	}
}
