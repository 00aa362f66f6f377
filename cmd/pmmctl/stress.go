package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"kobzar/internal/physmem"
	"kobzar/kernel"
	"kobzar/kernel/mm"
	"kobzar/kernel/mm/pmm"
)

type stressOptions struct {
	ops         int
	seed        int64
	backing     bool
	autoMerge   bool
	verifyEvery int
	progress    bool
}

func newStressCmd(opts *globalOptions) *cobra.Command {
	sopts := &stressOptions{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a seeded random allocation workload and check invariants",
		Long: `The stress command allocates, retains and releases superpages and 4KiB
pages at random, occasionally merging and retiring superpages. The allocator
invariants are checked periodically. With --backing every page is backed by
host memory and tagged while allocated so that pages handed out twice are
detected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, _, err := opts.bootInfo()
			if err != nil {
				return err
			}

			cfg := pmm.Config{AutoMerge: sopts.autoMerge}
			var arena *physmem.Arena
			if sopts.backing {
				if arena, err = physmem.New(pmm.WindowsFromMemoryMap(info)); err != nil {
					return err
				}
				defer arena.Close()
				cfg.Scrubber = arena
			}

			alloc, kerr := pmm.NewFromMemoryMap(info, cfg)
			if kerr != nil {
				return errors.Wrap(kerr, "starting allocator")
			}

			return runStress(cmd.OutOrStdout(), cmd.ErrOrStderr(), alloc, arena, sopts)
		},
	}

	cmd.Flags().IntVarP(&sopts.ops, "ops", "n", 10000, "Number of operations")
	cmd.Flags().Int64Var(&sopts.seed, "seed", 1, "Random seed")
	cmd.Flags().BoolVar(&sopts.backing, "backing", false, "Back pages with host memory and detect aliasing")
	cmd.Flags().BoolVar(&sopts.autoMerge, "automerge", false, "Merge divided superpages when their last slice is released")
	cmd.Flags().IntVar(&sopts.verifyEvery, "verify-every", 100, "Check invariants every N operations (0 disables)")
	cmd.Flags().BoolVar(&sopts.progress, "progress", true, "Show a progress bar")
	return cmd
}

// allocation is a page owned by the workload.
type allocation struct {
	whole pmm.Page2MHandle
	small pmm.Page4KHandle
	is4K  bool
	refs  int
	tag   uint64
}

type stressCounters struct {
	alloc2M, alloc4K, retains, releases, merges, retires, exhausted int
}

type stressRun struct {
	rng   *rand.Rand
	alloc *pmm.Allocator
	arena *physmem.Arena

	held     []*allocation
	nextTag  uint64
	counters stressCounters
}

func runStress(out, progressOut io.Writer, alloc *pmm.Allocator, arena *physmem.Arena, opts *stressOptions) error {
	run := &stressRun{
		rng:   rand.New(rand.NewSource(opts.seed)),
		alloc: alloc,
		arena: arena,
	}

	if !opts.progress {
		progressOut = io.Discard
	}
	bar := progressbar.NewOptions(opts.ops,
		progressbar.OptionSetWriter(progressOut),
		progressbar.OptionSetDescription("stress"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	for i := 1; i <= opts.ops; i++ {
		if err := run.step(); err != nil {
			return errors.Wrapf(err, "operation %d", i)
		}
		if opts.verifyEvery > 0 && i%opts.verifyEvery == 0 {
			if err := alloc.Verify(); err != nil {
				return errors.Wrapf(err, "operation %d", i)
			}
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	for len(run.held) > 0 {
		if err := run.release(len(run.held) - 1); err != nil {
			return errors.Wrap(err, "draining")
		}
	}
	if err := alloc.Verify(); err != nil {
		return errors.Wrap(err, "after draining")
	}

	stats := alloc.Stats()
	c := run.counters
	fmt.Fprintf(out, "operations: %d (seed %d)\n", opts.ops, opts.seed)
	fmt.Fprintf(out, "  alloc2M %d, alloc4K %d, retain %d, release %d, merge %d, retire %d, exhausted %d\n",
		c.alloc2M, c.alloc4K, c.retains, c.releases, c.merges, c.retires, c.exhausted)
	fmt.Fprintf(out, "final: %d/%d superpages free, %d divided, %d ranges tracked\n",
		stats.Free2M, stats.Total2M, stats.Divided2M, stats.Ranges)
	return nil
}

func (r *stressRun) step() error {
	switch op := r.rng.Intn(20); {
	case op < 3:
		return r.alloc2M()
	case op < 9:
		return r.alloc4K()
	case op < 11:
		if len(r.held) == 0 {
			return nil
		}
		return r.retain(r.held[r.rng.Intn(len(r.held))])
	case op < 18:
		if len(r.held) == 0 {
			return nil
		}
		return r.release(r.rng.Intn(len(r.held)))
	default:
		return r.maintain()
	}
}

func (r *stressRun) alloc2M() error {
	h, err := r.alloc.Alloc2M()
	if err == pmm.ErrNoMorePages {
		r.counters.exhausted++
		return nil
	} else if err != nil {
		return err
	}

	a := &allocation{whole: h, refs: 1}
	if err := r.claim(a, h.Address(), mm.SuperpageSize); err != nil {
		return err
	}
	r.held = append(r.held, a)
	r.counters.alloc2M++
	return nil
}

func (r *stressRun) alloc4K() error {
	h, err := r.alloc.Alloc4K()
	if err == pmm.ErrNoMorePages {
		r.counters.exhausted++
		return nil
	} else if err != nil {
		return err
	}

	a := &allocation{small: h, is4K: true, refs: 1}
	if err := r.claim(a, h.Address(), mm.PageSize); err != nil {
		return err
	}
	r.held = append(r.held, a)
	r.counters.alloc4K++
	return nil
}

func (r *stressRun) retain(a *allocation) error {
	var err *kernel.Error
	if a.is4K {
		_, err = r.alloc.Retain4K(a.small)
	} else {
		_, err = r.alloc.Retain2M(a.whole)
	}
	if err != nil {
		return err
	}

	a.refs++
	r.counters.retains++
	return nil
}

func (r *stressRun) release(index int) error {
	a := r.held[index]
	if a.refs == 1 {
		// Check the tag while the page is still owned.
		if err := r.checkTag(a); err != nil {
			return err
		}
	}

	var err *kernel.Error
	if a.is4K {
		err = r.alloc.Release4K(a.small)
	} else {
		err = r.alloc.Release2M(a.whole)
	}
	if err != nil {
		return err
	}
	r.counters.releases++

	if a.refs--; a.refs == 0 {
		r.held[index] = r.held[len(r.held)-1]
		r.held = r.held[:len(r.held)-1]
	}
	return nil
}

// maintain merges or retires a random superpage. Failures caused by pages
// that are still in use are expected and ignored.
func (r *stressRun) maintain() error {
	windows := r.alloc.Windows()
	if len(windows) == 0 {
		return nil
	}
	win := windows[r.rng.Intn(len(windows))]
	page := mm.Page2M(win.Base + uintptr(r.rng.Int63n(int64(win.Length.Superpages())))<<mm.SuperpageShift)

	if r.rng.Intn(2) == 0 {
		switch err := r.alloc.Merge(page); err {
		case nil:
			r.counters.merges++
		case pmm.ErrNotTracked, pmm.ErrNotDivided, pmm.ErrUsed:
		default:
			return err
		}
		return nil
	}

	switch err := r.alloc.Retire(page); err {
	case nil:
		r.counters.retires++
	case pmm.ErrNotTracked, pmm.ErrNotRetirable:
	default:
		return err
	}
	return nil
}

// claim checks that a freshly allocated page has been scrubbed and writes a
// unique tag to its first and last words.
func (r *stressRun) claim(a *allocation, addr uintptr, size mm.Size) error {
	r.nextTag++
	a.tag = r.nextTag
	if r.arena == nil {
		return nil
	}

	b, err := r.arena.Bytes(addr, size)
	if err != nil {
		return err
	}
	if binary.LittleEndian.Uint64(b) != 0 || binary.LittleEndian.Uint64(b[len(b)-8:]) != 0 {
		return errors.Errorf("page 0x%x was not scrubbed", addr)
	}

	binary.LittleEndian.PutUint64(b, a.tag)
	binary.LittleEndian.PutUint64(b[len(b)-8:], a.tag)
	return nil
}

// checkTag verifies that nobody else wrote to the page while it was owned.
func (r *stressRun) checkTag(a *allocation) error {
	if r.arena == nil {
		return nil
	}

	addr, size := a.whole.Address(), mm.SuperpageSize
	if a.is4K {
		addr, size = a.small.Address(), mm.PageSize
	}

	b, err := r.arena.Bytes(addr, size)
	if err != nil {
		return err
	}
	if first, last := binary.LittleEndian.Uint64(b), binary.LittleEndian.Uint64(b[len(b)-8:]); first != a.tag || last != a.tag {
		return errors.Errorf("page 0x%x is aliased: expected tag %d; got %d and %d", addr, a.tag, first, last)
	}
	return nil
}
