package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kobzar/kernel/mm"
	"kobzar/kernel/mm/pmm"
	"kobzar/multiboot"
)

func newMapCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Print the memory map and the superpages managed by the allocator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, name, err := opts.bootInfo()
			if err != nil {
				return err
			}
			return runMap(cmd.OutOrStdout(), name, info)
		},
	}
}

func runMap(w io.Writer, name string, info *multiboot.Info) error {
	fmt.Fprintf(w, "machine: %s\n", name)
	if loader := info.BootLoaderName(); loader != "" {
		fmt.Fprintf(w, "boot loader: %s\n", loader)
	}

	fmt.Fprintln(w, "memory map:")
	info.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		r := mm.Window{Base: uintptr(entry.PhysAddress), Length: mm.Size(entry.Length)}
		fmt.Fprintf(w, "  %s %10d KiB  %s\n", r, entry.Length/uint64(mm.Kb), entry.Type)
		return true
	})

	alloc, kerr := pmm.NewFromMemoryMap(info, pmm.Config{})
	if kerr != nil {
		return errors.Wrap(kerr, "starting allocator")
	}

	fmt.Fprintln(w, "superpage windows:")
	for _, win := range alloc.Windows() {
		fmt.Fprintf(w, "  %s %6d superpages\n", win, win.Length.Superpages())
	}

	stats := alloc.Stats()
	fmt.Fprintf(w, "usable superpages: %d (%d MiB)\n", stats.Total2M, uint64(stats.FreeSize/mm.Mb))
	return nil
}
