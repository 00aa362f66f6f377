package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kobzar/internal/machine"
	"kobzar/kernel/kfmt"
	"kobzar/multiboot"
)

// globalOptions holds the flags shared by all commands.
type globalOptions struct {
	machine   string
	multiboot string
	cmdLine   string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "pmmctl",
		Short: "Exercise the physical memory allocator on emulated machines",
		Long: `pmmctl boots the physical memory allocator on the host. The machine is
described either by a YAML profile (--machine), by a multiboot2 information
block dumped from a real boot (--multiboot) or, by default, by the memory map
qemu reports for a 128MiB guest.

Example:
  pmmctl map
  pmmctl map --machine testdata/big.yaml
  pmmctl stress --ops 100000 --seed 42 --backing`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			kfmt.ParseLevel(opts.logLevel)
			kfmt.SetOutputSink(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.machine, "machine", "m", "", "YAML machine profile")
	cmd.PersistentFlags().StringVar(&opts.multiboot, "multiboot", "", "Dumped multiboot2 information block")
	cmd.PersistentFlags().StringVar(&opts.cmdLine, "cmdline", "", "Boot command line (overrides the machine's)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Allocator log level (debug, info, warn, error)")

	cmd.AddCommand(newMapCmd(opts), newStressCmd(opts))
	return cmd
}

// bootInfo returns the boot information for the selected machine.
func (o *globalOptions) bootInfo() (*multiboot.Info, string, error) {
	if o.machine != "" && o.multiboot != "" {
		return nil, "", errors.New("--machine and --multiboot are mutually exclusive")
	}

	if o.multiboot != "" {
		info, err := multiboot.ReadInfo(o.multiboot)
		if err != nil {
			return nil, "", err
		}
		if o.cmdLine != "" {
			return rebuild(info, o.cmdLine), o.multiboot, nil
		}
		return info, o.multiboot, nil
	}

	profile := machine.QEMU()
	if o.machine != "" {
		var err error
		if profile, err = machine.Load(o.machine); err != nil {
			return nil, "", err
		}
	}
	if o.cmdLine != "" {
		profile.CmdLine = o.cmdLine
	}
	return profile.BootInfo(), profile.Name, nil
}

// rebuild returns a copy of info with a different command line.
func rebuild(info *multiboot.Info, cmdLine string) *multiboot.Info {
	b := &multiboot.Builder{
		CmdLine:        cmdLine,
		BootLoaderName: info.BootLoaderName(),
	}
	info.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		b.Regions = append(b.Regions, *entry)
		return true
	})
	return b.Info()
}
