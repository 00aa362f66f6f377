package pmm

import (
	"sort"

	"kobzar/kernel"
	"kobzar/kernel/mm"
	"kobzar/multiboot"
)

// WindowsFromMemoryMap returns the superpage-aligned windows that cover the
// available regions of a boot memory map. Region boundaries are rounded
// inward to superpage boundaries and regions that do not contain a full
// superpage are dropped. Overlapping or adjacent windows are merged.
func WindowsFromMemoryMap(info *multiboot.Info) []mm.Window {
	var windows []mm.Window
	info.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			return true
		}

		w := mm.Window{Base: uintptr(entry.PhysAddress), Length: mm.Size(entry.Length)}.ShrinkToSuperpages()
		if w.Length != 0 {
			windows = append(windows, w)
		}
		return true
	})

	return coalesceWindows(windows)
}

// coalesceWindows sorts windows by base address and merges those that
// overlap or touch.
func coalesceWindows(windows []mm.Window) []mm.Window {
	if len(windows) < 2 {
		return windows
	}

	sort.Slice(windows, func(i, j int) bool { return windows[i].Base < windows[j].Base })

	out := windows[:1]
	for _, w := range windows[1:] {
		last := &out[len(out)-1]
		if w.Base > last.End() {
			out = append(out, w)
			continue
		}
		if w.End() > last.End() {
			last.Length = mm.Size(w.End() - last.Base)
		}
	}
	return out
}

// NewFromMemoryMap creates an allocator for the available memory reported by
// the boot loader. Options on the boot command line are applied on top of
// cfg: pmm.automerge enables AutoMerge, pmm.indexdegree overrides
// IndexDegree and pmm.reserve windows are appended to Reserved.
func NewFromMemoryMap(info *multiboot.Info, cfg Config) (*Allocator, *kernel.Error) {
	cmdCfg, err := ConfigFromCmdLine(info.BootCmdLine())
	if err != nil {
		return nil, err
	}

	if cmdCfg.AutoMerge {
		cfg.AutoMerge = true
	}
	if cmdCfg.IndexDegree != 0 {
		cfg.IndexDegree = cmdCfg.IndexDegree
	}
	cfg.Reserved = append(append([]mm.Window(nil), cfg.Reserved...), cmdCfg.Reserved...)

	return New(WindowsFromMemoryMap(info), cfg)
}
