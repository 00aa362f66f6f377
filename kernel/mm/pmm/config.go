package pmm

import (
	"strconv"
	"strings"

	"github.com/phuslu/log"

	"kobzar/kernel"
	"kobzar/kernel/mm"
)

// Scrubber clears the contents of pages before they are handed out.
type Scrubber interface {
	Scrub(addr uintptr, size mm.Size)
}

// Config controls optional allocator behavior. The zero value is a valid
// configuration.
type Config struct {
	// AutoMerge merges a divided superpage back into a whole one as soon
	// as its last slice is released. When false, merging is left to
	// explicit Merge calls.
	AutoMerge bool

	// IndexDegree is the degree of the B-tree that indexes StatusRanges.
	// Values below 2 select DefaultIndexDegree.
	IndexDegree int

	// Reserved lists physical windows that must never be handed out (e.g.
	// the loaded kernel image). Superpages overlapping any of them are
	// excluded when the allocator is seeded.
	Reserved []mm.Window

	// Scrubber, if set, zeroes every page before it is returned to the
	// caller.
	Scrubber Scrubber

	// Logger receives allocator diagnostics. If nil, kfmt.Logger("pmm")
	// is used.
	Logger *log.Logger
}

// Boot command line keys understood by ConfigFromCmdLine.
const (
	CmdLineAutoMerge   = "pmm.automerge"
	CmdLineIndexDegree = "pmm.indexdegree"
	CmdLineReserve     = "pmm.reserve"
)

// ConfigFromCmdLine builds a Config from the boot command line key/value
// pairs. Unrelated keys are ignored. Recognized options:
//
//	pmm.automerge          enable AutoMerge (also pmm.automerge=1|true|on)
//	pmm.indexdegree=N      set IndexDegree
//	pmm.reserve=S-E[,S-E]  reserve the physical windows [S, E)
//
// Numbers accept the 0x prefix.
func ConfigFromCmdLine(kv map[string]string) (Config, *kernel.Error) {
	var cfg Config

	if v, ok := kv[CmdLineAutoMerge]; ok {
		switch strings.ToLower(v) {
		case CmdLineAutoMerge, "1", "true", "on", "yes":
			cfg.AutoMerge = true
		case "0", "false", "off", "no":
		default:
			return Config{}, ErrInvalidCmdLine
		}
	}

	if v, ok := kv[CmdLineIndexDegree]; ok {
		degree, err := strconv.ParseUint(v, 0, 16)
		if err != nil || degree < 2 {
			return Config{}, ErrInvalidCmdLine
		}
		cfg.IndexDegree = int(degree)
	}

	if v, ok := kv[CmdLineReserve]; ok {
		for _, spec := range strings.Split(v, ",") {
			w, err := parseWindowSpec(spec)
			if err != nil {
				return Config{}, err
			}
			cfg.Reserved = append(cfg.Reserved, w)
		}
	}

	return cfg, nil
}

func parseWindowSpec(spec string) (mm.Window, *kernel.Error) {
	startStr, endStr, found := strings.Cut(strings.TrimSpace(spec), "-")
	if !found {
		return mm.Window{}, ErrInvalidCmdLine
	}

	start, err := strconv.ParseUint(startStr, 0, 64)
	if err != nil {
		return mm.Window{}, ErrInvalidCmdLine
	}
	end, err := strconv.ParseUint(endStr, 0, 64)
	if err != nil || end <= start {
		return mm.Window{}, ErrInvalidCmdLine
	}

	return mm.Window{Base: uintptr(start), Length: mm.Size(end - start)}, nil
}
