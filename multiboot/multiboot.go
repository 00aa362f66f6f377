// Package multiboot decodes the multiboot2 information block that the boot
// loader hands to the kernel. Only the tags needed to bring up physical
// memory management are interpreted: the memory map, the boot command line
// and the boot loader name.
package multiboot

import (
	"encoding/binary"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type tagType uint32

// nolint
const (
	tagMbSectionEnd tagType = iota
	tagBootCmdLine
	tagBootLoaderName
	tagModules
	tagBasicMemoryInfo
	tagBiosBootDevice
	tagMemoryMap
	tagVbeInfo
	tagFramebufferInfo
	tagElfSymbols
	tagApmTable
)

const (
	// infoHeaderSize is the size of the total_size and reserved fields
	// that precede the first tag.
	infoHeaderSize = 8

	// tagHeaderSize is the size of the type and size fields of each tag.
	tagHeaderSize = 8

	// mmapHeaderSize is the size of the entry_size and entry_version
	// fields of the memory map tag.
	mmapHeaderSize = 8

	// mmapEntrySize is the minimum size of a memory map entry.
	mmapEntrySize = 20
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region provided by the boot loader. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// Info provides access to a multiboot2 information block.
type Info struct {
	data      []byte
	cmdLineKV map[string]string
}

// NewInfo validates the header of a multiboot2 information block and returns
// an Info for it. The data is not copied.
func NewInfo(data []byte) (*Info, error) {
	if len(data) < infoHeaderSize+tagHeaderSize {
		return nil, errors.Errorf("multiboot info too short: %d bytes", len(data))
	}

	totalSize := binary.LittleEndian.Uint32(data)
	if totalSize != 0 && int(totalSize) < len(data) {
		data = data[:totalSize]
	}

	return &Info{data: data}, nil
}

// ReadInfo loads a multiboot2 information block dumped to a file.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading multiboot info")
	}

	info, err := NewInfo(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return info, nil
}

// findTagByType scans the info block for the first tag of the given type and
// returns its contents, excluding the tag header. It returns nil if the tag
// is not present or the block is truncated.
func (i *Info) findTagByType(t tagType) []byte {
	for off := infoHeaderSize; off+tagHeaderSize <= len(i.data); {
		curType := tagType(binary.LittleEndian.Uint32(i.data[off:]))
		size := int(binary.LittleEndian.Uint32(i.data[off+4:]))

		if curType == tagMbSectionEnd || size < tagHeaderSize || off+size > len(i.data) {
			return nil
		}

		if curType == t {
			return i.data[off+tagHeaderSize : off+size]
		}

		// Tags are aligned at 8-byte aligned addresses
		off += (size + 7) &^ 7
	}

	return nil
}

// VisitMemRegions will invoke the supplied visitor for each memory region that
// is defined by the multiboot info data that we received from the bootloader.
// Entries with an unknown type are reported as MemReserved.
func (i *Info) VisitMemRegions(visitor MemRegionVisitor) {
	tag := i.findTagByType(tagMemoryMap)
	if len(tag) < mmapHeaderSize {
		return
	}

	entrySize := int(binary.LittleEndian.Uint32(tag))
	if entrySize < mmapEntrySize {
		return
	}

	var entry MemoryMapEntry
	for off := mmapHeaderSize; off+entrySize <= len(tag); off += entrySize {
		entry.PhysAddress = binary.LittleEndian.Uint64(tag[off:])
		entry.Length = binary.LittleEndian.Uint64(tag[off+8:])
		entry.Type = MemoryEntryType(binary.LittleEndian.Uint32(tag[off+16:]))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(&entry) {
			return
		}
	}
}

// BootLoaderName returns the name reported by the boot loader or an empty
// string if the tag is missing.
func (i *Info) BootLoaderName() string {
	return cString(i.findTagByType(tagBootLoaderName))
}

// BootCmdLine returns the command line key-value pairs passed to the kernel.
// Options without a value (e.g. "nofoo") map to their own name.
func (i *Info) BootCmdLine() map[string]string {
	if i.cmdLineKV != nil {
		return i.cmdLineKV
	}

	i.cmdLineKV = ParseCmdLine(cString(i.findTagByType(tagBootCmdLine)))
	return i.cmdLineKV
}

// ParseCmdLine splits a kernel command line into key-value pairs.
func ParseCmdLine(cmdLine string) map[string]string {
	kv := make(map[string]string)
	for _, pair := range strings.Fields(cmdLine) {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			// nofoo
			kv[key] = key
			continue
		}
		kv[key] = value
	}
	return kv
}

// cString returns the contents of a NULL-terminated string.
func cString(b []byte) string {
	for idx, c := range b {
		if c == 0 {
			return string(b[:idx])
		}
	}
	return string(b)
}
