// Package machine describes emulated machines for host tooling. A profile
// lists the memory map and boot command line that a boot loader would hand
// to the kernel and is stored as YAML.
package machine

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"kobzar/kernel/mm"
	"kobzar/multiboot"
)

// Address is a physical address or length. In YAML it may be written as a
// decimal or 0x-prefixed number, optionally followed by one of the K, M or G
// suffixes (e.g. 128M).
type Address uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expected a scalar address", value.Line)
	}

	v, err := ParseAddress(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*a = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Address) MarshalYAML() (interface{}, error) {
	return "0x" + strconv.FormatUint(uint64(a), 16), nil
}

// ParseAddress parses a number with an optional K, M or G suffix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)

	shift := 0
	switch {
	case strings.HasSuffix(s, "K"):
		shift = 10
	case strings.HasSuffix(s, "M"):
		shift = 20
	case strings.HasSuffix(s, "G"):
		shift = 30
	}
	if shift != 0 {
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid address %q", s)
	}
	if v<<shift>>shift != v {
		return 0, errors.Errorf("address %q overflows", s)
	}
	return Address(v << shift), nil
}

// Region is one entry of the memory map.
type Region struct {
	Base   Address `yaml:"base"`
	Length Address `yaml:"length"`

	// Type is one of available, reserved, acpi or nvs. Defaults to
	// available.
	Type string `yaml:"type,omitempty"`
}

var regionTypes = map[string]multiboot.MemoryEntryType{
	"":          multiboot.MemAvailable,
	"available": multiboot.MemAvailable,
	"reserved":  multiboot.MemReserved,
	"acpi":      multiboot.MemAcpiReclaimable,
	"nvs":       multiboot.MemNvs,
}

// Profile describes an emulated machine.
type Profile struct {
	Name    string   `yaml:"name"`
	CmdLine string   `yaml:"cmdline,omitempty"`
	Regions []Region `yaml:"regions"`
}

// Parse decodes a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decoding machine profile")
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a YAML profile from path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading machine profile")
	}

	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return p, nil
}

func (p *Profile) validate() error {
	if len(p.Regions) == 0 {
		return errors.Errorf("profile %q has no memory regions", p.Name)
	}

	for i, r := range p.Regions {
		if _, ok := regionTypes[r.Type]; !ok {
			return errors.Errorf("region %d: unknown type %q", i, r.Type)
		}
		if r.Length == 0 {
			return errors.Errorf("region %d: zero length", i)
		}
	}
	return nil
}

// Marshal encodes the profile as YAML.
func (p *Profile) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(p)
	return data, errors.Wrap(err, "encoding machine profile")
}

// MemoryMap returns the profile regions as boot loader memory map entries.
func (p *Profile) MemoryMap() []multiboot.MemoryMapEntry {
	entries := make([]multiboot.MemoryMapEntry, 0, len(p.Regions))
	for _, r := range p.Regions {
		entries = append(entries, multiboot.MemoryMapEntry{
			PhysAddress: uint64(r.Base),
			Length:      uint64(r.Length),
			Type:        regionTypes[r.Type],
		})
	}
	return entries
}

// BootInfo returns the multiboot information block that a boot loader would
// pass to the kernel when booting this machine.
func (p *Profile) BootInfo() *multiboot.Info {
	b := &multiboot.Builder{
		CmdLine:        p.CmdLine,
		BootLoaderName: "pmmctl",
		Regions:        p.MemoryMap(),
	}
	return b.Info()
}

// Available returns the total size of the available regions.
func (p *Profile) Available() mm.Size {
	var size mm.Size
	for _, r := range p.Regions {
		if regionTypes[r.Type] == multiboot.MemAvailable {
			size += mm.Size(r.Length)
		}
	}
	return size
}

// QEMU returns the memory map reported by qemu for a machine with 128MiB of
// RAM.
func QEMU() *Profile {
	return &Profile{
		Name: "qemu-128M",
		Regions: []Region{
			{Base: 0, Length: 0x9fc00},
			{Base: 0x9fc00, Length: 0x400, Type: "reserved"},
			{Base: 0xf0000, Length: 0x10000, Type: "reserved"},
			{Base: 0x100000, Length: 0x7ee0000},
			{Base: 0x7fe0000, Length: 0x20000, Type: "reserved"},
			{Base: 0xfffc0000, Length: 0x40000, Type: "reserved"},
		},
	}
}
