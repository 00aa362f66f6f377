package multiboot

import "encoding/binary"

// Builder assembles a multiboot2 information block. It is used by host
// tooling to describe emulated machines in the same format the boot loader
// provides.
type Builder struct {
	CmdLine        string
	BootLoaderName string
	Regions        []MemoryMapEntry
}

// Bytes returns the encoded information block.
func (b *Builder) Bytes() []byte {
	data := make([]byte, infoHeaderSize)

	if b.CmdLine != "" {
		data = appendStringTag(data, tagBootCmdLine, b.CmdLine)
	}
	if b.BootLoaderName != "" {
		data = appendStringTag(data, tagBootLoaderName, b.BootLoaderName)
	}

	if len(b.Regions) != 0 {
		const entrySize = 24
		data = appendTagHeader(data, tagMemoryMap, tagHeaderSize+mmapHeaderSize+entrySize*len(b.Regions))
		data = binary.LittleEndian.AppendUint32(data, entrySize)
		data = binary.LittleEndian.AppendUint32(data, 0)
		for _, r := range b.Regions {
			data = binary.LittleEndian.AppendUint64(data, r.PhysAddress)
			data = binary.LittleEndian.AppendUint64(data, r.Length)
			data = binary.LittleEndian.AppendUint32(data, uint32(r.Type))
			data = binary.LittleEndian.AppendUint32(data, 0)
		}
		data = pad8(data)
	}

	data = appendTagHeader(data, tagMbSectionEnd, tagHeaderSize)
	binary.LittleEndian.PutUint32(data, uint32(len(data)))
	return data
}

// Info returns the encoded block wrapped in an Info.
func (b *Builder) Info() *Info {
	return &Info{data: b.Bytes()}
}

func appendTagHeader(data []byte, t tagType, size int) []byte {
	data = binary.LittleEndian.AppendUint32(data, uint32(t))
	return binary.LittleEndian.AppendUint32(data, uint32(size))
}

func appendStringTag(data []byte, t tagType, s string) []byte {
	data = appendTagHeader(data, t, tagHeaderSize+len(s)+1)
	data = append(data, s...)
	return pad8(append(data, 0))
}

func pad8(data []byte) []byte {
	for len(data)%8 != 0 {
		data = append(data, 0)
	}
	return data
}
