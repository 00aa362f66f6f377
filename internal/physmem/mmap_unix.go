//go:build unix

package physmem

import (
	"golang.org/x/sys/unix"
)

// mapAnon returns size bytes of zeroed private memory.
func mapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}
