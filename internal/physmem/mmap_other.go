//go:build !unix

package physmem

func mapAnon(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmap([]byte) error { return nil }
