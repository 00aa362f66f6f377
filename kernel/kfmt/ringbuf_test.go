package kfmt

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf    bytes.Buffer
		record = "level=info module=pmm msg=\"seeded free stack\"\n"
		rb     ringBuffer
	)

	t.Run("read/write", func(t *testing.T) {
		rb.Reset()
		n, err := rb.Write([]byte(record))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(record) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(record), n)
		}

		if exp, got := len(record), rb.Len(); got != exp {
			t.Fatalf("expected Len() to return %d; got %d", exp, got)
		}

		if got := readByteByByte(&buf, &rb); got != record {
			t.Fatalf("expected to read %q; got %q", record, got)
		}
	})

	t.Run("holds exactly earlyLogSize bytes", func(t *testing.T) {
		rb.Reset()
		full := strings.Repeat("x", earlyLogSize)
		_, _ = rb.Write([]byte(full))

		if exp, got := earlyLogSize, rb.Len(); got != exp {
			t.Fatalf("expected Len() to return %d; got %d", exp, got)
		}
		if got := rb.Dropped(); got != 0 {
			t.Fatalf("expected no dropped bytes; got %d", got)
		}
	})

	t.Run("overflow evicts oldest bytes", func(t *testing.T) {
		rb.Reset()
		_, _ = rb.Write([]byte(strings.Repeat("a", earlyLogSize-2)))
		_, _ = rb.Write([]byte(record))

		if exp, got := uint64(len(record)-2), rb.Dropped(); got != exp {
			t.Fatalf("expected %d dropped bytes; got %d", exp, got)
		}

		got := readByteByByte(&buf, &rb)
		if exp := earlyLogSize; len(got) != exp {
			t.Fatalf("expected to read %d bytes; got %d", exp, len(got))
		}
		if !strings.HasSuffix(got, record) {
			t.Fatalf("expected newest record at the tail; got %q", got[len(got)-len(record):])
		}
	})

	t.Run("with io.Copy across the wrap point", func(t *testing.T) {
		rb.Reset()
		rb.head = earlyLogSize - 4
		n, err := rb.Write([]byte(record))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(record) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(record), n)
		}

		buf.Reset()
		_, _ = io.Copy(&buf, &rb)

		if got := buf.String(); got != record {
			t.Fatalf("expected to read %q; got %q", record, got)
		}

		if got := rb.Len(); got != 0 {
			t.Fatalf("expected drained buffer to report Len() 0; got %d", got)
		}
	})
}

func readByteByByte(buf *bytes.Buffer, r io.Reader) string {
	buf.Reset()
	var b = make([]byte, 1)
	for {
		_, err := r.Read(b)
		if err == io.EOF {
			break
		}
		buf.Write(b)
	}
	return buf.String()
}
