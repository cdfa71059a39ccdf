package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	expStr := "[area_frame_alloc] system memory map:"

	specs := []struct {
		descr          string
		rIndex, wIndex int
	}{
		{"empty buffer", 0, 0},
		{"data wraps around the buffer end", ringBufferSize - 2, ringBufferSize - 2},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			var rb ringBuffer
			rb.rIndex, rb.wIndex = spec.rIndex, spec.wIndex

			n, err := rb.Write([]byte(expStr))
			if err != nil {
				t.Fatal(err)
			}

			if n != len(expStr) {
				t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
			}

			if got := readByteByByte(&rb); got != expStr {
				t.Fatalf("expected to read %q; got %q", expStr, got)
			}
		})
	}

	t.Run("write moves read pointer", func(t *testing.T) {
		var rb ringBuffer
		rb.wIndex = ringBufferSize - 1
		if _, err := rb.Write([]byte{'!'}); err != nil {
			t.Fatal(err)
		}

		if exp := 1; rb.rIndex != exp {
			t.Fatalf("expected write to push rIndex to %d; got %d", exp, rb.rIndex)
		}
	})

	t.Run("drain with io.Copy", func(t *testing.T) {
		var rb ringBuffer
		rb.rIndex, rb.wIndex = ringBufferSize-2, ringBufferSize-2
		_, _ = rb.Write([]byte(expStr))

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, &rb); err != nil {
			t.Fatal(err)
		}

		if got := buf.String(); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})
}

func readByteByByte(r io.Reader) string {
	var (
		buf bytes.Buffer
		b   = make([]byte, 1)
	)

	for {
		if _, err := r.Read(b); err == io.EOF {
			break
		}
		buf.Write(b)
	}
	return buf.String()
}
