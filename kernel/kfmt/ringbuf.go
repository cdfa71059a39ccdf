package kfmt

import "io"

// ringBufferSize is large enough to hold a full 80x25 text screen worth of
// early boot output. It must be a power of 2.
const ringBufferSize = 2048

// ringBuffer captures Printf output before an output sink is registered.
// When full, new writes overwrite the oldest bytes.
type ringBuffer struct {
	buffer         [ringBufferSize]byte
	rIndex, wIndex int
}

func wrap(index int) int {
	return index & (ringBufferSize - 1)
}

// Write implements io.Writer. It never fails.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = wrap(rb.wIndex + 1)

		// drop the oldest byte when the writer catches up with the reader
		if rb.wIndex == rb.rIndex {
			rb.rIndex = wrap(rb.rIndex + 1)
		}
	}

	return len(p), nil
}

// Read implements io.Reader. It returns io.EOF once all buffered data has
// been consumed.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.rIndex == rb.wIndex {
		return 0, io.EOF
	}

	// Read up to the write index or, if the data wraps around, up to the
	// end of the backing array; the next Read picks up the rest.
	limit := rb.wIndex
	if rb.rIndex > rb.wIndex {
		limit = len(rb.buffer)
	}

	n := copy(p, rb.buffer[rb.rIndex:limit])
	rb.rIndex = wrap(rb.rIndex + n)
	return n, nil
}
