// Package extent maps byte positions in a file onto fixed size blocks.
package extent

// Chunk describes the largest contiguous piece of a request that fits
// inside a single block: the logical block it lands in, the offset
// inside that block and how many bytes of the request belong there.
// Index stays in uint64: a byte position near the top of the int64
// file offset range maps to a logical block past uint32, and narrowing
// it here would alias such a position onto a low block. Callers bound
// it against their block map capacity before narrowing.
type Chunk struct {
	Index  uint64
	Offset uint32
	Len    int
}

// Next computes the chunk starting at pos for a request with remaining
// bytes left. It is called once per transfer loop iteration with the
// current position, never precomputed for the whole request.
func Next(pos uint64, remaining int, blockSize uint32) Chunk {
	bs := uint64(blockSize)
	off := uint32(pos % bs)
	l := int(bs) - int(off)
	if l > remaining {
		l = remaining
	}
	return Chunk{
		Index:  pos / bs,
		Offset: off,
		Len:    l,
	}
}
