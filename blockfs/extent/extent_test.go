package extent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext(t *testing.T) {
	cases := []struct {
		name      string
		pos       uint64
		remaining int
		want      Chunk
	}{
		{"start of file", 0, 100, Chunk{Index: 0, Offset: 0, Len: 100}},
		{"full block", 0, 4096, Chunk{Index: 0, Offset: 0, Len: 4096}},
		{"request larger than block", 0, 5000, Chunk{Index: 0, Offset: 0, Len: 4096}},
		{"mid block", 4000, 200, Chunk{Index: 0, Offset: 4000, Len: 96}},
		{"second block", 4096, 904, Chunk{Index: 1, Offset: 0, Len: 904}},
		{"last byte of block", 4095, 2, Chunk{Index: 0, Offset: 4095, Len: 1}},
		{"deep offset", 3*4096 + 17, 10, Chunk{Index: 3, Offset: 17, Len: 10}},
		{"index past uint32", (1 << 32) * 4096, 7, Chunk{Index: 1 << 32, Offset: 0, Len: 7}},
		{"index past uint32 mid block", (1<<32)*4096 + 4000, 200, Chunk{Index: 1 << 32, Offset: 4000, Len: 96}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Next(tc.pos, tc.remaining, 4096))
		})
	}
}

func TestNextCoversRequest(t *testing.T) {
	// Walking a request chunk by chunk must cover every byte exactly once.
	pos := uint64(4000)
	remaining := 10000
	covered := 0
	for remaining > 0 {
		c := Next(pos, remaining, 4096)
		assert.Greater(t, c.Len, 0)
		assert.LessOrEqual(t, int(c.Offset)+c.Len, 4096)
		pos += uint64(c.Len)
		remaining -= c.Len
		covered += c.Len
	}
	assert.Equal(t, 10000, covered)
}
