package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/ringbuf"
)

func TestPushEvictsOldest(t *testing.T) {
	r := ringbuf.New[uint64](4)
	for i := uint64(1); i <= 6; i++ {
		r.Push(i)
	}
	require.Equal(t, 4, r.Len())
	require.Equal(t, []uint64{3, 4, 5, 6}, r.Slice())
}

func TestPushWithinCapacity(t *testing.T) {
	r := ringbuf.New[uint64](4)
	r.Push(10)
	r.Push(20)
	require.Equal(t, 2, r.Len())
	require.Equal(t, uint64(10), r.Get(0))
	require.Equal(t, uint64(20), r.Get(1))
}
