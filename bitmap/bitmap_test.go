package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/bitmap"
)

func TestSetClearGet(t *testing.T) {
	b := bitmap.New(17)
	require.False(t, b.Get(3))
	b.Set(3)
	require.True(t, b.Get(3))
	b.Clear(3)
	require.False(t, b.Get(3))
	// Idempotent clear.
	b.Clear(3)
	require.False(t, b.Get(3))
}

func TestNextZeroAndCountZero(t *testing.T) {
	b := bitmap.New(10)
	require.Equal(t, 10, b.CountZero())
	for i := 0; i < 10; i++ {
		require.Equal(t, i, b.NextZero())
		b.Set(i)
	}
	require.Equal(t, -1, b.NextZero())
	require.Equal(t, 0, b.CountZero())

	b.Clear(4)
	require.Equal(t, 4, b.NextZero())
	require.Equal(t, 1, b.CountZero())
}

func TestConsistencyUnderRandomSequence(t *testing.T) {
	b := bitmap.New(64)
	shadow := make(map[int]bool)

	ops := []int{5, 5, 12, 12, 0, 63, 1, 1, 2, 2, 2}
	for _, bit := range ops {
		if shadow[bit] {
			b.Clear(bit)
			delete(shadow, bit)
		} else {
			b.Set(bit)
			shadow[bit] = true
		}
		free := 64 - len(shadow)
		require.Equal(t, free, b.CountZero())
	}
}
