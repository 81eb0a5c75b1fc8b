package bufcache_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/bufcache"
	"github.com/joeycumines/minikernel/disk"
)

func TestBreadBwriteRoundTrip(t *testing.T) {
	d := disk.New(disk.NewMemBackend(4), 4, 1)
	defer d.Shutdown()
	c := bufcache.New(d)

	buf, err := c.Bread(1)
	require.NoError(t, err)
	require.Equal(t, disk.BlockSize, len(buf.Data))

	copy(buf.Data, bytes.Repeat([]byte{0x55}, disk.BlockSize))
	require.NoError(t, c.Bwrite(buf))

	buf2, err := c.Bread(1)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0x55}, disk.BlockSize), buf2.Data)
	c.Brelse(buf2)
}

func TestBreadOutOfRange(t *testing.T) {
	d := disk.New(disk.NewMemBackend(2), 2, 2)
	defer d.Shutdown()
	c := bufcache.New(d)

	_, err := c.Bread(99)
	require.ErrorIs(t, err, bufcache.ErrBlockRange)
}

func TestFailureSurfacesAsError(t *testing.T) {
	d := disk.New(disk.NewMemBackend(2), 2, 3)
	d.FailureRate = 1.0
	defer d.Shutdown()
	c := bufcache.New(d)

	_, err := c.Bread(0)
	require.ErrorIs(t, err, bufcache.ErrFailed)
}
