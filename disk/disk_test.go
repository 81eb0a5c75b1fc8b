package disk_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/disk"
)

func TestReadWriteRoundTrip(t *testing.T) {
	d := disk.New(disk.NewMemBackend(8), 8, 1)
	defer d.Shutdown()

	buf := bytes.Repeat([]byte{0x42}, disk.BlockSize)
	require.Equal(t, disk.OK, d.WriteBlock(3, buf))

	out := make([]byte, disk.BlockSize)
	require.Equal(t, disk.OK, d.ReadBlock(3, out))
	require.Equal(t, buf, out)
}

func TestOutOfRangeBlockIsError(t *testing.T) {
	d := disk.New(disk.NewMemBackend(4), 4, 2)
	defer d.Shutdown()

	buf := make([]byte, disk.BlockSize)
	require.Equal(t, disk.Error, d.ReadBlock(99, buf))
}

func TestCrashRequiresReset(t *testing.T) {
	d := disk.New(disk.NewMemBackend(4), 4, 3)
	d.CrashRate = 1.0
	defer d.Shutdown()

	buf := make([]byte, disk.BlockSize)
	require.Equal(t, disk.Crashed, d.WriteBlock(0, buf))
	require.Equal(t, disk.Crashed, d.WriteBlock(1, buf))

	d.CrashRate = 0
	require.Equal(t, disk.OK, d.Reset())
	require.Equal(t, disk.OK, d.WriteBlock(1, buf))
}

func TestFailureRateDoesNotCorruptState(t *testing.T) {
	d := disk.New(disk.NewMemBackend(2), 2, 4)
	d.FailureRate = 1.0
	defer d.Shutdown()

	buf := bytes.Repeat([]byte{0x7}, disk.BlockSize)
	require.Equal(t, disk.Failed, d.WriteBlock(0, buf))

	d.FailureRate = 0
	require.Equal(t, disk.OK, d.WriteBlock(0, buf))
	out := make([]byte, disk.BlockSize)
	require.Equal(t, disk.OK, d.ReadBlock(0, out))
	require.Equal(t, buf, out)
}

func TestFileBackendPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minidisk")
	backend, err := disk.OpenFileBackend(path, 4)
	require.NoError(t, err)

	d := disk.New(backend, 4, 5)
	buf := bytes.Repeat([]byte{0x9}, disk.BlockSize)
	require.Equal(t, disk.OK, d.WriteBlock(2, buf))
	require.Equal(t, disk.OK, d.Shutdown())
	require.NoError(t, backend.Close())

	backend2, err := disk.OpenFileBackend(path, 4)
	require.NoError(t, err)
	defer backend2.Close()
	d2 := disk.New(backend2, 4, 6)
	defer d2.Shutdown()

	out := make([]byte, disk.BlockSize)
	require.Equal(t, disk.OK, d2.ReadBlock(2, out))
	require.Equal(t, buf, out)
}
