package minifile_test

import (
	"io"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/disk"
	"github.com/joeycumines/minikernel/minifile"
)

func newFS(t *testing.T, blocks uint64) *minifile.FS {
	t.Helper()
	d := disk.New(disk.NewMemBackend(int(blocks)), int(blocks), 1)
	t.Cleanup(func() { d.Shutdown() })
	fs, err := minifile.Mkfs(d, blocks)
	require.NoError(t, err)
	return fs
}

// TestFileRoundTrip covers property 11: write/close/open/read yields the
// original bytes.
func TestFileRoundTrip(t *testing.T) {
	fs := newFS(t, 256)

	f, err := fs.Creat("/hello", minifile.RootInode)
	require.NoError(t, err)

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i % 251)
	}
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())

	f2, err := fs.Open("/hello", "r", minifile.RootInode)
	require.NoError(t, err)
	out := make([]byte, len(data))
	read := 0
	for read < len(out) {
		n, err := f2.Read(out[read:])
		read += n
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	require.Equal(t, data, out)
	require.NoError(t, f2.Close())
}

// TestFileRoundTripAcrossIndirectBlocks pushes the write past the 11
// direct blocks into single-indirect territory.
func TestFileRoundTripAcrossIndirectBlocks(t *testing.T) {
	fs := newFS(t, 4096)

	f, err := fs.Creat("/big", minifile.RootInode)
	require.NoError(t, err)

	size := (minifile.DirectBlocks + 5) * minifile.BlockSize
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i & 0x7f)
	}
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := fs.Open("/big", "r", minifile.RootInode)
	require.NoError(t, err)
	out := make([]byte, size)
	read := 0
	for read < len(out) {
		n, err := f2.Read(out[read:])
		read += n
		if err != nil {
			break
		}
	}
	require.Equal(t, data, out)
	require.NoError(t, f2.Close())
}

// TestDirectoryInvariants covers property 12.
func TestDirectoryInvariants(t *testing.T) {
	fs := newFS(t, 256)

	require.NoError(t, fs.Mkdir("/a", minifile.RootInode))
	aInode, err := fs.Stat("/a", minifile.RootInode)
	require.ErrorIs(t, err, minifile.ErrIsDirectory)
	_ = aInode

	require.NoError(t, fs.Mkdir("/a/b", minifile.RootInode))

	entries, err := fs.Ls("/a", minifile.RootInode)
	require.NoError(t, err)
	require.Contains(t, entries, "b")

	// rmdir refuses while "b" exists.
	require.ErrorIs(t, fs.Rmdir("/a", minifile.RootInode), minifile.ErrNotEmpty)

	require.NoError(t, fs.Rmdir("/a/b", minifile.RootInode))
	require.NoError(t, fs.Rmdir("/a", minifile.RootInode))

	require.ErrorIs(t, fs.Rmdir("/", minifile.RootInode), minifile.ErrIsRoot)
}

// TestDirectoryTreeMatchesExpectedLayout builds a small nested directory
// tree and diffs every level's listing against the expected layout with
// godebug/pretty, rather than require.Equal map-by-map, so a mismatch
// reports a readable expected-vs-actual tree diff instead of two opaque
// map dumps.
func TestDirectoryTreeMatchesExpectedLayout(t *testing.T) {
	fs := newFS(t, 256)

	require.NoError(t, fs.Mkdir("/a", minifile.RootInode))
	require.NoError(t, fs.Mkdir("/a/b", minifile.RootInode))
	require.NoError(t, fs.Mkdir("/a/c", minifile.RootInode))
	f, err := fs.Creat("/a/b/file.txt", minifile.RootInode)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	actual := map[string][]string{}
	for _, dir := range []string{"/", "/a", "/a/b", "/a/c"} {
		entries, err := fs.Ls(dir, minifile.RootInode)
		require.NoError(t, err)
		actual[dir] = entries
	}

	expected := map[string][]string{
		"/":    {"a"},
		"/a":   {"b", "c"},
		"/a/b": {"file.txt"},
		"/a/c": {},
	}

	if diff := pretty.Compare(expected, actual); diff != "" {
		t.Fatalf("directory tree mismatch (-expected +actual):\n%s", diff)
	}
}

// TestBitmapConsistency covers property 13: free counters always agree
// with the persisted bitmaps across a sequence of alloc/free operations.
func TestBitmapConsistency(t *testing.T) {
	fs := newFS(t, 256)

	check := func() {
		free, err := fs.CountZeroBlockBits()
		require.NoError(t, err)
		require.Equal(t, int(fs.FreeBlocks()), free)

		freeI, err := fs.CountZeroInodeBits()
		require.NoError(t, err)
		require.Equal(t, int(fs.FreeInodes()), freeI)
	}
	check()

	require.NoError(t, fs.Mkdir("/a", minifile.RootInode))
	check()

	f, err := fs.Creat("/a/f1", minifile.RootInode)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, minifile.BlockSize*3))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	check()

	require.NoError(t, fs.Unlink("/a/f1", minifile.RootInode))
	check()

	require.NoError(t, fs.Rmdir("/a", minifile.RootInode))
	check()
}

// TestStatMissing checks that Stat on a path that does not exist returns
// ErrNotFound.
func TestStatMissing(t *testing.T) {
	fs := newFS(t, 64)
	_, err := fs.Stat("/nope", minifile.RootInode)
	require.ErrorIs(t, err, minifile.ErrNotFound)
}

func TestOpenModes(t *testing.T) {
	fs := newFS(t, 256)

	f, err := fs.Creat("/f", minifile.RootInode)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// "a" appends.
	fa, err := fs.Open("/f", "a", minifile.RootInode)
	require.NoError(t, err)
	_, err = fa.Write([]byte(" world"))
	require.NoError(t, err)
	require.NoError(t, fa.Close())

	fr, err := fs.Open("/f", "r", minifile.RootInode)
	require.NoError(t, err)
	out := make([]byte, 32)
	n, err := fr.Read(out)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out[:n]))
	require.NoError(t, fr.Close())

	// "w" truncates.
	fw, err := fs.Open("/f", "w", minifile.RootInode)
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	size, err := fs.Stat("/f", minifile.RootInode)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
}
