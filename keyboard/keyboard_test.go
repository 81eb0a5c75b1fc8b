package keyboard_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/minikernel/keyboard"
)

func TestReadLineSequence(t *testing.T) {
	d := keyboard.New(strings.NewReader("first\nsecond\nthird\n"))

	for _, want := range []string{"first", "second", "third"} {
		got, err := d.ReadLine()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := d.ReadLine()
	require.ErrorIs(t, err, io.EOF)

	// EOF is sticky: further reads keep returning it rather than blocking.
	_, err = d.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestClose(t *testing.T) {
	r, w := io.Pipe()
	d := keyboard.New(r)
	d.Close()
	_, err := d.ReadLine()
	require.ErrorIs(t, err, keyboard.ErrClosed)
	w.Close()
}
