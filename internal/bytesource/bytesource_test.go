package bytesource

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "vma-bytesource-*")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestReadAdvancesCursorAndCounter(t *testing.T) {
	path := writeTempFile(t, []byte("0123456789"))
	var read int64
	bs, err := Open(path, &read)
	require.NoError(t, err)
	defer bs.Close()

	chunk, err := bs.Read(4)
	require.NoError(t, err)
	require.Equal(t, []byte("0123"), chunk)
	require.EqualValues(t, 4, bs.Cursor())
	require.EqualValues(t, 4, read)

	chunk, err = bs.Read(4)
	require.NoError(t, err)
	require.Equal(t, []byte("4567"), chunk)
	require.EqualValues(t, 8, bs.Cursor())
}

func TestReadPastEOFIsUnexpectedEof(t *testing.T) {
	path := writeTempFile(t, []byte("short"))
	bs, err := Open(path, nil)
	require.NoError(t, err)
	defer bs.Close()

	_, err = bs.Read(100)
	require.ErrorIs(t, err, ErrUnexpectedEof)
}

func TestReadAtDoesNotMoveCursor(t *testing.T) {
	path := writeTempFile(t, []byte("abcdefgh"))
	bs, err := Open(path, nil)
	require.NoError(t, err)
	defer bs.Close()

	buf := make([]byte, 3)
	require.NoError(t, bs.ReadAt(buf, 2))
	require.Equal(t, []byte("cde"), buf)
	require.EqualValues(t, 0, bs.Cursor())
}

func TestAtEOF(t *testing.T) {
	path := writeTempFile(t, []byte("ab"))
	bs, err := Open(path, nil)
	require.NoError(t, err)
	defer bs.Close()

	eof, err := bs.AtEOF()
	require.NoError(t, err)
	require.False(t, eof)

	_, err = bs.Read(2)
	require.NoError(t, err)

	eof, err = bs.AtEOF()
	require.NoError(t, err)
	require.True(t, eof)
}
