package spiffs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankImage(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = 0xFF
	}
	binary.LittleEndian.PutUint32(data[0:4], magic)
	return data
}

func TestMount_BadMagic(t *testing.T) {
	data := make([]byte, 256)
	_, err := Mount(data, DesktopSizes)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestWriteReadRoundTrip(t *testing.T) {
	img, err := Mount(blankImage(64*1024), DesktopSizes)
	require.NoError(t, err)
	img.Write("/hello.txt", []byte("hi"))

	serialized := img.ToImage()
	remounted, err := Mount(serialized, DesktopSizes)
	require.NoError(t, err)

	got, err := remounted.Read("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), got)
}

func TestMkdir_NotSupported(t *testing.T) {
	img, err := Mount(blankImage(64*1024), DesktopSizes)
	require.NoError(t, err)
	assert.ErrorIs(t, img.Mkdir("/dir"), ErrNotSupported)
}

func TestDelete(t *testing.T) {
	img, err := Mount(blankImage(64*1024), DesktopSizes)
	require.NoError(t, err)
	img.Write("/a", []byte("x"))
	require.NoError(t, img.Delete("/a"))

	_, err = img.Read("/a")
	assert.ErrorIs(t, err, ErrNotFound)
}
