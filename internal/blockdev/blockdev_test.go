package blockdev

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeviceRoundTrip(t *testing.T) {
	dev, err := NewFileDevice(t.TempDir())
	require.NoError(t, err)
	defer dev.Close()

	require.NoError(t, dev.WritePage(1, []byte("hello")))
	require.NoError(t, dev.WritePage(2, []byte("world")))

	got, err := dev.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	got, err = dev.ReadPage(2)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	// Overwrite is atomic: readers never see a torn page.
	require.NoError(t, dev.WritePage(1, []byte("updated")))

	got, err = dev.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, "updated", string(got))
}

func TestFileDeviceReadMissingPage(t *testing.T) {
	dev, err := NewFileDevice(t.TempDir())
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.ReadPage(99)
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadFixedPageRejectsShortPage(t *testing.T) {
	dev := NewMemDevice()

	require.NoError(t, dev.WritePage(1, []byte("short")))

	_, err := ReadFixedPage(dev, 1, 64)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestReadFixedPageAcceptsExactOrLongerPage(t *testing.T) {
	dev := NewMemDevice()

	require.NoError(t, dev.WritePage(1, make([]byte, 64)))

	got, err := ReadFixedPage(dev, 1, 64)
	require.NoError(t, err)
	assert.Len(t, got, 64)
}

func TestMemDeviceFailInjection(t *testing.T) {
	dev := NewMemDevice()

	boom := assert.AnError
	dev.FailNextWrites(2, boom)

	assert.ErrorIs(t, dev.WritePage(1, []byte("a")), boom)
	assert.ErrorIs(t, dev.WritePage(1, []byte("a")), boom)
	assert.NoError(t, dev.WritePage(1, []byte("a")))

	got, err := dev.ReadPage(1)
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))
}
