package blockdev_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devices(t *testing.T, sectorCount uint32) map[string]blockdev.Device {
	t.Helper()
	fd, err := blockdev.CreateFileDevice(filepath.Join(t.TempDir(), "disk.img"), sectorCount)
	require.NoError(t, err)
	t.Cleanup(func() { fd.Close() })
	return map[string]blockdev.Device{
		"mem":  blockdev.NewMemDevice(sectorCount),
		"file": fd,
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	for name, dev := range devices(t, 4) {
		t.Run(name, func(t *testing.T) {
			want := bytes.Repeat([]byte{0xAB}, blockdev.SectorSize)
			require.NoError(t, dev.WriteSector(2, want))

			got := make([]byte, blockdev.SectorSize)
			require.NoError(t, dev.ReadSector(2, got))
			assert.Equal(t, want, got)

			other := make([]byte, blockdev.SectorSize)
			require.NoError(t, dev.ReadSector(0, other))
			assert.NotEqual(t, want, other)
		})
	}
}

func TestSectorCount(t *testing.T) {
	for name, dev := range devices(t, 7) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, uint32(7), dev.SectorCount())
		})
	}
}

func TestOutOfRangeSector(t *testing.T) {
	for name, dev := range devices(t, 2) {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, blockdev.SectorSize)
			assert.Error(t, dev.ReadSector(2, buf))
			assert.Error(t, dev.WriteSector(99, buf))
		})
	}
}

func TestWrongBufferSize(t *testing.T) {
	for name, dev := range devices(t, 2) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, dev.ReadSector(0, make([]byte, 10)))
			assert.Error(t, dev.WriteSector(0, make([]byte, blockdev.SectorSize+1)))
		})
	}
}

func TestOpenFileDevicePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fd, err := blockdev.CreateFileDevice(path, 3)
	require.NoError(t, err)
	want := bytes.Repeat([]byte{0x42}, blockdev.SectorSize)
	require.NoError(t, fd.WriteSector(1, want))
	require.NoError(t, fd.Close())

	reopened, err := blockdev.OpenFileDevice(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint32(3), reopened.SectorCount())

	got := make([]byte, blockdev.SectorSize)
	require.NoError(t, reopened.ReadSector(1, got))
	assert.Equal(t, want, got)
}
