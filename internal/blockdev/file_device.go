package blockdev

import (
	"fmt"
	"os"
	"sync"
)

// FileDevice is a Device backed by a regular file, used for on-disk disk
// images and the swap file. Sector i occupies bytes [i*SectorSize,
// (i+1)*SectorSize) of the underlying file.
type FileDevice struct {
	mu      sync.Mutex
	f       *os.File
	sectors uint32
}

// CreateFileDevice creates (or truncates) a disk image at path sized to hold
// sectorCount sectors, all zero-filled.
func CreateFileDevice(path string, sectorCount uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %q: %w", path, err)
	}
	if err := f.Truncate(int64(sectorCount) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %q: %w", path, err)
	}
	return &FileDevice{f: f, sectors: sectorCount}, nil
}

// OpenFileDevice opens an existing disk image, inferring its sector count
// from the file size.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %q: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %q: %w", path, err)
	}
	if fi.Size()%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("blockdev: %q size %d is not a multiple of sector size", path, fi.Size())
	}
	return &FileDevice{f: f, sectors: uint32(fi.Size() / SectorSize)}, nil
}

func (d *FileDevice) ReadSector(n uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	if err := checkSector(n, d.sectors); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(buf, int64(n)*SectorSize)
	return err
}

func (d *FileDevice) WriteSector(n uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	if err := checkSector(n, d.sectors); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.WriteAt(buf, int64(n)*SectorSize)
	return err
}

func (d *FileDevice) SectorCount() uint32 { return d.sectors }

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
