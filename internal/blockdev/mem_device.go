package blockdev

import "sync"

// MemDevice is an in-memory Device, used as a fake in tests that would
// otherwise need a real disk image.
type MemDevice struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemDevice creates a zero-filled in-memory device with sectorCount
// sectors.
func NewMemDevice(sectorCount uint32) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, sectorCount)}
}

func (d *MemDevice) ReadSector(n uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkSector(n, uint32(len(d.sectors))); err != nil {
		return err
	}
	copy(buf, d.sectors[n][:])
	return nil
}

func (d *MemDevice) WriteSector(n uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := checkSector(n, uint32(len(d.sectors))); err != nil {
		return err
	}
	copy(d.sectors[n][:], buf)
	return nil
}

func (d *MemDevice) SectorCount() uint32 { return uint32(len(d.sectors)) }

func (d *MemDevice) Close() error { return nil }
