// Package freemap implements the free-sector bitmap described in spec
// §4.2: a persistent allocation map for the sectors of the filesystem
// device, loaded whole into memory at boot and written back at shutdown.
package freemap

import (
	"fmt"
	"sync"

	"github.com/eduos/corekernel/internal/blockdev"
)

// Map tracks which sectors of a device are free, backed by a bitmap that
// is itself stored on the device starting at a fixed sector.
type Map struct {
	mu       sync.Mutex
	bits     []bool
	dirty    bool
	dev      blockdev.Device
	atSector uint32
	sectors  uint32 // number of sectors the bitmap itself occupies on disk
}

const bitsPerSector = blockdev.SectorSize * 8

// bitmapSectors returns how many on-disk sectors are needed to store a
// bitmap covering n bits.
func bitmapSectors(n uint32) uint32 {
	return (n + bitsPerSector - 1) / bitsPerSector
}

// Create initializes a fresh free-sector map covering totalSectors sectors
// of dev, with the bitmap's own on-disk sectors (starting at atSector)
// marked as in-use. It must be flushed with Close before it is useful
// across a reboot.
func Create(dev blockdev.Device, atSector, totalSectors uint32) (*Map, error) {
	m := &Map{
		bits:     make([]bool, totalSectors),
		dev:      dev,
		atSector: atSector,
		sectors:  bitmapSectors(totalSectors),
	}
	for s := atSector; s < atSector+m.sectors; s++ {
		if s < totalSectors {
			m.bits[s] = true
		}
	}
	m.dirty = true
	return m, nil
}

// Open loads a previously persisted free-sector map from dev.
func Open(dev blockdev.Device, atSector, totalSectors uint32) (*Map, error) {
	m := &Map{
		bits:     make([]bool, totalSectors),
		dev:      dev,
		atSector: atSector,
		sectors:  bitmapSectors(totalSectors),
	}

	buf := make([]byte, blockdev.SectorSize)
	bit := uint32(0)
	for s := uint32(0); s < m.sectors; s++ {
		if err := dev.ReadSector(atSector+s, buf); err != nil {
			return nil, fmt.Errorf("freemap: loading bitmap sector %d: %w", s, err)
		}
		for _, b := range buf {
			for bitIdx := 0; bitIdx < 8; bitIdx++ {
				if bit >= totalSectors {
					break
				}
				m.bits[bit] = b&(1<<uint(bitIdx)) != 0
				bit++
			}
		}
	}
	return m, nil
}

// Allocate finds n consecutive free sectors, marks them in-use, and
// returns the index of the first one. Returns an error if no such run
// exists, matching the original's "disk is full" condition.
func (m *Map) Allocate(n uint32) (uint32, error) {
	if n == 0 {
		return 0, fmt.Errorf("freemap: cannot allocate zero sectors")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < uint32(len(m.bits)); i++ {
		if m.bits[i] {
			run = 0
			continue
		}
		if run == 0 {
			start = i
		}
		run++
		if run == n {
			for j := start; j < start+n; j++ {
				m.bits[j] = true
			}
			m.dirty = true
			return start, nil
		}
	}
	return 0, fmt.Errorf("freemap: no run of %d free sectors available", n)
}

// Release marks n sectors starting at sector as free again.
func (m *Map) Release(sector, n uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sector+n > uint32(len(m.bits)) {
		return fmt.Errorf("freemap: release range [%d,%d) out of bounds", sector, sector+n)
	}
	for j := sector; j < sector+n; j++ {
		if !m.bits[j] {
			return fmt.Errorf("freemap: sector %d already free", j)
		}
		m.bits[j] = false
	}
	m.dirty = true
	return nil
}

// FreeCount returns the number of currently free sectors.
func (m *Map) FreeCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n uint32
	for _, b := range m.bits {
		if !b {
			n++
		}
	}
	return n
}

// Flush writes the bitmap back to its reserved sectors on the device, if
// it has changed since the last flush.
func (m *Map) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}

	buf := make([]byte, blockdev.SectorSize)
	bit := uint32(0)
	for s := uint32(0); s < m.sectors; s++ {
		for i := range buf {
			buf[i] = 0
		}
		for byteIdx := 0; byteIdx < blockdev.SectorSize && bit < uint32(len(m.bits)); byteIdx++ {
			var b byte
			for bitIdx := 0; bitIdx < 8 && bit < uint32(len(m.bits)); bitIdx++ {
				if m.bits[bit] {
					b |= 1 << uint(bitIdx)
				}
				bit++
			}
			buf[byteIdx] = b
		}
		if err := m.dev.WriteSector(m.atSector+s, buf); err != nil {
			return fmt.Errorf("freemap: writing bitmap sector %d: %w", s, err)
		}
	}
	m.dirty = false
	return nil
}

// Close flushes the bitmap to disk.
func (m *Map) Close() error {
	return m.Flush()
}
