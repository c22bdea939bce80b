// Package swap implements the swap area described in spec §4.7: a
// dedicated block device divided into fixed-size slots, each holding one
// evicted page's worth of data, tracked by an in-memory bitmap.
package swap

import (
	"fmt"
	"sync"

	"github.com/eduos/corekernel/internal/blockdev"
)

// SectorsPerSlot is the number of device sectors a single page occupies
// in the swap area (a 4096-byte page over 512-byte sectors).
const SectorsPerSlot = 8

// Area manages allocation of swap slots over a dedicated device.
type Area struct {
	dev  blockdev.Device
	mu   sync.Mutex
	used []bool
}

// Open creates a swap area over dev, whose sector count must be a
// multiple of SectorsPerSlot.
func Open(dev blockdev.Device) (*Area, error) {
	if dev.SectorCount()%SectorsPerSlot != 0 {
		return nil, fmt.Errorf("swap: device sector count %d is not a multiple of %d", dev.SectorCount(), SectorsPerSlot)
	}
	numSlots := dev.SectorCount() / SectorsPerSlot
	return &Area{dev: dev, used: make([]bool, numSlots)}, nil
}

// NumSlots returns the total number of swap slots.
func (a *Area) NumSlots() uint32 { return uint32(len(a.used)) }

// Allocate reserves a free slot and returns its index. Running out of
// swap is a fatal kernel condition, so Allocate panics when every slot is
// in use; its error result is always nil and exists so that *Area
// satisfies page.SwapArea.
func (a *Area) Allocate() (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, used := range a.used {
		if !used {
			a.used[i] = true
			return uint32(i), nil
		}
	}
	panic(fmt.Sprintf("swap: area exhausted (%d slots)", len(a.used)))
}

// Free releases slot for reuse.
func (a *Area) Free(slot uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slot >= uint32(len(a.used)) {
		return fmt.Errorf("swap: slot %d out of range", slot)
	}
	if !a.used[slot] {
		return fmt.Errorf("swap: slot %d already free", slot)
	}
	a.used[slot] = false
	return nil
}

// WritePage writes a full page (SectorsPerSlot sectors) of data into slot.
func (a *Area) WritePage(slot uint32, page []byte) error {
	if len(page) != SectorsPerSlot*blockdev.SectorSize {
		return fmt.Errorf("swap: page must be %d bytes, got %d", SectorsPerSlot*blockdev.SectorSize, len(page))
	}
	base := slot * SectorsPerSlot
	for i := 0; i < SectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := a.dev.WriteSector(base+uint32(i), page[off:off+blockdev.SectorSize]); err != nil {
			return fmt.Errorf("swap: writing slot %d sector %d: %w", slot, i, err)
		}
	}
	return nil
}

// ReadPage reads a full page of data from slot into page.
func (a *Area) ReadPage(slot uint32, page []byte) error {
	if len(page) != SectorsPerSlot*blockdev.SectorSize {
		return fmt.Errorf("swap: page must be %d bytes, got %d", SectorsPerSlot*blockdev.SectorSize, len(page))
	}
	base := slot * SectorsPerSlot
	for i := 0; i < SectorsPerSlot; i++ {
		off := i * blockdev.SectorSize
		if err := a.dev.ReadSector(base+uint32(i), page[off:off+blockdev.SectorSize]); err != nil {
			return fmt.Errorf("swap: reading slot %d sector %d: %w", slot, i, err)
		}
	}
	return nil
}
