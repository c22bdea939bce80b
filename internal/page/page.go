// Package page implements the supplemental page table described in spec
// §4.8 and §4.10: per-process bookkeeping for where each virtual page's
// data currently lives, used to satisfy page faults by loading from the
// right place (a file, swap, or nowhere yet) rather than always zeroing.
package page

import (
	"fmt"
	"sync"

	"github.com/eduos/corekernel/internal/frame"
)

// Location tags where a page's data currently resides.
type Location int

const (
	// None means the page has never been faulted in: a stack page not
	// yet touched, for instance.
	None Location = iota
	// Memory means the page is resident in a physical frame.
	Memory
	// Swap means the page was evicted to a swap slot.
	Swap
	// Executable means the page's initial contents come from a region of
	// the process's executable file (lazily loaded on first fault).
	Executable
	// Mmap means the page backs a memory-mapped file region.
	Mmap
)

// Record is the supplemental page table entry for one virtual page.
type Record struct {
	Addr     uint32 // page-aligned virtual address
	Location Location

	// Origin records the page's fixed backing type and never changes
	// once the record is inserted, unlike Location (which tracks where
	// the page's data lives right now: nowhere yet, in memory, or in
	// swap). A page whose Origin is Executable or Mmap keeps its
	// FileInumber/FileOffset/ReadBytes valid even after it goes
	// resident, so SwapOut still knows how to evict it back to its
	// source file instead of a swap slot (spec §4.8).
	Origin Location

	// Valid when Location == Swap.
	SwapSlot uint32

	// Valid when Origin == Executable or Origin == Mmap.
	FileInumber uint32
	FileOffset  uint32
	ReadBytes   uint32 // bytes to read from the file; remainder is zero-filled
	Writable    bool

	// Frame is the physical frame currently backing this page, set
	// whenever Location == Memory. Process exit frees it back to the
	// frame table (spec §4.10).
	Frame *frame.Frame
}

// Table is one process's supplemental page table.
type Table struct {
	mu      sync.Mutex
	records map[uint32]*Record // keyed by page-aligned virtual address
}

// NewTable creates an empty supplemental page table.
func NewTable() *Table {
	return &Table{records: make(map[uint32]*Record)}
}

// Insert adds a new record, replacing any existing one for the same
// address.
func (t *Table) Insert(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rc := r
	t.records[r.Addr] = &rc
}

// Lookup returns the record for addr, if any.
func (t *Table) Lookup(addr uint32) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[addr]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Remove deletes the record for addr.
func (t *Table) Remove(addr uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, addr)
}

// SetSwapped updates addr's record to reflect that it has been written
// to swap slot.
func (t *Table) SetSwapped(addr uint32, slot uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[addr]
	if !ok {
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	r.Location = Swap
	r.SwapSlot = slot
	r.Frame = nil
	return nil
}

// SetResident updates addr's record to reflect that it is now backed by
// a physical frame.
func (t *Table) SetResident(addr uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[addr]
	if !ok {
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	r.Location = Memory
	return nil
}

// BindFrame records f as the physical frame now backing addr's resident
// page, so process exit can free it back to the frame table (spec
// §4.10).
func (t *Table) BindFrame(addr uint32, f *frame.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[addr]
	if !ok {
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	r.Frame = f
	return nil
}

// SwapArea is the subset of *swap.Area that SwapOut/SwapIn need; it is
// declared here rather than imported to keep this package independent of
// the swap package's Device dependency.
type SwapArea interface {
	Allocate() (uint32, error)
	Free(slot uint32) error
	WritePage(slot uint32, page []byte) error
	ReadPage(slot uint32, page []byte) error
}

// File is the subset of a backing file SwapOut/SwapIn need to reload or
// write back a page's contents; it is satisfied by *inode.Inode.
type File interface {
	ReadAt(offset uint32, buf []byte) (int, error)
	WriteAt(offset uint32, buf []byte) (int, error)
}

// FileOpener resolves a record's FileInumber to the File providing its
// backing data. Only needed for records whose Origin is Executable or
// Mmap; pass nil when no record in the table is file-backed.
type FileOpener interface {
	Open(inumber uint32) (File, error)
}

// SwapOut evicts the resident page at addr, backed by frameData, per
// spec §4.8's per-origin rules:
//
//   - None (anonymous: stack or heap): always written to a freshly
//     allocated swap slot.
//   - Executable, clean: the frame is discarded with no I/O; the page
//     reloads from the executable file on its next fault.
//   - Executable, dirty: the executable file itself is never written
//     to, so a dirty executable page is swapped out like an anonymous
//     one.
//   - Mmap, dirty: written back to its source file at FileOffset (files
//     must be non-nil), then discarded.
//   - Mmap, clean: discarded with no I/O, since the source file already
//     holds the page's contents.
//
// dirty reports whether frameData has been modified since it was last
// loaded (the frame's PTE dirty bit).
func (t *Table) SwapOut(area SwapArea, files FileOpener, addr uint32, frameData []byte, dirty bool) error {
	t.mu.Lock()
	r, ok := t.records[addr]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	origin := r.Origin
	t.mu.Unlock()

	switch origin {
	case Executable:
		if !dirty {
			return t.setDiscarded(addr, Executable)
		}
		// Falls through to the anonymous swap-slot path below.

	case Mmap:
		if dirty {
			if files == nil {
				return fmt.Errorf("page: swapping out mmap page %#x: no file opener", addr)
			}
			f, err := files.Open(r.FileInumber)
			if err != nil {
				return fmt.Errorf("page: opening inode %d for %#x: %w", r.FileInumber, addr, err)
			}
			n := r.ReadBytes
			if n > uint32(len(frameData)) {
				n = uint32(len(frameData))
			}
			if _, err := f.WriteAt(r.FileOffset, frameData[:n]); err != nil {
				return fmt.Errorf("page: writing back %#x: %w", addr, err)
			}
		}
		return t.setDiscarded(addr, Mmap)
	}

	slot, err := area.Allocate()
	if err != nil {
		return fmt.Errorf("page: swapping out %#x: %w", addr, err)
	}
	if err := area.WritePage(slot, frameData); err != nil {
		area.Free(slot)
		return err
	}
	return t.SetSwapped(addr, slot)
}

// setDiscarded marks addr's record as no longer resident, reverting its
// Location to origin (Executable or Mmap) so the next fault knows to
// reload from the backing file rather than treating it as unswapped.
func (t *Table) setDiscarded(addr uint32, origin Location) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[addr]
	if !ok {
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	r.Location = origin
	r.SwapSlot = 0
	r.Frame = nil
	return nil
}

// SwapIn loads the page at addr back into frameData, per its current
// Location: Swap reads from and frees the swap slot; Executable or
// Mmap reads ReadBytes from the backing file at FileOffset and
// zero-fills the remainder of frameData (the lazy first-fault load
// path). Either way the record is updated to Memory.
func (t *Table) SwapIn(area SwapArea, files FileOpener, addr uint32, frameData []byte) error {
	t.mu.Lock()
	r, ok := t.records[addr]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("page: no record for address %#x", addr)
	}
	loc := r.Location
	slot := r.SwapSlot
	fileInumber, fileOffset, readBytes := r.FileInumber, r.FileOffset, r.ReadBytes
	t.mu.Unlock()

	switch loc {
	case Swap:
		if err := area.ReadPage(slot, frameData); err != nil {
			return err
		}
		if err := area.Free(slot); err != nil {
			return err
		}

	case Executable, Mmap:
		if files == nil {
			return fmt.Errorf("page: loading %#x: no file opener", addr)
		}
		f, err := files.Open(fileInumber)
		if err != nil {
			return fmt.Errorf("page: opening inode %d for %#x: %w", fileInumber, addr, err)
		}
		n := readBytes
		if n > uint32(len(frameData)) {
			n = uint32(len(frameData))
		}
		if n > 0 {
			if _, err := f.ReadAt(fileOffset, frameData[:n]); err != nil {
				return fmt.Errorf("page: loading %#x: %w", addr, err)
			}
		}
		for i := n; i < uint32(len(frameData)); i++ {
			frameData[i] = 0
		}

	default:
		return fmt.Errorf("page: address %#x is not swapped out", addr)
	}

	return t.SetResident(addr)
}

// All returns every record, for use during process teardown.
func (t *Table) All() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	return out
}

// StackGrowthLimit is the maximum stack size, per spec §4.10: 8MiB below
// PhysBase.
const StackGrowthLimit = 8 * 1024 * 1024

// maxStackFaultDistance is how far below the stack pointer a fault
// address may fall and still be treated as stack growth rather than a
// genuine segfault, resolving the open question of exactly how far a
// PUSH/PUSHA instruction can fault below the current stack pointer (32
// bytes covers the widest x86 PUSHA sequence).
const maxStackFaultDistance = 32

// IsStackGrowth reports whether a fault at addr, with the process's
// current stack pointer sp and stack base stackBase (PhysBase), should be
// treated as a request to grow the stack rather than an invalid access.
// A fault counts as stack growth only if it falls no more than
// maxStackFaultDistance bytes below sp (covering the widest PUSHA-style
// access that can fault before the stack pointer itself is adjusted) and
// stays within the maximum stack size below stackBase.
func IsStackGrowth(addr, sp, stackBase uint32) bool {
	if addr >= stackBase {
		return false
	}
	if addr < sp && sp-addr > maxStackFaultDistance {
		return false
	}
	return stackBase-addr <= StackGrowthLimit
}
