// Package frame implements the physical frame table described in spec
// §4.6: a fixed pool of physical page frames shared by every process,
// evicted via a clock-hand (second-chance) policy when the pool is full.
// Access to the hardware accessed/dirty bits is abstracted behind the PTE
// interface, since this package has no real MMU to collaborate with.
package frame

import (
	"fmt"
	"sync"
)

// PTE is the hardware-page-table collaborator a frame's owner must
// provide: the accessed and dirty bits the clock algorithm inspects and
// clears, and the callback used to unmap a frame that is about to be
// evicted. Concrete page-table bookkeeping lives in the page package;
// frame only ever sees it through this interface.
type PTE interface {
	Accessed() bool
	ClearAccessed()
	Dirty() bool
	Unmap()
}

// Frame is one entry in the physical frame table.
type Frame struct {
	Index int

	mu     sync.Mutex
	owner  PTE
	pinned bool
}

// Table is the global frame pool, sized to the number of physical frames
// the kernel was configured with. The pool's capacity is intrinsically
// bounded by len(frames), so unlike bufcache's map-backed capacity this
// needs no semaphore to enforce it — an Allocate call either finds a
// free frame or runs the clock algorithm to make one.
type Table struct {
	mu     sync.Mutex // the single coarse frame-table lock, per spec §4.6
	frames []*Frame
	clock  int // clock-hand index into frames
}

// New creates a frame table with the given number of physical frames.
func New(numFrames int) (*Table, error) {
	if numFrames <= 0 {
		return nil, fmt.Errorf("frame: numFrames must be positive, got %d", numFrames)
	}
	frames := make([]*Frame, numFrames)
	for i := range frames {
		frames[i] = &Frame{Index: i}
	}
	return &Table{
		frames: frames,
	}, nil
}

// NumFrames returns the total number of physical frames.
func (t *Table) NumFrames() int { return len(t.frames) }

// Allocate reserves a frame for owner, evicting another frame's owner via
// the clock algorithm if the pool is full. It returns the evicted frame's
// prior owner, if any, so the caller can write its contents out (to swap
// or back to its file) before reusing the frame.
func (t *Table) Allocate(owner PTE) (*Frame, PTE, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.frames {
		f.mu.Lock()
		free := f.owner == nil
		f.mu.Unlock()
		if free {
			f.mu.Lock()
			f.owner = owner
			f.pinned = false
			f.mu.Unlock()
			return f, nil, nil
		}
	}

	victim, evicted := t.evict()
	victim.mu.Lock()
	victim.owner = owner
	victim.pinned = false
	victim.mu.Unlock()
	return victim, evicted, nil
}

// evict runs the clock (second-chance) algorithm starting from the
// current hand position and returns the chosen victim frame along with
// its prior owner. Must be called with t.mu held.
func (t *Table) evict() (*Frame, PTE) {
	n := len(t.frames)
	for {
		f := t.frames[t.clock]
		t.clock = (t.clock + 1) % n

		f.mu.Lock()
		if f.pinned {
			f.mu.Unlock()
			continue
		}
		if f.owner.Accessed() {
			f.owner.ClearAccessed()
			f.mu.Unlock()
			continue
		}
		evicted := f.owner
		evicted.Unmap()
		f.mu.Unlock()
		return f, evicted
	}
}

// Free releases a frame back to the pool.
func (t *Table) Free(f *Frame) {
	f.mu.Lock()
	f.owner = nil
	f.pinned = false
	f.mu.Unlock()
}

// Pin marks a frame as ineligible for eviction, used while a syscall
// handler is actively reading or writing through it.
func (f *Frame) Pin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = true
}

// Unpin reverses Pin.
func (f *Frame) Unpin() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pinned = false
}

// Owner returns the frame's current PTE owner, or nil if free.
func (f *Frame) Owner() PTE {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}
