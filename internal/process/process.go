// Package process models the per-process kernel state described in spec
// §4.10 and §5: a supplemental page table, current working directory,
// open file-descriptor table with per-descriptor cursor state, and the
// mmap manager for that process's address space.
package process

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eduos/corekernel/internal/frame"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/mmap"
	"github.com/eduos/corekernel/internal/page"
	"github.com/eduos/corekernel/internal/swap"
)

// fd 0 and 1 are reserved for stdin/stdout per spec §6; the first file a
// process opens gets fd 2.
const firstUserFD = 2

// FileHandle is one process's open reference to an inode, with its own
// seek cursor: two processes (or the same process twice) opening the
// same file get independent cursors over a shared inode.
type FileHandle struct {
	Ino    *inode.Inode
	offset uint32
	mu     sync.Mutex
}

// Tell returns the handle's current cursor position.
func (h *FileHandle) Tell() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offset
}

// Seek moves the handle's cursor to an absolute position.
func (h *FileHandle) Seek(pos uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.offset = pos
}

// Read reads from the handle at its current cursor, advancing it by the
// number of bytes actually read.
func (h *FileHandle) Read(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.Ino.ReadAt(h.offset, buf)
	h.offset += uint32(n)
	return n, err
}

// Write writes to the handle at its current cursor, advancing it by the
// number of bytes actually written.
func (h *FileHandle) Write(buf []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.Ino.WriteAt(h.offset, buf)
	h.offset += uint32(n)
	return n, err
}

// Process is the kernel's in-memory state for one running process.
type Process struct {
	ID uuid.UUID

	ExecutableInumber uint32

	PageTable *page.Table
	Mmap      *mmap.Manager

	// Frames and Swap are the kernel-wide physical frame pool and swap
	// area shared by every process; Exit releases this process's share
	// of both when it terminates (spec §4.10).
	Frames *frame.Table
	Swap   *swap.Area

	mu      sync.Mutex
	cwd     uint32
	nextFD  int
	handles map[int]*FileHandle
}

// New creates process state rooted at cwd (typically the filesystem
// root), with the given inumber recorded as the process's own
// executable, whose inode should already have DenyWrite called on it.
// frames and swapArea are the kernel-wide pools this process's pages
// are evicted to and freed from on exit.
func New(cwd, executableInumber uint32, frames *frame.Table, swapArea *swap.Area) *Process {
	return &Process{
		ID:                uuid.New(),
		ExecutableInumber: executableInumber,
		PageTable:         page.NewTable(),
		Mmap:              mmap.NewManager(),
		Frames:            frames,
		Swap:              swapArea,
		cwd:               cwd,
		nextFD:            firstUserFD,
		handles:           make(map[int]*FileHandle),
	}
}

// Cwd returns the process's current working directory inode sector.
func (p *Process) Cwd() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cwd
}

// SetCwd updates the process's current working directory.
func (p *Process) SetCwd(sector uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cwd = sector
}

// AddHandle installs ino as a newly opened file, returning the file
// descriptor assigned to it.
func (p *Process) AddHandle(ino *inode.Inode) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFD
	p.nextFD++
	p.handles[fd] = &FileHandle{Ino: ino}
	return fd
}

// Handle returns the file handle for fd, if open.
func (p *Process) Handle(fd int) (*FileHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handles[fd]
	if !ok {
		return nil, fmt.Errorf("process: fd %d is not open", fd)
	}
	return h, nil
}

// CloseHandle closes fd, closing its underlying inode.
func (p *Process) CloseHandle(fd int) error {
	p.mu.Lock()
	h, ok := p.handles[fd]
	if ok {
		delete(p.handles, fd)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("process: fd %d is not open", fd)
	}
	return h.Ino.Close()
}

// Exit closes every open file descriptor and tears down every active
// mmap mapping with no pages considered dirty. Use ExitWithDirtyPages
// when the caller has live page contents to write back.
func (p *Process) Exit() error {
	return p.exit(nil)
}

// ExitWithDirtyPages closes every open file descriptor, tears down
// every active mmap mapping (writing back the pages named in
// dirtyPages, keyed by page-aligned virtual address, per spec §4.9),
// and iterates the supplemental page table releasing each entry's swap
// slot or physical frame, matching the cleanup walk spec §4.10 mandates
// when a process terminates.
func (p *Process) ExitWithDirtyPages(dirtyPages map[uint32][]byte) error {
	return p.exit(dirtyPages)
}

func (p *Process) exit(dirtyPages map[uint32][]byte) error {
	p.mu.Lock()
	handles := p.handles
	p.handles = make(map[int]*FileHandle)
	p.mu.Unlock()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, h := range handles {
		record(h.Ino.Close())
	}

	for _, id := range p.Mmap.MappingIDs() {
		record(p.Mmap.Munmap(p.PageTable, id, dirtyPages))
	}

	for _, r := range p.PageTable.All() {
		switch r.Location {
		case page.Swap:
			if p.Swap != nil {
				record(p.Swap.Free(r.SwapSlot))
			}
		case page.Memory:
			if p.Frames != nil && r.Frame != nil {
				p.Frames.Free(r.Frame)
			}
		}
		p.PageTable.Remove(r.Addr)
	}

	return firstErr
}
