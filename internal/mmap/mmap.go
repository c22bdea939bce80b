// Package mmap implements the memory-mapped file manager described in
// spec §4.9: mapping a file's contents into a process's address space,
// backing faulted-in pages by the page package's Mmap location, and
// writing dirty pages back to the file (truncated to its
// length) on unmap.
package mmap

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/page"
)

const pageSize = 4096

// File is the subset of *inode.Inode mmap needs: reading and writing
// file-backed page data and learning the file's length.
type File interface {
	Length() (uint32, error)
	ReadAt(offset uint32, buf []byte) (int, error)
	WriteAt(offset uint32, buf []byte) (int, error)
}

// Mapping records one active memory mapping.
type Mapping struct {
	ID       uuid.UUID
	File     File
	Inumber  uint32
	BaseAddr uint32
	NumPages uint32
}

// Manager tracks every active mapping for a single process.
type Manager struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]*Mapping
}

// NewManager creates an empty mmap manager.
func NewManager() *Manager {
	return &Manager{mappings: make(map[uuid.UUID]*Mapping)}
}

// Mmap maps file (identified by inumber) into the process's address
// space starting at addr, which must be page-aligned and non-zero, and
// installs a page-table record of location Mmap for each page the
// mapping covers so page faults against it are satisfied from the file.
func (m *Manager) Mmap(pt *page.Table, file File, inumber, addr uint32) (uuid.UUID, error) {
	if addr == 0 || addr%pageSize != 0 {
		return uuid.Nil, fmt.Errorf("mmap: address %#x must be non-zero and page-aligned", addr)
	}
	length, err := file.Length()
	if err != nil {
		return uuid.Nil, err
	}
	if length == 0 {
		return uuid.Nil, fmt.Errorf("mmap: cannot map a zero-length file")
	}
	numPages := (length + pageSize - 1) / pageSize

	for i := uint32(0); i < numPages; i++ {
		pageAddr := addr + i*pageSize
		if _, exists := pt.Lookup(pageAddr); exists {
			return uuid.Nil, fmt.Errorf("mmap: address %#x overlaps an existing mapping", pageAddr)
		}
	}

	for i := uint32(0); i < numPages; i++ {
		pageAddr := addr + i*pageSize
		offset := i * pageSize
		readBytes := uint32(pageSize)
		if offset+pageSize > length {
			readBytes = length - offset
		}
		pt.Insert(page.Record{
			Addr:        pageAddr,
			Location:    page.Mmap,
			Origin:      page.Mmap,
			FileInumber: inumber,
			FileOffset:  offset,
			ReadBytes:   readBytes,
			Writable:    true,
		})
	}

	id := uuid.New()
	m.mu.Lock()
	m.mappings[id] = &Mapping{ID: id, File: file, Inumber: inumber, BaseAddr: addr, NumPages: numPages}
	m.mu.Unlock()
	return id, nil
}

// MappingIDs returns the IDs of every mapping currently active, used by
// process exit to tear each of them down (spec §4.9).
func (m *Manager) MappingIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.mappings))
	for id := range m.mappings {
		ids = append(ids, id)
	}
	return ids
}

// Munmap tears down a mapping, writing every dirty resident page back to
// its file offset (truncated so a write never extends past the file's
// actual length) and removing its page-table records.
func (m *Manager) Munmap(pt *page.Table, id uuid.UUID, dirtyPages map[uint32][]byte) error {
	m.mu.Lock()
	mp, ok := m.mappings[id]
	if ok {
		delete(m.mappings, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mmap: unknown mapping %s", id)
	}

	length, err := mp.File.Length()
	if err != nil {
		return err
	}

	for i := uint32(0); i < mp.NumPages; i++ {
		addr := mp.BaseAddr + i*pageSize
		offset := i * pageSize
		if data, dirty := dirtyPages[addr]; dirty {
			n := uint32(len(data))
			if offset+n > length {
				n = length - offset
			}
			if n > 0 {
				if _, err := mp.File.WriteAt(offset, data[:n]); err != nil {
					return fmt.Errorf("mmap: writing back page %#x: %w", addr, err)
				}
			}
		}
		pt.Remove(addr)
	}
	return nil
}
