// Package inode implements the on-disk inode layout and in-memory inode
// table described in spec §4.3 and §3: files and directories are both
// represented by a fixed-size on-disk inode reached through a
// doubly-indirect block index, with an in-memory table coalescing
// concurrent opens of the same inode onto one growth lock.
package inode

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
	"github.com/eduos/corekernel/internal/freemap"
)

// magic identifies a valid on-disk inode, guarding against reading a
// sector that was never initialized as one.
const magic = 0x494e4f44 // "INOD"

const (
	// Direct, indirect, and doubly-indirect fan-out, per spec §3: a single
	// doubly-indirect block of 128 pointers to indirect blocks of 128
	// pointers each yields a maximum file size of 128*128 sectors (8MiB).
	pointersPerSector = blockdev.SectorSize / 4 // 128 uint32 pointers
	MaxFileSectors    = pointersPerSector * pointersPerSector
	MaxFileSize       = MaxFileSectors * blockdev.SectorSize

	onDiskHeaderSize = 4 + 4 + 4 + 4 + 4 // length, isDir, parent, doublyIndirect, magic
)

// onDisk is the fixed-layout inode record stored in its own sector:
// length (4 bytes), is_dir flag (4 bytes), parent sector (4 bytes),
// doubly-indirect block sector (4 bytes), and a trailing magic number,
// per spec §6's on-disk layout.
type onDisk struct {
	length         uint32
	isDir          bool
	parent         uint32
	doublyIndirect uint32
}

func (d *onDisk) marshal() []byte {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.length)
	if d.isDir {
		binary.LittleEndian.PutUint32(buf[4:8], 1)
	}
	binary.LittleEndian.PutUint32(buf[8:12], d.parent)
	binary.LittleEndian.PutUint32(buf[12:16], d.doublyIndirect)
	binary.LittleEndian.PutUint32(buf[16:20], magic)
	return buf
}

func unmarshal(buf []byte) (*onDisk, error) {
	if len(buf) < onDiskHeaderSize {
		return nil, fmt.Errorf("inode: short sector (%d bytes)", len(buf))
	}
	if got := binary.LittleEndian.Uint32(buf[16:20]); got != magic {
		return nil, fmt.Errorf("inode: bad magic %#x, sector is not an inode", got)
	}
	return &onDisk{
		length:         binary.LittleEndian.Uint32(buf[0:4]),
		isDir:          binary.LittleEndian.Uint32(buf[4:8]) != 0,
		parent:         binary.LittleEndian.Uint32(buf[8:12]),
		doublyIndirect: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// Store mediates all access to on-disk inodes through a buffer cache and
// free-sector map, and coalesces concurrent opens of the same inode
// sector onto a single in-memory Inode.
type Store struct {
	cache *bufcache.Cache
	free  *freemap.Map

	mu    sync.Mutex
	table map[uint32]*Inode // sector -> open inode
}

// NewStore creates an inode store over the given cache and free-sector
// map.
func NewStore(cache *bufcache.Cache, free *freemap.Map) *Store {
	return &Store{
		cache: cache,
		free:  free,
		table: make(map[uint32]*Inode),
	}
}

// Inode is the in-memory state for an open inode: its sector, reference
// counts, and a lock serializing the growth of its index blocks. Per
// spec §4.3, length is only published (written to the on-disk header)
// after the new blocks it covers have themselves been written, so a
// concurrent reader never observes a length that outruns the data.
type Inode struct {
	store  *Store
	sector uint32

	mu        sync.Mutex // guards openCount/denyWrite/removed
	openCount int
	denyWrite int
	removed   bool

	growMu sync.Mutex // serializes growth of this inode's index blocks
}

// Create allocates a fresh inode sector, initializes it with the given
// initial length, and returns an open handle to it. parent is the sector
// of the containing directory's inode (or the inode's own sector, for
// the filesystem root). Per spec §4.3, a nonzero length pre-allocates
// and zero-fills ceil(length/512) leaf sectors plus the indirect and
// doubly-indirect sectors needed to index them; if any allocation along
// the way fails, everything allocated by this call is released and the
// failure is returned.
func (st *Store) Create(isDir bool, parent uint32, length uint32) (*Inode, error) {
	if length > MaxFileSize {
		return nil, fmt.Errorf("inode: creation length %d exceeds maximum file size of %d bytes", length, MaxFileSize)
	}

	var allocated []uint32
	rollback := func() {
		for _, s := range allocated {
			st.free.Release(s, 1)
		}
	}

	sector, err := st.free.Allocate(1)
	if err != nil {
		return nil, fmt.Errorf("inode: allocating inode sector: %w", err)
	}
	allocated = append(allocated, sector)

	d := &onDisk{isDir: isDir, parent: parent}

	dataSectors := (length + blockdev.SectorSize - 1) / blockdev.SectorSize
	if dataSectors > 0 {
		diSector, err := st.free.Allocate(1)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("inode: allocating doubly-indirect block: %w", err)
		}
		allocated = append(allocated, diSector)
		if err := writeZeroSector(st.cache, diSector); err != nil {
			rollback()
			return nil, err
		}
		diBuf := make([]byte, blockdev.SectorSize)

		remaining := dataSectors
		for diIdx := uint32(0); remaining > 0 && diIdx < pointersPerSector; diIdx++ {
			inSector, err := st.free.Allocate(1)
			if err != nil {
				rollback()
				return nil, fmt.Errorf("inode: allocating indirect block: %w", err)
			}
			allocated = append(allocated, inSector)
			inBuf := make([]byte, blockdev.SectorSize)

			for inIdx := uint32(0); remaining > 0 && inIdx < pointersPerSector; inIdx++ {
				leaf, err := st.free.Allocate(1)
				if err != nil {
					rollback()
					return nil, fmt.Errorf("inode: allocating data block: %w", err)
				}
				allocated = append(allocated, leaf)
				if err := writeZeroSector(st.cache, leaf); err != nil {
					rollback()
					return nil, err
				}
				binary.LittleEndian.PutUint32(inBuf[inIdx*4:inIdx*4+4], leaf)
				remaining--
			}
			if err := st.cache.Write(inSector, 0, inBuf, blockdev.SectorSize); err != nil {
				rollback()
				return nil, err
			}
			binary.LittleEndian.PutUint32(diBuf[diIdx*4:diIdx*4+4], inSector)
		}
		if err := st.cache.Write(diSector, 0, diBuf, blockdev.SectorSize); err != nil {
			rollback()
			return nil, err
		}
		d.doublyIndirect = diSector
	}
	d.length = length

	if err := st.cache.Write(sector, 0, d.marshal(), blockdev.SectorSize); err != nil {
		rollback()
		return nil, fmt.Errorf("inode: initializing sector %d: %w", sector, err)
	}
	return st.Open(sector)
}

// Open returns the in-memory inode for sector, creating it on first open
// and incrementing its reference count on every call. Callers must pair
// every Open with a Close.
func (st *Store) Open(sector uint32) (*Inode, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if ino, ok := st.table[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		return ino, nil
	}

	buf := make([]byte, blockdev.SectorSize)
	if err := st.cache.Read(sector, 0, buf, blockdev.SectorSize); err != nil {
		return nil, fmt.Errorf("inode: reading sector %d: %w", sector, err)
	}
	if _, err := unmarshal(buf); err != nil {
		return nil, err
	}

	ino := &Inode{store: st, sector: sector, openCount: 1}
	st.table[sector] = ino
	return ino, nil
}

func (ino *Inode) read() (*onDisk, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := ino.store.cache.Read(ino.sector, 0, buf, blockdev.SectorSize); err != nil {
		return nil, err
	}
	return unmarshal(buf)
}

func (ino *Inode) write(d *onDisk) error {
	return ino.store.cache.Write(ino.sector, 0, d.marshal(), blockdev.SectorSize)
}

// Sector returns the inode's own sector number, used as its inumber.
func (ino *Inode) Sector() uint32 { return ino.sector }

// Length returns the inode's current file length in bytes.
func (ino *Inode) Length() (uint32, error) {
	d, err := ino.read()
	if err != nil {
		return 0, err
	}
	return d.length, nil
}

// IsDir reports whether the inode represents a directory.
func (ino *Inode) IsDir() (bool, error) {
	d, err := ino.read()
	if err != nil {
		return false, err
	}
	return d.isDir, nil
}

// Parent returns the sector of the containing directory's inode.
func (ino *Inode) Parent() (uint32, error) {
	d, err := ino.read()
	if err != nil {
		return 0, err
	}
	return d.parent, nil
}

// SetParent rewrites the inode's parent pointer. Only the filesystem
// root uses this, to point its own ".." entry back at itself once its
// sector is known (Create needs a parent before the new inode's sector
// has been allocated).
func (ino *Inode) SetParent(parent uint32) error {
	d, err := ino.read()
	if err != nil {
		return err
	}
	d.parent = parent
	return ino.write(d)
}

// DenyWrite increments the inode's deny-write count, matching spec's
// requirement that an executable's backing inode reject writes while a
// process is executing it.
func (ino *Inode) DenyWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.denyWrite++
}

// AllowWrite reverses a prior DenyWrite.
func (ino *Inode) AllowWrite() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	if ino.denyWrite > 0 {
		ino.denyWrite--
	}
}

func (ino *Inode) writeDenied() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.denyWrite > 0
}

// Close decrements the inode's open count. When the count reaches zero
// and the inode was removed while open, its sectors (index blocks and
// data blocks) are released and the inode itself is dropped from the
// store's table.
func (ino *Inode) Close() error {
	ino.mu.Lock()
	ino.openCount--
	shouldFree := ino.openCount == 0 && ino.removed
	count := ino.openCount
	ino.mu.Unlock()

	if count < 0 {
		return fmt.Errorf("inode: close on sector %d with no opens outstanding", ino.sector)
	}

	if !shouldFree {
		return nil
	}

	ino.store.mu.Lock()
	delete(ino.store.table, ino.sector)
	ino.store.mu.Unlock()

	return ino.deallocate()
}

// MarkRemoved flags the inode for deallocation once its last open
// reference is closed, per spec §4.4's deferred-release semantics for
// removing a file or directory that is still open elsewhere.
func (ino *Inode) MarkRemoved() {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	ino.removed = true
}

func (ino *Inode) deallocate() error {
	d, err := ino.read()
	if err != nil {
		return err
	}

	dataSectors := (d.length + blockdev.SectorSize - 1) / blockdev.SectorSize
	if d.doublyIndirect != 0 {
		if err := ino.releaseIndex(d.doublyIndirect, dataSectors); err != nil {
			return err
		}
	}
	return ino.store.free.Release(ino.sector, 1)
}

func (ino *Inode) releaseIndex(doublyIndirect, dataSectors uint32) error {
	diBuf := make([]byte, blockdev.SectorSize)
	if err := ino.store.cache.Read(doublyIndirect, 0, diBuf, blockdev.SectorSize); err != nil {
		return err
	}

	remaining := dataSectors
	for i := 0; i < pointersPerSector && remaining > 0; i++ {
		indirect := binary.LittleEndian.Uint32(diBuf[i*4 : i*4+4])
		if indirect == 0 {
			continue
		}
		inBuf := make([]byte, blockdev.SectorSize)
		if err := ino.store.cache.Read(indirect, 0, inBuf, blockdev.SectorSize); err != nil {
			return err
		}
		for j := 0; j < pointersPerSector && remaining > 0; j++ {
			data := binary.LittleEndian.Uint32(inBuf[j*4 : j*4+4])
			if data != 0 {
				if err := ino.store.free.Release(data, 1); err != nil {
					return err
				}
			}
			remaining--
		}
		if err := ino.store.free.Release(indirect, 1); err != nil {
			return err
		}
	}
	return ino.store.free.Release(doublyIndirect, 1)
}
