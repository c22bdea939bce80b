package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/eduos/corekernel/internal/blockdev"
	"github.com/eduos/corekernel/internal/bufcache"
)

// sectorForIndex returns the data sector holding the idx'th sector of the
// inode's contents, allocating index and data blocks as needed when grow
// is true. It returns 0 with no error when grow is false and the sector
// has never been allocated (a hole read as zeros).
func (ino *Inode) sectorForIndex(d *onDisk, idx uint32, grow bool) (uint32, error) {
	if idx >= MaxFileSectors {
		return 0, fmt.Errorf("inode: offset exceeds maximum file size of %d bytes", MaxFileSize)
	}

	if d.doublyIndirect == 0 {
		if !grow {
			return 0, nil
		}
		s, err := ino.store.free.Allocate(1)
		if err != nil {
			return 0, fmt.Errorf("inode: allocating doubly-indirect block: %w", err)
		}
		if err := ino.zeroSector(s); err != nil {
			return 0, err
		}
		d.doublyIndirect = s
	}

	diBuf := make([]byte, blockdev.SectorSize)
	if err := ino.store.cache.Read(d.doublyIndirect, 0, diBuf, blockdev.SectorSize); err != nil {
		return 0, err
	}

	diIdx := idx / pointersPerSector
	inIdx := idx % pointersPerSector

	indirect := binary.LittleEndian.Uint32(diBuf[diIdx*4 : diIdx*4+4])
	if indirect == 0 {
		if !grow {
			return 0, nil
		}
		s, err := ino.store.free.Allocate(1)
		if err != nil {
			return 0, fmt.Errorf("inode: allocating indirect block: %w", err)
		}
		if err := ino.zeroSector(s); err != nil {
			return 0, err
		}
		indirect = s
		binary.LittleEndian.PutUint32(diBuf[diIdx*4:diIdx*4+4], indirect)
		if err := ino.store.cache.Write(d.doublyIndirect, 0, diBuf, blockdev.SectorSize); err != nil {
			return 0, err
		}
	}

	inBuf := make([]byte, blockdev.SectorSize)
	if err := ino.store.cache.Read(indirect, 0, inBuf, blockdev.SectorSize); err != nil {
		return 0, err
	}

	data := binary.LittleEndian.Uint32(inBuf[inIdx*4 : inIdx*4+4])
	if data == 0 {
		if !grow {
			return 0, nil
		}
		s, err := ino.store.free.Allocate(1)
		if err != nil {
			return 0, fmt.Errorf("inode: allocating data block: %w", err)
		}
		if err := ino.zeroSector(s); err != nil {
			return 0, err
		}
		data = s
		binary.LittleEndian.PutUint32(inBuf[inIdx*4:inIdx*4+4], data)
		if err := ino.store.cache.Write(indirect, 0, inBuf, blockdev.SectorSize); err != nil {
			return 0, err
		}
	}

	return data, nil
}

func (ino *Inode) zeroSector(sector uint32) error {
	return writeZeroSector(ino.store.cache, sector)
}

// writeZeroSector overwrites sector with SectorSize zero bytes, the
// allocation idiom every newly allocated index or data sector uses
// before it is linked in, both during growth and during the up-front
// allocation Store.Create performs for a nonzero creation length.
func writeZeroSector(cache *bufcache.Cache, sector uint32) error {
	zero := make([]byte, blockdev.SectorSize)
	return cache.Write(sector, 0, zero, blockdev.SectorSize)
}

// ReadAt reads len(buf) bytes starting at offset into buf, returning the
// number of bytes actually read. A read entirely or partially past the
// end of the file returns a short read with no error, matching the
// original's behavior.
func (ino *Inode) ReadAt(offset uint32, buf []byte) (int, error) {
	d, err := ino.read()
	if err != nil {
		return 0, err
	}
	if offset >= d.length {
		return 0, nil
	}
	if end := offset + uint32(len(buf)); end > d.length {
		buf = buf[:d.length-offset]
	}

	n := 0
	for n < len(buf) {
		idx := (offset + uint32(n)) / blockdev.SectorSize
		within := int((offset + uint32(n)) % blockdev.SectorSize)
		chunk := blockdev.SectorSize - within
		if remain := len(buf) - n; chunk > remain {
			chunk = remain
		}

		sector, err := ino.sectorForIndex(d, idx, false)
		if err != nil {
			return n, err
		}
		if sector == 0 {
			// Unallocated hole: reads as zeros.
			for i := 0; i < chunk; i++ {
				buf[n+i] = 0
			}
		} else if err := ino.store.cache.Read(sector, within, buf[n:n+chunk], chunk); err != nil {
			return n, err
		}
		n += chunk
	}
	return n, nil
}

// WriteAt writes buf at offset, growing the file (allocating new index
// and data blocks as needed) if the write extends past the current
// length. Per spec §4.3, the new length is published to the on-disk
// header only after every newly allocated block the write touches has
// itself been written, so a concurrent reader never observes a length
// beyond what has actually been written.
func (ino *Inode) WriteAt(offset uint32, buf []byte) (int, error) {
	if ino.writeDenied() {
		return 0, nil
	}
	if offset+uint32(len(buf)) > MaxFileSize {
		return 0, fmt.Errorf("inode: write would exceed maximum file size of %d bytes", MaxFileSize)
	}

	ino.growMu.Lock()
	defer ino.growMu.Unlock()

	d, err := ino.read()
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		idx := (offset + uint32(n)) / blockdev.SectorSize
		within := int((offset + uint32(n)) % blockdev.SectorSize)
		chunk := blockdev.SectorSize - within
		if remain := len(buf) - n; chunk > remain {
			chunk = remain
		}

		sector, err := ino.sectorForIndex(d, idx, true)
		if err != nil {
			return n, err
		}
		if err := ino.store.cache.Write(sector, within, buf[n:n+chunk], chunk); err != nil {
			return n, err
		}
		n += chunk
	}

	if newLen := offset + uint32(n); newLen > d.length {
		d.length = newLen
		if err := ino.write(d); err != nil {
			return n, err
		}
	} else if d.doublyIndirect != 0 {
		// The doubly-indirect pointer may have just been allocated for a
		// write that stayed within the existing length (sparse fill);
		// persist it even though length did not change.
		if err := ino.write(d); err != nil {
			return n, err
		}
	}
	return n, nil
}
