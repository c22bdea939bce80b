// Package directory implements the directory layer described in spec
// §4.4: a directory is a regular inode whose contents are a flat array of
// fixed-size entries, each naming a child inode by sector number. "." and
// ".." are synthesized from the directory's own sector and its stored
// parent pointer rather than being materialized as entries.
package directory

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/eduos/corekernel/internal/inode"
)

// maxNameLen matches the original's 14-byte NUL-terminated name field.
const maxNameLen = 14

const entrySize = 1 + maxNameLen + 4 // in-use flag, name, inode sector

// Entry is one resolved directory entry.
type Entry struct {
	Name   string
	Sector uint32
}

// Dir wraps an inode known to hold directory contents.
type Dir struct {
	ino *inode.Inode
}

// Open wraps an already-open inode as a directory. The caller is
// responsible for the inode's lifetime.
func Open(ino *inode.Inode) (*Dir, error) {
	isDir, err := ino.IsDir()
	if err != nil {
		return nil, err
	}
	if !isDir {
		return nil, fmt.Errorf("directory: sector %d is not a directory", ino.Sector())
	}
	return &Dir{ino: ino}, nil
}

func encodeName(name string) ([maxNameLen]byte, error) {
	var out [maxNameLen]byte
	if len(name) == 0 || len(name) > maxNameLen-1 {
		return out, fmt.Errorf("directory: name %q must be 1-%d bytes", name, maxNameLen-1)
	}
	copy(out[:], name)
	return out, nil
}

func decodeName(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Lookup finds an entry by name, including the synthesized "." and ".."
// entries.
func (d *Dir) Lookup(name string) (Entry, bool, error) {
	if name == "." {
		return Entry{Name: ".", Sector: d.ino.Sector()}, true, nil
	}
	if name == ".." {
		parent, err := d.ino.Parent()
		if err != nil {
			return Entry{}, false, err
		}
		return Entry{Name: "..", Sector: parent}, true, nil
	}

	entries, err := d.readAll()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Add inserts a new entry, reusing the first unused slot if one exists
// and appending otherwise. It rejects a name already present, per spec's
// supplemented uniqueness guarantee.
func (d *Dir) Add(name string, sector uint32) error {
	if strings.ContainsAny(name, "/") {
		return fmt.Errorf("directory: name %q may not contain '/'", name)
	}
	if _, found, err := d.Lookup(name); err != nil {
		return err
	} else if found {
		return fmt.Errorf("directory: entry %q already exists", name)
	}

	encoded, err := encodeName(name)
	if err != nil {
		return err
	}

	length, err := d.ino.Length()
	if err != nil {
		return err
	}
	count := length / entrySize

	buf := make([]byte, entrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := d.ino.ReadAt(i*entrySize, buf); err != nil {
			return err
		}
		if buf[0] == 0 {
			return d.writeEntry(i, encoded, sector)
		}
	}
	return d.writeEntry(count, encoded, sector)
}

func (d *Dir) writeEntry(slot uint32, name [maxNameLen]byte, sector uint32) error {
	buf := make([]byte, entrySize)
	buf[0] = 1
	copy(buf[1:1+maxNameLen], name[:])
	binary.LittleEndian.PutUint32(buf[1+maxNameLen:], sector)
	_, err := d.ino.WriteAt(slot*entrySize, buf)
	return err
}

// Remove marks the entry for name unused. It does not touch the target
// inode; the caller is responsible for deciding whether to delete it
// (which may be deferred if it is still open elsewhere).
func (d *Dir) Remove(name string) error {
	length, err := d.ino.Length()
	if err != nil {
		return err
	}
	count := length / entrySize

	buf := make([]byte, entrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := d.ino.ReadAt(i*entrySize, buf); err != nil {
			return err
		}
		if buf[0] == 0 {
			continue
		}
		if decodeName(buf[1:1+maxNameLen]) == name {
			buf[0] = 0
			_, err := d.ino.WriteAt(i*entrySize, buf)
			return err
		}
	}
	return fmt.Errorf("directory: entry %q not found", name)
}

// Readdir returns every in-use entry, excluding "." and "..".
func (d *Dir) Readdir() ([]Entry, error) {
	return d.readAll()
}

func (d *Dir) readAll() ([]Entry, error) {
	length, err := d.ino.Length()
	if err != nil {
		return nil, err
	}
	count := length / entrySize

	var entries []Entry
	buf := make([]byte, entrySize)
	for i := uint32(0); i < count; i++ {
		if _, err := d.ino.ReadAt(i*entrySize, buf); err != nil {
			return nil, err
		}
		if buf[0] == 0 {
			continue
		}
		entries = append(entries, Entry{
			Name:   decodeName(buf[1 : 1+maxNameLen]),
			Sector: binary.LittleEndian.Uint32(buf[1+maxNameLen:]),
		})
	}
	return entries, nil
}

// IsEmpty reports whether the directory holds no entries besides "." and
// "..", the precondition for removing a directory.
func (d *Dir) IsEmpty() (bool, error) {
	entries, err := d.readAll()
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
