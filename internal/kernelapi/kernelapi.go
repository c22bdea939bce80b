// Package kernelapi exposes the kernel's syscall surface described in
// spec §6: every filesystem and process operation a user program can
// invoke, dispatched through a single global filesystem lock so that the
// directory and inode layers beneath it never need their own top-level
// locking. This is the kernel's equivalent of the teacher's FUSE
// operation dispatch, reworked for a syscall table instead of a kernel
// filesystem request queue.
package kernelapi

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/eduos/corekernel/internal/directory"
	"github.com/eduos/corekernel/internal/inode"
	"github.com/eduos/corekernel/internal/klog"
	"github.com/eduos/corekernel/internal/pathresolve"
	"github.com/eduos/corekernel/internal/process"
)

// Op names the syscalls the kernel surface dispatches, mirroring the
// teacher's named-operation constants used for logging and metrics
// labels rather than a raw numeric syscall index.
type Op string

const (
	OpCreate  Op = "create"
	OpRemove  Op = "remove"
	OpOpen    Op = "open"
	OpClose   Op = "close"
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpSeek    Op = "seek"
	OpTell    Op = "tell"
	OpMkdir   Op = "mkdir"
	OpChdir   Op = "chdir"
	OpReaddir Op = "readdir"
	OpIsDir   Op = "isdir"
	OpInumber Op = "inumber"
	OpMmap    Op = "mmap"
	OpMunmap  Op = "munmap"
)

// Store is the subset of *inode.Store the syscall surface needs.
type Store interface {
	Open(sector uint32) (*inode.Inode, error)
	Create(isDir bool, parent uint32, length uint32) (*inode.Inode, error)
}

// API is the kernel's syscall table. Every method acquires the global
// filesystem lock before touching the directory or inode layers, per
// spec §6's lock-hierarchy position #1.
type API struct {
	mu    sync.Mutex
	store Store
	root  uint32
}

// New creates a syscall surface rooted at root.
func New(store Store, root uint32) *API {
	return &API{store: store, root: root}
}

func (a *API) lock() func() {
	a.mu.Lock()
	return a.mu.Unlock
}

// Create creates a new file named by path, with the given initial size
// in bytes (spec §6 create(path,size)).
func (a *API) Create(p *process.Process, path string, size uint32) error {
	defer a.lock()()
	klog.Tracef("kernelapi: create %s size=%d", path, size)
	_, err := pathresolve.Traverse(a.store, a.root, p.Cwd(), path, pathresolve.CreateFile, size)
	return err
}

// Mkdir creates a new directory named by path.
func (a *API) Mkdir(p *process.Process, path string) error {
	defer a.lock()()
	klog.Tracef("kernelapi: mkdir %s", path)
	_, err := pathresolve.Traverse(a.store, a.root, p.Cwd(), path, pathresolve.MakeDir, 0)
	return err
}

// Open resolves path and returns a file descriptor for it in p.
func (a *API) Open(p *process.Process, path string) (int, error) {
	defer a.lock()()
	klog.Tracef("kernelapi: open %s", path)
	res, err := pathresolve.Traverse(a.store, a.root, p.Cwd(), path, pathresolve.Lookup, 0)
	if err != nil {
		return 0, err
	}
	ino, err := a.store.Open(res.Sector)
	if err != nil {
		return 0, err
	}
	return p.AddHandle(ino), nil
}

// Close closes fd in p.
func (a *API) Close(p *process.Process, fd int) error {
	defer a.lock()()
	return p.CloseHandle(fd)
}

// Read reads up to len(buf) bytes from fd at its current cursor.
func (a *API) Read(p *process.Process, fd int, buf []byte) (int, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return 0, err
	}
	return h.Read(buf)
}

// Write writes buf to fd at its current cursor.
func (a *API) Write(p *process.Process, fd int, buf []byte) (int, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return 0, err
	}
	return h.Write(buf)
}

// Seek moves fd's cursor to pos.
func (a *API) Seek(p *process.Process, fd int, pos uint32) error {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return err
	}
	h.Seek(pos)
	return nil
}

// Tell returns fd's current cursor position.
func (a *API) Tell(p *process.Process, fd int) (uint32, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return 0, err
	}
	return h.Tell(), nil
}

// Remove unlinks path: the directory entry is removed immediately, but
// the target inode's sectors are only released once every open handle to
// it is closed (spec §4.4's deferred release).
func (a *API) Remove(p *process.Process, path string) error {
	defer a.lock()()
	res, err := pathresolve.Traverse(a.store, a.root, p.Cwd(), path, pathresolve.Lookup, 0)
	if err != nil {
		return err
	}

	parentSector, name, err := splitParent(a.store, a.root, p.Cwd(), path)
	if err != nil {
		return err
	}
	parentIno, err := a.store.Open(parentSector)
	if err != nil {
		return err
	}
	defer parentIno.Close()
	dir, err := directory.Open(parentIno)
	if err != nil {
		return err
	}

	target, err := a.store.Open(res.Sector)
	if err != nil {
		return err
	}
	if isDir, err := target.IsDir(); err != nil {
		target.Close()
		return err
	} else if isDir {
		targetDir, err := directory.Open(target)
		if err != nil {
			target.Close()
			return err
		}
		empty, err := targetDir.IsEmpty()
		if err != nil {
			target.Close()
			return err
		}
		if !empty {
			target.Close()
			return fmt.Errorf("kernelapi: directory %q is not empty", path)
		}
	}

	if err := dir.Remove(name); err != nil {
		target.Close()
		return err
	}
	target.MarkRemoved()
	return target.Close()
}

// Chdir changes p's current working directory.
func (a *API) Chdir(p *process.Process, path string) error {
	defer a.lock()()
	res, err := pathresolve.Traverse(a.store, a.root, p.Cwd(), path, pathresolve.Lookup, 0)
	if err != nil {
		return err
	}
	p.SetCwd(res.Sector)
	return nil
}

// Readdir lists the entries of the directory open as fd.
func (a *API) Readdir(p *process.Process, fd int) ([]directory.Entry, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return nil, err
	}
	dir, err := directory.Open(h.Ino)
	if err != nil {
		return nil, err
	}
	return dir.Readdir()
}

// IsDir reports whether fd refers to a directory.
func (a *API) IsDir(p *process.Process, fd int) (bool, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return false, err
	}
	return h.Ino.IsDir()
}

// Inumber returns fd's underlying inode sector, used as its inumber.
func (a *API) Inumber(p *process.Process, fd int) (uint32, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return 0, err
	}
	return h.Ino.Sector(), nil
}

// Mmap maps fd's file into p's address space at addr.
func (a *API) Mmap(p *process.Process, fd int, addr uint32) (uuid.UUID, error) {
	defer a.lock()()
	h, err := p.Handle(fd)
	if err != nil {
		return uuid.Nil, err
	}
	return p.Mmap.Mmap(p.PageTable, h.Ino, h.Ino.Sector(), addr)
}

// Munmap tears down a mapping previously created by Mmap.
func (a *API) Munmap(p *process.Process, id uuid.UUID, dirtyPages map[uint32][]byte) error {
	defer a.lock()()
	return p.Mmap.Munmap(p.PageTable, id, dirtyPages)
}

// splitParent resolves every component of path except the last and
// returns the parent directory's sector along with the final component's
// name.
func splitParent(store Store, root, cwd uint32, path string) (uint32, string, error) {
	res, err := pathresolve.Traverse(store, root, cwd, parentOf(path), pathresolve.Lookup, 0)
	if err != nil {
		return 0, "", err
	}
	return res.Sector, lastComponent(path), nil
}

func lastComponent(path string) string {
	i := len(path) - 1
	for i > 0 && path[i] == '/' {
		i--
	}
	j := i
	for j > 0 && path[j-1] != '/' {
		j--
	}
	return path[j : i+1]
}

func parentOf(path string) string {
	i := len(path) - 1
	for i > 0 && path[i] == '/' {
		i--
	}
	j := i
	for j > 0 && path[j-1] != '/' {
		j--
	}
	if j == 0 {
		if len(path) > 0 && path[0] == '/' {
			return "/"
		}
		// A relative path with no further slash names the cwd itself.
		return "."
	}
	return path[:j]
}
