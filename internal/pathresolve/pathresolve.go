// Package pathresolve implements path traversal over the directory layer,
// per spec §4.5: a single walk that resolves every component of a path
// against nested directories, handling both absolute and cwd-relative
// paths and a small set of terminal actions (look up the final
// component, create a file there, or create a directory there).
package pathresolve

import (
	"fmt"
	"strings"

	"github.com/eduos/corekernel/internal/directory"
	"github.com/eduos/corekernel/internal/inode"
)

// Action selects what Traverse does with the final path component once
// its containing directory has been resolved.
type Action int

const (
	// Lookup resolves the final component and returns its inode sector.
	Lookup Action = iota
	// CreateFile creates a new file inode named by the final component.
	CreateFile
	// MakeDir creates a new directory inode named by the final component.
	MakeDir
)

// Opener opens an inode by sector number; it is satisfied by
// *inode.Store in production and by a fake in tests. length is the
// initial file size a CreateFile action allocates, per spec §4.3/§4.5.
type Opener interface {
	Open(sector uint32) (*inode.Inode, error)
	Create(isDir bool, parent uint32, length uint32) (*inode.Inode, error)
}

// Result is what Traverse resolved.
type Result struct {
	// Sector is the resolved inode's sector.
	Sector uint32
	// TrailingSlash records whether the path ended in "/", which the
	// caller needs to reject a file lookup ("open foo/" must fail if foo
	// is not a directory).
	TrailingSlash bool
}

// Traverse walks path starting from root (an absolute path) or cwd (a
// relative one), applying action to the final component. aux carries the
// action's parameter: for CreateFile, the new file's initial length in
// bytes (spec §4.5); it is ignored by every other action.
func Traverse(opener Opener, root, cwd uint32, path string, action Action, aux uint32) (Result, error) {
	if path == "" {
		return Result{}, fmt.Errorf("pathresolve: empty path")
	}

	trailingSlash := strings.HasSuffix(path, "/") && path != "/"
	start := cwd
	if strings.HasPrefix(path, "/") {
		start = root
	}

	parts := splitPath(path)
	if len(parts) == 0 {
		// "/" or "" after trimming: the path names the start directory
		// itself.
		return Result{Sector: start, TrailingSlash: true}, nil
	}

	current := start
	for i, part := range parts {
		last := i == len(parts)-1

		curIno, err := opener.Open(current)
		if err != nil {
			return Result{}, err
		}
		dir, err := directory.Open(curIno)
		if err != nil {
			curIno.Close()
			return Result{}, fmt.Errorf("pathresolve: %q is not a directory: %w", part, err)
		}

		if !last {
			entry, ok, err := dir.Lookup(part)
			curIno.Close()
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return Result{}, fmt.Errorf("pathresolve: %q not found", part)
			}
			current = entry.Sector
			continue
		}

		// Final component: apply action.
		entry, ok, err := dir.Lookup(part)
		if err != nil {
			curIno.Close()
			return Result{}, err
		}

		switch action {
		case Lookup:
			curIno.Close()
			if !ok {
				return Result{}, fmt.Errorf("pathresolve: %q not found", part)
			}
			return Result{Sector: entry.Sector, TrailingSlash: trailingSlash}, nil

		case CreateFile:
			if ok {
				curIno.Close()
				return Result{}, fmt.Errorf("pathresolve: %q already exists", part)
			}
			newIno, err := opener.Create(false, current, aux)
			if err != nil {
				curIno.Close()
				return Result{}, err
			}
			sector := newIno.Sector()
			newIno.Close()
			if err := dir.Add(part, sector); err != nil {
				curIno.Close()
				return Result{}, err
			}
			curIno.Close()
			return Result{Sector: sector}, nil

		case MakeDir:
			if ok {
				curIno.Close()
				return Result{}, fmt.Errorf("pathresolve: %q already exists", part)
			}
			newIno, err := opener.Create(true, current, 0)
			if err != nil {
				curIno.Close()
				return Result{}, err
			}
			sector := newIno.Sector()
			newIno.Close()
			if err := dir.Add(part, sector); err != nil {
				curIno.Close()
				return Result{}, err
			}
			curIno.Close()
			return Result{Sector: sector}, nil

		default:
			curIno.Close()
			return Result{}, fmt.Errorf("pathresolve: unknown action %d", action)
		}
	}

	return Result{}, fmt.Errorf("pathresolve: unreachable")
}

func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
